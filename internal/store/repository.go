package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository provides typed data access methods over the store's
// tables, following the teacher's Repository-wraps-DB convention.
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ModelVersionRow is the persisted form of a registry.Version definition.
type ModelVersionRow struct {
	VersionID       string
	DisplayName     string
	Description     string
	Stage1Path      string
	Stage2Path      string
	ScalerPath      string
	FeaturesPath    string
	MetadataPath    string
	Stage1Threshold float64
	IsActive        bool
	CreatedAt       time.Time
}

// UpsertModelVersion inserts or updates a version's artefact paths.
func (r *Repository) UpsertModelVersion(ctx context.Context, v *ModelVersionRow) error {
	query := `
		INSERT INTO model_versions (version_id, display_name, description, stage1_path, stage2_path,
			scaler_path, features_path, metadata_path, stage1_threshold, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (version_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			description = EXCLUDED.description,
			stage1_path = EXCLUDED.stage1_path,
			stage2_path = EXCLUDED.stage2_path,
			scaler_path = EXCLUDED.scaler_path,
			features_path = EXCLUDED.features_path,
			metadata_path = EXCLUDED.metadata_path,
			stage1_threshold = EXCLUDED.stage1_threshold
	`
	_, err := r.db.Pool.Exec(ctx, query,
		v.VersionID, v.DisplayName, v.Description, v.Stage1Path, v.Stage2Path,
		v.ScalerPath, v.FeaturesPath, v.MetadataPath, v.Stage1Threshold, v.IsActive,
	)
	return err
}

// SetActiveModelVersion atomically flips the active flag, matching
// the registry's in-memory Switch semantics in the persisted record.
func (r *Repository) SetActiveModelVersion(ctx context.Context, versionID string) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE model_versions SET is_active = FALSE WHERE is_active = TRUE`); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE model_versions SET is_active = TRUE WHERE version_id = $1`, versionID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListModelVersions returns every persisted version definition.
func (r *Repository) ListModelVersions(ctx context.Context) ([]*ModelVersionRow, error) {
	query := `
		SELECT version_id, display_name, description, stage1_path, stage2_path,
		       scaler_path, features_path, metadata_path, stage1_threshold, is_active, created_at
		FROM model_versions
		ORDER BY version_id DESC
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ModelVersionRow
	for rows.Next() {
		v := &ModelVersionRow{}
		if err := rows.Scan(&v.VersionID, &v.DisplayName, &v.Description, &v.Stage1Path, &v.Stage2Path,
			&v.ScalerPath, &v.FeaturesPath, &v.MetadataPath, &v.Stage1Threshold, &v.IsActive, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// CreateExperiment persists a new experiment definition.
func (r *Repository) CreateExperiment(ctx context.Context, experimentID, name string, variants interface{}) error {
	data, err := json.Marshal(variants)
	if err != nil {
		return err
	}
	query := `INSERT INTO experiments (experiment_id, name, variants) VALUES ($1, $2, $3)`
	_, err = r.db.Pool.Exec(ctx, query, experimentID, name, data)
	return err
}

// ActivateExperiment marks one experiment active, deactivating any
// other (at most one active experiment at a time, per framework rule).
func (r *Repository) ActivateExperiment(ctx context.Context, experimentID string) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE experiments SET active = FALSE WHERE active = TRUE`); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE experiments SET active = TRUE WHERE experiment_id = $1`, experimentID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// StopExperiment deactivates an experiment and stamps its stop time.
func (r *Repository) StopExperiment(ctx context.Context, experimentID string) error {
	query := `UPDATE experiments SET active = FALSE, stopped_at = now() WHERE experiment_id = $1`
	_, err := r.db.Pool.Exec(ctx, query, experimentID)
	return err
}

// SaveExperimentSnapshot appends a point-in-time metrics snapshot.
func (r *Repository) SaveExperimentSnapshot(ctx context.Context, experimentID string, snapshot interface{}) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	query := `INSERT INTO experiment_snapshots (experiment_id, snapshot) VALUES ($1, $2)`
	_, err = r.db.Pool.Exec(ctx, query, experimentID, data)
	return err
}

// LatestExperimentSnapshot returns the most recent snapshot payload
// for an experiment, or pgx.ErrNoRows if none exist yet.
func (r *Repository) LatestExperimentSnapshot(ctx context.Context, experimentID string, dest interface{}) error {
	query := `
		SELECT snapshot FROM experiment_snapshots
		WHERE experiment_id = $1
		ORDER BY taken_at DESC
		LIMIT 1
	`
	var data []byte
	if err := r.db.Pool.QueryRow(ctx, query, experimentID).Scan(&data); err != nil {
		if err == pgx.ErrNoRows {
			return err
		}
		return err
	}
	return json.Unmarshal(data, dest)
}

// LogPrediction appends one served prediction to the audit log.
func (r *Repository) LogPrediction(ctx context.Context, versionID, signal string, confidence, stage1Prob float64, stage2Prob *float64) error {
	query := `
		INSERT INTO prediction_log (version_id, signal, confidence, stage1_prob, stage2_prob)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Pool.Exec(ctx, query, versionID, signal, confidence, stage1Prob, stage2Prob)
	return err
}

// Operator is an account permitted to sign in and obtain a JWT for the
// mutating routes gated by mutatingAuthMiddleware (model switch,
// experiment create/activate/stop).
type Operator struct {
	ID           string
	Username     string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
	LastLoginAt  *time.Time
}

// CreateOperator inserts a new operator account with a fresh UUID.
func (r *Repository) CreateOperator(ctx context.Context, username, passwordHash string, isAdmin bool) (*Operator, error) {
	op := &Operator{ID: uuid.NewString(), Username: username, PasswordHash: passwordHash, IsAdmin: isAdmin}
	query := `INSERT INTO operators (id, username, password_hash, is_admin) VALUES ($1, $2, $3, $4)`
	if _, err := r.db.Pool.Exec(ctx, query, op.ID, op.Username, op.PasswordHash, op.IsAdmin); err != nil {
		return nil, err
	}
	return op, nil
}

// GetOperatorByUsername looks up an operator by username, returning
// pgx.ErrNoRows if none exists.
func (r *Repository) GetOperatorByUsername(ctx context.Context, username string) (*Operator, error) {
	query := `SELECT id, username, password_hash, is_admin, created_at, last_login_at FROM operators WHERE username = $1`
	op := &Operator{}
	err := r.db.Pool.QueryRow(ctx, query, username).Scan(&op.ID, &op.Username, &op.PasswordHash, &op.IsAdmin, &op.CreatedAt, &op.LastLoginAt)
	if err != nil {
		return nil, err
	}
	return op, nil
}

// GetOperatorByID looks up an operator by primary key, returning
// pgx.ErrNoRows if none exists.
func (r *Repository) GetOperatorByID(ctx context.Context, id string) (*Operator, error) {
	query := `SELECT id, username, password_hash, is_admin, created_at, last_login_at FROM operators WHERE id = $1`
	op := &Operator{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(&op.ID, &op.Username, &op.PasswordHash, &op.IsAdmin, &op.CreatedAt, &op.LastLoginAt)
	if err != nil {
		return nil, err
	}
	return op, nil
}

// UpdateOperatorLastLogin stamps the operator's most recent sign-in time.
func (r *Repository) UpdateOperatorLastLogin(ctx context.Context, operatorID string) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE operators SET last_login_at = now() WHERE id = $1`, operatorID)
	return err
}

// UpdateOperatorPassword replaces an operator's password hash.
func (r *Repository) UpdateOperatorPassword(ctx context.Context, operatorID, passwordHash string) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE operators SET password_hash = $1 WHERE id = $2`, passwordHash, operatorID)
	return err
}

// CreateOperatorSession persists a refresh-token session for rotation
// and revocation.
func (r *Repository) CreateOperatorSession(ctx context.Context, operatorID, refreshTokenHash string, expiresAt time.Time) error {
	query := `INSERT INTO operator_sessions (operator_id, refresh_token_hash, expires_at) VALUES ($1, $2, $3)`
	_, err := r.db.Pool.Exec(ctx, query, operatorID, refreshTokenHash, expiresAt)
	return err
}

// OperatorSession is a persisted refresh-token session row.
type OperatorSession struct {
	ID               int64
	OperatorID       string
	RefreshTokenHash string
	ExpiresAt        time.Time
	RevokedAt        *time.Time
}

// GetOperatorSessionByTokenHash looks up a session by its hashed
// refresh token, returning pgx.ErrNoRows if none matches.
func (r *Repository) GetOperatorSessionByTokenHash(ctx context.Context, tokenHash string) (*OperatorSession, error) {
	query := `SELECT id, operator_id, refresh_token_hash, expires_at, revoked_at FROM operator_sessions WHERE refresh_token_hash = $1`
	s := &OperatorSession{}
	err := r.db.Pool.QueryRow(ctx, query, tokenHash).Scan(&s.ID, &s.OperatorID, &s.RefreshTokenHash, &s.ExpiresAt, &s.RevokedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// RevokeOperatorSession marks one session revoked.
func (r *Repository) RevokeOperatorSession(ctx context.Context, sessionID int64) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE operator_sessions SET revoked_at = now() WHERE id = $1`, sessionID)
	return err
}

// RevokeAllOperatorSessions revokes every active session for an operator.
func (r *Repository) RevokeAllOperatorSessions(ctx context.Context, operatorID string) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE operator_sessions SET revoked_at = now() WHERE operator_id = $1 AND revoked_at IS NULL`, operatorID)
	return err
}

// DeleteExpiredOperatorSessions removes sessions past their expiry,
// run periodically to bound table growth.
func (r *Repository) DeleteExpiredOperatorSessions(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM operator_sessions WHERE expires_at < now()`)
	return err
}
