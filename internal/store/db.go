// Package store persists model version metadata and experiment
// snapshots in PostgreSQL, grounded on the teacher's
// internal/database.DB connection-pool setup and
// internal/database.Repository's typed query style.
package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"fxreversal/config"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB creates a new database connection pool from the DSN-style
// PostgresConfig.
func NewDB(cfg config.PostgresConfig) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	if cfg.PoolMax > 0 {
		poolConfig.MaxConns = int32(cfg.PoolMax)
	}
	if cfg.Password != "" {
		poolConfig.ConnConfig.Password = cfg.Password
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Printf("[STORE] connected to PostgreSQL")
	return &DB{Pool: pool}, nil
}

func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("[STORE] connection closed")
	}
}

// RunMigrations creates the tables this service owns. Schema
// evolution here is intentionally additive (CREATE TABLE IF NOT
// EXISTS), matching the teacher's migration style of a sequential
// list of idempotent statements run at startup.
func (db *DB) RunMigrations(ctx context.Context) error {
	log.Println("[STORE] running migrations...")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS model_versions (
			version_id       TEXT PRIMARY KEY,
			display_name     TEXT NOT NULL,
			description      TEXT NOT NULL DEFAULT '',
			stage1_path      TEXT NOT NULL,
			stage2_path      TEXT NOT NULL DEFAULT '',
			scaler_path      TEXT NOT NULL,
			features_path    TEXT NOT NULL,
			metadata_path    TEXT NOT NULL DEFAULT '',
			stage1_threshold DOUBLE PRECISION NOT NULL,
			is_active        BOOLEAN NOT NULL DEFAULT FALSE,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS experiments (
			experiment_id TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			variants      JSONB NOT NULL,
			active        BOOLEAN NOT NULL DEFAULT FALSE,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			stopped_at    TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS experiment_snapshots (
			id            BIGSERIAL PRIMARY KEY,
			experiment_id TEXT NOT NULL REFERENCES experiments(experiment_id),
			snapshot      JSONB NOT NULL,
			taken_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS prediction_log (
			id            BIGSERIAL PRIMARY KEY,
			version_id    TEXT NOT NULL,
			signal        TEXT NOT NULL,
			confidence    DOUBLE PRECISION NOT NULL,
			stage1_prob   DOUBLE PRECISION NOT NULL,
			stage2_prob   DOUBLE PRECISION,
			requested_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS operators (
			id             TEXT PRIMARY KEY,
			username       TEXT UNIQUE NOT NULL,
			password_hash  TEXT NOT NULL,
			is_admin       BOOLEAN NOT NULL DEFAULT FALSE,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_login_at  TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS operator_sessions (
			id                  BIGSERIAL PRIMARY KEY,
			operator_id         TEXT NOT NULL REFERENCES operators(id),
			refresh_token_hash  TEXT NOT NULL,
			expires_at          TIMESTAMPTZ NOT NULL,
			revoked_at          TIMESTAMPTZ,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Println("[STORE] migrations complete")
	return nil
}
