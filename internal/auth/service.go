package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"

	"fxreversal/internal/store"
)

// Service handles operator authentication against the Postgres-backed
// operator/session tables.
type Service struct {
	repo            *store.Repository
	jwtManager      *JWTManager
	passwordManager *PasswordManager
	config          Config
}

// NewService creates a new authentication service.
func NewService(repo *store.Repository, config Config) *Service {
	if config.JWTSecret == "" {
		log.Fatal("JWT secret is required")
	}
	if config.AccessTokenDuration == 0 {
		config.AccessTokenDuration = 15 * time.Minute
	}
	if config.RefreshTokenDuration == 0 {
		config.RefreshTokenDuration = 7 * 24 * time.Hour
	}

	return &Service{
		repo:            repo,
		jwtManager:      NewJWTManager(config.JWTSecret, config.AccessTokenDuration, config.RefreshTokenDuration),
		passwordManager: NewPasswordManager(DefaultBcryptCost, config.MinPasswordLength),
		config:          config,
	}
}

// GetJWTManager returns the JWT manager for use in middleware.
func (s *Service) GetJWTManager() *JWTManager {
	return s.jwtManager
}

// Register creates a new operator account.
func (s *Service) Register(ctx context.Context, req RegisterRequest, isAdmin bool) (*store.Operator, error) {
	if _, err := s.repo.GetOperatorByUsername(ctx, req.Username); err == nil {
		return nil, ErrUsernameExists
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}

	if err := s.passwordManager.ValidatePasswordStrength(req.Password); err != nil {
		return nil, AuthError{Code: "WEAK_PASSWORD", Message: err.Error()}
	}

	passwordHash, err := s.passwordManager.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	return s.repo.CreateOperator(ctx, req.Username, passwordHash, isAdmin)
}

// Login authenticates an operator and returns an access/refresh token pair.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	op, err := s.repo.GetOperatorByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up operator: %w", err)
	}

	if !s.passwordManager.VerifyPassword(req.Password, op.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	claims := UserClaims{UserID: op.ID, Username: op.Username, IsAdmin: op.IsAdmin}
	tokenPair, err := s.jwtManager.GenerateTokenPair(claims)
	if err != nil {
		return nil, fmt.Errorf("failed to generate tokens: %w", err)
	}

	expiresAt := time.Now().Add(s.jwtManager.GetRefreshTokenDuration())
	if err := s.repo.CreateOperatorSession(ctx, op.ID, HashRefreshToken(tokenPair.RefreshToken), expiresAt); err != nil {
		log.Printf("auth: failed to persist session for operator %s: %v", op.ID, err)
	}
	if err := s.repo.UpdateOperatorLastLogin(ctx, op.ID); err != nil {
		log.Printf("auth: failed to update last login for operator %s: %v", op.ID, err)
	}

	return &LoginResponse{
		Operator: OperatorResponse{
			ID:          op.ID,
			Username:    op.Username,
			IsAdmin:     op.IsAdmin,
			CreatedAt:   op.CreatedAt,
			LastLoginAt: op.LastLoginAt,
		},
		AccessToken:  tokenPair.AccessToken,
		RefreshToken: tokenPair.RefreshToken,
		ExpiresIn:    tokenPair.ExpiresIn,
	}, nil
}

// RefreshTokens rotates a refresh token for a new access/refresh pair.
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	tokenHash := HashRefreshToken(refreshToken)

	session, err := s.repo.GetOperatorSessionByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if session.ExpiresAt.Before(time.Now()) {
		return nil, ErrTokenExpired
	}
	if session.RevokedAt != nil {
		return nil, ErrSessionRevoked
	}

	op, err := s.repo.GetOperatorByID(ctx, session.OperatorID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	claims := UserClaims{UserID: op.ID, Username: op.Username, IsAdmin: op.IsAdmin}
	tokenPair, err := s.jwtManager.GenerateTokenPair(claims)
	if err != nil {
		return nil, fmt.Errorf("failed to generate tokens: %w", err)
	}

	if err := s.repo.RevokeOperatorSession(ctx, session.ID); err != nil {
		log.Printf("auth: failed to revoke old session: %v", err)
	}
	expiresAt := time.Now().Add(s.jwtManager.GetRefreshTokenDuration())
	if err := s.repo.CreateOperatorSession(ctx, op.ID, HashRefreshToken(tokenPair.RefreshToken), expiresAt); err != nil {
		return nil, fmt.Errorf("failed to create new session: %w", err)
	}

	return &RefreshResponse{
		AccessToken:  tokenPair.AccessToken,
		RefreshToken: tokenPair.RefreshToken,
		ExpiresIn:    tokenPair.ExpiresIn,
	}, nil
}

// Logout revokes a single refresh-token session.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	session, err := s.repo.GetOperatorSessionByTokenHash(ctx, HashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("failed to look up session: %w", err)
	}
	return s.repo.RevokeOperatorSession(ctx, session.ID)
}

// LogoutAll revokes every session for an operator.
func (s *Service) LogoutAll(ctx context.Context, operatorID string) error {
	return s.repo.RevokeAllOperatorSessions(ctx, operatorID)
}

// ChangePassword verifies the current password and replaces it,
// revoking all existing sessions to force re-login.
func (s *Service) ChangePassword(ctx context.Context, operatorID, currentPassword, newPassword string) error {
	op, err := s.repo.GetOperatorByID(ctx, operatorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to look up operator: %w", err)
	}

	if !s.passwordManager.VerifyPassword(currentPassword, op.PasswordHash) {
		return ErrInvalidCredentials
	}
	if err := s.passwordManager.ValidatePasswordStrength(newPassword); err != nil {
		return AuthError{Code: "WEAK_PASSWORD", Message: err.Error()}
	}

	newHash, err := s.passwordManager.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.repo.UpdateOperatorPassword(ctx, operatorID, newHash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if err := s.repo.RevokeAllOperatorSessions(ctx, operatorID); err != nil {
		log.Printf("auth: failed to revoke sessions after password change: %v", err)
	}
	return nil
}

// GenerateVerificationToken issues a short-lived purpose-scoped token.
// No route in this package issues or consumes one.
func (s *Service) GenerateVerificationToken(operatorID, purpose string, duration time.Duration) (string, error) {
	return s.jwtManager.GenerateVerificationToken(operatorID, purpose, duration)
}
