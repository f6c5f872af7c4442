package auth

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"fxreversal/internal/store"
)

const (
	// DefaultAdminUsername is the operator account seeded at startup
	// when no operators exist yet. Override ADMIN_PASSWORD in
	// production; this default is for local/dev use only.
	DefaultAdminUsername = "admin"
	DefaultAdminPassword = "fxreversal-admin-change-me"
	adminBcryptCost      = 12
)

// SeedAdminOperator ensures an admin operator account exists, creating
// it with DefaultAdminUsername/DefaultAdminPassword (or the ADMIN_PASSWORD
// override, applied by the caller before calling this) if missing.
// It never overwrites an existing operator's password.
func SeedAdminOperator(ctx context.Context, repo *store.Repository, password string) error {
	if password == "" {
		password = DefaultAdminPassword
	}

	_, err := repo.GetOperatorByUsername(ctx, DefaultAdminUsername)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to check for admin operator: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), adminBcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	log.Printf("auth: admin operator not found, creating %q", DefaultAdminUsername)
	if _, err := repo.CreateOperator(ctx, DefaultAdminUsername, string(hash), true); err != nil {
		return fmt.Errorf("failed to create admin operator: %w", err)
	}
	log.Printf("auth: admin operator created")
	return nil
}
