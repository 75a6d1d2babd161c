// Package bootstrap creates the accounts a fresh install needs before anyone
// can log in.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/config"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/auth"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/store"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

const (
	DefaultAdminUsername = "admin"
	// Initial credential for first boot. The account is created with a
	// forced password change, so this value only works once.
	defaultAdminPassword = "admin"
)

// EnsureDefaultAdminWithStore creates the fallback admin account when the
// users table has none, so an operator can always reach a fresh or wiped
// deployment. Existing accounts are never touched: a deliberately disabled
// admin stays disabled.
func EnsureDefaultAdminWithStore(ctx context.Context, users store.UsersStore, cfg *config.AppConfig, logger *utils.Logger) error {
	if users == nil {
		return fmt.Errorf("bootstrap: nil users store")
	}
	existing, _, err := users.FindByUsername(ctx, DefaultAdminUsername)
	if err != nil {
		return fmt.Errorf("bootstrap: find admin: %w", err)
	}
	if existing != nil {
		return nil
	}
	pepper := ""
	if cfg != nil {
		pepper = cfg.Pepper
	}
	ph, err := auth.HashPassword(defaultAdminPassword, pepper)
	if err != nil {
		return fmt.Errorf("bootstrap: hash admin password: %w", err)
	}
	admin := &store.User{
		Username:              DefaultAdminUsername,
		FullName:              "Administrador de Plataforma",
		PasswordHash:          ph.Hash,
		Salt:                  ph.Salt,
		PasswordSet:           true,
		RequirePasswordChange: true,
		Active:                true,
	}
	if _, err := users.Create(ctx, admin, []string{"superadmin"}); err != nil {
		// Two logins can race here; the loser sees the unique violation.
		again, _, findErr := users.FindByUsername(ctx, DefaultAdminUsername)
		if findErr == nil && again != nil {
			return nil
		}
		return fmt.Errorf("bootstrap: create admin: %w", err)
	}
	if logger != nil {
		logger.Printf("cuenta admin creada con credenciales iniciales; se exigirá cambio de clave al ingresar")
	}
	return nil
}
