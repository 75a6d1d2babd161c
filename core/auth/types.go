package auth

import (
	"time"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/rbac"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/store"
)

type contextKey string

// SessionContextKey carries the authenticated *store.SessionRecord through
// the request context.
const SessionContextKey contextKey = "session"

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Session struct {
	ID         string    `json:"id"`
	UserID     int64     `json:"user_id"`
	Username   string    `json:"username"`
	Roles      []string  `json:"roles"`
	IP         string    `json:"ip"`
	UserAgent  string    `json:"user_agent"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	CSRFToken  string    `json:"-"`
}

type UserDTO struct {
	ID                    int64              `json:"id"`
	Username              string             `json:"username"`
	FullName              string             `json:"full_name,omitempty"`
	Email                 string             `json:"email,omitempty"`
	Roles                 []string           `json:"roles"`
	Active                bool               `json:"active"`
	PasswordSet           bool               `json:"password_set"`
	RequirePasswordChange bool               `json:"require_password_change"`
	PasswordChangedAt     *time.Time         `json:"password_changed_at,omitempty"`
	Permissions           []string           `json:"permissions"`
	Companies             []store.CompanyRef `json:"empresas"`
}

// CalculateEffectiveAccess resolves the flat permission list and the company
// scope a session operates under.
func CalculateEffectiveAccess(user *store.User, roles []string, companies []store.CompanyRef, policy *rbac.Policy) store.EffectiveAccess {
	eff := store.EffectiveAccess{Companies: companies}
	if user == nil || !user.Active {
		eff.Permissions = []string{}
		return eff
	}
	eff.Permissions = policy.PermissionsFor(roles)
	if eff.Permissions == nil {
		eff.Permissions = []string{}
	}
	return eff
}
