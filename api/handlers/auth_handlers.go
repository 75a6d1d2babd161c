package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/config"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/auth"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/bootstrap"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/rbac"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/store"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

type AuthHandler struct {
	cfg            *config.AppConfig
	users          store.UsersStore
	sessions       store.SessionStore
	sessionManager *auth.SessionManager
	policy         *rbac.Policy
	audits         store.AuditStore
	logger         *utils.Logger
}

func NewAuthHandler(cfg *config.AppConfig, users store.UsersStore, sessions store.SessionStore, sm *auth.SessionManager, policy *rbac.Policy, audits store.AuditStore, logger *utils.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, users: users, sessions: sessions, sessionManager: sm, policy: policy, audits: audits, logger: logger}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	// Safety net: always ensure default admin exists before processing logins.
	if err := bootstrap.EnsureDefaultAdminWithStore(r.Context(), h.users, h.cfg, h.logger); err != nil && h.logger != nil {
		h.logger.Errorf("ensure default admin: %v", err)
	}
	lang := preferredLang(r)
	var cred auth.Credentials
	if err := decodeJSON(r, &cred); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	cred.Username = strings.ToLower(strings.TrimSpace(cred.Username))
	if err := utils.ValidateUsername(cred.Username); err != nil {
		http.Error(w, "invalid username", http.StatusBadRequest)
		return
	}
	user, roles, err := h.users.FindByUsername(r.Context(), cred.Username)
	if err != nil || user == nil || !user.Active {
		h.audits.Log(r.Context(), cred.Username, "auth.login_failed", "user missing or inactive")
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	now := time.Now().UTC()
	if isPermanentLock(user) {
		h.audits.Log(r.Context(), cred.Username, "auth.login_blocked", "permanent")
		http.Error(w, localized(lang, "auth.lockedPermanent"), http.StatusForbidden)
		return
	}
	if user.LockedUntil != nil && now.Before(*user.LockedUntil) {
		msg := localizedUntil(lang, *user.LockedUntil)
		h.audits.Log(r.Context(), cred.Username, "auth.login_blocked", msg)
		http.Error(w, msg, http.StatusForbidden)
		return
	}
	singleAttempt := user.LockStage >= 1
	if user.LockedUntil != nil && now.After(*user.LockedUntil) {
		user.LockedUntil = nil
		user.FailedAttempts = 0
	}
	ph, _ := auth.ParsePasswordHash(user.PasswordHash, user.Salt)
	ok, err := auth.VerifyPassword(cred.Password, h.cfg.Pepper, ph)
	if err != nil || !ok {
		user.LastFailedAt = &now
		if user.LockStage == 0 && !singleAttempt {
			user.FailedAttempts++
			if user.FailedAttempts >= 5 {
				applyLockout(user, 1, now, "auto")
				h.audits.Log(r.Context(), cred.Username, "auth.lockout", "stage=1 dur=1h")
				_ = h.users.Update(r.Context(), user, nil)
				msg := localizedUntil(lang, *user.LockedUntil)
				http.Error(w, msg, http.StatusForbidden)
				return
			}
			if user.FailedAttempts == 4 {
				_ = h.users.Update(r.Context(), user, nil)
				http.Error(w, localized(lang, "auth.lockoutSoon"), http.StatusUnauthorized)
				return
			}
			_ = h.users.Update(r.Context(), user, nil)
		} else {
			nextStage := user.LockStage + 1
			if nextStage > 6 {
				nextStage = 6
			}
			applyLockout(user, nextStage, now, "auto")
			h.audits.Log(r.Context(), cred.Username, "auth.lockout", "stage="+strconv.Itoa(nextStage))
			_ = h.users.Update(r.Context(), user, nil)
			if isPermanentLock(user) {
				http.Error(w, localized(lang, "auth.lockedPermanent"), http.StatusForbidden)
				return
			}
			msg := localizedUntil(lang, *user.LockedUntil)
			http.Error(w, msg, http.StatusForbidden)
			return
		}
		h.audits.Log(r.Context(), cred.Username, "auth.login_failed", "invalid password")
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	sess, err := h.sessionManager.Create(r.Context(), user, roles, clientIP(r, h.cfg), r.UserAgent())
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("auth login session create failed for %s: %v", cred.Username, err)
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	user.LastLoginAt = &now
	user.FailedAttempts = 0
	user.LockedUntil = nil
	user.LockReason = ""
	user.LockStage = 0
	user.LastFailedAt = nil
	_ = h.users.Update(r.Context(), user, nil)
	h.audits.Log(r.Context(), user.Username, "auth.login_success", "")
	h.setSessionCookies(w, r, sess)
	companies, _ := h.users.UserCompanies(r.Context(), user.ID)
	eff := auth.CalculateEffectiveAccess(user, roles, companies, h.policy)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":       userDTO(user, roles, eff),
		"csrf_token": sess.CSRFToken,
		"session":    sess,
	})
}

func (h *AuthHandler) setSessionCookies(w http.ResponseWriter, r *http.Request, sess *auth.Session) {
	cookieSecure := isSecureRequest(r, h.cfg)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   cookieSecure,
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.ExpiresAt,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    sess.CSRFToken,
		Path:     "/",
		HttpOnly: false,
		Secure:   cookieSecure,
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.ExpiresAt,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(SessionCookieName)
	actor := currentUser(r)
	if err == nil && cookie.Value != "" {
		_ = h.sessions.DeleteSession(r.Context(), cookie.Value, actor)
	}
	cookieSecure := isSecureRequest(r, h.cfg)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	h.audits.Log(r.Context(), actor, "auth.logout", "")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AuthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	sr := sessionFromCtx(r)
	if sr == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	_ = h.sessionManager.Refresh(r.Context(), sr.ID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "last_seen_at": time.Now().UTC()})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sr := sessionFromCtx(r)
	if sr == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	user, roles, err := h.users.FindByUsername(r.Context(), sr.Username)
	if err != nil || user == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	companies, _ := h.users.UserCompanies(r.Context(), user.ID)
	eff := auth.CalculateEffectiveAccess(user, roles, companies, h.policy)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":       userDTO(user, roles, eff),
		"csrf_token": sr.CSRFToken,
	})
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	sr := sessionFromCtx(r)
	if sr == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var payload struct {
		Current  string `json:"current_password"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	user, _, err := h.users.Get(r.Context(), sr.UserID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err := utils.ValidatePassword(payload.Password); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if user.PasswordSet {
		phCurrent, _ := auth.ParsePasswordHash(user.PasswordHash, user.Salt)
		ok, _ := auth.VerifyPassword(payload.Current, h.cfg.Pepper, phCurrent)
		if !ok {
			http.Error(w, localized(preferredLang(r), "accounts.currentPasswordInvalid"), http.StatusBadRequest)
			return
		}
	}
	history, _ := h.users.PasswordHistory(r.Context(), sr.UserID, 10)
	if isPasswordReused(payload.Password, h.cfg.Pepper, user, history) {
		h.audits.Log(r.Context(), sr.Username, "auth.password_reuse_denied", "")
		http.Error(w, localized(preferredLang(r), "accounts.passwordReuseDenied"), http.StatusBadRequest)
		return
	}
	ph, err := auth.HashPassword(payload.Password, h.cfg.Pepper)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if err := h.users.UpdatePassword(r.Context(), sr.UserID, ph.Hash, ph.Salt, false); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.audits.Log(r.Context(), sr.Username, "auth.password_changed", "")
	// the old session dies with the old credential
	if sess, err := h.sessionManager.Rotate(r.Context(), sr.ID); err == nil {
		h.setSessionCookies(w, r, sess)
	} else if h.logger != nil {
		h.logger.Errorf("rotación de sesión tras cambio de clave: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func userDTO(user *store.User, roles []string, eff store.EffectiveAccess) auth.UserDTO {
	return auth.UserDTO{
		ID:                    user.ID,
		Username:              user.Username,
		FullName:              user.FullName,
		Email:                 user.Email,
		Roles:                 roles,
		Active:                user.Active,
		PasswordSet:           user.PasswordSet,
		RequirePasswordChange: user.RequirePasswordChange,
		PasswordChangedAt:     user.PasswordChangedAt,
		Permissions:           eff.Permissions,
		Companies:             eff.Companies,
	}
}

func isPasswordReused(password, pepper string, user *store.User, history []store.PasswordRecord) bool {
	if user.PasswordSet {
		if ph, err := auth.ParsePasswordHash(user.PasswordHash, user.Salt); err == nil {
			if ok, _ := auth.VerifyPassword(password, pepper, ph); ok {
				return true
			}
		}
	}
	for _, rec := range history {
		ph, err := auth.ParsePasswordHash(rec.Hash, rec.Salt)
		if err != nil {
			continue
		}
		if ok, _ := auth.VerifyPassword(password, pepper, ph); ok {
			return true
		}
	}
	return false
}

func lockDuration(stage int) time.Duration {
	switch stage {
	case 1:
		return time.Hour
	case 2:
		return 3 * time.Hour
	case 3:
		return 6 * time.Hour
	case 4:
		return 12 * time.Hour
	case 5:
		return 24 * time.Hour
	default:
		return 0
	}
}

func applyLockout(user *store.User, stage int, now time.Time, reason string) {
	user.LockStage = stage
	user.FailedAttempts = 0
	if stage >= 6 {
		user.LockedUntil = nil
		user.LockReason = reason
		return
	}
	dur := lockDuration(stage)
	if dur <= 0 {
		return
	}
	until := now.Add(dur)
	user.LockedUntil = &until
	user.LockReason = reason
}

func isPermanentLock(user *store.User) bool {
	return user != nil && user.LockStage >= 6 && (user.LockedUntil == nil || time.Now().UTC().Before(*user.LockedUntil))
}

func preferredLang(r *http.Request) string {
	al := r.Header.Get("Accept-Language")
	if strings.HasPrefix(strings.ToLower(al), "en") {
		return "en"
	}
	return "es"
}

func localized(lang, key string) string {
	es := map[string]string{
		"auth.lockoutSoon":                 "Su cuenta será bloqueada por 1 hora.",
		"auth.lockedPermanent":             "Cuenta bloqueada. Contacte al administrador.",
		"accounts.passwordReuseDenied":     "La clave fue usada recientemente. Elija otra.",
		"accounts.currentPasswordInvalid":  "La clave actual no es válida",
		"accounts.selfLockoutPrevented":    "Operación bloqueada: perdería su propio acceso",
		"accounts.lastSuperadminProtected": "No se puede deshabilitar al último superadmin",
		"accounts.roleSystemProtected":     "Los roles del sistema no se pueden modificar ni eliminar",
		"accounts.roleExists":              "Ya existe un rol con ese nombre",
	}
	en := map[string]string{
		"auth.lockoutSoon":                 "Your account will be locked for 1 hour.",
		"auth.lockedPermanent":             "Account is locked. Contact administrator.",
		"accounts.passwordReuseDenied":     "Password was used recently. Choose a new one.",
		"accounts.currentPasswordInvalid":  "Current password is invalid",
		"accounts.selfLockoutPrevented":    "Operation blocked to avoid self-lockout",
		"accounts.lastSuperadminProtected": "Cannot disable the last superadmin",
		"accounts.roleSystemProtected":     "System role cannot be modified or deleted",
		"accounts.roleExists":              "Role name already in use",
	}
	if lang == "en" {
		if msg, ok := en[key]; ok {
			return msg
		}
	}
	if msg, ok := es[key]; ok {
		return msg
	}
	return key
}

func localizedUntil(lang string, until time.Time) string {
	stamp := until.UTC().Format("2006-01-02 15:04")
	if lang == "en" {
		return "Account locked until " + stamp
	}
	return "Cuenta bloqueada hasta " + stamp
}
