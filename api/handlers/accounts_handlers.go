package handlers

import (
	"context"
	"fmt"
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

type AccountsHandler struct {
	users          store.UsersStore
	roles          store.RolesStore
	sessions       store.SessionStore
	policy         *rbac.Policy
	sessionManager *auth.SessionManager
	cfg            *config.AppConfig
	audits         store.AuditStore
	logger         *utils.Logger
	refreshPolicy  func(context.Context) error
}

func NewAccountsHandler(users store.UsersStore, roles store.RolesStore, sessions store.SessionStore, policy *rbac.Policy, sm *auth.SessionManager, cfg *config.AppConfig, audits store.AuditStore, logger *utils.Logger, refreshPolicy func(context.Context) error) *AccountsHandler {
	return &AccountsHandler{
		users:          users,
		roles:          roles,
		sessions:       sessions,
		policy:         policy,
		sessionManager: sm,
		cfg:            cfg,
		audits:         audits,
		logger:         logger,
		refreshPolicy:  refreshPolicy,
	}
}

// accountView is what the list and detail endpoints return per user: the
// stored record plus the flattened access the session would get.
type accountView struct {
	store.UserWithRoles
	Permissions []string           `json:"permissions"`
	Empresas    []store.CompanyRef `json:"empresas"`
}

type accountPayload struct {
	Username              string   `json:"username"`
	Email                 string   `json:"email"`
	FullName              string   `json:"full_name"`
	Password              string   `json:"password"`
	Role                  string   `json:"role"`
	Roles                 []string `json:"roles"`
	Empresas              []int64  `json:"empresas"`
	Active                *bool    `json:"active"`
	RequirePasswordChange bool     `json:"require_password_change"`
}

func (h *AccountsHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Safety net: make sure default admin exists even if bootstrap was skipped or failed earlier.
	if err := bootstrap.EnsureDefaultAdminWithStore(ctx, h.users, h.cfg, h.logger); err != nil && h.logger != nil {
		h.logger.Errorf("ensure default admin: %v", err)
	}

	filter := store.UserFilter{}
	q := r.URL.Query()
	filter.Search = strings.TrimSpace(q.Get("q"))
	filter.Role = strings.ToLower(strings.TrimSpace(q.Get("rol")))
	if act := strings.TrimSpace(q.Get("activo")); act != "" {
		val := act == "1" || strings.EqualFold(act, "true")
		filter.Active = &val
	}
	if eid := strings.TrimSpace(q.Get("empresa_id")); eid != "" {
		if v, err := strconv.ParseInt(eid, 10, 64); err == nil {
			filter.EmpresaID = v
		}
	}

	users, err := h.users.ListFiltered(ctx, filter)
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("list users: %v", err)
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	users = h.ensureAdminPresent(ctx, users)
	views := make([]accountView, 0, len(users))
	for i := range users {
		companies, _ := h.users.UserCompanies(ctx, users[i].ID)
		eff := auth.CalculateEffectiveAccess(&users[i].User, users[i].Roles, companies, h.policy)
		views = append(views, accountView{UserWithRoles: users[i], Permissions: eff.Permissions, Empresas: eff.Companies})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"usuarios": views})
}

func (h *AccountsHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	user, roles, err := h.users.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	companies, _ := h.users.UserCompanies(r.Context(), id)
	eff := auth.CalculateEffectiveAccess(user, roles, companies, h.policy)
	writeJSON(w, http.StatusOK, accountView{
		UserWithRoles: store.UserWithRoles{User: *user, Roles: roles},
		Permissions:   eff.Permissions,
		Empresas:      eff.Companies,
	})
}

func (h *AccountsHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var p accountPayload
	if err := decodeJSON(r, &p); err != nil {
		if h.logger != nil {
			h.logger.Errorf("create user decode: %v", err)
		}
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	sess := sessionFromCtx(r)
	p.Username = strings.ToLower(strings.TrimSpace(p.Username))
	if err := utils.ValidateUsername(p.Username); err != nil {
		http.Error(w, "invalid username", http.StatusBadRequest)
		return
	}

	passwordSet := true
	passwordValue := strings.TrimSpace(p.Password)
	if passwordValue == "" {
		passwordSet = false
		passwordValue = generateStrongPassword()
	} else if err := utils.ValidatePassword(passwordValue); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ph, err := auth.HashPassword(passwordValue, h.cfg.Pepper)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	roles := sanitizeRoles(p.Roles, p.Role)
	if len(roles) == 0 {
		http.Error(w, "role required", http.StatusBadRequest)
		return
	}
	if hasRole(roles, "superadmin") && (sess == nil || !hasRole(sess.Roles, "superadmin")) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	active := true
	var disabledAt *time.Time
	if p.Active != nil && !*p.Active {
		active = false
		now := time.Now().UTC()
		disabledAt = &now
	}
	u := &store.User{
		Username:              p.Username,
		Email:                 strings.TrimSpace(p.Email),
		FullName:              strings.TrimSpace(p.FullName),
		PasswordHash:          ph.Hash,
		Salt:                  ph.Salt,
		PasswordSet:           passwordSet,
		Active:                active,
		DisabledAt:            disabledAt,
		RequirePasswordChange: p.RequirePasswordChange || !passwordSet,
	}
	id, err := h.users.Create(ctx, u, roles)
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("create user (%s): %v", p.Username, err)
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if len(p.Empresas) > 0 {
		_ = h.users.SetUserCompanies(ctx, id, uniqueIDs(p.Empresas))
	}
	if h.logger != nil {
		h.logger.Printf("usuario creado (%s) id=%d roles=%v", p.Username, id, roles)
	}
	h.audits.Log(r.Context(), currentUser(r), "accounts.create", p.Username)
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *AccountsHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	existing, roles, err := h.users.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if existing == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if h.denyAdminChange(w, r, existing, true) {
		return
	}
	originalRoles := make([]string, len(roles))
	copy(originalRoles, roles)
	updatedRoles := roles
	rolesChanged := false
	var p accountPayload
	if err := decodeJSON(r, &p); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	sess := sessionFromCtx(r)
	idStr := strconv.FormatInt(id, 10)
	if strings.TrimSpace(p.Email) != "" {
		existing.Email = strings.TrimSpace(p.Email)
	}
	if strings.TrimSpace(p.FullName) != "" {
		existing.FullName = strings.TrimSpace(p.FullName)
	}
	if p.Active != nil {
		if !*p.Active && hasRole(originalRoles, "superadmin") && h.isLastSuperadmin(r.Context(), id) {
			http.Error(w, localized(preferredLang(r), "accounts.lastSuperadminProtected"), http.StatusConflict)
			h.audits.Log(r.Context(), currentUser(r), "accounts.last_superadmin_blocked", idStr)
			return
		}
		existing.Active = *p.Active
		if *p.Active {
			existing.DisabledAt = nil
		} else {
			now := time.Now().UTC()
			existing.DisabledAt = &now
		}
	}
	if p.Roles != nil || p.Role != "" {
		updatedRoles = sanitizeRoles(p.Roles, p.Role)
		rolesChanged = true
		if hasRole(updatedRoles, "superadmin") && (sess == nil || !hasRole(sess.Roles, "superadmin")) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if sess != nil && id == sess.UserID && !h.policy.Allowed(updatedRoles, "accounts.manage") {
			http.Error(w, localized(preferredLang(r), "accounts.selfLockoutPrevented"), http.StatusConflict)
			h.audits.Log(r.Context(), currentUser(r), "accounts.self_lockout_blocked", idStr)
			return
		}
		if hasRole(originalRoles, "superadmin") && h.isLastSuperadmin(r.Context(), id) && !hasRole(updatedRoles, "superadmin") {
			http.Error(w, localized(preferredLang(r), "accounts.lastSuperadminProtected"), http.StatusConflict)
			h.audits.Log(r.Context(), currentUser(r), "accounts.last_superadmin_blocked", idStr)
			return
		}
	}
	if !existing.Active && isAdminUsername(existing.Username) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if p.RequirePasswordChange {
		existing.RequirePasswordChange = true
	}
	var directRoles []string
	if rolesChanged {
		directRoles = updatedRoles
	}
	if err := h.users.Update(r.Context(), existing, directRoles); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if rolesChanged {
		h.audits.Log(r.Context(), currentUser(r), "accounts.roles_changed", idStr)
	}
	if p.Empresas != nil {
		if err := h.users.SetUserCompanies(r.Context(), id, uniqueIDs(p.Empresas)); err != nil {
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		h.audits.Log(r.Context(), currentUser(r), "accounts.empresas_changed", idStr)
	}
	_ = h.sessions.DeleteAllForUser(r.Context(), existing.ID, currentUser(r))
	h.audits.Log(r.Context(), currentUser(r), "session.kill_all", fmt.Sprintf("%d|security_change", existing.ID))
	h.audits.Log(r.Context(), currentUser(r), "accounts.update", idStr)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SetUserCompanies replaces the whole company scope of a user. Empty list
// leaves the user without registered companies, which only matters for roles
// below admin.
func (h *AccountsHandler) SetUserCompanies(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	existing, _, err := h.users.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if existing == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	var payload struct {
		Empresas []int64 `json:"empresas"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := h.users.SetUserCompanies(r.Context(), id, uniqueIDs(payload.Empresas)); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "accounts.empresas_changed", strconv.FormatInt(id, 10))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AccountsHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	idStr := strconv.FormatInt(id, 10)
	existing, _, err := h.users.Get(ctx, id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if existing == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if h.denyAdminChange(w, r, existing, true) {
		return
	}
	var payload struct {
		Password      string `json:"password"`
		RequireChange *bool  `json:"require_change"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := utils.ValidatePassword(payload.Password); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	history, _ := h.users.PasswordHistory(ctx, id, 10)
	if isPasswordReused(payload.Password, h.cfg.Pepper, existing, history) {
		h.audits.Log(r.Context(), currentUser(r), "auth.password_reuse_denied", idStr)
		http.Error(w, localized(preferredLang(r), "accounts.passwordReuseDenied"), http.StatusBadRequest)
		return
	}
	ph, err := auth.HashPassword(payload.Password, h.cfg.Pepper)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	reqChange := true
	if payload.RequireChange != nil {
		reqChange = *payload.RequireChange
	}
	if err := h.users.UpdatePassword(ctx, id, ph.Hash, ph.Salt, reqChange); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "auth.password_reset", idStr)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AccountsHandler) LockUser(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	idStr := strconv.FormatInt(id, 10)
	user, _, err := h.users.Get(ctx, id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if sess := sessionFromCtx(r); sess != nil && sess.UserID == user.ID {
		http.Error(w, localized(preferredLang(r), "accounts.selfLockoutPrevented"), http.StatusConflict)
		h.audits.Log(r.Context(), currentUser(r), "accounts.self_lockout_blocked", idStr)
		return
	}
	if isAdminUsername(user.Username) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var payload struct {
		Reason  string `json:"reason"`
		Minutes int    `json:"minutes"`
	}
	_ = decodeJSON(r, &payload)
	now := time.Now().UTC()
	reason := strings.TrimSpace(payload.Reason)
	if payload.Minutes <= 0 {
		user.LockStage = 6
		user.LockedUntil = nil
		user.LockReason = reason
		user.FailedAttempts = 0
	} else {
		user.LockStage++
		user.FailedAttempts = 0
		until := now.Add(time.Duration(payload.Minutes) * time.Minute)
		user.LockedUntil = &until
		user.LockReason = reason
	}
	if err := h.users.Update(ctx, user, nil); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	_ = h.sessions.DeleteAllForUser(ctx, user.ID, currentUser(r))
	h.audits.Log(r.Context(), currentUser(r), "session.kill_all", fmt.Sprintf("%d|security_change", user.ID))
	h.audits.Log(r.Context(), currentUser(r), "auth.lock_manual", fmt.Sprintf("%d|%s", id, user.LockReason))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AccountsHandler) UnlockUser(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	user, _, err := h.users.Get(ctx, id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	var payload struct {
		Reason string `json:"reason"`
	}
	_ = decodeJSON(r, &payload)
	user.LockedUntil = nil
	user.LockReason = ""
	user.FailedAttempts = 0
	user.LockStage = 0
	if err := h.users.Update(ctx, user, nil); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	_ = h.sessions.DeleteAllForUser(ctx, user.ID, currentUser(r))
	h.audits.Log(r.Context(), currentUser(r), "session.kill_all", fmt.Sprintf("%d|security_change", user.ID))
	h.audits.Log(r.Context(), currentUser(r), "auth.unlock", fmt.Sprintf("%d|%s", id, strings.TrimSpace(payload.Reason)))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AccountsHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false, "accounts.disable")
}

func (h *AccountsHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true, "accounts.enable")
}

func (h *AccountsHandler) setActive(w http.ResponseWriter, r *http.Request, active bool, action string) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	idStr := strconv.FormatInt(id, 10)
	existing, existingRoles, err := h.users.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if existing == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if isAdminUsername(existing.Username) && !active {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if !active && hasRole(existingRoles, "superadmin") && h.isLastSuperadmin(r.Context(), id) {
		http.Error(w, localized(preferredLang(r), "accounts.lastSuperadminProtected"), http.StatusConflict)
		return
	}
	if err := h.users.SetActive(r.Context(), id, active); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if !active {
		_ = h.sessions.DeleteAllForUser(r.Context(), id, currentUser(r))
		h.audits.Log(r.Context(), currentUser(r), "session.kill_all", fmt.Sprintf("%d|security_change", id))
	}
	h.audits.Log(r.Context(), currentUser(r), action, idStr)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AccountsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	idStr := strconv.FormatInt(id, 10)
	existing, roles, err := h.users.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if existing == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if isAdminUsername(existing.Username) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if hasRole(roles, "superadmin") && h.isLastSuperadmin(r.Context(), id) {
		http.Error(w, localized(preferredLang(r), "accounts.lastSuperadminProtected"), http.StatusConflict)
		return
	}
	if err := h.users.Delete(r.Context(), id); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	_ = h.sessions.DeleteAllForUser(r.Context(), id, currentUser(r))
	h.audits.Log(r.Context(), currentUser(r), "accounts.delete", idStr)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AccountsHandler) ListUserSessions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	sess, err := h.sessions.ListByUser(ctx, id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sess})
}

func (h *AccountsHandler) ListAllSessions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	sess, err := h.sessions.ListAll(ctx)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sess})
}

func (h *AccountsHandler) KillSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	sessID := urlParam(r, "session_id")
	if sessID == "" {
		sessID = pathParams(r)["session_id"]
	}
	if sessID == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	sess, err := h.sessions.GetSession(ctx, sessID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if sess == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	_ = h.sessions.DeleteSession(ctx, sessID, currentUser(r))
	h.audits.Log(r.Context(), currentUser(r), "session.kill", fmt.Sprintf("%s|%d", sessID, sess.UserID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AccountsHandler) KillAllSessions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	id, err := parseID(r, "id")
	if err != nil || id <= 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	_ = h.sessions.DeleteAllForUser(ctx, id, currentUser(r))
	h.audits.Log(r.Context(), currentUser(r), "session.kill_all", strconv.FormatInt(id, 10))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AccountsHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	roles, err := h.roles.List(ctx)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *AccountsHandler) CreateRole(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	var payload store.Role
	if err := decodeJSON(r, &payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	payload.Name = strings.ToLower(strings.TrimSpace(payload.Name))
	if payload.Name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}
	perms, invalidPerms := rbac.NormalizePermissionNames(payload.Permissions)
	if len(invalidPerms) > 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	payload.Permissions = perms
	payload.BuiltIn = false
	existing, err := h.roles.FindByName(ctx, payload.Name)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, localized(preferredLang(r), "accounts.roleExists"), http.StatusConflict)
		return
	}
	id, err := h.roles.Create(ctx, &payload)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if h.refreshPolicy != nil {
		_ = h.refreshPolicy(ctx)
	}
	h.audits.Log(r.Context(), currentUser(r), "roles.create", payload.Name)
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *AccountsHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	rid, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	existing, err := h.roles.FindByID(ctx, rid)
	if err != nil || existing == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if existing.BuiltIn {
		http.Error(w, localized(preferredLang(r), "accounts.roleSystemProtected"), http.StatusConflict)
		return
	}
	var payload store.Role
	if err := decodeJSON(r, &payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	existing.Description = payload.Description
	perms, invalidPerms := rbac.NormalizePermissionNames(payload.Permissions)
	if len(invalidPerms) > 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	existing.Permissions = perms
	if err := h.roles.Update(ctx, existing); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if h.refreshPolicy != nil {
		_ = h.refreshPolicy(ctx)
	}
	h.audits.Log(r.Context(), currentUser(r), "roles.update", strconv.FormatInt(rid, 10))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AccountsHandler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	rid, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	existing, err := h.roles.FindByID(ctx, rid)
	if err != nil || existing == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if existing.BuiltIn {
		http.Error(w, localized(preferredLang(r), "accounts.roleSystemProtected"), http.StatusConflict)
		return
	}
	if err := h.roles.Delete(ctx, rid); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if h.refreshPolicy != nil {
		_ = h.refreshPolicy(ctx)
	}
	h.audits.Log(r.Context(), currentUser(r), "roles.delete", strconv.FormatInt(rid, 10))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func sanitizeRoles(in []string, fallback string) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(name string) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, r := range in {
		add(r)
	}
	if len(out) == 0 {
		add(fallback)
	}
	return out
}

func hasAdminUser(users []store.UserWithRoles) bool {
	for _, u := range users {
		if isAdminUsername(u.Username) {
			return true
		}
	}
	return false
}

func (h *AccountsHandler) ensureAdminPresent(ctx context.Context, users []store.UserWithRoles) []store.UserWithRoles {
	if hasAdminUser(users) {
		return users
	}
	admin, roles, err := h.users.FindByUsername(ctx, bootstrap.DefaultAdminUsername)
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("ensure admin present (find): %v", err)
		}
		return users
	}
	if admin == nil {
		return users
	}
	return append([]store.UserWithRoles{{User: *admin, Roles: roles}}, users...)
}

func isAdminUsername(username string) bool {
	return strings.EqualFold(username, bootstrap.DefaultAdminUsername)
}

func (h *AccountsHandler) denyAdminChange(w http.ResponseWriter, r *http.Request, target *store.User, allowAdminActor bool) bool {
	if !isAdminUsername(target.Username) {
		return false
	}
	if allowAdminActor && isAdminUsername(currentUser(r)) {
		return false
	}
	http.Error(w, "forbidden", http.StatusForbidden)
	return true
}

func generateStrongPassword() string {
	for i := 0; i < 5; i++ {
		if pwd, err := utils.RandString(16); err == nil && utils.ValidatePassword(pwd) == nil {
			return pwd
		}
	}
	fallback, _ := utils.RandString(16)
	candidate := "Aa1!" + fallback
	if utils.ValidatePassword(candidate) == nil {
		return candidate
	}
	return candidate + "!"
}

func uniqueIDs(ids []int64) []int64 {
	set := map[int64]struct{}{}
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := set[id]; ok {
			continue
		}
		set[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (h *AccountsHandler) isLastSuperadmin(ctx context.Context, targetID int64) bool {
	users, err := h.users.List(ctx)
	if err != nil {
		return false
	}
	count := 0
	for _, u := range users {
		if hasRole(u.Roles, "superadmin") {
			count++
			if count > 1 {
				return false
			}
		}
	}
	if count != 1 {
		return false
	}
	for _, u := range users {
		if u.ID == targetID && hasRole(u.Roles, "superadmin") {
			return true
		}
	}
	return false
}
