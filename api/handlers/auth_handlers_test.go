package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/config"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/auth"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/rbac"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/store"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

type authEnv struct {
	cfg      *config.AppConfig
	users    store.UsersStore
	sessions store.SessionStore
	sm       *auth.SessionManager
	auth     *AuthHandler
	accounts *AccountsHandler
}

func setupAuthEnv(t *testing.T) *authEnv {
	t.Helper()
	cfg := &config.AppConfig{
		DBDriver:   "sqlite",
		DBPath:     filepath.Join(t.TempDir(), "agd.db"),
		Pepper:     "pepper-de-prueba",
		SessionTTL: time.Hour,
		Security:   config.SecurityConfig{OnlineWindowSec: 300},
	}
	logger := utils.NewNopLogger()
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	users := store.NewUsersStore(db)
	sessions := store.NewSessionsStore(db)
	roles := store.NewRolesStore(db)
	audits := store.NewAuditStore(db)
	policy := rbac.NewPolicy(rbac.DefaultRoles())
	sm := auth.NewSessionManager(sessions, cfg, logger)
	return &authEnv{
		cfg:      cfg,
		users:    users,
		sessions: sessions,
		sm:       sm,
		auth:     NewAuthHandler(cfg, users, sessions, sm, policy, audits, logger),
		accounts: NewAccountsHandler(users, roles, sessions, policy, sm, cfg, audits, logger, nil),
	}
}

func (e *authEnv) createUser(t *testing.T, username, password string, roles []string) *store.User {
	t.Helper()
	ph := auth.MustHashPassword(password, e.cfg.Pepper)
	u := &store.User{
		Username:     username,
		FullName:     "Usuario " + username,
		PasswordHash: ph.Hash,
		Salt:         ph.Salt,
		PasswordSet:  true,
		Active:       true,
	}
	id, err := e.users.Create(context.Background(), u, roles)
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	u.ID = id
	return u
}

func loginRequest(username, password string) *http.Request {
	body := strings.NewReader(`{"username":"` + username + `","password":"` + password + `"}`)
	return httptest.NewRequest(http.MethodPost, "/api/auth/login", body)
}

func TestLoginIssuesSessionAndCookies(t *testing.T) {
	env := setupAuthEnv(t)
	env.createUser(t, "encargada", "clave-segura-1", []string{"encargado"})

	rr := httptest.NewRecorder()
	env.auth.Login(rr, loginRequest("encargada", "clave-segura-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("login code %d: %s", rr.Code, rr.Body.String())
	}
	var sessionCookie, csrfCookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		switch c.Name {
		case SessionCookieName:
			sessionCookie = c
		case CSRFCookieName:
			csrfCookie = c
		}
	}
	if sessionCookie == nil || sessionCookie.Value == "" {
		t.Fatalf("session cookie missing")
	}
	if csrfCookie == nil || csrfCookie.Value == "" {
		t.Fatalf("csrf cookie missing")
	}
	saved, err := env.sessions.GetSession(context.Background(), sessionCookie.Value)
	if err != nil || saved == nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if saved.Username != "encargada" {
		t.Fatalf("session username %q", saved.Username)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp["csrf_token"] != saved.CSRFToken {
		t.Fatalf("csrf token in response does not match stored session")
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	env := setupAuthEnv(t)
	env.createUser(t, "analista2", "clave-segura-2", []string{"analista"})

	rr := httptest.NewRecorder()
	env.auth.Login(rr, loginRequest("analista2", "incorrecta"))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestLoginLocksAccountAfterRepeatedFailures(t *testing.T) {
	env := setupAuthEnv(t)
	env.createUser(t, "bloqueado", "clave-segura-3", []string{"analista"})

	var last *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		last = httptest.NewRecorder()
		env.auth.Login(last, loginRequest("bloqueado", "clave-mala"))
	}
	if last.Code != http.StatusForbidden {
		t.Fatalf("expected lockout on fifth failure, got %d", last.Code)
	}
	rr := httptest.NewRecorder()
	env.auth.Login(rr, loginRequest("bloqueado", "clave-segura-3"))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("correct password must stay blocked while locked, got %d", rr.Code)
	}
}

func TestLoginRejectsInactiveUser(t *testing.T) {
	env := setupAuthEnv(t)
	u := env.createUser(t, "retirado", "clave-segura-4", []string{"auditor"})
	if err := env.users.SetActive(context.Background(), u.ID, false); err != nil {
		t.Fatalf("set inactive: %v", err)
	}
	rr := httptest.NewRecorder()
	env.auth.Login(rr, loginRequest("retirado", "clave-segura-4"))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for inactive user, got %d", rr.Code)
	}
}

func TestPingUpdatesLastSeen(t *testing.T) {
	env := setupAuthEnv(t)
	u := env.createUser(t, "alicia", "clave-segura-5", []string{"encargado"})
	sess, err := env.sm.Create(context.Background(), u, []string{"encargado"}, "127.0.0.1", "test-agent")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	saved, _ := env.sessions.GetSession(context.Background(), sess.ID)
	before := saved.LastSeenAt

	req := httptest.NewRequest(http.MethodPost, "/api/auth/ping", nil)
	req = req.WithContext(context.WithValue(req.Context(), auth.SessionContextKey, saved))
	rr := httptest.NewRecorder()
	env.auth.Ping(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("ping code %d", rr.Code)
	}
	updated, _ := env.sessions.GetSession(context.Background(), sess.ID)
	if updated == nil {
		t.Fatalf("session missing after ping")
	}
	if !updated.LastSeenAt.After(before) {
		t.Fatalf("last_seen_at not updated: %v -> %v", before, updated.LastSeenAt)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	env := setupAuthEnv(t)
	u := env.createUser(t, "saliente", "clave-segura-6", []string{"analista"})
	sess, err := env.sm.Create(context.Background(), u, []string{"analista"}, "127.0.0.1", "test-agent")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sess.ID})
	rr := httptest.NewRecorder()
	env.auth.Logout(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout code %d", rr.Code)
	}
	gone, err := env.sessions.GetSession(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if gone != nil {
		t.Fatalf("revoked session still resolves")
	}
}

func TestKillSessionRevokesTarget(t *testing.T) {
	env := setupAuthEnv(t)
	u := env.createUser(t, "objetivo", "clave-segura-7", []string{"analista"})
	s1, err := env.sm.Create(context.Background(), u, []string{"analista"}, "10.0.0.1", "ua1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	adminSess := &store.SessionRecord{Username: "admin", Roles: []string{"superadmin"}}
	req := httptest.NewRequest(http.MethodDelete, "/api/sesiones/"+s1.ID, nil)
	req = req.WithContext(context.WithValue(req.Context(), auth.SessionContextKey, adminSess))
	rr := httptest.NewRecorder()
	env.accounts.KillSession(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("kill session code %d: %s", rr.Code, rr.Body.String())
	}
	gone, _ := env.sessions.GetSession(context.Background(), s1.ID)
	if gone != nil {
		t.Fatalf("killed session still resolves")
	}
}

func TestKillAllSessionsForUser(t *testing.T) {
	env := setupAuthEnv(t)
	u := env.createUser(t, "multiple", "clave-segura-8", []string{"analista"})
	ctx := context.Background()
	s1, err := env.sm.Create(ctx, u, []string{"analista"}, "10.0.0.1", "ua1")
	if err != nil {
		t.Fatalf("create session1: %v", err)
	}
	s2, err := env.sm.Create(ctx, u, []string{"analista"}, "10.0.0.2", "ua2")
	if err != nil {
		t.Fatalf("create session2: %v", err)
	}

	adminSess := &store.SessionRecord{Username: "admin", Roles: []string{"superadmin"}}
	req := httptest.NewRequest(http.MethodDelete, "/api/usuarios/"+strconv.FormatInt(u.ID, 10)+"/sesiones", nil)
	req = req.WithContext(context.WithValue(req.Context(), auth.SessionContextKey, adminSess))
	rr := httptest.NewRecorder()
	env.accounts.KillAllSessions(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("kill all code %d", rr.Code)
	}
	for _, id := range []string{s1.ID, s2.ID} {
		if rec, _ := env.sessions.GetSession(ctx, id); rec != nil {
			t.Fatalf("session %s still resolves after kill all", id)
		}
	}
}
