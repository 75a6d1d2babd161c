package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/api/routegroups"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/config"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/auth"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/evidence"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/incidents"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/notify"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/rbac"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/reports"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/store"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

type Server struct {
	cfg             *config.AppConfig
	logger          *utils.Logger
	policy          *rbac.Policy
	sessionManager  *auth.SessionManager
	activityTracker *sessionActivity

	users       store.UsersStore
	roles       store.RolesStore
	sessions    store.SessionStore
	companies   store.CompaniesStore
	seeds       store.SeedsStore
	taxonomies  store.TaxonomiesStore
	sections    store.SectionsStore
	notifyStore store.NotifyStore
	audits      store.AuditStore

	incidentsSvc *incidents.Service
	evidenceSvc  *evidence.Service
	reportsSvc   *reports.Service
	dispatcher   *notify.Dispatcher
}

// Deps carries everything the HTTP layer needs. The composition root builds
// it once; the server never constructs stores or services itself.
type Deps struct {
	Users      store.UsersStore
	Roles      store.RolesStore
	Sessions   store.SessionStore
	Companies  store.CompaniesStore
	Seeds      store.SeedsStore
	Taxonomies store.TaxonomiesStore
	Sections   store.SectionsStore
	Notify     store.NotifyStore
	Audits     store.AuditStore

	Incidents  *incidents.Service
	Evidence   *evidence.Service
	Reports    *reports.Service
	Dispatcher *notify.Dispatcher

	Policy         *rbac.Policy
	SessionManager *auth.SessionManager
	Logger         *utils.Logger
}

// BackgroundWorker is anything the runtime starts alongside the HTTP server
// and stops on shutdown.
type BackgroundWorker interface {
	StartWithContext(ctx context.Context) error
	StopWithContext(ctx context.Context) error
}

func NewServer(cfg *config.AppConfig, deps Deps) *Server {
	return &Server{
		cfg:             cfg,
		logger:          deps.Logger,
		policy:          deps.Policy,
		sessionManager:  deps.SessionManager,
		activityTracker: newSessionActivity(),
		users:           deps.Users,
		roles:           deps.Roles,
		sessions:        deps.Sessions,
		companies:       deps.Companies,
		seeds:           deps.Seeds,
		taxonomies:      deps.Taxonomies,
		sections:        deps.Sections,
		notifyStore:     deps.Notify,
		audits:          deps.Audits,
		incidentsSvc:    deps.Incidents,
		evidenceSvc:     deps.Evidence,
		reportsSvc:      deps.Reports,
		dispatcher:      deps.Dispatcher,
	}
}

// Routes assembles the full router. Everything lives under /api; the only
// unauthenticated endpoints are the login and the health probe.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.securityHeadersMiddleware)
	r.Use(s.loggingMiddleware)

	h := s.newRouteHandlers()

	r.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Use(s.jsonMiddleware)
		s.registerAuthRoutes(apiRouter, h)
		s.registerGroupRoutes(apiRouter, h)
	})

	r.MethodFunc("GET", "/api/health", s.healthHandler)

	return r
}

func (s *Server) registerAuthRoutes(apiRouter chi.Router, h routeHandlers) {
	apiRouter.MethodFunc("POST", "/auth/login", s.rateLimitMiddleware(h.auth.Login))
	apiRouter.MethodFunc("POST", "/auth/logout", s.withSession(h.auth.Logout))
	apiRouter.MethodFunc("GET", "/auth/me", s.withSession(h.auth.Me))
	apiRouter.MethodFunc("POST", "/auth/ping", s.withSession(h.auth.Ping))
	apiRouter.MethodFunc("POST", "/auth/change-password", s.withSession(h.auth.ChangePassword))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// guards adapts the server middleware to the route group contract.
func (s *Server) guards() routegroups.Guards {
	return routegroups.Guards{
		WithSession: s.withSession,
		RequirePermission: func(p string) func(http.HandlerFunc) http.HandlerFunc {
			return s.requirePermission(rbac.Permission(p))
		},
		RequireAnyPermission: func(ps ...string) func(http.HandlerFunc) http.HandlerFunc {
			perms := make([]rbac.Permission, 0, len(ps))
			for _, p := range ps {
				perms = append(perms, rbac.Permission(p))
			}
			return s.requireAnyPermission(perms...)
		},
	}
}

// refreshPolicy reloads the enforcer from the persisted roles after a role
// edit, so permission changes apply without restart.
func (s *Server) refreshPolicy(ctx context.Context) error {
	roles, err := s.roles.LoadPolicyRoles(ctx)
	if err != nil {
		return err
	}
	s.policy.Reload(roles)
	return nil
}
