package routegroups

import (
	"github.com/go-chi/chi/v5"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/api/handlers"
)

func RegisterAccounts(apiRouter chi.Router, g Guards, accounts *handlers.AccountsHandler) {
	apiRouter.Route("/usuarios", func(usersRouter chi.Router) {
		usersRouter.MethodFunc("GET", "/", g.SessionPerm("accounts.view", accounts.ListUsers))
		usersRouter.MethodFunc("POST", "/", g.SessionPerm("accounts.manage", accounts.CreateUser))
		usersRouter.MethodFunc("GET", "/{id:[0-9]+}", g.SessionPerm("accounts.view", accounts.GetUser))
		usersRouter.MethodFunc("PUT", "/{id:[0-9]+}", g.SessionPerm("accounts.manage", accounts.UpdateUser))
		usersRouter.MethodFunc("DELETE", "/{id:[0-9]+}", g.SessionPerm("accounts.manage", accounts.Delete))
		usersRouter.MethodFunc("PUT", "/{id:[0-9]+}/empresas", g.SessionPerm("accounts.manage", accounts.SetUserCompanies))
		usersRouter.MethodFunc("POST", "/{id:[0-9]+}/reset-password", g.SessionPerm("accounts.manage", accounts.ResetPassword))
		usersRouter.MethodFunc("POST", "/{id:[0-9]+}/bloquear", g.SessionPerm("accounts.manage", accounts.LockUser))
		usersRouter.MethodFunc("POST", "/{id:[0-9]+}/desbloquear", g.SessionPerm("accounts.manage", accounts.UnlockUser))
		usersRouter.MethodFunc("POST", "/{id:[0-9]+}/deshabilitar", g.SessionPerm("accounts.manage", accounts.Disable))
		usersRouter.MethodFunc("POST", "/{id:[0-9]+}/habilitar", g.SessionPerm("accounts.manage", accounts.Enable))
		usersRouter.MethodFunc("GET", "/{id:[0-9]+}/sesiones", g.SessionPerm("sessions.manage", accounts.ListUserSessions))
		usersRouter.MethodFunc("DELETE", "/{id:[0-9]+}/sesiones", g.SessionPerm("sessions.manage", accounts.KillAllSessions))
	})

	apiRouter.Route("/roles", func(rolesRouter chi.Router) {
		rolesRouter.MethodFunc("GET", "/", g.SessionPerm("accounts.view", accounts.ListRoles))
		rolesRouter.MethodFunc("POST", "/", g.SessionPerm("accounts.manage", accounts.CreateRole))
		rolesRouter.MethodFunc("PUT", "/{id:[0-9]+}", g.SessionPerm("accounts.manage", accounts.UpdateRole))
		rolesRouter.MethodFunc("DELETE", "/{id:[0-9]+}", g.SessionPerm("accounts.manage", accounts.DeleteRole))
	})

	apiRouter.Route("/sesiones", func(sessionsRouter chi.Router) {
		sessionsRouter.MethodFunc("GET", "/", g.SessionPerm("sessions.manage", accounts.ListAllSessions))
		sessionsRouter.MethodFunc("DELETE", "/{session_id}", g.SessionPerm("sessions.manage", accounts.KillSession))
	})
}

func RegisterCatalogs(apiRouter chi.Router, g Guards, taxonomies *handlers.TaxonomiesHandler,
	sections *handlers.SectionsHandler, reports *handlers.ReportsHandler) {
	apiRouter.Route("/taxonomias", func(taxRouter chi.Router) {
		taxRouter.MethodFunc("GET", "/", g.SessionPerm("taxonomies.view", taxonomies.List))
		taxRouter.MethodFunc("GET", "/jerarquia", g.SessionPerm("taxonomies.view", taxonomies.Hierarchy))
		taxRouter.MethodFunc("GET", "/{id}", g.SessionPerm("taxonomies.view", taxonomies.Get))
	})

	apiRouter.Route("/secciones", func(sectionsRouter chi.Router) {
		sectionsRouter.MethodFunc("GET", "/", g.SessionAnyPerm([]string{"incidents.view", "semilla.view"}, sections.List))
		sectionsRouter.MethodFunc("GET", "/{codigo}", g.SessionAnyPerm([]string{"incidents.view", "semilla.view"}, sections.Get))
	})

	apiRouter.Route("/plantillas", func(templatesRouter chi.Router) {
		templatesRouter.MethodFunc("GET", "/", g.SessionPerm("reports.view", reports.ListTemplates))
		templatesRouter.MethodFunc("POST", "/", g.SessionPerm("reports.templates.manage", reports.UploadTemplate))
	})

	apiRouter.MethodFunc("GET", "/informes/conversores", g.SessionPerm("reports.view", reports.ConverterStatus))
}

func RegisterLogsAndNotify(apiRouter chi.Router, g Guards, logs *handlers.LogsHandler, notify *handlers.NotifyHandler) {
	apiRouter.Route("/logs", func(logsRouter chi.Router) {
		logsRouter.MethodFunc("GET", "/", g.SessionPerm("logs.view", logs.List))
		logsRouter.MethodFunc("GET", "/export", g.SessionPerm("logs.export", logs.Export))
	})

	apiRouter.Route("/notificaciones", func(notifyRouter chi.Router) {
		notifyRouter.MethodFunc("GET", "/canales", g.SessionPerm("notify.view", notify.ListChannels))
		notifyRouter.MethodFunc("POST", "/canales", g.SessionPerm("notify.manage", notify.CreateChannel))
		notifyRouter.MethodFunc("GET", "/canales/{id:[0-9]+}", g.SessionPerm("notify.view", notify.GetChannel))
		notifyRouter.MethodFunc("PUT", "/canales/{id:[0-9]+}", g.SessionPerm("notify.manage", notify.UpdateChannel))
		notifyRouter.MethodFunc("DELETE", "/canales/{id:[0-9]+}", g.SessionPerm("notify.manage", notify.DeleteChannel))
		notifyRouter.MethodFunc("POST", "/canales/{id:[0-9]+}/probar", g.SessionPerm("notify.manage", notify.TestChannel))
		notifyRouter.MethodFunc("POST", "/barrido", g.SessionPerm("notify.manage", notify.Sweep))
		notifyRouter.MethodFunc("GET", "/entregas", g.SessionPerm("notify.view", notify.ListDeliveries))
		notifyRouter.MethodFunc("GET", "/eventos", g.SessionPerm("notify.view", notify.Events))
	})
}
