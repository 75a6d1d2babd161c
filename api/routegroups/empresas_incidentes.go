package routegroups

import (
	"github.com/go-chi/chi/v5"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/api/handlers"
)

func RegisterCompanies(apiRouter chi.Router, g Guards, companies *handlers.CompaniesHandler) {
	apiRouter.Route("/empresas", func(companiesRouter chi.Router) {
		companiesRouter.MethodFunc("GET", "/", g.SessionPerm("companies.view", companies.List))
		companiesRouter.MethodFunc("POST", "/", g.SessionPerm("companies.manage", companies.Create))
		companiesRouter.MethodFunc("GET", "/{id:[0-9]+}", g.SessionPerm("companies.view", companies.Get))
		companiesRouter.MethodFunc("PUT", "/{id:[0-9]+}", g.SessionPerm("companies.manage", companies.Update))
		companiesRouter.MethodFunc("DELETE", "/{id:[0-9]+}", g.SessionPerm("companies.manage", companies.Delete))
		companiesRouter.MethodFunc("POST", "/{id:[0-9]+}/restaurar", g.SessionPerm("companies.manage", companies.Restore))
		companiesRouter.MethodFunc("GET", "/{id:[0-9]+}/dashboard", g.SessionPerm("dashboard.view", companies.Dashboard))
	})

	apiRouter.MethodFunc("GET", "/dashboard", g.SessionPerm("dashboard.view", companies.DashboardGeneral))
}

func RegisterIncidents(apiRouter chi.Router, g Guards, incidents *handlers.IncidentsHandler,
	evidence *handlers.EvidenceHandler, reports *handlers.ReportsHandler, semilla *handlers.SemillaHandler) {
	apiRouter.Route("/incidentes", func(incidentsRouter chi.Router) {
		incidentsRouter.MethodFunc("GET", "/", g.SessionPerm("incidents.view", incidents.List))
		incidentsRouter.MethodFunc("POST", "/", g.SessionPerm("incidents.create", incidents.Register))
		incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}", g.SessionPerm("incidents.view", incidents.Get))
		incidentsRouter.MethodFunc("DELETE", "/{id:[0-9]+}", g.SessionPerm("incidents.delete", incidents.Delete))
		incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/restaurar", g.SessionPerm("incidents.delete", incidents.Restore))
		incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}/historial", g.SessionPerm("incidents.view", incidents.Timeline))
		incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}/cuenta-regresiva", g.SessionPerm("incidents.view", incidents.Countdown))
		incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/estado", g.SessionPerm("incidents.edit", incidents.ChangeState))
		incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/cerrar", g.SessionPerm("incidents.close", incidents.Close))
		incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/reabrir", g.SessionPerm("incidents.close", incidents.Reopen))
		incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/declarar-anci", g.SessionPerm("incidents.edit", incidents.DeclareANCI))

		incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}/secciones/{codigo}", g.SessionPerm("semilla.view", incidents.GetSection))
		incidentsRouter.MethodFunc("PUT", "/{id:[0-9]+}/secciones/{codigo}", g.SessionPerm("semilla.edit", incidents.UpdateSection))

		incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}/taxonomias", g.SessionPerm("taxonomies.view", incidents.ListTaxonomies))
		incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/taxonomias", g.SessionPerm("incidents.edit", incidents.AssignTaxonomy))
		incidentsRouter.MethodFunc("PUT", "/{id:[0-9]+}/taxonomias/{link_id:[0-9]+}", g.SessionPerm("incidents.edit", incidents.UpdateTaxonomy))
		incidentsRouter.MethodFunc("DELETE", "/{id:[0-9]+}/taxonomias/{link_id:[0-9]+}", g.SessionPerm("incidents.edit", incidents.RemoveTaxonomy))

		incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}/semilla", g.SessionPerm("semilla.view", semilla.Latest))
		incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}/semilla/versiones", g.SessionPerm("semilla.view", semilla.Versions))
		incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}/semilla/versiones/{version:[0-9]+}", g.SessionPerm("semilla.view", semilla.GetVersion))
		incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}/semilla/verificar", g.SessionPerm("semilla.view", semilla.Verify))
		incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}/semilla/exportar", g.SessionPerm("semilla.view", semilla.Export))

		incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}/evidencias", g.SessionPerm("evidence.view", evidence.List))
		incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/evidencias", g.SessionPerm("evidence.upload", evidence.Upload))
		incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}/evidencias/{evidencia_id:[0-9]+}", g.SessionPerm("evidence.view", evidence.Get))
		incidentsRouter.MethodFunc("PUT", "/{id:[0-9]+}/evidencias/{evidencia_id:[0-9]+}", g.SessionPerm("evidence.upload", evidence.Replace))
		incidentsRouter.MethodFunc("DELETE", "/{id:[0-9]+}/evidencias/{evidencia_id:[0-9]+}", g.SessionPerm("evidence.delete", evidence.Delete))
		incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}/evidencias/{evidencia_id:[0-9]+}/descargar", g.SessionPerm("evidence.view", evidence.Download))
		incidentsRouter.MethodFunc("PUT", "/{id:[0-9]+}/evidencias/{evidencia_id:[0-9]+}/comentario", g.SessionPerm("evidence.upload", evidence.UpdateComment))
		incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/evidencias/{evidencia_id:[0-9]+}/restaurar", g.SessionPerm("evidence.delete", evidence.Restore))

		incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}/informes", g.SessionPerm("reports.view", reports.List))
		incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/informes", g.SessionPerm("reports.generate", reports.Generate))
		incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}/informes/{informe_id:[0-9]+}/descargar", g.SessionPerm("reports.download", reports.Download))
		incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}/informes/{informe_id:[0-9]+}/pdf", g.SessionPerm("reports.download", reports.DownloadPDF))
		incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/informes/{informe_id:[0-9]+}/presentar", g.SessionPerm("reports.generate", reports.MarkSubmitted))
	})
}
