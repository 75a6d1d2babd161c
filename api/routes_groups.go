package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/api/routegroups"
)

func (s *Server) registerGroupRoutes(apiRouter chi.Router, h routeHandlers) {
	g := s.guards()
	routegroups.RegisterCompanies(apiRouter, g, h.companies)
	routegroups.RegisterIncidents(apiRouter, g, h.incidents, h.evidence, h.reports, h.semilla)
	routegroups.RegisterAccounts(apiRouter, g, h.accounts)
	routegroups.RegisterCatalogs(apiRouter, g, h.taxonomies, h.sections, h.reports)
	routegroups.RegisterLogsAndNotify(apiRouter, g, h.logs, h.notify)
}
