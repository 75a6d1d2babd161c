package api

import "github.com/alex3000silvac-ai/Agente-Digital-v2/api/handlers"

type routeHandlers struct {
	auth       *handlers.AuthHandler
	accounts   *handlers.AccountsHandler
	companies  *handlers.CompaniesHandler
	incidents  *handlers.IncidentsHandler
	evidence   *handlers.EvidenceHandler
	reports    *handlers.ReportsHandler
	semilla    *handlers.SemillaHandler
	taxonomies *handlers.TaxonomiesHandler
	sections   *handlers.SectionsHandler
	notify     *handlers.NotifyHandler
	logs       *handlers.LogsHandler
}

func (s *Server) newRouteHandlers() routeHandlers {
	return routeHandlers{
		auth:       handlers.NewAuthHandler(s.cfg, s.users, s.sessions, s.sessionManager, s.policy, s.audits, s.logger),
		accounts:   handlers.NewAccountsHandler(s.users, s.roles, s.sessions, s.policy, s.sessionManager, s.cfg, s.audits, s.logger, s.refreshPolicy),
		companies:  handlers.NewCompaniesHandler(s.cfg, s.companies, s.incidentsSvc, s.audits, s.logger),
		incidents:  handlers.NewIncidentsHandler(s.cfg, s.incidentsSvc, s.users, s.taxonomies, s.policy, s.dispatcher, s.audits, s.logger),
		evidence:   handlers.NewEvidenceHandler(s.cfg, s.evidenceSvc, s.audits, s.logger),
		reports:    handlers.NewReportsHandler(s.cfg, s.reportsSvc, s.audits, s.logger),
		semilla:    handlers.NewSemillaHandler(s.seeds, s.audits, s.logger),
		taxonomies: handlers.NewTaxonomiesHandler(s.taxonomies, s.logger),
		sections:   handlers.NewSectionsHandler(s.sections, s.logger),
		notify:     handlers.NewNotifyHandler(s.cfg, s.notifyStore, s.dispatcher, s.audits, s.logger),
		logs:       handlers.NewLogsHandler(s.audits),
	}
}
