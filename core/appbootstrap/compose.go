package appbootstrap

import (
	"github.com/alex3000silvac-ai/Agente-Digital-v2/api"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/config"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/auth"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/evidence"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/incidents"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/notify"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/rbac"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/reports"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/store"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/tasks"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

type runtimeComposition struct {
	serverDeps api.Deps
	users      store.UsersStore
	roles      store.RolesStore
	sessions   store.SessionStore
	policy     *rbac.Policy
	workers    []api.BackgroundWorker
}

func composeRuntime(cfg *config.AppConfig, db *store.DB, logger *utils.Logger) (*runtimeComposition, error) {
	users := store.NewUsersStore(db)
	sessions := store.NewSessionsStore(db)
	roles := store.NewRolesStore(db)
	audits := store.NewAuditStore(db)
	companies := store.NewCompaniesStore(db)
	incidentsStore := store.NewIncidentsStore(db)
	seeds := store.NewSeedsStore(db)
	taxonomies := store.NewTaxonomiesStore(db)
	sections := store.NewSectionsStore(db)
	evidenceStore := store.NewEvidenceStore(db)
	reportsStore := store.NewReportsStore(db)
	notifyStore := store.NewNotifyStore(db)

	policy := rbac.NewPolicy(rbac.DefaultRoles())
	sessionManager := auth.NewSessionManager(sessions, cfg, logger)

	incidentsSvc := incidents.NewService(cfg, incidentsStore, companies, seeds, taxonomies, notifyStore, evidenceStore, logger)
	evidenceSvc, err := evidence.NewService(cfg, incidentsStore, evidenceStore, seeds, taxonomies, logger)
	if err != nil {
		return nil, err
	}
	reportsSvc, err := reports.NewService(cfg, incidentsStore, companies, seeds, reportsStore, taxonomies, evidenceStore, logger)
	if err != nil {
		return nil, err
	}
	dispatcher := notify.NewDispatcher(cfg, incidentsSvc, notifyStore, nil, logger)
	worker := tasks.NewWorker(cfg, dispatcher, evidenceSvc, sessions, audits, logger)

	return &runtimeComposition{
		serverDeps: api.Deps{
			Users:          users,
			Roles:          roles,
			Sessions:       sessions,
			Companies:      companies,
			Seeds:          seeds,
			Taxonomies:     taxonomies,
			Sections:       sections,
			Notify:         notifyStore,
			Audits:         audits,
			Incidents:      incidentsSvc,
			Evidence:       evidenceSvc,
			Reports:        reportsSvc,
			Dispatcher:     dispatcher,
			Policy:         policy,
			SessionManager: sessionManager,
			Logger:         logger,
		},
		users:    users,
		roles:    roles,
		sessions: sessions,
		policy:   policy,
		workers:  []api.BackgroundWorker{worker},
	}, nil
}
