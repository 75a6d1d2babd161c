package tasks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/config"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/evidence"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/incidents"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/notify"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/store"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

type testEnv struct {
	worker   *Worker
	incSvc   *incidents.Service
	sessions store.SessionStore
	channels store.NotifyStore
	audits   store.AuditStore
	cfg      *config.AppConfig
	empresa  *store.Company
	vaultDir string
}

func setupWorkerEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.AppConfig{
		DBDriver:  "sqlite",
		DBPath:    filepath.Join(dir, "tasks.db"),
		Incidents: config.IncidentsConfig{RegNoFormat: "INC-{year}-{seq:05}"},
		Evidence: config.EvidenceConfig{
			StorageDir:    filepath.Join(dir, "vault"),
			EncryptionKey: "clave-de-prueba",
		},
		Notify: config.NotifyConfig{
			Enabled:        true,
			WarningWindow:  time.Hour,
			WebhookTimeout: 2 * time.Second,
			MaxAttempts:    1,
		},
		Tasks: config.TasksConfig{
			Enabled:            true,
			DeadlineSpec:       "@every 1h",
			OrphanSpec:         "@every 1h",
			AuditRetentionDays: 90,
		},
	}
	logger := utils.NewNopLogger()
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	if err := store.ApplyMigrations(ctx, db, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	companies := store.NewCompaniesStore(db)
	channels := store.NewNotifyStore(db)
	incSvc := incidents.NewService(cfg, store.NewIncidentsStore(db), companies,
		store.NewSeedsStore(db), store.NewTaxonomiesStore(db), channels, store.NewEvidenceStore(db), logger)
	evidenceSvc, err := evidence.NewService(cfg, store.NewIncidentsStore(db), store.NewEvidenceStore(db),
		store.NewSeedsStore(db), store.NewTaxonomiesStore(db), logger)
	if err != nil {
		t.Fatalf("evidencias: %v", err)
	}
	sessions := store.NewSessionsStore(db)
	audits := store.NewAuditStore(db)
	dispatcher := notify.NewDispatcher(cfg, incSvc, channels, nil, logger)

	env := &testEnv{
		worker:   NewWorker(cfg, dispatcher, evidenceSvc, sessions, audits, logger),
		incSvc:   incSvc,
		sessions: sessions,
		channels: channels,
		audits:   audits,
		cfg:      cfg,
		vaultDir: cfg.Evidence.StorageDir,
	}
	env.empresa = &store.Company{
		RUT: "76.123.456-0", RazonSocial: "Transportes Andinos SpA", Tipo: "PSE",
		SectorEsencial: "Transporte",
	}
	if _, err := companies.Create(ctx, env.empresa); err != nil {
		t.Fatalf("crear empresa: %v", err)
	}
	return env
}

func TestRunMaintenancePurgesSessionsAndOrphans(t *testing.T) {
	env := setupWorkerEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := &store.SessionRecord{
		ID: "ses-expirada", UserID: 1, Username: "csoto",
		CreatedAt: now.Add(-5 * time.Hour), LastSeenAt: now.Add(-4 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}
	if err := env.sessions.SaveSession(ctx, expired); err != nil {
		t.Fatalf("sesión: %v", err)
	}
	alive := &store.SessionRecord{
		ID: "ses-viva", UserID: 1, Username: "csoto",
		CreatedAt: now, LastSeenAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := env.sessions.SaveSession(ctx, alive); err != nil {
		t.Fatalf("sesión: %v", err)
	}

	orphan := filepath.Join(env.vaultDir, "perdido.enc")
	if err := os.WriteFile(orphan, []byte("restos"), 0o600); err != nil {
		t.Fatalf("huérfano: %v", err)
	}
	old := now.Add(-3 * time.Hour)
	if err := os.Chtimes(orphan, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if err := env.worker.RunMaintenance(ctx, now); err != nil {
		t.Fatalf("mantención: %v", err)
	}

	if rec, _ := env.sessions.GetSession(ctx, "ses-viva"); rec == nil {
		t.Fatal("sesión vigente eliminada")
	}
	// a second purge finds nothing left
	if n, err := env.sessions.DeleteExpired(ctx, now); err != nil || n != 0 {
		t.Fatalf("purga incompleta: n=%d err=%v", n, err)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatalf("huérfano sigue en disco: %v", err)
	}
}

func TestRunMaintenancePrunesAuditTrail(t *testing.T) {
	env := setupWorkerEnv(t)
	ctx := context.Background()
	since := time.Now().UTC().Add(-time.Hour)

	if err := env.audits.Log(ctx, "csoto", "auth.login", "ok"); err != nil {
		t.Fatalf("auditoría: %v", err)
	}

	// fresh entries survive a maintenance pass
	if err := env.worker.RunMaintenance(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("mantención: %v", err)
	}
	recs, err := env.audits.List(ctx, store.AuditFilter{Since: since})
	if err != nil {
		t.Fatalf("listar: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("registros=%d, esperaba 1", len(recs))
	}

	// once the retention window passes, the entry goes
	future := time.Now().UTC().AddDate(0, 0, env.cfg.Tasks.AuditRetentionDays+1)
	if err := env.worker.RunMaintenance(ctx, future); err != nil {
		t.Fatalf("mantención futura: %v", err)
	}
	recs, err = env.audits.List(ctx, store.AuditFilter{Since: since})
	if err != nil {
		t.Fatalf("listar: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("registros=%d tras la purga, esperaba 0", len(recs))
	}
}

func TestRunDeadlineSweepDispatchesAlerts(t *testing.T) {
	env := setupWorkerEnv(t)
	ctx := context.Background()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	ch := &store.NotifyChannel{Nombre: "SOC", Tipo: "webhook", URL: server.URL, Activo: true}
	if _, err := env.channels.CreateChannel(ctx, ch); err != nil {
		t.Fatalf("canal: %v", err)
	}
	if _, err := env.incSvc.Register(ctx, incidents.RegisterInput{
		EmpresaID:      env.empresa.ID,
		Titulo:         "Fuga de datos en API",
		Criticidad:     "alta",
		FechaDeteccion: time.Now().UTC().Add(-4 * time.Hour),
		Username:       "csoto",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	fired, err := env.worker.RunDeadlineSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if fired != 1 || hits.Load() != 1 {
		t.Fatalf("fired=%d hits=%d", fired, hits.Load())
	}
}

func TestWorkerLifecycle(t *testing.T) {
	env := setupWorkerEnv(t)
	ctx := context.Background()

	if err := env.worker.StartWithContext(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	// idempotent start
	if err := env.worker.StartWithContext(ctx); err != nil {
		t.Fatalf("segundo start: %v", err)
	}
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := env.worker.StopWithContext(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	// stop after stop is a no-op
	if err := env.worker.StopWithContext(stopCtx); err != nil {
		t.Fatalf("segundo stop: %v", err)
	}

	env.cfg.Tasks.Enabled = false
	if err := env.worker.StartWithContext(ctx); err != nil {
		t.Fatalf("start deshabilitado: %v", err)
	}
	if err := env.worker.StopWithContext(stopCtx); err != nil {
		t.Fatalf("stop deshabilitado: %v", err)
	}
}
