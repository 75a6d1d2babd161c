// Package tasks runs the scheduled background jobs: the deadline sweep that
// feeds the webhook dispatcher, expired session purging, audit trail
// retention and the evidence vault orphan sweep.
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/config"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/evidence"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/notify"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/store"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

// Files younger than this never count as orphans, so an upload racing the
// sweep cannot lose its ciphertext.
const orphanGrace = time.Hour

type Worker struct {
	cfg      *config.AppConfig
	notifier *notify.Dispatcher
	evidence *evidence.Service
	sessions store.SessionStore
	audits   store.AuditStore
	logger   *utils.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func NewWorker(cfg *config.AppConfig, notifier *notify.Dispatcher, evidenceSvc *evidence.Service,
	sessions store.SessionStore, audits store.AuditStore, logger *utils.Logger) *Worker {
	return &Worker{
		cfg:      cfg,
		notifier: notifier,
		evidence: evidenceSvc,
		sessions: sessions,
		audits:   audits,
		logger:   logger,
	}
}

// StartWithContext schedules the jobs. Overlapping runs of the same job are
// skipped rather than queued.
func (w *Worker) StartWithContext(ctx context.Context) error {
	if w == nil || !w.cfg.Tasks.Enabled {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	deadlineSpec := w.cfg.Tasks.DeadlineSpec
	if deadlineSpec == "" {
		deadlineSpec = "@every 5m"
	}
	if _, err := c.AddFunc(deadlineSpec, func() { w.runDeadlineSweep(ctx) }); err != nil {
		return err
	}
	orphanSpec := w.cfg.Tasks.OrphanSpec
	if orphanSpec == "" {
		orphanSpec = "@every 24h"
	}
	if _, err := c.AddFunc(orphanSpec, func() { w.runMaintenance(ctx) }); err != nil {
		return err
	}
	c.Start()
	w.cron = c
	w.running = true
	if w.logger != nil {
		w.logger.Printf("worker de tareas iniciado (plazos %s, mantención %s)", deadlineSpec, orphanSpec)
	}
	return nil
}

func (w *Worker) StopWithContext(ctx context.Context) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()
	if !wasRunning || c == nil {
		return nil
	}
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunDeadlineSweep fires the pending deadline alerts once and returns how
// many went out.
func (w *Worker) RunDeadlineSweep(ctx context.Context) (int, error) {
	if w.notifier == nil {
		return 0, nil
	}
	return w.notifier.DispatchDeadlineAlerts(ctx)
}

// RunMaintenance purges expired sessions, prunes the audit trail past its
// retention window and removes orphaned evidence ciphertexts in one pass.
func (w *Worker) RunMaintenance(ctx context.Context, now time.Time) error {
	if w.sessions != nil {
		n, err := w.sessions.DeleteExpired(ctx, now)
		if err != nil {
			return err
		}
		if n > 0 && w.logger != nil {
			w.logger.Printf("sesiones expiradas eliminadas: %d", n)
		}
	}
	if w.audits != nil && w.cfg.Tasks.AuditRetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -w.cfg.Tasks.AuditRetentionDays)
		n, err := w.audits.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return err
		}
		if n > 0 && w.logger != nil {
			w.logger.Printf("registros de auditoría purgados: %d", n)
		}
	}
	if w.evidence != nil {
		n, err := w.evidence.SweepOrphans(ctx, orphanGrace)
		if err != nil {
			return err
		}
		if n > 0 && w.logger != nil {
			w.logger.Printf("archivos de evidencia huérfanos eliminados: %d", n)
		}
	}
	return nil
}

func (w *Worker) runDeadlineSweep(ctx context.Context) {
	if _, err := w.RunDeadlineSweep(ctx); err != nil && w.logger != nil {
		w.logger.Errorf("barrido de plazos: %v", err)
	}
}

func (w *Worker) runMaintenance(ctx context.Context) {
	if err := w.RunMaintenance(ctx, time.Now().UTC()); err != nil && w.logger != nil {
		w.logger.Errorf("mantención programada: %v", err)
	}
}
