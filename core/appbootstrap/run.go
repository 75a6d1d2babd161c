// Package appbootstrap assembles the runtime: configuration, database,
// services, background jobs and the HTTP server.
package appbootstrap

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/api"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/config"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/bootstrap"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/store"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

const shutdownTimeout = 15 * time.Second

func configPath() string {
	if p := os.Getenv("AGD_CONFIG"); p != "" {
		return p
	}
	return "config.yml"
}

// Run levanta la plataforma completa y bloquea hasta SIGINT o SIGTERM.
// El apagado drena el servidor HTTP antes de detener los trabajos de fondo.
func Run() error {
	_ = godotenv.Load()

	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}

	logger := utils.NewLogger()
	defer logger.Sync()

	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := store.ApplyMigrations(ctx, db, logger); err != nil {
		return err
	}

	comp, err := composeRuntime(cfg, db, logger)
	if err != nil {
		return err
	}
	if err := bootstrap.EnsureDefaultAdminWithStore(ctx, comp.users, cfg, logger); err != nil {
		return err
	}
	// Migrations seed the default roles, so a failure here only means the
	// built-in policy stays in effect until the next restart.
	if roles, err := comp.roles.LoadPolicyRoles(ctx); err != nil {
		logger.Errorf("carga de roles desde la base: %v", err)
	} else if len(roles) > 0 {
		comp.policy.Reload(roles)
	}

	server := api.NewServer(cfg, comp.serverDeps)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	for _, w := range comp.workers {
		if err := w.StartWithContext(ctx); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("agente digital escuchando en %s (tls=%v)", cfg.ListenAddr, cfg.TLSEnabled)
		var serveErr error
		if cfg.TLSEnabled {
			serveErr = httpSrv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			serveErr = httpSrv.ListenAndServe()
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("apagado del servidor http: %v", err)
	}
	for _, w := range comp.workers {
		if err := w.StopWithContext(shutdownCtx); err != nil {
			logger.Errorf("detención de trabajos de fondo: %v", err)
		}
	}
	logger.Printf("agente digital detenido")
	return nil
}
