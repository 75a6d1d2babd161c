package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/config"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/auth"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/store"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

func setupUsers(t *testing.T) (store.UsersStore, *config.AppConfig) {
	t.Helper()
	cfg := &config.AppConfig{
		DBDriver: "sqlite",
		DBPath:   filepath.Join(t.TempDir(), "bootstrap.db"),
		Pepper:   "pimienta-local",
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
	return store.NewUsersStore(db), cfg
}

func TestEnsureDefaultAdminCreatesAccount(t *testing.T) {
	users, cfg := setupUsers(t)
	ctx := context.Background()

	if err := EnsureDefaultAdminWithStore(ctx, users, cfg, utils.NewNopLogger()); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	admin, roles, err := users.FindByUsername(ctx, "admin")
	if err != nil || admin == nil {
		t.Fatalf("admin ausente tras bootstrap: %v", err)
	}
	if !admin.Active || !admin.PasswordSet {
		t.Fatalf("admin debe quedar activo y con clave, got active=%v set=%v", admin.Active, admin.PasswordSet)
	}
	if !admin.RequirePasswordChange {
		t.Fatal("la clave inicial debe exigir cambio")
	}
	if len(roles) != 1 || roles[0] != "superadmin" {
		t.Fatalf("roles inesperados: %v", roles)
	}
	ph, err := auth.ParsePasswordHash(admin.PasswordHash, admin.Salt)
	if err != nil {
		t.Fatalf("parse hash: %v", err)
	}
	ok, err := auth.VerifyPassword("admin", cfg.Pepper, ph)
	if err != nil || !ok {
		t.Fatalf("la credencial inicial no verifica: ok=%v err=%v", ok, err)
	}
}

func TestEnsureDefaultAdminIsIdempotent(t *testing.T) {
	users, cfg := setupUsers(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := EnsureDefaultAdminWithStore(ctx, users, cfg, nil); err != nil {
			t.Fatalf("pasada %d: %v", i, err)
		}
	}
	all, err := users.List(ctx)
	if err != nil {
		t.Fatalf("listar: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("esperaba una sola cuenta, hay %d", len(all))
	}
}

func TestEnsureDefaultAdminLeavesDisabledAccountAlone(t *testing.T) {
	users, cfg := setupUsers(t)
	ctx := context.Background()

	ph := auth.MustHashPassword("clave-propia", cfg.Pepper)
	id, err := users.Create(ctx, &store.User{
		Username: "admin", FullName: "Admin Retirado",
		PasswordHash: ph.Hash, Salt: ph.Salt, PasswordSet: true,
	}, []string{"admin"})
	if err != nil {
		t.Fatalf("crear admin previo: %v", err)
	}
	if err := users.SetActive(ctx, id, false); err != nil {
		t.Fatalf("desactivar: %v", err)
	}

	if err := EnsureDefaultAdminWithStore(ctx, users, cfg, nil); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	admin, _, err := users.FindByUsername(ctx, "admin")
	if err != nil || admin == nil {
		t.Fatalf("buscar admin: %v", err)
	}
	if admin.Active {
		t.Fatal("el bootstrap no debe reactivar cuentas deshabilitadas")
	}
	if admin.ID != id {
		t.Fatalf("el bootstrap reemplazó la cuenta existente: %d != %d", admin.ID, id)
	}
}
