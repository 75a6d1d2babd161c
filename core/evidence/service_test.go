package evidence

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/config"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/incidents"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/semilla"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/store"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

type testEnv struct {
	svc      *Service
	incSvc   *incidents.Service
	seeds    store.SeedsStore
	evidence store.EvidenceStore
	inc      *store.Incident
	vaultDir string
}

func setupEvidenceEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.AppConfig{
		DBDriver:  "sqlite",
		DBPath:    filepath.Join(dir, "evidence.db"),
		Incidents: config.IncidentsConfig{RegNoFormat: "INC-{year}-{seq:05}"},
		Evidence: config.EvidenceConfig{
			StorageDir:    filepath.Join(dir, "vault"),
			EncryptionKey: "clave-de-prueba",
			MaxSizeMB:     1,
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

	incidentsStore := store.NewIncidentsStore(db)
	companies := store.NewCompaniesStore(db)
	seeds := store.NewSeedsStore(db)
	taxonomies := store.NewTaxonomiesStore(db)
	evidenceStore := store.NewEvidenceStore(db)
	incSvc := incidents.NewService(cfg, incidentsStore, companies, seeds, taxonomies, store.NewNotifyStore(db), evidenceStore, logger)
	svc, err := NewService(cfg, incidentsStore, evidenceStore, seeds, taxonomies, logger)
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	company := &store.Company{
		RUT: "76.123.456-0", RazonSocial: "Transportes Andinos SpA", Tipo: "PSE",
		SectorEsencial: "Transporte", NombreEncargado: "Carla Soto", CargoEncargado: "CISO",
		EmailContacto: "seguridad@andinos.cl", Telefono: "+56 9 5555 0101",
	}
	if _, err := companies.Create(ctx, company); err != nil {
		t.Fatalf("empresa: %v", err)
	}
	inc, err := incSvc.Register(ctx, incidents.RegisterInput{
		EmpresaID:          company.ID,
		Titulo:             "Fuga de credenciales",
		Criticidad:         "alta",
		FechaDeteccion:     time.Now().UTC().Add(-time.Hour),
		DescripcionInicial: "Credenciales corporativas publicadas en foro",
		Username:           "csoto",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return &testEnv{svc: svc, incSvc: incSvc, seeds: seeds, evidence: evidenceStore, inc: inc, vaultDir: cfg.Evidence.StorageDir}
}

func (env *testEnv) baseDoc(t *testing.T) *semilla.Document {
	t.Helper()
	seed, err := env.seeds.LatestSeed(context.Background(), env.inc.ID, store.SeedKindBase)
	if err != nil || seed == nil {
		t.Fatalf("semilla base: %v", err)
	}
	doc, err := semilla.Parse(seed.Payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func TestUploadEncryptsAndNumbers(t *testing.T) {
	env := setupEvidenceEnv(t)
	ctx := context.Background()
	content := []byte("registro de accesos sospechosos\n2026-08-25 03:11 login fallido\n")

	ev, err := env.svc.Upload(ctx, UploadInput{
		IncidenteID: env.inc.ID,
		Seccion:     "2",
		Filename:    "accesos.txt",
		Content:     content,
		ContentType: "text/plain",
		Username:    "csoto",
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if ev.NumeroEvidencia != "2.5.1" {
		t.Fatalf("número %q", ev.NumeroEvidencia)
	}
	if ev.Sha256Plain != utils.Sha256Hex(content) {
		t.Fatalf("sha plano no coincide")
	}

	// ciphertext on disk, never the plaintext
	raw, err := os.ReadFile(ev.Ruta)
	if err != nil {
		t.Fatalf("leer vault: %v", err)
	}
	if bytes.Contains(raw, []byte("sospechosos")) {
		t.Fatal("el archivo quedó en claro")
	}

	got, plain, err := env.svc.Download(ctx, env.inc.ID, ev.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if !bytes.Equal(plain, content) || got.NumeroEvidencia != "2.5.1" {
		t.Fatalf("descarga no coincide")
	}

	ev2, err := env.svc.Upload(ctx, UploadInput{
		IncidenteID: env.inc.ID, Seccion: "2", Filename: "captura.png",
		Content: []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}, ContentType: "image/png", Username: "csoto",
	})
	if err != nil {
		t.Fatalf("upload 2: %v", err)
	}
	if ev2.NumeroEvidencia != "2.5.2" {
		t.Fatalf("número secuencial %q", ev2.NumeroEvidencia)
	}

	if _, err := env.svc.Upload(ctx, UploadInput{
		IncidenteID: env.inc.ID, Seccion: "3", Filename: "impacto.pdf",
		Content: []byte("%PDF-1.4"), ContentType: "application/pdf", Username: "csoto",
	}); err != nil {
		t.Fatalf("upload 3: %v", err)
	}
	grupo, err := env.svc.ListGroup(ctx, env.inc.ID, "2.5")
	if err != nil {
		t.Fatalf("listar grupo: %v", err)
	}
	if len(grupo) != 2 || grupo[0].NumeroEvidencia != "2.5.1" || grupo[1].NumeroEvidencia != "2.5.2" {
		t.Fatalf("grupo 2.5: %+v", grupo)
	}

	doc := env.baseDoc(t)
	if n := len(doc.Identificacion.Evidencias.Items); n != 2 {
		t.Fatalf("semilla con %d evidencias", n)
	}
	item := doc.Identificacion.Evidencias.Items[0]
	if item.Numero != "2.5.1" || item.Estado != "verificado" || item.Sha256 != ev.Sha256Plain {
		t.Fatalf("item semilla %+v", item)
	}
	if ok, err := doc.VerifyIntegrity(); err != nil || !ok {
		t.Fatalf("integridad: ok=%v err=%v", ok, err)
	}
}

func TestUploadRejectsInvalidFiles(t *testing.T) {
	env := setupEvidenceEnv(t)
	ctx := context.Background()
	base := UploadInput{IncidenteID: env.inc.ID, Seccion: "2", Username: "csoto"}

	in := base
	in.Filename = "malware.exe"
	in.Content = []byte("MZ")
	if _, err := env.svc.Upload(ctx, in); !errors.Is(err, ErrBadExtension) {
		t.Fatalf("extensión: %v", err)
	}

	in = base
	in.Filename = "vacio.txt"
	if _, err := env.svc.Upload(ctx, in); !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("vacío: %v", err)
	}

	in = base
	in.Filename = "enorme.txt"
	in.Content = bytes.Repeat([]byte("x"), int(env.svc.MaxBytes())+1)
	if _, err := env.svc.Upload(ctx, in); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("tamaño: %v", err)
	}

	in = base
	in.Seccion = "7"
	in.Filename = "nota.txt"
	in.Content = []byte("sección sin lista de evidencias")
	if _, err := env.svc.Upload(ctx, in); err == nil {
		t.Fatal("sección 7 aceptó evidencia")
	}

	if _, err := env.incSvc.Close(ctx, env.inc.ID, "cerrado", "csoto"); err != nil {
		t.Fatalf("close: %v", err)
	}
	in = base
	in.Filename = "tarde.txt"
	in.Content = []byte("llega tarde")
	if _, err := env.svc.Upload(ctx, in); !errors.Is(err, ErrClosed) {
		t.Fatalf("cerrado: %v", err)
	}
}

func TestTaxonomyEvidenceNumbering(t *testing.T) {
	env := setupEvidenceEnv(t)
	ctx := context.Background()
	link, err := env.incSvc.AssignTaxonomy(ctx, env.inc.ID, "INC_MALW_RANS_CIFR", "cifrado", "", "csoto")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	ev, err := env.svc.Upload(ctx, UploadInput{
		IncidenteID: env.inc.ID,
		LinkID:      link.ID,
		Filename:    "rescate.pdf",
		Content:     []byte("%PDF-1.4 nota de rescate"),
		ContentType: "application/pdf",
		Username:    "csoto",
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if ev.NumeroEvidencia != "4.4.1.1" {
		t.Fatalf("número %q", ev.NumeroEvidencia)
	}
	if ev.TaxonomiaLinkID == nil || *ev.TaxonomiaLinkID != link.ID {
		t.Fatalf("link no registrado: %+v", ev)
	}

	doc := env.baseDoc(t)
	entry := doc.FindTaxonomyByCatalogID("INC_MALW_RANS_CIFR")
	if entry == nil || len(entry.Evidencias.Items) != 1 {
		t.Fatalf("semilla sin evidencia de taxonomía")
	}
	if entry.Evidencias.Items[0].Numero != "4.4.1.1" {
		t.Fatalf("número en semilla %q", entry.Evidencias.Items[0].Numero)
	}
}

func TestDeleteRestoreAndSweep(t *testing.T) {
	env := setupEvidenceEnv(t)
	ctx := context.Background()
	ev, err := env.svc.Upload(ctx, UploadInput{
		IncidenteID: env.inc.ID, Seccion: "2", Filename: "log.txt",
		Content: []byte("contenido"), ContentType: "text/plain", Username: "csoto",
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if err := env.svc.Delete(ctx, env.inc.ID, ev.ID, "csoto"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := env.svc.Download(ctx, env.inc.ID, ev.ID); !errors.Is(err, ErrDeleted) {
		t.Fatalf("descarga tras borrado: %v", err)
	}
	doc := env.baseDoc(t)
	if doc.Identificacion.Evidencias.Items[0].Estado != "eliminado" {
		t.Fatalf("semilla no marcó eliminado")
	}

	// the soft-deleted row still claims its ciphertext
	if _, err := os.Stat(ev.Ruta); err != nil {
		t.Fatalf("archivo cifrado removido: %v", err)
	}
	removed, err := env.svc.SweepOrphans(ctx, 0)
	if err != nil || removed != 0 {
		t.Fatalf("sweep removió %d, err %v", removed, err)
	}

	// a stray file nobody claims does get collected
	stray := filepath.Join(env.vaultDir, "perdido.enc")
	if err := os.WriteFile(stray, []byte("huérfano"), 0o600); err != nil {
		t.Fatalf("stray: %v", err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stray, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	removed, err = env.svc.SweepOrphans(ctx, time.Hour)
	if err != nil || removed != 1 {
		t.Fatalf("sweep huérfano removió %d, err %v", removed, err)
	}

	if err := env.svc.Restore(ctx, env.inc.ID, ev.ID, "csoto"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if _, plain, err := env.svc.Download(ctx, env.inc.ID, ev.ID); err != nil || string(plain) != "contenido" {
		t.Fatalf("descarga tras restauración: %v", err)
	}
	doc = env.baseDoc(t)
	if doc.Identificacion.Evidencias.Items[0].Estado != "verificado" {
		t.Fatalf("semilla no restauró estado")
	}
}

func TestReplaceKeepsNumber(t *testing.T) {
	env := setupEvidenceEnv(t)
	ctx := context.Background()
	ev, err := env.svc.Upload(ctx, UploadInput{
		IncidenteID: env.inc.ID, Seccion: "5", Filename: "contencion.txt",
		Content: []byte("versión uno"), ContentType: "text/plain", Username: "csoto",
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	oldPath := ev.Ruta

	replaced, err := env.svc.Replace(ctx, env.inc.ID, ev.ID, "contencion-v2.txt", []byte("versión dos"), "text/plain", ev.Version, "csoto")
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if replaced.NumeroEvidencia != "5.2.1" || replaced.Version != 2 {
		t.Fatalf("reemplazo %+v", replaced)
	}
	if _, err := os.Stat(oldPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("archivo anterior sigue en disco")
	}
	if _, plain, err := env.svc.Download(ctx, env.inc.ID, ev.ID); err != nil || string(plain) != "versión dos" {
		t.Fatalf("contenido tras reemplazo: %q %v", plain, err)
	}

	doc := env.baseDoc(t)
	item := doc.Respuesta.Evidencias.Items[0]
	if item.Numero != "5.2.1" || item.Version != 2 || item.Nombre != "contencion-v2.txt" {
		t.Fatalf("semilla tras reemplazo %+v", item)
	}

	// stale version
	if _, err := env.svc.Replace(ctx, env.inc.ID, ev.ID, "x.txt", []byte("y"), "text/plain", 1, "csoto"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("versión obsoleta: %v", err)
	}
}
