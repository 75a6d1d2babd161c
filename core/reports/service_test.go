package reports

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/config"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/anci"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/incidents"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/semilla"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/store"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

type testEnv struct {
	svc    *Service
	incSvc *incidents.Service
	seeds  store.SeedsStore
	cfg    *config.AppConfig
	pse    *store.Company
	oiv    *store.Company
}

func setupReportEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.AppConfig{
		DBDriver:  "sqlite",
		DBPath:    filepath.Join(dir, "reports.db"),
		Incidents: config.IncidentsConfig{RegNoFormat: "INC-{year}-{seq:05}"},
		Reports: config.ReportsConfig{
			StorageDir:   filepath.Join(dir, "informes"),
			TemplatesDir: filepath.Join(dir, "plantillas"),
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
	svc, err := NewService(cfg, incidentsStore, companies, seeds, store.NewReportsStore(db), taxonomies, evidenceStore, logger)
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	env := &testEnv{svc: svc, incSvc: incSvc, seeds: seeds, cfg: cfg}
	env.pse = &store.Company{
		RUT: "76.123.456-0", RazonSocial: "Transportes Andinos SpA", Tipo: "PSE",
		SectorEsencial: "Transporte", NombreEncargado: "Carla Soto", CargoEncargado: "CISO",
		EmailContacto: "seguridad@andinos.cl", Telefono: "+56 9 5555 0101",
	}
	if _, err := companies.Create(ctx, env.pse); err != nil {
		t.Fatalf("empresa pse: %v", err)
	}
	env.oiv = &store.Company{
		RUT: "96.800.570-7", RazonSocial: "Eléctrica del Norte S.A.", Tipo: "OIV",
		SectorEsencial: "Energía", ServicioEsencial: true, NombreEncargado: "Pedro Rivas",
		CargoEncargado: "Jefe SOC", EmailContacto: "soc@elenorte.cl", Telefono: "+56 2 2333 4455",
	}
	if _, err := companies.Create(ctx, env.oiv); err != nil {
		t.Fatalf("empresa oiv: %v", err)
	}
	return env
}

func (env *testEnv) register(t *testing.T, empresaID int64) *store.Incident {
	t.Helper()
	inc, err := env.incSvc.Register(context.Background(), incidents.RegisterInput{
		EmpresaID:          empresaID,
		Titulo:             "Denegación de servicio en portal de pagos",
		Criticidad:         "alta",
		AlcanceGeografico:  "Nacional",
		FechaDeteccion:     time.Now().UTC().Add(-2 * time.Hour),
		DescripcionInicial: "Tráfico anómalo satura el portal de clientes",
		ImpactoPreliminar:  "Portal intermitente",
		SistemasAfectados:  "Portal web, API de pagos",
		AccionesInmediatas: "Activación de mitigación DDoS",
		Username:           "csoto",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return inc
}

// writeTemplate drops a minimal docx with the given document body into the
// templates dir under the seeded filename for that report type.
func (env *testEnv) writeTemplate(t *testing.T, tipo, bodyXML string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	ct, err := zw.Create("[Content_Types].xml")
	if err != nil {
		t.Fatalf("zip: %v", err)
	}
	ct.Write([]byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"/>`))
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("zip: %v", err)
	}
	w.Write([]byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + bodyXML + `</w:body></w:document>`))
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	path := filepath.Join(env.cfg.Reports.TemplatesDir, tipo+".docx")
	if err := os.WriteFile(path, buf.Bytes(), 0o640); err != nil {
		t.Fatalf("plantilla: %v", err)
	}
}

func docText(t *testing.T, data []byte) string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("abrir docx: %v", err)
	}
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		return string(raw)
	}
	t.Fatal("document.xml ausente")
	return ""
}

func TestGenerateSubstitutesMarkers(t *testing.T) {
	env := setupReportEnv(t)
	ctx := context.Background()
	inc := env.register(t, env.pse.ID)
	env.writeTemplate(t, "alerta_temprana",
		`<w:p><w:r><w:t>Incidente {{ID_INCIDENTE}} de {{EMPRESA_NOMBRE}}</w:t></w:r></w:p>`+
			`<w:p><w:r><w:t>{{TITULO_INCIDENTE}}: {{DESCRIPCION_BREVE}}</w:t></w:r></w:p>`+
			`<w:p><w:r><w:t>{{MARCADOR_MISTERIOSO}}</w:t></w:r></w:p>`)

	res, err := env.svc.Generate(ctx, inc.ID, "alerta_temprana", "csoto")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	rep := res.Informe
	if rep.Version != 1 || rep.Formato != "docx" {
		t.Fatalf("informe %+v", rep)
	}
	if len(res.MarcadoresSinResolver) != 1 || res.MarcadoresSinResolver[0] != "MARCADOR_MISTERIOSO" {
		t.Fatalf("sin resolver %v", res.MarcadoresSinResolver)
	}

	got, data, err := env.svc.Download(ctx, inc.ID, rep.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if got.Sha256 != rep.Sha256 {
		t.Fatalf("sha difiere")
	}
	text := docText(t, data)
	if !strings.Contains(text, inc.Correlativo) || !strings.Contains(text, "Transportes Andinos SpA") {
		t.Fatalf("marcadores no sustituidos: %s", text)
	}
	if strings.Contains(text, "{{") {
		t.Fatalf("marcadores sin procesar en el documento: %s", text)
	}

	// regeneration appends a new version with its own file
	res2, err := env.svc.Generate(ctx, inc.ID, "alerta_temprana", "csoto")
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if res2.Informe.Version != 2 {
		t.Fatalf("versión %d", res2.Informe.Version)
	}
	if res2.Informe.Ruta == rep.Ruta {
		t.Fatal("regeneración sobrescribió el archivo anterior")
	}
	if _, err := os.Stat(rep.Ruta); err != nil {
		t.Fatalf("archivo v1 perdido: %v", err)
	}
}

func TestGenerateEnforcesPlanAccionRegime(t *testing.T) {
	env := setupReportEnv(t)
	ctx := context.Background()
	pseInc := env.register(t, env.pse.ID)
	env.writeTemplate(t, "plan_accion", `<w:p><w:r><w:t>{{PROGRAMA_RESTAURACION}}</w:t></w:r></w:p>`)

	if _, err := env.svc.Generate(ctx, pseInc.ID, "plan_accion", "csoto"); !errors.Is(err, ErrOIVOnly) {
		t.Fatalf("plan de acción para PSE: %v", err)
	}
	oivInc := env.register(t, env.oiv.ID)
	if _, err := env.svc.Generate(ctx, oivInc.ID, "plan_accion", "privas"); err != nil {
		t.Fatalf("plan de acción OIV: %v", err)
	}

	if _, err := env.svc.Generate(ctx, pseInc.ID, "reporte_inventado", "csoto"); err == nil {
		t.Fatal("tipo de reporte inválido aceptado")
	}
}

func TestGenerateRejectsTamperedSeed(t *testing.T) {
	env := setupReportEnv(t)
	ctx := context.Background()
	inc := env.register(t, env.pse.ID)
	env.writeTemplate(t, "alerta_temprana", `<w:p><w:r><w:t>{{TITULO_INCIDENTE}}</w:t></w:r></w:p>`)

	seed, err := env.seeds.LatestSeed(ctx, inc.ID, store.SeedKindBase)
	if err != nil || seed == nil {
		t.Fatalf("semilla base: %v", err)
	}
	// edit the payload without resealing, keeping the old hash
	forged := bytes.Replace(seed.Payload, []byte("Denegación de servicio"), []byte("Acceso no autorizado"), 1)
	if bytes.Equal(forged, seed.Payload) {
		t.Fatal("payload sin alterar")
	}
	if _, err := env.seeds.SaveSeed(ctx, &store.Seed{
		IncidenteID:    inc.ID,
		Kind:           store.SeedKindBase,
		EstadoTemporal: seed.EstadoTemporal,
		Payload:        forged,
		HashIntegridad: seed.HashIntegridad,
		CreatedBy:      "csoto",
	}); err != nil {
		t.Fatalf("guardar semilla adulterada: %v", err)
	}

	if _, err := env.svc.Generate(ctx, inc.ID, "alerta_temprana", "csoto"); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("semilla adulterada aceptada: %v", err)
	}
}

func TestMarkSubmittedFreezesDeadline(t *testing.T) {
	env := setupReportEnv(t)
	ctx := context.Background()
	inc := env.register(t, env.pse.ID)
	env.writeTemplate(t, "alerta_temprana", `<w:p><w:r><w:t>{{ID_INCIDENTE}}</w:t></w:r></w:p>`)

	res, err := env.svc.Generate(ctx, inc.ID, "alerta_temprana", "csoto")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	rep, err := env.svc.MarkSubmitted(ctx, inc.ID, res.Informe.ID, "csoto")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rep.PresentadoAt == nil || rep.Estado != "presentado" {
		t.Fatalf("presentación %+v", rep)
	}
	// double submission of the same report
	if _, err := env.svc.MarkSubmitted(ctx, inc.ID, res.Informe.ID, "csoto"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("doble presentación: %v", err)
	}

	seed, err := env.seeds.LatestSeed(ctx, inc.ID, store.SeedKindBase)
	if err != nil || seed == nil {
		t.Fatalf("semilla base: %v", err)
	}
	doc, err := semilla.Parse(seed.Payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !doc.Tecnica.TrackingReportes.AlertaTempranaEnviada {
		t.Fatal("tracking sin marcar")
	}

	items, err := env.incSvc.Countdown(ctx, inc.ID)
	if err != nil {
		t.Fatalf("countdown: %v", err)
	}
	var found bool
	for _, it := range items {
		if it.Kind == anci.ReportAlertaTemprana {
			found = true
			if !it.Submitted || it.SubmittedAt == nil || it.Expired {
				t.Fatalf("item %+v", it)
			}
		}
	}
	if !found {
		t.Fatal("alerta temprana ausente del countdown")
	}
}

func TestTemplatesForFiltersByRegime(t *testing.T) {
	env := setupReportEnv(t)
	ctx := context.Background()

	pseTpls, err := env.svc.TemplatesFor(ctx, "PSE")
	if err != nil {
		t.Fatalf("templates pse: %v", err)
	}
	oivTpls, err := env.svc.TemplatesFor(ctx, "OIV")
	if err != nil {
		t.Fatalf("templates oiv: %v", err)
	}
	if len(pseTpls) != 4 || len(oivTpls) != 5 {
		t.Fatalf("plantillas pse=%d oiv=%d", len(pseTpls), len(oivTpls))
	}
	for _, tpl := range pseTpls {
		if tpl.TipoReporte == "plan_accion" {
			t.Fatal("plan de acción ofrecido a PSE")
		}
	}
}

func TestUploadTemplateReplacesFile(t *testing.T) {
	env := setupReportEnv(t)
	ctx := context.Background()

	tpl, err := env.svc.UploadTemplate(ctx, "informe_final", "mi_formato_final.docx", []byte("PK\x03\x04contenido"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if tpl.NombreArchivo != "informe_final.docx" {
		t.Fatalf("archivo %q", tpl.NombreArchivo)
	}
	if _, err := os.Stat(filepath.Join(env.cfg.Reports.TemplatesDir, "informe_final.docx")); err != nil {
		t.Fatalf("plantilla no escrita: %v", err)
	}
	if _, err := env.svc.UploadTemplate(ctx, "informe_final", "formato.pdf", nil); err == nil {
		t.Fatal("plantilla no docx aceptada")
	}

	md, err := env.svc.UploadTemplate(ctx, "informe_final", "formato_final.md", []byte("# Informe {{ID_INCIDENTE}}"))
	if err != nil {
		t.Fatalf("upload md: %v", err)
	}
	if md.NombreArchivo != "informe_final.md" {
		t.Fatalf("archivo %q", md.NombreArchivo)
	}
}

func TestGenerateMarkdownTemplateNeedsPandoc(t *testing.T) {
	env := setupReportEnv(t)
	ctx := context.Background()
	inc := env.register(t, env.pse.ID)
	if _, err := env.svc.UploadTemplate(ctx, "alerta_temprana", "alerta.md", []byte("# Alerta {{ID_INCIDENTE}}")); err != nil {
		t.Fatalf("upload md: %v", err)
	}
	if _, err := env.svc.Generate(ctx, inc.ID, "alerta_temprana", "csoto"); !errors.Is(err, ErrNoPandoc) {
		t.Fatalf("markdown sin pandoc: %v", err)
	}
}
