package incidents

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/config"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/anci"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/semilla"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/store"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

type testEnv struct {
	svc        *Service
	seeds      store.SeedsStore
	incidents  store.IncidentsStore
	companies  store.CompaniesStore
	taxonomies store.TaxonomiesStore
	evidence   store.EvidenceStore
	pse        *store.Company
	oiv        *store.Company
}

func setupIncidentEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.AppConfig{
		DBDriver:  "sqlite",
		DBPath:    filepath.Join(t.TempDir(), "incidents.db"),
		Incidents: config.IncidentsConfig{RegNoFormat: "INC-{year}-{seq:05}"},
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

	env := &testEnv{
		seeds:      store.NewSeedsStore(db),
		incidents:  store.NewIncidentsStore(db),
		companies:  store.NewCompaniesStore(db),
		taxonomies: store.NewTaxonomiesStore(db),
		evidence:   store.NewEvidenceStore(db),
	}
	env.svc = NewService(cfg, env.incidents, env.companies, env.seeds, env.taxonomies, store.NewNotifyStore(db), env.evidence, logger)

	env.pse = &store.Company{
		RUT: "76.123.456-0", RazonSocial: "Transportes Andinos SpA", Tipo: "PSE",
		SectorEsencial: "Transporte", NombreEncargado: "Carla Soto", CargoEncargado: "CISO",
		EmailContacto: "seguridad@andinos.cl", Telefono: "+56 9 5555 0101",
	}
	if _, err := env.companies.Create(ctx, env.pse); err != nil {
		t.Fatalf("crear empresa pse: %v", err)
	}
	env.oiv = &store.Company{
		RUT: "96.800.570-7", RazonSocial: "Eléctrica del Norte S.A.", Tipo: "OIV",
		SectorEsencial: "Energía", ServicioEsencial: true, NombreEncargado: "Pedro Rivas",
		CargoEncargado: "Jefe SOC", EmailContacto: "soc@elenorte.cl", Telefono: "+56 2 2333 4455",
	}
	if _, err := env.companies.Create(ctx, env.oiv); err != nil {
		t.Fatalf("crear empresa oiv: %v", err)
	}
	return env
}

func registerInput(empresaID int64, detectedAt time.Time) RegisterInput {
	return RegisterInput{
		EmpresaID:          empresaID,
		Titulo:             "Ransomware en servidor de archivos",
		Criticidad:         anci.CriticalityCritical,
		AlcanceGeografico:  "Región Metropolitana",
		FechaDeteccion:     detectedAt,
		DescripcionInicial: "Cifrado de carpetas compartidas con nota de rescate",
		ImpactoPreliminar:  "Área de operaciones sin acceso a documentos",
		SistemasAfectados:  "Servidor FS01, NAS respaldo",
		OrigenIncidente:    "Monitoreo interno",
		AccionesInmediatas: "Aislamiento del servidor y bloqueo de cuentas",
		Username:           "csoto",
		InformanteEmail:    "csoto@andinos.cl",
	}
}

func TestRegisterCreatesIncidentAndSeeds(t *testing.T) {
	env := setupIncidentEnv(t)
	ctx := context.Background()
	detected := time.Now().UTC().Add(-30 * time.Minute)

	inc, err := env.svc.Register(ctx, registerInput(env.pse.ID, detected))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !strings.HasPrefix(inc.Correlativo, "INC-") {
		t.Fatalf("correlativo inesperado %q", inc.Correlativo)
	}
	if !strings.Contains(inc.IndiceUnico, "76123456") || !strings.HasSuffix(inc.IndiceUnico, "_1_1_INCIDENTE_NUEVO") {
		t.Fatalf("indice unico inesperado %q", inc.IndiceUnico)
	}
	if inc.Estado != anci.StateOpen || inc.Version != 1 {
		t.Fatalf("estado inicial %s v%d", inc.Estado, inc.Version)
	}

	original, err := env.seeds.LatestSeed(ctx, inc.ID, store.SeedKindOriginal)
	if err != nil || original == nil {
		t.Fatalf("semilla original: %v %v", original, err)
	}
	if original.Version != 1 || original.EstadoTemporal != semilla.EstadoSemillaOriginal {
		t.Fatalf("semilla original v%d estado %s", original.Version, original.EstadoTemporal)
	}
	base, err := env.seeds.LatestSeed(ctx, inc.ID, store.SeedKindBase)
	if err != nil || base == nil {
		t.Fatalf("semilla base: %v %v", base, err)
	}
	doc, err := semilla.Parse(base.Payload)
	if err != nil {
		t.Fatalf("parse semilla: %v", err)
	}
	if ok, err := doc.VerifyIntegrity(); err != nil || !ok {
		t.Fatalf("integridad semilla base: ok=%v err=%v", ok, err)
	}
	if doc.Informante.Empresa.RazonSocial != env.pse.RazonSocial {
		t.Fatalf("empresa no copiada a la semilla: %q", doc.Informante.Empresa.RazonSocial)
	}
	if errores := doc.Validate(); len(errores) != 0 {
		t.Fatalf("semilla recién creada con errores: %v", errores)
	}
	if len(doc.Identificacion.SistemasAfectados) != 2 {
		t.Fatalf("sistemas afectados %v", doc.Identificacion.SistemasAfectados)
	}

	hist, err := env.incidents.ListHistory(ctx, inc.ID, 10)
	if err != nil || len(hist) != 1 {
		t.Fatalf("historial %v %v", hist, err)
	}

	detail, err := env.svc.Get(ctx, inc.ID)
	if err != nil {
		t.Fatalf("detalle: %v", err)
	}
	if detail.ProximoPlazo == nil || detail.ProximoPlazo.Kind != anci.ReportAlertaTemprana {
		t.Fatalf("próximo plazo %+v", detail.ProximoPlazo)
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	env := setupIncidentEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()

	in := registerInput(env.pse.ID, now.Add(-time.Hour))
	in.Titulo = "   "
	if _, err := env.svc.Register(ctx, in); err == nil {
		t.Fatal("titulo vacío aceptado")
	}

	in = registerInput(env.pse.ID, now.Add(-time.Hour))
	in.Criticidad = "urgente"
	if _, err := env.svc.Register(ctx, in); err == nil {
		t.Fatal("criticidad inválida aceptada")
	}

	in = registerInput(env.pse.ID, now.Add(48*time.Hour))
	if _, err := env.svc.Register(ctx, in); err == nil {
		t.Fatal("fecha futura aceptada")
	}

	in = registerInput(9999, now.Add(-time.Hour))
	if _, err := env.svc.Register(ctx, in); !errors.Is(err, ErrCompanyNotFound) {
		t.Fatalf("esperaba ErrCompanyNotFound, obtuve %v", err)
	}
}

func TestUpdateSectionVersionsSeedAndRow(t *testing.T) {
	env := setupIncidentEnv(t)
	ctx := context.Background()
	inc, err := env.svc.Register(ctx, registerInput(env.pse.ID, time.Now().UTC().Add(-time.Hour)))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	patch := json.RawMessage(`{"descripcion":"Cifrado confirmado en tres servidores","descripcion_estado_actual":"Contenido, en análisis forense"}`)
	updated, err := env.svc.UpdateSection(ctx, inc.ID, "2", patch, inc.Version, "csoto")
	if err != nil {
		t.Fatalf("update section: %v", err)
	}
	if updated.Version != inc.Version+1 {
		t.Fatalf("versión no incrementada: %d", updated.Version)
	}
	if updated.DescripcionInicial != "Cifrado confirmado en tres servidores" {
		t.Fatalf("descripción no sincronizada: %q", updated.DescripcionInicial)
	}

	base, err := env.seeds.LatestSeed(ctx, inc.ID, store.SeedKindBase)
	if err != nil || base == nil {
		t.Fatalf("semilla base: %v", err)
	}
	if base.Version != 2 {
		t.Fatalf("semilla base debería ir en v2, está en v%d", base.Version)
	}
	if base.EstadoTemporal != semilla.EstadoEnEdicion {
		t.Fatalf("estado temporal %q", base.EstadoTemporal)
	}
	doc, err := semilla.Parse(base.Payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if doc.Identificacion.Titulo != inc.Titulo {
		t.Fatalf("merge borró campos no tocados: %q", doc.Identificacion.Titulo)
	}

	// stale version must not write
	if _, err := env.svc.UpdateSection(ctx, inc.ID, "2", patch, inc.Version, "csoto"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("esperaba ErrConflict, obtuve %v", err)
	}
	if _, err := env.svc.UpdateSection(ctx, inc.ID, "4", patch, updated.Version, "csoto"); err == nil {
		t.Fatal("sección 4 no debe admitir merge directo")
	}
}

func TestAssignAndRemoveTaxonomy(t *testing.T) {
	env := setupIncidentEnv(t)
	ctx := context.Background()
	inc, err := env.svc.Register(ctx, registerInput(env.pse.ID, time.Now().UTC().Add(-time.Hour)))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	link, err := env.svc.AssignTaxonomy(ctx, inc.ID, "INC_MALW_RANS_CIFR", "Nota de rescate presente", "Cifrado masivo", "csoto")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if link.Orden != 1 || link.Area == "" {
		t.Fatalf("link %+v", link)
	}

	// OIV-only entry must not apply to a PSE company
	if _, err := env.svc.AssignTaxonomy(ctx, inc.ID, "INC_MALW_RANS_OTEC", "x", "y", "csoto"); err == nil {
		t.Fatal("taxonomía OIV aceptada para empresa PSE")
	}
	// duplicate active assignment
	if _, err := env.svc.AssignTaxonomy(ctx, inc.ID, "INC_MALW_RANS_CIFR", "x", "y", "csoto"); !errors.Is(err, semilla.ErrTaxonomyExists) {
		t.Fatalf("esperaba ErrTaxonomyExists, obtuve %v", err)
	}

	ev := &store.Evidence{
		IncidenteID: inc.ID, Grupo: "4.4.1", TaxonomiaLinkID: &link.ID,
		NombreOriginal: "nota_rescate.pdf", Ruta: "vault/nota.enc", SizeBytes: 12,
		Sha256Plain: "aa", Sha256Cipher: "bb", ContentType: "application/pdf",
		SubidoPor: "csoto",
	}
	if _, err := env.evidence.CreateEvidence(ctx, ev); err != nil {
		t.Fatalf("evidencia: %v", err)
	}

	if err := env.svc.RemoveTaxonomy(ctx, inc.ID, link.ID, "csoto"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	links, err := env.taxonomies.ListForIncident(ctx, inc.ID)
	if err != nil || len(links) != 0 {
		t.Fatalf("links tras retiro: %v %v", links, err)
	}
	// files attached to the removed link go with it
	if got, err := env.evidence.GetEvidence(ctx, ev.ID); err != nil || got == nil || got.DeletedAt == nil {
		t.Fatalf("evidencia vinculada sigue activa: %+v err=%v", got, err)
	}

	// the semilla keeps the removed entry and never reuses its orden
	relink, err := env.svc.AssignTaxonomy(ctx, inc.ID, "INC_MALW_RANS_CIFR", "reasignada", "persiste", "csoto")
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if relink.Orden != 2 {
		t.Fatalf("orden reutilizado: %d", relink.Orden)
	}
	base, _ := env.seeds.LatestSeed(ctx, inc.ID, store.SeedKindBase)
	doc, err := semilla.Parse(base.Payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n := len(doc.Taxonomias.Taxonomias.Seleccionadas); n != 2 {
		t.Fatalf("la semilla debe conservar la entrada eliminada, tiene %d", n)
	}
	if n := len(doc.ActiveTaxonomies()); n != 1 {
		t.Fatalf("activas %d", n)
	}
}

func TestCloseFreezesEditing(t *testing.T) {
	env := setupIncidentEnv(t)
	ctx := context.Background()
	inc, err := env.svc.Register(ctx, registerInput(env.pse.ID, time.Now().UTC().Add(-time.Hour)))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	closed, err := env.svc.Close(ctx, inc.ID, "resuelto", "csoto")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Estado != anci.StateClosed || closed.ClosedAt == nil {
		t.Fatalf("cierre incompleto %+v", closed)
	}
	if _, err := env.svc.Close(ctx, inc.ID, "de nuevo", "csoto"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("doble cierre: %v", err)
	}
	detail, err := env.svc.Get(ctx, inc.ID)
	if err != nil {
		t.Fatalf("detalle cerrado: %v", err)
	}
	if detail.ProximoPlazo != nil {
		t.Fatalf("cerrado no debe tener próximo plazo: %+v", detail.ProximoPlazo)
	}

	patch := json.RawMessage(`{"descripcion":"no debería entrar"}`)
	if _, err := env.svc.UpdateSection(ctx, inc.ID, "2", patch, closed.Version, "csoto"); !errors.Is(err, ErrClosed) {
		t.Fatalf("edición sobre cerrado: %v", err)
	}
	if _, err := env.svc.ChangeState(ctx, inc.ID, anci.StateContained, "", "csoto"); !errors.Is(err, ErrClosed) {
		t.Fatalf("cambio de estado sobre cerrado: %v", err)
	}

	reopened, err := env.svc.Reopen(ctx, inc.ID, "nueva evidencia", "csoto")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Estado != anci.StateOpen || reopened.ClosedAt != nil {
		t.Fatalf("reapertura incompleta %+v", reopened)
	}
	if _, err := env.svc.UpdateSection(ctx, inc.ID, "2", patch, reopened.Version, "csoto"); err != nil {
		t.Fatalf("edición tras reapertura: %v", err)
	}
}

func TestDeclareANCIValidatesMandatoryFields(t *testing.T) {
	env := setupIncidentEnv(t)
	ctx := context.Background()
	inc, err := env.svc.Register(ctx, registerInput(env.pse.ID, time.Now().UTC().Add(-time.Hour)))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err = env.svc.DeclareANCI(ctx, inc.ID, "csoto")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("esperaba ValidationError, obtuve %v", err)
	}
	// registration plus company master data leave exactly three gaps
	want := map[string]bool{
		"al menos una taxonomia ANCI":     true,
		"descripcion del estado actual":   true,
		"medidas de contencion aplicadas": true,
	}
	if len(verr.Faltantes) != len(want) {
		t.Fatalf("faltantes %v", verr.Faltantes)
	}
	for _, f := range verr.Faltantes {
		if !want[f] {
			t.Fatalf("faltante inesperado %q", f)
		}
	}

	if _, err := env.svc.AssignTaxonomy(ctx, inc.ID, "INC_MALW_RANS_CIFR", "nota de rescate", "", "csoto"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	cur, _ := env.incidents.GetIncident(ctx, inc.ID)
	if _, err := env.svc.UpdateSection(ctx, inc.ID, "2",
		json.RawMessage(`{"descripcion_estado_actual":"Servicios restablecidos parcialmente"}`), cur.Version, "csoto"); err != nil {
		t.Fatalf("sección 2: %v", err)
	}
	cur, _ = env.incidents.GetIncident(ctx, inc.ID)
	if _, err := env.svc.UpdateSection(ctx, inc.ID, "5",
		json.RawMessage(`{"medidas_contencion":"Segmentación de red y bloqueo de credenciales"}`), cur.Version, "csoto"); err != nil {
		t.Fatalf("sección 5: %v", err)
	}

	declared, err := env.svc.DeclareANCI(ctx, inc.ID, "csoto")
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	if declared.ReporteAnciID == "" || declared.FechaDeclaracionANCI == nil {
		t.Fatalf("declaración incompleta %+v", declared)
	}
	// idempotent: a second call keeps the first id
	again, err := env.svc.DeclareANCI(ctx, inc.ID, "csoto")
	if err != nil || again.ReporteAnciID != declared.ReporteAnciID {
		t.Fatalf("segunda declaración %v %v", again, err)
	}
}

func TestCountdownPerCompanyRegime(t *testing.T) {
	env := setupIncidentEnv(t)
	ctx := context.Background()
	detected := time.Now().UTC().Add(-time.Hour)

	pseInc, err := env.svc.Register(ctx, registerInput(env.pse.ID, detected))
	if err != nil {
		t.Fatalf("register pse: %v", err)
	}
	oivIn := registerInput(env.oiv.ID, detected)
	oivIn.ServiciosEsencialesAfectados = true
	oivInc, err := env.svc.Register(ctx, oivIn)
	if err != nil {
		t.Fatalf("register oiv: %v", err)
	}

	pseItems, err := env.svc.Countdown(ctx, pseInc.ID)
	if err != nil {
		t.Fatalf("countdown pse: %v", err)
	}
	oivItems, err := env.svc.Countdown(ctx, oivInc.ID)
	if err != nil {
		t.Fatalf("countdown oiv: %v", err)
	}
	if len(pseItems) != 4 {
		t.Fatalf("PSE debe 4 reportes, tiene %d", len(pseItems))
	}
	if len(oivItems) != 5 {
		t.Fatalf("OIV debe 5 reportes, tiene %d", len(oivItems))
	}
	due := func(items []anci.CountdownItem, kind anci.ReportKind) time.Time {
		for _, it := range items {
			if it.Kind == kind {
				return it.DueAt
			}
		}
		t.Fatalf("reporte %s ausente", kind)
		return time.Time{}
	}
	if got := due(pseItems, anci.ReportInformePreliminar); !got.Equal(detected.Add(72 * time.Hour)) {
		t.Fatalf("preliminar PSE %v", got)
	}
	if got := due(oivItems, anci.ReportInformePreliminar); !got.Equal(detected.Add(24 * time.Hour)) {
		t.Fatalf("preliminar OIV esencial %v", got)
	}
}

func TestPendingAlertsFlagsOverdueReports(t *testing.T) {
	env := setupIncidentEnv(t)
	ctx := context.Background()
	// detected four hours ago: the 3h alerta temprana is already overdue
	inc, err := env.svc.Register(ctx, registerInput(env.pse.ID, time.Now().UTC().Add(-4*time.Hour)))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	alerts, err := env.svc.PendingAlerts(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("alerts: %v", err)
	}
	var overdue bool
	for _, a := range alerts {
		if a.Incidente.ID == inc.ID && a.Plazo.Kind == anci.ReportAlertaTemprana && a.Clase == AlertOverdue {
			overdue = true
		}
	}
	if !overdue {
		t.Fatalf("alerta temprana vencida no reportada: %+v", alerts)
	}

	// closing the incident removes it from the sweep
	if _, err := env.svc.Close(ctx, inc.ID, "cerrado", "csoto"); err != nil {
		t.Fatalf("close: %v", err)
	}
	alerts, err = env.svc.PendingAlerts(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("alerts tras cierre: %v", err)
	}
	for _, a := range alerts {
		if a.Incidente.ID == inc.ID {
			t.Fatalf("incidente cerrado sigue en el barrido: %+v", a)
		}
	}
}
