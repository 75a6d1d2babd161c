// Package reports generates the official ANCI documents from docx templates:
// marker substitution fed by the incident, the company master data and the
// semilla, plus the submission tracking that freezes each deadline.
package reports

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/config"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/anci"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/docgen"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/semilla"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/store"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

var (
	ErrIncident   = errors.New("incidente no encontrado")
	ErrCompany    = errors.New("empresa no encontrada")
	ErrNoSeed     = errors.New("incidente sin semilla base")
	ErrNotFound   = errors.New("informe no encontrado")
	ErrNoTemplate = errors.New("sin plantilla activa para el tipo de reporte")
	ErrOIVOnly    = errors.New("el plan de acción aplica solo a entidades OIV")
	ErrNoPDF      = errors.New("conversión a PDF no disponible")
	ErrNoPandoc   = errors.New("plantilla markdown requiere pandoc habilitado")
	ErrIntegrity  = errors.New("hash de integridad de la semilla no coincide")
)

type Service struct {
	cfg        *config.AppConfig
	incidents  store.IncidentsStore
	companies  store.CompaniesStore
	seeds      store.SeedsStore
	reports    store.ReportsStore
	taxonomies store.TaxonomiesStore
	evidence   store.EvidenceStore
	converter  *docgen.Converter
	logger     *utils.Logger
}

func NewService(cfg *config.AppConfig, incidents store.IncidentsStore, companies store.CompaniesStore,
	seeds store.SeedsStore, reports store.ReportsStore, taxonomies store.TaxonomiesStore,
	evidence store.EvidenceStore, logger *utils.Logger) (*Service, error) {
	if cfg.Reports.StorageDir == "" {
		cfg.Reports.StorageDir = "data/informes"
	}
	if cfg.Reports.TemplatesDir == "" {
		cfg.Reports.TemplatesDir = "data/plantillas"
	}
	for _, dir := range []string{cfg.Reports.StorageDir, cfg.Reports.TemplatesDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}
	return &Service{
		cfg:        cfg,
		incidents:  incidents,
		companies:  companies,
		seeds:      seeds,
		reports:    reports,
		taxonomies: taxonomies,
		evidence:   evidence,
		converter:  docgen.NewConverter(cfg.Reports.Converters),
		logger:     logger,
	}, nil
}

// TemplatesFor lists the active templates a company of that type may use.
// Plan de Acción is offered only under the OIV regime.
func (s *Service) TemplatesFor(ctx context.Context, tipoEmpresa string) ([]store.ReportTemplate, error) {
	all, err := s.reports.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	ct, err := anci.ParseCompanyType(tipoEmpresa)
	if err != nil {
		return nil, err
	}
	out := make([]store.ReportTemplate, 0, len(all))
	for _, tpl := range all {
		if !tpl.Activa {
			continue
		}
		if tpl.TipoReporte == string(anci.ReportPlanAccion) && !ct.ReportsAsOIV() {
			continue
		}
		out = append(out, tpl)
	}
	return out, nil
}

// UploadTemplate replaces the docx template behind a report type.
func (s *Service) UploadTemplate(ctx context.Context, tipo, nombre string, content []byte) (*store.ReportTemplate, error) {
	kind, err := anci.ParseReportKind(tipo)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(nombre))
	if ext != ".docx" && ext != ".md" {
		return nil, errors.New("la plantilla debe ser un archivo .docx o .md")
	}
	filename := string(kind) + ext
	path := filepath.Join(s.cfg.Reports.TemplatesDir, filename)
	if err := os.WriteFile(path, content, 0o640); err != nil {
		return nil, err
	}
	tpl := &store.ReportTemplate{
		TipoReporte:   string(kind),
		Nombre:        kind.DisplayName(),
		NombreArchivo: filename,
		Descripcion:   "plantilla cargada: " + nombre,
		Activa:        true,
	}
	if err := s.reports.UpsertTemplate(ctx, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

// GenerateResult pairs the stored report with the unresolved markers the
// caller should surface.
type GenerateResult struct {
	Informe                *store.Report `json:"informe"`
	MarcadoresReemplazados int           `json:"marcadores_reemplazados"`
	MarcadoresSinResolver  []string      `json:"marcadores_sin_resolver"`
}

// Generate renders the docx for one report type from the latest semilla and
// stores it as a new version. Regenerating never overwrites earlier files.
func (s *Service) Generate(ctx context.Context, incidenteID int64, tipo, username string) (*GenerateResult, error) {
	kind, err := anci.ParseReportKind(tipo)
	if err != nil {
		return nil, err
	}
	inc, err := s.incidents.GetIncident(ctx, incidenteID)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrIncident
	}
	company, err := s.companies.Get(ctx, inc.EmpresaID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, ErrCompany
	}
	ct, err := anci.ParseCompanyType(company.Tipo)
	if err != nil {
		return nil, err
	}
	if kind == anci.ReportPlanAccion && !ct.ReportsAsOIV() {
		return nil, ErrOIVOnly
	}
	tpl, err := s.reports.GetTemplate(ctx, string(kind))
	if err != nil {
		return nil, err
	}
	if tpl == nil || !tpl.Activa {
		return nil, ErrNoTemplate
	}
	tplPath := filepath.Join(s.cfg.Reports.TemplatesDir, tpl.NombreArchivo)
	if _, err := os.Stat(tplPath); err != nil {
		return nil, fmt.Errorf("plantilla %s no disponible: %w", tpl.NombreArchivo, err)
	}
	doc, err := s.loadBaseDoc(ctx, incidenteID)
	if err != nil {
		return nil, err
	}
	links, err := s.taxonomies.ListForIncident(ctx, incidenteID)
	if err != nil {
		return nil, err
	}
	files, err := s.evidence.ListEvidence(ctx, incidenteID, false)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	values := s.markerValues(kind, inc, company, ct, doc, links, files, now)
	suffix := uuid.Must(uuid.NewV4()).String()[:8]
	filename := fmt.Sprintf("ANCI_%s_%s_%s_%s.docx", strings.ToUpper(string(kind)), inc.Correlativo, now.UTC().Format("20060102_150405"), suffix)
	outPath := filepath.Join(s.cfg.Reports.StorageDir, filename)
	var res *docgen.RenderResult
	if strings.EqualFold(filepath.Ext(tpl.NombreArchivo), ".md") {
		res, err = s.renderMarkdownTemplate(ctx, tplPath, outPath, values)
	} else {
		res, err = docgen.RenderDocxFile(tplPath, outPath, values)
	}
	if err != nil {
		return nil, err
	}
	rendered, err := os.ReadFile(outPath)
	if err != nil {
		return nil, err
	}

	rep := &store.Report{
		IncidenteID:           incidenteID,
		TipoReporte:           string(kind),
		NombreArchivo:         filename,
		Ruta:                  outPath,
		SizeBytes:             int64(len(rendered)),
		Sha256:                utils.Sha256Hex(rendered),
		Formato:               "docx",
		MarcadoresSinResolver: res.Unresolved,
		GeneradoPor:           username,
	}
	if _, err := s.reports.CreateReport(ctx, rep); err != nil {
		_ = os.Remove(outPath)
		return nil, err
	}
	if s.logger != nil {
		s.logger.Printf("informe %s v%d generado para incidente %s (%d marcadores, %d sin resolver)",
			kind, rep.Version, inc.Correlativo, res.Replaced, len(res.Unresolved))
	}
	return &GenerateResult{Informe: rep, MarcadoresReemplazados: res.Replaced, MarcadoresSinResolver: res.Unresolved}, nil
}

// renderMarkdownTemplate fills a markdown template and converts the result to
// docx through pandoc. Markdown is the authoring fallback when no official
// docx exists for a report type.
func (s *Service) renderMarkdownTemplate(ctx context.Context, tplPath, outPath string, values map[string]string) (*docgen.RenderResult, error) {
	if !s.converter.Enabled() || !s.converter.PandocAvailable {
		return nil, ErrNoPandoc
	}
	raw, err := os.ReadFile(tplPath)
	if err != nil {
		return nil, err
	}
	filled, res := docgen.RenderText(string(raw), values)
	out, err := s.converter.MarkdownToDocx(ctx, []byte(filled))
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(outPath, out, 0o640); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) List(ctx context.Context, incidenteID int64) ([]store.Report, error) {
	return s.reports.ListReports(ctx, incidenteID)
}

// Download returns the stored docx after an integrity check.
func (s *Service) Download(ctx context.Context, incidenteID, reportID int64) (*store.Report, []byte, error) {
	rep, err := s.owned(ctx, incidenteID, reportID)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(rep.Ruta)
	if err != nil {
		return nil, nil, err
	}
	if utils.Sha256Hex(data) != rep.Sha256 {
		return nil, nil, errors.New("integridad del informe comprometida")
	}
	return rep, data, nil
}

// DownloadPDF converts the stored docx through LibreOffice when the
// converter is configured.
func (s *Service) DownloadPDF(ctx context.Context, incidenteID, reportID int64) (*store.Report, []byte, error) {
	if !s.converter.Enabled() || !s.converter.SofficeAvailable {
		return nil, nil, ErrNoPDF
	}
	rep, data, err := s.Download(ctx, incidenteID, reportID)
	if err != nil {
		return nil, nil, err
	}
	pdf, err := s.converter.DocxToPDF(ctx, data)
	if err != nil {
		return nil, nil, err
	}
	return rep, pdf, nil
}

// MarkSubmitted records the official presentation to ANCI: the report row
// gets its timestamp and the semilla tracking freezes that deadline.
func (s *Service) MarkSubmitted(ctx context.Context, incidenteID, reportID int64, username string) (*store.Report, error) {
	rep, err := s.owned(ctx, incidenteID, reportID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if err := s.reports.MarkPresented(ctx, reportID, now); err != nil {
		return nil, err
	}
	rep.PresentadoAt = &now
	rep.Estado = "presentado"

	doc, err := s.loadBaseDoc(ctx, incidenteID)
	if err != nil {
		return nil, err
	}
	if doc.Metadata.EstadoTemporal != semilla.EstadoEnEdicion {
		if err := doc.MarkEstado(semilla.EstadoEnEdicion, now); err != nil {
			return nil, err
		}
	}
	if !doc.MarkReportSent(rep.TipoReporte, now) {
		return nil, fmt.Errorf("tipo de reporte %q sin tracking", rep.TipoReporte)
	}
	if _, err := doc.Seal(now); err != nil {
		return nil, err
	}
	if err := s.saveSeed(ctx, incidenteID, doc, username); err != nil {
		return nil, err
	}
	_, err = s.incidents.AddHistory(ctx, &store.IncidentHistoryEntry{
		IncidenteID: incidenteID,
		Comentario:  anci.ReportKind(rep.TipoReporte).DisplayName() + " presentado a ANCI",
		Username:    username,
	})
	if err != nil && s.logger != nil {
		s.logger.Errorf("historial de presentación no registrado: %v", err)
	}
	if s.logger != nil {
		s.logger.Printf("informe %s del incidente %d presentado a ANCI", rep.TipoReporte, incidenteID)
	}
	return rep, nil
}

// ConverterStatus reports which external converters this node can use.
func (s *Service) ConverterStatus() map[string]bool {
	return map[string]bool{
		"habilitado": s.converter.Enabled(),
		"pandoc":     s.converter.PandocAvailable,
		"soffice":    s.converter.SofficeAvailable,
	}
}

func (s *Service) owned(ctx context.Context, incidenteID, reportID int64) (*store.Report, error) {
	rep, err := s.reports.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if rep == nil || rep.IncidenteID != incidenteID {
		return nil, ErrNotFound
	}
	return rep, nil
}

// loadBaseDoc reads the newest semilla and refuses to work from a snapshot
// whose integrity hash no longer matches.
func (s *Service) loadBaseDoc(ctx context.Context, incidenteID int64) (*semilla.Document, error) {
	seed, err := s.seeds.LatestSeed(ctx, incidenteID, store.SeedKindBase)
	if err != nil {
		return nil, err
	}
	if seed == nil {
		return nil, ErrNoSeed
	}
	doc, err := semilla.Parse(seed.Payload)
	if err != nil {
		return nil, err
	}
	ok, err := doc.VerifyIntegrity()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrIntegrity
	}
	return doc, nil
}

func (s *Service) saveSeed(ctx context.Context, incidenteID int64, doc *semilla.Document, createdBy string) error {
	raw, err := doc.Marshal()
	if err != nil {
		return err
	}
	_, err = s.seeds.SaveSeed(ctx, &store.Seed{
		IncidenteID:    incidenteID,
		Kind:           store.SeedKindBase,
		EstadoTemporal: doc.Metadata.EstadoTemporal,
		Payload:        raw,
		HashIntegridad: doc.Metadata.HashIntegridad,
		CreatedBy:      createdBy,
	})
	return err
}

// markerValues builds the full substitution map. Every known marker gets a
// value regardless of report type; the template decides which ones it uses.
func (s *Service) markerValues(kind anci.ReportKind, inc *store.Incident, company *store.Company,
	ct anci.CompanyType, doc *semilla.Document, links []store.IncidentTaxonomy,
	files []store.Evidence, now time.Time) map[string]string {
	loc := s.cfg.Location()
	stamp := func(t time.Time) string { return t.In(loc).Format("02-01-2006 15:04") }

	values := map[string]string{
		"FECHA_REPORTE":       stamp(now),
		"TIPO_REPORTE":        kind.DisplayName(),
		"ID_INCIDENTE":        inc.Correlativo,
		"INDICE_UNICO":        inc.IndiceUnico,
		"EMPRESA_NOMBRE":      company.RazonSocial,
		"EMPRESA_RUT":         company.RUT,
		"TIPO_ENTIDAD":        company.Tipo,
		"SECTOR_ESENCIAL":     company.SectorEsencial,
		"TITULO_INCIDENTE":    inc.Titulo,
		"CRITICIDAD":          strings.ToUpper(inc.Criticidad),
		"ESTADO_INCIDENTE":    inc.Estado,
		"FECHA_DETECCION":     stamp(inc.FechaDeteccion),
		"DESCRIPCION_BREVE":   doc.Identificacion.Descripcion,
		"IMPACTO_INICIAL":     doc.Identificacion.ImpactoOperacional,
		"ACCIONES_INMEDIATAS": doc.Respuesta.AccionesInmediatas,
		"ALCANCE_GEOGRAFICO":  doc.Identificacion.AlcanceGeografico,
		"SISTEMAS_AFECTADOS":  strings.Join(doc.Identificacion.SistemasAfectados, "; "),
	}
	values["SERVICIOS_INTERRUMPIDOS"] = doc.Identificacion.ServiciosInterrumpidos
	values["CONTACTO_RESPONSABLE"] = contactoResponsable(doc)
	values["CONTACTO_TELEFONO"] = doc.Informante.ContactoEmergencia.Telefono247
	values["CONTACTO_EMAIL"] = doc.Informante.ContactoEmergencia.EmailOficialSeguridad
	values["ESTADO_ACTUAL"] = doc.Identificacion.DescripcionEstadoActual
	values["MEDIDAS_CONTENCION"] = doc.Respuesta.MedidasContencion
	if inc.FechaOcurrencia != nil {
		values["FECHA_OCURRENCIA"] = stamp(*inc.FechaOcurrencia)
	} else {
		values["FECHA_OCURRENCIA"] = "no determinada"
	}
	values["PLAZO_LIMITE"] = ""
	for _, d := range anci.Schedule(ct, inc.ServiciosEsencialesAfectados, inc.FechaDeteccion) {
		if d.Kind == kind {
			values["PLAZO_LIMITE"] = stamp(d.DueAt)
		}
	}

	// informe completo
	values["ANALISIS_DETALLADO"] = doc.CausaRaiz.AnalisisPreliminar
	values["TAXONOMIAS_SELECCIONADAS"] = taxonomyLines(links)
	values["EVIDENCIAS_RECOPILADAS"] = evidenceLines(files)
	values["CRONOLOGIA_EVENTOS"] = cronologiaLines(doc.Tecnica.CronologiaDetallada)
	values["VECTOR_ATAQUE"] = doc.Tecnica.VectorAtaque
	values["VULNERABILIDAD_EXPLOTADA"] = doc.Tecnica.VulnerabilidadExplotada
	values["PLAN_RECUPERACION"] = doc.Tecnica.PlanAccionOIV.ProgramaRestauracion

	// informe final
	values["CAUSA_RAIZ"] = doc.CausaRaiz.DescripcionCausaRaiz
	values["LECCIONES_APRENDIDAS"] = doc.Lecciones.AccionesCorrectivas
	values["MEJORAS_IMPLEMENTADAS"] = doc.Lecciones.MejorasProcesos
	values["RECOMENDACIONES"] = doc.Lecciones.AccionesPreventivas
	values["COSTO_TOTAL"] = costoTotal(doc.Tecnica.ImpactoEconomico)
	values["TIEMPO_RESOLUCION"] = tiempoResolucion(inc)
	values["METRICAS_FINALES"] = doc.Seguimiento.MetricasSeguimiento

	// plan de acción OIV
	plan := doc.Tecnica.PlanAccionOIV
	values["PROGRAMA_RESTAURACION"] = plan.ProgramaRestauracion
	values["RESPONSABLES_ADMINISTRATIVOS"] = plan.ResponsablesAdministrativos
	values["TIEMPO_RESTABLECIMIENTO"] = fmt.Sprintf("%.1f horas", plan.TiempoRestablecimientoHoras)
	values["RECURSOS_NECESARIOS"] = plan.RecursosNecesarios
	values["ACCIONES_CORTO_PLAZO"] = plan.AccionesCortoPlazo
	values["ACCIONES_MEDIANO_PLAZO"] = plan.AccionesMedianoPlazo
	values["ACCIONES_LARGO_PLAZO"] = plan.AccionesLargoPlazo

	for k, v := range values {
		if strings.TrimSpace(v) == "" {
			values[k] = "sin información"
		}
	}
	return values
}

func contactoResponsable(doc *semilla.Document) string {
	c := doc.Informante.ContactoEmergencia
	switch {
	case c.NombreReportante == "":
		return ""
	case c.CargoReportante == "":
		return c.NombreReportante
	default:
		return c.NombreReportante + ", " + c.CargoReportante
	}
}

func taxonomyLines(links []store.IncidentTaxonomy) string {
	if len(links) == 0 {
		return ""
	}
	lines := make([]string, 0, len(links))
	for _, l := range links {
		label := l.TaxonomiaID
		if l.Categoria != "" {
			label = fmt.Sprintf("%s (%s)", l.Categoria, l.TaxonomiaID)
		}
		lines = append(lines, fmt.Sprintf("%d. %s", l.Orden, label))
	}
	return strings.Join(lines, "; ")
}

func evidenceLines(files []store.Evidence) string {
	if len(files) == 0 {
		return ""
	}
	lines := make([]string, 0, len(files))
	for _, f := range files {
		lines = append(lines, fmt.Sprintf("%s %s (%d KB)", f.NumeroEvidencia, f.NombreOriginal, f.SizeBytes/1024))
	}
	return strings.Join(lines, "; ")
}

func cronologiaLines(eventos []semilla.EventoCronologia) string {
	if len(eventos) == 0 {
		return ""
	}
	lines := make([]string, 0, len(eventos))
	for _, e := range eventos {
		lines = append(lines, e.Fecha+" "+e.Descripcion)
	}
	return strings.Join(lines, "; ")
}

func costoTotal(imp semilla.ImpactoEconomico) string {
	total := imp.CostosRecuperacion + imp.PerdidasOperativas + imp.CostosTerceros
	if total == 0 {
		return ""
	}
	return fmt.Sprintf("$%.0f CLP", total)
}

func tiempoResolucion(inc *store.Incident) string {
	if inc.ClosedAt == nil {
		return "en curso"
	}
	return fmt.Sprintf("%.1f horas", inc.ClosedAt.Sub(inc.FechaDeteccion).Hours())
}
