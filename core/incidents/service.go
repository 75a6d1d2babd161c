// Package incidents orchestrates the incident lifecycle: registration with
// correlativo and índice único, the versioned semilla record, taxonomy
// assignment, state changes and the ANCI deadline countdown.
package incidents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/config"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/anci"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/semilla"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/store"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

var (
	ErrNotFound        = errors.New("incidente no encontrado")
	ErrCompanyNotFound = errors.New("empresa no encontrada")
	ErrClosed          = errors.New("incidente cerrado")
	ErrNoSeed          = errors.New("incidente sin semilla base")
)

// ValidationError carries the mandatory ANCI fields still missing when a
// declaration is attempted.
type ValidationError struct {
	Faltantes []string `json:"campos_faltantes"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("faltan %d campos obligatorios para reportar a ANCI", len(e.Faltantes))
}

type Service struct {
	cfg        *config.AppConfig
	incidents  store.IncidentsStore
	companies  store.CompaniesStore
	seeds      store.SeedsStore
	taxonomies store.TaxonomiesStore
	notify     store.NotifyStore
	evidence   store.EvidenceStore
	logger     *utils.Logger
}

func NewService(cfg *config.AppConfig, incidents store.IncidentsStore, companies store.CompaniesStore,
	seeds store.SeedsStore, taxonomies store.TaxonomiesStore, notify store.NotifyStore,
	evidence store.EvidenceStore, logger *utils.Logger) *Service {
	return &Service{
		cfg:        cfg,
		incidents:  incidents,
		companies:  companies,
		seeds:      seeds,
		taxonomies: taxonomies,
		notify:     notify,
		evidence:   evidence,
		logger:     logger,
	}
}

// RegisterInput is the initial report form. Everything beyond titulo,
// criticidad and fecha de detección is optional at registration time and can
// be completed later section by section.
type RegisterInput struct {
	EmpresaID                    int64      `json:"empresa_id"`
	Titulo                       string     `json:"titulo"`
	Criticidad                   string     `json:"criticidad"`
	AlcanceGeografico            string     `json:"alcance_geografico"`
	FechaDeteccion               time.Time  `json:"fecha_deteccion"`
	FechaOcurrencia              *time.Time `json:"fecha_ocurrencia,omitempty"`
	DescripcionInicial           string     `json:"descripcion_inicial"`
	ImpactoPreliminar            string     `json:"impacto_preliminar"`
	SistemasAfectados            string     `json:"sistemas_afectados"`
	ServiciosInterrumpidos       string     `json:"servicios_interrumpidos"`
	ServiciosEsencialesAfectados bool       `json:"servicios_esenciales_afectados"`
	OrigenIncidente              string     `json:"origen_incidente"`
	TipoAmenaza                  string     `json:"tipo_amenaza"`
	ResponsableCliente           string     `json:"responsable_cliente"`
	AccionesInmediatas           string     `json:"acciones_inmediatas"`
	SolicitarCSIRT               bool       `json:"solicitar_csirt"`
	TipoApoyoCSIRT               string     `json:"tipo_apoyo_csirt"`
	VectorAtaque                 string     `json:"vector_ataque"`
	VulnerabilidadExplotada      string     `json:"vulnerabilidad_explotada"`
	CreadoPor                    *int64     `json:"-"`
	Username                     string     `json:"-"`
	InformanteEmail              string     `json:"-"`
}

func (in *RegisterInput) validate() error {
	if strings.TrimSpace(in.Titulo) == "" {
		return errors.New("el título es obligatorio")
	}
	if !anci.ValidCriticality(in.Criticidad) {
		return fmt.Errorf("criticidad inválida %q", in.Criticidad)
	}
	if in.FechaDeteccion.IsZero() {
		return errors.New("la fecha de detección es obligatoria")
	}
	if in.FechaDeteccion.After(time.Now().Add(5 * time.Minute)) {
		return errors.New("la fecha de detección no puede ser futura")
	}
	if in.FechaOcurrencia != nil && in.FechaOcurrencia.After(in.FechaDeteccion) {
		return errors.New("la fecha de ocurrencia no puede ser posterior a la detección")
	}
	return nil
}

// Register creates the incident row plus the two initial semilla snapshots:
// the frozen original and the editable base every later change builds on.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*store.Incident, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	company, err := s.companies.Get(ctx, in.EmpresaID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, ErrCompanyNotFound
	}

	now := time.Now().UTC()
	inc := &store.Incident{
		EmpresaID:                    company.ID,
		Titulo:                       strings.TrimSpace(in.Titulo),
		Criticidad:                   strings.ToLower(strings.TrimSpace(in.Criticidad)),
		AlcanceGeografico:            in.AlcanceGeografico,
		FechaDeteccion:               in.FechaDeteccion.UTC(),
		FechaOcurrencia:              in.FechaOcurrencia,
		DescripcionInicial:           in.DescripcionInicial,
		ImpactoPreliminar:            in.ImpactoPreliminar,
		SistemasAfectados:            in.SistemasAfectados,
		ServiciosInterrumpidos:       in.ServiciosInterrumpidos,
		ServiciosEsencialesAfectados: in.ServiciosEsencialesAfectados,
		OrigenIncidente:              in.OrigenIncidente,
		TipoAmenaza:                  in.TipoAmenaza,
		ResponsableCliente:           in.ResponsableCliente,
		AccionesInmediatas:           in.AccionesInmediatas,
		SolicitarCSIRT:               in.SolicitarCSIRT,
		TipoApoyoCSIRT:               in.TipoApoyoCSIRT,
		VectorAtaque:                 in.VectorAtaque,
		VulnerabilidadExplotada:      in.VulnerabilidadExplotada,
		CreadoPor:                    in.CreadoPor,
	}
	if _, err := s.incidents.CreateIncident(ctx, inc, s.cfg.Incidents.RegNoFormat, company.RUT); err != nil {
		return nil, err
	}

	doc := semilla.NewDocument(now)
	s.fillDocument(doc, inc, company, in.Username, in.InformanteEmail)
	if err := doc.MarkEstado(semilla.EstadoSemillaOriginal, now); err != nil {
		return nil, err
	}
	if _, err := doc.Seal(now); err != nil {
		return nil, err
	}
	if err := s.saveSeed(ctx, inc.ID, store.SeedKindOriginal, doc, in.Username); err != nil {
		return nil, err
	}
	if err := doc.MarkEstado(semilla.EstadoSemillaBase, now); err != nil {
		return nil, err
	}
	if _, err := doc.Seal(now); err != nil {
		return nil, err
	}
	if err := s.saveSeed(ctx, inc.ID, store.SeedKindBase, doc, in.Username); err != nil {
		return nil, err
	}

	s.addHistory(ctx, inc.ID, "", inc.Estado, "registro inicial", in.Username)
	if s.logger != nil {
		s.logger.Printf("incidente %s registrado (empresa %d, criticidad %s)", inc.Correlativo, company.ID, inc.Criticidad)
	}
	return inc, nil
}

// Detail is the full incident view the API serves: row, company reference,
// semilla summary, taxonomy links and the live deadline countdown.
type Detail struct {
	Incidente    *store.Incident          `json:"incidente"`
	Empresa      store.CompanyRef         `json:"empresa"`
	Semilla      *semilla.Resumen         `json:"semilla,omitempty"`
	Plazos       []anci.CountdownItem     `json:"plazos"`
	ProximoPlazo *anci.Deadline           `json:"proximo_plazo,omitempty"`
	Taxonomias   []store.IncidentTaxonomy `json:"taxonomias"`
}

func (s *Service) Get(ctx context.Context, id int64) (*Detail, error) {
	inc, err := s.incidents.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrNotFound
	}
	company, err := s.companies.Get(ctx, inc.EmpresaID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, ErrCompanyNotFound
	}
	detail := &Detail{Incidente: inc, Empresa: company.Ref()}

	doc, err := s.loadBaseDoc(ctx, id)
	if err != nil && !errors.Is(err, ErrNoSeed) {
		return nil, err
	}
	if doc != nil {
		sum := doc.Summary()
		detail.Semilla = &sum
	}
	detail.Plazos, err = s.countdownFor(inc, company, doc, time.Now())
	if err != nil {
		return nil, err
	}
	detail.ProximoPlazo = s.nextDeadline(inc, company, doc)
	detail.Taxonomias, err = s.taxonomies.ListForIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	return detail, nil
}

func (s *Service) List(ctx context.Context, filter store.IncidentFilter) ([]store.Incident, error) {
	return s.incidents.ListIncidents(ctx, filter)
}

func (s *Service) Timeline(ctx context.Context, id int64, limit int) ([]store.IncidentHistoryEntry, error) {
	inc, err := s.incidents.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrNotFound
	}
	return s.incidents.ListHistory(ctx, id, limit)
}

// Section returns the raw JSON of one semilla section from the latest base
// snapshot, the same shape UpdateSection accepts back.
func (s *Service) Section(ctx context.Context, id int64, seccion string) (json.RawMessage, error) {
	doc, err := s.loadBaseDoc(ctx, id)
	if err != nil {
		return nil, err
	}
	raw, err := doc.Marshal()
	if err != nil {
		return nil, err
	}
	var byKey map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byKey); err != nil {
		return nil, err
	}
	sec, ok := byKey[seccion]
	if !ok {
		return nil, fmt.Errorf("sección %q desconocida", seccion)
	}
	return sec, nil
}

// UpdateSection merges a partial section payload into the semilla, promotes
// the shared fields back onto the incident row under optimistic locking and
// appends a new base version. expectedVersion is the incident row version the
// client last saw.
func (s *Service) UpdateSection(ctx context.Context, id int64, seccion string, patch json.RawMessage, expectedVersion int, username string) (*store.Incident, error) {
	if !semilla.MergeableSection(seccion) {
		return nil, fmt.Errorf("la sección %q no admite edición directa", seccion)
	}
	inc, err := s.incidents.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrNotFound
	}
	if inc.Estado == anci.StateClosed {
		return nil, ErrClosed
	}

	now := time.Now().UTC()
	doc, err := s.loadBaseDoc(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.markEditing(doc, now); err != nil {
		return nil, err
	}
	if err := doc.MergeSection(seccion, patch, now); err != nil {
		return nil, err
	}
	s.syncFromDocument(inc, doc)
	if _, err := doc.Seal(now); err != nil {
		return nil, err
	}
	if err := s.incidents.UpdateIncident(ctx, inc, expectedVersion); err != nil {
		return nil, err
	}
	if err := s.saveSeed(ctx, id, store.SeedKindBase, doc, username); err != nil {
		return nil, err
	}
	s.addHistory(ctx, id, inc.Estado, inc.Estado, "sección "+seccion+" actualizada", username)
	return inc, nil
}

// AssignTaxonomy attaches a catalog entry to the incident in both records:
// the relational link used for listings and the semilla entry that owns the
// número de orden.
func (s *Service) AssignTaxonomy(ctx context.Context, id int64, taxonomiaID, justificacion, descripcion, username string) (*store.IncidentTaxonomy, error) {
	inc, err := s.incidents.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrNotFound
	}
	if inc.Estado == anci.StateClosed {
		return nil, ErrClosed
	}
	company, err := s.companies.Get(ctx, inc.EmpresaID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, ErrCompanyNotFound
	}
	tax, err := s.taxonomies.Get(ctx, taxonomiaID)
	if err != nil {
		return nil, err
	}
	if tax == nil || !tax.Activa {
		return nil, fmt.Errorf("taxonomía %q no disponible", taxonomiaID)
	}
	if !taxonomyApplies(tax.AplicaTipoEmpresa, company.Tipo) {
		return nil, fmt.Errorf("la taxonomía %s no aplica a empresas %s", taxonomiaID, company.Tipo)
	}

	now := time.Now().UTC()
	doc, err := s.loadBaseDoc(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.markEditing(doc, now); err != nil {
		return nil, err
	}
	entry, err := doc.AddTaxonomy(taxonomiaID, justificacion, descripcion, now)
	if err != nil {
		return nil, err
	}
	if _, err := doc.Seal(now); err != nil {
		return nil, err
	}

	link := &store.IncidentTaxonomy{
		IncidenteID:         id,
		TaxonomiaID:         taxonomiaID,
		Justificacion:       justificacion,
		DescripcionProblema: descripcion,
		Orden:               entry.NumeroOrden,
		CreadoPor:           username,
	}
	linkID, err := s.taxonomies.Assign(ctx, link)
	if err != nil {
		return nil, err
	}
	if err := s.saveSeed(ctx, id, store.SeedKindBase, doc, username); err != nil {
		return nil, err
	}
	s.addHistory(ctx, id, inc.Estado, inc.Estado, "taxonomía "+taxonomiaID+" asignada", username)
	return s.taxonomies.GetLink(ctx, linkID)
}

// RemoveTaxonomy soft-removes the semilla entry (its número de orden is never
// reassigned) and deletes the relational link. Vault files attached to the
// link are soft-removed first, before the FK nulls their reference.
func (s *Service) RemoveTaxonomy(ctx context.Context, id, linkID int64, username string) error {
	link, err := s.taxonomies.GetLink(ctx, linkID)
	if err != nil {
		return err
	}
	if link == nil || link.IncidenteID != id {
		return errors.New("taxonomía no asignada a este incidente")
	}
	inc, err := s.incidents.GetIncident(ctx, id)
	if err != nil {
		return err
	}
	if inc == nil {
		return ErrNotFound
	}
	if inc.Estado == anci.StateClosed {
		return ErrClosed
	}

	now := time.Now().UTC()
	doc, err := s.loadBaseDoc(ctx, id)
	if err != nil {
		return err
	}
	if err := s.markEditing(doc, now); err != nil {
		return err
	}
	if entry := doc.FindTaxonomyByCatalogID(link.TaxonomiaID); entry != nil {
		if err := doc.RemoveTaxonomy(entry.IDUnico, now); err != nil {
			return err
		}
	}
	if _, err := doc.Seal(now); err != nil {
		return err
	}
	files, err := s.evidence.ListByTaxonomyLink(ctx, linkID)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := s.evidence.SoftDeleteEvidence(ctx, f.ID); err != nil {
			return err
		}
	}
	if err := s.taxonomies.Remove(ctx, linkID); err != nil {
		return err
	}
	if err := s.saveSeed(ctx, id, store.SeedKindBase, doc, username); err != nil {
		return err
	}
	s.addHistory(ctx, id, inc.Estado, inc.Estado, "taxonomía "+link.TaxonomiaID+" retirada", username)
	return nil
}

func (s *Service) UpdateTaxonomy(ctx context.Context, id, linkID int64, justificacion, descripcion, username string) error {
	link, err := s.taxonomies.GetLink(ctx, linkID)
	if err != nil {
		return err
	}
	if link == nil || link.IncidenteID != id {
		return errors.New("taxonomía no asignada a este incidente")
	}
	now := time.Now().UTC()
	doc, err := s.loadBaseDoc(ctx, id)
	if err != nil {
		return err
	}
	if err := s.markEditing(doc, now); err != nil {
		return err
	}
	if entry := doc.FindTaxonomyByCatalogID(link.TaxonomiaID); entry != nil {
		entry.Justificacion = justificacion
		entry.DescripcionProblema = descripcion
		entry.Version++
	}
	if _, err := doc.Seal(now); err != nil {
		return err
	}
	if err := s.taxonomies.UpdateJustification(ctx, linkID, justificacion, descripcion); err != nil {
		return err
	}
	return s.saveSeed(ctx, id, store.SeedKindBase, doc, username)
}

// ChangeState moves the incident through the operational states. Closing goes
// through Close so the countdown freeze and the closure history are never
// skipped.
func (s *Service) ChangeState(ctx context.Context, id int64, estado, comentario, username string) (*store.Incident, error) {
	estado = strings.ToLower(strings.TrimSpace(estado))
	if !anci.ValidIncidentState(estado) {
		return nil, fmt.Errorf("estado inválido %q", estado)
	}
	if estado == anci.StateClosed {
		return nil, errors.New("el cierre se realiza con la operación de cierre formal")
	}
	inc, err := s.incidents.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrNotFound
	}
	if inc.Estado == anci.StateClosed {
		return nil, ErrClosed
	}
	if inc.Estado == estado {
		return inc, nil
	}
	prev := inc.Estado
	if err := s.incidents.SetEstado(ctx, id, estado); err != nil {
		return nil, err
	}
	inc.Estado = estado
	s.addHistory(ctx, id, prev, estado, comentario, username)
	return inc, nil
}

// Close freezes the incident: the deadline countdown pins to the closure
// time and sections stop accepting edits.
func (s *Service) Close(ctx context.Context, id int64, comentario, username string) (*store.Incident, error) {
	inc, err := s.incidents.CloseIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	s.addHistory(ctx, id, "", anci.StateClosed, comentario, username)
	if s.logger != nil {
		s.logger.Printf("incidente %s cerrado por %s", inc.Correlativo, username)
	}
	return inc, nil
}

// Reopen restores a closed incident to abierto and clears the deadline alert
// dedupe so the notifier evaluates it again.
func (s *Service) Reopen(ctx context.Context, id int64, comentario, username string) (*store.Incident, error) {
	inc, err := s.incidents.ReopenIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.notify.ClearAlerts(ctx, id); err != nil && s.logger != nil {
		s.logger.Errorf("limpieza de alertas del incidente %d falló: %v", id, err)
	}
	s.addHistory(ctx, id, anci.StateClosed, inc.Estado, comentario, username)
	return inc, nil
}

// SoftDelete hides an incident from the default listing. The record and its
// semilla versions stay in place for auditing.
func (s *Service) SoftDelete(ctx context.Context, id int64) error {
	return s.incidents.SoftDeleteIncident(ctx, id)
}

func (s *Service) Restore(ctx context.Context, id int64) error {
	return s.incidents.RestoreIncident(ctx, id)
}

// DeclareANCI validates the alerta temprana mandatory fields against the
// semilla and, when complete, stamps the incident with a declaration id.
func (s *Service) DeclareANCI(ctx context.Context, id int64, username string) (*store.Incident, error) {
	inc, err := s.incidents.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrNotFound
	}
	if inc.ReporteAnciID != "" {
		return inc, nil
	}
	doc, err := s.loadBaseDoc(ctx, id)
	if err != nil {
		return nil, err
	}
	if faltantes := doc.ValidateANCI(); len(faltantes) > 0 {
		return nil, &ValidationError{Faltantes: faltantes}
	}
	now := time.Now().UTC()
	reporteID := uuid.Must(uuid.NewV4()).String()
	if err := s.incidents.MarkDeclared(ctx, id, reporteID, now); err != nil {
		return nil, err
	}
	inc.ReporteAnciID = reporteID
	inc.FechaDeclaracionANCI = &now
	s.addHistory(ctx, id, inc.Estado, inc.Estado, "incidente declarado a ANCI", username)
	if s.logger != nil {
		s.logger.Printf("incidente %s declarado a ANCI (%s)", inc.Correlativo, reporteID)
	}
	return inc, nil
}

// Stats summarizes incident counts per estado for the dashboard. empresaID
// zero aggregates across every company.
type Stats struct {
	PorEstado map[string]int64 `json:"por_estado"`
	Total     int64            `json:"total"`
	Abiertos  int64            `json:"abiertos"`
}

func (s *Service) Stats(ctx context.Context, empresaID int64) (*Stats, error) {
	counts, err := s.incidents.CountByEstado(ctx, empresaID)
	if err != nil {
		return nil, err
	}
	out := &Stats{PorEstado: counts}
	for estado, n := range counts {
		out.Total += n
		if estado != anci.StateClosed {
			out.Abiertos += n
		}
	}
	return out, nil
}

// Countdown returns the live deadline view for one incident.
func (s *Service) Countdown(ctx context.Context, id int64) ([]anci.CountdownItem, error) {
	inc, err := s.incidents.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrNotFound
	}
	company, err := s.companies.Get(ctx, inc.EmpresaID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, ErrCompanyNotFound
	}
	doc, err := s.loadBaseDoc(ctx, id)
	if err != nil && !errors.Is(err, ErrNoSeed) {
		return nil, err
	}
	return s.countdownFor(inc, company, doc, time.Now())
}

// DeadlineAlert pairs an open incident with one pending report that either
// falls due inside the warning window or is already overdue.
type DeadlineAlert struct {
	Incidente store.Incident `json:"incidente"`
	Plazo     anci.Deadline  `json:"plazo"`
	Clase     string         `json:"clase"`
}

const (
	AlertWarning = "advertencia"
	AlertOverdue = "vencido"
)

// PendingAlerts sweeps every open incident and returns the deadline alerts
// the notifier should raise. Incidents whose company row is gone are skipped
// with a log line rather than failing the whole sweep.
func (s *Service) PendingAlerts(ctx context.Context, window time.Duration) ([]DeadlineAlert, error) {
	open, err := s.incidents.ListOpenIncidents(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	companies := make(map[int64]*store.Company)
	var alerts []DeadlineAlert
	for _, inc := range open {
		company, ok := companies[inc.EmpresaID]
		if !ok {
			company, err = s.companies.Get(ctx, inc.EmpresaID)
			if err != nil {
				return nil, err
			}
			companies[inc.EmpresaID] = company
		}
		if company == nil {
			if s.logger != nil {
				s.logger.Errorf("incidente %d sin empresa %d, omitido del barrido", inc.ID, inc.EmpresaID)
			}
			continue
		}
		ct, err := anci.ParseCompanyType(company.Tipo)
		if err != nil {
			if s.logger != nil {
				s.logger.Errorf("empresa %d con tipo inválido %q, omitida", company.ID, company.Tipo)
			}
			continue
		}
		doc, err := s.loadBaseDoc(ctx, inc.ID)
		if err != nil && !errors.Is(err, ErrNoSeed) {
			return nil, err
		}
		submitted := submittedReports(doc)
		sched := anci.Schedule(ct, inc.ServiciosEsencialesAfectados, inc.FechaDeteccion)
		for _, d := range anci.DueWithin(sched, submitted, now, window) {
			alerts = append(alerts, DeadlineAlert{Incidente: inc, Plazo: d, Clase: AlertWarning})
		}
		for _, d := range sched {
			if _, ok := submitted[d.Kind]; ok {
				continue
			}
			if d.DueAt.Before(now) {
				alerts = append(alerts, DeadlineAlert{Incidente: inc, Plazo: d, Clase: AlertOverdue})
			}
		}
	}
	return alerts, nil
}

func (s *Service) loadBaseDoc(ctx context.Context, incidenteID int64) (*semilla.Document, error) {
	seed, err := s.seeds.LatestSeed(ctx, incidenteID, store.SeedKindBase)
	if err != nil {
		return nil, err
	}
	if seed == nil {
		return nil, ErrNoSeed
	}
	return semilla.Parse(seed.Payload)
}

func (s *Service) saveSeed(ctx context.Context, incidenteID int64, kind string, doc *semilla.Document, createdBy string) error {
	raw, err := doc.Marshal()
	if err != nil {
		return err
	}
	_, err = s.seeds.SaveSeed(ctx, &store.Seed{
		IncidenteID:    incidenteID,
		Kind:           kind,
		EstadoTemporal: doc.Metadata.EstadoTemporal,
		Payload:        raw,
		HashIntegridad: doc.Metadata.HashIntegridad,
		CreatedBy:      createdBy,
	})
	return err
}

func (s *Service) markEditing(doc *semilla.Document, now time.Time) error {
	if doc.Metadata.EstadoTemporal == semilla.EstadoEnEdicion {
		return nil
	}
	return doc.MarkEstado(semilla.EstadoEnEdicion, now)
}

func (s *Service) addHistory(ctx context.Context, incidenteID int64, anterior, nuevo, comentario, username string) {
	_, err := s.incidents.AddHistory(ctx, &store.IncidentHistoryEntry{
		IncidenteID:    incidenteID,
		EstadoAnterior: anterior,
		EstadoNuevo:    nuevo,
		Comentario:     comentario,
		Username:       username,
	})
	if err != nil && s.logger != nil {
		s.logger.Errorf("historial del incidente %d no registrado: %v", incidenteID, err)
	}
}

// fillDocument seeds the semilla sections from the registration form and the
// company master data.
func (s *Service) fillDocument(doc *semilla.Document, inc *store.Incident, company *store.Company, username, email string) {
	doc.Informante.TipoPersona = "juridica"
	doc.Informante.NombreInformante = username
	doc.Informante.EmailInformante = email
	doc.Informante.Empresa = semilla.Empresa{
		RazonSocial:    company.RazonSocial,
		RUT:            company.RUT,
		TipoEntidad:    company.Tipo,
		SectorEsencial: company.SectorEsencial,
	}
	doc.Informante.ContactoEmergencia = semilla.ContactoEmergencia{
		NombreReportante:      company.NombreEncargado,
		CargoReportante:       company.CargoEncargado,
		Telefono247:           company.Telefono,
		EmailOficialSeguridad: company.EmailContacto,
	}

	doc.Identificacion.Titulo = inc.Titulo
	doc.Identificacion.Descripcion = inc.DescripcionInicial
	doc.Identificacion.FechaIncidente = inc.FechaDeteccion.Format("2006-01-02")
	doc.Identificacion.HoraIncidente = inc.FechaDeteccion.Format("15:04")
	doc.Identificacion.IncidenteCritico = inc.Criticidad == anci.CriticalityHigh || inc.Criticidad == anci.CriticalityCritical
	doc.Identificacion.ImpactoOperacional = inc.ImpactoPreliminar
	doc.Identificacion.DetectadoPor = inc.OrigenIncidente
	doc.Identificacion.SistemasAfectados = splitList(inc.SistemasAfectados)
	doc.Identificacion.ServiciosInterrumpidos = inc.ServiciosInterrumpidos
	doc.Identificacion.AlcanceGeografico = inc.AlcanceGeografico

	doc.Respuesta.AccionesInmediatas = inc.AccionesInmediatas
	doc.Respuesta.SolicitarCSIRT = inc.SolicitarCSIRT
	doc.Respuesta.TipoApoyoCSIRT = inc.TipoApoyoCSIRT

	doc.Tecnica.VectorAtaque = inc.VectorAtaque
	doc.Tecnica.VulnerabilidadExplotada = inc.VulnerabilidadExplotada
}

// syncFromDocument promotes the fields both records share from the semilla
// back onto the incident row. The semilla is authoritative after a merge, so
// the copy is unconditional except for titulo, which must stay non-empty.
func (s *Service) syncFromDocument(inc *store.Incident, doc *semilla.Document) {
	if t := strings.TrimSpace(doc.Identificacion.Titulo); t != "" {
		inc.Titulo = t
	}
	inc.DescripcionInicial = doc.Identificacion.Descripcion
	inc.ImpactoPreliminar = doc.Identificacion.ImpactoOperacional
	inc.SistemasAfectados = strings.Join(doc.Identificacion.SistemasAfectados, ", ")
	inc.ServiciosInterrumpidos = doc.Identificacion.ServiciosInterrumpidos
	inc.AlcanceGeografico = doc.Identificacion.AlcanceGeografico
	inc.AccionesInmediatas = doc.Respuesta.AccionesInmediatas
	inc.SolicitarCSIRT = doc.Respuesta.SolicitarCSIRT
	inc.TipoApoyoCSIRT = doc.Respuesta.TipoApoyoCSIRT
	inc.VectorAtaque = doc.Tecnica.VectorAtaque
	inc.VulnerabilidadExplotada = doc.Tecnica.VulnerabilidadExplotada
	inc.CausaRaiz = doc.CausaRaiz.DescripcionCausaRaiz
	inc.LeccionesAprendidas = doc.Lecciones.AccionesCorrectivas
	inc.PlanMejora = doc.Lecciones.MejorasProcesos
}

func (s *Service) countdownFor(inc *store.Incident, company *store.Company, doc *semilla.Document, now time.Time) ([]anci.CountdownItem, error) {
	ct, err := anci.ParseCompanyType(company.Tipo)
	if err != nil {
		return nil, err
	}
	sched := anci.Schedule(ct, inc.ServiciosEsencialesAfectados, inc.FechaDeteccion)
	return anci.Countdown(sched, submittedReports(doc), now, inc.ClosedAt), nil
}

// nextDeadline picks the earliest report still owed, nil once the incident
// is closed or everything was presented.
func (s *Service) nextDeadline(inc *store.Incident, company *store.Company, doc *semilla.Document) *anci.Deadline {
	if inc.ClosedAt != nil {
		return nil
	}
	ct, err := anci.ParseCompanyType(company.Tipo)
	if err != nil {
		return nil
	}
	sched := anci.Schedule(ct, inc.ServiciosEsencialesAfectados, inc.FechaDeteccion)
	return anci.NextDue(sched, submittedReports(doc))
}

func submittedReports(doc *semilla.Document) map[anci.ReportKind]time.Time {
	out := map[anci.ReportKind]time.Time{}
	if doc == nil {
		return out
	}
	for raw, when := range doc.SentReports() {
		kind, err := anci.ParseReportKind(raw)
		if err != nil {
			continue
		}
		out[kind] = when
	}
	return out
}

// taxonomyApplies follows the regulator's filter: AMBAS leaves apply to
// everyone, and an AMBAS company takes every leaf.
func taxonomyApplies(aplica, tipoEmpresa string) bool {
	aplica = strings.ToUpper(strings.TrimSpace(aplica))
	tipoEmpresa = strings.ToUpper(strings.TrimSpace(tipoEmpresa))
	return aplica == "" || aplica == "AMBAS" || tipoEmpresa == "AMBAS" || aplica == tipoEmpresa
}

func splitList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
