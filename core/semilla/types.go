// Package semilla holds the unified incident document: a versioned JSON
// snapshot that travels unchanged through creation, editing and report
// generation. Section keys are the string digits "1".."9" of the ANCI
// form; the struct layout mirrors that wire format exactly.
package semilla

import "time"

// FormatVersion guards compatibility. Documents with another version
// are rejected on load.
const FormatVersion = "2.0"

// estado_temporal lifecycle of a snapshot.
const (
	EstadoBorrador        = "borrador"
	EstadoSemillaOriginal = "semilla_original"
	EstadoSemillaBase     = "semilla_base"
	EstadoEnEdicion       = "en_edicion"
)

type Metadata struct {
	VersionFormato         string `json:"version_formato"`
	TimestampCreacion      string `json:"timestamp_creacion"`
	TimestampActualizacion string `json:"timestamp_actualizacion"`
	EstadoTemporal         string `json:"estado_temporal"`
	HashIntegridad         string `json:"hash_integridad"`
}

type Empresa struct {
	RazonSocial    string `json:"razon_social"`
	RUT            string `json:"rut"`
	TipoEntidad    string `json:"tipo_entidad"`
	SectorEsencial string `json:"sector_esencial"`
}

type ContactoEmergencia struct {
	NombreReportante      string `json:"nombre_reportante"`
	CargoReportante       string `json:"cargo_reportante"`
	Telefono247           string `json:"telefono_24_7"`
	EmailOficialSeguridad string `json:"email_oficial_seguridad"`
}

// SeccionInformante is section 1: who reports, for which company.
type SeccionInformante struct {
	TipoPersona            string             `json:"tipo_persona"`
	NombreInformante       string             `json:"nombre_informante"`
	RutInformante          string             `json:"rut_informante"`
	EmailInformante        string             `json:"email_informante"`
	TelefonoInformante     string             `json:"telefono_informante"`
	Region                 string             `json:"region"`
	TieneRepresentante     bool               `json:"tiene_representante"`
	NombreRepresentante    string             `json:"nombre_representante"`
	RutRepresentante       string             `json:"rut_representante"`
	EmailRepresentante     string             `json:"email_representante"`
	TelefonoRepresentante  string             `json:"telefono_representante"`
	Empresa                Empresa            `json:"empresa"`
	ContactoEmergencia     ContactoEmergencia `json:"contacto_emergencia"`
}

type EvidenceItem struct {
	Numero      string `json:"numero"`
	Archivo     string `json:"archivo"`
	Nombre      string `json:"nombre"`
	Sha256      string `json:"sha256"`
	TamanoKB    int64  `json:"tamano_kb"`
	TipoMime    string `json:"tipo_mime,omitempty"`
	FechaSubida string `json:"fecha_subida"`
	SubidoPor   string `json:"subido_por"`
	Estado      string `json:"estado"`
	Version     int    `json:"version,omitempty"`
}

type EvidenceList struct {
	Contador int            `json:"contador"`
	Items    []EvidenceItem `json:"items"`
}

// SeccionIdentificacion is section 2: what happened, when, how it was
// detected, plus the ANCI-mandated current-state fields.
type SeccionIdentificacion struct {
	Titulo                  string       `json:"titulo"`
	Descripcion             string       `json:"descripcion"`
	FechaIncidente          string       `json:"fecha_incidente"`
	HoraIncidente           string       `json:"hora_incidente"`
	IncidenteCritico        bool         `json:"incidente_critico"`
	EstadoOperacional       string       `json:"estado_operacional"`
	TipoServicioAfectado    string       `json:"tipo_servicio_afectado"`
	ImpactoOperacional      string       `json:"impacto_operacional"`
	DetectadoPor            string       `json:"detectado_por"`
	DescripcionDeteccion    string       `json:"descripcion_deteccion"`
	Evidencias              EvidenceList `json:"evidencias"`
	SistemasAfectados       []string     `json:"sistemas_afectados"`
	ServiciosInterrumpidos  string       `json:"servicios_interrumpidos"`
	AlcanceGeografico       string       `json:"alcance_geografico"`
	DuracionEstimadaHoras   float64      `json:"duracion_estimada_horas"`
	IncidenteEnCurso        bool         `json:"incidente_en_curso"`
	ContencionAplicada      bool         `json:"contencion_aplicada"`
	DescripcionEstadoActual string       `json:"descripcion_estado_actual"`
}

// SeccionImpacto is section 3.
type SeccionImpacto struct {
	AfectacionServicio        string       `json:"afectacion_servicio"`
	CantidadUsuariosAfectados int64        `json:"cantidad_usuarios_afectados"`
	TipoUsuariosAfectados     string       `json:"tipo_usuarios_afectados"`
	ImpactoEconomico          string       `json:"impacto_economico"`
	ImpactoReputacional       string       `json:"impacto_reputacional"`
	ImpactoOperativo          string       `json:"impacto_operativo"`
	OtrosImpactos             string       `json:"otros_impactos"`
	Evidencias                EvidenceList `json:"evidencias"`
}

type TaxonomyChange struct {
	Timestamp   string `json:"timestamp"`
	Accion      string `json:"accion"`
	TaxonomiaID string `json:"taxonomia_id"`
	NumeroOrden int    `json:"numero_orden"`
}

type TaxonomyEntry struct {
	IDUnico             string       `json:"id_unico"`
	TaxonomiaID         string       `json:"taxonomia_id"`
	NumeroOrden         int          `json:"numero_orden"`
	Estado              string       `json:"estado"`
	Version             int          `json:"version"`
	FechaAsignacion     string       `json:"fecha_asignacion"`
	FechaEliminacion    string       `json:"fecha_eliminacion,omitempty"`
	Justificacion       string       `json:"justificacion"`
	DescripcionProblema string       `json:"descripcion_problema"`
	Evidencias          EvidenceList `json:"evidencias"`
}

type TaxonomySet struct {
	VersionEstructura string           `json:"version_estructura"`
	Seleccionadas     []TaxonomyEntry  `json:"seleccionadas"`
	ContadorGlobal    int              `json:"contador_global"`
	UltimoCambio      string           `json:"ultimo_cambio,omitempty"`
	HistorialCambios  []TaxonomyChange `json:"historial_cambios"`
}

// SeccionTaxonomias is section 4.
type SeccionTaxonomias struct {
	Taxonomias TaxonomySet `json:"taxonomias"`
}

// SeccionRespuesta is section 5.
type SeccionRespuesta struct {
	AccionesInmediatas   string       `json:"acciones_inmediatas"`
	FechaInicioMitigacion string      `json:"fecha_inicio_mitigacion"`
	HoraInicioMitigacion string       `json:"hora_inicio_mitigacion"`
	MedidasContencion    string       `json:"medidas_contencion"`
	SeActivoProtocolo    bool         `json:"se_activo_protocolo"`
	ProtocoloActivado    string       `json:"protocolo_activado"`
	Evidencias           EvidenceList `json:"evidencias"`
	SistemasAislados     []string     `json:"sistemas_aislados"`
	SolicitarCSIRT       bool         `json:"solicitar_csirt"`
	TipoApoyoCSIRT       string       `json:"tipo_apoyo_csirt"`
}

// SeccionCausaRaiz is section 6.
type SeccionCausaRaiz struct {
	AnalisisPreliminar     string       `json:"analisis_preliminar"`
	CausaRaizIdentificada  bool         `json:"causa_raiz_identificada"`
	DescripcionCausaRaiz   string       `json:"descripcion_causa_raiz"`
	FactoresContribuyentes string       `json:"factores_contribuyentes"`
	Evidencias             EvidenceList `json:"evidencias"`
}

// SeccionLecciones is section 7.
type SeccionLecciones struct {
	AccionesCorrectivas       string `json:"acciones_correctivas"`
	AccionesPreventivas       string `json:"acciones_preventivas"`
	MejorasProcesos           string `json:"mejoras_procesos"`
	ActualizacionDocumentacion string `json:"actualizacion_documentacion"`
	CapacitacionRequerida     string `json:"capacitacion_requerida"`
}

// SeccionSeguimiento is section 8.
type SeccionSeguimiento struct {
	ResponsableSeguimiento  string `json:"responsable_seguimiento"`
	FechaCompromisoAcciones string `json:"fecha_compromiso_acciones"`
	MetricasSeguimiento     string `json:"metricas_seguimiento"`
	PeriodicidadRevision    string `json:"periodicidad_revision"`
	ObservacionesAdicionales string `json:"observaciones_adicionales"`
}

type IoCs struct {
	IPsSospechosas       []string `json:"ips_sospechosas"`
	HashesMalware        []string `json:"hashes_malware"`
	DominiosMaliciosos   []string `json:"dominios_maliciosos"`
	URLsMaliciosas       []string `json:"urls_maliciosas"`
	CuentasComprometidas []string `json:"cuentas_comprometidas"`
}

type Coordinaciones struct {
	NotificacionRegulador  bool   `json:"notificacion_regulador"`
	ReguladorNotificado    string `json:"regulador_notificado"`
	DenunciaPolicial       bool   `json:"denuncia_policial"`
	NumeroPartePolicial    string `json:"numero_parte_policial"`
	ProveedoresContactados bool   `json:"proveedores_contactados"`
	ComunicacionPublica    bool   `json:"comunicacion_publica"`
}

type PlanAccionOIV struct {
	ProgramaRestauracion        string  `json:"programa_restauracion"`
	ResponsablesAdministrativos string  `json:"responsables_administrativos"`
	TiempoRestablecimientoHoras float64 `json:"tiempo_restablecimiento_horas"`
	RecursosNecesarios          string  `json:"recursos_necesarios"`
	AccionesCortoPlazo          string  `json:"acciones_corto_plazo"`
	AccionesMedianoPlazo        string  `json:"acciones_mediano_plazo"`
	AccionesLargoPlazo          string  `json:"acciones_largo_plazo"`
}

type ImpactoEconomico struct {
	CostosRecuperacion  float64 `json:"costos_recuperacion"`
	PerdidasOperativas  float64 `json:"perdidas_operativas"`
	CostosTerceros      float64 `json:"costos_terceros"`
}

// TrackingReportes records which ANCI reports went out and when. The
// deadline countdown treats an enviado=true row as frozen.
type TrackingReportes struct {
	AlertaTempranaEnviada    bool   `json:"alerta_temprana_enviada"`
	FechaAlertaTemprana      string `json:"fecha_alerta_temprana"`
	InformePreliminarEnviado bool   `json:"informe_preliminar_enviado"`
	FechaInformePreliminar   string `json:"fecha_informe_preliminar"`
	InformeCompletoEnviado   bool   `json:"informe_completo_enviado"`
	FechaInformeCompleto     string `json:"fecha_informe_completo"`
	PlanAccionEnviado        bool   `json:"plan_accion_enviado"`
	FechaPlanAccion          string `json:"fecha_plan_accion"`
	InformeFinalEnviado      bool   `json:"informe_final_enviado"`
	FechaInformeFinal        string `json:"fecha_informe_final"`
}

type EventoCronologia struct {
	Fecha       string `json:"fecha"`
	Descripcion string `json:"descripcion"`
}

// SeccionTecnica is section 9: the technical annex ANCI asks for in the
// complete and final reports.
type SeccionTecnica struct {
	VectorAtaque            string             `json:"vector_ataque"`
	VulnerabilidadExplotada string             `json:"vulnerabilidad_explotada"`
	VolumenDatosGB          float64            `json:"volumen_datos_gb"`
	EfectosColaterales      string             `json:"efectos_colaterales"`
	CronologiaDetallada     []EventoCronologia `json:"cronologia_detallada"`
	IoCs                    IoCs               `json:"iocs"`
	Coordinaciones          Coordinaciones     `json:"coordinaciones"`
	PlanAccionOIV           PlanAccionOIV      `json:"plan_accion_oiv"`
	ImpactoEconomico        ImpactoEconomico   `json:"impacto_economico"`
	TrackingReportes        TrackingReportes   `json:"tracking_reportes"`
}

// Document is the whole unified incident record.
type Document struct {
	Metadata       Metadata              `json:"metadata"`
	Informante     SeccionInformante     `json:"1"`
	Identificacion SeccionIdentificacion `json:"2"`
	Impacto        SeccionImpacto        `json:"3"`
	Taxonomias     SeccionTaxonomias     `json:"4"`
	Respuesta      SeccionRespuesta      `json:"5"`
	CausaRaiz      SeccionCausaRaiz      `json:"6"`
	Lecciones      SeccionLecciones      `json:"7"`
	Seguimiento    SeccionSeguimiento    `json:"8"`
	Tecnica        SeccionTecnica        `json:"9"`
}

// NewDocument builds an empty draft with every section present, lists
// initialized and both timestamps set to now.
func NewDocument(now time.Time) *Document {
	stamp := isoStamp(now)
	return &Document{
		Metadata: Metadata{
			VersionFormato:         FormatVersion,
			TimestampCreacion:      stamp,
			TimestampActualizacion: stamp,
			EstadoTemporal:         EstadoBorrador,
		},
		Informante: SeccionInformante{},
		Identificacion: SeccionIdentificacion{
			Evidencias:        emptyEvidence(),
			SistemasAfectados: []string{},
			IncidenteEnCurso:  true,
		},
		Impacto: SeccionImpacto{Evidencias: emptyEvidence()},
		Taxonomias: SeccionTaxonomias{
			Taxonomias: TaxonomySet{
				VersionEstructura: FormatVersion,
				Seleccionadas:     []TaxonomyEntry{},
				HistorialCambios:  []TaxonomyChange{},
			},
		},
		Respuesta: SeccionRespuesta{
			Evidencias:       emptyEvidence(),
			SistemasAislados: []string{},
		},
		CausaRaiz:   SeccionCausaRaiz{Evidencias: emptyEvidence()},
		Lecciones:   SeccionLecciones{},
		Seguimiento: SeccionSeguimiento{},
		Tecnica: SeccionTecnica{
			CronologiaDetallada: []EventoCronologia{},
			IoCs: IoCs{
				IPsSospechosas:       []string{},
				HashesMalware:        []string{},
				DominiosMaliciosos:   []string{},
				URLsMaliciosas:       []string{},
				CuentasComprometidas: []string{},
			},
		},
	}
}

func emptyEvidence() EvidenceList {
	return EvidenceList{Items: []EvidenceItem{}}
}

// Touch bumps the update timestamp.
func (d *Document) Touch(now time.Time) {
	d.Metadata.TimestampActualizacion = isoStamp(now)
}

var estadoTransitions = map[string][]string{
	EstadoBorrador:        {EstadoSemillaOriginal},
	EstadoSemillaOriginal: {EstadoSemillaBase},
	EstadoSemillaBase:     {EstadoEnEdicion},
	EstadoEnEdicion:       {EstadoSemillaBase, EstadoEnEdicion},
}

// MarkEstado advances estado_temporal along the allowed lifecycle.
// Saving an edited document returns it to semilla_base.
func (d *Document) MarkEstado(estado string, now time.Time) error {
	allowed := estadoTransitions[d.Metadata.EstadoTemporal]
	for _, next := range allowed {
		if next == estado {
			d.Metadata.EstadoTemporal = estado
			d.Touch(now)
			return nil
		}
	}
	return &TransitionError{From: d.Metadata.EstadoTemporal, To: estado}
}

type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return "semilla: invalid estado transition " + e.From + " -> " + e.To
}

func isoStamp(now time.Time) string {
	return now.UTC().Format(time.RFC3339)
}
