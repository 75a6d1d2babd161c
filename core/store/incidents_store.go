package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

type Incident struct {
	ID                           int64      `json:"id"`
	EmpresaID                    int64      `json:"empresa_id"`
	Correlativo                  string     `json:"correlativo"`
	IndiceUnico                  string     `json:"indice_unico"`
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
	CausaRaiz                    string     `json:"causa_raiz"`
	LeccionesAprendidas          string     `json:"lecciones_aprendidas"`
	PlanMejora                   string     `json:"plan_mejora"`
	SolicitarCSIRT               bool       `json:"solicitar_csirt"`
	TipoApoyoCSIRT               string     `json:"tipo_apoyo_csirt"`
	VectorAtaque                 string     `json:"vector_ataque"`
	VulnerabilidadExplotada      string     `json:"vulnerabilidad_explotada"`
	ReporteAnciID                string     `json:"reporte_anci_id,omitempty"`
	FechaDeclaracionANCI         *time.Time `json:"fecha_declaracion_anci,omitempty"`
	Estado                       string     `json:"estado"`
	Version                      int        `json:"version"`
	CreadoPor                    *int64     `json:"creado_por,omitempty"`
	CreatedAt                    time.Time  `json:"created_at"`
	UpdatedAt                    time.Time  `json:"updated_at"`
	ClosedAt                     *time.Time `json:"closed_at,omitempty"`
	DeletedAt                    *time.Time `json:"deleted_at,omitempty"`
}

type IncidentHistoryEntry struct {
	ID             int64     `json:"id"`
	IncidenteID    int64     `json:"incidente_id"`
	EstadoAnterior string    `json:"estado_anterior"`
	EstadoNuevo    string    `json:"estado_nuevo"`
	Comentario     string    `json:"comentario"`
	Username       string    `json:"username"`
	CreatedAt      time.Time `json:"created_at"`
}

type IncidentFilter struct {
	EmpresaID      int64
	EmpresaIDs     []int64
	Estado         string
	EstadoIn       []string
	Criticidad     string
	Search         string
	IncludeDeleted bool
	Limit          int
	Offset         int
}

type IncidentsStore interface {
	CreateIncident(ctx context.Context, incident *Incident, regFormat, rut string) (int64, error)
	UpdateIncident(ctx context.Context, incident *Incident, expectedVersion int) error
	SetEstado(ctx context.Context, id int64, estado string) error
	CloseIncident(ctx context.Context, id int64) (*Incident, error)
	ReopenIncident(ctx context.Context, id int64) (*Incident, error)
	SoftDeleteIncident(ctx context.Context, id int64) error
	RestoreIncident(ctx context.Context, id int64) error
	GetIncident(ctx context.Context, id int64) (*Incident, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error)
	ListOpenIncidents(ctx context.Context) ([]Incident, error)
	CountByEstado(ctx context.Context, empresaID int64) (map[string]int64, error)
	MarkDeclared(ctx context.Context, id int64, reporteAnciID string, when time.Time) error

	AddHistory(ctx context.Context, entry *IncidentHistoryEntry) (int64, error)
	ListHistory(ctx context.Context, incidenteID int64, limit int) ([]IncidentHistoryEntry, error)
}

type incidentsStore struct {
	db *DB
}

func NewIncidentsStore(db *DB) IncidentsStore {
	return &incidentsStore{db: db}
}

const incidentColumns = `id, empresa_id, correlativo, indice_unico, titulo, criticidad, alcance_geografico,
	fecha_deteccion, fecha_ocurrencia, descripcion_inicial, impacto_preliminar, sistemas_afectados,
	servicios_interrumpidos, servicios_esenciales_afectados, origen_incidente, tipo_amenaza, responsable_cliente,
	acciones_inmediatas, causa_raiz, lecciones_aprendidas, plan_mejora, solicitar_csirt, tipo_apoyo_csirt,
	vector_ataque, vulnerabilidad_explotada, reporte_anci_id, fecha_declaracion_anci,
	estado, version, creado_por, created_at, updated_at, closed_at, deleted_at`

// CreateIncident allocates the per-year correlativo inside the insert
// transaction so concurrent registrations never share a number, then
// derives the indice unico in the official nomenclature
// CORRELATIVO_RUT_MODULO_SUBMODULO_DESCRIPCION.
func (s *incidentsStore) CreateIncident(ctx context.Context, incident *Incident, regFormat, rut string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	if strings.TrimSpace(incident.Correlativo) == "" {
		seq, err := s.nextIncidentSeqTx(ctx, tx, now.Year())
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		incident.Correlativo = buildIncidentRegNo(regFormat, now.Year(), seq, rut)
	}
	if strings.TrimSpace(incident.IndiceUnico) == "" {
		incident.IndiceUnico = buildIndiceUnico(incident.Correlativo, rut)
	}
	if incident.Version <= 0 {
		incident.Version = 1
	}
	if strings.TrimSpace(incident.Estado) == "" {
		incident.Estado = "abierto"
	}
	if incident.FechaDeteccion.IsZero() {
		incident.FechaDeteccion = now
	}
	incident.CreatedAt = now
	incident.UpdatedAt = now
	id, err := tx.insertID(ctx, `
		INSERT INTO incidentes(empresa_id, correlativo, indice_unico, titulo, criticidad, alcance_geografico,
			fecha_deteccion, fecha_ocurrencia, descripcion_inicial, impacto_preliminar, sistemas_afectados,
			servicios_interrumpidos, servicios_esenciales_afectados, origen_incidente, tipo_amenaza, responsable_cliente,
			acciones_inmediatas, causa_raiz, lecciones_aprendidas, plan_mejora, solicitar_csirt, tipo_apoyo_csirt,
			vector_ataque, vulnerabilidad_explotada, reporte_anci_id, fecha_declaracion_anci,
			estado, version, creado_por, created_at, updated_at, closed_at, deleted_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,NULL,NULL)`,
		incident.EmpresaID, incident.Correlativo, incident.IndiceUnico, incident.Titulo, incident.Criticidad, incident.AlcanceGeografico,
		incident.FechaDeteccion, nullableTime(incident.FechaOcurrencia), incident.DescripcionInicial, incident.ImpactoPreliminar, incident.SistemasAfectados,
		incident.ServiciosInterrumpidos, boolToInt(incident.ServiciosEsencialesAfectados), incident.OrigenIncidente, incident.TipoAmenaza, incident.ResponsableCliente,
		incident.AccionesInmediatas, incident.CausaRaiz, incident.LeccionesAprendidas, incident.PlanMejora, boolToInt(incident.SolicitarCSIRT), incident.TipoApoyoCSIRT,
		incident.VectorAtaque, incident.VulnerabilidadExplotada, incident.ReporteAnciID, nullableTime(incident.FechaDeclaracionANCI),
		incident.Estado, incident.Version, nullableID(incident.CreadoPor), now, now)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	incident.ID = id
	return id, nil
}

func (s *incidentsStore) UpdateIncident(ctx context.Context, incident *Incident, expectedVersion int) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidentes SET titulo=?, criticidad=?, alcance_geografico=?, fecha_deteccion=?, fecha_ocurrencia=?,
			descripcion_inicial=?, impacto_preliminar=?, sistemas_afectados=?, servicios_interrumpidos=?,
			servicios_esenciales_afectados=?, origen_incidente=?, tipo_amenaza=?, responsable_cliente=?,
			acciones_inmediatas=?, causa_raiz=?, lecciones_aprendidas=?, plan_mejora=?, solicitar_csirt=?, tipo_apoyo_csirt=?,
			vector_ataque=?, vulnerabilidad_explotada=?, estado=?, updated_at=?, version=version+1
		WHERE id=? AND version=? AND deleted_at IS NULL`,
		incident.Titulo, incident.Criticidad, incident.AlcanceGeografico, incident.FechaDeteccion, nullableTime(incident.FechaOcurrencia),
		incident.DescripcionInicial, incident.ImpactoPreliminar, incident.SistemasAfectados, incident.ServiciosInterrumpidos,
		boolToInt(incident.ServiciosEsencialesAfectados), incident.OrigenIncidente, incident.TipoAmenaza, incident.ResponsableCliente,
		incident.AccionesInmediatas, incident.CausaRaiz, incident.LeccionesAprendidas, incident.PlanMejora, boolToInt(incident.SolicitarCSIRT), incident.TipoApoyoCSIRT,
		incident.VectorAtaque, incident.VulnerabilidadExplotada, incident.Estado, now, incident.ID, expectedVersion)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	incident.Version = expectedVersion + 1
	incident.UpdatedAt = now
	return nil
}

func (s *incidentsStore) SetEstado(ctx context.Context, id int64, estado string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidentes SET estado=?, updated_at=?, version=version+1 WHERE id=? AND deleted_at IS NULL`,
		estado, now, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

// CloseIncident stamps closed_at, which freezes the deadline countdown
// at that instant.
func (s *incidentsStore) CloseIncident(ctx context.Context, id int64) (*Incident, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidentes SET estado='cerrado', closed_at=?, updated_at=?, version=version+1
		WHERE id=? AND deleted_at IS NULL AND estado!='cerrado'`,
		now, now, id)
	if err != nil {
		return nil, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, ErrConflict
	}
	return s.GetIncident(ctx, id)
}

func (s *incidentsStore) ReopenIncident(ctx context.Context, id int64) (*Incident, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidentes SET estado='abierto', closed_at=NULL, updated_at=?, version=version+1
		WHERE id=? AND deleted_at IS NULL AND estado='cerrado'`,
		now, id)
	if err != nil {
		return nil, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, ErrConflict
	}
	return s.GetIncident(ctx, id)
}

func (s *incidentsStore) SoftDeleteIncident(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidentes SET deleted_at=?, updated_at=?, version=version+1 WHERE id=? AND deleted_at IS NULL`,
		now, now, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *incidentsStore) RestoreIncident(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidentes SET deleted_at=NULL, updated_at=?, version=version+1 WHERE id=? AND deleted_at IS NOT NULL`,
		now, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *incidentsStore) GetIncident(ctx context.Context, id int64) (*Incident, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidentes WHERE id=?`, id)
	return scanIncident(row)
}

func (s *incidentsStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error) {
	var clauses []string
	var args []any
	if !filter.IncludeDeleted {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	if filter.EmpresaID > 0 {
		clauses = append(clauses, "empresa_id=?")
		args = append(args, filter.EmpresaID)
	} else if len(filter.EmpresaIDs) > 0 {
		clauses = append(clauses, "empresa_id IN ("+placeholders(len(filter.EmpresaIDs))+")")
		for _, id := range filter.EmpresaIDs {
			args = append(args, id)
		}
	}
	if len(filter.EstadoIn) > 0 {
		var in []string
		for _, raw := range filter.EstadoIn {
			if strings.TrimSpace(raw) != "" {
				in = append(in, strings.TrimSpace(raw))
			}
		}
		if len(in) > 0 {
			clauses = append(clauses, "estado IN ("+placeholders(len(in))+")")
			for _, val := range in {
				args = append(args, val)
			}
		}
	} else if filter.Estado != "" {
		clauses = append(clauses, "estado=?")
		args = append(args, filter.Estado)
	}
	if filter.Criticidad != "" {
		clauses = append(clauses, "criticidad=?")
		args = append(args, filter.Criticidad)
	}
	if filter.Search != "" {
		clauses = append(clauses, "(titulo LIKE ? OR descripcion_inicial LIKE ? OR correlativo LIKE ?)")
		q := "%" + filter.Search + "%"
		args = append(args, q, q, q)
	}
	query := `SELECT ` + incidentColumns + ` FROM incidentes`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY fecha_deteccion DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Incident
	for rows.Next() {
		incident, err := scanIncidentRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, incident)
	}
	return res, rows.Err()
}

// ListOpenIncidents feeds the deadline sweeper. Closed and deleted rows
// owe no further reports.
func (s *incidentsStore) ListOpenIncidents(ctx context.Context) ([]Incident, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+incidentColumns+` FROM incidentes
		WHERE deleted_at IS NULL AND estado!='cerrado' ORDER BY fecha_deteccion ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Incident
	for rows.Next() {
		incident, err := scanIncidentRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, incident)
	}
	return res, rows.Err()
}

func (s *incidentsStore) CountByEstado(ctx context.Context, empresaID int64) (map[string]int64, error) {
	query := `SELECT estado, COUNT(*) FROM incidentes WHERE deleted_at IS NULL`
	var args []any
	if empresaID > 0 {
		query += ` AND empresa_id=?`
		args = append(args, empresaID)
	}
	query += ` GROUP BY estado`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make(map[string]int64)
	for rows.Next() {
		var estado string
		var total int64
		if err := rows.Scan(&estado, &total); err != nil {
			return nil, err
		}
		res[estado] = total
	}
	return res, rows.Err()
}

func (s *incidentsStore) MarkDeclared(ctx context.Context, id int64, reporteAnciID string, when time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidentes SET reporte_anci_id=?, fecha_declaracion_anci=?, updated_at=?, version=version+1
		WHERE id=? AND deleted_at IS NULL`,
		strings.TrimSpace(reporteAnciID), when.UTC(), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *incidentsStore) AddHistory(ctx context.Context, entry *IncidentHistoryEntry) (int64, error) {
	now := time.Now().UTC()
	id, err := s.db.insertID(ctx, `
		INSERT INTO incidente_historial(incidente_id, estado_anterior, estado_nuevo, comentario, username, created_at)
		VALUES(?,?,?,?,?,?)`,
		entry.IncidenteID, entry.EstadoAnterior, entry.EstadoNuevo, entry.Comentario, entry.Username, now)
	if err != nil {
		return 0, err
	}
	entry.ID = id
	entry.CreatedAt = now
	return id, nil
}

func (s *incidentsStore) ListHistory(ctx context.Context, incidenteID int64, limit int) ([]IncidentHistoryEntry, error) {
	query := `
		SELECT id, incidente_id, estado_anterior, estado_nuevo, comentario, username, created_at
		FROM incidente_historial WHERE incidente_id=? ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, incidenteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []IncidentHistoryEntry
	for rows.Next() {
		var e IncidentHistoryEntry
		if err := rows.Scan(&e.ID, &e.IncidenteID, &e.EstadoAnterior, &e.EstadoNuevo, &e.Comentario, &e.Username, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (s *incidentsStore) nextIncidentSeqTx(ctx context.Context, tx *Tx, year int) (int64, error) {
	var seq int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO incidente_reg_counters(year, seq)
		VALUES(?,1)
		ON CONFLICT (year)
		DO UPDATE SET seq = incidente_reg_counters.seq + 1
		RETURNING seq
	`, year).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

var seqToken = regexp.MustCompile(`\{seq(?::(\d+))?\}`)

func buildIncidentRegNo(format string, year int, seq int64, rut string) string {
	if strings.TrimSpace(format) == "" {
		format = "INC-{year}-{seq:05}"
	}
	out := strings.ReplaceAll(format, "{year}", fmt.Sprintf("%d", year))
	out = strings.ReplaceAll(out, "{rut}", rutBody(rut))
	out = seqToken.ReplaceAllStringFunc(out, func(token string) string {
		m := seqToken.FindStringSubmatch(token)
		if len(m) == 2 && m[1] != "" {
			width := 0
			_, _ = fmt.Sscanf(m[1], "%d", &width)
			if width > 0 {
				return fmt.Sprintf("%0*d", width, seq)
			}
		}
		return fmt.Sprintf("%d", seq)
	})
	return out
}

// buildIndiceUnico keeps the official nomenclature, capped at 50 chars.
func buildIndiceUnico(correlativo, rut string) string {
	indice := fmt.Sprintf("%s_%s_1_1_INCIDENTE_NUEVO", correlativo, rutBody(rut))
	if len(indice) > 50 {
		indice = indice[:50]
	}
	return indice
}

// rutBody strips dots and the verification digit: "76.123.456-0" -> "76123456".
func rutBody(rut string) string {
	clean := strings.ReplaceAll(strings.TrimSpace(rut), ".", "")
	if i := strings.Index(clean, "-"); i >= 0 {
		clean = clean[:i]
	}
	if clean == "" {
		clean = "0"
	}
	return clean
}

func scanIncident(row *sql.Row) (*Incident, error) {
	var inc Incident
	var ocurrencia, declaracion, closedAt, deleted sql.NullTime
	var creadoPor sql.NullInt64
	if err := row.Scan(&inc.ID, &inc.EmpresaID, &inc.Correlativo, &inc.IndiceUnico, &inc.Titulo, &inc.Criticidad, &inc.AlcanceGeografico,
		&inc.FechaDeteccion, &ocurrencia, &inc.DescripcionInicial, &inc.ImpactoPreliminar, &inc.SistemasAfectados,
		&inc.ServiciosInterrumpidos, &inc.ServiciosEsencialesAfectados, &inc.OrigenIncidente, &inc.TipoAmenaza, &inc.ResponsableCliente,
		&inc.AccionesInmediatas, &inc.CausaRaiz, &inc.LeccionesAprendidas, &inc.PlanMejora, &inc.SolicitarCSIRT, &inc.TipoApoyoCSIRT,
		&inc.VectorAtaque, &inc.VulnerabilidadExplotada, &inc.ReporteAnciID, &declaracion,
		&inc.Estado, &inc.Version, &creadoPor, &inc.CreatedAt, &inc.UpdatedAt, &closedAt, &deleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	inc.FechaOcurrencia = timePtr(ocurrencia)
	inc.FechaDeclaracionANCI = timePtr(declaracion)
	inc.ClosedAt = timePtr(closedAt)
	inc.DeletedAt = timePtr(deleted)
	if creadoPor.Valid {
		inc.CreadoPor = &creadoPor.Int64
	}
	return &inc, nil
}

func scanIncidentRow(rows *sql.Rows) (Incident, error) {
	var inc Incident
	var ocurrencia, declaracion, closedAt, deleted sql.NullTime
	var creadoPor sql.NullInt64
	if err := rows.Scan(&inc.ID, &inc.EmpresaID, &inc.Correlativo, &inc.IndiceUnico, &inc.Titulo, &inc.Criticidad, &inc.AlcanceGeografico,
		&inc.FechaDeteccion, &ocurrencia, &inc.DescripcionInicial, &inc.ImpactoPreliminar, &inc.SistemasAfectados,
		&inc.ServiciosInterrumpidos, &inc.ServiciosEsencialesAfectados, &inc.OrigenIncidente, &inc.TipoAmenaza, &inc.ResponsableCliente,
		&inc.AccionesInmediatas, &inc.CausaRaiz, &inc.LeccionesAprendidas, &inc.PlanMejora, &inc.SolicitarCSIRT, &inc.TipoApoyoCSIRT,
		&inc.VectorAtaque, &inc.VulnerabilidadExplotada, &inc.ReporteAnciID, &declaracion,
		&inc.Estado, &inc.Version, &creadoPor, &inc.CreatedAt, &inc.UpdatedAt, &closedAt, &deleted); err != nil {
		return inc, err
	}
	inc.FechaOcurrencia = timePtr(ocurrencia)
	inc.FechaDeclaracionANCI = timePtr(declaracion)
	inc.ClosedAt = timePtr(closedAt)
	inc.DeletedAt = timePtr(deleted)
	if creadoPor.Valid {
		inc.CreadoPor = &creadoPor.Int64
	}
	return inc, nil
}
