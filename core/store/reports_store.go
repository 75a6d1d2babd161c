package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type Report struct {
	ID                    int64      `json:"id"`
	IncidenteID           int64      `json:"incidente_id"`
	TipoReporte           string     `json:"tipo_reporte"`
	Version               int        `json:"version"`
	NombreArchivo         string     `json:"nombre_archivo"`
	Ruta                  string     `json:"-"`
	SizeBytes             int64      `json:"size_bytes"`
	Sha256                string     `json:"sha256"`
	Formato               string     `json:"formato"`
	MarcadoresSinResolver []string   `json:"marcadores_sin_resolver"`
	Estado                string     `json:"estado"`
	GeneradoPor           string     `json:"generado_por"`
	CreatedAt             time.Time  `json:"created_at"`
	PresentadoAt          *time.Time `json:"presentado_at,omitempty"`
}

type ReportTemplate struct {
	ID            int64     `json:"id"`
	TipoReporte   string    `json:"tipo_reporte"`
	Nombre        string    `json:"nombre"`
	NombreArchivo string    `json:"nombre_archivo"`
	Descripcion   string    `json:"descripcion"`
	Activa        bool      `json:"activa"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ReportsStore interface {
	CreateReport(ctx context.Context, report *Report) (int64, error)
	GetReport(ctx context.Context, id int64) (*Report, error)
	ListReports(ctx context.Context, incidenteID int64) ([]Report, error)
	MarkPresented(ctx context.Context, id int64, when time.Time) error

	ListTemplates(ctx context.Context) ([]ReportTemplate, error)
	GetTemplate(ctx context.Context, tipo string) (*ReportTemplate, error)
	UpsertTemplate(ctx context.Context, tpl *ReportTemplate) error
}

type reportsStore struct {
	db *DB
}

func NewReportsStore(db *DB) ReportsStore {
	return &reportsStore{db: db}
}

const reportColumns = `id, incidente_id, tipo_reporte, version, nombre_archivo, ruta, size_bytes, sha256,
	formato, marcadores_sin_resolver, estado, generado_por, created_at, presentado_at`

// CreateReport allocates the next version for (incidente, tipo) inside
// the insert transaction, so regenerating a report never overwrites an
// earlier file.
func (s *reportsStore) CreateReport(ctx context.Context, report *Report) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	var seq int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO informe_counters(incidente_id, tipo_reporte, seq)
		VALUES(?,?,1)
		ON CONFLICT (incidente_id, tipo_reporte)
		DO UPDATE SET seq = informe_counters.seq + 1
		RETURNING seq
	`, report.IncidenteID, report.TipoReporte).Scan(&seq); err != nil {
		tx.Rollback()
		return 0, err
	}
	report.Version = int(seq)
	if report.Formato == "" {
		report.Formato = "docx"
	}
	if report.Estado == "" {
		report.Estado = "generado"
	}
	now := time.Now().UTC()
	report.CreatedAt = now
	id, err := tx.insertID(ctx, `
		INSERT INTO informes_anci(incidente_id, tipo_reporte, version, nombre_archivo, ruta, size_bytes, sha256,
			formato, marcadores_sin_resolver, estado, generado_por, created_at, presentado_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,NULL)`,
		report.IncidenteID, report.TipoReporte, report.Version, report.NombreArchivo, report.Ruta, report.SizeBytes, report.Sha256,
		report.Formato, encodeStringList(report.MarcadoresSinResolver), report.Estado, report.GeneradoPor, now)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	report.ID = id
	return id, nil
}

func (s *reportsStore) GetReport(ctx context.Context, id int64) (*Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM informes_anci WHERE id=?`, id)
	return scanReport(row)
}

func (s *reportsStore) ListReports(ctx context.Context, incidenteID int64) ([]Report, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reportColumns+` FROM informes_anci
		WHERE incidente_id=? ORDER BY tipo_reporte, version DESC`, incidenteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Report
	for rows.Next() {
		report, err := scanReportRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, report)
	}
	return res, rows.Err()
}

func (s *reportsStore) MarkPresented(ctx context.Context, id int64, when time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE informes_anci SET estado='presentado', presentado_at=? WHERE id=? AND presentado_at IS NULL`,
		when.UTC(), id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *reportsStore) ListTemplates(ctx context.Context) ([]ReportTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tipo_reporte, nombre, nombre_archivo, descripcion, activa, updated_at
		FROM plantillas_informes ORDER BY tipo_reporte`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ReportTemplate
	for rows.Next() {
		var tpl ReportTemplate
		if err := rows.Scan(&tpl.ID, &tpl.TipoReporte, &tpl.Nombre, &tpl.NombreArchivo, &tpl.Descripcion, &tpl.Activa, &tpl.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, tpl)
	}
	return res, rows.Err()
}

func (s *reportsStore) GetTemplate(ctx context.Context, tipo string) (*ReportTemplate, error) {
	var tpl ReportTemplate
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tipo_reporte, nombre, nombre_archivo, descripcion, activa, updated_at
		FROM plantillas_informes WHERE tipo_reporte=?`, tipo).
		Scan(&tpl.ID, &tpl.TipoReporte, &tpl.Nombre, &tpl.NombreArchivo, &tpl.Descripcion, &tpl.Activa, &tpl.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

func (s *reportsStore) UpsertTemplate(ctx context.Context, tpl *ReportTemplate) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plantillas_informes(tipo_reporte, nombre, nombre_archivo, descripcion, activa, updated_at)
		VALUES(?,?,?,?,?,?)
		ON CONFLICT (tipo_reporte)
		DO UPDATE SET nombre=excluded.nombre, nombre_archivo=excluded.nombre_archivo,
			descripcion=excluded.descripcion, activa=excluded.activa, updated_at=excluded.updated_at`,
		tpl.TipoReporte, tpl.Nombre, tpl.NombreArchivo, tpl.Descripcion, boolToInt(tpl.Activa), now)
	if err != nil {
		return err
	}
	tpl.UpdatedAt = now
	return nil
}

func scanReport(row *sql.Row) (*Report, error) {
	var report Report
	var marcadores string
	var presentado sql.NullTime
	if err := row.Scan(&report.ID, &report.IncidenteID, &report.TipoReporte, &report.Version, &report.NombreArchivo,
		&report.Ruta, &report.SizeBytes, &report.Sha256, &report.Formato, &marcadores, &report.Estado,
		&report.GeneradoPor, &report.CreatedAt, &presentado); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	report.MarcadoresSinResolver = decodeStringList(marcadores)
	report.PresentadoAt = timePtr(presentado)
	return &report, nil
}

func scanReportRow(rows *sql.Rows) (Report, error) {
	var report Report
	var marcadores string
	var presentado sql.NullTime
	if err := rows.Scan(&report.ID, &report.IncidenteID, &report.TipoReporte, &report.Version, &report.NombreArchivo,
		&report.Ruta, &report.SizeBytes, &report.Sha256, &report.Formato, &marcadores, &report.Estado,
		&report.GeneradoPor, &report.CreatedAt, &presentado); err != nil {
		return report, err
	}
	report.MarcadoresSinResolver = decodeStringList(marcadores)
	report.PresentadoAt = timePtr(presentado)
	return report, nil
}
