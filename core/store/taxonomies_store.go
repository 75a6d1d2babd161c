package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type Taxonomy struct {
	ID                string `json:"id"`
	Area              string `json:"area"`
	Efecto            string `json:"efecto"`
	Categoria         string `json:"categoria"`
	Subcategoria      string `json:"subcategoria"`
	AplicaTipoEmpresa string `json:"aplica_tipo_empresa"`
	Activa            bool   `json:"activa"`
}

type IncidentTaxonomy struct {
	ID                  int64     `json:"id"`
	IncidenteID         int64     `json:"incidente_id"`
	TaxonomiaID         string    `json:"taxonomia_id"`
	Justificacion       string    `json:"justificacion"`
	DescripcionProblema string    `json:"descripcion_problema"`
	Orden               int       `json:"orden"`
	CreadoPor           string    `json:"creado_por"`
	CreatedAt           time.Time `json:"fecha_asignacion"`

	Area         string `json:"area,omitempty"`
	Efecto       string `json:"efecto,omitempty"`
	Categoria    string `json:"categoria,omitempty"`
	Subcategoria string `json:"subcategoria,omitempty"`
}

type TaxonomiesStore interface {
	List(ctx context.Context) ([]Taxonomy, error)
	ListForCompany(ctx context.Context, tipoEmpresa string) ([]Taxonomy, error)
	Get(ctx context.Context, id string) (*Taxonomy, error)
	Assign(ctx context.Context, link *IncidentTaxonomy) (int64, error)
	UpdateJustification(ctx context.Context, linkID int64, justificacion, descripcion string) error
	Remove(ctx context.Context, linkID int64) error
	GetLink(ctx context.Context, linkID int64) (*IncidentTaxonomy, error)
	ListForIncident(ctx context.Context, incidenteID int64) ([]IncidentTaxonomy, error)
}

type taxonomiesStore struct {
	db *DB
}

func NewTaxonomiesStore(db *DB) TaxonomiesStore {
	return &taxonomiesStore{db: db}
}

func (s *taxonomiesStore) List(ctx context.Context) ([]Taxonomy, error) {
	return s.listWhere(ctx, `WHERE activa=1`, nil)
}

// ListForCompany filters the catalog to what the company may report.
// Rows flagged AMBAS apply to every company type.
func (s *taxonomiesStore) ListForCompany(ctx context.Context, tipoEmpresa string) ([]Taxonomy, error) {
	tipo := strings.ToUpper(strings.TrimSpace(tipoEmpresa))
	if tipo == "" || tipo == "AMBAS" {
		return s.List(ctx)
	}
	return s.listWhere(ctx, `WHERE activa=1 AND (aplica_tipo_empresa=? OR aplica_tipo_empresa='AMBAS')`, []any{tipo})
}

func (s *taxonomiesStore) listWhere(ctx context.Context, where string, args []any) ([]Taxonomy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, area, efecto, categoria, subcategoria, aplica_tipo_empresa, activa
		FROM taxonomias `+where+` ORDER BY area, categoria, subcategoria`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Taxonomy
	for rows.Next() {
		var t Taxonomy
		if err := rows.Scan(&t.ID, &t.Area, &t.Efecto, &t.Categoria, &t.Subcategoria, &t.AplicaTipoEmpresa, &t.Activa); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (s *taxonomiesStore) Get(ctx context.Context, id string) (*Taxonomy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, area, efecto, categoria, subcategoria, aplica_tipo_empresa, activa
		FROM taxonomias WHERE id=?`, strings.TrimSpace(id))
	var t Taxonomy
	if err := row.Scan(&t.ID, &t.Area, &t.Efecto, &t.Categoria, &t.Subcategoria, &t.AplicaTipoEmpresa, &t.Activa); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (s *taxonomiesStore) Assign(ctx context.Context, link *IncidentTaxonomy) (int64, error) {
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	id, err := s.db.insertID(ctx, `
		INSERT INTO incidente_taxonomias(incidente_id, taxonomia_id, justificacion, descripcion_problema, orden, creado_por, created_at)
		VALUES(?,?,?,?,?,?,?)`,
		link.IncidenteID, link.TaxonomiaID, link.Justificacion, link.DescripcionProblema, link.Orden, link.CreadoPor, link.CreatedAt)
	if err != nil {
		return 0, err
	}
	link.ID = id
	return id, nil
}

func (s *taxonomiesStore) UpdateJustification(ctx context.Context, linkID int64, justificacion, descripcion string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE incidente_taxonomias SET justificacion=?, descripcion_problema=? WHERE id=?`,
		justificacion, descripcion, linkID)
	return err
}

func (s *taxonomiesStore) Remove(ctx context.Context, linkID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM incidente_taxonomias WHERE id=?`, linkID)
	return err
}

func (s *taxonomiesStore) GetLink(ctx context.Context, linkID int64) (*IncidentTaxonomy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT it.id, it.incidente_id, it.taxonomia_id, it.justificacion, it.descripcion_problema, it.orden, it.creado_por, it.created_at,
			t.area, t.efecto, t.categoria, t.subcategoria
		FROM incidente_taxonomias it JOIN taxonomias t ON t.id=it.taxonomia_id
		WHERE it.id=?`, linkID)
	var l IncidentTaxonomy
	if err := row.Scan(&l.ID, &l.IncidenteID, &l.TaxonomiaID, &l.Justificacion, &l.DescripcionProblema, &l.Orden, &l.CreadoPor, &l.CreatedAt,
		&l.Area, &l.Efecto, &l.Categoria, &l.Subcategoria); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func (s *taxonomiesStore) ListForIncident(ctx context.Context, incidenteID int64) ([]IncidentTaxonomy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT it.id, it.incidente_id, it.taxonomia_id, it.justificacion, it.descripcion_problema, it.orden, it.creado_por, it.created_at,
			t.area, t.efecto, t.categoria, t.subcategoria
		FROM incidente_taxonomias it JOIN taxonomias t ON t.id=it.taxonomia_id
		WHERE it.incidente_id=? ORDER BY it.orden ASC`, incidenteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []IncidentTaxonomy
	for rows.Next() {
		var l IncidentTaxonomy
		if err := rows.Scan(&l.ID, &l.IncidenteID, &l.TaxonomiaID, &l.Justificacion, &l.DescripcionProblema, &l.Orden, &l.CreadoPor, &l.CreatedAt,
			&l.Area, &l.Efecto, &l.Categoria, &l.Subcategoria); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
