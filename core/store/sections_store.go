package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
)

type SectionField struct {
	Nombre   string `json:"nombre"`
	Etiqueta string `json:"etiqueta"`
	Tipo     string `json:"tipo"`
}

type Section struct {
	ID                int64          `json:"id"`
	Codigo            string         `json:"codigo"`
	Numero            int            `json:"numero"`
	Titulo            string         `json:"titulo"`
	Descripcion       string         `json:"descripcion"`
	Campos            []SectionField `json:"campos"`
	AplicaTipoEmpresa string         `json:"aplica_tipo_empresa"`
	TieneEvidencias   bool           `json:"tiene_evidencias"`
	Orden             int            `json:"orden"`
	Activa            bool           `json:"activa"`
}

type SectionsStore interface {
	ListSections(ctx context.Context) ([]Section, error)
	ListSectionsForCompany(ctx context.Context, tipoEmpresa string) ([]Section, error)
	GetSection(ctx context.Context, codigo string) (*Section, error)
}

type sectionsStore struct {
	db *DB
}

func NewSectionsStore(db *DB) SectionsStore {
	return &sectionsStore{db: db}
}

const sectionColumns = `id, codigo, numero, titulo, descripcion, campos_json, aplica_tipo_empresa, tiene_evidencias, orden, activa`

func (s *sectionsStore) ListSections(ctx context.Context) ([]Section, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sectionColumns+` FROM secciones_config WHERE activa=1 ORDER BY orden, numero`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSections(rows)
}

// ListSectionsForCompany filters the form by company kind: an OIV-only
// section (plan de accion) never shows up for a PSE.
func (s *sectionsStore) ListSectionsForCompany(ctx context.Context, tipoEmpresa string) ([]Section, error) {
	tipo := strings.ToUpper(strings.TrimSpace(tipoEmpresa))
	if tipo == "" || tipo == "AMBAS" {
		return s.ListSections(ctx)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sectionColumns+` FROM secciones_config
		WHERE activa=1 AND (aplica_tipo_empresa=? OR aplica_tipo_empresa='TODAS')
		ORDER BY orden, numero`, tipo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSections(rows)
}

func (s *sectionsStore) GetSection(ctx context.Context, codigo string) (*Section, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sectionColumns+` FROM secciones_config WHERE codigo=?`, strings.TrimSpace(codigo))
	section, err := scanSection(row)
	if err != nil {
		return nil, err
	}
	return section, nil
}

func collectSections(rows *sql.Rows) ([]Section, error) {
	var res []Section
	for rows.Next() {
		var section Section
		var campos string
		if err := rows.Scan(&section.ID, &section.Codigo, &section.Numero, &section.Titulo, &section.Descripcion,
			&campos, &section.AplicaTipoEmpresa, &section.TieneEvidencias, &section.Orden, &section.Activa); err != nil {
			return nil, err
		}
		section.Campos = decodeSectionFields(campos)
		res = append(res, section)
	}
	return res, rows.Err()
}

func scanSection(row *sql.Row) (*Section, error) {
	var section Section
	var campos string
	if err := row.Scan(&section.ID, &section.Codigo, &section.Numero, &section.Titulo, &section.Descripcion,
		&campos, &section.AplicaTipoEmpresa, &section.TieneEvidencias, &section.Orden, &section.Activa); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	section.Campos = decodeSectionFields(campos)
	return &section, nil
}

func decodeSectionFields(raw string) []SectionField {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var fields []SectionField
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil
	}
	return fields
}
