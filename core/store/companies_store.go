package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type Company struct {
	ID                 int64      `json:"id"`
	RUT                string     `json:"rut"`
	RazonSocial        string     `json:"razon_social"`
	Tipo               string     `json:"tipo_empresa"`
	SectorEsencial     string     `json:"sector_esencial"`
	ServicioEsencial   bool       `json:"servicio_esencial"`
	NombreEncargado    string     `json:"nombre_encargado"`
	CargoEncargado     string     `json:"cargo_encargado"`
	EmailContacto      string     `json:"email_contacto"`
	Telefono           string     `json:"telefono"`
	Direccion          string     `json:"direccion"`
	Ciudad             string     `json:"ciudad"`
	RepresentanteLegal string     `json:"representante_legal"`
	Version            int        `json:"version"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty"`
}

// CompanyRef is the slim projection attached to sessions and incident DTOs.
type CompanyRef struct {
	ID          int64  `json:"id"`
	RUT         string `json:"rut"`
	RazonSocial string `json:"razon_social"`
	Tipo        string `json:"tipo_empresa"`
}

func (c Company) Ref() CompanyRef {
	return CompanyRef{ID: c.ID, RUT: c.RUT, RazonSocial: c.RazonSocial, Tipo: c.Tipo}
}

type CompanyFilter struct {
	Tipo           string
	Search         string
	IncludeDeleted bool
	Limit          int
	Offset         int
}

type CompaniesStore interface {
	Create(ctx context.Context, c *Company) (int64, error)
	Update(ctx context.Context, c *Company) error
	Get(ctx context.Context, id int64) (*Company, error)
	FindByRUT(ctx context.Context, rut string) (*Company, error)
	List(ctx context.Context, filter CompanyFilter) ([]Company, error)
	SoftDelete(ctx context.Context, id int64) error
	Restore(ctx context.Context, id int64) error
}

type companiesStore struct {
	db *DB
}

func NewCompaniesStore(db *DB) CompaniesStore {
	return &companiesStore{db: db}
}

const companyColumns = `id, rut, razon_social, tipo_empresa, sector_esencial, servicio_esencial,
	nombre_encargado, cargo_encargado, email_contacto, telefono, direccion, ciudad, representante_legal,
	version, created_at, updated_at, deleted_at`

func (s *companiesStore) Create(ctx context.Context, c *Company) (int64, error) {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Version == 0 {
		c.Version = 1
	}
	id, err := s.db.insertID(ctx, `
		INSERT INTO empresas(rut, razon_social, tipo_empresa, sector_esencial, servicio_esencial,
			nombre_encargado, cargo_encargado, email_contacto, telefono, direccion, ciudad, representante_legal,
			version, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.RUT, c.RazonSocial, c.Tipo, c.SectorEsencial, boolToInt(c.ServicioEsencial),
		c.NombreEncargado, c.CargoEncargado, c.EmailContacto, c.Telefono, c.Direccion, c.Ciudad, c.RepresentanteLegal,
		c.Version, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return 0, err
	}
	c.ID = id
	return id, nil
}

// Update bumps version and fails with ErrConflict when someone else
// saved the row since c was read.
func (s *companiesStore) Update(ctx context.Context, c *Company) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE empresas SET rut=?, razon_social=?, tipo_empresa=?, sector_esencial=?, servicio_esencial=?,
			nombre_encargado=?, cargo_encargado=?, email_contacto=?, telefono=?, direccion=?, ciudad=?, representante_legal=?,
			version=version+1, updated_at=?
		WHERE id=? AND version=? AND deleted_at IS NULL`,
		c.RUT, c.RazonSocial, c.Tipo, c.SectorEsencial, boolToInt(c.ServicioEsencial),
		c.NombreEncargado, c.CargoEncargado, c.EmailContacto, c.Telefono, c.Direccion, c.Ciudad, c.RepresentanteLegal,
		now, c.ID, c.Version)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrConflict
	}
	c.Version++
	c.UpdatedAt = now
	return nil
}

func (s *companiesStore) Get(ctx context.Context, id int64) (*Company, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+companyColumns+` FROM empresas WHERE id=?`, id)
	return scanCompany(row)
}

func (s *companiesStore) FindByRUT(ctx context.Context, rut string) (*Company, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+companyColumns+` FROM empresas WHERE rut=? AND deleted_at IS NULL`, strings.TrimSpace(rut))
	return scanCompany(row)
}

func (s *companiesStore) List(ctx context.Context, filter CompanyFilter) ([]Company, error) {
	clauses := []string{}
	args := []any{}
	if !filter.IncludeDeleted {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	if filter.Tipo != "" {
		clauses = append(clauses, "tipo_empresa=?")
		args = append(args, strings.ToUpper(strings.TrimSpace(filter.Tipo)))
	}
	if filter.Search != "" {
		like := "%" + strings.ToLower(strings.TrimSpace(filter.Search)) + "%"
		clauses = append(clauses, "(LOWER(razon_social) LIKE ? OR LOWER(rut) LIKE ?)")
		args = append(args, like, like)
	}
	query := `SELECT ` + companyColumns + ` FROM empresas`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY razon_social ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Company
	for rows.Next() {
		c, err := scanCompanyRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (s *companiesStore) SoftDelete(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `UPDATE empresas SET deleted_at=?, updated_at=? WHERE id=? AND deleted_at IS NULL`, now, now, id)
	return err
}

func (s *companiesStore) Restore(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE empresas SET deleted_at=NULL, updated_at=? WHERE id=?`, time.Now().UTC(), id)
	return err
}

func scanCompany(row *sql.Row) (*Company, error) {
	var c Company
	var deleted sql.NullTime
	if err := row.Scan(&c.ID, &c.RUT, &c.RazonSocial, &c.Tipo, &c.SectorEsencial, &c.ServicioEsencial,
		&c.NombreEncargado, &c.CargoEncargado, &c.EmailContacto, &c.Telefono, &c.Direccion, &c.Ciudad, &c.RepresentanteLegal,
		&c.Version, &c.CreatedAt, &c.UpdatedAt, &deleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.DeletedAt = timePtr(deleted)
	return &c, nil
}

func scanCompanyRow(rows *sql.Rows) (Company, error) {
	var c Company
	var deleted sql.NullTime
	if err := rows.Scan(&c.ID, &c.RUT, &c.RazonSocial, &c.Tipo, &c.SectorEsencial, &c.ServicioEsencial,
		&c.NombreEncargado, &c.CargoEncargado, &c.EmailContacto, &c.Telefono, &c.Direccion, &c.Ciudad, &c.RepresentanteLegal,
		&c.Version, &c.CreatedAt, &c.UpdatedAt, &deleted); err != nil {
		return c, err
	}
	c.DeletedAt = timePtr(deleted)
	return c, nil
}
