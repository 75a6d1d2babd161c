package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/rbac"
)

type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Permissions []string  `json:"permissions"`
	BuiltIn     bool      `json:"built_in"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type RolesStore interface {
	List(ctx context.Context) ([]Role, error)
	FindByID(ctx context.Context, id int64) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	Create(ctx context.Context, role *Role) (int64, error)
	Update(ctx context.Context, role *Role) error
	Delete(ctx context.Context, id int64) error
	LoadPolicyRoles(ctx context.Context) ([]rbac.Role, error)
}

type rolesStore struct {
	db *DB
}

func NewRolesStore(db *DB) RolesStore {
	return &rolesStore{db: db}
}

func (s *rolesStore) List(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, permissions, built_in, created_at, updated_at
		FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Role
	for rows.Next() {
		var r Role
		var permsRaw string
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &permsRaw, &r.BuiltIn, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Permissions = decodeStringList(permsRaw)
		res = append(res, r)
	}
	return res, rows.Err()
}

func (s *rolesStore) FindByID(ctx context.Context, id int64) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, permissions, built_in, created_at, updated_at
		FROM roles WHERE id=?`, id)
	return scanRole(row)
}

func (s *rolesStore) FindByName(ctx context.Context, name string) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, permissions, built_in, created_at, updated_at
		FROM roles WHERE LOWER(name)=LOWER(?)`, strings.TrimSpace(name))
	return scanRole(row)
}

func (s *rolesStore) Create(ctx context.Context, role *Role) (int64, error) {
	now := time.Now().UTC()
	id, err := s.db.insertID(ctx, `
		INSERT INTO roles(name, description, permissions, built_in, created_at, updated_at)
		VALUES(?,?,?,?,?,?)`,
		strings.TrimSpace(role.Name), role.Description, encodeStringList(role.Permissions), boolToInt(role.BuiltIn), now, now)
	if err != nil {
		return 0, err
	}
	role.ID = id
	role.CreatedAt = now
	role.UpdatedAt = now
	return id, nil
}

func (s *rolesStore) Update(ctx context.Context, role *Role) error {
	role.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE roles SET description=?, permissions=?, updated_at=? WHERE id=?`,
		role.Description, encodeStringList(role.Permissions), role.UpdatedAt, role.ID)
	return err
}

func (s *rolesStore) Delete(ctx context.Context, id int64) error {
	role, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if role == nil {
		return nil
	}
	if role.BuiltIn {
		return errors.New("built-in roles cannot be deleted")
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM roles WHERE id=?`, id)
	return err
}

// LoadPolicyRoles feeds the enforcer from whatever is persisted,
// including roles edited at runtime.
func (s *rolesStore) LoadPolicyRoles(ctx context.Context) ([]rbac.Role, error) {
	roles, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]rbac.Role, 0, len(roles))
	for _, r := range roles {
		out = append(out, rbac.Role{
			Name:        r.Name,
			Description: r.Description,
			Permissions: r.Permissions,
			BuiltIn:     r.BuiltIn,
		})
	}
	return out, nil
}

func scanRole(row *sql.Row) (*Role, error) {
	var r Role
	var permsRaw string
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &permsRaw, &r.BuiltIn, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	r.Permissions = decodeStringList(permsRaw)
	return &r, nil
}
