package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type User struct {
	ID                    int64      `json:"id"`
	Username              string     `json:"username"`
	Email                 string     `json:"email"`
	FullName              string     `json:"full_name"`
	PasswordHash          string     `json:"-"`
	Salt                  string     `json:"-"`
	PasswordSet           bool       `json:"password_set"`
	RequirePasswordChange bool       `json:"require_password_change"`
	FailedAttempts        int        `json:"-"`
	LockedUntil           *time.Time `json:"locked_until,omitempty"`
	LockReason            string     `json:"-"`
	LockStage             int        `json:"-"`
	LastLoginAt           *time.Time `json:"last_login_at,omitempty"`
	LastFailedAt          *time.Time `json:"-"`
	PasswordChangedAt     *time.Time `json:"password_changed_at,omitempty"`
	Active                bool       `json:"active"`
	DisabledAt            *time.Time `json:"disabled_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

type UserWithRoles struct {
	User
	Roles []string `json:"roles"`
}

type PasswordRecord struct {
	Hash      string
	Salt      string
	CreatedAt time.Time
}

type UserFilter struct {
	Search    string
	Role      string
	Active    *bool
	EmpresaID int64
}

// EffectiveAccess is what a session can actually do: the flattened
// permission set plus the companies the user may operate on.
type EffectiveAccess struct {
	Permissions []string     `json:"permissions"`
	Companies   []CompanyRef `json:"empresas"`
}

type UsersStore interface {
	FindByUsername(ctx context.Context, username string) (*User, []string, error)
	Get(ctx context.Context, id int64) (*User, []string, error)
	List(ctx context.Context) ([]UserWithRoles, error)
	ListFiltered(ctx context.Context, filter UserFilter) ([]UserWithRoles, error)
	Create(ctx context.Context, u *User, roles []string) (int64, error)
	Update(ctx context.Context, u *User, roles []string) error
	UpdatePassword(ctx context.Context, id int64, hash, salt string, requireChange bool) error
	PasswordHistory(ctx context.Context, id int64, limit int) ([]PasswordRecord, error)
	SetActive(ctx context.Context, id int64, active bool) error
	Delete(ctx context.Context, id int64) error
	UserCompanies(ctx context.Context, userID int64) ([]CompanyRef, error)
	SetUserCompanies(ctx context.Context, userID int64, empresaIDs []int64) error
}

type usersStore struct {
	db *DB
}

func NewUsersStore(db *DB) UsersStore {
	return &usersStore{db: db}
}

const userColumns = `id, username, email, full_name, password_hash, salt, password_set, require_password_change,
	failed_attempts, locked_until, lock_reason, lock_stage, last_login_at, last_failed_at, password_changed_at,
	active, disabled_at, created_at, updated_at`

func (s *usersStore) FindByUsername(ctx context.Context, username string) (*User, []string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(username)=LOWER(?)`, strings.TrimSpace(username))
	u, err := scanUser(row)
	if err != nil || u == nil {
		return u, nil, err
	}
	roles, err := s.rolesFor(ctx, u.ID)
	return u, roles, err
}

func (s *usersStore) Get(ctx context.Context, id int64) (*User, []string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id)
	u, err := scanUser(row)
	if err != nil || u == nil {
		return u, nil, err
	}
	roles, err := s.rolesFor(ctx, u.ID)
	return u, roles, err
}

func (s *usersStore) List(ctx context.Context) ([]UserWithRoles, error) {
	return s.ListFiltered(ctx, UserFilter{})
}

func (s *usersStore) ListFiltered(ctx context.Context, filter UserFilter) ([]UserWithRoles, error) {
	query := `SELECT DISTINCT u.id, u.username, u.email, u.full_name, u.password_hash, u.salt, u.password_set, u.require_password_change,
		u.failed_attempts, u.locked_until, u.lock_reason, u.lock_stage, u.last_login_at, u.last_failed_at, u.password_changed_at,
		u.active, u.disabled_at, u.created_at, u.updated_at FROM users u`
	var clauses []string
	var args []any
	if filter.Role != "" {
		query += ` JOIN user_roles ur ON ur.user_id=u.id JOIN roles r ON r.id=ur.role_id`
		clauses = append(clauses, "r.name=?")
		args = append(args, filter.Role)
	}
	if filter.EmpresaID > 0 {
		query += ` JOIN user_empresas ue ON ue.user_id=u.id`
		clauses = append(clauses, "ue.empresa_id=?")
		args = append(args, filter.EmpresaID)
	}
	if filter.Search != "" {
		like := "%" + strings.ToLower(strings.TrimSpace(filter.Search)) + "%"
		clauses = append(clauses, "(LOWER(u.username) LIKE ? OR LOWER(u.full_name) LIKE ? OR LOWER(u.email) LIKE ?)")
		args = append(args, like, like, like)
	}
	if filter.Active != nil {
		clauses = append(clauses, "u.active=?")
		args = append(args, boolToInt(*filter.Active))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY u.username ASC"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []UserWithRoles
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, UserWithRoles{User: u})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		roles, err := s.rolesFor(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Roles = roles
	}
	return res, nil
}

func (s *usersStore) Create(ctx context.Context, u *User, roles []string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	id, err := tx.insertID(ctx, `
		INSERT INTO users(username, email, full_name, password_hash, salt, password_set, require_password_change,
			failed_attempts, locked_until, lock_reason, lock_stage, last_login_at, last_failed_at, password_changed_at,
			active, disabled_at, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		strings.TrimSpace(u.Username), u.Email, u.FullName, u.PasswordHash, u.Salt, boolToInt(u.PasswordSet), boolToInt(u.RequirePasswordChange),
		u.FailedAttempts, nullableTime(u.LockedUntil), u.LockReason, u.LockStage, nullableTime(u.LastLoginAt), nullableTime(u.LastFailedAt), nullableTime(u.PasswordChangedAt),
		boolToInt(u.Active), nullableTime(u.DisabledAt), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := replaceRolesTx(ctx, tx, id, roles); err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	u.ID = id
	return id, nil
}

// Update persists every mutable column of u. A nil roles slice leaves the
// role assignment untouched, an empty one clears it.
func (s *usersStore) Update(ctx context.Context, u *User, roles []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	u.UpdatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE users SET email=?, full_name=?, password_set=?, require_password_change=?,
			failed_attempts=?, locked_until=?, lock_reason=?, lock_stage=?, last_login_at=?, last_failed_at=?,
			password_changed_at=?, active=?, disabled_at=?, updated_at=?
		WHERE id=?`,
		u.Email, u.FullName, boolToInt(u.PasswordSet), boolToInt(u.RequirePasswordChange),
		u.FailedAttempts, nullableTime(u.LockedUntil), u.LockReason, u.LockStage, nullableTime(u.LastLoginAt), nullableTime(u.LastFailedAt),
		nullableTime(u.PasswordChangedAt), boolToInt(u.Active), nullableTime(u.DisabledAt), u.UpdatedAt, u.ID)
	if err != nil {
		tx.Rollback()
		return err
	}
	if roles != nil {
		if err := replaceRolesTx(ctx, tx, u.ID, roles); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *usersStore) UpdatePassword(ctx context.Context, id int64, hash, salt string, requireChange bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	var prevHash, prevSalt string
	err = tx.QueryRowContext(ctx, `SELECT password_hash, salt FROM users WHERE id=?`, id).Scan(&prevHash, &prevSalt)
	if err != nil {
		tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("user %d not found", id)
		}
		return err
	}
	if prevHash != "" {
		if _, err := tx.ExecContext(ctx, `INSERT INTO password_history(user_id, password_hash, salt, created_at) VALUES(?,?,?,?)`,
			id, prevHash, prevSalt, now); err != nil {
			tx.Rollback()
			return err
		}
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE users SET password_hash=?, salt=?, password_set=1, require_password_change=?,
			password_changed_at=?, failed_attempts=0, locked_until=NULL, lock_reason='', lock_stage=0, updated_at=?
		WHERE id=?`,
		hash, salt, boolToInt(requireChange), now, now, id)
	if err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *usersStore) PasswordHistory(ctx context.Context, id int64, limit int) ([]PasswordRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT password_hash, salt, created_at FROM password_history
		WHERE user_id=? ORDER BY created_at DESC LIMIT ?`, id, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []PasswordRecord
	for rows.Next() {
		var p PasswordRecord
		if err := rows.Scan(&p.Hash, &p.Salt, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *usersStore) SetActive(ctx context.Context, id int64, active bool) error {
	now := time.Now().UTC()
	if active {
		_, err := s.db.ExecContext(ctx, `
			UPDATE users SET active=1, disabled_at=NULL, failed_attempts=0, locked_until=NULL, lock_reason='', lock_stage=0, updated_at=?
			WHERE id=?`, now, id)
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE users SET active=0, disabled_at=?, updated_at=? WHERE id=?`, now, now, id)
	return err
}

func (s *usersStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	return err
}

func (s *usersStore) UserCompanies(ctx context.Context, userID int64) ([]CompanyRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.rut, e.razon_social, e.tipo_empresa
		FROM user_empresas ue JOIN empresas e ON e.id=ue.empresa_id
		WHERE ue.user_id=? AND e.deleted_at IS NULL ORDER BY e.razon_social`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []CompanyRef
	for rows.Next() {
		var c CompanyRef
		if err := rows.Scan(&c.ID, &c.RUT, &c.RazonSocial, &c.Tipo); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (s *usersStore) SetUserCompanies(ctx context.Context, userID int64, empresaIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_empresas WHERE user_id=?`, userID); err != nil {
		tx.Rollback()
		return err
	}
	for _, eid := range empresaIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO user_empresas(user_id, empresa_id) VALUES(?,?)`, userID, eid); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *usersStore) rolesFor(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.name FROM user_roles ur JOIN roles r ON r.id=ur.role_id
		WHERE ur.user_id=? ORDER BY r.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		roles = append(roles, name)
	}
	return roles, rows.Err()
}

func replaceRolesTx(ctx context.Context, tx *Tx, userID int64, roles []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id=?`, userID); err != nil {
		return err
	}
	for _, name := range roles {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		var roleID int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM roles WHERE name=?`, name).Scan(&roleID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO user_roles(user_id, role_id) VALUES(?,?)`, userID, roleID); err != nil {
			return err
		}
	}
	return nil
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var lockedUntil, lastLogin, lastFailed, pwChanged, disabled sql.NullTime
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.PasswordHash, &u.Salt, &u.PasswordSet, &u.RequirePasswordChange,
		&u.FailedAttempts, &lockedUntil, &u.LockReason, &u.LockStage, &lastLogin, &lastFailed, &pwChanged,
		&u.Active, &disabled, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.LockedUntil = timePtr(lockedUntil)
	u.LastLoginAt = timePtr(lastLogin)
	u.LastFailedAt = timePtr(lastFailed)
	u.PasswordChangedAt = timePtr(pwChanged)
	u.DisabledAt = timePtr(disabled)
	return &u, nil
}

func scanUserRow(rows *sql.Rows) (User, error) {
	var u User
	var lockedUntil, lastLogin, lastFailed, pwChanged, disabled sql.NullTime
	if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.PasswordHash, &u.Salt, &u.PasswordSet, &u.RequirePasswordChange,
		&u.FailedAttempts, &lockedUntil, &u.LockReason, &u.LockStage, &lastLogin, &lastFailed, &pwChanged,
		&u.Active, &disabled, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return u, err
	}
	u.LockedUntil = timePtr(lockedUntil)
	u.LastLoginAt = timePtr(lastLogin)
	u.LastFailedAt = timePtr(lastFailed)
	u.PasswordChangedAt = timePtr(pwChanged)
	u.DisabledAt = timePtr(disabled)
	return u, nil
}
