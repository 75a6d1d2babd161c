package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

type AuditRecord struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditFilter struct {
	Username string
	Action   string
	Query    string
	Since    time.Time
	Until    *time.Time
	Limit    int
}

type AuditStore interface {
	Log(ctx context.Context, username, action, details string) error
	List(ctx context.Context, filter AuditFilter) ([]AuditRecord, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type auditStore struct {
	db *DB
}

func NewAuditStore(db *DB) AuditStore {
	return &auditStore{db: db}
}

func (s *auditStore) Log(ctx context.Context, username, action, details string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log(username, action, details, created_at) VALUES(?,?,?,?)`,
		strings.TrimSpace(username), strings.TrimSpace(action), details, time.Now().UTC())
	return err
}

func (s *auditStore) List(ctx context.Context, filter AuditFilter) ([]AuditRecord, error) {
	clauses := []string{"created_at >= ?"}
	args := []any{filter.Since}
	if filter.Until != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, *filter.Until)
	}
	if filter.Username != "" {
		clauses = append(clauses, "LOWER(username) LIKE ?")
		args = append(args, "%"+strings.ToLower(filter.Username)+"%")
	}
	if filter.Action != "" {
		clauses = append(clauses, "LOWER(action) LIKE ?")
		args = append(args, "%"+strings.ToLower(filter.Action)+"%")
	}
	if filter.Query != "" {
		like := "%" + strings.ToLower(filter.Query) + "%"
		clauses = append(clauses, "(LOWER(username) LIKE ? OR LOWER(action) LIKE ? OR LOWER(details) LIKE ?)")
		args = append(args, like, like, like)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query := `SELECT id, username, action, details, created_at FROM audit_log WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		var details sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Username, &rec.Action, &details, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Details = details.String
		res = append(res, rec)
	}
	return res, rows.Err()
}

func (s *auditStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}
