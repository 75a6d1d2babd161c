package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type SessionRecord struct {
	ID         string     `json:"id"`
	UserID     int64      `json:"user_id"`
	Username   string     `json:"username"`
	Roles      []string   `json:"roles"`
	IP         string     `json:"ip"`
	UserAgent  string     `json:"user_agent"`
	CSRFToken  string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Revoked    bool       `json:"revoked"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	RevokedBy  string     `json:"revoked_by,omitempty"`
}

type SessionStore interface {
	SaveSession(ctx context.Context, rec *SessionRecord) error
	GetSession(ctx context.Context, id string) (*SessionRecord, error)
	UpdateActivity(ctx context.Context, id string, now time.Time, ttl time.Duration) error
	DeleteSession(ctx context.Context, id string, actor string) error
	DeleteAllForUser(ctx context.Context, userID int64, actor string) error
	ListAll(ctx context.Context) ([]SessionRecord, error)
	ListByUser(ctx context.Context, userID int64) ([]SessionRecord, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type sessionsStore struct {
	db *DB
}

func NewSessionsStore(db *DB) SessionStore {
	return &sessionsStore{db: db}
}

const sessionColumns = `id, user_id, username, roles, csrf_token, ip, user_agent, created_at, last_seen_at, expires_at, revoked, revoked_at, revoked_by`

func (s *sessionsStore) SaveSession(ctx context.Context, rec *SessionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions(id, user_id, username, roles, csrf_token, ip, user_agent, created_at, last_seen_at, expires_at, revoked, revoked_at, revoked_by)
		VALUES(?,?,?,?,?,?,?,?,?,?,0,NULL,'')`,
		rec.ID, rec.UserID, rec.Username, encodeStringList(rec.Roles), rec.CSRFToken, rec.IP, rec.UserAgent,
		rec.CreatedAt, rec.LastSeenAt, rec.ExpiresAt)
	return err
}

// GetSession resolves live sessions only. Revoked or expired ones come
// back as nil so callers treat them like a missing cookie.
func (s *sessionsStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=?`, id)
	rec, err := scanSession(row)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.Revoked || !rec.ExpiresAt.After(time.Now().UTC()) {
		return nil, nil
	}
	return rec, nil
}

func (s *sessionsStore) UpdateActivity(ctx context.Context, id string, now time.Time, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_seen_at=?, expires_at=? WHERE id=? AND revoked=0`,
		now, now.Add(ttl), id)
	return err
}

func (s *sessionsStore) DeleteSession(ctx context.Context, id string, actor string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET revoked=1, revoked_at=?, revoked_by=? WHERE id=?`,
		time.Now().UTC(), actor, id)
	return err
}

func (s *sessionsStore) DeleteAllForUser(ctx context.Context, userID int64, actor string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET revoked=1, revoked_at=?, revoked_by=? WHERE user_id=? AND revoked=0`,
		time.Now().UTC(), actor, userID)
	return err
}

func (s *sessionsStore) ListAll(ctx context.Context) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE revoked=0 AND expires_at > ? ORDER BY last_seen_at DESC`, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (s *sessionsStore) ListByUser(ctx context.Context, userID int64) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id=? AND revoked=0 AND expires_at > ? ORDER BY last_seen_at DESC`, userID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (s *sessionsStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ? OR revoked=1`, now)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func collectSessions(rows *sql.Rows) ([]SessionRecord, error) {
	var res []SessionRecord
	for rows.Next() {
		rec, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func scanSession(row *sql.Row) (*SessionRecord, error) {
	var rec SessionRecord
	var rolesRaw string
	var revokedAt sql.NullTime
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Username, &rolesRaw, &rec.CSRFToken, &rec.IP, &rec.UserAgent,
		&rec.CreatedAt, &rec.LastSeenAt, &rec.ExpiresAt, &rec.Revoked, &revokedAt, &rec.RevokedBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.Roles = decodeStringList(rolesRaw)
	rec.RevokedAt = timePtr(revokedAt)
	return &rec, nil
}

func scanSessionRow(rows *sql.Rows) (SessionRecord, error) {
	var rec SessionRecord
	var rolesRaw string
	var revokedAt sql.NullTime
	if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Username, &rolesRaw, &rec.CSRFToken, &rec.IP, &rec.UserAgent,
		&rec.CreatedAt, &rec.LastSeenAt, &rec.ExpiresAt, &rec.Revoked, &revokedAt, &rec.RevokedBy); err != nil {
		return rec, err
	}
	rec.Roles = decodeStringList(rolesRaw)
	rec.RevokedAt = timePtr(revokedAt)
	return rec, nil
}
