package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type NotifyChannel struct {
	ID        int64     `json:"id"`
	Nombre    string    `json:"nombre"`
	Tipo      string    `json:"tipo"`
	URL       string    `json:"url"`
	Secreto   string    `json:"-"`
	Eventos   []string  `json:"eventos"`
	Activo    bool      `json:"activo"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type NotifyLogEntry struct {
	ID          int64     `json:"id"`
	ChannelID   int64     `json:"channel_id"`
	Evento      string    `json:"evento"`
	IncidenteID *int64    `json:"incidente_id,omitempty"`
	Payload     string    `json:"payload,omitempty"`
	Estado      string    `json:"estado"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type NotifyStore interface {
	ListChannels(ctx context.Context, onlyActive bool) ([]NotifyChannel, error)
	GetChannel(ctx context.Context, id int64) (*NotifyChannel, error)
	CreateChannel(ctx context.Context, ch *NotifyChannel) (int64, error)
	UpdateChannel(ctx context.Context, ch *NotifyChannel) error
	DeleteChannel(ctx context.Context, id int64) error

	LogDelivery(ctx context.Context, entry *NotifyLogEntry) error
	ListDeliveries(ctx context.Context, channelID int64, limit int) ([]NotifyLogEntry, error)

	MarkAlertSent(ctx context.Context, incidenteID int64, tipoReporte, clase string) (bool, error)
	ClearAlerts(ctx context.Context, incidenteID int64) error
}

type notifyStore struct {
	db *DB
}

func NewNotifyStore(db *DB) NotifyStore {
	return &notifyStore{db: db}
}

const channelColumns = `id, nombre, tipo, url, secreto, eventos, activo, created_at, updated_at`

func (s *notifyStore) ListChannels(ctx context.Context, onlyActive bool) ([]NotifyChannel, error) {
	query := `SELECT ` + channelColumns + ` FROM notify_channels`
	if onlyActive {
		query += ` WHERE activo=1`
	}
	query += ` ORDER BY nombre`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []NotifyChannel
	for rows.Next() {
		ch, err := scanChannelRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, ch)
	}
	return res, rows.Err()
}

func (s *notifyStore) GetChannel(ctx context.Context, id int64) (*NotifyChannel, error) {
	var ch NotifyChannel
	var eventos string
	err := s.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM notify_channels WHERE id=?`, id).
		Scan(&ch.ID, &ch.Nombre, &ch.Tipo, &ch.URL, &ch.Secreto, &eventos, &ch.Activo, &ch.CreatedAt, &ch.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ch.Eventos = decodeStringList(eventos)
	return &ch, nil
}

func (s *notifyStore) CreateChannel(ctx context.Context, ch *NotifyChannel) (int64, error) {
	if ch.Tipo == "" {
		ch.Tipo = "webhook"
	}
	now := time.Now().UTC()
	id, err := s.db.insertID(ctx, `
		INSERT INTO notify_channels(nombre, tipo, url, secreto, eventos, activo, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?)`,
		ch.Nombre, ch.Tipo, ch.URL, ch.Secreto, encodeStringList(ch.Eventos), boolToInt(ch.Activo), now, now)
	if err != nil {
		return 0, err
	}
	ch.ID = id
	ch.CreatedAt = now
	ch.UpdatedAt = now
	return id, nil
}

func (s *notifyStore) UpdateChannel(ctx context.Context, ch *NotifyChannel) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE notify_channels SET nombre=?, tipo=?, url=?, secreto=?, eventos=?, activo=?, updated_at=?
		WHERE id=?`,
		ch.Nombre, ch.Tipo, ch.URL, ch.Secreto, encodeStringList(ch.Eventos), boolToInt(ch.Activo), now, ch.ID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("notify channel %d not found", ch.ID)
	}
	ch.UpdatedAt = now
	return nil
}

func (s *notifyStore) DeleteChannel(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM notify_channels WHERE id=?`, id)
	return err
}

func (s *notifyStore) LogDelivery(ctx context.Context, entry *NotifyLogEntry) error {
	now := time.Now().UTC()
	id, err := s.db.insertID(ctx, `
		INSERT INTO notify_log(channel_id, evento, incidente_id, payload, estado, error, created_at)
		VALUES(?,?,?,?,?,?,?)`,
		entry.ChannelID, entry.Evento, nullableID(entry.IncidenteID), entry.Payload, entry.Estado, entry.Error, now)
	if err != nil {
		return err
	}
	entry.ID = id
	entry.CreatedAt = now
	return nil
}

func (s *notifyStore) ListDeliveries(ctx context.Context, channelID int64, limit int) ([]NotifyLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, channel_id, evento, incidente_id, payload, estado, error, created_at
		FROM notify_log`
	var args []any
	if channelID > 0 {
		query += ` WHERE channel_id=?`
		args = append(args, channelID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []NotifyLogEntry
	for rows.Next() {
		var e NotifyLogEntry
		var incidente sql.NullInt64
		if err := rows.Scan(&e.ID, &e.ChannelID, &e.Evento, &incidente, &e.Payload, &e.Estado, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		if incidente.Valid {
			e.IncidenteID = &incidente.Int64
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// MarkAlertSent records that a deadline alert for (incidente, reporte,
// clase) went out. Returns false when an earlier sweep already claimed
// it, so the sweeper fires each alert exactly once.
func (s *notifyStore) MarkAlertSent(ctx context.Context, incidenteID int64, tipoReporte, clase string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO deadline_alerts(incidente_id, tipo_reporte, clase, sent_at)
		VALUES(?,?,?,?)
		ON CONFLICT (incidente_id, tipo_reporte, clase) DO NOTHING`,
		incidenteID, tipoReporte, clase, time.Now().UTC())
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// ClearAlerts forgets sent alerts for an incident. Reopening restarts
// the countdown, so the sweeper may legitimately alert again.
func (s *notifyStore) ClearAlerts(ctx context.Context, incidenteID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM deadline_alerts WHERE incidente_id=?`, incidenteID)
	return err
}

func scanChannelRow(rows *sql.Rows) (NotifyChannel, error) {
	var ch NotifyChannel
	var eventos string
	if err := rows.Scan(&ch.ID, &ch.Nombre, &ch.Tipo, &ch.URL, &ch.Secreto, &eventos, &ch.Activo, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
		return ch, err
	}
	ch.Eventos = decodeStringList(eventos)
	return ch, nil
}
