package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

const (
	SeedKindOriginal = "original"
	SeedKindBase     = "base"
)

type Seed struct {
	ID             int64           `json:"id"`
	IncidenteID    int64           `json:"incidente_id"`
	Kind           string          `json:"kind"`
	Version        int             `json:"version"`
	EstadoTemporal string          `json:"estado_temporal"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	HashIntegridad string          `json:"hash_integridad"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
}

// SeedsStore is append-only: every save becomes a new version and old
// snapshots are never rewritten.
type SeedsStore interface {
	SaveSeed(ctx context.Context, seed *Seed) (int64, error)
	LatestSeed(ctx context.Context, incidenteID int64, kind string) (*Seed, error)
	GetSeedVersion(ctx context.Context, incidenteID int64, kind string, version int) (*Seed, error)
	ListSeedVersions(ctx context.Context, incidenteID int64, kind string) ([]Seed, error)
}

type seedsStore struct {
	db *DB
}

func NewSeedsStore(db *DB) SeedsStore {
	return &seedsStore{db: db}
}

const seedColumns = `id, incidente_id, kind, version, estado_temporal, payload, hash_integridad, created_by, created_at`

func (s *seedsStore) SaveSeed(ctx context.Context, seed *Seed) (int64, error) {
	if len(seed.Payload) == 0 {
		return 0, errors.New("store: empty seed payload")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	var next int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version),0)+1 FROM incident_seeds WHERE incidente_id=? AND kind=?`,
		seed.IncidenteID, seed.Kind).Scan(&next); err != nil {
		tx.Rollback()
		return 0, err
	}
	now := time.Now().UTC()
	id, err := tx.insertID(ctx, `
		INSERT INTO incident_seeds(incidente_id, kind, version, estado_temporal, payload, hash_integridad, created_by, created_at)
		VALUES(?,?,?,?,?,?,?,?)`,
		seed.IncidenteID, seed.Kind, next, seed.EstadoTemporal, string(seed.Payload), seed.HashIntegridad, seed.CreatedBy, now)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	seed.ID = id
	seed.Version = next
	seed.CreatedAt = now
	return id, nil
}

func (s *seedsStore) LatestSeed(ctx context.Context, incidenteID int64, kind string) (*Seed, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+seedColumns+` FROM incident_seeds
		WHERE incidente_id=? AND kind=? ORDER BY version DESC LIMIT 1`, incidenteID, kind)
	return scanSeed(row)
}

func (s *seedsStore) GetSeedVersion(ctx context.Context, incidenteID int64, kind string, version int) (*Seed, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+seedColumns+` FROM incident_seeds
		WHERE incidente_id=? AND kind=? AND version=?`, incidenteID, kind, version)
	return scanSeed(row)
}

func (s *seedsStore) ListSeedVersions(ctx context.Context, incidenteID int64, kind string) ([]Seed, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incidente_id, kind, version, estado_temporal, '', hash_integridad, created_by, created_at
		FROM incident_seeds WHERE incidente_id=? AND kind=? ORDER BY version DESC`, incidenteID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Seed
	for rows.Next() {
		var seed Seed
		var payload string
		if err := rows.Scan(&seed.ID, &seed.IncidenteID, &seed.Kind, &seed.Version, &seed.EstadoTemporal,
			&payload, &seed.HashIntegridad, &seed.CreatedBy, &seed.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, seed)
	}
	return res, rows.Err()
}

func scanSeed(row *sql.Row) (*Seed, error) {
	var seed Seed
	var payload string
	if err := row.Scan(&seed.ID, &seed.IncidenteID, &seed.Kind, &seed.Version, &seed.EstadoTemporal,
		&payload, &seed.HashIntegridad, &seed.CreatedBy, &seed.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	seed.Payload = json.RawMessage(payload)
	return &seed, nil
}
