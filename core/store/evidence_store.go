package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Evidence struct {
	ID              int64      `json:"id"`
	IncidenteID     int64      `json:"incidente_id"`
	Grupo           string     `json:"grupo"`
	NumeroEvidencia string     `json:"numero_evidencia"`
	TaxonomiaLinkID *int64     `json:"taxonomia_link_id,omitempty"`
	NombreOriginal  string     `json:"nombre_original"`
	Ruta            string     `json:"-"`
	SizeBytes       int64      `json:"size_bytes"`
	Sha256Plain     string     `json:"sha256"`
	Sha256Cipher    string     `json:"-"`
	ContentType     string     `json:"content_type"`
	Version         int        `json:"version"`
	Comentario      string     `json:"comentario"`
	SubidoPor       string     `json:"subido_por"`
	CreatedAt       time.Time  `json:"created_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

type EvidenceStore interface {
	CreateEvidence(ctx context.Context, ev *Evidence) (int64, error)
	GetEvidence(ctx context.Context, id int64) (*Evidence, error)
	ListEvidence(ctx context.Context, incidenteID int64, includeDeleted bool) ([]Evidence, error)
	ListByGroup(ctx context.Context, incidenteID int64, grupo string) ([]Evidence, error)
	ListByTaxonomyLink(ctx context.Context, linkID int64) ([]Evidence, error)
	UpdateComment(ctx context.Context, id int64, comentario string) error
	ReplaceFile(ctx context.Context, ev *Evidence, expectedVersion int) error
	SoftDeleteEvidence(ctx context.Context, id int64) error
	RestoreEvidence(ctx context.Context, id int64) error
	ListActivePaths(ctx context.Context) ([]string, error)
}

type evidenceStore struct {
	db *DB
}

func NewEvidenceStore(db *DB) EvidenceStore {
	return &evidenceStore{db: db}
}

const evidenceColumns = `id, incidente_id, grupo, numero_evidencia, taxonomia_link_id, nombre_original, ruta,
	size_bytes, sha256_plain, sha256_cipher, content_type, version, comentario, subido_por, created_at, deleted_at`

// CreateEvidence numbers the file inside the insert transaction: the
// per-group counter yields N and the stored number is "<grupo>.N"
// (grupo "2.5" produces 2.5.1, 2.5.2, ...). Soft-deleted rows keep
// their number, so a restore never collides.
func (s *evidenceStore) CreateEvidence(ctx context.Context, ev *Evidence) (int64, error) {
	if strings.TrimSpace(ev.Grupo) == "" {
		return 0, errors.New("store: evidence group required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	seq, err := s.nextEvidenceSeqTx(ctx, tx, ev.IncidenteID, ev.Grupo)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	ev.NumeroEvidencia = fmt.Sprintf("%s.%d", ev.Grupo, seq)
	if ev.Version <= 0 {
		ev.Version = 1
	}
	now := time.Now().UTC()
	ev.CreatedAt = now
	id, err := tx.insertID(ctx, `
		INSERT INTO evidencias(incidente_id, grupo, numero_evidencia, taxonomia_link_id, nombre_original, ruta,
			size_bytes, sha256_plain, sha256_cipher, content_type, version, comentario, subido_por, created_at, deleted_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,NULL)`,
		ev.IncidenteID, ev.Grupo, ev.NumeroEvidencia, nullableID(ev.TaxonomiaLinkID), ev.NombreOriginal, ev.Ruta,
		ev.SizeBytes, ev.Sha256Plain, ev.Sha256Cipher, ev.ContentType, ev.Version, ev.Comentario, ev.SubidoPor, now)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	ev.ID = id
	return id, nil
}

func (s *evidenceStore) GetEvidence(ctx context.Context, id int64) (*Evidence, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+evidenceColumns+` FROM evidencias WHERE id=?`, id)
	return scanEvidence(row)
}

func (s *evidenceStore) ListEvidence(ctx context.Context, incidenteID int64, includeDeleted bool) ([]Evidence, error) {
	query := `SELECT ` + evidenceColumns + ` FROM evidencias WHERE incidente_id=?`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY grupo, id`
	rows, err := s.db.QueryContext(ctx, query, incidenteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvidence(rows)
}

func (s *evidenceStore) ListByGroup(ctx context.Context, incidenteID int64, grupo string) ([]Evidence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+evidenceColumns+` FROM evidencias
		WHERE incidente_id=? AND grupo=? AND deleted_at IS NULL ORDER BY id`, incidenteID, grupo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvidence(rows)
}

func (s *evidenceStore) ListByTaxonomyLink(ctx context.Context, linkID int64) ([]Evidence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+evidenceColumns+` FROM evidencias
		WHERE taxonomia_link_id=? AND deleted_at IS NULL ORDER BY id`, linkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvidence(rows)
}

func (s *evidenceStore) UpdateComment(ctx context.Context, id int64, comentario string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE evidencias SET comentario=? WHERE id=? AND deleted_at IS NULL`, comentario, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

// ReplaceFile swaps the stored ciphertext for a re-upload of the same
// evidence number. The number and group never change.
func (s *evidenceStore) ReplaceFile(ctx context.Context, ev *Evidence, expectedVersion int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE evidencias SET nombre_original=?, ruta=?, size_bytes=?, sha256_plain=?, sha256_cipher=?,
			content_type=?, version=version+1
		WHERE id=? AND version=? AND deleted_at IS NULL`,
		ev.NombreOriginal, ev.Ruta, ev.SizeBytes, ev.Sha256Plain, ev.Sha256Cipher,
		ev.ContentType, ev.ID, expectedVersion)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	ev.Version = expectedVersion + 1
	return nil
}

func (s *evidenceStore) SoftDeleteEvidence(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE evidencias SET deleted_at=? WHERE id=? AND deleted_at IS NULL`, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *evidenceStore) RestoreEvidence(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE evidencias SET deleted_at=NULL WHERE id=? AND deleted_at IS NOT NULL`, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

// ListActivePaths returns every stored file path, soft-deleted rows
// included. The orphan sweeper only removes disk files no row claims;
// a soft-deleted row still owns its ciphertext until restored or purged.
func (s *evidenceStore) ListActivePaths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ruta FROM evidencias`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var ruta string
		if err := rows.Scan(&ruta); err != nil {
			return nil, err
		}
		res = append(res, ruta)
	}
	return res, rows.Err()
}

func (s *evidenceStore) nextEvidenceSeqTx(ctx context.Context, tx *Tx, incidenteID int64, grupo string) (int64, error) {
	var seq int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO evidencia_counters(incidente_id, grupo, seq)
		VALUES(?,?,1)
		ON CONFLICT (incidente_id, grupo)
		DO UPDATE SET seq = evidencia_counters.seq + 1
		RETURNING seq
	`, incidenteID, grupo).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func collectEvidence(rows *sql.Rows) ([]Evidence, error) {
	var res []Evidence
	for rows.Next() {
		ev, err := scanEvidenceRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

func scanEvidence(row *sql.Row) (*Evidence, error) {
	var ev Evidence
	var link sql.NullInt64
	var deleted sql.NullTime
	if err := row.Scan(&ev.ID, &ev.IncidenteID, &ev.Grupo, &ev.NumeroEvidencia, &link, &ev.NombreOriginal, &ev.Ruta,
		&ev.SizeBytes, &ev.Sha256Plain, &ev.Sha256Cipher, &ev.ContentType, &ev.Version, &ev.Comentario, &ev.SubidoPor, &ev.CreatedAt, &deleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if link.Valid {
		ev.TaxonomiaLinkID = &link.Int64
	}
	ev.DeletedAt = timePtr(deleted)
	return &ev, nil
}

func scanEvidenceRow(rows *sql.Rows) (Evidence, error) {
	var ev Evidence
	var link sql.NullInt64
	var deleted sql.NullTime
	if err := rows.Scan(&ev.ID, &ev.IncidenteID, &ev.Grupo, &ev.NumeroEvidencia, &link, &ev.NombreOriginal, &ev.Ruta,
		&ev.SizeBytes, &ev.Sha256Plain, &ev.Sha256Cipher, &ev.ContentType, &ev.Version, &ev.Comentario, &ev.SubidoPor, &ev.CreatedAt, &deleted); err != nil {
		return ev, err
	}
	if link.Valid {
		ev.TaxonomiaLinkID = &link.Int64
	}
	ev.DeletedAt = timePtr(deleted)
	return ev, nil
}
