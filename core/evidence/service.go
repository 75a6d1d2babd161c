// Package evidence is the incident file vault: validated uploads stored
// encrypted on disk, numbered per section or taxonomy, mirrored into the
// semilla record.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/config"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/anci"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/semilla"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/store"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

var (
	ErrNotFound     = errors.New("evidencia no encontrada")
	ErrDeleted      = errors.New("evidencia eliminada")
	ErrIncident     = errors.New("incidente no encontrado")
	ErrClosed       = errors.New("incidente cerrado")
	ErrNoSeed       = errors.New("incidente sin semilla base")
	ErrEmptyFile    = errors.New("archivo vacío")
	ErrTooLarge     = errors.New("el archivo excede el tamaño máximo permitido")
	ErrBadExtension = errors.New("extensión de archivo no permitida")
)

// Extensions ANCI accepts as incident evidence.
var allowedExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".png": true, ".jpg": true, ".jpeg": true, ".txt": true, ".csv": true,
	".zip": true, ".rar": true, ".msg": true, ".eml": true,
}

const defaultMaxSizeMB = 50

type Service struct {
	cfg        *config.AppConfig
	incidents  store.IncidentsStore
	evidence   store.EvidenceStore
	seeds      store.SeedsStore
	taxonomies store.TaxonomiesStore
	encryptor  *utils.Encryptor
	logger     *utils.Logger
}

func NewService(cfg *config.AppConfig, incidents store.IncidentsStore, evidence store.EvidenceStore,
	seeds store.SeedsStore, taxonomies store.TaxonomiesStore, logger *utils.Logger) (*Service, error) {
	if cfg.Evidence.StorageDir == "" {
		cfg.Evidence.StorageDir = "data/evidencias"
	}
	enc, err := utils.NewEncryptorFromString(cfg.Evidence.EncryptionKey)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Evidence.StorageDir, 0o700); err != nil {
		return nil, err
	}
	return &Service{
		cfg:        cfg,
		incidents:  incidents,
		evidence:   evidence,
		seeds:      seeds,
		taxonomies: taxonomies,
		encryptor:  enc,
		logger:     logger,
	}, nil
}

// MaxBytes is the upload limit handlers must enforce before buffering.
func (s *Service) MaxBytes() int64 {
	mb := s.cfg.Evidence.MaxSizeMB
	if mb <= 0 {
		mb = defaultMaxSizeMB
	}
	return mb * 1024 * 1024
}

// UploadInput describes one incoming file. LinkID above zero attaches the
// file to that taxonomy selection; otherwise Seccion picks the target list
// (2, 3, 5 or 6).
type UploadInput struct {
	IncidenteID int64
	Seccion     string
	LinkID      int64
	Filename    string
	Content     []byte
	ContentType string
	Comentario  string
	Username    string
}

func (s *Service) validateFile(name string, content []byte) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("nombre de archivo requerido")
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !allowedExtensions[ext] {
		return fmt.Errorf("%w: %s", ErrBadExtension, ext)
	}
	if len(content) == 0 {
		return ErrEmptyFile
	}
	if int64(len(content)) > s.MaxBytes() {
		return fmt.Errorf("%w (%d MB)", ErrTooLarge, s.MaxBytes()/(1024*1024))
	}
	return nil
}

// Upload validates, encrypts and stores the file, then records it in both
// registries: the vault row owns the número (allocated transactionally) and
// the semilla mirrors it with the same number.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*store.Evidence, error) {
	if err := s.validateFile(in.Filename, in.Content); err != nil {
		return nil, err
	}
	inc, err := s.incidents.GetIncident(ctx, in.IncidenteID)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrIncident
	}
	if inc.Estado == anci.StateClosed {
		return nil, ErrClosed
	}
	doc, err := s.loadBaseDoc(ctx, in.IncidenteID)
	if err != nil {
		return nil, err
	}

	var grupo string
	var entry *semilla.TaxonomyEntry
	var linkID *int64
	if in.LinkID > 0 {
		link, err := s.taxonomies.GetLink(ctx, in.LinkID)
		if err != nil {
			return nil, err
		}
		if link == nil || link.IncidenteID != in.IncidenteID {
			return nil, errors.New("taxonomía no asignada a este incidente")
		}
		entry = doc.FindTaxonomyByCatalogID(link.TaxonomiaID)
		if entry == nil {
			return nil, semilla.ErrTaxonomyNotFound
		}
		grupo = fmt.Sprintf("4.4.%d", entry.NumeroOrden)
		linkID = &link.ID
	} else {
		prefix, ok := semilla.EvidenceGroup(in.Seccion)
		if !ok {
			return nil, fmt.Errorf("la sección %q no admite evidencias", in.Seccion)
		}
		grupo = prefix
	}

	path, shaCipher, err := s.writeEncrypted(in.IncidenteID, in.Content)
	if err != nil {
		return nil, err
	}
	shaPlain := utils.Sha256Hex(in.Content)
	ev := &store.Evidence{
		IncidenteID:     in.IncidenteID,
		Grupo:           grupo,
		TaxonomiaLinkID: linkID,
		NombreOriginal:  in.Filename,
		Ruta:            path,
		SizeBytes:       int64(len(in.Content)),
		Sha256Plain:     shaPlain,
		Sha256Cipher:    shaCipher,
		ContentType:     in.ContentType,
		Comentario:      in.Comentario,
		SubidoPor:       in.Username,
	}
	if _, err := s.evidence.CreateEvidence(ctx, ev); err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	now := time.Now().UTC()
	file := semilla.EvidenceFile{
		Nombre:    in.Filename,
		Archivo:   filepath.Base(path),
		Sha256:    shaPlain,
		TamanoKB:  kbSize(ev.SizeBytes),
		TipoMime:  in.ContentType,
		SubidoPor: in.Username,
	}
	if err := s.markEditing(doc, now); err != nil {
		return nil, err
	}
	if entry != nil {
		err = doc.PutTaxonomyEvidence(entry.IDUnico, ev.NumeroEvidencia, file, now)
	} else {
		err = doc.PutSectionEvidence(in.Seccion, ev.NumeroEvidencia, file, now)
	}
	if err != nil {
		return nil, err
	}
	if _, err := doc.Seal(now); err != nil {
		return nil, err
	}
	if err := s.saveSeed(ctx, in.IncidenteID, doc, in.Username); err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.Printf("evidencia %s subida al incidente %d (%d bytes)", ev.NumeroEvidencia, in.IncidenteID, ev.SizeBytes)
	}
	return ev, nil
}

// Download decrypts the stored file and verifies both hashes before handing
// the plaintext back.
func (s *Service) Download(ctx context.Context, incidenteID, evidenceID int64) (*store.Evidence, []byte, error) {
	ev, err := s.owned(ctx, incidenteID, evidenceID)
	if err != nil {
		return nil, nil, err
	}
	if ev.DeletedAt != nil {
		return nil, nil, ErrDeleted
	}
	blob, err := os.ReadFile(ev.Ruta)
	if err != nil {
		return nil, nil, err
	}
	if utils.Sha256Hex(blob) != ev.Sha256Cipher {
		return nil, nil, errors.New("integridad del archivo cifrado comprometida")
	}
	plain, err := s.encryptor.DecryptBlob(blob)
	if err != nil {
		return nil, nil, err
	}
	if utils.Sha256Hex(plain) != ev.Sha256Plain {
		return nil, nil, errors.New("integridad del contenido comprometida")
	}
	return ev, plain, nil
}

func (s *Service) List(ctx context.Context, incidenteID int64, includeDeleted bool) ([]store.Evidence, error) {
	return s.evidence.ListEvidence(ctx, incidenteID, includeDeleted)
}

// ListGroup narrows the listing to one grupo, a section prefix like 2.5 or a
// 4.4.N taxonomy block. Deleted files never show here.
func (s *Service) ListGroup(ctx context.Context, incidenteID int64, grupo string) ([]store.Evidence, error) {
	return s.evidence.ListByGroup(ctx, incidenteID, grupo)
}

func (s *Service) Get(ctx context.Context, incidenteID, evidenceID int64) (*store.Evidence, error) {
	return s.owned(ctx, incidenteID, evidenceID)
}

func (s *Service) UpdateComment(ctx context.Context, incidenteID, evidenceID int64, comentario string) error {
	if _, err := s.owned(ctx, incidenteID, evidenceID); err != nil {
		return err
	}
	return s.evidence.UpdateComment(ctx, evidenceID, comentario)
}

// Replace swaps the file behind an existing número under optimistic locking.
// The previous ciphertext stays on disk until the orphan sweep collects it.
func (s *Service) Replace(ctx context.Context, incidenteID, evidenceID int64, filename string, content []byte, contentType string, expectedVersion int, username string) (*store.Evidence, error) {
	if err := s.validateFile(filename, content); err != nil {
		return nil, err
	}
	ev, err := s.owned(ctx, incidenteID, evidenceID)
	if err != nil {
		return nil, err
	}
	if ev.DeletedAt != nil {
		return nil, ErrDeleted
	}
	inc, err := s.incidents.GetIncident(ctx, incidenteID)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, ErrIncident
	}
	if inc.Estado == anci.StateClosed {
		return nil, ErrClosed
	}

	oldPath := ev.Ruta
	path, shaCipher, err := s.writeEncrypted(incidenteID, content)
	if err != nil {
		return nil, err
	}
	ev.NombreOriginal = filename
	ev.Ruta = path
	ev.SizeBytes = int64(len(content))
	ev.Sha256Plain = utils.Sha256Hex(content)
	ev.Sha256Cipher = shaCipher
	ev.ContentType = contentType
	if err := s.evidence.ReplaceFile(ctx, ev, expectedVersion); err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	_ = os.Remove(oldPath)

	now := time.Now().UTC()
	doc, err := s.loadBaseDoc(ctx, incidenteID)
	if err != nil {
		return nil, err
	}
	if err := s.markEditing(doc, now); err != nil {
		return nil, err
	}
	doc.UpdateEvidenceFile(ev.NumeroEvidencia, semilla.EvidenceFile{
		Nombre:    filename,
		Archivo:   filepath.Base(path),
		Sha256:    ev.Sha256Plain,
		TamanoKB:  kbSize(ev.SizeBytes),
		TipoMime:  contentType,
		SubidoPor: username,
	}, now)
	if _, err := doc.Seal(now); err != nil {
		return nil, err
	}
	if err := s.saveSeed(ctx, incidenteID, doc, username); err != nil {
		return nil, err
	}
	return ev, nil
}

// Delete soft-removes the row and marks the semilla item eliminado. The
// número is never reassigned and the ciphertext stays recoverable.
func (s *Service) Delete(ctx context.Context, incidenteID, evidenceID int64, username string) error {
	ev, err := s.owned(ctx, incidenteID, evidenceID)
	if err != nil {
		return err
	}
	if ev.DeletedAt != nil {
		return ErrDeleted
	}
	if err := s.evidence.SoftDeleteEvidence(ctx, evidenceID); err != nil {
		return err
	}
	return s.syncEstado(ctx, incidenteID, ev.NumeroEvidencia, "eliminado", username)
}

func (s *Service) Restore(ctx context.Context, incidenteID, evidenceID int64, username string) error {
	ev, err := s.owned(ctx, incidenteID, evidenceID)
	if err != nil {
		return err
	}
	if ev.DeletedAt == nil {
		return nil
	}
	if err := s.evidence.RestoreEvidence(ctx, evidenceID); err != nil {
		return err
	}
	estado := "pendiente"
	if ev.Sha256Plain != "" {
		estado = "verificado"
	}
	return s.syncEstado(ctx, incidenteID, ev.NumeroEvidencia, estado, username)
}

// SweepOrphans removes ciphertext files no vault row references. Files
// younger than the grace period are skipped so in-flight uploads survive.
func (s *Service) SweepOrphans(ctx context.Context, grace time.Duration) (int, error) {
	claimed, err := s.evidence.ListActivePaths(ctx)
	if err != nil {
		return 0, err
	}
	keep := make(map[string]bool, len(claimed))
	for _, p := range claimed {
		keep[filepath.Clean(p)] = true
	}
	cutoff := time.Now().Add(-grace)
	removed := 0
	err = filepath.WalkDir(s.cfg.Evidence.StorageDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".enc") {
			return err
		}
		if keep[filepath.Clean(path)] {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err == nil {
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, err
	}
	if removed > 0 && s.logger != nil {
		s.logger.Printf("barrido de evidencias: %d archivos huérfanos eliminados", removed)
	}
	return removed, nil
}

func (s *Service) owned(ctx context.Context, incidenteID, evidenceID int64) (*store.Evidence, error) {
	ev, err := s.evidence.GetEvidence(ctx, evidenceID)
	if err != nil {
		return nil, err
	}
	if ev == nil || ev.IncidenteID != incidenteID {
		return nil, ErrNotFound
	}
	return ev, nil
}

func (s *Service) writeEncrypted(incidenteID int64, content []byte) (path, shaCipher string, err error) {
	dir := filepath.Join(s.cfg.Evidence.StorageDir, fmt.Sprintf("%d", incidenteID))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", "", err
	}
	blob, err := s.encryptor.EncryptToBlob(content)
	if err != nil {
		return "", "", err
	}
	path = filepath.Join(dir, uuid.Must(uuid.NewV4()).String()+".enc")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return "", "", err
	}
	return path, utils.Sha256Hex(blob), nil
}

func (s *Service) syncEstado(ctx context.Context, incidenteID int64, numero, estado, username string) error {
	now := time.Now().UTC()
	doc, err := s.loadBaseDoc(ctx, incidenteID)
	if err != nil {
		return err
	}
	if err := s.markEditing(doc, now); err != nil {
		return err
	}
	if !doc.MarkEvidenceEstado(numero, estado, now) {
		if s.logger != nil {
			s.logger.Errorf("evidencia %s no figura en la semilla del incidente %d", numero, incidenteID)
		}
		return nil
	}
	if _, err := doc.Seal(now); err != nil {
		return err
	}
	return s.saveSeed(ctx, incidenteID, doc, username)
}

func (s *Service) loadBaseDoc(ctx context.Context, incidenteID int64) (*semilla.Document, error) {
	seed, err := s.seeds.LatestSeed(ctx, incidenteID, store.SeedKindBase)
	if err != nil {
		return nil, err
	}
	if seed == nil {
		return nil, ErrNoSeed
	}
	return semilla.Parse(seed.Payload)
}

func (s *Service) saveSeed(ctx context.Context, incidenteID int64, doc *semilla.Document, createdBy string) error {
	raw, err := doc.Marshal()
	if err != nil {
		return err
	}
	_, err = s.seeds.SaveSeed(ctx, &store.Seed{
		IncidenteID:    incidenteID,
		Kind:           store.SeedKindBase,
		EstadoTemporal: doc.Metadata.EstadoTemporal,
		Payload:        raw,
		HashIntegridad: doc.Metadata.HashIntegridad,
		CreatedBy:      createdBy,
	})
	return err
}

func (s *Service) markEditing(doc *semilla.Document, now time.Time) error {
	if doc.Metadata.EstadoTemporal == semilla.EstadoEnEdicion {
		return nil
	}
	return doc.MarkEstado(semilla.EstadoEnEdicion, now)
}

func kbSize(bytes int64) int64 {
	kb := bytes / 1024
	if kb == 0 && bytes > 0 {
		kb = 1
	}
	return kb
}
