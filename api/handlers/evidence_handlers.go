package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/config"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/evidence"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/store"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

type EvidenceHandler struct {
	cfg    *config.AppConfig
	svc    *evidence.Service
	audits store.AuditStore
	logger *utils.Logger
}

func NewEvidenceHandler(cfg *config.AppConfig, svc *evidence.Service, audits store.AuditStore, logger *utils.Logger) *EvidenceHandler {
	return &EvidenceHandler{cfg: cfg, svc: svc, audits: audits, logger: logger}
}

// parseMultipartFormLimited caps the request body before parsing so an
// oversized upload fails fast instead of buffering to disk first.
func parseMultipartFormLimited(w http.ResponseWriter, r *http.Request, limit int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "el archivo excede el tamaño máximo permitido", http.StatusRequestEntityTooLarge)
			return err
		}
		http.Error(w, "bad request", http.StatusBadRequest)
		return err
	}
	return nil
}

func (h *EvidenceHandler) writeEvidenceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, evidence.ErrNotFound):
		http.Error(w, "evidencia no encontrada", http.StatusNotFound)
	case errors.Is(err, evidence.ErrIncident):
		http.Error(w, "incidente no encontrado", http.StatusNotFound)
	case errors.Is(err, evidence.ErrDeleted):
		http.Error(w, "evidencia eliminada", http.StatusConflict)
	case errors.Is(err, evidence.ErrClosed):
		http.Error(w, "el incidente está cerrado", http.StatusConflict)
	case errors.Is(err, evidence.ErrNoSeed):
		http.Error(w, "el incidente no tiene semilla base", http.StatusConflict)
	case errors.Is(err, evidence.ErrTooLarge):
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
	case errors.Is(err, store.ErrConflict):
		http.Error(w, "la evidencia fue modificada por otro usuario", http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func (h *EvidenceHandler) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, string, bool) {
	if err := parseMultipartFormLimited(w, r, h.svc.MaxBytes()+(1<<20)); err != nil {
		return "", nil, "", false
	}
	file, header, err := r.FormFile("archivo")
	if err != nil {
		http.Error(w, "archivo requerido", http.StatusBadRequest)
		return "", nil, "", false
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return "", nil, "", false
	}
	return header.Filename, content, header.Header.Get("Content-Type"), true
}

func (h *EvidenceHandler) Upload(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	filename, content, contentType, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	in := evidence.UploadInput{
		IncidenteID: id,
		Seccion:     strings.TrimSpace(r.FormValue("seccion")),
		Filename:    filename,
		Content:     content,
		ContentType: contentType,
		Comentario:  strings.TrimSpace(r.FormValue("comentario")),
		Username:    currentUser(r),
	}
	if raw := strings.TrimSpace(r.FormValue("taxonomia_link_id")); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v > 0 {
			in.LinkID = v
		}
	}
	ev, err := h.svc.Upload(r.Context(), in)
	if err != nil {
		h.writeEvidenceError(w, err)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "evidencias.subir", ev.NumeroEvidencia+"|"+ev.NombreOriginal)
	writeJSON(w, http.StatusCreated, ev)
}

func (h *EvidenceHandler) List(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	del := strings.TrimSpace(r.URL.Query().Get("eliminadas"))
	includeDeleted := del == "1" || strings.EqualFold(del, "true")
	var items []store.Evidence
	if grupo := strings.TrimSpace(r.URL.Query().Get("grupo")); grupo != "" {
		items, err = h.svc.ListGroup(r.Context(), id, grupo)
	} else {
		items, err = h.svc.List(r.Context(), id, includeDeleted)
	}
	if err != nil {
		h.writeEvidenceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"evidencias": items, "total": len(items)})
}

func (h *EvidenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	evID, err := parseID(r, "evidencia_id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	ev, err := h.svc.Get(r.Context(), id, evID)
	if err != nil {
		h.writeEvidenceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// Download decrypts the stored file and streams it back. The plaintext hash
// is exposed so the client can verify what it received.
func (h *EvidenceHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	evID, err := parseID(r, "evidencia_id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	ev, content, err := h.svc.Download(r.Context(), id, evID)
	if err != nil {
		h.writeEvidenceError(w, err)
		return
	}
	disposition := "attachment"
	if inline := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("inline"))); inline == "1" || inline == "true" {
		disposition = "inline"
	}
	contentType := ev.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Disposition", disposition+"; filename=\""+ev.NombreOriginal+"\"")
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Checksum-Sha256", ev.Sha256Plain)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func (h *EvidenceHandler) UpdateComment(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	evID, err := parseID(r, "evidencia_id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var payload struct {
		Comentario string `json:"comentario"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := h.svc.UpdateComment(r.Context(), id, evID, payload.Comentario); err != nil {
		h.writeEvidenceError(w, err)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "evidencias.comentar", strconv.FormatInt(evID, 10))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Replace swaps the stored file for a new upload. The evidence keeps its
// número and the version bump guards concurrent replacements.
func (h *EvidenceHandler) Replace(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	evID, err := parseID(r, "evidencia_id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	filename, content, contentType, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	version := 0
	if raw := strings.TrimSpace(r.FormValue("version")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			version = v
		}
	}
	ev, err := h.svc.Replace(r.Context(), id, evID, filename, content, contentType, version, currentUser(r))
	if err != nil {
		h.writeEvidenceError(w, err)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "evidencias.reemplazar", ev.NumeroEvidencia+"|"+ev.NombreOriginal)
	writeJSON(w, http.StatusOK, ev)
}

func (h *EvidenceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	evID, err := parseID(r, "evidencia_id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := h.svc.Delete(r.Context(), id, evID, currentUser(r)); err != nil {
		h.writeEvidenceError(w, err)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "evidencias.eliminar", strconv.FormatInt(evID, 10))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *EvidenceHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	evID, err := parseID(r, "evidencia_id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := h.svc.Restore(r.Context(), id, evID, currentUser(r)); err != nil {
		h.writeEvidenceError(w, err)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "evidencias.restaurar", strconv.FormatInt(evID, 10))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
