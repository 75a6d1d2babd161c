package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/config"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/reports"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/store"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

const (
	docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	pdfContentType  = "application/pdf"
)

type ReportsHandler struct {
	cfg    *config.AppConfig
	svc    *reports.Service
	audits store.AuditStore
	logger *utils.Logger
}

func NewReportsHandler(cfg *config.AppConfig, svc *reports.Service, audits store.AuditStore, logger *utils.Logger) *ReportsHandler {
	return &ReportsHandler{cfg: cfg, svc: svc, audits: audits, logger: logger}
}

func (h *ReportsHandler) writeReportError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reports.ErrIncident):
		http.Error(w, "incidente no encontrado", http.StatusNotFound)
	case errors.Is(err, reports.ErrCompany):
		http.Error(w, "empresa no encontrada", http.StatusNotFound)
	case errors.Is(err, reports.ErrNotFound):
		http.Error(w, "informe no encontrado", http.StatusNotFound)
	case errors.Is(err, reports.ErrNoSeed):
		http.Error(w, "el incidente no tiene semilla base", http.StatusConflict)
	case errors.Is(err, reports.ErrIntegrity):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, reports.ErrNoTemplate):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, reports.ErrNoPDF), errors.Is(err, reports.ErrNoPandoc):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func (h *ReportsHandler) Generate(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var payload struct {
		Tipo string `json:"tipo"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	res, err := h.svc.Generate(r.Context(), id, payload.Tipo, currentUser(r))
	if err != nil {
		h.writeReportError(w, err)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "informes.generar", res.Informe.TipoReporte+"|"+res.Informe.NombreArchivo)
	writeJSON(w, http.StatusCreated, res)
}

func (h *ReportsHandler) List(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	items, err := h.svc.List(r.Context(), id)
	if err != nil {
		h.writeReportError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"informes": items, "total": len(items)})
}

func (h *ReportsHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	reportID, err := parseID(r, "informe_id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	report, content, err := h.svc.Download(r.Context(), id, reportID)
	if err != nil {
		h.writeReportError(w, err)
		return
	}
	h.serveFile(w, report.NombreArchivo, docxContentType, content)
	h.audits.Log(r.Context(), currentUser(r), "informes.descargar", report.NombreArchivo)
}

// DownloadPDF converts the stored docx on the fly. 503 means no converter
// binary is configured, not that the report is missing.
func (h *ReportsHandler) DownloadPDF(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	reportID, err := parseID(r, "informe_id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	report, content, err := h.svc.DownloadPDF(r.Context(), id, reportID)
	if err != nil {
		h.writeReportError(w, err)
		return
	}
	name := strings.TrimSuffix(report.NombreArchivo, ".docx") + ".pdf"
	h.serveFile(w, name, pdfContentType, content)
	h.audits.Log(r.Context(), currentUser(r), "informes.descargar_pdf", name)
}

func (h *ReportsHandler) serveFile(w http.ResponseWriter, filename, contentType string, content []byte) {
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filename+"\"")
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func (h *ReportsHandler) MarkSubmitted(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	reportID, err := parseID(r, "informe_id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	report, err := h.svc.MarkSubmitted(r.Context(), id, reportID, currentUser(r))
	if err != nil {
		h.writeReportError(w, err)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "informes.presentar", report.TipoReporte+"|"+report.NombreArchivo)
	writeJSON(w, http.StatusOK, report)
}

// ListTemplates returns the templates usable by a company type. Without the
// tipo_empresa filter the AMBAS regime applies, which includes every report.
func (h *ReportsHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	tipo := strings.TrimSpace(r.URL.Query().Get("tipo_empresa"))
	if tipo == "" {
		tipo = "AMBAS"
	}
	items, err := h.svc.TemplatesFor(r.Context(), tipo)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plantillas": items})
}

func (h *ReportsHandler) UploadTemplate(w http.ResponseWriter, r *http.Request) {
	limit := h.cfg.Security.MaxUploadBytes
	if limit <= 0 {
		limit = 25 << 20
	}
	if err := parseMultipartFormLimited(w, r, limit); err != nil {
		return
	}
	file, header, err := r.FormFile("archivo")
	if err != nil {
		http.Error(w, "archivo requerido", http.StatusBadRequest)
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	tipo := strings.TrimSpace(r.FormValue("tipo"))
	tpl, err := h.svc.UploadTemplate(r.Context(), tipo, header.Filename, content)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "informes.subir_plantilla", tpl.TipoReporte+"|"+header.Filename)
	writeJSON(w, http.StatusCreated, tpl)
}

func (h *ReportsHandler) ConverterStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"conversores": h.svc.ConverterStatus()})
}
