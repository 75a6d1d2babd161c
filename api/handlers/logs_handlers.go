package handlers

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/store"
)

type LogsHandler struct {
	audits store.AuditStore
}

func NewLogsHandler(audits store.AuditStore) *LogsHandler {
	return &LogsHandler{audits: audits}
}

func (h *LogsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.audits == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []store.AuditRecord{}})
		return
	}
	filter := parseLogFilter(r)
	items, err := h.filteredLogs(r, filter)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"filter": filter,
	})
}

func (h *LogsHandler) Export(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.audits == nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	filter := parseLogFilter(r)
	if filter.Limit <= 0 || filter.Limit > 5000 {
		filter.Limit = 5000
	}
	items, err := h.filteredLogs(r, filter)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	filename := "auditoria_" + time.Now().UTC().Format("20060102_150405") + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.WriteHeader(http.StatusOK)
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"fecha", "usuario", "categoria", "accion", "detalle"})
	for i := range items {
		_ = writer.Write([]string{
			items[i].CreatedAt.UTC().Format(time.RFC3339),
			strings.TrimSpace(items[i].Username),
			logCategory(items[i].Action),
			strings.TrimSpace(items[i].Action),
			strings.TrimSpace(items[i].Details),
		})
	}
	writer.Flush()
}

// filteredLogs queries the store and applies the category filter, which the
// store cannot resolve because categories are derived from action prefixes.
func (h *LogsHandler) filteredLogs(r *http.Request, filter logFilter) ([]store.AuditRecord, error) {
	items, err := h.audits.List(r.Context(), store.AuditFilter{
		Username: filter.User,
		Action:   filter.Action,
		Query:    filter.Query,
		Since:    filter.Since,
		Until:    filter.To,
		Limit:    filter.Limit,
	})
	if err != nil {
		return nil, err
	}
	if filter.Categoria == "" {
		return items, nil
	}
	out := make([]store.AuditRecord, 0, len(items))
	for _, item := range items {
		if logCategory(item.Action) == filter.Categoria {
			out = append(out, item)
		}
	}
	return out, nil
}

// logCategory groups actions the way the audit screen tabs them.
func logCategory(action string) string {
	action = strings.ToLower(strings.TrimSpace(action))
	switch {
	case strings.HasPrefix(action, "auth."):
		return "auth"
	case strings.HasPrefix(action, "accounts."),
		strings.HasPrefix(action, "roles."),
		strings.HasPrefix(action, "session."):
		return "cuentas"
	case strings.HasPrefix(action, "empresas."):
		return "empresas"
	case strings.HasPrefix(action, "incidentes."):
		return "incidentes"
	case strings.HasPrefix(action, "evidencias."):
		return "evidencias"
	case strings.HasPrefix(action, "informes."):
		return "informes"
	case strings.HasPrefix(action, "notify."), strings.HasPrefix(action, "canales."):
		return "notificaciones"
	default:
		return "sistema"
	}
}

type logFilter struct {
	Categoria string     `json:"categoria,omitempty"`
	Action    string     `json:"accion,omitempty"`
	User      string     `json:"usuario,omitempty"`
	Query     string     `json:"q,omitempty"`
	Since     time.Time  `json:"desde"`
	To        *time.Time `json:"hasta,omitempty"`
	Limit     int        `json:"limit"`
}

func parseLogFilter(r *http.Request) logFilter {
	q := r.URL.Query()
	since := time.Now().UTC().Add(-30 * 24 * time.Hour)
	if rawSince := strings.TrimSpace(q.Get("desde")); rawSince != "" {
		if parsed, err := parseDateTime(rawSince); err == nil && !parsed.IsZero() {
			since = parsed.UTC()
		}
	}
	var until *time.Time
	if rawTo := strings.TrimSpace(q.Get("hasta")); rawTo != "" {
		if parsed, err := parseDateTime(rawTo); err == nil && !parsed.IsZero() {
			t := parsed.UTC()
			until = &t
		}
	}
	limit := 1000
	if rawLimit := strings.TrimSpace(q.Get("limit")); rawLimit != "" {
		if parsed, err := strconv.Atoi(rawLimit); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 5000 {
		limit = 5000
	}
	return logFilter{
		Categoria: strings.ToLower(strings.TrimSpace(q.Get("categoria"))),
		Action:    strings.ToLower(strings.TrimSpace(q.Get("accion"))),
		User:      strings.ToLower(strings.TrimSpace(q.Get("usuario"))),
		Query:     strings.ToLower(strings.TrimSpace(q.Get("q"))),
		Since:     since,
		To:        until,
		Limit:     limit,
	}
}

func parseDateTime(raw string) (time.Time, error) {
	val := strings.TrimSpace(raw)
	if val == "" {
		return time.Time{}, nil
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04",
		"2006-01-02 15:04",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, val); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, strconv.ErrSyntax
}
