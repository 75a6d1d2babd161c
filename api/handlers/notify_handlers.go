package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/config"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/notify"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/store"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

type NotifyHandler struct {
	cfg        *config.AppConfig
	channels   store.NotifyStore
	dispatcher *notify.Dispatcher
	audits     store.AuditStore
	logger     *utils.Logger
}

func NewNotifyHandler(cfg *config.AppConfig, channels store.NotifyStore, dispatcher *notify.Dispatcher, audits store.AuditStore, logger *utils.Logger) *NotifyHandler {
	return &NotifyHandler{cfg: cfg, channels: channels, dispatcher: dispatcher, audits: audits, logger: logger}
}

var knownEvents = map[string]bool{
	notify.EventDeadlineWarning: true,
	notify.EventDeadlineOverdue: true,
	notify.EventIncidentOpened:  true,
	notify.EventIncidentClosed:  true,
	notify.EventTest:            true,
}

type channelPayload struct {
	Nombre  string   `json:"nombre"`
	Tipo    string   `json:"tipo"`
	URL     string   `json:"url"`
	Secreto string   `json:"secreto"`
	Eventos []string `json:"eventos"`
	Activo  *bool    `json:"activo"`
}

// validateChannel normalizes the payload in place. An empty event list keeps
// the subscribe-to-everything default.
func validateChannel(p *channelPayload) error {
	p.Nombre = strings.TrimSpace(p.Nombre)
	if p.Nombre == "" {
		return errors.New("nombre requerido")
	}
	p.Tipo = strings.ToLower(strings.TrimSpace(p.Tipo))
	if p.Tipo == "" {
		p.Tipo = "webhook"
	}
	if p.Tipo != "webhook" {
		return errors.New("tipo de canal no soportado")
	}
	p.URL = strings.TrimSpace(p.URL)
	u, err := url.Parse(p.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("url inválida")
	}
	cleaned := make([]string, 0, len(p.Eventos))
	for _, ev := range p.Eventos {
		ev = strings.ToLower(strings.TrimSpace(ev))
		if ev == "" {
			continue
		}
		if !knownEvents[ev] {
			return errors.New("evento desconocido: " + ev)
		}
		cleaned = append(cleaned, ev)
	}
	p.Eventos = cleaned
	return nil
}

func (h *NotifyHandler) ListChannels(w http.ResponseWriter, r *http.Request) {
	act := strings.TrimSpace(r.URL.Query().Get("activos"))
	onlyActive := act == "1" || strings.EqualFold(act, "true")
	items, err := h.channels.ListChannels(r.Context(), onlyActive)
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("listar canales: %v", err)
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"canales": items, "total": len(items)})
}

func (h *NotifyHandler) GetChannel(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	ch, err := h.channels.GetChannel(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if ch == nil {
		http.Error(w, "canal no encontrado", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (h *NotifyHandler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	var p channelPayload
	if err := decodeJSON(r, &p); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := validateChannel(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	active := true
	if p.Activo != nil {
		active = *p.Activo
	}
	ch := &store.NotifyChannel{
		Nombre:  p.Nombre,
		Tipo:    p.Tipo,
		URL:     p.URL,
		Secreto: p.Secreto,
		Eventos: p.Eventos,
		Activo:  active,
	}
	if _, err := h.channels.CreateChannel(r.Context(), ch); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "canales.crear", ch.Nombre)
	writeJSON(w, http.StatusCreated, ch)
}

// UpdateChannel rewrites the channel. An empty secreto keeps the stored one
// so clients never have to echo it back.
func (h *NotifyHandler) UpdateChannel(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	existing, err := h.channels.GetChannel(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if existing == nil {
		http.Error(w, "canal no encontrado", http.StatusNotFound)
		return
	}
	var p channelPayload
	if err := decodeJSON(r, &p); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := validateChannel(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	existing.Nombre = p.Nombre
	existing.Tipo = p.Tipo
	existing.URL = p.URL
	if strings.TrimSpace(p.Secreto) != "" {
		existing.Secreto = p.Secreto
	}
	existing.Eventos = p.Eventos
	if p.Activo != nil {
		existing.Activo = *p.Activo
	}
	if err := h.channels.UpdateChannel(r.Context(), existing); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "canales.actualizar", existing.Nombre)
	writeJSON(w, http.StatusOK, existing)
}

func (h *NotifyHandler) DeleteChannel(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	ch, err := h.channels.GetChannel(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if ch == nil {
		http.Error(w, "canal no encontrado", http.StatusNotFound)
		return
	}
	if err := h.channels.DeleteChannel(r.Context(), id); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "canales.eliminar", ch.Nombre)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// TestChannel fires a probe webhook. A 502 means the remote side rejected
// it or timed out; the delivery log has the details.
func (h *NotifyHandler) TestChannel(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := h.dispatcher.TestChannel(r.Context(), id); err != nil {
		if errors.Is(err, notify.ErrChannelNotFound) {
			http.Error(w, "canal no encontrado", http.StatusNotFound)
			return
		}
		http.Error(w, "la entrega de prueba falló: "+err.Error(), http.StatusBadGateway)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "canales.probar", strconv.FormatInt(id, 10))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Sweep runs the deadline dispatch immediately instead of waiting for the
// scheduled run. Useful after configuring a new channel.
func (h *NotifyHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	fired, err := h.dispatcher.DispatchDeadlineAlerts(r.Context())
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("barrido manual de plazos: %v", err)
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "canales.barrido", strconv.Itoa(fired))
	writeJSON(w, http.StatusOK, map[string]any{"despachadas": fired})
}

func (h *NotifyHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var channelID int64
	if raw := strings.TrimSpace(q.Get("canal_id")); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v > 0 {
			channelID = v
		}
	}
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	items, err := h.channels.ListDeliveries(r.Context(), channelID, limit)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entregas": items, "total": len(items)})
}

// Events lists the subscribable event names so channel editors can offer
// a picker instead of free text.
func (h *NotifyHandler) Events(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"eventos": []string{
		notify.EventDeadlineWarning,
		notify.EventDeadlineOverdue,
		notify.EventIncidentOpened,
		notify.EventIncidentClosed,
		notify.EventTest,
	}})
}
