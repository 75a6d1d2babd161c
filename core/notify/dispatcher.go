// Package notify pushes incident events to the configured webhook channels.
// The deadline sweep turns the pending report alerts into signed HTTP posts,
// deduplicated per (incidente, reporte, clase) so restarting the worker never
// repeats an alert.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/config"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/incidents"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/store"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

const (
	EventDeadlineWarning = "plazo_por_vencer"
	EventDeadlineOverdue = "plazo_vencido"
	EventIncidentOpened  = "incidente_registrado"
	EventIncidentClosed  = "incidente_cerrado"
	EventTest            = "prueba"
)

var ErrChannelNotFound = errors.New("canal de notificación no encontrado")

type Dispatcher struct {
	cfg       *config.AppConfig
	incidents *incidents.Service
	channels  store.NotifyStore
	sender    WebhookSender
	logger    *utils.Logger
}

// NewDispatcher wires the event fan-out. A nil sender falls back to the HTTP
// sender with the configured timeout.
func NewDispatcher(cfg *config.AppConfig, incSvc *incidents.Service, channels store.NotifyStore,
	sender WebhookSender, logger *utils.Logger) *Dispatcher {
	if sender == nil {
		sender = NewHTTPWebhookSender(cfg.Notify.WebhookTimeout)
	}
	return &Dispatcher{
		cfg:       cfg,
		incidents: incSvc,
		channels:  channels,
		sender:    sender,
		logger:    logger,
	}
}

type alertPayload struct {
	Evento         string    `json:"evento"`
	IncidenteID    int64     `json:"incidente_id"`
	Correlativo    string    `json:"correlativo"`
	Titulo         string    `json:"titulo"`
	Criticidad     string    `json:"criticidad"`
	TipoReporte    string    `json:"tipo_reporte"`
	NombreReporte  string    `json:"nombre_reporte"`
	FechaLimite    time.Time `json:"fecha_limite"`
	HorasRestantes float64   `json:"horas_restantes"`
	EmitidoAt      time.Time `json:"emitido_at"`
}

// DispatchDeadlineAlerts sweeps the open incidents and fires one webhook per
// newly due or overdue report. An alert is claimed only when some channel
// subscribes to its event, so set-up gaps do not burn alerts silently.
func (d *Dispatcher) DispatchDeadlineAlerts(ctx context.Context) (int, error) {
	if !d.cfg.Notify.Enabled {
		return 0, nil
	}
	alerts, err := d.incidents.PendingAlerts(ctx, d.cfg.Notify.WarningWindow)
	if err != nil {
		return 0, err
	}
	if len(alerts) == 0 {
		return 0, nil
	}
	channels, err := d.webhookChannels(ctx)
	if err != nil {
		return 0, err
	}
	if len(channels) == 0 {
		return 0, nil
	}
	fired := 0
	for _, alert := range alerts {
		evento := EventDeadlineWarning
		if alert.Clase == incidents.AlertOverdue {
			evento = EventDeadlineOverdue
		}
		wanting := wantedBy(channels, evento)
		if len(wanting) == 0 {
			continue
		}
		claimed, err := d.channels.MarkAlertSent(ctx, alert.Incidente.ID, string(alert.Plazo.Kind), alert.Clase)
		if err != nil {
			return fired, err
		}
		if !claimed {
			continue
		}
		payload := alertPayload{
			Evento:         evento,
			IncidenteID:    alert.Incidente.ID,
			Correlativo:    alert.Incidente.Correlativo,
			Titulo:         alert.Incidente.Titulo,
			Criticidad:     alert.Incidente.Criticidad,
			TipoReporte:    string(alert.Plazo.Kind),
			NombreReporte:  alert.Plazo.Name,
			FechaLimite:    alert.Plazo.DueAt,
			HorasRestantes: time.Until(alert.Plazo.DueAt).Hours(),
			EmitidoAt:      time.Now().UTC(),
		}
		d.deliver(ctx, wanting, evento, &alert.Incidente.ID, payload)
		fired++
	}
	if fired > 0 && d.logger != nil {
		d.logger.Printf("barrido de plazos: %d alertas despachadas", fired)
	}
	return fired, nil
}

// Broadcast posts an arbitrary event to every subscribed channel and returns
// how many accepted it.
func (d *Dispatcher) Broadcast(ctx context.Context, evento string, incidenteID *int64, payload any) (int, error) {
	if !d.cfg.Notify.Enabled {
		return 0, nil
	}
	channels, err := d.webhookChannels(ctx)
	if err != nil {
		return 0, err
	}
	wanting := wantedBy(channels, evento)
	if len(wanting) == 0 {
		return 0, nil
	}
	return d.deliver(ctx, wanting, evento, incidenteID, payload), nil
}

// TestChannel fires a probe at one channel, bypassing the event filter.
func (d *Dispatcher) TestChannel(ctx context.Context, channelID int64) error {
	ch, err := d.channels.GetChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if ch == nil {
		return ErrChannelNotFound
	}
	body, err := json.Marshal(map[string]any{
		"evento":     EventTest,
		"mensaje":    "notificación de prueba de Agente Digital",
		"emitido_at": time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	entry := &store.NotifyLogEntry{ChannelID: ch.ID, Evento: EventTest, Payload: string(body), Estado: "enviado"}
	sendErr := d.sender.Send(ctx, ch.URL, ch.Secreto, body)
	if sendErr != nil {
		entry.Estado = "fallido"
		entry.Error = sendErr.Error()
	}
	if err := d.channels.LogDelivery(ctx, entry); err != nil && d.logger != nil {
		d.logger.Errorf("registro de entrega no guardado: %v", err)
	}
	return sendErr
}

func (d *Dispatcher) deliver(ctx context.Context, channels []store.NotifyChannel, evento string, incidenteID *int64, payload any) int {
	body, err := json.Marshal(payload)
	if err != nil {
		if d.logger != nil {
			d.logger.Errorf("payload de %s no serializable: %v", evento, err)
		}
		return 0
	}
	delivered := 0
	for _, ch := range channels {
		entry := &store.NotifyLogEntry{ChannelID: ch.ID, Evento: evento, IncidenteID: incidenteID, Payload: string(body)}
		if err := d.send(ctx, ch, body); err != nil {
			entry.Estado = "fallido"
			entry.Error = err.Error()
			if d.logger != nil {
				d.logger.Errorf("webhook %s: %v", ch.Nombre, err)
			}
		} else {
			entry.Estado = "enviado"
			delivered++
		}
		if err := d.channels.LogDelivery(ctx, entry); err != nil && d.logger != nil {
			d.logger.Errorf("registro de entrega no guardado: %v", err)
		}
	}
	return delivered
}

func (d *Dispatcher) send(ctx context.Context, ch store.NotifyChannel, body []byte) error {
	attempts := d.cfg.Notify.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	op := func() error { return d.sender.Send(ctx, ch.URL, ch.Secreto, body) }
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx))
}

func (d *Dispatcher) webhookChannels(ctx context.Context) ([]store.NotifyChannel, error) {
	all, err := d.channels.ListChannels(ctx, true)
	if err != nil {
		return nil, err
	}
	out := make([]store.NotifyChannel, 0, len(all))
	for _, ch := range all {
		if strings.ToLower(strings.TrimSpace(ch.Tipo)) != "webhook" {
			continue
		}
		out = append(out, ch)
	}
	return out, nil
}

func wantedBy(channels []store.NotifyChannel, evento string) []store.NotifyChannel {
	var out []store.NotifyChannel
	for _, ch := range channels {
		if channelWants(ch, evento) {
			out = append(out, ch)
		}
	}
	return out
}

// channelWants treats an empty subscription list as all events.
func channelWants(ch store.NotifyChannel, evento string) bool {
	if len(ch.Eventos) == 0 {
		return true
	}
	for _, e := range ch.Eventos {
		if strings.EqualFold(strings.TrimSpace(e), evento) {
			return true
		}
	}
	return false
}
