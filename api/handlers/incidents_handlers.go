package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/config"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/incidents"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/notify"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/rbac"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/semilla"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/store"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

type IncidentsHandler struct {
	cfg        *config.AppConfig
	svc        *incidents.Service
	users      store.UsersStore
	taxonomies store.TaxonomiesStore
	policy     *rbac.Policy
	dispatcher *notify.Dispatcher
	audits     store.AuditStore
	logger     *utils.Logger
}

func NewIncidentsHandler(cfg *config.AppConfig, svc *incidents.Service, users store.UsersStore, taxonomies store.TaxonomiesStore, policy *rbac.Policy, dispatcher *notify.Dispatcher, audits store.AuditStore, logger *utils.Logger) *IncidentsHandler {
	return &IncidentsHandler{cfg: cfg, svc: svc, users: users, taxonomies: taxonomies, policy: policy, dispatcher: dispatcher, audits: audits, logger: logger}
}

// broadcastEvent pushes a lifecycle event to the subscribed webhook channels
// in the background.
func (h *IncidentsHandler) broadcastEvent(evento string, inc *store.Incident) {
	if h.dispatcher == nil {
		return
	}
	id := inc.ID
	payload := map[string]any{
		"evento":       evento,
		"incidente_id": inc.ID,
		"correlativo":  inc.Correlativo,
		"titulo":       inc.Titulo,
		"criticidad":   inc.Criticidad,
		"emitido_at":   time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := h.dispatcher.Broadcast(ctx, evento, &id, payload); err != nil && h.logger != nil {
			h.logger.Errorf("difusión %s: %v", evento, err)
		}
	}()
}

// companyScope returns the company ids the session is limited to. An empty
// scope means unrestricted: accounts without company assignments operate
// platform-wide.
func (h *IncidentsHandler) companyScope(r *http.Request) []int64 {
	sess := sessionFromCtx(r)
	if sess == nil {
		return nil
	}
	companies, err := h.users.UserCompanies(r.Context(), sess.UserID)
	if err != nil || len(companies) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(companies))
	for _, c := range companies {
		ids = append(ids, c.ID)
	}
	return ids
}

func scopeAllows(scope []int64, empresaID int64) bool {
	if len(scope) == 0 {
		return true
	}
	for _, id := range scope {
		if id == empresaID {
			return true
		}
	}
	return false
}

func (h *IncidentsHandler) writeIncidentError(w http.ResponseWriter, err error) {
	var verr *incidents.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":            verr.Error(),
			"campos_faltantes": verr.Faltantes,
		})
	case errors.Is(err, incidents.ErrNotFound):
		http.Error(w, "incidente no encontrado", http.StatusNotFound)
	case errors.Is(err, incidents.ErrCompanyNotFound):
		http.Error(w, "empresa no encontrada", http.StatusNotFound)
	case errors.Is(err, incidents.ErrClosed):
		http.Error(w, "el incidente está cerrado", http.StatusConflict)
	case errors.Is(err, incidents.ErrNoSeed):
		http.Error(w, "el incidente no tiene semilla base", http.StatusConflict)
	case errors.Is(err, store.ErrConflict):
		http.Error(w, "el incidente fue modificado por otro usuario", http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func (h *IncidentsHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in incidents.RegisterInput
	if err := decodeJSON(r, &in); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	sess := sessionFromCtx(r)
	if sess != nil {
		in.Username = sess.Username
		uid := sess.UserID
		in.CreadoPor = &uid
		if user, _, err := h.users.Get(r.Context(), sess.UserID); err == nil && user != nil {
			in.InformanteEmail = user.Email
		}
	}
	if !scopeAllows(h.companyScope(r), in.EmpresaID) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	inc, err := h.svc.Register(r.Context(), in)
	if err != nil {
		h.writeIncidentError(w, err)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "incidentes.registrar", inc.Correlativo)
	h.broadcastEvent(notify.EventIncidentOpened, inc)
	writeJSON(w, http.StatusCreated, inc)
}

func (h *IncidentsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.IncidentFilter{
		Estado:     strings.ToLower(strings.TrimSpace(q.Get("estado"))),
		Criticidad: strings.ToLower(strings.TrimSpace(q.Get("criticidad"))),
		Search:     strings.TrimSpace(q.Get("q")),
	}
	if raw := strings.TrimSpace(q.Get("estado_in")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if clean := strings.ToLower(strings.TrimSpace(part)); clean != "" {
				filter.EstadoIn = append(filter.EstadoIn, clean)
			}
		}
	}
	if eid := strings.TrimSpace(q.Get("empresa_id")); eid != "" {
		if v, err := strconv.ParseInt(eid, 10, 64); err == nil {
			filter.EmpresaID = v
		}
	}
	if lim := strings.TrimSpace(q.Get("limit")); lim != "" {
		if v, err := strconv.Atoi(lim); err == nil && v > 0 {
			filter.Limit = v
		}
	}
	if off := strings.TrimSpace(q.Get("offset")); off != "" {
		if v, err := strconv.Atoi(off); err == nil && v > 0 {
			filter.Offset = v
		}
	}
	sess := sessionFromCtx(r)
	if del := strings.TrimSpace(q.Get("eliminados")); del == "1" || strings.EqualFold(del, "true") {
		if sess != nil && h.policy.Allowed(sess.Roles, "incidents.delete") {
			filter.IncludeDeleted = true
		}
	}
	scope := h.companyScope(r)
	if filter.EmpresaID > 0 {
		if !scopeAllows(scope, filter.EmpresaID) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	} else {
		filter.EmpresaIDs = scope
	}
	items, err := h.svc.List(r.Context(), filter)
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("listar incidentes: %v", err)
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidentes": items, "total": len(items)})
}

func (h *IncidentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	detail, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeIncidentError(w, err)
		return
	}
	if !scopeAllows(h.companyScope(r), detail.Empresa.ID) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *IncidentsHandler) GetSection(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	codigo := urlParam(r, "codigo")
	if codigo == "" {
		codigo = pathParams(r)["codigo"]
	}
	datos, err := h.svc.Section(r.Context(), id, codigo)
	if err != nil {
		h.writeIncidentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"seccion": codigo, "datos": datos})
}

func (h *IncidentsHandler) UpdateSection(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	codigo := urlParam(r, "codigo")
	if codigo == "" {
		codigo = pathParams(r)["codigo"]
	}
	var payload struct {
		Datos   json.RawMessage `json:"datos"`
		Version int             `json:"version"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if len(payload.Datos) == 0 {
		http.Error(w, "datos requeridos", http.StatusBadRequest)
		return
	}
	inc, err := h.svc.UpdateSection(r.Context(), id, codigo, payload.Datos, payload.Version, currentUser(r))
	if err != nil {
		var terr *semilla.TransitionError
		if errors.As(err, &terr) {
			http.Error(w, terr.Error(), http.StatusConflict)
			return
		}
		h.writeIncidentError(w, err)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "incidentes.actualizar_seccion", inc.Correlativo+"|"+codigo)
	writeJSON(w, http.StatusOK, inc)
}

func (h *IncidentsHandler) ChangeState(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var payload struct {
		Estado     string `json:"estado"`
		Comentario string `json:"comentario"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	inc, err := h.svc.ChangeState(r.Context(), id, payload.Estado, payload.Comentario, currentUser(r))
	if err != nil {
		h.writeIncidentError(w, err)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "incidentes.cambiar_estado", inc.Correlativo+"|"+inc.Estado)
	writeJSON(w, http.StatusOK, inc)
}

func (h *IncidentsHandler) Close(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var payload struct {
		Comentario string `json:"comentario"`
	}
	_ = decodeJSON(r, &payload)
	inc, err := h.svc.Close(r.Context(), id, payload.Comentario, currentUser(r))
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			http.Error(w, "el incidente no existe o ya está cerrado", http.StatusConflict)
			return
		}
		h.writeIncidentError(w, err)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "incidentes.cerrar", inc.Correlativo)
	h.broadcastEvent(notify.EventIncidentClosed, inc)
	writeJSON(w, http.StatusOK, inc)
}

func (h *IncidentsHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var payload struct {
		Comentario string `json:"comentario"`
	}
	_ = decodeJSON(r, &payload)
	inc, err := h.svc.Reopen(r.Context(), id, payload.Comentario, currentUser(r))
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			http.Error(w, "el incidente no existe o no está cerrado", http.StatusConflict)
			return
		}
		h.writeIncidentError(w, err)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "incidentes.reabrir", inc.Correlativo)
	writeJSON(w, http.StatusOK, inc)
}

func (h *IncidentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := h.svc.SoftDelete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrConflict) {
			http.Error(w, "incidente no encontrado", http.StatusNotFound)
			return
		}
		h.writeIncidentError(w, err)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "incidentes.eliminar", strconv.FormatInt(id, 10))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *IncidentsHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := h.svc.Restore(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrConflict) {
			http.Error(w, "incidente no encontrado o no eliminado", http.StatusNotFound)
			return
		}
		h.writeIncidentError(w, err)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "incidentes.restaurar", strconv.FormatInt(id, 10))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *IncidentsHandler) DeclareANCI(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	inc, err := h.svc.DeclareANCI(r.Context(), id, currentUser(r))
	if err != nil {
		h.writeIncidentError(w, err)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "incidentes.declarar_anci", inc.Correlativo+"|"+inc.ReporteAnciID)
	writeJSON(w, http.StatusOK, inc)
}

func (h *IncidentsHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	limit := 0
	if lim := strings.TrimSpace(r.URL.Query().Get("limit")); lim != "" {
		if v, err := strconv.Atoi(lim); err == nil && v > 0 {
			limit = v
		}
	}
	entries, err := h.svc.Timeline(r.Context(), id, limit)
	if err != nil {
		h.writeIncidentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"historial": entries})
}

func (h *IncidentsHandler) Countdown(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	items, err := h.svc.Countdown(r.Context(), id)
	if err != nil {
		h.writeIncidentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plazos": items})
}

func (h *IncidentsHandler) ListTaxonomies(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	links, err := h.taxonomies.ListForIncident(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"taxonomias": links})
}

func (h *IncidentsHandler) AssignTaxonomy(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var payload struct {
		TaxonomiaID         string `json:"taxonomia_id"`
		Justificacion       string `json:"justificacion"`
		DescripcionProblema string `json:"descripcion_problema"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.TaxonomiaID) == "" {
		http.Error(w, "taxonomia_id requerido", http.StatusBadRequest)
		return
	}
	link, err := h.svc.AssignTaxonomy(r.Context(), id, payload.TaxonomiaID, payload.Justificacion, payload.DescripcionProblema, currentUser(r))
	if err != nil {
		h.writeIncidentError(w, err)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "incidentes.asignar_taxonomia", payload.TaxonomiaID)
	writeJSON(w, http.StatusCreated, link)
}

func (h *IncidentsHandler) UpdateTaxonomy(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	linkID, err := parseID(r, "link_id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var payload struct {
		Justificacion       string `json:"justificacion"`
		DescripcionProblema string `json:"descripcion_problema"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := h.svc.UpdateTaxonomy(r.Context(), id, linkID, payload.Justificacion, payload.DescripcionProblema, currentUser(r)); err != nil {
		h.writeIncidentError(w, err)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "incidentes.actualizar_taxonomia", strconv.FormatInt(linkID, 10))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *IncidentsHandler) RemoveTaxonomy(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	linkID, err := parseID(r, "link_id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := h.svc.RemoveTaxonomy(r.Context(), id, linkID, currentUser(r)); err != nil {
		h.writeIncidentError(w, err)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "incidentes.quitar_taxonomia", strconv.FormatInt(linkID, 10))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
