package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/config"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/anci"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/incidents"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/store"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

type CompaniesHandler struct {
	cfg       *config.AppConfig
	companies store.CompaniesStore
	incidents *incidents.Service
	audits    store.AuditStore
	logger    *utils.Logger
}

func NewCompaniesHandler(cfg *config.AppConfig, companies store.CompaniesStore, svc *incidents.Service, audits store.AuditStore, logger *utils.Logger) *CompaniesHandler {
	return &CompaniesHandler{cfg: cfg, companies: companies, incidents: svc, audits: audits, logger: logger}
}

type companyPayload struct {
	RUT                string `json:"rut"`
	RazonSocial        string `json:"razon_social"`
	Tipo               string `json:"tipo_empresa"`
	SectorEsencial     string `json:"sector_esencial"`
	ServicioEsencial   *bool  `json:"servicio_esencial"`
	NombreEncargado    string `json:"nombre_encargado"`
	CargoEncargado     string `json:"cargo_encargado"`
	EmailContacto      string `json:"email_contacto"`
	Telefono           string `json:"telefono"`
	Direccion          string `json:"direccion"`
	Ciudad             string `json:"ciudad"`
	RepresentanteLegal string `json:"representante_legal"`
	Version            int    `json:"version"`
}

func (h *CompaniesHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.CompanyFilter{
		Tipo:   strings.TrimSpace(q.Get("tipo")),
		Search: strings.TrimSpace(q.Get("q")),
	}
	if del := strings.TrimSpace(q.Get("eliminadas")); del == "1" || strings.EqualFold(del, "true") {
		filter.IncludeDeleted = true
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
	companies, err := h.companies.List(r.Context(), filter)
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("listar empresas: %v", err)
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"empresas": companies, "total": len(companies)})
}

func (h *CompaniesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var p companyPayload
	if err := decodeJSON(r, &p); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	rut := anci.NormalizeRUT(p.RUT)
	if !anci.ValidRUT(rut) {
		http.Error(w, "rut inválido", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(p.RazonSocial) == "" {
		http.Error(w, "razón social obligatoria", http.StatusBadRequest)
		return
	}
	tipo, err := anci.ParseCompanyType(p.Tipo)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	existing, err := h.companies.FindByRUT(r.Context(), rut)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, "empresa ya registrada con ese RUT", http.StatusConflict)
		return
	}
	c := &store.Company{
		RUT:                rut,
		RazonSocial:        strings.TrimSpace(p.RazonSocial),
		Tipo:               string(tipo),
		SectorEsencial:     strings.TrimSpace(p.SectorEsencial),
		NombreEncargado:    strings.TrimSpace(p.NombreEncargado),
		CargoEncargado:     strings.TrimSpace(p.CargoEncargado),
		EmailContacto:      strings.TrimSpace(p.EmailContacto),
		Telefono:           strings.TrimSpace(p.Telefono),
		Direccion:          strings.TrimSpace(p.Direccion),
		Ciudad:             strings.TrimSpace(p.Ciudad),
		RepresentanteLegal: strings.TrimSpace(p.RepresentanteLegal),
	}
	if p.ServicioEsencial != nil {
		c.ServicioEsencial = *p.ServicioEsencial
	}
	id, err := h.companies.Create(r.Context(), c)
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("crear empresa %s: %v", rut, err)
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "empresas.crear", rut)
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "rut": rut})
}

func (h *CompaniesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	company, err := h.companies.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if company == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, company)
}

func (h *CompaniesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	company, err := h.companies.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if company == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if company.DeletedAt != nil {
		http.Error(w, "empresa eliminada", http.StatusConflict)
		return
	}
	var p companyPayload
	if err := decodeJSON(r, &p); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(p.RUT) != "" {
		rut := anci.NormalizeRUT(p.RUT)
		if !anci.ValidRUT(rut) {
			http.Error(w, "rut inválido", http.StatusBadRequest)
			return
		}
		if rut != company.RUT {
			dup, err := h.companies.FindByRUT(r.Context(), rut)
			if err != nil {
				http.Error(w, "server error", http.StatusInternalServerError)
				return
			}
			if dup != nil && dup.ID != id {
				http.Error(w, "empresa ya registrada con ese RUT", http.StatusConflict)
				return
			}
		}
		company.RUT = rut
	}
	if strings.TrimSpace(p.RazonSocial) != "" {
		company.RazonSocial = strings.TrimSpace(p.RazonSocial)
	}
	if strings.TrimSpace(p.Tipo) != "" {
		tipo, err := anci.ParseCompanyType(p.Tipo)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		company.Tipo = string(tipo)
	}
	if strings.TrimSpace(p.SectorEsencial) != "" {
		company.SectorEsencial = strings.TrimSpace(p.SectorEsencial)
	}
	if p.ServicioEsencial != nil {
		company.ServicioEsencial = *p.ServicioEsencial
	}
	if strings.TrimSpace(p.NombreEncargado) != "" {
		company.NombreEncargado = strings.TrimSpace(p.NombreEncargado)
	}
	if strings.TrimSpace(p.CargoEncargado) != "" {
		company.CargoEncargado = strings.TrimSpace(p.CargoEncargado)
	}
	if strings.TrimSpace(p.EmailContacto) != "" {
		company.EmailContacto = strings.TrimSpace(p.EmailContacto)
	}
	if strings.TrimSpace(p.Telefono) != "" {
		company.Telefono = strings.TrimSpace(p.Telefono)
	}
	if strings.TrimSpace(p.Direccion) != "" {
		company.Direccion = strings.TrimSpace(p.Direccion)
	}
	if strings.TrimSpace(p.Ciudad) != "" {
		company.Ciudad = strings.TrimSpace(p.Ciudad)
	}
	if strings.TrimSpace(p.RepresentanteLegal) != "" {
		company.RepresentanteLegal = strings.TrimSpace(p.RepresentanteLegal)
	}
	if p.Version > 0 {
		company.Version = p.Version
	}
	if err := h.companies.Update(r.Context(), company); err != nil {
		if errors.Is(err, store.ErrConflict) {
			http.Error(w, "la empresa fue modificada por otro usuario", http.StatusConflict)
			return
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "empresas.actualizar", company.RUT)
	writeJSON(w, http.StatusOK, company)
}

func (h *CompaniesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	company, err := h.companies.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if company == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err := h.companies.SoftDelete(r.Context(), id); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "empresas.eliminar", company.RUT)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *CompaniesHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	company, err := h.companies.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if company == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err := h.companies.Restore(r.Context(), id); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.audits.Log(r.Context(), currentUser(r), "empresas.restaurar", company.RUT)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Dashboard aggregates the per-company view: incident counts per estado, the
// most recent incidents and the report deadlines inside the warning window.
func (h *CompaniesHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	company, err := h.companies.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if company == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	stats, err := h.incidents.Stats(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	recent, err := h.incidents.List(r.Context(), store.IncidentFilter{EmpresaID: id, Limit: 5})
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	alerts, err := h.incidents.PendingAlerts(r.Context(), h.cfg.Notify.WarningWindow)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	var plazos []incidents.DeadlineAlert
	for _, a := range alerts {
		if a.Incidente.EmpresaID == id {
			plazos = append(plazos, a)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"empresa":            company.Ref(),
		"estadisticas":       stats,
		"incidentes":         recent,
		"plazos_proximos":    plazos,
		"ventana_alerta_min": int(h.cfg.Notify.WarningWindow.Minutes()),
	})
}

// DashboardGeneral is the cross-company variant served at /api/dashboard.
func (h *CompaniesHandler) DashboardGeneral(w http.ResponseWriter, r *http.Request) {
	stats, err := h.incidents.Stats(r.Context(), 0)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	recent, err := h.incidents.List(r.Context(), store.IncidentFilter{Limit: 10})
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	alerts, err := h.incidents.PendingAlerts(r.Context(), h.cfg.Notify.WarningWindow)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"estadisticas":    stats,
		"incidentes":      recent,
		"plazos_proximos": alerts,
	})
}
