package handlers

import (
	"net/http"
	"strings"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/store"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

// SectionsHandler serves the dynamic form configuration. The frontend renders
// whatever fields the catalog declares, so OIV and PSE see different forms
// without code changes.
type SectionsHandler struct {
	sections store.SectionsStore
	logger   *utils.Logger
}

func NewSectionsHandler(sections store.SectionsStore, logger *utils.Logger) *SectionsHandler {
	return &SectionsHandler{sections: sections, logger: logger}
}

func (h *SectionsHandler) List(w http.ResponseWriter, r *http.Request) {
	tipo := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("tipo_empresa")))
	var (
		items []store.Section
		err   error
	)
	if tipo != "" {
		items, err = h.sections.ListSectionsForCompany(r.Context(), tipo)
	} else {
		items, err = h.sections.ListSections(r.Context())
	}
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("listar secciones: %v", err)
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"secciones": items, "total": len(items)})
}

func (h *SectionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	codigo := urlParam(r, "codigo")
	if codigo == "" {
		codigo = pathParams(r)["codigo"]
	}
	if strings.TrimSpace(codigo) == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	section, err := h.sections.GetSection(r.Context(), codigo)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if section == nil {
		http.Error(w, "sección no encontrada", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, section)
}
