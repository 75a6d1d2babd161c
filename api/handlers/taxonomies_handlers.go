package handlers

import (
	"net/http"
	"strings"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/store"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

// TaxonomiesHandler serves the ANCI classification catalog. Assignments to
// incidents live under the incidents endpoints.
type TaxonomiesHandler struct {
	taxonomies store.TaxonomiesStore
	logger     *utils.Logger
}

func NewTaxonomiesHandler(taxonomies store.TaxonomiesStore, logger *utils.Logger) *TaxonomiesHandler {
	return &TaxonomiesHandler{taxonomies: taxonomies, logger: logger}
}

func (h *TaxonomiesHandler) List(w http.ResponseWriter, r *http.Request) {
	tipo := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("tipo_empresa")))
	var (
		items []store.Taxonomy
		err   error
	)
	if tipo != "" {
		items, err = h.taxonomies.ListForCompany(r.Context(), tipo)
	} else {
		items, err = h.taxonomies.List(r.Context())
	}
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("listar taxonomías: %v", err)
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"taxonomias": items, "total": len(items)})
}

type taxonomyCategory struct {
	Categoria  string           `json:"categoria"`
	Taxonomias []store.Taxonomy `json:"taxonomias"`
}

type taxonomyArea struct {
	Area       string             `json:"area"`
	Categorias []taxonomyCategory `json:"categorias"`
}

// Hierarchy regroups the flat catalog into area > categoria > subcategoria,
// keeping the catalog order inside each level.
func (h *TaxonomiesHandler) Hierarchy(w http.ResponseWriter, r *http.Request) {
	tipo := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("tipo_empresa")))
	var (
		items []store.Taxonomy
		err   error
	)
	if tipo != "" {
		items, err = h.taxonomies.ListForCompany(r.Context(), tipo)
	} else {
		items, err = h.taxonomies.List(r.Context())
	}
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("jerarquía de taxonomías: %v", err)
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	var areas []taxonomyArea
	areaIdx := map[string]int{}
	catIdx := map[string]int{}
	for _, tax := range items {
		ai, ok := areaIdx[tax.Area]
		if !ok {
			ai = len(areas)
			areaIdx[tax.Area] = ai
			areas = append(areas, taxonomyArea{Area: tax.Area})
		}
		catKey := tax.Area + "\x00" + tax.Categoria
		ci, ok := catIdx[catKey]
		if !ok {
			ci = len(areas[ai].Categorias)
			catIdx[catKey] = ci
			areas[ai].Categorias = append(areas[ai].Categorias, taxonomyCategory{Categoria: tax.Categoria})
		}
		areas[ai].Categorias[ci].Taxonomias = append(areas[ai].Categorias[ci].Taxonomias, tax)
	}
	writeJSON(w, http.StatusOK, map[string]any{"areas": areas, "total": len(items)})
}

func (h *TaxonomiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if id == "" {
		id = pathParams(r)["id"]
	}
	if strings.TrimSpace(id) == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	tax, err := h.taxonomies.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if tax == nil {
		http.Error(w, "taxonomía no encontrada", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, tax)
}
