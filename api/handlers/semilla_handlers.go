package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/semilla"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/store"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

// SemillaHandler exposes the versioned snapshots of an incident. It never
// writes: edits go through the incidents endpoints so every change passes
// the estado_temporal rules.
type SemillaHandler struct {
	seeds  store.SeedsStore
	audits store.AuditStore
	logger *utils.Logger
}

func NewSemillaHandler(seeds store.SeedsStore, audits store.AuditStore, logger *utils.Logger) *SemillaHandler {
	return &SemillaHandler{seeds: seeds, audits: audits, logger: logger}
}

// seedKind maps the tipo query to a stored kind. Anything that is not the
// original snapshot reads the working base.
func seedKind(r *http.Request) string {
	if strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("tipo")), store.SeedKindOriginal) {
		return store.SeedKindOriginal
	}
	return store.SeedKindBase
}

func (h *SemillaHandler) Latest(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	seed, err := h.seeds.LatestSeed(r.Context(), id, seedKind(r))
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if seed == nil {
		http.Error(w, "semilla no encontrada", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, seed)
}

func (h *SemillaHandler) Versions(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	kind := seedKind(r)
	items, err := h.seeds.ListSeedVersions(r.Context(), id, kind)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kind": kind, "versiones": items, "total": len(items)})
}

func (h *SemillaHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	raw := urlParam(r, "version")
	if raw == "" {
		raw = pathParams(r)["version"]
	}
	version, err := strconv.Atoi(raw)
	if err != nil || version <= 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	seed, err := h.seeds.GetSeedVersion(r.Context(), id, seedKind(r), version)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if seed == nil {
		http.Error(w, "versión de semilla no encontrada", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, seed)
}

// Verify recomputes the integrity hash of the latest base snapshot and
// compares it with the sealed value.
func (h *SemillaHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	kind := seedKind(r)
	seed, err := h.seeds.LatestSeed(r.Context(), id, kind)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if seed == nil {
		http.Error(w, "semilla no encontrada", http.StatusNotFound)
		return
	}
	doc, err := semilla.Parse(seed.Payload)
	if err != nil {
		http.Error(w, "semilla corrupta: "+err.Error(), http.StatusConflict)
		return
	}
	valid, err := doc.VerifyIntegrity()
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	errores := doc.Validate()
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":            kind,
		"version":         seed.Version,
		"valida":          valid && len(errores) == 0,
		"hash_valido":     valid,
		"errores":         errores,
		"hash_integridad": seed.HashIntegridad,
		"estado_temporal": seed.EstadoTemporal,
	})
}

// Export streams the raw snapshot as a downloadable JSON file.
func (h *SemillaHandler) Export(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	kind := seedKind(r)
	seed, err := h.seeds.LatestSeed(r.Context(), id, kind)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if seed == nil {
		http.Error(w, "semilla no encontrada", http.StatusNotFound)
		return
	}
	filename := fmt.Sprintf("semilla_%d_%s_v%d.json", id, kind, seed.Version)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filename+"\"")
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(seed.Payload)
	h.audits.Log(r.Context(), currentUser(r), "incidentes.exportar_semilla", filename)
}
