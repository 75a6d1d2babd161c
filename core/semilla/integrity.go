package semilla

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

var ErrFormatVersion = errors.New("semilla: version de formato incompatible")

// canonicalJSON renders the document with sorted keys at every level,
// so the integrity hash does not depend on struct field order.
func canonicalJSON(d *Document) ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// Seal stamps the update time and recomputes hash_integridad over the
// document with the hash field cleared, so a later VerifyIntegrity can
// redo the same computation.
func (d *Document) Seal(now time.Time) (string, error) {
	d.Touch(now)
	d.Metadata.HashIntegridad = ""
	canonical, err := canonicalJSON(d)
	if err != nil {
		return "", err
	}
	hash := utils.Sha256Hex(canonical)
	d.Metadata.HashIntegridad = hash
	return hash, nil
}

// VerifyIntegrity recomputes the hash and compares it with the sealed
// value. A document that was never sealed fails.
func (d *Document) VerifyIntegrity() (bool, error) {
	sealed := d.Metadata.HashIntegridad
	if sealed == "" {
		return false, nil
	}
	copied := *d
	copied.Metadata.HashIntegridad = ""
	canonical, err := canonicalJSON(&copied)
	if err != nil {
		return false, err
	}
	return utils.Sha256Hex(canonical) == sealed, nil
}

// Marshal renders the document for storage.
func (d *Document) Marshal() (json.RawMessage, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

// Parse loads a stored snapshot, rejecting other format versions.
func Parse(raw []byte) (*Document, error) {
	var probe struct {
		Metadata Metadata `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("semilla: payload invalido: %w", err)
	}
	if probe.Metadata.VersionFormato != FormatVersion {
		return nil, ErrFormatVersion
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("semilla: payload invalido: %w", err)
	}
	return &doc, nil
}

// MergeSection applies a shallow JSON patch to one section: top-level
// keys of the patch replace the section's keys, everything else stays.
// Patches that do not fit the schema (wrong types) are rejected whole.
func (d *Document) MergeSection(seccion string, patch json.RawMessage, now time.Time) error {
	if !MergeableSection(seccion) {
		return fmt.Errorf("semilla: seccion %q no admite parches", seccion)
	}
	var patchMap map[string]any
	if err := json.Unmarshal(patch, &patchMap); err != nil {
		return fmt.Errorf("semilla: parche invalido: %w", err)
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	var full map[string]any
	if err := json.Unmarshal(raw, &full); err != nil {
		return err
	}
	target, _ := full[seccion].(map[string]any)
	if target == nil {
		target = map[string]any{}
	}
	for k, v := range patchMap {
		target[k] = v
	}
	full[seccion] = target
	merged, err := json.Marshal(full)
	if err != nil {
		return err
	}
	var out Document
	if err := json.Unmarshal(merged, &out); err != nil {
		return fmt.Errorf("semilla: parche no calza con el esquema: %w", err)
	}
	*d = out
	d.Touch(now)
	return nil
}

// Validate checks the structural minimum: format version and the
// required reporting fields.
func (d *Document) Validate() []string {
	var errores []string
	if d.Metadata.VersionFormato != FormatVersion {
		errores = append(errores, "version de formato incorrecta")
	}
	if strings.TrimSpace(d.Informante.NombreInformante) == "" {
		errores = append(errores, "nombre del informante es requerido")
	}
	if strings.TrimSpace(d.Informante.EmailInformante) == "" {
		errores = append(errores, "email del informante es requerido")
	}
	if strings.TrimSpace(d.Identificacion.Titulo) == "" {
		errores = append(errores, "titulo del incidente es requerido")
	}
	if strings.TrimSpace(d.Identificacion.FechaIncidente) == "" {
		errores = append(errores, "fecha del incidente es requerida")
	}
	return errores
}

// ValidateANCI returns the missing fields that block an alerta temprana
// submission. Empty result means the report can go out.
func (d *Document) ValidateANCI() []string {
	var faltantes []string
	empresa := d.Informante.Empresa
	if strings.TrimSpace(empresa.RazonSocial) == "" {
		faltantes = append(faltantes, "razon social de la empresa")
	}
	if strings.TrimSpace(empresa.TipoEntidad) == "" {
		faltantes = append(faltantes, "tipo de entidad (OIV/PSE)")
	}
	if strings.TrimSpace(empresa.SectorEsencial) == "" {
		faltantes = append(faltantes, "sector esencial")
	}
	contacto := d.Informante.ContactoEmergencia
	if strings.TrimSpace(contacto.NombreReportante) == "" {
		faltantes = append(faltantes, "nombre del reportante ANCI")
	}
	if strings.TrimSpace(contacto.CargoReportante) == "" {
		faltantes = append(faltantes, "cargo del reportante")
	}
	if strings.TrimSpace(contacto.Telefono247) == "" {
		faltantes = append(faltantes, "telefono de emergencia 24/7")
	}
	if strings.TrimSpace(contacto.EmailOficialSeguridad) == "" {
		faltantes = append(faltantes, "email oficial de seguridad")
	}
	if strings.TrimSpace(d.Identificacion.Descripcion) == "" {
		faltantes = append(faltantes, "descripcion del incidente")
	}
	if len(d.Identificacion.SistemasAfectados) == 0 {
		faltantes = append(faltantes, "sistemas afectados")
	}
	if strings.TrimSpace(d.Identificacion.AlcanceGeografico) == "" {
		faltantes = append(faltantes, "alcance geografico")
	}
	if len(d.ActiveTaxonomies()) == 0 {
		faltantes = append(faltantes, "al menos una taxonomia ANCI")
	}
	if strings.TrimSpace(d.Identificacion.DescripcionEstadoActual) == "" {
		faltantes = append(faltantes, "descripcion del estado actual")
	}
	if strings.TrimSpace(d.Respuesta.MedidasContencion) == "" {
		faltantes = append(faltantes, "medidas de contencion aplicadas")
	}
	return faltantes
}

type TaxonomyCount struct {
	TaxonomiaID string `json:"taxonomia_id"`
	NumeroOrden int    `json:"numero_orden"`
	Evidencias  int    `json:"evidencias"`
}

type Resumen struct {
	EstadoTemporal     string          `json:"estado_temporal"`
	TotalTaxonomias    int             `json:"total_taxonomias"`
	TotalEvidencias    int             `json:"total_evidencias"`
	EvidenciasSeccion  map[string]int  `json:"evidencias_por_seccion"`
	Taxonomias         []TaxonomyCount `json:"taxonomias"`
	HashIntegridad     string          `json:"hash_integridad"`
	UltimaActualizacion string         `json:"ultima_actualizacion"`
}

// Summary condenses the document for list endpoints: counters only, no
// payload.
func (d *Document) Summary() Resumen {
	res := Resumen{
		EstadoTemporal:      d.Metadata.EstadoTemporal,
		EvidenciasSeccion:   map[string]int{},
		HashIntegridad:      d.Metadata.HashIntegridad,
		UltimaActualizacion: d.Metadata.TimestampActualizacion,
	}
	for _, seccion := range []string{"2", "3", "5", "6"} {
		count := d.sectionEvidence(seccion).Contador
		res.EvidenciasSeccion[seccion] = count
		res.TotalEvidencias += count
	}
	for _, entry := range d.ActiveTaxonomies() {
		res.TotalTaxonomias++
		res.TotalEvidencias += entry.Evidencias.Contador
		res.Taxonomias = append(res.Taxonomias, TaxonomyCount{
			TaxonomiaID: entry.TaxonomiaID,
			NumeroOrden: entry.NumeroOrden,
			Evidencias:  entry.Evidencias.Contador,
		})
	}
	return res
}
