// Package anci models the reporting obligations of Chilean law 21.663
// (Ley Marco de Ciberseguridad): which reports a company owes after a
// cybersecurity incident and when each one is due.
package anci

import (
	"fmt"
	"strings"
	"time"
)

// CompanyType classifies the reporting entity. OIV operators carry the
// strictest deadlines, PSE the relaxed ones, AMBAS companies inherit the
// OIV obligations.
type CompanyType string

const (
	CompanyOIV   CompanyType = "OIV"
	CompanyPSE   CompanyType = "PSE"
	CompanyAmbas CompanyType = "AMBAS"
)

func ParseCompanyType(raw string) (CompanyType, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "OIV":
		return CompanyOIV, nil
	case "PSE":
		return CompanyPSE, nil
	case "AMBAS":
		return CompanyAmbas, nil
	}
	return "", fmt.Errorf("anci: unknown company type %q", raw)
}

// ReportsAsOIV tells whether the entity follows the OIV deadline table.
func (t CompanyType) ReportsAsOIV() bool {
	return t == CompanyOIV || t == CompanyAmbas
}

// ReportKind enumerates the ANCI report types an incident can owe.
type ReportKind string

const (
	ReportAlertaTemprana    ReportKind = "alerta_temprana"
	ReportInformePreliminar ReportKind = "informe_preliminar"
	ReportInformeCompleto   ReportKind = "informe_completo"
	ReportPlanAccion        ReportKind = "plan_accion"
	ReportInformeFinal      ReportKind = "informe_final"
)

var reportKindNames = map[ReportKind]string{
	ReportAlertaTemprana:    "Alerta Temprana",
	ReportInformePreliminar: "Informe Preliminar",
	ReportInformeCompleto:   "Informe Completo",
	ReportPlanAccion:        "Plan de Acción",
	ReportInformeFinal:      "Informe Final",
}

func ParseReportKind(raw string) (ReportKind, error) {
	k := ReportKind(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := reportKindNames[k]; !ok {
		return "", fmt.Errorf("anci: unknown report kind %q", raw)
	}
	return k, nil
}

// DisplayName returns the official Spanish name used in generated documents.
func (k ReportKind) DisplayName() string {
	if n, ok := reportKindNames[k]; ok {
		return n
	}
	return string(k)
}

// Criticality levels accepted on incident registration.
const (
	CriticalityLow      = "baja"
	CriticalityMedium   = "media"
	CriticalityHigh     = "alta"
	CriticalityCritical = "critica"
)

func ValidCriticality(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case CriticalityLow, CriticalityMedium, CriticalityHigh, CriticalityCritical:
		return true
	}
	return false
}

// Incident lifecycle states. Deadlines freeze once the incident is closed.
const (
	StateOpen          = "abierto"
	StateInvestigating = "en_investigacion"
	StateContained     = "contenido"
	StateEradicated    = "erradicado"
	StateClosed        = "cerrado"
)

func ValidIncidentState(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case StateOpen, StateInvestigating, StateContained, StateEradicated, StateClosed:
		return true
	}
	return false
}

// Deadline describes one owed report relative to the incident detection time.
type Deadline struct {
	Kind     ReportKind    `json:"tipo_reporte"`
	Name     string        `json:"nombre"`
	Offset   time.Duration `json:"-"`
	DueAt    time.Time     `json:"fecha_limite"`
	Required bool          `json:"obligatorio"`
}
