package semilla

import "time"

// MarkReportSent flips the tracking flag for a generated ANCI report.
// Kind uses the catalog keys (alerta_temprana, informe_preliminar,
// informe_completo, plan_accion, informe_final). Returns false for an
// unknown kind.
func (d *Document) MarkReportSent(kind string, when time.Time) bool {
	tr := &d.Tecnica.TrackingReportes
	stamp := isoStamp(when)
	switch kind {
	case "alerta_temprana":
		tr.AlertaTempranaEnviada = true
		tr.FechaAlertaTemprana = stamp
	case "informe_preliminar":
		tr.InformePreliminarEnviado = true
		tr.FechaInformePreliminar = stamp
	case "informe_completo":
		tr.InformeCompletoEnviado = true
		tr.FechaInformeCompleto = stamp
	case "plan_accion":
		tr.PlanAccionEnviado = true
		tr.FechaPlanAccion = stamp
	case "informe_final":
		tr.InformeFinalEnviado = true
		tr.FechaInformeFinal = stamp
	default:
		return false
	}
	d.Touch(when)
	return true
}

// SentReports reads the tracking block as kind -> submission time. A
// sent flag without a parseable date still counts as submitted, with a
// zero time.
func (d *Document) SentReports() map[string]time.Time {
	tr := d.Tecnica.TrackingReportes
	out := make(map[string]time.Time)
	add := func(kind string, sent bool, stamp string) {
		if !sent {
			return
		}
		t, err := time.Parse(time.RFC3339, stamp)
		if err != nil {
			t = time.Time{}
		}
		out[kind] = t
	}
	add("alerta_temprana", tr.AlertaTempranaEnviada, tr.FechaAlertaTemprana)
	add("informe_preliminar", tr.InformePreliminarEnviado, tr.FechaInformePreliminar)
	add("informe_completo", tr.InformeCompletoEnviado, tr.FechaInformeCompleto)
	add("plan_accion", tr.PlanAccionEnviado, tr.FechaPlanAccion)
	add("informe_final", tr.InformeFinalEnviado, tr.FechaInformeFinal)
	return out
}

// sections a caller may patch wholesale. Metadata and the taxonomy
// block have dedicated operations and stay out of reach.
var mergeableSections = map[string]bool{
	"1": true, "2": true, "3": true, "5": true, "6": true, "7": true, "8": true, "9": true,
}

// MergeableSection reports whether a section accepts JSON patches.
func MergeableSection(seccion string) bool {
	return mergeableSections[seccion]
}
