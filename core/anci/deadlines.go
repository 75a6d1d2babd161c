package anci

import (
	"sort"
	"time"
)

// Statutory offsets counted from the incident detection time. The preliminary
// report tightens to 24h when an OIV incident affects an essential service.
const (
	OffsetAlertaTemprana      = 3 * time.Hour
	OffsetPreliminarEssential = 24 * time.Hour
	OffsetPreliminarDefault   = 72 * time.Hour
	OffsetInformeCompleto     = 72 * time.Hour
	OffsetPlanAccion          = 7 * 24 * time.Hour
	OffsetInformeFinal        = 15 * 24 * time.Hour
)

// Schedule returns every report the entity owes for an incident detected at
// detectedAt, ordered by due time. Plan de Acción applies only to entities
// reporting under the OIV regime.
func Schedule(companyType CompanyType, essentialService bool, detectedAt time.Time) []Deadline {
	preliminar := OffsetPreliminarDefault
	if companyType.ReportsAsOIV() && essentialService {
		preliminar = OffsetPreliminarEssential
	}
	out := []Deadline{
		{Kind: ReportAlertaTemprana, Offset: OffsetAlertaTemprana, Required: true},
		{Kind: ReportInformePreliminar, Offset: preliminar, Required: true},
		{Kind: ReportInformeCompleto, Offset: OffsetInformeCompleto, Required: true},
		{Kind: ReportInformeFinal, Offset: OffsetInformeFinal, Required: true},
	}
	if companyType.ReportsAsOIV() {
		out = append(out, Deadline{Kind: ReportPlanAccion, Offset: OffsetPlanAccion, Required: true})
	}
	for i := range out {
		out[i].Name = out[i].Kind.DisplayName()
		out[i].DueAt = detectedAt.Add(out[i].Offset).UTC()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out
}

// CountdownItem is the live view of one owed report.
type CountdownItem struct {
	Kind           ReportKind `json:"tipo_reporte"`
	Name           string     `json:"nombre"`
	DueAt          time.Time  `json:"fecha_limite"`
	HoursRemaining float64    `json:"horas_restantes"`
	Expired        bool       `json:"vencido"`
	Submitted      bool       `json:"presentado"`
	SubmittedAt    *time.Time `json:"fecha_presentacion,omitempty"`
}

// Countdown evaluates the schedule at now. A report already submitted is never
// expired regardless of when it was filed. frozenAt, when non-nil, pins the
// clock to the incident closure time so closed incidents stop accumulating
// overdue hours.
func Countdown(sched []Deadline, submitted map[ReportKind]time.Time, now time.Time, frozenAt *time.Time) []CountdownItem {
	ref := now.UTC()
	if frozenAt != nil && frozenAt.Before(ref) {
		ref = frozenAt.UTC()
	}
	items := make([]CountdownItem, 0, len(sched))
	for _, d := range sched {
		item := CountdownItem{Kind: d.Kind, Name: d.Name, DueAt: d.DueAt}
		if at, ok := submitted[d.Kind]; ok {
			t := at.UTC()
			item.Submitted = true
			item.SubmittedAt = &t
			item.HoursRemaining = 0
			items = append(items, item)
			continue
		}
		remaining := d.DueAt.Sub(ref).Hours()
		if remaining <= 0 {
			item.Expired = true
			remaining = 0
		}
		item.HoursRemaining = remaining
		items = append(items, item)
	}
	return items
}

// NextDue returns the earliest pending deadline, or nil when everything owed
// has been submitted.
func NextDue(sched []Deadline, submitted map[ReportKind]time.Time) *Deadline {
	for i := range sched {
		if _, ok := submitted[sched[i].Kind]; !ok {
			d := sched[i]
			return &d
		}
	}
	return nil
}

// DueWithin lists pending deadlines that fall inside the warning window,
// sorted soonest first. Used by the notifier to raise expiry warnings.
func DueWithin(sched []Deadline, submitted map[ReportKind]time.Time, now time.Time, window time.Duration) []Deadline {
	var out []Deadline
	ref := now.UTC()
	for _, d := range sched {
		if _, ok := submitted[d.Kind]; ok {
			continue
		}
		if d.DueAt.After(ref) && d.DueAt.Sub(ref) <= window {
			out = append(out, d)
		}
	}
	return out
}
