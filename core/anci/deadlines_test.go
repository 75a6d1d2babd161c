package anci

import (
	"testing"
	"time"
)

func TestScheduleOIVEssentialTightensPreliminar(t *testing.T) {
	detected := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	sched := Schedule(CompanyOIV, true, detected)
	byKind := map[ReportKind]Deadline{}
	for _, d := range sched {
		byKind[d.Kind] = d
	}
	if got := byKind[ReportInformePreliminar].DueAt; !got.Equal(detected.Add(24 * time.Hour)) {
		t.Fatalf("preliminar due %v, want detection+24h", got)
	}
	if got := byKind[ReportAlertaTemprana].DueAt; !got.Equal(detected.Add(3 * time.Hour)) {
		t.Fatalf("alerta temprana due %v, want detection+3h", got)
	}
	if _, ok := byKind[ReportPlanAccion]; !ok {
		t.Fatalf("OIV schedule must include plan de acción")
	}
}

func TestSchedulePSEExcludesPlanAccion(t *testing.T) {
	detected := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	sched := Schedule(CompanyPSE, true, detected)
	for _, d := range sched {
		if d.Kind == ReportPlanAccion {
			t.Fatalf("PSE schedule must not include plan de acción")
		}
		if d.Kind == ReportInformePreliminar && !d.DueAt.Equal(detected.Add(72*time.Hour)) {
			t.Fatalf("PSE preliminar due %v, want detection+72h even for essential services", d.DueAt)
		}
	}
}

func TestScheduleAmbasFollowsOIV(t *testing.T) {
	detected := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	sched := Schedule(CompanyAmbas, true, detected)
	found := false
	for _, d := range sched {
		if d.Kind == ReportPlanAccion {
			found = true
		}
		if d.Kind == ReportInformePreliminar && !d.DueAt.Equal(detected.Add(24*time.Hour)) {
			t.Fatalf("AMBAS essential preliminar due %v, want detection+24h", d.DueAt)
		}
	}
	if !found {
		t.Fatalf("AMBAS schedule must include plan de acción")
	}
}

func TestScheduleSortedByDueTime(t *testing.T) {
	sched := Schedule(CompanyOIV, false, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	for i := 1; i < len(sched); i++ {
		if sched[i].DueAt.Before(sched[i-1].DueAt) {
			t.Fatalf("schedule out of order at %d: %v before %v", i, sched[i].DueAt, sched[i-1].DueAt)
		}
	}
	if sched[0].Kind != ReportAlertaTemprana {
		t.Fatalf("first deadline %s, want alerta temprana", sched[0].Kind)
	}
}

func TestCountdownExpiryAndClamp(t *testing.T) {
	detected := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	sched := Schedule(CompanyPSE, false, detected)
	now := detected.Add(10 * time.Hour)
	items := Countdown(sched, nil, now, nil)
	for _, item := range items {
		switch item.Kind {
		case ReportAlertaTemprana:
			if !item.Expired {
				t.Fatalf("alerta temprana should be expired 10h after detection")
			}
			if item.HoursRemaining != 0 {
				t.Fatalf("expired item must clamp remaining to 0, got %v", item.HoursRemaining)
			}
		case ReportInformePreliminar:
			if item.Expired {
				t.Fatalf("preliminar not yet due")
			}
			if item.HoursRemaining < 61.9 || item.HoursRemaining > 62.1 {
				t.Fatalf("preliminar remaining %v, want ~62h", item.HoursRemaining)
			}
		}
	}
}

func TestCountdownSubmittedNeverExpires(t *testing.T) {
	detected := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	sched := Schedule(CompanyOIV, true, detected)
	filedAt := detected.Add(50 * time.Hour)
	submitted := map[ReportKind]time.Time{ReportAlertaTemprana: filedAt}
	items := Countdown(sched, submitted, detected.Add(100*time.Hour), nil)
	for _, item := range items {
		if item.Kind != ReportAlertaTemprana {
			continue
		}
		if item.Expired {
			t.Fatalf("submitted report must never be expired")
		}
		if !item.Submitted || item.SubmittedAt == nil || !item.SubmittedAt.Equal(filedAt) {
			t.Fatalf("submitted metadata missing: %+v", item)
		}
	}
}

func TestCountdownFrozenAtClosure(t *testing.T) {
	detected := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	sched := Schedule(CompanyPSE, false, detected)
	closedAt := detected.Add(time.Hour)
	items := Countdown(sched, nil, detected.Add(500*time.Hour), &closedAt)
	for _, item := range items {
		if item.Kind == ReportAlertaTemprana && item.Expired {
			t.Fatalf("closure froze the clock before the 3h mark, item must not expire")
		}
	}
}

func TestNextDueSkipsSubmitted(t *testing.T) {
	detected := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	sched := Schedule(CompanyPSE, false, detected)
	submitted := map[ReportKind]time.Time{ReportAlertaTemprana: detected.Add(time.Hour)}
	next := NextDue(sched, submitted)
	if next == nil {
		t.Fatalf("expected a pending deadline")
	}
	if next.Kind == ReportAlertaTemprana {
		t.Fatalf("next due must skip submitted reports")
	}
}

func TestDueWithinWindow(t *testing.T) {
	detected := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	sched := Schedule(CompanyPSE, false, detected)
	now := detected.Add(2 * time.Hour)
	hits := DueWithin(sched, nil, now, 90*time.Minute)
	if len(hits) != 1 || hits[0].Kind != ReportAlertaTemprana {
		t.Fatalf("expected only alerta temprana inside the window, got %+v", hits)
	}
}

func TestParseCompanyType(t *testing.T) {
	if ct, err := ParseCompanyType(" oiv "); err != nil || ct != CompanyOIV {
		t.Fatalf("parse oiv: %v %v", ct, err)
	}
	if _, err := ParseCompanyType("banco"); err == nil {
		t.Fatalf("expected error for unknown company type")
	}
	if !CompanyAmbas.ReportsAsOIV() {
		t.Fatalf("AMBAS must report as OIV")
	}
	if CompanyPSE.ReportsAsOIV() {
		t.Fatalf("PSE must not report as OIV")
	}
}

func TestParseReportKind(t *testing.T) {
	k, err := ParseReportKind("Alerta_Temprana")
	if err != nil || k != ReportAlertaTemprana {
		t.Fatalf("parse: %v %v", k, err)
	}
	if k.DisplayName() != "Alerta Temprana" {
		t.Fatalf("display name %q", k.DisplayName())
	}
	if _, err := ParseReportKind("resumen"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
