package handlers

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestLogCategoryGroupsByActionPrefix(t *testing.T) {
	cases := []struct {
		action string
		want   string
	}{
		{"auth.login_success", "auth"},
		{"auth.lockout", "auth"},
		{"accounts.create", "cuentas"},
		{"roles.update", "cuentas"},
		{"session.kill", "cuentas"},
		{"empresas.crear", "empresas"},
		{"incidentes.registrar", "incidentes"},
		{"incidentes.exportar_semilla", "incidentes"},
		{"evidencias.subir", "evidencias"},
		{"informes.generar", "informes"},
		{"canales.probar", "notificaciones"},
		{"notify.deliver", "notificaciones"},
		{"db.migrate", "sistema"},
		{"", "sistema"},
	}
	for _, tc := range cases {
		if got := logCategory(tc.action); got != tc.want {
			t.Fatalf("logCategory(%q) = %q, want %q", tc.action, got, tc.want)
		}
	}
}

func TestParseLogFilterReadsSpanishParams(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/logs?categoria=incidentes&accion=incidentes.registrar&usuario=ana&q=INC&desde=2026-01-02&hasta=2026-01-31&limit=25", nil)
	f := parseLogFilter(req)
	if f.Categoria != "incidentes" {
		t.Fatalf("categoria = %q", f.Categoria)
	}
	if f.Action != "incidentes.registrar" {
		t.Fatalf("accion = %q", f.Action)
	}
	if f.User != "ana" {
		t.Fatalf("usuario = %q", f.User)
	}
	if f.Query != "inc" {
		t.Fatalf("q = %q", f.Query)
	}
	if f.Limit != 25 {
		t.Fatalf("limit = %d", f.Limit)
	}
	wantSince := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	if !f.Since.Equal(wantSince) {
		t.Fatalf("desde = %v, want %v", f.Since, wantSince)
	}
	if f.To == nil || !f.To.Equal(time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("hasta = %v", f.To)
	}
}

func TestParseLogFilterDefaultsAndCaps(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/logs", nil)
	f := parseLogFilter(req)
	if f.Limit <= 0 {
		t.Fatalf("expected default limit, got %d", f.Limit)
	}
	if f.Since.IsZero() {
		t.Fatalf("expected default desde window")
	}
	if time.Since(f.Since) > 31*24*time.Hour {
		t.Fatalf("default desde window too wide: %v", f.Since)
	}

	req = httptest.NewRequest("GET", "/api/logs?limit=999999", nil)
	f = parseLogFilter(req)
	if f.Limit > 5000 {
		t.Fatalf("limit not capped: %d", f.Limit)
	}
}

func TestParseDateTimeAcceptsCommonLayouts(t *testing.T) {
	cases := []string{
		"2026-03-15T10:30:00Z",
		"2026-03-15T10:30",
		"2026-03-15 10:30",
		"2026-03-15",
	}
	for _, raw := range cases {
		ts, err := parseDateTime(raw)
		if err != nil {
			t.Fatalf("parseDateTime(%q): %v", raw, err)
		}
		if ts.Year() != 2026 || ts.Month() != time.March || ts.Day() != 15 {
			t.Fatalf("parseDateTime(%q) = %v", raw, ts)
		}
	}
	if _, err := parseDateTime("15/03/2026"); err == nil {
		t.Fatalf("expected error for unsupported layout")
	}
}
