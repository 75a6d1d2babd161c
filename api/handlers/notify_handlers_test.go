package handlers

import (
	"strings"
	"testing"
)

func TestValidateChannelNormalizes(t *testing.T) {
	p := &channelPayload{
		Nombre:  "  SOC Principal  ",
		Tipo:    "",
		URL:     " https://hooks.example.cl/anci ",
		Eventos: []string{" Plazo_Por_Vencer ", "", "incidente_registrado"},
	}
	if err := validateChannel(p); err != nil {
		t.Fatalf("validateChannel: %v", err)
	}
	if p.Nombre != "SOC Principal" {
		t.Fatalf("nombre = %q", p.Nombre)
	}
	if p.Tipo != "webhook" {
		t.Fatalf("tipo = %q, want webhook default", p.Tipo)
	}
	if p.URL != "https://hooks.example.cl/anci" {
		t.Fatalf("url = %q", p.URL)
	}
	if len(p.Eventos) != 2 || p.Eventos[0] != "plazo_por_vencer" || p.Eventos[1] != "incidente_registrado" {
		t.Fatalf("eventos = %v", p.Eventos)
	}
}

func TestValidateChannelKeepsEmptyEventListAsSubscribeAll(t *testing.T) {
	p := &channelPayload{Nombre: "Todos", URL: "http://interno:9000/hook"}
	if err := validateChannel(p); err != nil {
		t.Fatalf("validateChannel: %v", err)
	}
	if len(p.Eventos) != 0 {
		t.Fatalf("expected empty eventos, got %v", p.Eventos)
	}
}

func TestValidateChannelRejectsBadInput(t *testing.T) {
	cases := []struct {
		name    string
		payload channelPayload
		wantErr string
	}{
		{"sin nombre", channelPayload{URL: "https://x.cl/h"}, "nombre requerido"},
		{"tipo desconocido", channelPayload{Nombre: "a", Tipo: "correo", URL: "https://x.cl/h"}, "tipo de canal no soportado"},
		{"url sin esquema", channelPayload{Nombre: "a", URL: "x.cl/h"}, "url inválida"},
		{"esquema raro", channelPayload{Nombre: "a", URL: "ftp://x.cl/h"}, "url inválida"},
		{"url vacía", channelPayload{Nombre: "a"}, "url inválida"},
		{"evento desconocido", channelPayload{Nombre: "a", URL: "https://x.cl/h", Eventos: []string{"terremoto"}}, "evento desconocido"},
	}
	for _, tc := range cases {
		p := tc.payload
		err := validateChannel(&p)
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.wantErr) {
			t.Fatalf("%s: error %q does not contain %q", tc.name, err.Error(), tc.wantErr)
		}
	}
}
