package semilla

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

func TestEstadoLifecycle(t *testing.T) {
	doc := NewDocument(testNow)
	if doc.Metadata.EstadoTemporal != EstadoBorrador {
		t.Fatalf("estado inicial = %q", doc.Metadata.EstadoTemporal)
	}
	if err := doc.MarkEstado(EstadoEnEdicion, testNow); err == nil {
		t.Fatalf("borrador -> en_edicion should be rejected")
	}
	if err := doc.MarkEstado(EstadoSemillaOriginal, testNow); err != nil {
		t.Fatalf("borrador -> semilla_original: %v", err)
	}
	if err := doc.MarkEstado(EstadoSemillaBase, testNow); err != nil {
		t.Fatalf("semilla_original -> semilla_base: %v", err)
	}
	if err := doc.MarkEstado(EstadoEnEdicion, testNow); err != nil {
		t.Fatalf("semilla_base -> en_edicion: %v", err)
	}
	if err := doc.MarkEstado(EstadoSemillaBase, testNow); err != nil {
		t.Fatalf("en_edicion -> semilla_base (save): %v", err)
	}
	var transErr *TransitionError
	if err := doc.MarkEstado(EstadoBorrador, testNow); !errors.As(err, &transErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
}

func TestAddAndRemoveTaxonomy(t *testing.T) {
	doc := NewDocument(testNow)
	first, err := doc.AddTaxonomy("ANCI-001", "afecta disponibilidad", "caida total", testNow)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if first.NumeroOrden != 1 || first.Estado != TaxonomyActiva {
		t.Fatalf("first entry = %+v", first)
	}
	if first.IDUnico == "" {
		t.Fatalf("id_unico not assigned")
	}
	if _, err := doc.AddTaxonomy("ANCI-001", "", "", testNow); !errors.Is(err, ErrTaxonomyExists) {
		t.Fatalf("duplicate add: %v", err)
	}
	second, err := doc.AddTaxonomy("ANCI-002", "", "", testNow)
	if err != nil {
		t.Fatalf("add second: %v", err)
	}
	if second.NumeroOrden != 2 {
		t.Fatalf("second numero_orden = %d", second.NumeroOrden)
	}

	if err := doc.RemoveTaxonomy(first.IDUnico, testNow); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := doc.RemoveTaxonomy(first.IDUnico, testNow); !errors.Is(err, ErrTaxonomyNotFound) {
		t.Fatalf("remove twice: %v", err)
	}
	if got := len(doc.ActiveTaxonomies()); got != 1 {
		t.Fatalf("active after remove = %d", got)
	}

	// numero_orden keeps growing: re-selecting never reuses 1.
	third, err := doc.AddTaxonomy("ANCI-001", "", "", testNow)
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if third.NumeroOrden != 3 {
		t.Fatalf("re-added numero_orden = %d", third.NumeroOrden)
	}
	if got := len(doc.Taxonomias.Taxonomias.HistorialCambios); got != 4 {
		t.Fatalf("historial entries = %d", got)
	}
}

func TestSectionEvidenceNumbering(t *testing.T) {
	doc := NewDocument(testNow)
	cases := []struct {
		seccion string
		numero  string
	}{
		{"2", "2.5.1"},
		{"2", "2.5.2"},
		{"3", "3.4.1"},
		{"5", "5.2.1"},
		{"6", "6.4.1"},
	}
	for _, tc := range cases {
		prefix, ok := EvidenceGroup(tc.seccion)
		if !ok {
			t.Fatalf("seccion %s sin grupo de evidencias", tc.seccion)
		}
		if !strings.HasPrefix(tc.numero, prefix+".") {
			t.Fatalf("numero %s fuera del grupo %s", tc.numero, prefix)
		}
		if err := doc.PutSectionEvidence(tc.seccion, tc.numero, EvidenceFile{Nombre: "a.pdf", Sha256: "f00"}, testNow); err != nil {
			t.Fatalf("seccion %s: %v", tc.seccion, err)
		}
	}
	if _, ok := EvidenceGroup("7"); ok {
		t.Fatal("la seccion 7 no admite evidencias")
	}
	if err := doc.PutSectionEvidence("7", "7.1.1", EvidenceFile{}, testNow); !errors.Is(err, ErrSectionEvidence) {
		t.Fatalf("seccion 7: %v", err)
	}
	if doc.Identificacion.Evidencias.Contador != 2 {
		t.Fatalf("contador seccion 2 = %d", doc.Identificacion.Evidencias.Contador)
	}
	if doc.Identificacion.Evidencias.Items[0].Estado != "verificado" {
		t.Fatalf("estado with hash = %q", doc.Identificacion.Evidencias.Items[0].Estado)
	}
}

func TestTaxonomyEvidenceNumbering(t *testing.T) {
	doc := NewDocument(testNow)
	entry, err := doc.AddTaxonomy("ANCI-010", "", "", testNow)
	if err != nil {
		t.Fatalf("add taxonomy: %v", err)
	}
	if err := doc.PutTaxonomyEvidence(entry.IDUnico, "4.4.1.1", EvidenceFile{Nombre: "pcap.zip"}, testNow); err != nil {
		t.Fatalf("put evidence: %v", err)
	}
	if err := doc.PutTaxonomyEvidence(entry.IDUnico, "4.4.1.2", EvidenceFile{Nombre: "log.txt"}, testNow); err != nil {
		t.Fatalf("second put: %v", err)
	}
	if got := doc.FindTaxonomy(entry.IDUnico).Evidencias.Contador; got != 2 {
		t.Fatalf("contador tras dos archivos = %d", got)
	}
	if err := doc.PutTaxonomyEvidence("no-such-uuid", "4.4.9.1", EvidenceFile{}, testNow); !errors.Is(err, ErrTaxonomyNotFound) {
		t.Fatalf("unknown uuid: %v", err)
	}
	if got := doc.FindTaxonomy(entry.IDUnico).Version; got != 3 {
		t.Fatalf("entry version after two uploads = %d", got)
	}
}

func TestSealAndVerify(t *testing.T) {
	doc := NewDocument(testNow)
	doc.Identificacion.Titulo = "Ransomware en planta"
	hash, err := doc.Seal(testNow)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if len(hash) != 64 || doc.Metadata.HashIntegridad != hash {
		t.Fatalf("hash = %q", hash)
	}
	ok, err := doc.VerifyIntegrity()
	if err != nil || !ok {
		t.Fatalf("verify sealed = %v, %v", ok, err)
	}

	doc.Identificacion.Titulo = "Otro titulo"
	ok, err = doc.VerifyIntegrity()
	if err != nil {
		t.Fatalf("verify tampered: %v", err)
	}
	if ok {
		t.Fatalf("tampered document verified")
	}
	if _, err := doc.Seal(testNow); err != nil {
		t.Fatalf("reseal: %v", err)
	}
	if ok, _ := doc.VerifyIntegrity(); !ok {
		t.Fatalf("resealed document failed verify")
	}
}

func TestSealRoundTripThroughStorage(t *testing.T) {
	doc := NewDocument(testNow)
	doc.Identificacion.Titulo = "Fuga de datos"
	doc.Informante.NombreInformante = "Maria Perez"
	if _, err := doc.AddTaxonomy("ANCI-003", "", "", testNow); err != nil {
		t.Fatalf("add taxonomy: %v", err)
	}
	if _, err := doc.Seal(testNow); err != nil {
		t.Fatalf("seal: %v", err)
	}
	raw, err := doc.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	loaded, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ok, err := loaded.VerifyIntegrity()
	if err != nil || !ok {
		t.Fatalf("verify after round trip = %v, %v", ok, err)
	}
}

func TestParseRejectsUnknownFormat(t *testing.T) {
	raw := []byte(`{"metadata":{"version_formato":"1.0"}}`)
	if _, err := Parse(raw); !errors.Is(err, ErrFormatVersion) {
		t.Fatalf("parse old format: %v", err)
	}
}

func TestValidateANCI(t *testing.T) {
	doc := NewDocument(testNow)
	faltantes := doc.ValidateANCI()
	if len(faltantes) == 0 {
		t.Fatalf("empty document should miss fields")
	}
	joined := strings.Join(faltantes, "; ")
	for _, want := range []string{"razon social", "taxonomia", "medidas de contencion"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing fields %q lack %q", joined, want)
		}
	}

	doc.Informante.Empresa = Empresa{RazonSocial: "Acme SpA", RUT: "76.123.456-0", TipoEntidad: "OIV", SectorEsencial: "Energía"}
	doc.Informante.ContactoEmergencia = ContactoEmergencia{
		NombreReportante: "Juan Soto", CargoReportante: "CISO",
		Telefono247: "+56911112222", EmailOficialSeguridad: "soc@acme.cl",
	}
	doc.Identificacion.Descripcion = "Cifrado de servidores"
	doc.Identificacion.SistemasAfectados = []string{"ERP"}
	doc.Identificacion.AlcanceGeografico = "Región Metropolitana"
	doc.Identificacion.DescripcionEstadoActual = "Contenido parcialmente"
	doc.Respuesta.MedidasContencion = "Aislamiento de VLAN"
	if _, err := doc.AddTaxonomy("ANCI-001", "", "", testNow); err != nil {
		t.Fatalf("add taxonomy: %v", err)
	}
	if faltantes := doc.ValidateANCI(); len(faltantes) != 0 {
		t.Fatalf("still missing: %v", faltantes)
	}
}

func TestSummaryCounts(t *testing.T) {
	doc := NewDocument(testNow)
	entry, _ := doc.AddTaxonomy("ANCI-001", "", "", testNow)
	doc.PutTaxonomyEvidence(entry.IDUnico, "4.4.1.1", EvidenceFile{Nombre: "a"}, testNow)
	doc.PutSectionEvidence("2", "2.5.1", EvidenceFile{Nombre: "b"}, testNow)
	doc.PutSectionEvidence("5", "5.2.1", EvidenceFile{Nombre: "c"}, testNow)

	res := doc.Summary()
	if res.TotalTaxonomias != 1 {
		t.Fatalf("taxonomias = %d", res.TotalTaxonomias)
	}
	if res.TotalEvidencias != 3 {
		t.Fatalf("evidencias = %d", res.TotalEvidencias)
	}
	if res.EvidenciasSeccion["2"] != 1 || res.EvidenciasSeccion["5"] != 1 {
		t.Fatalf("por seccion = %v", res.EvidenciasSeccion)
	}
	if len(res.Taxonomias) != 1 || res.Taxonomias[0].Evidencias != 1 {
		t.Fatalf("taxonomia counts = %+v", res.Taxonomias)
	}
}
