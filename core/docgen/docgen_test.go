package docgen

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestRenderTextSubstitution(t *testing.T) {
	content := "Informe {{TIPO}} de {{EMPRESA_NOMBRE}} ({{DESCONOCIDO}})"
	out, res := RenderText(content, map[string]string{
		"TIPO":           "preliminar",
		"EMPRESA_NOMBRE": "Acme SpA",
	})
	if out != "Informe preliminar de Acme SpA ()" {
		t.Fatalf("out = %q", out)
	}
	if res.Replaced != 2 {
		t.Fatalf("replaced = %d", res.Replaced)
	}
	if len(res.Unresolved) != 1 || res.Unresolved[0] != "DESCONOCIDO" {
		t.Fatalf("unresolved = %v", res.Unresolved)
	}
}

func TestSubstituteXMLSingleRun(t *testing.T) {
	xml := []byte(`<w:p><w:r><w:t>Hola {{EMPRESA_NOMBRE}}, saludos</w:t></w:r></w:p>`)
	res := &RenderResult{}
	out := substituteXML(xml, map[string]string{"EMPRESA_NOMBRE": "Acme SpA"}, res)
	want := `<w:p><w:r><w:t>Hola Acme SpA, saludos</w:t></w:r></w:p>`
	if string(out) != want {
		t.Fatalf("out = %s", out)
	}
	if res.Replaced != 1 || len(res.Unresolved) != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestSubstituteXMLSplitRuns(t *testing.T) {
	// Word splits the marker across three runs.
	xml := []byte(`<w:p><w:r><w:t>{{EMP</w:t></w:r><w:r><w:t>RESA_NOM</w:t></w:r><w:r><w:t xml:space="preserve">BRE}} Ltda</w:t></w:r></w:p>`)
	res := &RenderResult{}
	out := substituteXML(xml, map[string]string{"EMPRESA_NOMBRE": "Beta"}, res)
	if res.Replaced != 1 {
		t.Fatalf("replaced = %d", res.Replaced)
	}
	s := string(out)
	if !strings.Contains(s, `<w:t>Beta</w:t>`) {
		t.Fatalf("value not placed in first run: %s", s)
	}
	if strings.Contains(s, "RESA_NOM") || strings.Contains(s, "BRE}}") {
		t.Fatalf("marker fragments survive: %s", s)
	}
	if !strings.Contains(s, `>  Ltda</w:t>`) && !strings.Contains(s, `> Ltda</w:t>`) {
		t.Fatalf("trailing text lost: %s", s)
	}
}

func TestSubstituteXMLEscapesValues(t *testing.T) {
	xml := []byte(`<w:t>{{TITULO_INCIDENTE}}</w:t>`)
	res := &RenderResult{}
	out := substituteXML(xml, map[string]string{"TITULO_INCIDENTE": `Falla <critica> & "total"`}, res)
	want := `<w:t>Falla &lt;critica&gt; &amp; &quot;total&quot;</w:t>`
	if string(out) != want {
		t.Fatalf("out = %s", out)
	}
}

func TestSubstituteXMLIgnoresSimilarTags(t *testing.T) {
	xml := []byte(`<w:tbl><w:tr><w:tc><w:tab/><w:t>{{X}}</w:t></w:tc></w:tr></w:tbl>`)
	res := &RenderResult{}
	out := substituteXML(xml, map[string]string{"X": "ok"}, res)
	if !strings.Contains(string(out), `<w:t>ok</w:t>`) {
		t.Fatalf("out = %s", out)
	}
	if !strings.Contains(string(out), `<w:tab/>`) {
		t.Fatalf("tab element damaged: %s", out)
	}
}

func buildTestDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := map[string]string{
		"[Content_Types].xml": `<Types/>`,
		"word/document.xml":   documentXML,
		"word/header1.xml":    `<w:hdr><w:t>{{EMPRESA_NOMBRE}}</w:t></w:hdr>`,
		"word/styles.xml":     `<w:styles><w:t>{{NO_TOCAR}}</w:t></w:styles>`,
	}
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := io.WriteString(w, content); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestRenderDocx(t *testing.T) {
	template := buildTestDocx(t, `<w:body><w:t>Incidente {{ID_INCIDENTE}}</w:t></w:body>`)
	rendered, res, err := RenderDocx(template, map[string]string{
		"ID_INCIDENTE":   "INC-2026-00042",
		"EMPRESA_NOMBRE": "Acme SpA",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if res.Replaced != 2 {
		t.Fatalf("replaced = %d", res.Replaced)
	}
	zr, err := zip.NewReader(bytes.NewReader(rendered), int64(len(rendered)))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	read := func(name string) string {
		for _, f := range zr.File {
			if f.Name != name {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				t.Fatalf("open %s: %v", name, err)
			}
			defer rc.Close()
			raw, _ := io.ReadAll(rc)
			return string(raw)
		}
		t.Fatalf("entry %s missing", name)
		return ""
	}
	if got := read("word/document.xml"); !strings.Contains(got, "INC-2026-00042") {
		t.Fatalf("document.xml = %s", got)
	}
	if got := read("word/header1.xml"); !strings.Contains(got, "Acme SpA") {
		t.Fatalf("header1.xml = %s", got)
	}
	// styles.xml is not a substitution target
	if got := read("word/styles.xml"); !strings.Contains(got, "{{NO_TOCAR}}") {
		t.Fatalf("styles.xml touched: %s", got)
	}
}

func TestRenderDocxRejectsGarbage(t *testing.T) {
	if _, _, err := RenderDocx([]byte("not a zip"), nil); err == nil {
		t.Fatalf("expected error for invalid template")
	}
}
