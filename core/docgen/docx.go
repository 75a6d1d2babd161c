package docgen

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// substitutable parts of the package: the body plus any header/footer.
func isWordTarget(name string) bool {
	if name == "word/document.xml" {
		return true
	}
	if !strings.HasSuffix(name, ".xml") {
		return false
	}
	return strings.HasPrefix(name, "word/header") || strings.HasPrefix(name, "word/footer")
}

// RenderDocx fills the markers of a docx template held in memory and
// returns the rewritten package.
func RenderDocx(template []byte, values map[string]string) ([]byte, *RenderResult, error) {
	zr, err := zip.NewReader(bytes.NewReader(template), int64(len(template)))
	if err != nil {
		return nil, nil, fmt.Errorf("docgen: plantilla docx invalida: %w", err)
	}
	res := &RenderResult{}
	var out bytes.Buffer
	zw := zip.NewWriter(&out)
	for _, entry := range zr.File {
		rc, err := entry.Open()
		if err != nil {
			zw.Close()
			return nil, nil, err
		}
		w, err := zw.Create(entry.Name)
		if err != nil {
			rc.Close()
			zw.Close()
			return nil, nil, err
		}
		if isWordTarget(entry.Name) {
			raw, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				zw.Close()
				return nil, nil, err
			}
			if _, err := w.Write(substituteXML(raw, values, res)); err != nil {
				zw.Close()
				return nil, nil, err
			}
			continue
		}
		if _, err := io.Copy(w, rc); err != nil {
			rc.Close()
			zw.Close()
			return nil, nil, err
		}
		rc.Close()
	}
	if err := zw.Close(); err != nil {
		return nil, nil, err
	}
	res.sortUnresolved()
	return out.Bytes(), res, nil
}

// RenderDocxFile reads the template, renders it and writes the result.
func RenderDocxFile(templatePath, outPath string, values map[string]string) (*RenderResult, error) {
	template, err := os.ReadFile(templatePath)
	if err != nil {
		return nil, fmt.Errorf("docgen: leer plantilla: %w", err)
	}
	rendered, res, err := RenderDocx(template, values)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return nil, err
	}
	if err := os.WriteFile(outPath, rendered, 0o640); err != nil {
		return nil, err
	}
	return res, nil
}
