package docgen

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/config"
)

// Converter shells out to pandoc/soffice for the optional format
// conversions. Availability is probed once so handlers can report it.
type Converter struct {
	cfg              config.ConvertersConfig
	tempDir          string
	PandocAvailable  bool
	SofficeAvailable bool
}

func NewConverter(cfg config.ConvertersConfig) *Converter {
	c := &Converter{cfg: cfg, tempDir: cfg.TempDir}
	if c.tempDir == "" {
		c.tempDir = os.TempDir()
	}
	if !cfg.Enabled {
		return c
	}
	if _, err := exec.LookPath(cfg.PandocPath); err == nil {
		c.PandocAvailable = true
	}
	if _, err := exec.LookPath(cfg.SofficePath); err == nil {
		c.SofficeAvailable = true
	}
	return c
}

func (c *Converter) Enabled() bool {
	return c.cfg.Enabled
}

// MarkdownToDocx renders a filled markdown template to docx via pandoc.
func (c *Converter) MarkdownToDocx(ctx context.Context, content []byte) ([]byte, error) {
	if !c.cfg.Enabled || !c.PandocAvailable {
		return nil, errors.New("pandoc converter disabled or missing")
	}
	tmpIn, err := os.CreateTemp(c.tempDir, "agd-md-*.md")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmpIn.Name())
	if _, err := tmpIn.Write(content); err != nil {
		tmpIn.Close()
		return nil, err
	}
	tmpIn.Close()
	tmpOut := strings.TrimSuffix(tmpIn.Name(), ".md") + ".docx"
	defer os.Remove(tmpOut)
	if err := c.runCommand(ctx, c.cfg.PandocPath, "-f", "markdown", "-o", tmpOut, tmpIn.Name()); err != nil {
		return nil, err
	}
	return os.ReadFile(tmpOut)
}

// DocxToPDF converts a rendered report via headless LibreOffice.
func (c *Converter) DocxToPDF(ctx context.Context, content []byte) ([]byte, error) {
	if !c.cfg.Enabled || !c.SofficeAvailable {
		return nil, errors.New("soffice converter disabled or missing")
	}
	tmpIn, err := os.CreateTemp(c.tempDir, "agd-docx-*.docx")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmpIn.Name())
	if _, err := tmpIn.Write(content); err != nil {
		tmpIn.Close()
		return nil, err
	}
	tmpIn.Close()
	tmpOut := strings.TrimSuffix(tmpIn.Name(), ".docx") + ".pdf"
	args := []string{"--headless", "--convert-to", "pdf", "--outdir", filepath.Dir(tmpIn.Name()), tmpIn.Name()}
	if err := c.runCommand(ctx, c.cfg.SofficePath, args...); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(tmpOut)
	_ = os.Remove(tmpOut)
	return data, err
}

func (c *Converter) runCommand(ctx context.Context, bin string, args ...string) error {
	var cancel context.CancelFunc
	if c.cfg.TimeoutSec > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.cfg.TimeoutSec)*time.Second)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("converter timeout")
		}
		return fmt.Errorf("%s failed: %v: %s", filepath.Base(bin), err, string(out))
	}
	return nil
}
