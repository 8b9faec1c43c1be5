package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/notally/notally/internal/errors"
	"github.com/notally/notally/internal/note"
)

// ExportDirName is the scratch directory for rendered files.
const ExportDirName = "exported"

// Exporter writes rendered notes into a scratch directory.
type Exporter struct {
	Dir      string
	Settings Settings
}

// NewExporter returns an Exporter writing to dataDir/exported.
func NewExporter(dataDir string, s Settings) *Exporter {
	return &Exporter{Dir: filepath.Join(dataDir, ExportDirName), Settings: s}
}

// Prepare creates the scratch directory and empties it.
func (e *Exporter) Prepare() error {
	if err := os.MkdirAll(e.Dir, 0700); err != nil {
		return errors.NewInternal(fmt.Errorf("create export directory: %w", err))
	}
	entries, err := os.ReadDir(e.Dir)
	if err != nil {
		return errors.NewInternal(err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(e.Dir, entry.Name())); err != nil {
			return errors.NewInternal(fmt.Errorf("clear export directory: %w", err))
		}
	}
	return nil
}

func (e *Exporter) path(n *note.Note, ext string) string {
	return filepath.Join(e.Dir, FileName(n)+ext)
}

// WriteHTML renders n as HTML and returns the file path.
func (e *Exporter) WriteHTML(n *note.Note) (string, error) {
	if err := e.Prepare(); err != nil {
		return "", err
	}
	doc, err := HTML(n, e.Settings)
	if err != nil {
		return "", errors.NewInternal(err)
	}
	dest := e.path(n, ".html")
	if err := os.WriteFile(dest, []byte(doc), 0600); err != nil {
		return "", errors.NewInternal(err)
	}
	return dest, nil
}

// WritePlainText renders n as text and returns the file path.
func (e *Exporter) WritePlainText(n *note.Note) (string, error) {
	if err := e.Prepare(); err != nil {
		return "", err
	}
	dest := e.path(n, ".txt")
	if err := os.WriteFile(dest, []byte(PlainText(n, e.Settings)), 0600); err != nil {
		return "", errors.NewInternal(err)
	}
	return dest, nil
}

// WritePDF renders n through gen and returns the file path.
func (e *Exporter) WritePDF(ctx context.Context, n *note.Note, gen PDFGenerator) (string, error) {
	if gen == nil {
		return "", errors.NewInvalidRequest("no PDF generator configured (set pdf_command)")
	}
	if err := e.Prepare(); err != nil {
		return "", err
	}
	doc, err := HTML(n, e.Settings)
	if err != nil {
		return "", errors.NewInternal(err)
	}
	dest := e.path(n, ".pdf")
	if err := gen.Generate(ctx, doc, dest); err != nil {
		return "", errors.Wrap(err)
	}
	return dest, nil
}

// PDFGenerator turns an HTML document into a PDF at dest.
type PDFGenerator interface {
	Generate(ctx context.Context, html string, dest string) error
}

// CommandPDF runs an external converter. Arguments may contain the
// placeholders {input} (an HTML file) and {output} (the PDF path).
type CommandPDF struct {
	Command []string
	Log     zerolog.Logger
}

// NewCommandPDF returns a generator for command, or nil when command is empty.
func NewCommandPDF(command []string, log zerolog.Logger) PDFGenerator {
	if len(command) == 0 {
		return nil
	}
	return &CommandPDF{Command: command, Log: log}
}

// Generate implements PDFGenerator.
func (c *CommandPDF) Generate(ctx context.Context, doc string, dest string) error {
	if len(c.Command) == 0 {
		return errors.NewInvalidRequest("pdf command is empty")
	}

	input := strings.TrimSuffix(dest, filepath.Ext(dest)) + ".src.html"
	if err := os.WriteFile(input, []byte(doc), 0600); err != nil {
		return errors.NewInternal(err)
	}
	defer os.Remove(input)

	args := make([]string, len(c.Command))
	for i, a := range c.Command {
		a = strings.ReplaceAll(a, "{input}", input)
		args[i] = strings.ReplaceAll(a, "{output}", dest)
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return errors.NewCancelled("pdf generation")
		}
		c.Log.Warn().Err(err).Str("command", args[0]).Str("output", out.String()).Msg("pdf command failed")
		return errors.NewInternal(fmt.Errorf("pdf command %s: %w", args[0], err))
	}
	if _, err := os.Stat(dest); err != nil {
		return errors.NewInternal(fmt.Errorf("pdf command produced no output: %w", err))
	}
	return nil
}

// CopyFile copies src over dst. An existing dst is truncated first.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if os.IsNotExist(err) {
		return errors.NewFileNotFound(src)
	}
	if err != nil {
		return errors.NewInternal(err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.NewInternal(err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.NewInternal(err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return errors.NewInternal(err)
	}
	if err := out.Close(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}
