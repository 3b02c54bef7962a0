package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
)

// CommandRunner executes an external command and returns its stdout. It
// exists so tests can stub out the pdftotext dependency.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w (%s)", name, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}

// pdfExtractor converts PDF bytes to text via poppler's pdftotext.
type pdfExtractor struct {
	runner CommandRunner
}

func newPDFExtractor(runner CommandRunner) *pdfExtractor {
	return &pdfExtractor{runner: runner}
}

// extract writes the PDF to a temp file and runs pdftotext with layout
// preservation disabled, reading the converted text from stdout.
func (p *pdfExtractor) extract(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty file", ErrExtractionFailed)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return "", fmt.Errorf("%w: missing PDF header", ErrExtractionFailed)
	}

	tmp, err := os.CreateTemp("", "panelmind-*.pdf")
	if err != nil {
		return "", fmt.Errorf("%w: cannot stage PDF: %v", ErrExtractionFailed, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: cannot stage PDF: %v", ErrExtractionFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: cannot stage PDF: %v", ErrExtractionFailed, err)
	}

	out, err := p.runner.Run(ctx, "pdftotext", "-enc", "UTF-8", tmp.Name(), "-")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	return string(out), nil
}

// InstallInstructions describes how to install the pdftotext dependency.
func InstallInstructions() string {
	return "pdftotext is required for PDF uploads: `brew install poppler` (macOS) or `apt install poppler-utils` (Debian/Ubuntu)"
}
