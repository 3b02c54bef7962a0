package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MIME types accepted for upload.
const (
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeText = "text/plain"
)

var (
	// ErrUnsupportedFormat is returned for MIME types outside PDF/DOCX/plain text.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrExtractionFailed is returned when a file is corrupt or parses to
	// nothing usable. An empty result is never silently accepted.
	ErrExtractionFailed = errors.New("document extraction failed")
)

// Service converts uploaded file bytes into plain text. Extraction is a pure
// function over the input bytes; re-running it on the same bytes yields the
// same text.
type Service struct {
	pdf *pdfExtractor
}

// NewService creates an extractor using the system pdftotext binary for PDFs.
func NewService() *Service {
	return &Service{pdf: newPDFExtractor(execRunner{})}
}

// NewServiceWithRunner creates an extractor with a custom command runner,
// used by tests to avoid a hard pdftotext dependency.
func NewServiceWithRunner(runner CommandRunner) *Service {
	return &Service{pdf: newPDFExtractor(runner)}
}

// Extract converts file bytes of the given MIME type into plain text.
func (s *Service) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	mime := normalizeMIME(mimeType)

	var (
		text string
		err  error
	)
	switch mime {
	case MimeText:
		text, err = extractPlainText(data)
	case MimePDF:
		text, err = s.pdf.extract(ctx, data)
	case MimeDOCX:
		text, err = extractDOCX(data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, mimeType)
	}
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: no text content found", ErrExtractionFailed)
	}
	return text, nil
}

// extractPlainText validates and passes through plain text uploads.
func extractPlainText(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty file", ErrExtractionFailed)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: file is not valid UTF-8 text", ErrExtractionFailed)
	}
	return string(data), nil
}

// normalizeMIME strips parameters like "; charset=utf-8" and lowercases the
// media type.
func normalizeMIME(mimeType string) string {
	mime := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	return mime
}

// Supported reports whether the MIME type can be extracted.
func Supported(mimeType string) bool {
	switch normalizeMIME(mimeType) {
	case MimeText, MimePDF, MimeDOCX:
		return true
	}
	return false
}
