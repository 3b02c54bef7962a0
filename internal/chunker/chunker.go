package chunker

import (
	"errors"
	"fmt"
	"unicode"
)

// ErrInvalidConfig indicates an unusable chunking configuration. It is fatal
// at startup rather than per-document.
var ErrInvalidConfig = errors.New("invalid chunking configuration")

// Config holds chunking parameters.
type Config struct {
	MaxChars     int // Maximum characters per chunk
	OverlapChars int // Characters shared between consecutive chunks
}

// DefaultConfig returns a sensible default configuration for prose documents.
func DefaultConfig() Config {
	return Config{
		MaxChars:     1500,
		OverlapChars: 200,
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.MaxChars <= 0 {
		return fmt.Errorf("%w: max chars must be positive, got %d", ErrInvalidConfig, c.MaxChars)
	}
	if c.OverlapChars < 0 {
		return fmt.Errorf("%w: overlap must be non-negative, got %d", ErrInvalidConfig, c.OverlapChars)
	}
	if c.OverlapChars >= c.MaxChars {
		return fmt.Errorf("%w: overlap (%d) must be smaller than max chunk size (%d)",
			ErrInvalidConfig, c.OverlapChars, c.MaxChars)
	}
	return nil
}

// Chunk is a bounded slice of a source text. Start and End are rune offsets
// into the extracted text; consecutive chunks overlap deliberately so the
// union of ranges always covers the source without losing characters.
type Chunk struct {
	Index int
	Text  string
	Start int
	End   int
}

// Split cuts text into overlapping windows of at most cfg.MaxChars runes,
// snapping window boundaries back to whitespace where possible so words are
// not cut mid-token. Text shorter than the window yields exactly one chunk.
func Split(text string, cfg Config) ([]Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}
	if len(runes) <= cfg.MaxChars {
		return []Chunk{{Index: 0, Text: text, Start: 0, End: len(runes)}}, nil
	}

	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := start + cfg.MaxChars
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = snapToWhitespace(runes, start, end)
		}

		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})

		if end == len(runes) {
			break
		}

		next := end - cfg.OverlapChars
		if next <= start {
			// Degenerate input (one enormous token); force forward progress.
			next = start + 1
		}
		start = next
	}

	return chunks, nil
}

// snapToWhitespace moves end back to the last whitespace boundary inside the
// window. If the window contains no whitespace past its midpoint, the hard
// cut stands; losing a word boundary beats emitting a half-empty chunk.
func snapToWhitespace(runes []rune, start, end int) int {
	min := start + (end-start)/2
	for i := end; i > min; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}
