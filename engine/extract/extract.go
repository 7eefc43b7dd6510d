// Package extract turns source documents into page text. Leading pages
// (covers, front matter, tables of contents) can be skipped so they never
// reach the chunker.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Page is the text of one source page, numbered from 1.
type Page struct {
	Number int
	Text   string
}

// Extractor reads a source document and returns every page numbered above
// skip, in page order.
type Extractor interface {
	Extract(ctx context.Context, path string, skip int) ([]Page, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, path string, skip int) ([]Page, error)

func (f ExtractorFunc) Extract(ctx context.Context, path string, skip int) ([]Page, error) {
	return f(ctx, path, skip)
}

// Auto dispatches on file extension: .pdf goes to PDF, everything else is
// read as plain text.
type Auto struct {
	PDF  Extractor
	Text Extractor
}

// NewAuto returns an Auto extractor with the default PDF and text readers.
func NewAuto() *Auto {
	return &Auto{PDF: NewPDF(), Text: Text{}}
}

func (a *Auto) Extract(ctx context.Context, path string, skip int) ([]Page, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		if a.PDF == nil {
			return nil, fmt.Errorf("extract: no pdf extractor for %s", path)
		}
		return a.PDF.Extract(ctx, path, skip)
	default:
		if a.Text == nil {
			return nil, fmt.Errorf("extract: no text extractor for %s", path)
		}
		return a.Text.Extract(ctx, path, skip)
	}
}

// Join concatenates pages into one document, prefixing each page with a
// "--- PAGE n ---" marker line.
func Join(pages []Page) string {
	var b strings.Builder
	for _, p := range pages {
		fmt.Fprintf(&b, "\n--- PAGE %d ---\n", p.Number)
		b.WriteString(p.Text)
	}
	return b.String()
}

// Document extracts path with ex and returns the joined text.
func Document(ctx context.Context, ex Extractor, path string, skip int) (string, error) {
	pages, err := ex.Extract(ctx, path, skip)
	if err != nil {
		return "", err
	}
	return Join(pages), nil
}

func keepAfter(pages []Page, skip int) []Page {
	if skip <= 0 {
		return pages
	}
	out := pages[:0]
	for _, p := range pages {
		if p.Number > skip {
			out = append(out, p)
		}
	}
	return out
}
