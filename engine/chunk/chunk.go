// Package chunk splits document text into numbered sections. Boundaries come
// from a pluggable BoundaryDetector; a section's body runs from the end of its
// heading to the start of the next one.
package chunk

import (
	"strings"
	"unicode/utf8"

	"github.com/WessleyAI/textbook-rag/engine/domain"
)

// DefaultMinContent is the body length (in characters) a section must exceed
// to be kept. Shorter bodies are almost always page footers or TOC lines.
const DefaultMinContent = 50

// Chunker turns raw text into sections.
type Chunker struct {
	detector   BoundaryDetector
	minContent int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithDetector replaces the heading detector.
func WithDetector(d BoundaryDetector) Option {
	return func(c *Chunker) {
		if d != nil {
			c.detector = d
		}
	}
}

// WithMinContent sets the minimum-content threshold.
func WithMinContent(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.minContent = n
		}
	}
}

// New creates a Chunker using numbered headings and DefaultMinContent.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		detector:   NumberedHeadings(),
		minContent: DefaultMinContent,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// MinContent returns the configured threshold.
func (c *Chunker) MinContent() int { return c.minContent }

// Chunk splits text into sections in reading order. Text with no headings
// yields nil. When a label repeats, the later section replaces the earlier
// one so ids stay unique.
func (c *Chunker) Chunk(text string) []domain.Section {
	headings := c.detector.Detect(text)
	if len(headings) == 0 {
		return nil
	}

	sections := make([]domain.Section, 0, len(headings))
	for i, h := range headings {
		end := len(text)
		if i+1 < len(headings) {
			end = headings[i+1].Start
		}
		if end < h.End {
			continue
		}
		body := strings.TrimSpace(text[h.End:end])
		if utf8.RuneCountInString(body) <= c.minContent {
			continue
		}
		sections = append(sections, domain.Section{
			ID:    domain.SectionID(h.Label),
			Label: h.Label,
			Title: h.Label + " " + strings.TrimSpace(h.Text),
			Text:  body,
		})
	}
	return dedupe(sections)
}

// dedupe keeps the last section for each id, preserving reading order.
func dedupe(sections []domain.Section) []domain.Section {
	last := make(map[string]int, len(sections))
	for i, s := range sections {
		last[s.ID] = i
	}
	if len(last) == len(sections) {
		return sections
	}
	out := sections[:0]
	for i, s := range sections {
		if last[s.ID] == i {
			out = append(out, s)
		}
	}
	return out
}
