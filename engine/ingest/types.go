package ingest

import (
	"context"
	"time"

	"github.com/WessleyAI/textbook-rag/engine/domain"
)

// Document names one source file and the collection it fills.
type Document struct {
	Collection string `json:"collection"`
	Source     string `json:"source"`
}

// Report summarises one ingestion run.
type Report struct {
	Collection string        `json:"collection"`
	Source     string        `json:"source,omitempty"`
	Sections   int           `json:"sections"`
	Written    int           `json:"written"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration"`
}

// Index is the write side of a collection.
type Index interface {
	Name() string
	Upsert(ctx context.Context, id, text string, meta map[string]string) error
}

// OutlineWriter records the section hierarchy of a collection.
type OutlineWriter interface {
	SaveOutline(ctx context.Context, collection string, sections []domain.Section) error
}

// extracted is the plain text of a document.
type extracted struct {
	Document
	Text string
}

// chunked is a document split into sections.
type chunked struct {
	Document
	Sections []domain.Section
}
