// Package ingest drives documents through extraction, chunking and the
// per-collection index. Writes are upserts keyed by section id, so
// re-ingesting a document replaces its sections instead of duplicating them.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/textbook-rag/engine/chunk"
	"github.com/WessleyAI/textbook-rag/engine/domain"
	"github.com/WessleyAI/textbook-rag/engine/extract"
	"github.com/WessleyAI/textbook-rag/pkg/fn"
)

// Deps holds the external dependencies for the ingestion pipeline. Open
// returns the index for a collection name; Outline and Observe may be nil.
// Observe sees every IngestDocument outcome.
type Deps struct {
	Chunker   *chunk.Chunker
	Extractor extract.Extractor
	Open      func(name string) Index
	Outline   OutlineWriter
	Observe   func(Report, error)
	SkipPages int
	Logger    *slog.Logger
}

// Pipeline ingests documents into collections.
type Pipeline struct {
	deps Deps
	log  *slog.Logger
}

// NewPipeline validates deps and fills defaults.
func NewPipeline(deps Deps) (*Pipeline, error) {
	if deps.Open == nil {
		return nil, errors.New("ingest: Open is required")
	}
	if deps.Chunker == nil {
		deps.Chunker = chunk.New()
	}
	if deps.Extractor == nil {
		deps.Extractor = extract.NewAuto()
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{deps: deps, log: log.With("component", "ingest")}, nil
}

// --- Pipeline Stages ---

// newExtract creates a stage that reads a document's text, dropping the
// first skip pages.
func newExtract(ex extract.Extractor, skip int) fn.Stage[Document, extracted] {
	return func(ctx context.Context, doc Document) fn.Result[extracted] {
		if doc.Collection == "" {
			return fn.Err[extracted](errCollectionRequired())
		}
		text, err := extract.Document(ctx, ex, doc.Source, skip)
		if err != nil {
			return fn.Err[extracted](fmt.Errorf("extract %s: %w", doc.Source, err))
		}
		return fn.Ok(extracted{Document: doc, Text: text})
	}
}

// newChunk creates a stage that splits text into sections.
func newChunk(c *chunk.Chunker) fn.Stage[extracted, chunked] {
	return func(_ context.Context, in extracted) fn.Result[chunked] {
		return fn.Ok(chunked{Document: in.Document, Sections: c.Chunk(in.Text)})
	}
}

// newWrite creates a stage that upserts every section. A failed section is
// logged as a *domain.ChunkWriteError and skipped; the stage only fails when
// there were sections and none of them could be written.
func (p *Pipeline) newWrite() fn.Stage[chunked, Report] {
	return func(ctx context.Context, in chunked) fn.Result[Report] {
		start := time.Now()
		idx := p.deps.Open(in.Collection)
		rep := Report{Collection: in.Collection, Source: in.Source, Sections: len(in.Sections)}

		written := make([]domain.Section, 0, len(in.Sections))
		var firstErr error
		for _, s := range in.Sections {
			if err := ctx.Err(); err != nil {
				return fn.Err[Report](err)
			}
			meta := map[string]string{domain.MetaTitle: s.Title}
			if err := idx.Upsert(ctx, s.ID, s.Text, meta); err != nil {
				werr := &domain.ChunkWriteError{Collection: in.Collection, SectionID: s.ID, Err: err}
				p.log.Warn("section write failed", "collection", in.Collection, "section_id", s.ID, "err", werr)
				rep.Failed++
				if firstErr == nil {
					firstErr = werr
				}
				continue
			}
			written = append(written, s)
		}
		rep.Written = len(written)
		rep.Duration = time.Since(start)

		if rep.Written == 0 && rep.Failed > 0 {
			return fn.Err[Report](fmt.Errorf("ingest %s: all %d section writes failed: %w", in.Collection, rep.Failed, firstErr))
		}

		if p.deps.Outline != nil && len(written) > 0 {
			if err := p.deps.Outline.SaveOutline(ctx, in.Collection, written); err != nil {
				p.log.Warn("outline save failed", "collection", in.Collection, "err", err)
			}
		}
		return fn.Ok(rep)
	}
}

// LoggedTap returns a stage that logs entry/exit with duration.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(ctx context.Context, t T) fn.Result[T] {
		log.Debug("stage.enter", "stage", name)
		start := time.Now()
		defer func() {
			log.Debug("stage.exit", "stage", name, "duration", time.Since(start))
		}()
		return fn.Ok(t)
	}
}

// Stage composes Extract → Chunk → Write with logging taps and spans.
func (p *Pipeline) Stage() fn.Stage[Document, Report] {
	log := p.log
	toText := fn.Then(LoggedTap[Document]("extract", log),
		fn.TracedStage("ingest.extract", newExtract(p.deps.Extractor, p.deps.SkipPages)))
	toSections := fn.Then(toText, fn.Then(LoggedTap[extracted]("chunk", log),
		fn.TracedStage("ingest.chunk", newChunk(p.deps.Chunker))))
	return fn.Then(toSections, fn.Then(LoggedTap[chunked]("write", log),
		fn.TracedStage("ingest.write", p.newWrite())))
}

// IngestDocument extracts, chunks and writes one source document.
func (p *Pipeline) IngestDocument(ctx context.Context, doc Document) (Report, error) {
	rep, err := p.Stage()(ctx, doc).Unwrap()
	if err != nil {
		p.log.Error("ingest failed", "collection", doc.Collection, "source", doc.Source, "err", err)
		rep = Report{Collection: doc.Collection, Source: doc.Source}
	} else {
		p.log.Info("ingested", "collection", rep.Collection, "source", rep.Source,
			"sections", rep.Sections, "written", rep.Written, "failed", rep.Failed, "duration", rep.Duration)
	}
	if p.deps.Observe != nil {
		p.deps.Observe(rep, err)
	}
	return rep, err
}

// Ingest chunks already-extracted text into collection and returns the
// number of sections written.
func (p *Pipeline) Ingest(ctx context.Context, collection, rawText string) (int, error) {
	if collection == "" {
		return 0, errCollectionRequired()
	}
	stage := fn.Then(newChunk(p.deps.Chunker), p.newWrite())
	rep, err := stage(ctx, extracted{Document: Document{Collection: collection}, Text: rawText}).Unwrap()
	if err != nil {
		return 0, err
	}
	return rep.Written, nil
}

func errCollectionRequired() error {
	return domain.NewValidationError("collection", "", domain.ErrMissingCollection)
}
