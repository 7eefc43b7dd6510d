// Package service wires the configured stores, embedder, reranker and graph
// into a retrieval engine and an ingestion pipeline shared by the commands.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/WessleyAI/textbook-rag/engine/chunk"
	"github.com/WessleyAI/textbook-rag/engine/ingest"
	"github.com/WessleyAI/textbook-rag/engine/outline"
	"github.com/WessleyAI/textbook-rag/engine/retrieval"
	"github.com/WessleyAI/textbook-rag/engine/semantic"
	"github.com/WessleyAI/textbook-rag/pkg/config"
	"github.com/WessleyAI/textbook-rag/pkg/metrics"
	"github.com/WessleyAI/textbook-rag/pkg/ollama"
	"github.com/WessleyAI/textbook-rag/pkg/openaiembed"
	"github.com/WessleyAI/textbook-rag/pkg/rerank"
)

// Service holds the long-lived collaborators built from a Config.
type Service struct {
	cfg      *config.Config
	backend  semantic.Backend
	embedder semantic.Embedder
	engine   *retrieval.Engine
	pipeline *ingest.Pipeline
	outline  *outline.Store
	metrics  *metrics.RAG
	logger   *slog.Logger

	mu   sync.Mutex
	cols map[string]*semantic.Collection
}

// Option customises Open. Tests use it to swap in fakes.
type Option func(*Service)

// WithBackend uses b instead of opening the configured store.
func WithBackend(b semantic.Backend) Option { return func(s *Service) { s.backend = b } }

// WithEmbedder uses e instead of the configured provider.
func WithEmbedder(e semantic.Embedder) Option { return func(s *Service) { s.embedder = e } }

// WithMetrics records into m instead of a fresh registry.
func WithMetrics(m *metrics.RAG) Option { return func(s *Service) { s.metrics = m } }

// Open builds a Service. The outline graph is connected only when a Neo4j
// URL is configured; a failed connection is logged and the graph skipped.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{cfg: cfg, logger: logger, cols: make(map[string]*semantic.Collection)}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewRAG(metrics.New())
	}

	if s.backend == nil {
		b, err := OpenBackend(cfg.Store, logger)
		if err != nil {
			return nil, err
		}
		s.backend = b
	}
	if s.embedder == nil {
		e, err := NewEmbedder(cfg.Embed)
		if err != nil {
			s.backend.Close()
			return nil, err
		}
		s.embedder = e
	}

	if cfg.Neo4j.URL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		store, err := outline.Connect(connectCtx, cfg.Neo4j.URL, cfg.Neo4j.User, cfg.Neo4j.Pass)
		cancel()
		if err != nil {
			logger.Warn("outline graph unavailable", "url", cfg.Neo4j.URL, "err", err)
		} else {
			s.outline = store
		}
	}

	deps := retrieval.Deps{
		Embedder: s.embedder,
		Open:     func(name string) retrieval.Index { return s.Collection(name) },
		OnSkip:   func(name string, _ error) { s.metrics.CollectionSkipped(name) },
		Logger:   logger,
	}
	if cfg.Rerank.URL != "" {
		deps.Scorer = rerank.New(cfg.Rerank.URL,
			rerank.WithModel(cfg.Rerank.Model),
			rerank.WithRateLimit(cfg.Rerank.RPS, max(int(cfg.Rerank.RPS), 1)),
		)
	}
	ropts := retrieval.DefaultOptions()
	ropts.TopK = cfg.Retrieval.TopK
	ropts.TopM = cfg.Retrieval.TopM
	ropts.Parallelism = cfg.Retrieval.Parallelism
	ropts.Direction = cfg.ScoreDirection()
	engine, err := retrieval.New(deps, ropts)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}
	s.engine = engine

	ideps := ingest.Deps{
		Chunker:   chunk.New(chunk.WithMinContent(cfg.Chunk.MinContent)),
		Open:      func(name string) ingest.Index { return s.Collection(name) },
		Observe:   s.observeIngest,
		SkipPages: cfg.Extract.SkipPages,
		Logger:    logger,
	}
	if s.outline != nil {
		ideps.Outline = s.outline
	}
	pipeline, err := ingest.NewPipeline(ideps)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}
	s.pipeline = pipeline

	return s, nil
}

func (s *Service) observeIngest(rep ingest.Report, err error) {
	if err != nil {
		s.metrics.IngestFailed(rep.Collection)
		return
	}
	s.metrics.Ingested(rep.Collection, rep.Written, rep.Failed, rep.Duration)
}

// OpenBackend opens the configured vector store.
func OpenBackend(cfg config.StoreConfig, logger *slog.Logger) (semantic.Backend, error) {
	switch cfg.Backend {
	case config.BackendBadger, "":
		local, err := semantic.OpenLocal(cfg.Dir, logger)
		if err != nil {
			return nil, err
		}
		return local, nil
	case config.BackendQdrant:
		q, err := semantic.NewQdrant(cfg.QdrantAddr)
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return nil, fmt.Errorf("service: unknown store backend %q", cfg.Backend)
	}
}

// NewEmbedder builds the configured embedding client.
func NewEmbedder(cfg config.EmbedConfig) (semantic.Embedder, error) {
	switch cfg.Provider {
	case config.ProviderOllama, "":
		return ollama.NewEmbedClient(cfg.URL, cfg.Model, ollama.WithRateLimit(cfg.RPS, max(int(cfg.RPS), 1))), nil
	case config.ProviderOpenAI:
		e, err := openaiembed.New(openaiembed.Config{BaseURL: cfg.URL, Token: cfg.Token, Model: cfg.Model})
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("service: unknown embed provider %q", cfg.Provider)
	}
}

// Collection returns the index for name, reusing one handle per name.
func (s *Service) Collection(name string) *semantic.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cols[name]
	if !ok {
		c = semantic.NewCollection(name, s.backend, s.embedder)
		s.cols[name] = c
	}
	return c
}

// Collections returns the configured collection names in order, or every
// collection in the store when none are configured.
func (s *Service) Collections(ctx context.Context) ([]string, error) {
	if names := s.cfg.CollectionNames(); len(names) > 0 {
		return names, nil
	}
	names, err := s.backend.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: list collections: %w", err)
	}
	return names, nil
}

// Documents returns the configured collection sources as ingestion requests.
func (s *Service) Documents() []ingest.Document { return Documents(s.cfg) }

// Documents returns cfg's collection sources as ingestion requests, in order.
func Documents(cfg *config.Config) []ingest.Document {
	docs := make([]ingest.Document, len(cfg.Collections))
	for i, c := range cfg.Collections {
		docs[i] = ingest.Document{Collection: c.Name, Source: c.Source}
	}
	return docs
}

// Drop deletes a collection from the store.
func (s *Service) Drop(ctx context.Context, name string) error {
	if err := s.backend.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("service: drop %s: %w", name, err)
	}
	s.mu.Lock()
	delete(s.cols, name)
	s.mu.Unlock()
	return nil
}

func (s *Service) Config() *config.Config { return s.cfg }

func (s *Service) Engine() *retrieval.Engine { return s.engine }

func (s *Service) Pipeline() *ingest.Pipeline { return s.pipeline }

func (s *Service) Metrics() *metrics.RAG { return s.metrics }

func (s *Service) Backend() semantic.Backend { return s.backend }

// Outline returns the graph store, or nil when none is connected.
func (s *Service) Outline() *outline.Store { return s.outline }

// Close releases the store and the graph driver.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	if s.backend != nil {
		errs = append(errs, s.backend.Close())
	}
	if s.outline != nil {
		errs = append(errs, s.outline.Close(ctx))
	}
	return errors.Join(errs...)
}
