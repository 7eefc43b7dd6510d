// Package retrieval resolves a query against many collections. It embeds the
// query once, asks every collection for its nearest sections, and either
// picks the single closest section or reranks the pooled candidates with a
// cross-encoder.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"time"

	"github.com/WessleyAI/textbook-rag/engine/domain"
	"github.com/WessleyAI/textbook-rag/engine/semantic"
	"github.com/WessleyAI/textbook-rag/pkg/fn"
	"github.com/WessleyAI/textbook-rag/pkg/rerank"
	"github.com/WessleyAI/textbook-rag/pkg/resilience"
)

// Index is the read side of a collection.
type Index interface {
	Name() string
	Query(ctx context.Context, embedding []float32, topK int) ([]semantic.Match, error)
}

// Options configures retrieval behaviour.
type Options struct {
	// TopK is how many candidates each collection contributes in reranked mode.
	TopK int
	// TopM is how many reranked candidates are returned.
	TopM int
	// Parallelism bounds concurrent collection queries. 0 queries every
	// collection at once; 1 queries them sequentially.
	Parallelism int
	// Direction pins how reranker scores compare.
	Direction rerank.Direction
	// CollectionTimeout bounds each collection query. 0 means no bound.
	CollectionTimeout time.Duration
	Breaker           resilience.BreakerOpts
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		TopK:        5,
		TopM:        3,
		Parallelism: 4,
		Direction:   rerank.HigherIsBetter,
		Breaker:     resilience.DefaultBreakerOpts,
	}
}

// Deps holds the collaborators of an Engine. Scorer is only needed for
// reranked mode. OnSkip, when set, observes every collection left out of a
// candidate pool.
type Deps struct {
	Embedder semantic.Embedder
	Open     func(name string) Index
	Scorer   rerank.Scorer
	OnSkip   func(collection string, err error)
	Logger   *slog.Logger
}

// Engine answers queries across collections.
type Engine struct {
	embed    semantic.Embedder
	open     func(name string) Index
	scorer   rerank.Scorer
	onSkip   func(collection string, err error)
	breakers *resilience.BreakerSet
	opts     Options
	logger   *slog.Logger
}

// ErrNoScorer is returned by reranked retrieval when no scorer is wired.
var ErrNoScorer = errors.New("retrieval: no reranker configured")

// New creates an Engine.
func New(deps Deps, opts Options) (*Engine, error) {
	if deps.Embedder == nil {
		return nil, errors.New("retrieval: embedder is required")
	}
	if deps.Open == nil {
		return nil, errors.New("retrieval: Open is required")
	}
	def := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.TopM <= 0 {
		opts.TopM = def.TopM
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "retrieval")

	bopts := opts.Breaker
	bopts.IsFailure = countsAgainstBreaker
	breakers := resilience.NewBreakerSet(bopts, func(name string, from, to resilience.State) {
		logger.Warn("collection breaker", "collection", name, "from", from.String(), "to", to.String())
	})

	return &Engine{
		embed:    deps.Embedder,
		open:     deps.Open,
		scorer:   deps.Scorer,
		onSkip:   deps.OnSkip,
		breakers: breakers,
		opts:     opts,
		logger:   logger,
	}, nil
}

// Options returns the effective options.
func (e *Engine) Options() Options { return e.opts }

// BreakerStates reports the breaker state of every collection queried so far.
func (e *Engine) BreakerStates() map[string]resilience.State { return e.breakers.States() }

// countsAgainstBreaker keeps missing collections and caller cancellations
// from tripping a collection's breaker.
func countsAgainstBreaker(err error) bool {
	return !errors.Is(err, domain.ErrCollectionNotFound) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, resilience.ErrCircuitOpen)
}

// Retrieve resolves query in the given mode. Single-best returns exactly
// one candidate.
func (e *Engine) Retrieve(ctx context.Context, query string, collections []string, mode domain.Mode) ([]domain.Candidate, error) {
	switch mode {
	case domain.ModeSingleBest:
		c, err := e.Best(ctx, query, collections)
		if err != nil {
			return nil, err
		}
		return []domain.Candidate{c}, nil
	case domain.ModeReranked:
		return e.Reranked(ctx, query, collections, 0, 0)
	}
	return nil, fmt.Errorf("retrieval: unknown mode %d", mode)
}

// Best returns the candidate with the smallest distance over the nearest
// section of every collection. Equal distances resolve to the collection
// listed first. Collections that fail or return nothing are skipped.
func (e *Engine) Best(ctx context.Context, query string, collections []string) (domain.Candidate, error) {
	start := time.Now()
	q, err := domain.ValidateQuery(query)
	if err != nil {
		return domain.Candidate{}, err
	}
	vec, err := e.embedQuery(ctx, q)
	if err != nil {
		return domain.Candidate{}, err
	}

	var best domain.Candidate
	found := false
	for _, cands := range e.gather(ctx, vec, collections, 1) {
		if len(cands) == 0 {
			continue
		}
		if !found || cands[0].Distance < best.Distance {
			best = cands[0]
			found = true
		}
	}
	if !found {
		return domain.Candidate{}, domain.ErrNoResults
	}
	e.logger.Info("retrieved", "mode", domain.ModeSingleBest.String(), "collection", best.Collection,
		"section_id", best.ID, "distance", best.Distance, "duration", time.Since(start))
	return best, nil
}

// Reranked pools the topK nearest sections of every collection, scores the
// pool against query and returns the topM best-scored candidates. topK and
// topM fall back to the engine options when <= 0.
func (e *Engine) Reranked(ctx context.Context, query string, collections []string, topK, topM int) ([]domain.Candidate, error) {
	start := time.Now()
	if e.scorer == nil {
		return nil, ErrNoScorer
	}
	if topK <= 0 {
		topK = e.opts.TopK
	}
	if topM <= 0 {
		topM = e.opts.TopM
	}
	q, err := domain.ValidateQuery(query)
	if err != nil {
		return nil, err
	}
	vec, err := e.embedQuery(ctx, q)
	if err != nil {
		return nil, err
	}

	var pool []domain.Candidate
	for _, cands := range e.gather(ctx, vec, collections, topK) {
		pool = append(pool, cands...)
	}
	if len(pool) == 0 {
		return nil, domain.ErrNoResults
	}

	passages := fn.Map(pool, func(c domain.Candidate) string { return c.Text })
	scores, err := e.scorer.Score(ctx, q, passages)
	if err != nil {
		return nil, fmt.Errorf("retrieval: rerank: %w", err)
	}
	if len(scores) != len(pool) {
		return nil, fmt.Errorf("retrieval: rerank returned %d scores for %d candidates", len(scores), len(pool))
	}
	for i := range pool {
		pool[i].Score = scores[i]
	}

	dir := e.opts.Direction
	sort.SliceStable(pool, func(i, j int) bool { return dir.Better(pool[i].Score, pool[j].Score) })
	if len(pool) > topM {
		pool = pool[:topM]
	}
	e.logger.Info("retrieved", "mode", domain.ModeReranked.String(), "pool", len(passages),
		"returned", len(pool), "duration", time.Since(start))
	return pool, nil
}

func (e *Engine) embedQuery(ctx context.Context, q string) ([]float32, error) {
	vec, err := e.embed.Embed(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	if len(vec) == 0 {
		return nil, errors.New("retrieval: embed query: empty embedding")
	}
	return vec, nil
}

// gather queries every collection and returns their candidates in input
// order. Failed collections contribute nil and are logged.
func (e *Engine) gather(ctx context.Context, vec []float32, collections []string, topK int) [][]domain.Candidate {
	results := fn.ParMapResult(collections, e.opts.Parallelism, func(name string) fn.Result[[]domain.Candidate] {
		return e.queryCollection(ctx, name, vec, topK)
	})

	out := make([][]domain.Candidate, len(results))
	for i, r := range results {
		cands, err := r.Unwrap()
		if err != nil {
			e.logger.Warn("collection skipped", "collection", collections[i], "err", err)
			if e.onSkip != nil {
				e.onSkip(collections[i], err)
			}
			continue
		}
		out[i] = cands
	}
	return out
}

func (e *Engine) queryCollection(ctx context.Context, name string, vec []float32, topK int) fn.Result[[]domain.Candidate] {
	breaker := e.breakers.Get(name)
	r := resilience.CallResult(breaker, ctx, func(ctx context.Context) fn.Result[[]domain.Candidate] {
		if e.opts.CollectionTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.opts.CollectionTimeout)
			defer cancel()
		}
		idx := e.open(name)
		if idx == nil {
			return fn.Err[[]domain.Candidate](domain.ErrCollectionNotFound)
		}
		matches, err := idx.Query(ctx, vec, topK)
		if err != nil {
			return fn.Err[[]domain.Candidate](err)
		}
		return fn.Ok(fn.Map(matches, func(m semantic.Match) domain.Candidate {
			return toCandidate(name, m)
		}))
	})
	if _, err := r.Unwrap(); err != nil {
		var cu *domain.CollectionUnavailableError
		if !errors.As(err, &cu) {
			err = &domain.CollectionUnavailableError{Collection: name, Err: err}
		}
		return fn.Err[[]domain.Candidate](err)
	}
	return r
}

func toCandidate(collection string, m semantic.Match) domain.Candidate {
	meta := make(map[string]string, len(m.Metadata)+1)
	maps.Copy(meta, m.Metadata)
	meta[domain.MetaCollection] = collection
	return domain.Candidate{
		Collection: collection,
		ID:         m.ID,
		Text:       m.Text,
		Metadata:   meta,
		Distance:   m.Distance,
	}
}
