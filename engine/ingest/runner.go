package ingest

import (
	"context"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// Outcome is the result of ingesting one document.
type Outcome struct {
	Report Report
	Err    error
}

// Runner ingests many documents on a bounded worker pool. Documents that
// share a collection run on the same worker, in input order, so each
// collection has a single writer.
type Runner struct {
	pipeline *Pipeline
	pool     *ants.Pool
	logger   *slog.Logger
}

// NewRunner creates a Runner with the given pool size (minimum 1).
func NewRunner(p *Pipeline, workers int, logger *slog.Logger) (*Runner, error) {
	if workers < 1 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{pipeline: p, pool: pool, logger: logger.With("component", "ingest-runner")}, nil
}

// Release stops the worker pool.
func (r *Runner) Release() { r.pool.Release() }

// Run ingests docs and returns one Outcome per document in input order.
func (r *Runner) Run(ctx context.Context, docs []Document) []Outcome {
	out := make([]Outcome, len(docs))

	var order []string
	groups := make(map[string][]int)
	for i, d := range docs {
		if _, ok := groups[d.Collection]; !ok {
			order = append(order, d.Collection)
		}
		groups[d.Collection] = append(groups[d.Collection], i)
	}

	var wg sync.WaitGroup
	for _, name := range order {
		idxs := groups[name]
		wg.Add(1)
		task := func() {
			defer wg.Done()
			for _, i := range idxs {
				rep, err := r.pipeline.IngestDocument(ctx, docs[i])
				out[i] = Outcome{Report: rep, Err: err}
			}
		}
		if err := r.pool.Submit(task); err != nil {
			r.logger.Error("submit failed", "collection", name, "err", err)
			for _, i := range idxs {
				out[i] = Outcome{Report: Report{Collection: docs[i].Collection, Source: docs[i].Source}, Err: err}
			}
			wg.Done()
		}
	}
	wg.Wait()
	return out
}
