package semantic

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/WessleyAI/textbook-rag/engine/domain"
)

// Collection is the index for one subject.
type Collection struct {
	name    string
	backend Backend
	embed   Embedder

	mu      sync.Mutex
	ensured bool
}

// NewCollection binds a named collection of backend to an embedder.
func NewCollection(name string, backend Backend, embed Embedder) *Collection {
	return &Collection{name: name, backend: backend, embed: embed}
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Upsert embeds text and stores it under id, replacing any previous item
// with the same id. The collection is created on first write.
func (c *Collection) Upsert(ctx context.Context, id, text string, meta map[string]string) error {
	vec, err := c.embed.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("semantic: embed %s/%s: %w", c.name, id, err)
	}
	if len(vec) == 0 {
		return fmt.Errorf("semantic: embed %s/%s: empty embedding", c.name, id)
	}
	if err := c.ensure(ctx, len(vec)); err != nil {
		return err
	}

	m := make(map[string]string, len(meta)+1)
	maps.Copy(m, meta)
	m[domain.MetaCollection] = c.name

	rec := VectorRecord{ID: id, Embedding: vec, Content: text, Meta: m}
	if err := c.backend.Upsert(ctx, c.name, []VectorRecord{rec}); err != nil {
		return fmt.Errorf("semantic: upsert %s/%s: %w", c.name, id, err)
	}
	return nil
}

func (c *Collection) ensure(ctx context.Context, dims int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ensured {
		return nil
	}
	if err := c.backend.EnsureCollection(ctx, c.name, dims); err != nil {
		return fmt.Errorf("semantic: ensure %s: %w", c.name, err)
	}
	c.ensured = true
	return nil
}

// Query returns the topK nearest items to embedding ordered by ascending
// distance. Equal distances keep the backend's order. Any backend failure is
// returned as a *domain.CollectionUnavailableError.
func (c *Collection) Query(ctx context.Context, embedding []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 1
	}
	hits, err := c.backend.Search(ctx, c.name, embedding, topK)
	if err != nil {
		return nil, &domain.CollectionUnavailableError{Collection: c.name, Err: err}
	}
	matches := make([]Match, len(hits))
	for i, h := range hits {
		meta := h.Meta
		if meta == nil {
			meta = map[string]string{}
		}
		if _, ok := meta[domain.MetaCollection]; !ok {
			meta[domain.MetaCollection] = c.name
		}
		matches[i] = Match{
			ID:       h.ID,
			Text:     h.Content,
			Metadata: meta,
			Distance: 1 - float64(h.Score),
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// QueryText embeds text and queries with the result.
func (c *Collection) QueryText(ctx context.Context, text string, topK int) ([]Match, error) {
	vec, err := c.embed.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("semantic: embed query: %w", err)
	}
	return c.Query(ctx, vec, topK)
}

// Count returns the number of stored items.
func (c *Collection) Count(ctx context.Context) (int, error) {
	n, err := c.backend.Count(ctx, c.name)
	if err != nil {
		return 0, &domain.CollectionUnavailableError{Collection: c.name, Err: err}
	}
	return n, nil
}
