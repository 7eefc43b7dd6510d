// Package openaiembed embeds text through any OpenAI-compatible embeddings
// endpoint using langchaingo.
package openaiembed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrEmptyEmbedding is returned when the endpoint answers with no vectors.
var ErrEmptyEmbedding = errors.New("openaiembed: empty embedding")

// Config describes the embeddings endpoint.
type Config struct {
	BaseURL string
	Token   string
	Model   string
}

// Embedder implements semantic.Embedder over an OpenAI-compatible API.
type Embedder struct {
	embedder embeddings.Embedder
	model    string
	logger   *slog.Logger
}

// New creates an Embedder. An empty token is sent as "none" so local
// OpenAI-compatible servers accept the request.
func New(cfg Config) (*Embedder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("openaiembed: model is required")
	}
	token := cfg.Token
	if token == "" {
		token = "none"
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openaiembed: client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("openaiembed: embedder: %w", err)
	}
	return NewWithEmbedder(emb, cfg.Model), nil
}

// NewWithEmbedder wraps an existing langchaingo embedder.
func NewWithEmbedder(emb embeddings.Embedder, model string) *Embedder {
	return &Embedder{
		embedder: emb,
		model:    model,
		logger:   slog.Default().With("component", "openai-embedder"),
	}
}

// Model returns the configured embedding model.
func (e *Embedder) Model() string { return e.model }

// Embed returns the vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.logger.Debug("embedding text", "length", len(text))
	vecs, err := e.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		e.logger.Error("embedding failed", "err", err)
		return nil, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per text, in order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.logger.Debug("embedding texts", "count", len(texts))
	vecs, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.Error("batch embedding failed", "count", len(texts), "err", err)
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("openaiembed: got %d vectors for %d texts", len(vecs), len(texts))
	}
	return vecs, nil
}
