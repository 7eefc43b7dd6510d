// Package rerank scores (query, passage) pairs with a cross-encoder served
// over HTTP in the text-embeddings-inference /rerank format.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/WessleyAI/textbook-rag/pkg/fn"
	"golang.org/x/time/rate"
)

// Scorer returns one relevance score per passage, aligned with the input.
type Scorer interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, query string, passages []string) ([]float64, error)

// Score implements Scorer.
func (f ScorerFunc) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	return f(ctx, query, passages)
}

// Direction says how scores compare.
type Direction int

const (
	HigherIsBetter Direction = iota
	LowerIsBetter
)

// ParseDirection accepts "higher_is_better" (default) and "lower_is_better".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "higher_is_better", "higher":
		return HigherIsBetter, nil
	case "lower_is_better", "lower":
		return LowerIsBetter, nil
	}
	return HigherIsBetter, fmt.Errorf("rerank: unknown score direction %q", s)
}

func (d Direction) String() string {
	if d == LowerIsBetter {
		return "lower_is_better"
	}
	return "higher_is_better"
}

// Better reports whether score a ranks strictly ahead of score b.
func (d Direction) Better(a, b float64) bool {
	if d == LowerIsBetter {
		return a < b
	}
	return a > b
}

// Client talks to a cross-encoder server.
type Client struct {
	baseURL string
	model   string
	client  *http.Client
	limiter *rate.Limiter
	retry   fn.RetryOpts
}

// Option configures a Client.
type Option func(*Client)

// WithModel sets the model name sent with each request.
func WithModel(model string) Option { return func(c *Client) { c.model = model } }

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.client = h
		}
	}
}

// WithRateLimit caps requests per second. rps <= 0 disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry sets the retry policy.
func WithRetry(opts fn.RetryOpts) Option {
	return func(c *Client) {
		if opts.MaxAttempts > 0 {
			c.retry = opts
		}
	}
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 5),
		retry: fn.RetryOpts{
			MaxAttempts: 3,
			InitialWait: 500 * time.Millisecond,
			MaxWait:     5 * time.Second,
			Jitter:      true,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type rerankReq struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
}

type rerankItem struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Score implements Scorer. An empty passage list returns no scores
// without a request.
func (c *Client) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}
	return fn.Retry(ctx, c.retry, func(ctx context.Context) fn.Result[[]float64] {
		return fn.FromPair(c.score(ctx, query, passages))
	}).Unwrap()
}

func (c *Client) score(ctx context.Context, query string, passages []string) ([]float64, error) {
	body, _ := json.Marshal(rerankReq{Model: c.model, Query: query, Texts: passages, RawScores: true})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("rerank: status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, fn.Permanent(err)
		}
		return nil, err
	}

	var items []rerankItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("rerank decode: %w", err)
	}
	if len(items) != len(passages) {
		return nil, fmt.Errorf("rerank: got %d scores for %d passages", len(items), len(passages))
	}

	scores := make([]float64, len(passages))
	seen := make([]bool, len(passages))
	for _, it := range items {
		if it.Index < 0 || it.Index >= len(passages) || seen[it.Index] {
			return nil, fmt.Errorf("rerank: bad index %d in response", it.Index)
		}
		seen[it.Index] = true
		scores[it.Index] = it.Score
	}
	return scores, nil
}
