package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/WessleyAI/textbook-rag/engine/domain"
	"github.com/WessleyAI/textbook-rag/engine/outline"
	"github.com/WessleyAI/textbook-rag/engine/retrieval"
	"github.com/WessleyAI/textbook-rag/pkg/metrics"
)

// searcher is the retrieval surface the handlers need.
type searcher interface {
	Best(ctx context.Context, query string, collections []string) (domain.Candidate, error)
	Reranked(ctx context.Context, query string, collections []string, topK, topM int) ([]domain.Candidate, error)
}

type outliner interface {
	Outline(ctx context.Context, collection string) ([]outline.Node, error)
}

type server struct {
	search      searcher
	outline     outliner
	collections func(ctx context.Context) ([]string, error)
	metrics     *metrics.RAG
	logger      *slog.Logger
}

// SearchRequest is the JSON body for POST /search.
type SearchRequest struct {
	Query string `json:"query"`
}

// RerankedRequest is the JSON body for POST /search/reranked.
type RerankedRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
	TopM  int    `json:"top_m,omitempty"`
}

// Result is one retrieved section.
type Result struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
	Distance float64           `json:"distance"`
}

// RankedResult is one reranked section.
type RankedResult struct {
	Result
	Score      float64 `json:"score"`
	Collection string  `json:"collection"`
}

// SearchResponse is the JSON response for POST /search.
type SearchResponse struct {
	Success             bool     `json:"success"`
	Query               string   `json:"query"`
	Result              Result   `json:"result"`
	Collection          string   `json:"collection"`
	SearchedCollections []string `json:"searched_collections"`
}

// RerankedResponse is the JSON response for POST /search/reranked.
type RerankedResponse struct {
	Success             bool           `json:"success"`
	Query               string         `json:"query"`
	Results             []RankedResult `json:"results"`
	SearchedCollections []string       `json:"searched_collections"`
}

// OutlineResponse is the JSON response for GET /collections/{name}/outline.
type OutlineResponse struct {
	Collection string         `json:"collection"`
	Sections   []outline.Node `json:"sections"`
}

func toResult(c domain.Candidate) Result {
	return Result{Text: c.Text, Metadata: c.Metadata, Distance: c.Distance}
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "message": "Server is running"})
}

func (s *server) handleCollections(w http.ResponseWriter, r *http.Request) {
	names, err := s.collections(r.Context())
	if err != nil {
		s.logger.Error("list collections failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"collections": names})
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	names, err := s.collections(r.Context())
	if err != nil {
		s.logger.Error("list collections failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	best, err := s.search.Best(r.Context(), req.Query, names)
	s.metrics.Search("best", outcome(err), time.Since(start))
	if err != nil {
		s.writeSearchError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SearchResponse{
		Success:             true,
		Query:               req.Query,
		Result:              toResult(best),
		Collection:          best.Collection,
		SearchedCollections: names,
	})
}

func (s *server) handleReranked(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req RerankedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TopK < 0 || req.TopM < 0 {
		writeError(w, http.StatusBadRequest, "top_k and top_m must not be negative")
		return
	}
	names, err := s.collections(r.Context())
	if err != nil {
		s.logger.Error("list collections failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	ranked, err := s.search.Reranked(r.Context(), req.Query, names, req.TopK, req.TopM)
	s.metrics.Search("reranked", outcome(err), time.Since(start))
	if err != nil {
		s.writeSearchError(w, err)
		return
	}

	results := make([]RankedResult, len(ranked))
	for i, c := range ranked {
		results[i] = RankedResult{Result: toResult(c), Score: c.Score, Collection: c.Collection}
	}
	writeJSON(w, http.StatusOK, RerankedResponse{
		Success:             true,
		Query:               req.Query,
		Results:             results,
		SearchedCollections: names,
	})
}

func (s *server) handleOutline(w http.ResponseWriter, r *http.Request) {
	if s.outline == nil {
		writeError(w, http.StatusServiceUnavailable, "outline graph not configured")
		return
	}
	name := r.PathValue("name")
	nodes, err := s.outline.Outline(r.Context(), name)
	switch {
	case errors.Is(err, domain.ErrCollectionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.logger.Error("outline failed", "collection", name, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, OutlineResponse{Collection: name, Sections: nodes})
}

// writeSearchError maps retrieval errors onto status codes.
func (s *server) writeSearchError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNoResults):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, retrieval.ErrNoScorer):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("search failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case domain.IsInvalidInput(err):
		return "invalid"
	case errors.Is(err, domain.ErrNoResults):
		return "no_results"
	default:
		return "error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
