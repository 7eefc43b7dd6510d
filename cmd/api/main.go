// Package main implements the textbook search API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WessleyAI/textbook-rag/engine/service"
	"github.com/WessleyAI/textbook-rag/pkg/config"
	"github.com/WessleyAI/textbook-rag/pkg/mid"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	configPath := flag.String("config", envOr("RAG_CONFIG", ""), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := service.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open service: %w", err)
	}
	defer svc.Close(context.Background())

	api := &server{
		search:      svc.Engine(),
		collections: svc.Collections,
		metrics:     svc.Metrics(),
		logger:      logger,
	}
	if g := svc.Outline(); g != nil {
		api.outline = g
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.handler(cfg.Server.CORSOrigin),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting",
			"port", cfg.Server.Port,
			"store", cfg.Store.Backend,
			"collections", cfg.CollectionNames(),
			"rerank", cfg.Rerank.URL != "",
			"outline", api.outline != nil,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// handler builds the routed, middleware-wrapped HTTP handler. Every route is
// registered both at the root and under /api so each keeps its own pattern.
func (s *server) handler(corsOrigin string) http.Handler {
	mux := http.NewServeMux()
	for _, prefix := range []string{"", "/api"} {
		mux.HandleFunc("POST "+prefix+"/search", s.handleSearch)
		mux.HandleFunc("POST "+prefix+"/search/reranked", s.handleReranked)
		mux.HandleFunc("GET "+prefix+"/collections", s.handleCollections)
		mux.HandleFunc("GET "+prefix+"/collections/{name}/outline", s.handleOutline)
		mux.HandleFunc("GET "+prefix+"/health", handleHealth)
		mux.Handle("GET "+prefix+"/metrics", s.metrics.Registry().Handler())
	}

	return mid.Chain(mux,
		mid.Recover(s.logger),
		mid.OTel("textbook-rag-api"),
		mid.RequestID(),
		mid.Logger(s.logger),
		mid.CORS(corsOrigin),
		mid.Metrics(s.metrics),
	)
}
