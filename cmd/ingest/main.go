// Command ingest loads the configured textbooks into their collections. It
// runs the documents directly by default, publishes them to NATS with
// -publish, or serves queued ingestion requests with -consume.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/textbook-rag/engine/ingest"
	"github.com/WessleyAI/textbook-rag/engine/service"
	"github.com/WessleyAI/textbook-rag/pkg/config"
)

func main() {
	var (
		configPath  = flag.String("config", os.Getenv("RAG_CONFIG"), "path to YAML config")
		consume     = flag.Bool("consume", false, "serve ingestion requests from NATS")
		publish     = flag.Bool("publish", false, "publish the configured documents to NATS and exit")
		workers     = flag.Int("workers", 4, "documents ingested concurrently (one writer per collection)")
		metricsPort = flag.Int("metrics-port", 9091, "port for /metrics (0 disables)")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := mode{consume: *consume, publish: *publish, workers: *workers, metricsPort: *metricsPort}
	if err := run(ctx, cfg, logger, m, os.Stdout); err != nil {
		logger.Error("ingest failed", "err", err)
		os.Exit(1)
	}
}

type mode struct {
	consume     bool
	publish     bool
	workers     int
	metricsPort int
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, m mode, out io.Writer) error {
	if m.consume && m.publish {
		return errors.New("-consume and -publish are mutually exclusive")
	}

	if m.publish {
		nc, err := connectNATS(cfg)
		if err != nil {
			return err
		}
		defer nc.Close()
		docs := service.Documents(cfg)
		if err := ingest.Enqueue(ctx, nc, docs); err != nil {
			return err
		}
		logger.Info("published ingestion requests", "count", len(docs), "subject", ingest.RequestSubject)
		return nil
	}

	svc, err := service.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open service: %w", err)
	}
	defer svc.Close(context.Background())

	if m.metricsPort > 0 {
		svc.Metrics().Registry().ServeAsync(ctx, m.metricsPort, logger)
	}

	if m.consume {
		nc, err := connectNATS(cfg)
		if err != nil {
			return err
		}
		defer nc.Close()
		sub, err := ingest.StartConsumer(nc, svc.Pipeline())
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
		logger.Info("consuming ingestion requests", "subject", ingest.RequestSubject, "dlq", ingest.DLQSubject)
		<-ctx.Done()
		logger.Info("shutting down")
		return nil
	}

	runner, err := ingest.NewRunner(svc.Pipeline(), m.workers, logger)
	if err != nil {
		return err
	}
	defer runner.Release()

	outcomes := runner.Run(ctx, svc.Documents())
	return report(out, outcomes)
}

func connectNATS(cfg *config.Config) (*nats.Conn, error) {
	if cfg.NATS.URL == "" {
		return nil, errors.New("nats url is not configured (set NATS_URL)")
	}
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name("textbook-rag-ingest"),
		nats.Timeout(10*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

// report prints one line per document and fails if any document failed.
func report(w io.Writer, outcomes []ingest.Outcome) error {
	var failed int
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			fmt.Fprintf(w, "%s\t%s\terror: %v\n", o.Report.Collection, o.Report.Source, o.Err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d chunks\n", o.Report.Collection, o.Report.Source, o.Report.Written)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(outcomes))
	}
	return nil
}
