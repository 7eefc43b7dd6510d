// Command ragctl is the operator CLI for the textbook index: search it,
// ingest into it, list and drop collections.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/urfave/cli/v2"

	"github.com/WessleyAI/textbook-rag/engine/domain"
	"github.com/WessleyAI/textbook-rag/engine/ingest"
	"github.com/WessleyAI/textbook-rag/engine/service"
	"github.com/WessleyAI/textbook-rag/pkg/config"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// ctl holds what every command shares. opts are applied when the service is
// opened.
type ctl struct {
	out    io.Writer
	logger *slog.Logger
	opts   []service.Option
}

func newApp(out io.Writer, opts ...service.Option) *cli.App {
	c := &ctl{out: out, logger: slog.Default(), opts: opts}
	return &cli.App{
		Name:   "ragctl",
		Usage:  "Query and maintain the textbook section index",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config",
				EnvVars: []string{"RAG_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "warn",
			},
		},
		Before: c.setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "search",
				Usage:     "Print the single closest section across all collections",
				ArgsUsage: "<query>",
				Action:    c.search,
			},
			{
				Name:      "rerank",
				Usage:     "Print the best sections after cross-encoder rescoring",
				ArgsUsage: "<query>",
				Action:    c.rerank,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "Candidates pooled per collection (0 uses the config)",
					},
					&cli.IntFlag{
						Name:  "top-m",
						Usage: "Results returned (0 uses the config)",
					},
				},
			},
			{
				Name:   "collections",
				Usage:  "List collections with their section counts",
				Action: c.collections,
			},
			{
				Name:   "ingest",
				Usage:  "Ingest the configured textbooks",
				Action: c.ingest,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Documents ingested concurrently",
						Value: 4,
					},
					&cli.BoolFlag{
						Name:  "nats",
						Usage: "Submit each document to the ingest consumer and wait for its reply",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Per-document reply timeout with --nats",
						Value: 10 * time.Minute,
					},
				},
			},
			{
				Name:      "drop",
				Usage:     "Delete a collection and its sections",
				ArgsUsage: "<name>",
				Action:    c.drop,
			},
		},
	}
}

func (c *ctl) setupLogger(cc *cli.Context) error {
	var level slog.Level
	switch strings.ToLower(cc.String("log-level")) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", cc.String("log-level"))
	}
	c.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return nil
}

func (c *ctl) open(cc *cli.Context) (*service.Service, error) {
	cfg, err := config.Load(cc.String("config"))
	if err != nil {
		return nil, err
	}
	return service.Open(cc.Context, cfg, c.logger, c.opts...)
}

func queryArg(cc *cli.Context) (string, error) {
	q := strings.Join(cc.Args().Slice(), " ")
	if strings.TrimSpace(q) == "" {
		return "", errors.New("a query is required")
	}
	return q, nil
}

func (c *ctl) search(cc *cli.Context) error {
	q, err := queryArg(cc)
	if err != nil {
		return err
	}
	svc, err := c.open(cc)
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())

	names, err := svc.Collections(cc.Context)
	if err != nil {
		return err
	}
	best, err := svc.Engine().Best(cc.Context, q, names)
	if err != nil {
		return err
	}
	c.printCandidate(best, false)
	return nil
}

func (c *ctl) rerank(cc *cli.Context) error {
	q, err := queryArg(cc)
	if err != nil {
		return err
	}
	svc, err := c.open(cc)
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())

	names, err := svc.Collections(cc.Context)
	if err != nil {
		return err
	}
	ranked, err := svc.Engine().Reranked(cc.Context, q, names, cc.Int("top-k"), cc.Int("top-m"))
	if err != nil {
		return err
	}
	for _, cand := range ranked {
		c.printCandidate(cand, true)
	}
	return nil
}

func (c *ctl) printCandidate(cand domain.Candidate, scored bool) {
	if scored {
		fmt.Fprintf(c.out, "%s\t%s\tscore=%.4f\tdistance=%.4f\n", cand.Collection, cand.Title(), cand.Score, cand.Distance)
	} else {
		fmt.Fprintf(c.out, "%s\t%s\tdistance=%.4f\n", cand.Collection, cand.Title(), cand.Distance)
	}
	fmt.Fprintf(c.out, "%s\n\n", cand.Text)
}

func (c *ctl) collections(cc *cli.Context) error {
	svc, err := c.open(cc)
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())

	names, err := svc.Collections(cc.Context)
	if err != nil {
		return err
	}
	for _, name := range names {
		n, err := svc.Collection(name).Count(cc.Context)
		switch {
		case errors.Is(err, domain.ErrCollectionNotFound):
			fmt.Fprintf(c.out, "%s\t-\n", name)
		case err != nil:
			return fmt.Errorf("count %s: %w", name, err)
		default:
			fmt.Fprintf(c.out, "%s\t%d\n", name, n)
		}
	}
	return nil
}

func (c *ctl) ingest(cc *cli.Context) error {
	svc, err := c.open(cc)
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())

	docs := svc.Documents()
	if len(docs) == 0 {
		return errors.New("no collections configured")
	}
	if cc.Bool("nats") {
		return c.submit(cc, svc.Config(), docs)
	}

	runner, err := ingest.NewRunner(svc.Pipeline(), cc.Int("workers"), c.logger)
	if err != nil {
		return err
	}
	defer runner.Release()
	return c.report(runner.Run(cc.Context, docs))
}

// submit sends each document to the ingest consumer in turn.
func (c *ctl) submit(cc *cli.Context, cfg *config.Config, docs []ingest.Document) error {
	if cfg.NATS.URL == "" {
		return errors.New("nats url is not configured (set NATS_URL)")
	}
	nc, err := nats.Connect(cfg.NATS.URL, nats.Name("ragctl"), nats.Timeout(10*time.Second))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	outcomes := make([]ingest.Outcome, len(docs))
	for i, doc := range docs {
		ctx, cancel := context.WithTimeout(cc.Context, cc.Duration("timeout"))
		reply, err := ingest.Submit(ctx, nc, doc)
		cancel()
		if err == nil && reply.Error != "" {
			err = errors.New(reply.Error)
		}
		reply.Report.Collection, reply.Report.Source = doc.Collection, doc.Source
		outcomes[i] = ingest.Outcome{Report: reply.Report, Err: err}
	}
	return c.report(outcomes)
}

func (c *ctl) report(outcomes []ingest.Outcome) error {
	var failed int
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			fmt.Fprintf(c.out, "%s\terror: %v\n", o.Report.Collection, o.Err)
			continue
		}
		fmt.Fprintf(c.out, "%s\t%d written\t%d failed\n", o.Report.Collection, o.Report.Written, o.Report.Failed)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(outcomes))
	}
	return nil
}

func (c *ctl) drop(cc *cli.Context) error {
	name := cc.Args().First()
	if name == "" {
		return errors.New("a collection name is required")
	}
	svc, err := c.open(cc)
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())

	if err := svc.Drop(cc.Context, name); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "dropped %s\n", name)
	return nil
}
