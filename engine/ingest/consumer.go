package ingest

import (
	"context"
	"log/slog"

	"github.com/WessleyAI/textbook-rag/engine/domain"
	"github.com/WessleyAI/textbook-rag/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

const (
	// RequestSubject is the NATS subject for ingestion requests.
	RequestSubject = "ingest.request"
	// DLQSubject is the dead letter queue subject for failed requests.
	DLQSubject = "ingest.request.dlq"
	// MaxRetries before sending to DLQ.
	MaxRetries = 3
)

// Reply is sent back to requesters once a document is done, either ingested
// or dead-lettered.
type Reply struct {
	Report
	Error string `json:"error,omitempty"`
}

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Document Document `json:"document"`
	Raw      string   `json:"raw,omitempty"`
	Error    string   `json:"error"`
	Retries  int      `json:"retries"`
}

// StartConsumer subscribes to RequestSubject and runs each Document through
// the pipeline. Failed requests are redelivered with an incremented
// X-Retry-Count header and go to DLQSubject after MaxRetries attempts.
// Invalid and undecodable requests go straight to the DLQ.
func StartConsumer(nc *nats.Conn, p *Pipeline) (*nats.Subscription, error) {
	log := p.log.With("subject", RequestSubject)

	malformed := natsutil.OnMalformed(func(ctx context.Context, msg *nats.Msg, err error) {
		log.Error("ingest: dead-lettering malformed request", "err", err)
		dlq := dlqMessage{Raw: string(msg.Data), Error: "malformed request: " + err.Error(), Retries: 1}
		if perr := natsutil.Publish(ctx, nc, DLQSubject, dlq); perr != nil {
			log.Error("ingest: DLQ publish failed", "err", perr)
		}
		respond(log, msg, Reply{Error: dlq.Error})
	})

	return natsutil.Subscribe(nc, RequestSubject, log, func(ctx context.Context, msg *nats.Msg, doc Document) {
		rep, err := p.IngestDocument(ctx, doc)
		if err == nil {
			log.Info("ingest: success", "collection", rep.Collection, "written", rep.Written)
			respond(log, msg, Reply{Report: rep})
			return
		}

		retries := natsutil.RetryCount(msg) + 1
		if retries < MaxRetries && !domain.IsInvalidInput(err) {
			if _, rerr := natsutil.Redeliver(ctx, nc, msg); rerr != nil {
				log.Error("ingest: retry publish failed", "err", rerr)
			}
			return
		}

		log.Error("ingest: dead-lettering request", "collection", doc.Collection, "source", doc.Source, "retries", retries, "err", err)
		dlq := dlqMessage{Document: doc, Error: err.Error(), Retries: retries}
		if perr := natsutil.Publish(ctx, nc, DLQSubject, dlq); perr != nil {
			log.Error("ingest: DLQ publish failed", "err", perr)
		}
		respond(log, msg, Reply{Report: rep, Error: err.Error()})
	}, malformed)
}

func respond(log *slog.Logger, msg *nats.Msg, r Reply) {
	if err := natsutil.Respond(msg, r); err != nil {
		log.Warn("ingest: reply failed", "err", err)
	}
}

// Enqueue publishes one request per document without waiting.
func Enqueue(ctx context.Context, nc *nats.Conn, docs []Document) error {
	for _, d := range docs {
		if err := natsutil.Publish(ctx, nc, RequestSubject, d); err != nil {
			return err
		}
	}
	return nc.Flush()
}

// Submit sends one request and waits for the consumer's reply.
func Submit(ctx context.Context, nc *nats.Conn, doc Document) (Reply, error) {
	return natsutil.Request[Document, Reply](ctx, nc, RequestSubject, doc)
}
