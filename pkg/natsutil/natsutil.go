// Package natsutil provides typed NATS publish/subscribe/request helpers
// with OpenTelemetry trace propagation.
package natsutil

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// RetryHeader carries the number of failed deliveries of a message.
const RetryHeader = "X-Retry-Count"

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Publish serializes v as JSON and publishes to the given subject.
// Trace context from ctx is injected into NATS message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return PublishMsg(ctx, nc, &nats.Msg{Subject: subject, Data: data})
}

// PublishMsg publishes a prepared message after injecting trace context.
func PublishMsg(ctx context.Context, nc *nats.Conn, msg *nats.Msg) error {
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return nc.PublishMsg(msg)
}

// Redeliver republishes msg to its own subject, keeping the reply inbox and
// bumping the retry header. It returns the new retry count.
func Redeliver(ctx context.Context, nc *nats.Conn, msg *nats.Msg) (int, error) {
	retries := RetryCount(msg) + 1
	out := &nats.Msg{
		Subject: msg.Subject,
		Reply:   msg.Reply,
		Data:    msg.Data,
		Header:  nats.Header{},
	}
	out.Header.Set(RetryHeader, strconv.Itoa(retries))
	return retries, PublishMsg(ctx, nc, out)
}

// RetryCount reads the retry header, treating a missing or bad value as 0.
func RetryCount(msg *nats.Msg) int {
	if msg.Header == nil {
		return 0
	}
	n, err := strconv.Atoi(msg.Header.Get(RetryHeader))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// SubscribeOption customizes Subscribe.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	onMalformed func(ctx context.Context, msg *nats.Msg, err error)
}

// OnMalformed sets a callback for messages that fail to decode. Without it
// they are logged and dropped.
func OnMalformed(f func(ctx context.Context, msg *nats.Msg, err error)) SubscribeOption {
	return func(c *subscribeConfig) { c.onMalformed = f }
}

// Subscribe registers a handler that deserializes JSON messages of type T.
// Trace context is extracted from NATS message headers and passed to the
// handler along with the raw message.
func Subscribe[T any](nc *nats.Conn, subject string, logger *slog.Logger, handler func(context.Context, *nats.Msg, T), opts ...SubscribeOption) (*nats.Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var cfg subscribeConfig
	for _, o := range opts {
		o(&cfg)
	}
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			if cfg.onMalformed != nil {
				cfg.onMalformed(ctx, msg, err)
				return
			}
			logger.Warn("natsutil: dropping malformed message", "subject", msg.Subject, "err", err)
			return
		}
		handler(ctx, msg, v)
	})
}

// Respond answers a request message with v as JSON. Messages without a
// reply inbox are ignored.
func Respond[T any](msg *nats.Msg, v T) error {
	if msg.Reply == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return msg.Respond(data)
}

// Request sends a JSON-encoded request and decodes the response. The
// request is bounded by ctx, so callers must set a deadline.
func Request[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req) (Resp, error) {
	var zero Resp
	data, err := json.Marshal(req)
	if err != nil {
		return zero, err
	}
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
	}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	resp, err := nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return zero, err
	}
	var result Resp
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return zero, err
	}
	return result, nil
}
