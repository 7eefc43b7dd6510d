package natsutil

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

type testMsg struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func startNATS(t *testing.T) *nats.Conn {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatalf("nats server: %v", err)
	}
	ns.Start()
	if !ns.ReadyForConnections(2 * time.Second) {
		t.Fatal("nats server not ready")
	}
	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("nats connect: %v", err)
	}
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
	})
	return nc
}

func TestNatsHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)

	carrier.Set("traceparent", "00-abc-def-01")
	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("expected traceparent, got %q", got)
	}

	keys := carrier.Keys()
	if len(keys) != 1 {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestNatsHeaderCarrierNilHeader(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)

	if got := carrier.Get("missing"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if keys := carrier.Keys(); keys != nil {
		t.Fatalf("expected nil keys, got %v", keys)
	}
}

func TestRetryCount(t *testing.T) {
	cases := []struct {
		header string
		want   int
	}{
		{"", 0},
		{"2", 2},
		{"abc", 0},
		{"-1", 0},
	}
	for _, c := range cases {
		msg := &nats.Msg{Header: nats.Header{}}
		if c.header != "" {
			msg.Header.Set(RetryHeader, c.header)
		}
		if got := RetryCount(msg); got != c.want {
			t.Errorf("RetryCount(%q) = %d, want %d", c.header, got, c.want)
		}
	}
	if RetryCount(&nats.Msg{}) != 0 {
		t.Error("nil header should count as 0")
	}
}

func TestPublishSubscribe(t *testing.T) {
	nc := startNATS(t)

	got := make(chan testMsg, 1)
	sub, err := Subscribe(nc, "test.pubsub", nil, func(_ context.Context, _ *nats.Msg, m testMsg) {
		got <- m
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	// A malformed message must not reach the handler.
	if err := nc.Publish("test.pubsub", []byte("{invalid")); err != nil {
		t.Fatal(err)
	}
	if err := Publish(context.Background(), nc, "test.pubsub", testMsg{Name: "a", Value: 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case m := <-got:
		if m.Name != "a" || m.Value != 1 {
			t.Fatalf("unexpected message %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestSubscribeOnMalformed(t *testing.T) {
	nc := startNATS(t)

	bad := make(chan string, 1)
	sub, err := Subscribe(nc, "test.malformed", nil, func(context.Context, *nats.Msg, testMsg) {
		t.Error("handler must not see malformed data")
	}, OnMalformed(func(_ context.Context, msg *nats.Msg, err error) {
		if err == nil {
			t.Error("expected a decode error")
		}
		bad <- string(msg.Data)
	}))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := nc.Publish("test.malformed", []byte("{invalid")); err != nil {
		t.Fatal(err)
	}
	select {
	case data := <-bad:
		if data != "{invalid" {
			t.Fatalf("unexpected data %q", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for malformed callback")
	}
}

func TestRedeliverBumpsHeader(t *testing.T) {
	nc := startNATS(t)

	counts := make(chan int, 3)
	sub, err := Subscribe(nc, "test.retry", nil, func(ctx context.Context, msg *nats.Msg, _ testMsg) {
		n := RetryCount(msg)
		counts <- n
		if n < 2 {
			if _, err := Redeliver(ctx, nc, msg); err != nil {
				t.Errorf("redeliver: %v", err)
			}
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := Publish(context.Background(), nc, "test.retry", testMsg{Name: "r"}); err != nil {
		t.Fatal(err)
	}
	for want := 0; want < 3; want++ {
		select {
		case n := <-counts:
			if n != want {
				t.Fatalf("delivery %d had retry count %d", want, n)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery %d", want)
		}
	}
}

func TestRequestRespond(t *testing.T) {
	nc := startNATS(t)

	sub, err := Subscribe(nc, "test.echo", nil, func(_ context.Context, msg *nats.Msg, m testMsg) {
		m.Value *= 2
		if err := Respond(msg, m); err != nil {
			t.Errorf("respond: %v", err)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := Request[testMsg, testMsg](ctx, nc, "test.echo", testMsg{Name: "x", Value: 21})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.Value != 42 || resp.Name != "x" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestRespondWithoutReply(t *testing.T) {
	if err := Respond(&nats.Msg{}, testMsg{}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
