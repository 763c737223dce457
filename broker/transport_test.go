package broker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/jsonrpc-go/broker"
	"github.com/ggoodman/jsonrpc-go/broker/memorybroker"
	"github.com/ggoodman/jsonrpc-go/client"
	"github.com/ggoodman/jsonrpc-go/jsonrpc"
	"github.com/ggoodman/jsonrpc-go/server"
	"github.com/ggoodman/jsonrpc-go/transport"
)

func TestTransport_ClientServerOverBroker(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	b := memorybroker.New()
	ct, st := broker.Pair(b, broker.WithCleanupOnClose())
	defer ct.Close()
	defer st.Close()

	srv := server.New()
	defer srv.Close(context.Background())
	srv.RegisterMethod("add", server.Method(func(ctx context.Context, p []int) (int, error) {
		return p[0] + p[1], nil
	}))

	served := make(chan error, 1)
	go func() {
		served <- st.Receive(ctx, func(msg jsonrpc.Message) {
			srv.Dispatch(ctx, msg, func(reply jsonrpc.Message) { _ = st.Send(ctx, reply) })
		})
	}()

	c := client.New(ct)
	received := make(chan error, 1)
	go func() { received <- ct.Receive(ctx, c.OnMessage) }()

	var sum int
	if err := c.Call(ctx, "add", []int{40, 2}, &sum); err != nil {
		t.Fatalf("call: %v", err)
	}
	if sum != 42 {
		t.Fatalf("expected 42, got %d", sum)
	}
	if ct.LastEventID() == broker.FromStart {
		t.Fatalf("expected the last event id to advance")
	}

	_ = st.Close()
	_ = ct.Close()
	for _, ch := range []chan error{served, received} {
		if err := <-ch; err != nil {
			t.Fatalf("expected nil after close, got %v", err)
		}
	}
	if err := ct.Send(ctx, jsonrpc.Message(`{}`)); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestTransport_ReplaysMessagesSentBeforeReceive(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	b := memorybroker.New()
	left, right := broker.Pair(b)
	defer left.Close()
	defer right.Close()

	for _, m := range []string{`{"n":1}`, `{"n":2}`} {
		if err := left.Send(ctx, jsonrpc.Message(m)); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	got := make(chan string, 2)
	go func() { _ = right.Receive(ctx, func(m jsonrpc.Message) { got <- string(m) }) }()
	for _, want := range []string{`{"n":1}`, `{"n":2}`} {
		select {
		case m := <-got:
			if m != want {
				t.Fatalf("got %s want %s", m, want)
			}
		case <-ctx.Done():
			t.Fatalf("missing %s", want)
		}
	}

	// A replacement resumes after what was already seen.
	last := right.LastEventID()
	_ = right.Close()
	if err := left.Send(ctx, jsonrpc.Message(`{"n":3}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	resumed := broker.NewTransport(b, right.Inbox(), right.Outbox(), broker.WithResumeAfter(last))
	defer resumed.Close()
	go func() { _ = resumed.Receive(ctx, func(m jsonrpc.Message) { got <- string(m) }) }()
	select {
	case m := <-got:
		if m != `{"n":3}` {
			t.Fatalf("expected only the new message, got %s", m)
		}
	case <-ctx.Done():
		t.Fatalf("resumed transport received nothing")
	}
}
