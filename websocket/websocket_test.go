package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/jsonrpc-go/jsonrpc"
)

func TestTransport_Echo(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(Handler(func(ctx context.Context, tr *Transport) {
		_ = tr.Receive(ctx, func(m jsonrpc.Message) { _ = tr.Send(ctx, m) })
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, err := Dial(ctx, url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if got := c.conn.Subprotocol(); got != Subprotocol {
		t.Fatalf("expected negotiated subprotocol %q, got %q", Subprotocol, got)
	}

	got := make(chan string, 2)
	done := make(chan error, 1)
	go func() { done <- c.Receive(ctx, func(m jsonrpc.Message) { got <- string(m) }) }()

	for _, m := range []string{`{"jsonrpc":"2.0","method":"a"}`, `[{"jsonrpc":"2.0","method":"b"}]`} {
		if err := c.Send(ctx, jsonrpc.Message(m)); err != nil {
			t.Fatalf("send: %v", err)
		}
		select {
		case echo := <-got:
			if echo != m {
				t.Fatalf("got %s want %s", echo, m)
			}
		case <-ctx.Done():
			t.Fatalf("no echo for %s", m)
		}
	}

	_ = c.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Receive did not return after Close")
	}
	if err := c.Send(ctx, jsonrpc.Message(`{}`)); err == nil {
		t.Fatalf("expected send after close to fail")
	}
}

func TestHandler_RejectsPlainHTTP(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(Handler(func(context.Context, *Transport) {
		t.Errorf("handler must not run without an upgrade")
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
