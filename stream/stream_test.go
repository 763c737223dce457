package stream

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/jsonrpc-go/jsonrpc"
)

func TestLineFramer_Read(t *testing.T) {
	t.Parallel()

	in := "\n{\"a\":1}\n\r\n  {\"b\":2}  \n{\"c\":3}"
	r := bufio.NewReader(strings.NewReader(in))

	var got []string
	for {
		msg, err := LineFramer{}.ReadMessage(r, DefaultMaxMessageSize)
		if err != nil {
			break
		}
		got = append(got, string(msg))
	}
	want := []string{`{"a":1}`, `{"b":2}`, `{"c":3}`}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestLineFramer_CompactsMultilineMessages(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	w := bufio.NewWriter(&sb)
	if err := (LineFramer{}).WriteMessage(w, jsonrpc.Message("{\n  \"a\": 1\n}")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = w.Flush()
	if got := sb.String(); got != "{\"a\":1}\n" {
		t.Fatalf("got %q", got)
	}
}

func TestLineFramer_TooLarge(t *testing.T) {
	t.Parallel()

	r := bufio.NewReaderSize(strings.NewReader(strings.Repeat("x", 100)+"\n"), 16)
	if _, err := (LineFramer{}).ReadMessage(r, 50); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestHeaderFramer_RoundTrip(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	w := bufio.NewWriter(&sb)
	msgs := []string{`{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}`, `{"jsonrpc":"2.0","method":"stop"}`}
	for _, m := range msgs {
		if err := (HeaderFramer{}).WriteMessage(w, jsonrpc.Message(m)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	_ = w.Flush()

	if !strings.HasPrefix(sb.String(), "Content-Length: 54\r\nContent-Type: application/vscode-jsonrpc; charset=utf-8\r\n\r\n{") {
		t.Fatalf("unexpected framing: %q", sb.String())
	}

	r := bufio.NewReader(strings.NewReader(sb.String()))
	for _, want := range msgs {
		got, err := (HeaderFramer{}).ReadMessage(r, DefaultMaxMessageSize)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(got) != want {
			t.Fatalf("got %s want %s", got, want)
		}
	}
	if _, err := (HeaderFramer{}).ReadMessage(r, DefaultMaxMessageSize); err == nil || !strings.Contains(err.Error(), "EOF") {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestHeaderFramer_RejectsBadHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		max  int
	}{
		{"missing length", "Content-Type: application/json\r\n\r\n{}", DefaultMaxMessageSize},
		{"invalid length", "Content-Length: abc\r\n\r\n{}", DefaultMaxMessageSize},
		{"negative length", "Content-Length: -4\r\n\r\n{}", DefaultMaxMessageSize},
		{"too large", "Content-Length: 100\r\n\r\n{}", 10},
		{"short body", "Content-Length: 10\r\n\r\n{}", DefaultMaxMessageSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := bufio.NewReader(strings.NewReader(tt.in))
			if _, err := (HeaderFramer{}).ReadMessage(r, tt.max); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

func TestTransport_ExchangeOverConn(t *testing.T) {
	t.Parallel()

	for _, f := range []Framer{LineFramer{}, HeaderFramer{}} {
		a, b := net.Pipe()
		left := NewConn(a, WithFramer(f))
		right := NewConn(b, WithFramer(f))

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		got := make(chan string, 2)
		done := make(chan error, 1)
		go func() { done <- right.Receive(ctx, func(m jsonrpc.Message) { got <- string(m) }) }()

		for _, m := range []string{`{"x":1}`, `[{"y":2}]`} {
			if err := left.Send(ctx, jsonrpc.Message(m)); err != nil {
				t.Fatalf("%T send: %v", f, err)
			}
		}
		for _, want := range []string{`{"x":1}`, `[{"y":2}]`} {
			if m := <-got; m != want {
				t.Fatalf("%T: got %s want %s", f, m, want)
			}
		}

		_ = left.Close()
		if err := <-done; err != nil {
			t.Fatalf("%T: expected clean end of stream, got %v", f, err)
		}
		_ = right.Close()
		if err := left.Send(ctx, jsonrpc.Message(`{}`)); err == nil {
			t.Fatalf("%T: expected send after close to fail", f)
		}
		cancel()
	}
}

func TestTransport_ReceiveStopsWithContext(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	defer a.Close()
	tr := NewConn(b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Receive(ctx, func(jsonrpc.Message) {}) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Receive did not stop")
	}
}

func TestStdio_ReceiveStopsWithContext(t *testing.T) {
	t.Parallel()

	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer pr.Close()
	defer pw.Close()

	tr := stdio(pr, io.Discard)
	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- tr.Receive(ctx, func(m jsonrpc.Message) { got <- string(m) }) }()

	if _, err := pw.Write([]byte("{\"a\":1}\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case m := <-got:
		if m != `{"a":1}` {
			t.Fatalf("unexpected message %s", m)
		}
	case <-time.After(time.Second):
		t.Fatalf("message not received")
	}

	// Nothing more arrives on the pipe; the read stays blocked.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("Receive still blocked after cancel")
	}
}

func TestServe_AcceptsConnections(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- Serve(ctx, l, func(ctx context.Context, t *Transport) {
			// Echo every message back.
			_ = t.Receive(ctx, func(m jsonrpc.Message) { _ = t.Send(ctx, m) })
		}, WithFramer(HeaderFramer{}))
	}()

	dctx, dcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dcancel()
	c, err := Dial(dctx, "tcp", l.Addr().String(), WithFramer(HeaderFramer{}))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	got := make(chan string, 1)
	go func() { _ = c.Receive(dctx, func(m jsonrpc.Message) { got <- string(m) }) }()
	if err := c.Send(dctx, jsonrpc.Message(`{"ping":true}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case m := <-got:
		if m != `{"ping":true}` {
			t.Fatalf("unexpected echo %s", m)
		}
	case <-dctx.Done():
		t.Fatalf("no echo received")
	}

	cancel()
	select {
	case err := <-served:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled from Serve, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return")
	}
}
