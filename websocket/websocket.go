// Package websocket carries JSON-RPC messages over WebSocket connections, one
// message per text frame.
package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/jsonrpc-go/jsonrpc"
	"github.com/ggoodman/jsonrpc-go/transport"
	"github.com/gorilla/websocket"
)

// Subprotocol is offered by Dial and accepted by Upgrade.
const Subprotocol = "jsonrpc"

const closeGracePeriod = time.Second

// Transport is a JSON-RPC transport over a single WebSocket connection.
type Transport struct {
	conn *websocket.Conn
	log  *slog.Logger

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Option customizes a Transport.
type Option func(*Transport)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.log = l
		}
	}
}

// New wraps an established connection.
func New(conn *websocket.Conn, opts ...Option) *Transport {
	t := &Transport{conn: conn}
	t.apply(opts)
	return t
}

func (t *Transport) apply(opts []Option) {
	t.log = slog.New(slog.DiscardHandler)
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
}

var upgrader = websocket.Upgrader{
	Subprotocols: []string{Subprotocol},
	CheckOrigin:  func(r *http.Request) bool { return true },
}

// Upgrade upgrades an HTTP request to a WebSocket Transport. On failure the
// upgrader has already written an HTTP error response.
func Upgrade(w http.ResponseWriter, r *http.Request, opts ...Option) (*Transport, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return New(conn, opts...), nil
}

// Handler returns an http.Handler that upgrades each request and calls fn
// with the resulting transport. The transport is closed when fn returns.
func Handler(fn func(ctx context.Context, t *Transport), opts ...Option) http.Handler {
	var cfg Transport
	cfg.apply(opts)
	log := cfg.log

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t, err := Upgrade(w, r, opts...)
		if err != nil {
			log.InfoContext(r.Context(), "websocket.upgrade.fail", slog.String("err", err.Error()))
			return
		}
		defer t.Close()
		fn(r.Context(), t)
	})
}

// Dial connects to a ws:// or wss:// URL.
func Dial(ctx context.Context, url string, opts ...Option) (*Transport, error) {
	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
		Subprotocols:     []string{Subprotocol},
	}
	conn, resp, err := d.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return New(conn, opts...), nil
}

// Send writes msg as one text frame.
func (t *Transport) Send(ctx context.Context, msg jsonrpc.Message) error {
	if t.closed.Load() {
		return transport.ErrClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(dl)
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.log.InfoContext(ctx, "websocket.write.fail", slog.String("err", err.Error()))
		return err
	}
	return nil
}

// Receive reads frames until the peer closes the connection, ctx ends or the
// transport is closed. Binary frames are accepted as well; other frame types
// are handled by the websocket library.
func (t *Transport) Receive(ctx context.Context, fn func(msg jsonrpc.Message)) error {
	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if t.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				t.log.InfoContext(ctx, "websocket.closed", slog.Int("code", closeErr.Code), slog.String("text", closeErr.Text))
			}
			return err
		}
		fn(jsonrpc.Message(data))
	}
}

// Close sends a close frame and closes the connection.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		// WriteControl may run concurrently with an in-flight Send.
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

var _ transport.Transport = (*Transport)(nil)
