package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/jsonrpc-go/jsonrpc"
	"github.com/ggoodman/jsonrpc-go/transport"
	"github.com/google/uuid"
)

var _ transport.Transport = (*Transport)(nil)

// Transport is a transport.Transport backed by a Broker. It publishes outgoing
// messages to one namespace and subscribes to another, so two Transports with
// swapped namespaces form a connection that can span processes.
type Transport struct {
	b       Broker
	inbox   string
	outbox  string
	log     *slog.Logger
	cleanup bool

	mu     sync.Mutex
	lastID string

	done      chan struct{}
	closeOnce sync.Once
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithTransportLogger sets the logger used for transport events.
func WithTransportLogger(log *slog.Logger) TransportOption {
	return func(t *Transport) {
		if log != nil {
			t.log = log
		}
	}
}

// WithResumeAfter makes the first Receive resume after eventID instead of
// replaying the whole inbox. An empty eventID receives only messages
// published once Receive is running, which suits long-lived shared
// namespaces.
func WithResumeAfter(eventID string) TransportOption {
	return func(t *Transport) { t.lastID = eventID }
}

// WithCleanupOnClose removes the inbox namespace from the broker when the
// transport is closed.
func WithCleanupOnClose() TransportOption {
	return func(t *Transport) { t.cleanup = true }
}

// NewTransport returns a transport that receives from inbox and sends to
// outbox. By default Receive replays everything retained in inbox, so
// messages published before the receiver starts are not lost.
func NewTransport(b Broker, inbox, outbox string, opts ...TransportOption) *Transport {
	t := &Transport{
		b:      b,
		inbox:  inbox,
		outbox: outbox,
		log:    slog.New(slog.DiscardHandler),
		lastID: FromStart,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Pair returns two connected transports over b, using fresh namespaces.
func Pair(b Broker, opts ...TransportOption) (*Transport, *Transport) {
	base := uuid.NewString()
	left, right := base+":a", base+":b"
	return NewTransport(b, left, right, opts...), NewTransport(b, right, left, opts...)
}

// Inbox is the namespace this transport receives from.
func (t *Transport) Inbox() string { return t.inbox }

// Outbox is the namespace this transport publishes to.
func (t *Transport) Outbox() string { return t.outbox }

// LastEventID is the ID of the last message handed to a receive callback. It
// can seed WithResumeAfter for a replacement transport.
func (t *Transport) LastEventID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastID
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Send publishes msg to the outbox namespace.
func (t *Transport) Send(ctx context.Context, msg jsonrpc.Message) error {
	if t.isClosed() {
		return transport.ErrClosed
	}
	if _, err := t.b.Publish(ctx, t.outbox, msg); err != nil {
		return &jsonrpc.TransportError{Op: "publish", Err: err}
	}
	return nil
}

// Receive subscribes to the inbox and hands each message to fn. It returns
// nil once the transport is closed.
func (t *Transport) Receive(ctx context.Context, fn func(msg jsonrpc.Message)) error {
	if t.isClosed() {
		return transport.ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-subCtx.Done():
		}
	}()

	start := t.LastEventID()
	t.log.DebugContext(ctx, "broker.transport.receive.start", slog.String("inbox", t.inbox), slog.String("after", start))

	err := t.b.Subscribe(subCtx, t.inbox, start, func(_ context.Context, env MessageEnvelope) error {
		t.mu.Lock()
		t.lastID = env.ID
		t.mu.Unlock()
		fn(env.Data)
		return nil
	})

	switch {
	case t.isClosed():
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case err == nil:
		return nil
	case errors.Is(err, ErrUnknownEventID):
		return err
	default:
		return &jsonrpc.TransportError{Op: "subscribe", Err: err}
	}
}

// Close stops Send and any running Receive.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		if t.cleanup {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err = t.b.Cleanup(ctx, t.inbox); err != nil {
				t.log.Error("broker.transport.cleanup.fail", slog.String("inbox", t.inbox), slog.String("err", err.Error()))
			}
		}
	})
	return err
}
