package stream

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/jsonrpc-go/jsonrpc"
	"github.com/ggoodman/jsonrpc-go/transport"
)

// Transport carries framed JSON-RPC messages over a byte stream. Sends are
// serialised; Receive must be called by a single goroutine.
//
// Reads happen on a dedicated goroutine so Receive can return on
// cancellation even when the underlying reader cannot be interrupted, as
// with stdin.
type Transport struct {
	r      *bufio.Reader
	mux    *writeMux
	closer io.Closer
	framer Framer
	log    *slog.Logger
	max    int

	readOnce sync.Once
	reads    chan jsonrpc.Message
	readEnd  chan struct{}
	readErr  error

	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// writeMux serialises writes so concurrent replies never interleave.
type writeMux struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func (m *writeMux) write(f Framer, msg jsonrpc.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := f.WriteMessage(m.w, msg); err != nil {
		return err
	}
	return m.w.Flush()
}

// Option customizes a Transport.
type Option func(*Transport)

// WithFramer selects the framing. The default is LineFramer.
func WithFramer(f Framer) Option {
	return func(t *Transport) {
		if f != nil {
			t.framer = f
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.log = l
		}
	}
}

// WithCloser sets what Close closes. Closing it should unblock a pending read;
// otherwise the reading goroutine lingers until the next read returns.
func WithCloser(c io.Closer) Option {
	return func(t *Transport) { t.closer = c }
}

// WithMaxMessageSize bounds inbound messages. The default is
// DefaultMaxMessageSize.
func WithMaxMessageSize(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.max = n
		}
	}
}

// New returns a Transport reading from r and writing to w. If r or w
// implements io.Closer and no closer was configured, Close closes them.
func New(r io.Reader, w io.Writer, opts ...Option) *Transport {
	t := &Transport{
		r:       bufio.NewReader(r),
		mux:     &writeMux{w: bufio.NewWriter(w)},
		reads:   make(chan jsonrpc.Message),
		readEnd: make(chan struct{}),
		done:    make(chan struct{}),
	}
	t.apply(opts)
	if t.closer == nil {
		t.closer = closers(r, w)
	}
	return t
}

func (t *Transport) apply(opts []Option) {
	t.framer = LineFramer{}
	t.log = slog.New(slog.DiscardHandler)
	t.max = DefaultMaxMessageSize
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
}

// NewConn returns a Transport over a network connection.
func NewConn(conn net.Conn, opts ...Option) *Transport {
	return New(conn, conn, append([]Option{WithCloser(conn)}, opts...)...)
}

// Send writes one message.
func (t *Transport) Send(ctx context.Context, msg jsonrpc.Message) error {
	if t.closed.Load() {
		return transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.mux.write(t.framer, msg); err != nil {
		t.log.InfoContext(ctx, "stream.write.fail", slog.String("err", err.Error()))
		return err
	}
	return nil
}

// Receive reads messages until the stream ends, ctx ends or the transport is
// closed. When ctx ends the transport is closed and Receive returns
// ctx.Err() without waiting for a blocked read.
func (t *Transport) Receive(ctx context.Context, fn func(msg jsonrpc.Message)) error {
	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()

	t.readOnce.Do(func() { go t.readLoop() })

	for {
		select {
		case msg := <-t.reads:
			fn(msg)
		case <-t.readEnd:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			err := t.readErr
			if t.closed.Load() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			t.log.InfoContext(ctx, "stream.read.fail", slog.String("err", err.Error()))
			return err
		case <-t.done:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// readLoop feeds reads until the first read error, which it records before
// closing readEnd.
func (t *Transport) readLoop() {
	for {
		msg, err := t.framer.ReadMessage(t.r, t.max)
		if err != nil {
			t.readErr = err
			close(t.readEnd)
			return
		}
		select {
		case t.reads <- msg:
		case <-t.done:
			return
		}
	}
}

// Close closes the underlying stream. It is safe to call more than once.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.done)
		if t.closer != nil {
			t.closeErr = t.closer.Close()
		}
	})
	return t.closeErr
}

var _ transport.Transport = (*Transport)(nil)

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closers(r io.Reader, w io.Writer) io.Closer {
	var m multiCloser
	if c, ok := r.(io.Closer); ok {
		m = append(m, c)
	}
	if c, ok := w.(io.Closer); ok && any(w) != any(r) {
		m = append(m, c)
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
