// Package peer binds a transport to a JSON-RPC server and client so one
// connection can both answer and issue calls.
package peer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/jsonrpc-go/client"
	"github.com/ggoodman/jsonrpc-go/internal/logctx"
	"github.com/ggoodman/jsonrpc-go/jsonrpc"
	"github.com/ggoodman/jsonrpc-go/server"
	"github.com/ggoodman/jsonrpc-go/transport"
	"github.com/google/uuid"
)

// ErrRunning is returned by Serve when the Conn is already serving.
var ErrRunning = errors.New("peer: already running")

// Conn is one end of a bidirectional JSON-RPC connection. Inbound requests
// and notifications go to its Server; inbound responses resolve calls made
// through its Client.
type Conn struct {
	t          transport.Transport
	srv        *server.Server
	ownsServer bool
	client     *client.Client
	log        *slog.Logger
	name       string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	closeOnce sync.Once
}

// Option configures a Conn.
type Option func(*config)

type config struct {
	srv        *server.Server
	clientOpts []client.Option
	log        *slog.Logger
	name       string
}

// WithServer routes inbound requests to srv. Without it the Conn answers
// every request with Method not found. The Conn does not close srv.
func WithServer(srv *server.Server) Option {
	return func(c *config) { c.srv = srv }
}

// WithClientOptions configures the Conn's client.
func WithClientOptions(opts ...client.Option) Option {
	return func(c *config) { c.clientOpts = append(c.clientOpts, opts...) }
}

// WithLogger sets the logger for connection events. The client inherits it
// unless WithClientOptions sets another.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// WithTransportName labels the connection in log records.
func WithTransportName(name string) Option {
	return func(c *config) { c.name = name }
}

// New returns a Conn over t. Call Serve to start reading.
func New(t transport.Transport, opts ...Option) *Conn {
	cfg := config{log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	log := logctx.Wrap(cfg.log)

	c := &Conn{
		t:    t,
		srv:  cfg.srv,
		log:  log,
		name: cfg.name,
		done: make(chan struct{}),
	}
	if c.srv == nil {
		c.srv = server.New(server.WithLogger(cfg.log))
		c.ownsServer = true
	}
	clientOpts := append([]client.Option{client.WithLogger(log)}, cfg.clientOpts...)
	c.client = client.New(t, clientOpts...)
	return c
}

// Server returns the server handling inbound requests.
func (c *Conn) Server() *server.Server { return c.srv }

// Client returns the client issuing outbound calls.
func (c *Conn) Client() *client.Client { return c.client }

// Call is shorthand for Client().Call.
func (c *Conn) Call(ctx context.Context, method string, params any, result any, opts ...client.CallOption) error {
	return c.client.Call(ctx, method, params, result, opts...)
}

// Go is shorthand for Client().Go.
func (c *Conn) Go(ctx context.Context, method string, params any, opts ...client.CallOption) (*client.PendingCall, error) {
	return c.client.Go(ctx, method, params, opts...)
}

// Notify is shorthand for Client().Notify.
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	return c.client.Notify(ctx, method, params)
}

// Running reports whether Serve is reading from the transport.
func (c *Conn) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Done is closed when Serve has returned.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Serve reads from the transport until ctx ends, the transport is closed or
// the remote end goes away. Outstanding calls fail once it returns. A Conn
// serves at most once.
func (c *Conn) Serve(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrRunning
	}
	select {
	case <-c.done:
		c.mu.Unlock()
		return transport.ErrClosed
	default:
	}
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.mu.Unlock()

	ctx = logctx.WithConnData(ctx, &logctx.ConnData{ConnID: uuid.NewString(), Transport: c.name})
	start := time.Now()
	c.log.InfoContext(ctx, "peer.serve.start")

	err := c.t.Receive(ctx, func(msg jsonrpc.Message) { c.route(ctx, msg) })
	cancel()

	clientErr := jsonrpc.ErrClosed
	if err != nil && !errors.Is(err, context.Canceled) {
		clientErr = &jsonrpc.TransportError{Op: "receive", Err: err}
	}
	c.client.Close(clientErr)

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	close(c.done)

	if err != nil {
		c.log.InfoContext(ctx, "peer.serve.stop", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.String("err", err.Error()))
	} else {
		c.log.InfoContext(ctx, "peer.serve.stop", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	}
	if errors.Is(err, context.Canceled) && parent.Err() == nil {
		// Stopped by Close.
		return nil
	}
	return err
}

// route splits one inbound message between the client and the server. The
// server sees the same batch shape minus the responses.
func (c *Conn) route(ctx context.Context, msg jsonrpc.Message) {
	p, err := jsonrpc.Parse(msg)
	if err != nil {
		// Dispatch reparses and answers with the parse error.
		c.srv.Dispatch(ctx, msg, c.reply(ctx))
		return
	}

	inbound := &jsonrpc.Payload{Batch: p.Batch}
	for _, e := range p.Entries {
		if e.Kind == jsonrpc.KindResponse {
			c.client.HandleResponse(e.Response)
			continue
		}
		inbound.Entries = append(inbound.Entries, e)
	}
	if len(inbound.Entries) > 0 {
		c.srv.DispatchPayload(ctx, inbound, c.reply(ctx))
	}
}

func (c *Conn) reply(ctx context.Context) server.ReplyFunc {
	return func(msg jsonrpc.Message) {
		if err := c.t.Send(ctx, msg); err != nil {
			c.log.WarnContext(ctx, "peer.reply.send_fail", slog.String("err", err.Error()))
		}
	}
}

// Close stops Serve, fails outstanding calls with ErrClosed and closes the
// transport. A server created by the Conn is closed too.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		cancel, running := c.cancel, c.running
		if !running && cancel == nil {
			// Never served.
			close(c.done)
		}
		c.mu.Unlock()

		c.client.Close(jsonrpc.ErrClosed)
		err = c.t.Close()
		if cancel != nil {
			cancel()
		}
		if running {
			<-c.done
		}
		if c.ownsServer {
			ctx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			if serr := c.srv.Close(ctx); serr != nil && err == nil {
				err = serr
			}
		}
	})
	return err
}
