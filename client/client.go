package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/jsonrpc-go/jsonrpc"
	"github.com/ggoodman/jsonrpc-go/metrics"
	"github.com/ggoodman/jsonrpc-go/transport"
	"github.com/juju/clock"
)

// maxIDAttempts bounds the search for an id that is not already pending.
const maxIDAttempts = 1000

// Client issues JSON-RPC calls over a transport.Sender and correlates the
// responses handed to OnMessage or HandlePayload. It is safe for concurrent
// use.
type Client struct {
	sender         transport.Sender
	log            *slog.Logger
	clock          clock.Clock
	ids            IDGenerator
	defaultTimeout time.Duration
	metrics        *metrics.Collector

	mu       sync.Mutex
	pending  map[string]*PendingCall
	closed   bool
	closeErr error
}

// New constructs a Client that sends through sender.
func New(sender transport.Sender, opts ...Option) *Client {
	c := &Client{
		sender:  sender,
		log:     slog.New(slog.DiscardHandler),
		clock:   clock.WallClock,
		ids:     Sequential(),
		pending: make(map[string]*PendingCall),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Go sends a request and returns its handle without waiting for the response.
// A transport failure is returned synchronously as a *jsonrpc.TransportError
// and leaves nothing pending.
func (c *Client) Go(ctx context.Context, method string, params any, opts ...CallOption) (*PendingCall, error) {
	p := c.newCall(method, opts)
	req, err := c.register(p, params)
	if err != nil {
		return nil, err
	}
	msg, err := jsonrpc.Encode(req)
	if err != nil {
		c.abandon(p)
		return nil, err
	}
	if err := c.sender.Send(ctx, msg); err != nil {
		c.abandon(p)
		c.log.InfoContext(ctx, "client.request.send_fail", slog.String("method", method), slog.String("err", err.Error()))
		return nil, &jsonrpc.TransportError{Op: "send", Err: err}
	}
	c.log.DebugContext(ctx, "client.request.sent", slog.String("method", method), slog.String("id", p.id.String()))
	return p, nil
}

// Call sends a request, waits for the response and decodes its result into
// result (which may be nil to discard it). A failure response is returned as
// a *jsonrpc.Error.
func (c *Client) Call(ctx context.Context, method string, params any, result any, opts ...CallOption) error {
	p, err := c.Go(ctx, method, params, opts...)
	if err != nil {
		return err
	}
	return p.Decode(ctx, result)
}

// Notify sends a notification. No response is expected.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	req, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	msg, err := jsonrpc.Encode(req)
	if err != nil {
		return err
	}
	if err := c.sender.Send(ctx, msg); err != nil {
		c.log.InfoContext(ctx, "client.notification.send_fail", slog.String("method", method), slog.String("err", err.Error()))
		return &jsonrpc.TransportError{Op: "send", Err: err}
	}
	return nil
}

// OnMessage parses a raw inbound message and resolves the calls answered by
// it. Entries that are not responses are dropped.
func (c *Client) OnMessage(raw jsonrpc.Message) {
	p, err := jsonrpc.Parse(raw)
	if err != nil {
		c.log.Info("client.message.invalid", slog.String("err", err.Error()))
		return
	}
	c.HandlePayload(p)
}

// HandlePayload resolves the calls answered by the response entries of p.
func (c *Client) HandlePayload(p *jsonrpc.Payload) {
	for _, e := range p.Entries {
		switch e.Kind {
		case jsonrpc.KindResponse:
			c.HandleResponse(e.Response)
		default:
			c.log.Info("client.message.ignored", slog.String("kind", e.Kind.String()))
		}
	}
}

// HandleResponse resolves the call matching resp.ID. Responses with a null,
// unknown or already resolved id are dropped.
func (c *Client) HandleResponse(resp *jsonrpc.Response) {
	if resp == nil || resp.ID.IsNil() {
		attrs := []any{}
		if resp != nil && resp.Error != nil {
			attrs = append(attrs, slog.Int("code", int(resp.Error.Code)), slog.String("message", resp.Error.Message))
		}
		c.log.Warn("client.response.null_id", attrs...)
		c.metrics.UnmatchedResponse()
		return
	}

	c.mu.Lock()
	p, ok := c.pending[resp.ID.Key()]
	c.mu.Unlock()
	if !ok {
		c.log.Info("client.response.unmatched", slog.String("id", resp.ID.String()))
		c.metrics.UnmatchedResponse()
		return
	}

	var err error
	if resp.Error != nil {
		err = resp.Error
	}
	if !c.complete(p, resp.Result, err) {
		c.log.Info("client.response.unmatched", slog.String("id", resp.ID.String()))
		c.metrics.UnmatchedResponse()
	}
}

// Pending reports the number of unresolved calls.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close fails every pending call with err (jsonrpc.ErrClosed when nil) and
// rejects new calls with the same error. Only the first Close has an effect.
func (c *Client) Close(err error) {
	if err == nil {
		err = jsonrpc.ErrClosed
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	calls := make([]*PendingCall, 0, len(c.pending))
	for key, p := range c.pending {
		delete(c.pending, key)
		calls = append(calls, p)
	}
	c.mu.Unlock()

	for _, p := range calls {
		c.finish(p, nil, err)
	}
	if len(calls) > 0 {
		c.log.Info("client.closed", slog.Int("failed_calls", len(calls)), slog.String("err", err.Error()))
	}
}

func (c *Client) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.closeErr
	}
	return nil
}

func (c *Client) newCall(method string, opts []CallOption) *PendingCall {
	cfg := callConfig{timeout: c.defaultTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return newPendingCall(c, method, cfg.timeout)
}

// register allocates an id for p, inserts it into the pending table and arms
// its timer. It returns the request to send.
func (c *Client) register(p *PendingCall, params any) (*jsonrpc.Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, c.closeErr
	}
	if err := c.assignID(p); err != nil {
		return nil, err
	}
	req, err := jsonrpc.NewRequest(p.id, p.method, params)
	if err != nil {
		return nil, err
	}
	c.insert(p)
	return req, nil
}

// assignID must be called with c.mu held.
func (c *Client) assignID(p *PendingCall) error {
	for i := 0; i < maxIDAttempts; i++ {
		id := c.ids.NextID()
		if id == nil || id.IsNil() {
			return errors.New("client: id generator returned a null id")
		}
		if _, taken := c.pending[id.Key()]; !taken {
			p.id, p.key = id, id.Key()
			return nil
		}
	}
	return fmt.Errorf("client: no free request id after %d attempts", maxIDAttempts)
}

// insert must be called with c.mu held.
func (c *Client) insert(p *PendingCall) {
	c.pending[p.key] = p
	p.started = c.clock.Now()
	if p.timeout > 0 {
		p.timer = c.clock.AfterFunc(p.timeout, func() {
			if c.complete(p, nil, jsonrpc.ErrTimeout) {
				c.log.Info("client.request.timeout", slog.String("method", p.method), slog.String("id", p.id.String()))
			}
		})
	}
	c.metrics.CallStarted()
}

// complete removes p from the pending table and resolves it. It reports
// false when p was no longer pending, in which case nothing happens.
func (c *Client) complete(p *PendingCall, result json.RawMessage, err error) bool {
	c.mu.Lock()
	cur, ok := c.pending[p.key]
	if !ok || cur != p {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, p.key)
	c.mu.Unlock()

	c.finish(p, result, err)
	return true
}

// cancel resolves p locally. Calls that never reached the pending table, such
// as entries of an unsent batch, are resolved directly.
func (c *Client) cancel(p *PendingCall, err error) {
	if !c.complete(p, nil, err) {
		c.finish(p, nil, err)
	}
}

func (c *Client) finish(p *PendingCall, result json.RawMessage, err error) {
	if p.resolve(result, err) && !p.started.IsZero() {
		c.metrics.CallFinished(p.method, outcomeLabel(err), c.clock.Now().Sub(p.started))
	}
}

// abandon removes a call that was never handed to the caller.
func (c *Client) abandon(p *PendingCall) {
	c.mu.Lock()
	if cur, ok := c.pending[p.key]; ok && cur == p {
		delete(c.pending, p.key)
	}
	c.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	c.metrics.CallFinished(p.method, "closed", 0)
}
