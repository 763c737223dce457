package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ggoodman/jsonrpc-go/jsonrpc"
	"github.com/juju/clock"
)

// ErrPending is returned by PendingCall.Result before the call resolves.
var ErrPending = errors.New("client: call still pending")

// PendingCall is an in-flight request. It resolves exactly once: with the
// peer's response, a timeout, a cancellation or the client closing.
type PendingCall struct {
	c       *Client
	id      *jsonrpc.RequestID
	key     string
	method  string
	timeout time.Duration
	started time.Time

	timer clock.Timer

	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	result json.RawMessage
	err    error
	thens  []func(json.RawMessage, error)
}

func newPendingCall(c *Client, method string, timeout time.Duration) *PendingCall {
	return &PendingCall{
		c:       c,
		method:  method,
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// ID returns the request id.
func (p *PendingCall) ID() *jsonrpc.RequestID { return p.id }

// Method returns the method name.
func (p *PendingCall) Method() string { return p.method }

// Done is closed once the call resolves.
func (p *PendingCall) Done() <-chan struct{} { return p.done }

// Wait blocks until the call resolves or ctx ends. When ctx ends first the
// call is cancelled locally and fails with an error wrapping both
// jsonrpc.ErrCancelled and the context's cause. Nothing is sent to the peer.
//
// A failure response from the peer is returned as a *jsonrpc.Error.
func (p *PendingCall) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		p.c.cancel(p, fmt.Errorf("%w: %w", jsonrpc.ErrCancelled, context.Cause(ctx)))
		<-p.done
	}
	return p.outcome()
}

// Result returns the outcome without blocking. It returns ErrPending while
// the call is unresolved.
func (p *PendingCall) Result() (json.RawMessage, error) {
	select {
	case <-p.done:
		return p.outcome()
	default:
		return nil, ErrPending
	}
}

// Decode waits for the call and unmarshals its result into v.
func (p *PendingCall) Decode(ctx context.Context, v any) error {
	raw, err := p.Wait(ctx)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s result: %w", p.method, err)
	}
	return nil
}

// Then registers fn to run once the call resolves. fn runs on the goroutine
// that resolves the call (or immediately if it already has), so it must not
// block.
func (p *PendingCall) Then(fn func(result json.RawMessage, err error)) {
	p.mu.Lock()
	select {
	case <-p.done:
		res, err := p.result, p.err
		p.mu.Unlock()
		fn(res, err)
		return
	default:
	}
	p.thens = append(p.thens, fn)
	p.mu.Unlock()
}

// Cancel resolves the call with jsonrpc.ErrCancelled. It is a no-op once the
// call has resolved. A response arriving later is dropped.
func (p *PendingCall) Cancel() {
	p.c.cancel(p, jsonrpc.ErrCancelled)
}

func (p *PendingCall) outcome() (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result, p.err
}

// resolve records the outcome. Only the first call has any effect.
func (p *PendingCall) resolve(result json.RawMessage, err error) bool {
	resolved := false
	p.once.Do(func() {
		resolved = true
		if p.timer != nil {
			p.timer.Stop()
		}
		p.mu.Lock()
		p.result, p.err = result, err
		thens := p.thens
		p.thens = nil
		close(p.done)
		p.mu.Unlock()

		for _, fn := range thens {
			fn(result, err)
		}
	})
	return resolved
}

func outcomeLabel(err error) string {
	var jerr *jsonrpc.Error
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, jsonrpc.ErrTimeout):
		return "timeout"
	case errors.Is(err, jsonrpc.ErrCancelled):
		return "cancelled"
	case errors.As(err, &jerr):
		return "error"
	}
	return "closed"
}
