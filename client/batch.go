package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/ggoodman/jsonrpc-go/jsonrpc"
)

// ErrEmptyBatch is returned when sending a batch with no entries.
var ErrEmptyBatch = errors.New("client: empty batch")

// Batch accumulates calls and notifications that are sent as one JSON array.
// A Batch is not safe for concurrent use.
type Batch struct {
	c       *Client
	entries []batchEntry
}

type batchEntry struct {
	method string
	params any
	call   *PendingCall
}

// NewBatch starts an empty batch.
func (c *Client) NewBatch() *Batch {
	return &Batch{c: c}
}

// Call adds a request to the batch. The returned handle resolves once the
// batch has been sent and the peer answers; its ID is assigned by Send.
func (b *Batch) Call(method string, params any, opts ...CallOption) *PendingCall {
	p := b.c.newCall(method, opts)
	b.entries = append(b.entries, batchEntry{method: method, params: params, call: p})
	return p
}

// Notify adds a notification to the batch.
func (b *Batch) Notify(method string, params any) {
	b.entries = append(b.entries, batchEntry{method: method, params: params})
}

// Len returns the number of entries added so far.
func (b *Batch) Len() int { return len(b.entries) }

// Send registers every call and sends the batch. On failure no call stays
// pending: each one is resolved with the returned error.
func (b *Batch) Send(ctx context.Context) error {
	if len(b.entries) == 0 {
		return ErrEmptyBatch
	}
	c := b.c

	reqs := make([]*jsonrpc.Request, 0, len(b.entries))
	var calls []*PendingCall
	fail := func(err error) error {
		for _, p := range calls {
			c.complete(p, nil, err)
		}
		for _, e := range b.entries {
			if e.call != nil {
				c.finish(e.call, nil, err)
			}
		}
		return err
	}

	for _, e := range b.entries {
		if e.call == nil {
			req, err := jsonrpc.NewNotification(e.method, e.params)
			if err != nil {
				return fail(err)
			}
			reqs = append(reqs, req)
			continue
		}
		select {
		case <-e.call.done:
			// Cancelled before the batch went out.
			continue
		default:
		}
		req, err := c.register(e.call, e.params)
		if err != nil {
			return fail(err)
		}
		calls = append(calls, e.call)
		reqs = append(reqs, req)
	}

	if len(reqs) == 0 {
		return ErrEmptyBatch
	}
	raw, err := json.Marshal(reqs)
	if err != nil {
		return fail(err)
	}
	if err := c.sender.Send(ctx, jsonrpc.Message(raw)); err != nil {
		c.log.InfoContext(ctx, "client.batch.send_fail", slog.Int("entries", len(reqs)), slog.String("err", err.Error()))
		return fail(&jsonrpc.TransportError{Op: "send", Err: err})
	}
	c.log.DebugContext(ctx, "client.batch.sent", slog.Int("entries", len(reqs)), slog.Int("calls", len(calls)))
	return nil
}
