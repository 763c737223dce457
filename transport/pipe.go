package transport

import (
	"bytes"
	"context"
	"sync"

	"github.com/ggoodman/jsonrpc-go/jsonrpc"
)

// Pipe returns two connected in-process transports. Messages sent on one are
// received by the other in order. Closing either end closes both.
func Pipe() (Transport, Transport) {
	shared := &pipeState{done: make(chan struct{})}
	ab := make(chan jsonrpc.Message, 64)
	ba := make(chan jsonrpc.Message, 64)
	return &pipeEnd{state: shared, in: ba, out: ab}, &pipeEnd{state: shared, in: ab, out: ba}
}

type pipeState struct {
	once sync.Once
	done chan struct{}
}

type pipeEnd struct {
	state *pipeState
	in    <-chan jsonrpc.Message
	out   chan<- jsonrpc.Message
}

func (p *pipeEnd) Send(ctx context.Context, msg jsonrpc.Message) error {
	// Copy so the caller may reuse its buffer.
	msg = jsonrpc.Message(bytes.Clone(msg))
	select {
	case <-p.state.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- msg:
		return nil
	case <-p.state.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Receive(ctx context.Context, fn func(msg jsonrpc.Message)) error {
	for {
		select {
		case msg := <-p.in:
			fn(msg)
		case <-p.state.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *pipeEnd) Close() error {
	p.state.once.Do(func() { close(p.state.done) })
	return nil
}
