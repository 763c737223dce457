// Package transport defines the contract between the JSON-RPC engine and the
// byte-moving layer beneath it.
//
// A transport moves whole JSON-RPC messages (single objects or batch arrays).
// Framing is the transport's business; the engine only ever sees complete
// messages.
package transport

import (
	"context"
	"errors"

	"github.com/ggoodman/jsonrpc-go/jsonrpc"
)

// ErrClosed is returned by Send and Receive once the transport is closed.
var ErrClosed = errors.New("transport: closed")

// Sender delivers one message to the remote peer. Implementations must be
// safe for concurrent use; replies are sent from worker goroutines.
type Sender interface {
	Send(ctx context.Context, msg jsonrpc.Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg jsonrpc.Message) error

func (f SenderFunc) Send(ctx context.Context, msg jsonrpc.Message) error { return f(ctx, msg) }

// Receiver reads messages and hands each one to fn in arrival order. Receive
// blocks until ctx ends, the transport is closed or the remote end goes away.
// A clean end of stream returns nil.
type Receiver interface {
	Receive(ctx context.Context, fn func(msg jsonrpc.Message)) error
}

// Transport is a bidirectional message channel.
type Transport interface {
	Sender
	Receiver
	Close() error
}
