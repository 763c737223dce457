// Package broker carries JSON-RPC messages between processes through
// namespaced, ordered message logs. A Broker on its own is storage plus
// fan-out; Transport binds a pair of namespaces into a transport.Transport
// so a client or server can run on top of it.
package broker

import (
	"context"
	"errors"

	"github.com/ggoodman/jsonrpc-go/jsonrpc"
)

// FromStart may be passed as lastEventID to replay every message retained in
// a namespace.
const FromStart = "0"

// ErrUnknownEventID is returned by Subscribe when lastEventID does not name a
// message retained in the namespace.
var ErrUnknownEventID = errors.New("broker: unknown event id")

// Broker provides namespace-based message isolation and ordered delivery
// within each namespace.
type Broker interface {
	// Publish appends message to namespace and returns the event ID assigned
	// to it. Event IDs increase monotonically within a namespace.
	Publish(ctx context.Context, namespace string, message jsonrpc.Message) (eventID string, err error)

	// Subscribe calls handler for each message in namespace, in order, until
	// ctx ends or handler returns an error.
	//
	// An empty lastEventID starts after the newest message present when
	// Subscribe is called. FromStart replays everything retained. Any other
	// value resumes after that event.
	Subscribe(ctx context.Context, namespace string, lastEventID string, handler MessageHandler) error

	// Cleanup removes all messages stored for namespace.
	Cleanup(ctx context.Context, namespace string) error
}

// MessageHandler receives messages delivered by Subscribe. Returning an error
// ends the subscription with that error.
type MessageHandler func(ctx context.Context, envelope MessageEnvelope) error

// MessageEnvelope wraps a message with metadata for ordered delivery.
type MessageEnvelope struct {
	// ID is a unique, monotonically increasing identifier for this message within the namespace
	ID string `json:"id"`
	// Data is the raw message content
	Data jsonrpc.Message `json:"data"`
}
