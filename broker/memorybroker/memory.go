// Package memorybroker provides an in-memory implementation of the
// broker.Broker interface. It is suitable for single-process deployments and
// testing.
package memorybroker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/jsonrpc-go/broker"
	"github.com/ggoodman/jsonrpc-go/jsonrpc"
)

var _ broker.Broker = (*Broker)(nil)

// Broker implements broker.Broker with per-namespace in-memory logs.
// State is local to the process.
type Broker struct {
	mu           sync.Mutex
	namespaces   map[string]*namespace
	eventCounter atomic.Int64
}

type namespace struct {
	mu       sync.Mutex
	messages []broker.MessageEnvelope
	// notify is closed and replaced whenever messages grows or the
	// namespace is cleaned up.
	notify chan struct{}
	closed bool
}

// New creates a new memory-based broker instance.
func New() *Broker {
	return &Broker{
		namespaces: make(map[string]*namespace),
	}
}

func (b *Broker) namespace(name string) *namespace {
	b.mu.Lock()
	defer b.mu.Unlock()

	ns, ok := b.namespaces[name]
	if !ok {
		ns = &namespace{notify: make(chan struct{})}
		b.namespaces[name] = ns
	}
	return ns
}

// Publish implements broker.Broker.
func (b *Broker) Publish(ctx context.Context, namespaceName string, message jsonrpc.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	eventID := strconv.FormatInt(b.eventCounter.Add(1), 10)
	data := make(jsonrpc.Message, len(message))
	copy(data, message)

	ns := b.namespace(namespaceName)
	ns.mu.Lock()
	defer ns.mu.Unlock()

	ns.messages = append(ns.messages, broker.MessageEnvelope{ID: eventID, Data: data})
	close(ns.notify)
	ns.notify = make(chan struct{})

	return eventID, nil
}

// Subscribe implements broker.Broker. It returns nil once the namespace is
// cleaned up and every message delivered.
func (b *Broker) Subscribe(ctx context.Context, namespaceName string, lastEventID string, handler broker.MessageHandler) error {
	ns := b.namespace(namespaceName)

	ns.mu.Lock()
	next := 0
	switch lastEventID {
	case "":
		next = len(ns.messages)
	case broker.FromStart:
	default:
		next = -1
		for i, m := range ns.messages {
			if m.ID == lastEventID {
				next = i + 1
				break
			}
		}
	}
	ns.mu.Unlock()

	if next < 0 {
		return fmt.Errorf("%w: %s", broker.ErrUnknownEventID, lastEventID)
	}

	for {
		ns.mu.Lock()
		pending := ns.messages[next:]
		wait := ns.notify
		closed := ns.closed
		ns.mu.Unlock()

		for _, env := range pending {
			if err := handler(ctx, env); err != nil {
				return err
			}
			next++
		}
		if len(pending) > 0 {
			continue
		}
		if closed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// Cleanup implements broker.Broker. Active subscriptions on the namespace end
// after draining what they have not yet delivered.
func (b *Broker) Cleanup(ctx context.Context, namespaceName string) error {
	b.mu.Lock()
	ns, ok := b.namespaces[namespaceName]
	delete(b.namespaces, namespaceName)
	b.mu.Unlock()

	if !ok {
		return nil
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()
	if !ns.closed {
		ns.closed = true
		close(ns.notify)
	}
	return nil
}
