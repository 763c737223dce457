package memorybroker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/jsonrpc-go/broker"
	"github.com/ggoodman/jsonrpc-go/broker/brokertest"
	"github.com/ggoodman/jsonrpc-go/jsonrpc"
)

func TestMemoryBroker(t *testing.T) {
	factory := func(t *testing.T) broker.Broker {
		return New()
	}

	brokertest.RunBrokerTests(t, factory)
}

func TestCleanupEndsSubscription(t *testing.T) {
	t.Parallel()

	b := New()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := b.Publish(ctx, "ns", jsonrpc.Message(`{"a":1}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	delivered := 0
	done := make(chan error, 1)
	go func() {
		done <- b.Subscribe(ctx, "ns", broker.FromStart, func(context.Context, broker.MessageEnvelope) error {
			delivered++
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	if err := b.Cleanup(ctx, "ns"); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil after cleanup, got %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("subscription did not end after cleanup")
	}
	if delivered != 1 {
		t.Fatalf("expected the retained message to be delivered once, got %d", delivered)
	}
}

func TestPublishCopiesMessage(t *testing.T) {
	t.Parallel()

	b := New()
	ctx := context.Background()
	msg := jsonrpc.Message(`{"a":1}`)
	id, err := b.Publish(ctx, "ns", msg)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg[2] = 'X'

	stop := errors.New("stop")
	err = b.Subscribe(ctx, "ns", broker.FromStart, func(_ context.Context, env broker.MessageEnvelope) error {
		if env.ID != id || string(env.Data) != `{"a":1}` {
			t.Errorf("unexpected envelope %s %s", env.ID, env.Data)
		}
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected handler error, got %v", err)
	}
}
