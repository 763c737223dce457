// Package brokertest holds a conformance suite shared by broker.Broker
// implementations.
package brokertest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/jsonrpc-go/broker"
	"github.com/ggoodman/jsonrpc-go/jsonrpc"
)

// BrokerFactory is a function that creates a new broker instance for testing.
type BrokerFactory func(t *testing.T) broker.Broker

// RunBrokerTests runs the complete broker test suite against the provided factory.
func RunBrokerTests(t *testing.T, factory BrokerFactory) {
	t.Run("PublishThenSubscribeFromNow", func(t *testing.T) {
		testSubscribeFromNow(t, factory)
	})
	t.Run("SubscribeFromStart", func(t *testing.T) {
		testSubscribeFromStart(t, factory)
	})
	t.Run("SubscribeFromLastEventID", func(t *testing.T) {
		testSubscribeFromLastEventID(t, factory)
	})
	t.Run("MultipleSubscribersToSameNamespace", func(t *testing.T) {
		testMultipleSubscribers(t, factory)
	})
	t.Run("NamespaceIsolation", func(t *testing.T) {
		testNamespaceIsolation(t, factory)
	})
	t.Run("SubscriptionContextCancellation", func(t *testing.T) {
		testContextCancellation(t, factory)
	})
	t.Run("HandlerErrorStopsSubscription", func(t *testing.T) {
		testHandlerError(t, factory)
	})
	t.Run("Cleanup", func(t *testing.T) {
		testCleanup(t, factory)
	})
	t.Run("ResumeFromNonExistentEventID", func(t *testing.T) {
		testResumeFromNonExistentEventID(t, factory)
	})
}

func request(t *testing.T, id int, method string) jsonrpc.Message {
	t.Helper()
	req, err := jsonrpc.NewRequest(jsonrpc.NewRequestID(id), method, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	msg, err := jsonrpc.Encode(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return msg
}

func methodOf(t *testing.T, env broker.MessageEnvelope) string {
	t.Helper()
	var req jsonrpc.Request
	if err := json.Unmarshal(env.Data, &req); err != nil {
		t.Fatalf("Failed to unmarshal received message: %v", err)
	}
	return req.Method
}

// collector records envelopes and cancels once it has seen want of them.
type collector struct {
	mu     sync.Mutex
	got    []broker.MessageEnvelope
	want   int
	cancel context.CancelFunc
}

func (c *collector) handle(_ context.Context, env broker.MessageEnvelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, env)
	if c.want > 0 && len(c.got) >= c.want {
		c.cancel()
	}
	return nil
}

func (c *collector) envelopes() []broker.MessageEnvelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]broker.MessageEnvelope(nil), c.got...)
}

func subscribe(ctx context.Context, b broker.Broker, ns, last string, h broker.MessageHandler) <-chan error {
	done := make(chan error, 1)
	go func() { done <- b.Subscribe(ctx, ns, last, h) }()
	return done
}

func waitFor(t *testing.T, done <-chan error, want error) {
	t.Helper()
	select {
	case err := <-done:
		if !errors.Is(err, want) {
			t.Fatalf("Subscription ended with %v, want %v", err, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Subscription did not complete within timeout")
	}
}

func testSubscribeFromNow(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	defer cleanupBroker(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	namespace := "test-namespace"

	// Published before the subscription: must not be delivered.
	if _, err := b.Publish(ctx, namespace, request(t, 0, "test/old")); err != nil {
		t.Fatalf("Failed to publish message: %v", err)
	}

	c := &collector{want: 1, cancel: cancel}
	done := subscribe(ctx, b, namespace, "", c.handle)

	// Give subscription time to start
	time.Sleep(100 * time.Millisecond)

	eventID, err := b.Publish(ctx, namespace, request(t, 1, "test/method"))
	if err != nil {
		t.Fatalf("Failed to publish message: %v", err)
	}
	if eventID == "" {
		t.Fatal("Expected non-empty event ID")
	}

	waitFor(t, done, context.Canceled)

	got := c.envelopes()
	if len(got) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(got))
	}
	if got[0].ID != eventID {
		t.Fatalf("Expected event ID %s, got %s", eventID, got[0].ID)
	}
	if m := methodOf(t, got[0]); m != "test/method" {
		t.Fatalf("Expected method test/method, got %s", m)
	}
}

func testSubscribeFromStart(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	defer cleanupBroker(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	namespace := "test-namespace-1"
	var ids []string
	for i := 1; i <= 3; i++ {
		id, err := b.Publish(ctx, namespace, request(t, i, "test/method"))
		if err != nil {
			t.Fatalf("Failed to publish message %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	c := &collector{want: 3, cancel: cancel}
	waitFor(t, subscribe(ctx, b, namespace, broker.FromStart, c.handle), context.Canceled)

	got := c.envelopes()
	if len(got) != len(ids) {
		t.Fatalf("Expected %d messages, got %d", len(ids), len(got))
	}
	for i, env := range got {
		if env.ID != ids[i] {
			t.Fatalf("message %d: expected event ID %s, got %s", i, ids[i], env.ID)
		}
	}
}

func testSubscribeFromLastEventID(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	defer cleanupBroker(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	namespace := "test-namespace-2"

	eventID1, err := b.Publish(ctx, namespace, request(t, 1, "test/method1"))
	if err != nil {
		t.Fatalf("Failed to publish first message: %v", err)
	}
	eventID2, err := b.Publish(ctx, namespace, request(t, 2, "test/method2"))
	if err != nil {
		t.Fatalf("Failed to publish second message: %v", err)
	}

	// Resuming after the first event yields only the second.
	c := &collector{want: 1, cancel: cancel}
	waitFor(t, subscribe(ctx, b, namespace, eventID1, c.handle), context.Canceled)

	got := c.envelopes()
	if len(got) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(got))
	}
	if got[0].ID != eventID2 {
		t.Fatalf("Expected event ID %s, got %s", eventID2, got[0].ID)
	}
	if m := methodOf(t, got[0]); m != "test/method2" {
		t.Fatalf("Expected method test/method2, got %s", m)
	}
}

func testMultipleSubscribers(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	defer cleanupBroker(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	namespace := "test-namespace-3"

	c1 := &collector{}
	c2 := &collector{}
	done1 := subscribe(ctx, b, namespace, "", c1.handle)
	done2 := subscribe(ctx, b, namespace, "", c2.handle)

	time.Sleep(100 * time.Millisecond)

	eventID, err := b.Publish(ctx, namespace, request(t, 1, "test/method"))
	if err != nil {
		t.Fatalf("Failed to publish message: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	cancel()
	waitFor(t, done1, context.Canceled)
	waitFor(t, done2, context.Canceled)

	for i, c := range []*collector{c1, c2} {
		got := c.envelopes()
		if len(got) != 1 {
			t.Fatalf("Subscriber %d expected 1 message, got %d", i+1, len(got))
		}
		if got[0].ID != eventID {
			t.Fatalf("Subscriber %d: expected event ID %s, got %s", i+1, eventID, got[0].ID)
		}
	}
}

func testNamespaceIsolation(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	defer cleanupBroker(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	namespace1 := "test-namespace-4a"
	namespace2 := "test-namespace-4b"

	c1 := &collector{}
	c2 := &collector{}
	done1 := subscribe(ctx, b, namespace1, "", c1.handle)
	done2 := subscribe(ctx, b, namespace2, "", c2.handle)

	time.Sleep(100 * time.Millisecond)

	id1, err := b.Publish(ctx, namespace1, request(t, 1, "test/method1"))
	if err != nil {
		t.Fatalf("Failed to publish to namespace1: %v", err)
	}
	id2, err := b.Publish(ctx, namespace2, request(t, 2, "test/method2"))
	if err != nil {
		t.Fatalf("Failed to publish to namespace2: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	cancel()
	waitFor(t, done1, context.Canceled)
	waitFor(t, done2, context.Canceled)

	got1, got2 := c1.envelopes(), c2.envelopes()
	if len(got1) != 1 || got1[0].ID != id1 || methodOf(t, got1[0]) != "test/method1" {
		t.Fatalf("namespace1 received %+v", got1)
	}
	if len(got2) != 1 || got2[0].ID != id2 || methodOf(t, got2[0]) != "test/method2" {
		t.Fatalf("namespace2 received %+v", got2)
	}
}

func testContextCancellation(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	defer cleanupBroker(t, b)

	ctx, cancel := context.WithCancel(context.Background())

	done := subscribe(ctx, b, "test-namespace-5", "", func(context.Context, broker.MessageEnvelope) error {
		return nil
	})

	time.Sleep(100 * time.Millisecond)
	cancel()

	waitFor(t, done, context.Canceled)
}

func testHandlerError(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	defer cleanupBroker(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	namespace := "test-namespace-6"
	expectedErr := errors.New("handler error")

	done := subscribe(ctx, b, namespace, "", func(context.Context, broker.MessageEnvelope) error {
		return expectedErr
	})

	time.Sleep(100 * time.Millisecond)

	if _, err := b.Publish(ctx, namespace, request(t, 1, "test/method")); err != nil {
		t.Fatalf("Failed to publish message: %v", err)
	}

	waitFor(t, done, expectedErr)
}

func testCleanup(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	defer cleanupBroker(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	namespace := "test-namespace-7"

	if _, err := b.Publish(ctx, namespace, request(t, 1, "test/method")); err != nil {
		t.Fatalf("Failed to publish message: %v", err)
	}

	if err := b.Cleanup(ctx, namespace); err != nil {
		t.Fatalf("Failed to cleanup namespace: %v", err)
	}

	// Nothing retained survives cleanup.
	subCtx, subCancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer subCancel()

	err := b.Subscribe(subCtx, namespace, broker.FromStart, func(context.Context, broker.MessageEnvelope) error {
		t.Error("Should not receive any messages after cleanup")
		return nil
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Subscription after cleanup: %v", err)
	}
}

func testResumeFromNonExistentEventID(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	defer cleanupBroker(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := b.Subscribe(ctx, "test-namespace-8", "non-existent-id", func(context.Context, broker.MessageEnvelope) error {
		return nil
	})

	if !errors.Is(err, broker.ErrUnknownEventID) {
		t.Fatalf("Expected ErrUnknownEventID, got %v", err)
	}
}

// cleanupBroker attempts to cleanup any test resources.
// This is a best-effort cleanup and errors are logged but not fatal.
func cleanupBroker(t *testing.T, b broker.Broker) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	namespaces := []string{
		"test-namespace", "test-namespace-1", "test-namespace-2", "test-namespace-3",
		"test-namespace-4a", "test-namespace-4b", "test-namespace-5",
		"test-namespace-6", "test-namespace-7", "test-namespace-8",
	}

	for _, ns := range namespaces {
		if err := b.Cleanup(ctx, ns); err != nil {
			t.Logf("Warning: failed to cleanup namespace %s: %v", ns, err)
		}
	}

	if closer, ok := b.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			t.Logf("Warning: failed to close broker: %v", err)
		}
	}
}
