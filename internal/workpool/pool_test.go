package workpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPool_RunsAllTasks(t *testing.T) {
	t.Parallel()

	p := New(WithSize(4))
	var n atomic.Int64
	for i := 0; i < 1000; i++ {
		if err := p.Submit(func() { n.Add(1) }); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := n.Load(); got != 1000 {
		t.Fatalf("expected 1000 tasks run, got %d", got)
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	const size = 3
	p := New(WithSize(size))

	var running, peak, starts atomic.Int64
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(size)

	for i := 0; i < 10; i++ {
		_ = p.Submit(func() {
			cur := running.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			if starts.Add(1) <= size {
				started.Done()
			}
			<-release
			running.Add(-1)
		})
	}

	started.Wait()
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := peak.Load(); got > size {
		t.Fatalf("expected at most %d concurrent tasks, saw %d", size, got)
	}
}

func TestPool_SubmitDoesNotBlockWhenSaturated(t *testing.T) {
	t.Parallel()

	p := New(WithSize(1))
	block := make(chan struct{})
	_ = p.Submit(func() { <-block })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			_ = p.Submit(func() {})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("submit blocked while the only worker was busy")
	}

	close(block)
	_ = p.Close(context.Background())
}

func TestPool_RecoversPanics(t *testing.T) {
	t.Parallel()

	p := New(WithSize(1))
	var ran atomic.Bool
	_ = p.Submit(func() { panic("boom") })
	_ = p.Submit(func() { ran.Store(true) })
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !ran.Load() {
		t.Fatalf("task after panic did not run")
	}
}

func TestPool_SubmitAfterClose(t *testing.T) {
	t.Parallel()

	p := New()
	_ = p.Close(context.Background())
	if err := p.Submit(func() {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

type depthRecorder struct {
	mu  sync.Mutex
	max int
}

func (d *depthRecorder) SetQueueDepth(n int) {
	d.mu.Lock()
	if n > d.max {
		d.max = n
	}
	d.mu.Unlock()
}

func TestPool_ReportsQueueDepth(t *testing.T) {
	t.Parallel()

	rec := &depthRecorder{}
	p := New(WithSize(1), WithObserver(rec))
	block := make(chan struct{})
	_ = p.Submit(func() { <-block })
	for i := 0; i < 5; i++ {
		_ = p.Submit(func() {})
	}
	close(block)
	_ = p.Close(context.Background())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.max < 2 {
		t.Fatalf("expected queue depth to be observed, max=%d", rec.max)
	}
}
