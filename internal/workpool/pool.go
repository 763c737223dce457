// Package workpool runs submitted tasks on a bounded set of goroutines.
//
// Submit never blocks: tasks are queued in FIFO order and picked up by at most
// Size workers. Workers are started on demand and exit when the queue drains,
// so an idle pool holds no goroutines.
package workpool

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Submit after Close has been called.
var ErrClosed = errors.New("workpool: closed")

// Observer receives queue depth changes. It may be nil.
type Observer interface {
	SetQueueDepth(n int)
}

// Pool executes tasks with bounded concurrency.
type Pool struct {
	size    int
	workers *semaphore.Weighted
	log     *slog.Logger
	obs     Observer

	mu     sync.Mutex
	queue  []func()
	closed bool

	wg sync.WaitGroup
}

// Option customizes a Pool.
type Option func(*Pool)

// WithSize sets the maximum number of concurrently running tasks. Values
// below one are ignored.
func WithSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.size = n
		}
	}
}

// WithLogger sets the logger used to report recovered panics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.log = l
		}
	}
}

// WithObserver reports queue depth to o.
func WithObserver(o Observer) Option {
	return func(p *Pool) { p.obs = o }
}

// New constructs a Pool. The default size is runtime.GOMAXPROCS(0).
func New(opts ...Option) *Pool {
	p := &Pool{
		size: runtime.GOMAXPROCS(0),
		log:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.workers = semaphore.NewWeighted(int64(p.size))
	return p
}

// Size returns the maximum number of concurrently running tasks.
func (p *Pool) Size() int { return p.size }

// Submit queues task for execution. It returns ErrClosed once the pool is
// closed; it never waits for a worker to become free.
func (p *Pool) Submit(task func()) error {
	if task == nil {
		return nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.queue = append(p.queue, task)
	depth := len(p.queue)
	p.wg.Add(1)
	p.mu.Unlock()

	if p.obs != nil {
		p.obs.SetQueueDepth(depth)
	}
	p.spawn()
	return nil
}

// spawn starts a worker if a slot is free. When every slot is taken, one of
// the running workers will pick the task up before it exits.
func (p *Pool) spawn() {
	if !p.workers.TryAcquire(1) {
		return
	}
	go p.work()
}

func (p *Pool) work() {
	for {
		task, ok := p.pop()
		if !ok {
			p.workers.Release(1)
			// A task queued between pop and Release may have found every slot
			// taken; re-check so it is not stranded.
			if p.pending() > 0 {
				p.spawn()
			}
			return
		}
		p.run(task)
	}
}

func (p *Pool) pop() (func(), bool) {
	p.mu.Lock()
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return nil, false
	}
	task := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	depth := len(p.queue)
	p.mu.Unlock()

	if p.obs != nil {
		p.obs.SetQueueDepth(depth)
	}
	return task, true
}

func (p *Pool) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pool) run(task func()) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("workpool.task.panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		}
	}()
	task()
}

// Close stops accepting new tasks and waits until queued and running tasks
// finish or ctx ends.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
