package server

import (
	"sync"
	"sync/atomic"

	"github.com/ggoodman/jsonrpc-go/jsonrpc"
)

// collector gathers the responses of one inbound message. Every entry owns
// the slot at its index; notifications leave their slot empty. The dispatcher
// holds one reference while routing, each scheduled request holds another,
// and whoever drops the last reference flushes the slots in input order.
type collector struct {
	mu    sync.Mutex
	slots []*jsonrpc.Response

	refs  atomic.Int64
	flush func(out []*jsonrpc.Response)
}

func newCollector(p *jsonrpc.Payload, flush func(out []*jsonrpc.Response)) *collector {
	c := &collector{slots: make([]*jsonrpc.Response, len(p.Entries)), flush: flush}
	c.refs.Store(1)
	return c
}

func (c *collector) set(i int, resp *jsonrpc.Response) {
	c.mu.Lock()
	c.slots[i] = resp
	c.mu.Unlock()
}

func (c *collector) acquire() { c.refs.Add(1) }

func (c *collector) done() {
	if c.refs.Add(-1) == 0 {
		c.finish()
	}
}

// release drops the dispatcher's reference.
func (c *collector) release() { c.done() }

func (c *collector) finish() {
	c.mu.Lock()
	out := make([]*jsonrpc.Response, 0, len(c.slots))
	for _, resp := range c.slots {
		if resp != nil {
			out = append(out, resp)
		}
	}
	c.mu.Unlock()
	c.flush(out)
}
