package client

import (
	"context"
	"errors"
	"testing"

	"github.com/ggoodman/jsonrpc-go/jsonrpc"
)

func TestBatch_SendAndResolve(t *testing.T) {
	t.Parallel()

	s := newRecordingSender()
	c := New(s)

	b := c.NewBatch()
	sum := b.Call("add", []int{1, 2})
	b.Notify("log", map[string]string{"msg": "hi"})
	diff := b.Call("sub", []int{5, 3})
	if b.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", b.Len())
	}
	if err := b.Send(context.Background()); err != nil {
		t.Fatalf("send: %v", err)
	}

	p := s.next(t)
	if !p.Batch || len(p.Entries) != 3 {
		t.Fatalf("expected one batch of 3 entries, got %+v", p)
	}
	if p.Entries[1].Kind != jsonrpc.KindNotification {
		t.Fatalf("expected notification in slot 1, got %s", p.Entries[1].Kind)
	}

	reply := `[` +
		`{"jsonrpc":"2.0","result":2,"id":` + diff.ID().String() + `},` +
		`{"jsonrpc":"2.0","result":3,"id":` + sum.ID().String() + `}` +
		`]`
	c.OnMessage(jsonrpc.Message(reply))

	var a, d int
	if err := sum.Decode(context.Background(), &a); err != nil || a != 3 {
		t.Fatalf("sum: %d %v", a, err)
	}
	if err := diff.Decode(context.Background(), &d); err != nil || d != 2 {
		t.Fatalf("diff: %d %v", d, err)
	}
}

func TestBatch_Empty(t *testing.T) {
	t.Parallel()

	c := New(newRecordingSender())
	if err := c.NewBatch().Send(context.Background()); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestBatch_SendFailureResolvesCalls(t *testing.T) {
	t.Parallel()

	s := newRecordingSender()
	s.err = errors.New("down")
	c := New(s)

	b := c.NewBatch()
	p := b.Call("m", nil)
	err := b.Send(context.Background())
	var terr *jsonrpc.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if _, werr := p.Wait(context.Background()); !errors.As(werr, &terr) {
		t.Fatalf("expected call to fail with the transport error, got %v", werr)
	}
	if n := c.Pending(); n != 0 {
		t.Fatalf("expected nothing pending, got %d", n)
	}
}

func TestBatch_CancelBeforeSend(t *testing.T) {
	t.Parallel()

	c := New(newRecordingSender())
	p := c.NewBatch().Call("m", nil)
	p.Cancel()
	if _, err := p.Wait(context.Background()); !errors.Is(err, jsonrpc.ErrCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
}
