package client

import (
	"sync/atomic"

	"github.com/ggoodman/jsonrpc-go/jsonrpc"
	"github.com/google/uuid"
)

// IDGenerator produces request ids. The client skips any id that is still
// pending, so generators do not need to guarantee uniqueness on their own.
type IDGenerator interface {
	NextID() *jsonrpc.RequestID
}

// IDGeneratorFunc adapts a function to IDGenerator.
type IDGeneratorFunc func() *jsonrpc.RequestID

func (f IDGeneratorFunc) NextID() *jsonrpc.RequestID { return f() }

// Sequential returns a generator of integer ids counting up from 1. It is the
// default.
func Sequential() IDGenerator {
	var n atomic.Int64
	return IDGeneratorFunc(func() *jsonrpc.RequestID {
		return jsonrpc.NewRequestID(n.Add(1))
	})
}

// UUIDs returns a generator of random (version 4) UUID string ids.
func UUIDs() IDGenerator {
	return IDGeneratorFunc(func() *jsonrpc.RequestID {
		return jsonrpc.NewRequestID(uuid.NewString())
	})
}
