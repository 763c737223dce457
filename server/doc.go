// Package server dispatches JSON-RPC 2.0 messages to registered handlers.
//
// A Server owns a Registry and a bounded worker pool. Dispatch parses one
// inbound message, answers structural problems immediately and schedules
// each routed request or notification on the pool, so the caller (usually a
// transport's read loop) is never blocked by a slow handler. Replies are
// delivered through a ReplyFunc once every request of the message has
// completed; batch replies keep the order of the batch.
//
// Handlers are plain functions over json.RawMessage params, or typed through
// Method and Notification:
//
//	srv := server.New()
//	srv.RegisterMethod("add", server.Method(func(ctx context.Context, p []float64) (float64, error) {
//		return p[0] + p[1], nil
//	}))
//
// Returning a *jsonrpc.Error from a handler selects the error code of the
// response. Any other error, or a panic, is answered with Internal error.
// Notifications never produce output.
package server
