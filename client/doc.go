// Package client is the calling side of a JSON-RPC 2.0 connection.
//
// A Client assigns ids, records each outgoing request in a pending table and
// matches responses back to their PendingCall. Responses are fed in by
// whoever reads the transport, usually a peer.Conn, through OnMessage or
// HandlePayload. Every call resolves exactly once: with the response, a
// timeout, a local cancellation or the client closing.
//
//	c := client.New(sender, client.WithDefaultTimeout(5*time.Second))
//	var sum float64
//	err := c.Call(ctx, "add", []float64{1, 2}, &sum)
package client
