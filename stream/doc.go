// Package stream carries JSON-RPC messages over byte streams such as standard
// input/output, TCP connections or unix sockets.
//
// Two framings are provided. LineFramer writes one message per line and is
// the default. HeaderFramer prefixes each message with a Content-Length
// header block in the style of the Language Server Protocol, which tolerates
// pretty-printed payloads.
//
//	t := stream.Stdio()
//	conn := peer.New(t, peer.WithServer(srv))
//	err := conn.Serve(ctx)
package stream
