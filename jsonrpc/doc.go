// Package jsonrpc contains the JSON-RPC 2.0 message model: requests,
// notifications, responses, error objects and request ids, plus Parse, which
// validates raw bytes against the JSON-RPC 2.0 grammar.
//
// Parse never fails on a per-entry problem. A single malformed object or a
// malformed member of a batch is returned as an Entry of KindInvalid carrying
// an ErrorCodeInvalidRequest error, so that a server can answer it while still
// processing sibling entries. Only input that is not JSON at all
// (ErrorCodeParseError) or whose top-level shape is wrong (ErrorCodeInvalidRequest)
// fails the whole message.
//
// Params that are neither an array nor an object are rejected at parse time
// with ErrorCodeInvalidRequest. ErrorCodeInvalidParams is left to handlers that
// cannot decode a structurally valid params value.
package jsonrpc
