package jsonrpc

import (
	"errors"
	"fmt"
)

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603

	// ErrorCodeServerErrorStart and ErrorCodeServerErrorEnd bound the range
	// reserved for implementation-defined server errors.
	ErrorCodeServerErrorStart ErrorCode = -32099
	ErrorCodeServerErrorEnd   ErrorCode = -32000

	// ErrorCodeServerClosed is the implementation-defined code used when a
	// message arrives after the server stopped accepting work.
	ErrorCodeServerClosed ErrorCode = -32000
)

const (
	reservedMin ErrorCode = -32768
	reservedMax ErrorCode = -32000
)

// IsReserved reports whether code lies in the range the JSON-RPC 2.0
// specification reserves for protocol-level errors.
func (c ErrorCode) IsReserved() bool {
	return c >= reservedMin && c <= reservedMax
}

// IsPredefined reports whether code is one of the five codes defined by the
// JSON-RPC 2.0 specification.
func (c ErrorCode) IsPredefined() bool {
	switch c {
	case ErrorCodeParseError, ErrorCodeInvalidRequest, ErrorCodeMethodNotFound,
		ErrorCodeInvalidParams, ErrorCodeInternalError:
		return true
	}
	return false
}

// IsServerError reports whether code is inside the implementation-defined
// server error range.
func (c ErrorCode) IsServerError() bool {
	return c >= ErrorCodeServerErrorStart && c <= ErrorCodeServerErrorEnd
}

// String returns the canonical message for predefined codes.
func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeParseError:
		return "Parse error"
	case ErrorCodeInvalidRequest:
		return "Invalid Request"
	case ErrorCodeMethodNotFound:
		return "Method not found"
	case ErrorCodeInvalidParams:
		return "Invalid params"
	case ErrorCodeInternalError:
		return "Internal error"
	}
	if c.IsServerError() {
		return "Server error"
	}
	return fmt.Sprintf("error %d", int(c))
}

// Error is a JSON-RPC error object. It implements the error interface so that
// handlers can return it to report an application error with a specific code.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

// NewError builds an Error. An empty message is replaced by the canonical
// message for the code.
func NewError(code ErrorCode, message string, data any) *Error {
	if message == "" {
		message = code.String()
	}
	return &Error{Code: code, Message: message, Data: data}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("jsonrpc error %d: %s", int(e.Code), e.Message)
}

// Is matches another *Error with the same code, so errors.Is can be used
// against the predefined values below.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t == nil || e == nil {
		return false
	}
	return t.Code == e.Code
}

// Predefined error values, useful as errors.Is targets.
var (
	ErrParse          = NewError(ErrorCodeParseError, "", nil)
	ErrInvalidRequest = NewError(ErrorCodeInvalidRequest, "", nil)
	ErrMethodNotFound = NewError(ErrorCodeMethodNotFound, "", nil)
	ErrInvalidParams  = NewError(ErrorCodeInvalidParams, "", nil)
	ErrInternal       = NewError(ErrorCodeInternalError, "", nil)
)

// Client-side errors. They never travel on the wire.
var (
	// ErrTimeout resolves a call whose deadline elapsed before a response.
	ErrTimeout = errors.New("jsonrpc: call timed out")
	// ErrCancelled resolves a call that was cancelled locally.
	ErrCancelled = errors.New("jsonrpc: call cancelled")
	// ErrClosed is returned once the owning client or connection is closed.
	ErrClosed = errors.New("jsonrpc: closed")
)

// TransportError reports a failure to hand a message to the transport. It is
// returned synchronously by client operations and never retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("jsonrpc: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
