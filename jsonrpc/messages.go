package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// Message is the raw JSON representation of a JSON-RPC message or batch.
type Message []byte

// Request represents a JSON-RPC request (with an ID) or notification (without ID).
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// IsNotification reports whether the request carries no id member.
func (r *Request) IsNotification() bool { return r.ID == nil }

// NewRequest builds a request with the given id. params may be nil; otherwise
// it must marshal to a JSON array or object.
func NewRequest(id *RequestID, method string, params any) (*Request, error) {
	if id == nil {
		return nil, fmt.Errorf("request id required")
	}
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Request{JSONRPCVersion: ProtocolVersion, Method: method, Params: raw, ID: id}, nil
}

// NewNotification builds a notification. params follows the same rules as
// for NewRequest.
func NewNotification(method string, params any) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Request{JSONRPCVersion: ProtocolVersion, Method: method, Params: raw}, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	var b []byte
	switch p := params.(type) {
	case json.RawMessage:
		b = p
	case []byte:
		b = p
	default:
		var err error
		b, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
	}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil, nil
	}
	if b[0] != '[' && b[0] != '{' {
		return nil, fmt.Errorf("params must be a JSON array or object")
	}
	return json.RawMessage(b), nil
}

// Response represents a JSON-RPC response. Exactly one of Result and Error is
// set. ID is nil (encoded as null) when the failure happened before an id
// could be determined.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id"`
}

// NewResultResponse builds a successful JSON-RPC response object.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Result:         resultBytes,
		ID:             id,
	}, nil
}

// NewErrorResponse builds an error JSON-RPC response with the given code.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error:          NewError(code, message, data),
		ID:             id,
	}
}

// NewFailure wraps an existing Error into a response.
func NewFailure(id *RequestID, err *Error) *Response {
	return &Response{JSONRPCVersion: ProtocolVersion, Error: err, ID: id}
}

// IsError reports whether the response is a failure.
func (r *Response) IsError() bool { return r.Error != nil }

// MarshalJSON always emits the id member (null when unknown) and exactly one
// of result or error.
func (r *Response) MarshalJSON() ([]byte, error) {
	type wireResponse struct {
		JSONRPCVersion string          `json:"jsonrpc"`
		Result         json.RawMessage `json:"result,omitempty"`
		Error          *Error          `json:"error,omitempty"`
		ID             *RequestID      `json:"id"`
	}
	w := wireResponse{JSONRPCVersion: r.JSONRPCVersion, Error: r.Error, ID: r.ID}
	if w.JSONRPCVersion == "" {
		w.JSONRPCVersion = ProtocolVersion
	}
	if w.ID == nil {
		w.ID = NullID()
	}
	if r.Error == nil {
		w.Result = r.Result
		if len(w.Result) == 0 {
			w.Result = json.RawMessage("null")
		}
	}
	return json.Marshal(w)
}

// Encode marshals a single request or response into a Message.
func Encode(v any) (Message, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return Message(b), nil
}

// EncodeBatch marshals responses into a JSON array. An empty slice yields a
// nil Message: nothing should be sent for a batch that produced no responses.
func EncodeBatch(responses []*Response) (Message, error) {
	if len(responses) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(responses)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}
	return Message(b), nil
}
