package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind classifies a parsed entry.
type Kind int

const (
	// KindInvalid is an entry that failed structural validation.
	KindInvalid Kind = iota
	// KindRequest is a call that expects a response.
	KindRequest
	// KindNotification is a call without an id.
	KindNotification
	// KindResponse is a success or failure response.
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	}
	return "invalid"
}

// Entry is one validated member of a Payload.
type Entry struct {
	Kind Kind

	// Request is set for KindRequest and KindNotification.
	Request *Request
	// Response is set for KindResponse.
	Response *Response
	// Err is set for KindInvalid and describes the validation failure.
	Err *Error
	// ID is the entry's id when one could be determined, including for
	// invalid entries.
	ID *RequestID
}

// Payload is the result of parsing one inbound message.
type Payload struct {
	// Batch is true when the message was a JSON array.
	Batch   bool
	Entries []Entry
}

// Parse validates raw bytes against the JSON-RPC 2.0 grammar.
//
// A non-nil error is always an *Error and is fatal for the whole message:
// ErrorCodeParseError when the bytes are not valid JSON, ErrorCodeInvalidRequest
// when the top-level value is neither an object nor a non-empty array. Every
// other problem is reported per entry through Entry.Err so that one malformed
// batch member does not affect its siblings.
func Parse(data []byte) (*Payload, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || !json.Valid(data) {
		return nil, NewError(ErrorCodeParseError, "", nil)
	}

	switch data[0] {
	case '{':
		return &Payload{Entries: []Entry{parseEntry(data)}}, nil
	case '[':
		var members []json.RawMessage
		if err := json.Unmarshal(data, &members); err != nil {
			return nil, NewError(ErrorCodeParseError, "", nil)
		}
		if len(members) == 0 {
			return nil, NewError(ErrorCodeInvalidRequest, "", "empty batch")
		}
		p := &Payload{Batch: true, Entries: make([]Entry, len(members))}
		for i, m := range members {
			p.Entries[i] = parseEntry(m)
		}
		return p, nil
	}

	return nil, NewError(ErrorCodeInvalidRequest, "", "message must be an object or an array")
}

func invalid(id *RequestID, reason string) Entry {
	return Entry{Kind: KindInvalid, ID: id, Err: NewError(ErrorCodeInvalidRequest, "", reason)}
}

func parseEntry(data json.RawMessage) Entry {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return invalid(nil, "entry must be an object")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return invalid(nil, "entry must be an object")
	}

	// The id is resolved first so that validation failures can still echo it.
	rawID, hasID := fields["id"]
	var id *RequestID
	idOK := true
	if hasID {
		id = &RequestID{}
		if err := id.UnmarshalJSON(rawID); err != nil {
			id = nil
			idOK = false
		}
	}

	var version string
	if raw, ok := fields["jsonrpc"]; !ok || json.Unmarshal(raw, &version) != nil || version != ProtocolVersion {
		return invalid(id, fmt.Sprintf("jsonrpc member must be %q", ProtocolVersion))
	}
	if !idOK {
		return invalid(nil, "id must be a string, an integer or null")
	}

	rawMethod, hasMethod := fields["method"]
	rawResult, hasResult := fields["result"]
	rawError, hasError := fields["error"]

	if !hasMethod && (hasResult || hasError) {
		return parseResponse(id, hasID, rawResult, hasResult, rawError, hasError)
	}
	if !hasMethod {
		return invalid(id, "method member is required")
	}
	if hasResult || hasError {
		return invalid(id, "request cannot carry result or error members")
	}

	var method string
	if err := json.Unmarshal(rawMethod, &method); err != nil || !isJSONString(rawMethod) {
		return invalid(id, "method must be a string")
	}

	var params json.RawMessage
	if raw, ok := fields["params"]; ok {
		raw = bytes.TrimSpace(raw)
		switch {
		case bytes.Equal(raw, []byte("null")):
		case len(raw) > 0 && (raw[0] == '[' || raw[0] == '{'):
			params = raw
		default:
			return invalid(id, "params must be an array or an object")
		}
	}

	req := &Request{JSONRPCVersion: ProtocolVersion, Method: method, Params: params, ID: id}
	if !hasID {
		return Entry{Kind: KindNotification, Request: req}
	}
	return Entry{Kind: KindRequest, Request: req, ID: id}
}

func parseResponse(id *RequestID, hasID bool, rawResult json.RawMessage, hasResult bool, rawError json.RawMessage, hasError bool) Entry {
	if !hasID {
		return invalid(nil, "response must carry an id")
	}
	if hasResult && hasError {
		return invalid(id, "response cannot carry both result and error")
	}

	resp := &Response{JSONRPCVersion: ProtocolVersion, ID: id}
	if hasResult {
		resp.Result = bytes.TrimSpace(rawResult)
		return Entry{Kind: KindResponse, Response: resp, ID: id}
	}

	var wire struct {
		Code    *int            `json:"code"`
		Message *string         `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rawError, &wire); err != nil || wire.Code == nil || wire.Message == nil {
		return invalid(id, "error member must be an object with code and message")
	}
	e := &Error{Code: ErrorCode(*wire.Code), Message: *wire.Message}
	if len(wire.Data) > 0 && !bytes.Equal(wire.Data, []byte("null")) {
		e.Data = wire.Data
	}
	resp.Error = e
	return Entry{Kind: KindResponse, Response: resp, ID: id}
}

func isJSONString(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '"'
}
