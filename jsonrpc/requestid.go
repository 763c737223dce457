package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
)

// RequestID represents a JSON-RPC ID that can be a string, an integer or null.
// A nil *RequestID means the id member is absent (a notification); a non-nil
// RequestID holding no value is an explicit JSON null.
type RequestID struct {
	value interface{}
}

// NewRequestID creates a RequestID from a string or an integer. Any other
// value produces a null id.
func NewRequestID(value interface{}) *RequestID {
	switch v := value.(type) {
	case string:
		return &RequestID{value: v}
	case int:
		return &RequestID{value: int64(v)}
	case int8:
		return &RequestID{value: int64(v)}
	case int16:
		return &RequestID{value: int64(v)}
	case int32:
		return &RequestID{value: int64(v)}
	case int64:
		return &RequestID{value: v}
	case uint:
		return &RequestID{value: int64(v)}
	case uint8:
		return &RequestID{value: int64(v)}
	case uint16:
		return &RequestID{value: int64(v)}
	case uint32:
		return &RequestID{value: int64(v)}
	case uint64:
		return &RequestID{value: int64(v)}
	default:
		return &RequestID{value: nil}
	}
}

// NullID returns an explicit null id.
func NullID() *RequestID { return &RequestID{} }

// String returns the string representation of the ID
func (id *RequestID) String() string {
	if id == nil {
		return ""
	}

	switch v := id.value.(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		panic("unreachable: RequestID contains unsupported type")
	}
}

// Key returns a map key that keeps string and numeric ids apart, so that "1"
// and 1 never correlate with each other.
func (id *RequestID) Key() string {
	if id == nil {
		return ""
	}
	switch v := id.value.(type) {
	case string:
		return "s:" + v
	case int64:
		return "n:" + strconv.FormatInt(v, 10)
	}
	return "null"
}

// Value returns the underlying value: a string, an int64 or nil.
func (id *RequestID) Value() interface{} {
	if id == nil {
		return nil
	}
	return id.value
}

// IsNil returns true if the ID is absent or null.
func (id *RequestID) IsNil() bool {
	if id == nil {
		return true
	}

	return id.value == nil
}

// Equal reports whether both ids carry the same value. Two nil ids are equal;
// an absent id never equals an explicit null.
func (id *RequestID) Equal(other *RequestID) bool {
	if id == nil || other == nil {
		return id == nil && other == nil
	}
	return id.value == other.value
}

// MarshalJSON implements json.Marshaler
func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id == nil || id.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler. Numbers with a fractional part
// are rejected; integral numbers in exponent form are accepted.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		id.value = nil
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		id.value = str
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		n, err := num.Int64()
		if err != nil {
			// Integral values may still be written with an exponent or a
			// zero fraction, such as 1e2 or 7.0.
			f, _, perr := big.ParseFloat(num.String(), 10, 256, big.ToNearestEven)
			if perr != nil || !f.IsInt() {
				return fmt.Errorf("JSON-RPC ID must be an integer, got: %s", string(data))
			}
			i, acc := f.Int64()
			if acc != big.Exact {
				return fmt.Errorf("JSON-RPC ID out of range, got: %s", string(data))
			}
			n = i
		}
		id.value = n
		return nil
	}

	return fmt.Errorf("JSON-RPC ID must be a string, integer or null, got: %s", string(data))
}
