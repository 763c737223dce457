package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestRequestID_JSON(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want any
		out  string
	}{
		{`1`, int64(1), `1`},
		{`-12`, int64(-12), `-12`},
		{`"abc"`, "abc", `"abc"`},
		{`"1"`, "1", `"1"`},
		{`null`, nil, `null`},
		{`1e2`, int64(100), `100`},
		{`-2E1`, int64(-20), `-20`},
		{`7.0`, int64(7), `7`},
	}
	for _, tc := range cases {
		var id RequestID
		if err := id.UnmarshalJSON([]byte(tc.in)); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.in, err)
		}
		if id.Value() != tc.want {
			t.Fatalf("unmarshal %s: got %#v want %#v", tc.in, id.Value(), tc.want)
		}
		b, err := json.Marshal(&id)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(b) != tc.out {
			t.Fatalf("marshal: got %s want %s", b, tc.out)
		}
	}
}

func TestRequestID_RejectsInvalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{`1.5`, `true`, `{}`, `[]`, `1e400`} {
		var id RequestID
		if err := id.UnmarshalJSON([]byte(in)); err == nil {
			t.Fatalf("expected error for %s", in)
		}
	}
}

func TestRequestID_KeySeparatesTypes(t *testing.T) {
	t.Parallel()

	num := NewRequestID(1)
	str := NewRequestID("1")
	if num.Key() == str.Key() {
		t.Fatalf("numeric and string ids must not share a key")
	}
	if num.String() != str.String() {
		t.Fatalf("String should render both as 1")
	}
	if !num.Equal(NewRequestID(int64(1))) {
		t.Fatalf("expected equal ids")
	}
	var absent *RequestID
	if absent.Equal(NullID()) {
		t.Fatalf("absent id must not equal explicit null")
	}
	if !absent.IsNil() || !NullID().IsNil() {
		t.Fatalf("expected IsNil for absent and null ids")
	}
}
