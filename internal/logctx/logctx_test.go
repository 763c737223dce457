package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandler_AddsRPCAndConnGroups(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := Wrap(slog.New(slog.NewJSONHandler(&buf, nil)))

	ctx := WithConnData(context.Background(), &ConnData{ConnID: "c1", Transport: "stream"})
	ctx = WithRPCMessage(ctx, &RPCMessage{Method: "add", ID: "7", Type: "request"})
	log.With(slog.String("component", "test")).InfoContext(ctx, "hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log record: %v (%s)", err, buf.String())
	}
	rpc, ok := rec["rpc"].(map[string]any)
	if !ok || rpc["method"] != "add" || rpc["id"] != "7" || rpc["type"] != "request" {
		t.Fatalf("missing rpc group: %v", rec)
	}
	conn, ok := rec["conn"].(map[string]any)
	if !ok || conn["id"] != "c1" || conn["transport"] != "stream" {
		t.Fatalf("missing conn group: %v", rec)
	}
	if rec["component"] != "test" {
		t.Fatalf("expected attrs from With to survive: %v", rec)
	}
}

func TestWrap_Idempotent(t *testing.T) {
	t.Parallel()

	l := Wrap(slog.New(slog.DiscardHandler))
	if Wrap(l) != l {
		t.Fatalf("expected wrapped logger to be returned unchanged")
	}
}
