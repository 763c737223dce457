package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"reflect"

	"github.com/ggoodman/jsonrpc-go/jsonrpc"
	"github.com/invopop/jsonschema"
)

// MethodHandler answers a request. The returned value is marshalled into the
// response's result member. Returning a *jsonrpc.Error controls the failure
// code; any other error is reported as an internal error.
//
// A MethodHandler registered under a name also serves notifications for that
// name; its result is discarded.
type MethodHandler interface {
	ServeRPC(ctx context.Context, params json.RawMessage) (any, error)
}

// MethodFunc adapts a function to MethodHandler.
type MethodFunc func(ctx context.Context, params json.RawMessage) (any, error)

func (f MethodFunc) ServeRPC(ctx context.Context, params json.RawMessage) (any, error) {
	return f(ctx, params)
}

// NotificationHandler reacts to a notification. It never produces output.
type NotificationHandler interface {
	HandleNotification(ctx context.Context, params json.RawMessage)
}

// NotificationFunc adapts a function to NotificationHandler.
type NotificationFunc func(ctx context.Context, params json.RawMessage)

func (f NotificationFunc) HandleNotification(ctx context.Context, params json.RawMessage) {
	f(ctx, params)
}

// schemaSource is implemented by handlers that can describe their params and
// result for discovery.
type schemaSource interface {
	schemas() (params, result *jsonschema.Schema)
}

type typedMethod[P, R any] struct {
	fn     func(ctx context.Context, params P) (R, error)
	params *jsonschema.Schema
	result *jsonschema.Schema
}

// Method wraps fn as a MethodHandler. Params are decoded into P, rejecting
// unknown object fields; decode failures are answered with Invalid params.
// Absent params leave P at its zero value. The JSON Schemas of P and R are
// published through the discovery method.
func Method[P, R any](fn func(ctx context.Context, params P) (R, error)) MethodHandler {
	return &typedMethod[P, R]{
		fn:     fn,
		params: reflectSchema[P](),
		result: reflectSchema[R](),
	}
}

func (m *typedMethod[P, R]) ServeRPC(ctx context.Context, raw json.RawMessage) (any, error) {
	var p P
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return m.fn(ctx, p)
}

func (m *typedMethod[P, R]) schemas() (*jsonschema.Schema, *jsonschema.Schema) {
	return m.params, m.result
}

type typedNotification[P any] struct {
	fn     func(ctx context.Context, params P)
	params *jsonschema.Schema
}

// Notification wraps fn as a NotificationHandler. Notifications whose params
// cannot be decoded into P are dropped.
func Notification[P any](fn func(ctx context.Context, params P)) NotificationHandler {
	return &typedNotification[P]{fn: fn, params: reflectSchema[P]()}
}

func (n *typedNotification[P]) HandleNotification(ctx context.Context, raw json.RawMessage) {
	var p P
	if err := decodeParams(raw, &p); err != nil {
		loggerFrom(ctx).InfoContext(ctx, "server.handle_notification.invalid", slog.String("err", err.Error()))
		return
	}
	n.fn(ctx, p)
}

func (n *typedNotification[P]) schemas() (*jsonschema.Schema, *jsonschema.Schema) {
	return n.params, nil
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "", err.Error())
	}
	return nil
}

func reflectSchema[T any]() *jsonschema.Schema {
	t := reflect.TypeFor[T]()
	r := &jsonschema.Reflector{
		DoNotReference: true,
		// Expanding only applies to named structs; other kinds have no
		// definition to inline.
		ExpandedStruct: t.Kind() == reflect.Struct,
	}
	return r.Reflect(new(T))
}
