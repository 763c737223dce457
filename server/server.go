package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/ggoodman/jsonrpc-go/internal/logctx"
	"github.com/ggoodman/jsonrpc-go/internal/workpool"
	"github.com/ggoodman/jsonrpc-go/jsonrpc"
	"github.com/ggoodman/jsonrpc-go/metrics"
)

// ReplyFunc receives the encoded reply to one inbound message. It is called
// at most once per message, from a worker goroutine or from the goroutine
// that called Dispatch.
type ReplyFunc func(msg jsonrpc.Message)

// Server dispatches inbound JSON-RPC messages to registered handlers.
type Server struct {
	reg     *Registry
	pool    *workpool.Pool
	log     *slog.Logger
	metrics *metrics.Collector

	workers   int
	discovery bool
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry uses reg instead of a fresh Registry. Registries may be shared
// between servers.
func WithRegistry(reg *Registry) Option {
	return func(s *Server) {
		if reg != nil {
			s.reg = reg
		}
	}
}

// WithLogger sets a custom logger for the Server.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithWorkers bounds the number of handlers running at once. The default is
// runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return func(s *Server) { s.workers = n }
}

// WithMetrics records dispatch metrics into c.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithDiscovery registers the rpc.discover method, which lists the
// registered methods and their schemas.
func WithDiscovery() Option {
	return func(s *Server) { s.discovery = true }
}

// New constructs a Server.
func New(opts ...Option) *Server {
	s := &Server{
		reg: NewRegistry(),
		log: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.log = logctx.Wrap(s.log)

	poolOpts := []workpool.Option{workpool.WithSize(s.workers), workpool.WithLogger(s.log)}
	if s.metrics != nil {
		poolOpts = append(poolOpts, workpool.WithObserver(s.metrics))
	}
	s.pool = workpool.New(poolOpts...)

	if s.discovery {
		s.reg.RegisterMethod(DiscoverMethod, discoverHandler{reg: s.reg})
	}
	return s
}

// Registry returns the registry the server dispatches from.
func (s *Server) Registry() *Registry { return s.reg }

// RegisterMethod binds name to h. See Registry.RegisterMethod.
func (s *Server) RegisterMethod(name string, h MethodHandler) { s.reg.RegisterMethod(name, h) }

// RegisterNotification binds name to h. See Registry.RegisterNotification.
func (s *Server) RegisterNotification(name string, h NotificationHandler) {
	s.reg.RegisterNotification(name, h)
}

// Dispatch parses raw and schedules its handlers. It returns once every entry
// has been routed; handlers run on the worker pool and reply is invoked with
// the encoded response or batch once they complete. reply is not called when
// the message produces no output (notifications only).
func (s *Server) Dispatch(ctx context.Context, raw []byte, reply ReplyFunc) {
	s.dispatch(ctx, raw, func(msg jsonrpc.Message) {
		if msg != nil && reply != nil {
			reply(msg)
		}
	})
}

// DispatchPayload is Dispatch for a message that was already parsed. Response
// entries are ignored; they belong to a client.
func (s *Server) DispatchPayload(ctx context.Context, p *jsonrpc.Payload, reply ReplyFunc) {
	s.dispatchPayload(ctx, p, func(msg jsonrpc.Message) {
		if msg != nil && reply != nil {
			reply(msg)
		}
	})
}

// Handle dispatches raw and waits for the reply. A nil Message with a nil
// error means the input produced no output. Handle returns ctx.Err() if ctx
// ends first; handlers keep running in that case.
func (s *Server) Handle(ctx context.Context, raw []byte) (jsonrpc.Message, error) {
	done := make(chan jsonrpc.Message, 1)
	s.dispatch(ctx, raw, func(msg jsonrpc.Message) { done <- msg })
	select {
	case msg := <-done:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting work and waits for running handlers to finish or ctx
// to end. Messages dispatched after Close are answered with a server error.
func (s *Server) Close(ctx context.Context) error {
	return s.pool.Close(ctx)
}

// dispatch always calls complete exactly once, with a nil message when there
// is nothing to send.
func (s *Server) dispatch(ctx context.Context, raw []byte, complete ReplyFunc) {
	p, err := jsonrpc.Parse(raw)
	if err != nil {
		jerr := err.(*jsonrpc.Error)
		s.log.InfoContext(ctx, "server.parse.fail", slog.Int("code", int(jerr.Code)), slog.String("err", jerr.Message))
		s.metrics.ObserveMessage("", "invalid", int(jerr.Code))
		complete(s.encode(ctx, jsonrpc.NewFailure(nil, jerr)))
		return
	}
	s.dispatchPayload(ctx, p, complete)
}

func (s *Server) dispatchPayload(ctx context.Context, p *jsonrpc.Payload, complete ReplyFunc) {
	if p.Batch {
		s.metrics.ObserveBatch(len(p.Entries))
	}
	c := newCollector(p, func(out []*jsonrpc.Response) {
		complete(s.encodeReply(ctx, p.Batch, out))
	})

	for i := range p.Entries {
		e := &p.Entries[i]
		switch e.Kind {
		case jsonrpc.KindInvalid:
			s.log.InfoContext(ctx, "server.handle_request.invalid", slog.String("err", fmt.Sprint(e.Err.Data)))
			s.metrics.ObserveMessage("", "invalid", int(e.Err.Code))
			c.set(i, jsonrpc.NewFailure(e.ID, e.Err))
		case jsonrpc.KindRequest:
			s.routeRequest(ctx, c, i, e.Request)
		case jsonrpc.KindNotification:
			s.routeNotification(ctx, e.Request)
		case jsonrpc.KindResponse:
			s.log.DebugContext(ctx, "server.response.ignored", slog.String("id", e.ID.String()))
		}
	}
	c.release()
}

func (s *Server) routeRequest(ctx context.Context, c *collector, slot int, req *jsonrpc.Request) {
	reg, ok := s.reg.Lookup(req.Method)
	if !ok || reg.Kind != KindMethod {
		s.log.InfoContext(ctx, "server.handle_request.unknown_method", slog.String("method", req.Method))
		s.metrics.ObserveMessage(req.Method, "request", int(jsonrpc.ErrorCodeMethodNotFound))
		c.set(slot, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "", req.Method))
		return
	}

	c.acquire()
	err := s.pool.Submit(func() {
		defer c.done()
		c.set(slot, s.execute(ctx, reg.Method, req))
	})
	if err != nil {
		s.log.WarnContext(ctx, "server.handle_request.rejected", slog.String("method", req.Method), slog.String("err", err.Error()))
		c.set(slot, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeServerClosed, "server closed", nil))
		c.done()
	}
}

func (s *Server) routeNotification(ctx context.Context, req *jsonrpc.Request) {
	reg, ok := s.reg.Lookup(req.Method)
	if !ok {
		s.log.InfoContext(ctx, "server.handle_notification.unknown_method", slog.String("method", req.Method))
		s.metrics.ObserveMessage(req.Method, "notification", int(jsonrpc.ErrorCodeMethodNotFound))
		return
	}
	if err := s.pool.Submit(func() { s.notify(ctx, reg, req) }); err != nil {
		s.log.WarnContext(ctx, "server.handle_notification.rejected", slog.String("method", req.Method), slog.String("err", err.Error()))
	}
}

func (s *Server) execute(ctx context.Context, h MethodHandler, req *jsonrpc.Request) (resp *jsonrpc.Response) {
	start := time.Now()
	ctx = s.handlerContext(ctx, req)
	log := s.log.With(slog.String("method", req.Method))

	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "server.handle_request.panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			resp = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "", fmt.Sprint(r))
		}
		s.metrics.ObserveHandler(req.Method, time.Since(start))
		code := 0
		if resp.Error != nil {
			code = int(resp.Error.Code)
		}
		s.metrics.ObserveMessage(req.Method, "request", code)
	}()

	result, err := h.ServeRPC(ctx, req.Params)
	if err != nil {
		jerr := toError(err)
		log.InfoContext(ctx, "server.handle_request.fail", slog.Int("code", int(jerr.Code)), slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewFailure(req.ID, jerr)
	}

	resp, err = jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		log.ErrorContext(ctx, "server.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "", err.Error())
	}
	log.InfoContext(ctx, "server.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return resp
}

func (s *Server) notify(ctx context.Context, reg Registration, req *jsonrpc.Request) {
	start := time.Now()
	ctx = s.handlerContext(ctx, req)
	log := s.log.With(slog.String("method", req.Method))

	defer func() {
		code := 0
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "server.handle_notification.panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			code = int(jsonrpc.ErrorCodeInternalError)
		}
		s.metrics.ObserveHandler(req.Method, time.Since(start))
		s.metrics.ObserveMessage(req.Method, "notification", code)
	}()

	switch reg.Kind {
	case KindNotification:
		reg.Notification.HandleNotification(ctx, req.Params)
	default:
		if _, err := reg.Method.ServeRPC(ctx, req.Params); err != nil {
			log.InfoContext(ctx, "server.handle_notification.fail", slog.String("err", err.Error()))
			return
		}
	}
	log.DebugContext(ctx, "server.handle_notification.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
}

// handlerContext keeps the values of the dispatching context but not its
// cancellation: a reply already written or a caller gone away must not stop a
// running handler.
func (s *Server) handlerContext(ctx context.Context, req *jsonrpc.Request) context.Context {
	ctx = context.WithoutCancel(ctx)
	msg := &logctx.RPCMessage{Method: req.Method, Type: "notification"}
	if req.ID != nil {
		msg.ID = req.ID.String()
		msg.Type = "request"
	}
	ctx = logctx.WithRPCMessage(ctx, msg)
	ctx = context.WithValue(ctx, requestKey{}, req)
	return context.WithValue(ctx, loggerKey{}, s.log)
}

func (s *Server) encodeReply(ctx context.Context, batch bool, out []*jsonrpc.Response) jsonrpc.Message {
	if len(out) == 0 {
		return nil
	}
	if !batch {
		return s.encode(ctx, out[0])
	}
	// Entries are encoded one by one so a single bad result cannot sink the
	// whole batch.
	parts := make([]json.RawMessage, 0, len(out))
	for _, resp := range out {
		if msg := s.encode(ctx, resp); msg != nil {
			parts = append(parts, json.RawMessage(msg))
		}
	}
	if len(parts) == 0 {
		return nil
	}
	b, err := json.Marshal(parts)
	if err != nil {
		s.log.ErrorContext(ctx, "server.reply.encode_fail", slog.String("err", err.Error()))
		return nil
	}
	return jsonrpc.Message(b)
}

func (s *Server) encode(ctx context.Context, resp *jsonrpc.Response) jsonrpc.Message {
	msg, err := jsonrpc.Encode(resp)
	if err == nil {
		return msg
	}
	// Typically unmarshalable error data; retry without it.
	s.log.ErrorContext(ctx, "server.reply.encode_fail", slog.String("err", err.Error()))
	if resp.Error != nil {
		msg, err = jsonrpc.Encode(jsonrpc.NewFailure(resp.ID, jsonrpc.NewError(resp.Error.Code, resp.Error.Message, nil)))
		if err == nil {
			return msg
		}
	}
	return nil
}

type requestKey struct{}

type loggerKey struct{}

// RequestFromContext returns the request being handled. It is available to
// handlers invoked by a Server.
func RequestFromContext(ctx context.Context) (*jsonrpc.Request, bool) {
	req, ok := ctx.Value(requestKey{}).(*jsonrpc.Request)
	return req, ok
}

func loggerFrom(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}
