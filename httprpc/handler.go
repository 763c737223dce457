// Package httprpc serves and calls JSON-RPC over plain HTTP POST requests:
// one message (or batch) per request body, the reply in the response body.
package httprpc

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/jsonrpc-go/internal/logctx"
	"github.com/ggoodman/jsonrpc-go/server"
)

// DefaultMaxBodyBytes bounds request bodies accepted by Handler.
const DefaultMaxBodyBytes = 4 << 20

var jsonMediaType = contenttype.NewMediaType("application/json")

// writeJSONError emits a minimal JSON body for HTTP-layer rejections, before
// any JSON-RPC exchange is possible. Shape: {"error":{"code":<status>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Handler is an http.Handler that feeds POSTed JSON-RPC messages to a
// server.Server.
type Handler struct {
	srv     *server.Server
	log     *slog.Logger
	maxBody int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets a custom logger for the Handler.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithMaxBodyBytes bounds request bodies. Larger bodies are answered with
// 413 Request Entity Too Large.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// NewHandler returns a Handler dispatching to srv.
func NewHandler(srv *server.Server, opts ...Option) *Handler {
	h := &Handler{srv: srv, log: slog.New(slog.DiscardHandler), maxBody: DefaultMaxBodyBytes}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.log = logctx.Wrap(h.log)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := logctx.WithConnData(r.Context(), &logctx.ConnData{Transport: "http", RemoteAddr: r.RemoteAddr})

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		h.log.InfoContext(ctx, "http.method.unsupported", slog.String("method", r.Method))
		return
	}

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "http.content_type.unsupported")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		}
		h.log.WarnContext(ctx, "http.body.read_fail", slog.String("err", err.Error()))
		return
	}

	reply, err := h.srv.Handle(ctx, body)
	if err != nil {
		// The client went away before the handlers finished.
		h.log.InfoContext(ctx, "http.post.abandoned", slog.String("err", err.Error()))
		return
	}
	if reply == nil {
		w.WriteHeader(http.StatusNoContent)
		h.log.InfoContext(ctx, "http.post.ok", slog.Int("status", http.StatusNoContent), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return
	}

	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(reply); err != nil {
		h.log.InfoContext(ctx, "http.post.write_fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "http.post.ok", slog.Int("status", http.StatusOK), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
}
