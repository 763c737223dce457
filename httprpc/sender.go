package httprpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/ggoodman/jsonrpc-go/jsonrpc"
	"github.com/ggoodman/jsonrpc-go/transport"
)

// StatusError reports a non-2xx answer from the remote endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httprpc: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Sender is a transport.Sender that POSTs each message to a URL. The reply
// carried by the HTTP response, if any, is passed to the OnReceive callback
// before Send returns.
type Sender struct {
	url     string
	client  *http.Client
	header  http.Header
	log     *slog.Logger
	maxBody int64

	onReceive atomic.Pointer[func(jsonrpc.Message)]
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithHTTPClient overrides http.DefaultClient.
func WithHTTPClient(c *http.Client) SenderOption {
	return func(s *Sender) {
		if c != nil {
			s.client = c
		}
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) SenderOption {
	return func(s *Sender) { s.header.Add(key, value) }
}

// WithSenderLogger sets a custom logger for the Sender.
func WithSenderLogger(l *slog.Logger) SenderOption {
	return func(s *Sender) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSender returns a Sender posting to url.
func NewSender(url string, opts ...SenderOption) *Sender {
	s := &Sender{
		url:     url,
		client:  http.DefaultClient,
		header:  make(http.Header),
		log:     slog.New(slog.DiscardHandler),
		maxBody: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// OnReceive sets the callback receiving reply bodies, typically
// (*client.Client).OnMessage.
func (s *Sender) OnReceive(fn func(jsonrpc.Message)) {
	s.onReceive.Store(&fn)
}

// Send posts msg and delivers the reply body, if any.
func (s *Sender) Send(ctx context.Context, msg jsonrpc.Message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(msg))
	if err != nil {
		return err
	}
	for k, vs := range s.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", jsonMediaType.String())
	req.Header.Set("Accept", jsonMediaType.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	if fn := s.onReceive.Load(); fn != nil {
		(*fn)(jsonrpc.Message(body))
	} else {
		s.log.InfoContext(ctx, "http.reply.dropped", slog.Int("bytes", len(body)))
	}
	return nil
}

var _ transport.Sender = (*Sender)(nil)
