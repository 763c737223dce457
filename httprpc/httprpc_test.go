package httprpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/jsonrpc-go/client"
	"github.com/ggoodman/jsonrpc-go/jsonrpc"
	"github.com/ggoodman/jsonrpc-go/server"
)

func newTestServer(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()
	srv := server.New()
	srv.RegisterMethod("add", server.Method(func(ctx context.Context, p []float64) (float64, error) {
		return p[0] + p[1], nil
	}))
	srv.RegisterNotification("stop", server.NotificationFunc(func(context.Context, json.RawMessage) {}))
	ts := httptest.NewServer(NewHandler(srv, opts...))
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close(context.Background())
	})
	return ts
}

func post(t *testing.T, url, ctype, body string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post(url, ctype, strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func TestHandler_Responses(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, WithMaxBodyBytes(1024))

	tests := []struct {
		name       string
		ctype      string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"request", "application/json", `{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}`, http.StatusOK, `{"jsonrpc":"2.0","result":3,"id":1}`},
		{"charset parameter", "application/json; charset=utf-8", `{"jsonrpc":"2.0","method":"add","params":[2,2],"id":2}`, http.StatusOK, `{"jsonrpc":"2.0","result":4,"id":2}`},
		{"notification", "application/json", `{"jsonrpc":"2.0","method":"stop"}`, http.StatusNoContent, ``},
		{"parse error", "application/json", `{not json`, http.StatusOK, `{"jsonrpc":"2.0","error":{"code":-32700,"message":"Parse error"},"id":null}`},
		{"batch", "application/json", `[{"jsonrpc":"2.0","method":"add","params":[1,1],"id":"a"},{"jsonrpc":"2.0","method":"stop"}]`, http.StatusOK, `[{"jsonrpc":"2.0","result":2,"id":"a"}]`},
		{"wrong media type", "text/plain", `{}`, http.StatusUnsupportedMediaType, ""},
		{"too large", "application/json", `[` + strings.Repeat(`{"jsonrpc":"2.0","method":"stop"},`, 100) + `1]`, http.StatusRequestEntityTooLarge, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := post(t, ts.URL, tt.ctype, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status %d, want %d (%s)", resp.StatusCode, tt.wantStatus, body)
			}
			if tt.wantBody != "" && body != tt.wantBody {
				t.Fatalf("body %s, want %s", body, tt.wantBody)
			}
		})
	}
}

func TestHandler_RejectsGet(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Allow"); got != http.MethodPost {
		t.Fatalf("expected Allow: POST, got %q", got)
	}
}

func TestHandler_NotificationOutlivesRequest(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	result := make(chan error, 1)
	srv := server.New()
	defer srv.Close(context.Background())
	srv.RegisterNotification("work", server.NotificationFunc(func(ctx context.Context, _ json.RawMessage) {
		<-release
		result <- ctx.Err()
	}))
	ts := httptest.NewServer(NewHandler(srv))
	defer ts.Close()

	resp, _ := post(t, ts.URL, "application/json", `{"jsonrpc":"2.0","method":"work"}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	// The request context is cancelled once ServeHTTP returns.
	time.Sleep(50 * time.Millisecond)
	close(release)

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("handler context ended with the HTTP request: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("notification handler did not finish")
	}
}

func TestSender_WithClient(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	s := NewSender(ts.URL)
	c := client.New(s)
	s.OnReceive(c.OnMessage)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var sum float64
	if err := c.Call(ctx, "add", []float64{20, 22}, &sum); err != nil {
		t.Fatalf("call: %v", err)
	}
	if sum != 42 {
		t.Fatalf("expected 42, got %v", sum)
	}
	if err := c.Notify(ctx, "stop", nil); err != nil {
		t.Fatalf("notify: %v", err)
	}

	err := c.Call(ctx, "missing", nil, nil)
	var jerr *jsonrpc.Error
	if !errors.As(err, &jerr) || jerr.Code != jsonrpc.ErrorCodeMethodNotFound {
		t.Fatalf("expected method not found, got %v", err)
	}
}

func TestSender_StatusError(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer ts.Close()

	err := NewSender(ts.URL).Send(context.Background(), jsonrpc.Message(`{}`))
	var serr *StatusError
	if !errors.As(err, &serr) || serr.StatusCode != http.StatusBadGateway || serr.Body != "nope" {
		t.Fatalf("expected status error, got %v", err)
	}
}
