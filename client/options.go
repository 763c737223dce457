package client

import (
	"log/slog"
	"time"

	"github.com/ggoodman/jsonrpc-go/metrics"
	"github.com/juju/clock"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets a custom logger for the Client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithDefaultTimeout bounds every call that does not set its own timeout.
// Zero (the default) means calls wait until answered, cancelled or closed.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

// WithIDGenerator replaces the default Sequential id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Client) {
		if g != nil {
			c.ids = g
		}
	}
}

// WithClock sets the clock used for call timeouts. Tests use a
// testclock.Clock.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithMetrics records call metrics into m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// CallOption configures a single call.
type CallOption func(*callConfig)

type callConfig struct {
	timeout time.Duration
}

// WithTimeout bounds the call. On expiry the call fails with
// jsonrpc.ErrTimeout and a late response is dropped. A non-positive duration
// disables the client's default timeout for this call.
func WithTimeout(d time.Duration) CallOption {
	return func(cfg *callConfig) { cfg.timeout = d }
}
