package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"

	"golang.org/x/sync/errgroup"
)

// Stdio returns a Transport over the process's standard input and output.
// Close does not close them.
func Stdio(opts ...Option) *Transport {
	return stdio(os.Stdin, os.Stdout, opts...)
}

func stdio(in io.Reader, out io.Writer, opts ...Option) *Transport {
	return New(in, out, append([]Option{WithCloser(nopCloser{})}, opts...)...)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Dial connects to addr and returns a Transport over the connection.
func Dial(ctx context.Context, network, addr string, opts ...Option) (*Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return NewConn(conn, opts...), nil
}

// Serve accepts connections on l and calls fn for each one on its own
// goroutine. The transport is closed when fn returns. Serve returns when ctx
// ends (after closing l and waiting for every fn to return) or when Accept
// fails.
func Serve(ctx context.Context, l net.Listener, fn func(ctx context.Context, t *Transport), opts ...Option) error {
	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = l.Close() })
	defer stop()

	var cfg Transport
	cfg.apply(opts)
	log := cfg.log

	g.Go(func() error {
		for {
			conn, err := l.Accept()
			if err != nil {
				if gctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return err
			}
			log.Debug("stream.accept", slog.String("remote_addr", conn.RemoteAddr().String()))
			g.Go(func() error {
				t := NewConn(conn, opts...)
				defer t.Close()
				fn(gctx, t)
				return nil
			})
		}
	})

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return err
}
