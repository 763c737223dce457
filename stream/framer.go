package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/ggoodman/jsonrpc-go/jsonrpc"
)

// DefaultMaxMessageSize bounds a single inbound message.
const DefaultMaxMessageSize = 16 << 20

// HeaderContentType is the Content-Type written by HeaderFramer.
const HeaderContentType = "application/vscode-jsonrpc; charset=utf-8"

// ErrMessageTooLarge is returned when an inbound message exceeds the
// configured maximum size.
var ErrMessageTooLarge = errors.New("stream: message too large")

// Framer delimits messages on a byte stream.
type Framer interface {
	// ReadMessage returns the next message. io.EOF is returned at a clean end
	// of stream.
	ReadMessage(r *bufio.Reader, max int) (jsonrpc.Message, error)
	// WriteMessage writes one framed message. The caller flushes w.
	WriteMessage(w *bufio.Writer, msg jsonrpc.Message) error
}

// LineFramer frames one message per line (newline-delimited JSON). Blank
// lines are skipped.
type LineFramer struct{}

func (LineFramer) ReadMessage(r *bufio.Reader, max int) (jsonrpc.Message, error) {
	for {
		line, err := readLine(r, max)
		if err != nil {
			if errors.Is(err, io.EOF) && len(bytes.TrimSpace(line)) > 0 {
				return jsonrpc.Message(bytes.TrimSpace(line)), nil
			}
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return jsonrpc.Message(line), nil
	}
}

func readLine(r *bufio.Reader, max int) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(buf)+len(chunk) > max {
			return nil, ErrMessageTooLarge
		}
		buf = append(buf, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return buf, err
	}
}

func (LineFramer) WriteMessage(w *bufio.Writer, msg jsonrpc.Message) error {
	if bytes.ContainsAny(msg, "\r\n") {
		var compact bytes.Buffer
		if err := json.Compact(&compact, msg); err != nil {
			return fmt.Errorf("compact message: %w", err)
		}
		msg = compact.Bytes()
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	return w.WriteByte('\n')
}

// HeaderFramer frames messages with a Content-Length header block, as used by
// the Language Server Protocol:
//
//	Content-Length: 52\r\n
//	Content-Type: application/vscode-jsonrpc; charset=utf-8\r\n
//	\r\n
//	{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}
//
// Content-Length is required; other headers are accepted and ignored.
type HeaderFramer struct{}

func (HeaderFramer) ReadMessage(r *bufio.Reader, max int) (jsonrpc.Message, error) {
	tp := textproto.NewReader(r)
	hdr, err := tp.ReadMIMEHeader()
	if err != nil {
		if errors.Is(err, io.EOF) && len(hdr) == 0 {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read headers: %w", err)
	}

	raw := strings.TrimSpace(hdr.Get("Content-Length"))
	if raw == "" {
		return nil, errors.New("stream: missing Content-Length header")
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("stream: invalid Content-Length %q", raw)
	}
	if n > max {
		return nil, ErrMessageTooLarge
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return jsonrpc.Message(body), nil
}

func (HeaderFramer) WriteMessage(w *bufio.Writer, msg jsonrpc.Message) error {
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\nContent-Type: %s\r\n\r\n", len(msg), HeaderContentType); err != nil {
		return err
	}
	_, err := w.Write(msg)
	return err
}
