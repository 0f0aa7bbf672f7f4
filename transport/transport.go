// Package transport moves newline-delimited JSON-RPC 2.0 messages over a
// byte stream. One line carries exactly one message; no transport-level
// buffering of multiple messages happens on either side.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

// Error kinds, attached to returned errors with errors.Mark and checked with
// errors.Is.
var (
	// ErrTransport marks write failures: closed stream, broken pipe.
	ErrTransport = errors.New("transport failure")
	// ErrTimeout marks reads that exceeded their deadline.
	ErrTimeout = errors.New("read timeout")
	// ErrClosed marks reads past end-of-stream.
	ErrClosed = errors.New("stream closed")
)

// Request is an outgoing JSON-RPC call expecting a response with the same ID.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// Notification is a one-way message; no response is ever read for it.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// Response is an incoming JSON-RPC response carrying either a result or an
// error, never both.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError is the server-supplied error object of a failed call.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// Transport frames JSON-RPC messages over a bidirectional byte stream. The
// same session logic runs over any implementation; Stdio is the one used for
// child processes.
type Transport interface {
	// WriteMessage serializes msg into one line and writes it atomically.
	WriteMessage(msg any) error
	// ReadLine blocks until one full line is available, ctx is done, or the
	// deadline elapses.
	ReadLine(ctx context.Context, deadline time.Duration) ([]byte, error)
	// Alive reports whether the peer is still usable.
	Alive() bool
	// Close tears the stream down. Best-effort cleanup failures are logged,
	// not returned.
	Close() error
}
