package forward

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// Kind tags a TransportError with the failure class the orchestrator maps to
// an HTTP status code.
type Kind int

const (
	KindConnectFailed Kind = iota
	KindReadTimeout
	KindWriteTimeout
	KindConnectionReset
)

// String returns the stable tag name for the kind.
func (k Kind) String() string {
	switch k {
	case KindReadTimeout:
		return "read-timeout"
	case KindWriteTimeout:
		return "write-timeout"
	case KindConnectionReset:
		return "connection-reset"
	default:
		return "connect-failed"
	}
}

// TransportError wraps a connect/read/write/timeout failure while talking to
// the upstream. It is never swallowed: the forwarder propagates it to the
// orchestrator, which owns the mapping to 502/504.
type TransportError struct {
	Kind Kind
	Err  error
}

func (e *TransportError) Error() string {
	return "upstream " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Classify tags an upstream transport failure. Timeouts are recognized first
// (a dial that times out is still a timeout); connection resets next;
// everything else, including DNS failures, refused connections and malformed
// upstream responses, counts as connect-failed.
func Classify(err error) *TransportError {
	var (
		opErr  *net.OpError
		netErr net.Error
	)
	duringWrite := errors.As(err, &opErr) && opErr.Op == "write"

	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		if duringWrite {
			return &TransportError{Kind: KindWriteTimeout, Err: err}
		}
		return &TransportError{Kind: KindReadTimeout, Err: err}
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF):
		return &TransportError{Kind: KindConnectionReset, Err: err}
	default:
		return &TransportError{Kind: KindConnectFailed, Err: err}
	}
}
