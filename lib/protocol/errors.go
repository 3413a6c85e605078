package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/samber/oops"
)

// Error kinds. Every error produced by this module matches exactly one of
// these with errors.Is.
var (
	ErrConnection    = errors.New("connection error")
	ErrProtocol      = errors.New("protocol error")
	ErrConfiguration = errors.New("configuration error")
	ErrTimeout       = errors.New("timeout")
)

// Detail errors, wrapped inside an *Error of the matching kind.
var (
	// ErrExchangeInFlight is returned when a command is issued on a control
	// channel that is still waiting for the reply to a previous command.
	ErrExchangeInFlight = errors.New("another exchange is in flight")
	// ErrClosed is returned for operations on, or waiters of, a closed channel.
	ErrClosed = errors.New("channel closed")
	// ErrInvalidName is returned for NAMING LOOKUP names without the .i2p suffix.
	ErrInvalidName = errors.New("invalid I2P address")
	// ErrPayloadLength is returned for datagram bodies outside the configured bounds.
	ErrPayloadLength = errors.New("payload length out of bounds")
)

// Error is the concrete error type of the module.
type Error struct {
	// Kind is one of ErrConnection, ErrProtocol, ErrConfiguration, ErrTimeout.
	Kind error
	// Op names the failed operation, e.g. "HELLO" or "SESSION".
	Op string
	// Line is the raw reply line, when the failure came from the bridge.
	Line string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Line != "" {
		return fmt.Sprintf("%s failed: %s", e.Op, e.Line)
	}
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(" failed: ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewProtocolError reports a non-OK reply line for op.
func NewProtocolError(op, line string) error {
	return &Error{Kind: ErrProtocol, Op: op, Line: strings.TrimSpace(line)}
}

// NewConfigurationError reports an invalid local argument for op.
func NewConfigurationError(op string, cause error, format string, args ...interface{}) error {
	if cause == nil {
		return &Error{Kind: ErrConfiguration, Op: op, Err: oops.Errorf(format, args...)}
	}
	return &Error{Kind: ErrConfiguration, Op: op, Err: oops.Wrapf(cause, format, args...)}
}

// NewConnectionError wraps a socket level failure for op.
func NewConnectionError(op string, cause error) error {
	if cause == nil {
		cause = ErrClosed
	}
	var dnsErr *net.DNSError
	if errors.As(cause, &dnsErr) {
		return &Error{Kind: ErrConnection, Op: op, Err: oops.Wrapf(cause, "unresolved host %s", dnsErr.Name)}
	}
	return &Error{Kind: ErrConnection, Op: op, Err: cause}
}

// NewTimeoutError reports an expired deadline for op.
func NewTimeoutError(op string, cause error) error {
	return &Error{Kind: ErrTimeout, Op: op, Err: cause}
}

// FromContext converts a context error into the module taxonomy. Deadline
// expiry becomes ErrTimeout; cancellation is returned wrapped but unclassified.
func FromContext(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(op, err)
	}
	return oops.Wrapf(err, "%s cancelled", op)
}

// IsProtocolResult reports whether err is a protocol error whose reply line
// carries RESULT=result.
func IsProtocolResult(err error, result string) bool {
	var e *Error
	if !errors.As(err, &e) || e.Kind != ErrProtocol {
		return false
	}
	reply := ParseReply(e.Line)
	return reply != nil && reply.Result() == result
}
