package instrument

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"
)

var (
	// ErrAcquire wraps any failure to reach the position at dial time.
	ErrAcquire = errors.New("failed to acquire instrument session")
	// ErrSessionClosed reports that the session is no longer usable.
	ErrSessionClosed = errors.New("instrument session closed")
	// ErrNotStarted is returned for streaming calls before Start.
	ErrNotStarted    = errors.New("instrument stream not started")
	ErrChannelRange  = errors.New("invalid channel range")
	ErrMalformed     = errors.New("malformed instrument message")
	ErrNotRunning    = errors.New("device is not running")
	ErrInvalidRead   = errors.New("invalid read address")
	ErrInvalidConfig = errors.New("invalid instrument configuration")
)

// isClosedCode reports whether code means the remote session is gone.
func isClosedCode(code connect.Code) bool {
	switch code {
	case connect.CodeUnavailable, connect.CodeFailedPrecondition, connect.CodeAborted:
		return true
	default:
		return false
	}
}

// wrapCall converts an RPC error into package errors. Cancellation of the
// caller's context is returned as-is.
func wrapCall(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if isClosedCode(connect.CodeOf(err)) {
		return fmt.Errorf("%s: %w: %v", op, ErrSessionClosed, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// deviceError maps a device failure onto a Connect error for the wire.
func deviceError(err error) error {
	switch {
	case errors.Is(err, ErrNotRunning):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, ErrInvalidRead), errors.Is(err, ErrChannelRange), errors.Is(err, ErrMalformed):
		return connect.NewError(connect.CodeInvalidArgument, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
