package inverter

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// InvalidSerialError means the inverter serial failed local validation. No
// network call is ever made for an invalid serial.
type InvalidSerialError struct {
	Serial string
}

func (e *InvalidSerialError) Error() string {
	return fmt.Sprintf("invalid inverter serial %q", e.Serial)
}

// AuthError is a login rejection from the portal. Code carries the portal's
// business code verbatim; the portal answers HTTP 200 even for failures so the
// code is the only signal.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("portal login failed: %s", e.Message)
	}
	return fmt.Sprintf("portal login failed (code %s): %s", e.Code, e.Message)
}

// RemoteError is a non-auth failure reported by the portal on a data call.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("portal error (code %s): %s", e.Code, e.Message)
}

// TimeoutError wraps a transport timeout so callers can tell a slow portal
// apart from a rejection and decide to fall back to simulated data.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// wrapTimeout converts a transport error into a TimeoutError when it was a
// timeout and returns it unchanged otherwise.
func wrapTimeout(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Op: op, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Err: err}
	}
	return err
}
