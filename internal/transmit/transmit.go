// Package transmit defines the outbound SMS transmission capability the
// dispatcher consumes. The transmitter itself is an external collaborator;
// this package pins its interface, error taxonomy and a deterministic mock.
package transmit

import (
	"context"
	"errors"
	"fmt"
)

// Transmitter sends one SMS. Implementations must honor ctx cancellation;
// the dispatcher wraps every call in a hard timeout.
type Transmitter interface {
	Send(ctx context.Context, phoneNumber, content string) error
	SimState(ctx context.Context) SimState
}

type SimState string

const (
	SimReady         SimState = "READY"
	SimAbsent        SimState = "ABSENT"
	SimPinRequired   SimState = "PIN_REQUIRED"
	SimPukRequired   SimState = "PUK_REQUIRED"
	SimNetworkLocked SimState = "NETWORK_LOCKED"
	SimNotReady      SimState = "NOT_READY"
	SimError         SimState = "ERROR"
)

type ErrorKind string

const (
	KindRetryable ErrorKind = "RETRYABLE"
	KindTerminal  ErrorKind = "TERMINAL"
)

// Retryable sub-codes.
const (
	SubNetwork     = "NETWORK"
	SubTimeout     = "TIMEOUT"
	SubNoService   = "NO_SERVICE"
	SubNoSignal    = "NO_SIGNAL"
	SubSimBusy     = "SIM_BUSY"
	SubRateLimited = "RATE_LIMITED"
)

// Terminal sub-codes.
const (
	SubInvalidNumber    = "INVALID_NUMBER"
	SubBlocked          = "BLOCKED"
	SubPermissionDenied = "PERMISSION_DENIED"
	SubInvalidContent   = "INVALID_CONTENT"
	SubMessageTooLong   = "MESSAGE_TOO_LONG"
)

// Error is a classified transmission failure.
type Error struct {
	Kind ErrorKind
	Sub  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s(%s): %v", e.Kind, e.Sub, e.Err)
	}
	return fmt.Sprintf("%s(%s)", e.Kind, e.Sub)
}

func (e *Error) Unwrap() error { return e.Err }

func Retryable(sub string, err error) *Error {
	return &Error{Kind: KindRetryable, Sub: sub, Err: err}
}

func Terminal(sub string, err error) *Error {
	return &Error{Kind: KindTerminal, Sub: sub, Err: err}
}

// Classify maps an arbitrary send error onto the retry decision. Unknown
// errors count as retryable until the retry budget runs out; context
// timeouts are the TIMEOUT sub-code.
func Classify(err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable(SubTimeout, err)
	}
	return Retryable("UNKNOWN", err)
}
