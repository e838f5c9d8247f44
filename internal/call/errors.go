package call

import (
	"errors"
	"fmt"
)

var (
	ErrNoLocalMedia             = errors.New("local media not started")
	ErrMissingCallID            = errors.New("call id is required")
	ErrOfferNotFound            = errors.New("call has no offer")
	ErrUnexpectedSignalingState = errors.New("unexpected signaling state")
	ErrClosed                   = errors.New("negotiator closed")
)

// Error records the negotiation step that failed.
type Error struct {
	Op      string
	CallID  string
	Err     error
	Details string
}

func (e *Error) Error() string {
	msg := e.Op
	if e.CallID != "" {
		msg += " " + e.CallID
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", msg, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op, callID string, err error) *Error {
	return &Error{Op: op, CallID: callID, Err: err}
}

func wrapError(op, callID string, err error, details string) *Error {
	return &Error{Op: op, CallID: callID, Err: err, Details: details}
}
