package peer

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState means the underlying connection resource was closed or
	// failed. The engine re-initializes it as a recovery action; the single
	// attempt that hit the bad state yields no description.
	ErrInvalidState = errors.New("peer connection in invalid state")

	// ErrEngineClosed means the engine was shut down for good.
	ErrEngineClosed = errors.New("engine closed")
)

// Error carries the operation that failed, in the spirit of the rest of this
// codebase's wrapped errors.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}
