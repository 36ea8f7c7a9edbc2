package listing

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no listing or builder matches.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a review action does not apply to the
	// listing's current review state, including losing a compare-and-set race.
	ErrInvalidTransition = errors.New("invalid review transition")
	// ErrTransientIO marks failures talking to the backing store.
	ErrTransientIO = errors.New("store unavailable")
)

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// IOError wraps a store failure. It matches both ErrTransientIO and the cause.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() []error {
	return []error{ErrTransientIO, e.Err}
}

func ioErr(op string, err error) error {
	return &IOError{Op: op, Err: err}
}

// TransitionError carries the state a listing was actually in when a
// transition was refused.
type TransitionError struct {
	ID      string
	Current ReviewState
	Target  ReviewState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("listing %s is %s, cannot move to %s", e.ID, e.Current, e.Target)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
