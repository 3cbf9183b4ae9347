package recovery

import (
	"errors"
	"fmt"
	"strings"
)

// Unrecoverable is implemented by errors that signal a fatal condition of the
// process or runtime. Such failures bypass every recovery handler and abort the
// enclosing run.
type Unrecoverable interface {
	error
	Unrecoverable() bool
}

// UnrecoverableError marks a wrapped error as unrecoverable.
type UnrecoverableError struct {
	Err error
}

// Fatal wraps err so that IsUnrecoverable reports true for it.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &UnrecoverableError{Err: err}
}

func (e *UnrecoverableError) Error() string {
	return fmt.Sprintf("unrecoverable: %v", e.Err)
}

func (e *UnrecoverableError) Unwrap() error {
	return e.Err
}

// Unrecoverable implements the Unrecoverable interface.
func (e *UnrecoverableError) Unrecoverable() bool {
	return true
}

// IsUnrecoverable reports whether err, or anything it wraps, is unrecoverable.
func IsUnrecoverable(err error) bool {
	if err == nil {
		return false
	}
	var u Unrecoverable
	return errors.As(err, &u) && u.Unrecoverable()
}

// Action is what a handler did with the failure it received.
type Action string

const (
	ActionSwallowed Action = "swallowed"
	ActionRethrown  Action = "rethrown"
	ActionConverted Action = "converted"
)

// State tags a Failure.
type State string

const (
	// StateOriginal means no handler absorbed the failure. Err may still be a
	// converted value if a handler replaced it.
	StateOriginal State = "original"
	// StateRecovered means a handler swallowed the failure.
	StateRecovered State = "recovered"
	// StateUnrecoverable means the failure bypassed recovery and must abort the run.
	StateUnrecoverable State = "unrecoverable"
)

// Step records one handler's decision.
type Step struct {
	Handler string
	Action  Action
	// Err is the failure value after this step; nil when swallowed.
	Err error
}

// Failure is the outcome of walking a recovery chain.
type Failure struct {
	State State
	// Err is the failure value to report: the last value produced by the chain.
	// It is nil when the failure was recovered.
	Err error
	// Original is the failure that triggered the chain.
	Original error
	// By names the handler that swallowed the failure, when recovered.
	By    string
	Trail []Step
}

// Recovered reports whether a handler swallowed the failure.
func (f Failure) Recovered() bool {
	return f.State == StateRecovered
}

// Converted reports whether the reported value differs from the original.
func (f Failure) Converted() bool {
	for _, s := range f.Trail {
		if s.Action == ActionConverted {
			return true
		}
	}
	return false
}

// SuppressedError is a primary failure with later failures of the same unit
// attached, e.g. a failing teardown after a failing test body.
type SuppressedError struct {
	Primary    error
	Suppressed []error
}

func (e *SuppressedError) Error() string {
	msgs := make([]string, len(e.Suppressed))
	for i, s := range e.Suppressed {
		msgs[i] = s.Error()
	}
	return fmt.Sprintf("%v (suppressed: %s)", e.Primary, strings.Join(msgs, "; "))
}

// Unwrap returns the primary failure followed by the suppressed ones.
func (e *SuppressedError) Unwrap() []error {
	return append([]error{e.Primary}, e.Suppressed...)
}
