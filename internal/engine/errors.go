package engine

import (
	"errors"
	"fmt"

	"governor/internal/deadline"
	"governor/internal/invocation"
	"governor/internal/registry"
)

var (
	// ErrRunAborted is returned by Run when an unrecoverable failure cut the run short.
	ErrRunAborted = errors.New("run aborted")
	// ErrNoInvocations is the failure of a template without invocation contexts.
	ErrNoInvocations = errors.New("template declares no invocation contexts")

	errFailFast = errors.New("run stopped after the first failure")
)

// ConfigurationError is a failure caused by bad configuration rather than by
// the code under test. It fails the unit without going through recovery.
type ConfigurationError struct {
	Unit string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %v", e.Unit, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// SkipError aborts a unit without failing it.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return "skipped: " + e.Reason
}

// Skip returns an error that marks the current unit as skipped.
func Skip(reason string) error {
	return &SkipError{Reason: reason}
}

// timedOut reports a deadline overrun. What the action returned after
// cancellation is kept as the cause but never changes the classification.
func timedOut(err error) bool {
	var te *deadline.TimeoutError
	return errors.As(err, &te)
}

func asSkip(err error) (*SkipError, bool) {
	if timedOut(err) {
		return nil, false
	}
	var se *SkipError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// bypassesRecovery reports failures that recovery handlers never see:
// configuration errors and chain-discipline violations.
func bypassesRecovery(err error) bool {
	if timedOut(err) {
		return false
	}
	var ce *ConfigurationError
	var chain *invocation.ChainError
	return errors.As(err, &ce) || errors.As(err, &chain) || registry.IsConfigError(err)
}
