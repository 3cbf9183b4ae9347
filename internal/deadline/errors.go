package deadline

import (
	"context"
	"fmt"
	"time"
)

// TimeoutError is the failure of an invocation that exceeded its budget. It is
// an ordinary action failure and goes through recovery like any other.
type TimeoutError struct {
	// Unit is the display name of the timed out invocation.
	Unit     string
	Budget   time.Duration
	Strategy Strategy
	// Cause is what the action itself returned after cancellation, if it
	// returned before the enforcer gave up on it.
	Cause error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Unit, e.Budget)
}

func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, context.DeadlineExceeded) hold for timeouts.
func (e *TimeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded
}
