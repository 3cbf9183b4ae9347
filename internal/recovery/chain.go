package recovery

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"

	"governor/pkg/logging"
)

// Phase selects which recovery list handles a failure.
type Phase string

const (
	// PhaseExecution handles failures of test bodies.
	PhaseExecution Phase = "execution"
	// PhaseLifecycle handles failures of setup and teardown hooks.
	PhaseLifecycle Phase = "lifecycle"
)

// Handler is one recovery step. Handle must return nil to swallow, the same
// error value to rethrow, or a different error to convert.
type Handler struct {
	Name   string
	Handle func(ctx context.Context, err error) error
}

// Walk runs handlers in the given order, which callers take from the registry's
// reversed lookup so that the most narrowly scoped handler goes first.
func Walk(ctx context.Context, phase Phase, err error, handlers []Handler) Failure {
	f := Failure{State: StateOriginal, Err: err, Original: err}
	if err == nil {
		return f
	}
	if IsUnrecoverable(err) {
		logging.Warn("Recovery", "Unrecoverable %s failure bypasses %d handler(s): %v", phase, len(handlers), err)
		f.State = StateUnrecoverable
		return f
	}

	current := err
	for _, h := range handlers {
		next := invoke(ctx, h, current)

		switch {
		case next == nil:
			f.Trail = append(f.Trail, Step{Handler: h.Name, Action: ActionSwallowed})
			f.State = StateRecovered
			f.Err = nil
			f.By = h.Name
			actionsTotal.WithLabelValues(string(phase), string(ActionSwallowed)).Inc()
			logging.Debug("Recovery", "%s swallowed %s failure: %v", h.Name, phase, current)
			return f
		case sameError(next, current):
			f.Trail = append(f.Trail, Step{Handler: h.Name, Action: ActionRethrown, Err: current})
			actionsTotal.WithLabelValues(string(phase), string(ActionRethrown)).Inc()
			logging.Debug("Recovery", "%s rethrew %s failure", h.Name, phase)
		default:
			f.Trail = append(f.Trail, Step{Handler: h.Name, Action: ActionConverted, Err: next})
			actionsTotal.WithLabelValues(string(phase), string(ActionConverted)).Inc()
			logging.Debug("Recovery", "%s converted %s failure %q into %q", h.Name, phase, current, next)
			current = next
		}

		if IsUnrecoverable(current) {
			logging.Warn("Recovery", "%s produced an unrecoverable failure: %v", h.Name, current)
			f.State = StateUnrecoverable
			f.Err = current
			return f
		}
	}

	f.Err = current
	return f
}

func invoke(ctx context.Context, h Handler, err error) (next error) {
	defer func() {
		if r := recover(); r != nil {
			next = fmt.Errorf("recovery handler %s panicked: %v\n%s", h.Name, r, debug.Stack())
		}
	}()
	return h.Handle(ctx, err)
}

// sameError compares error values by identity without panicking on
// uncomparable dynamic types.
func sameError(a, b error) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
