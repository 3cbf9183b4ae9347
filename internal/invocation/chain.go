package invocation

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"

	"governor/pkg/logging"
)

// Action is the terminal work wrapped by a chain.
type Action[T any] func(ctx context.Context) (T, error)

// Interceptor wraps an invocation. Implementations must call exactly one of
// inv.Proceed or inv.Skip exactly once.
type Interceptor[T any] interface {
	Intercept(ctx context.Context, call Call, inv *Invocation[T]) (T, error)
}

// InterceptorFunc adapts a function to the Interceptor interface.
type InterceptorFunc[T any] func(ctx context.Context, call Call, inv *Invocation[T]) (T, error)

// Intercept calls f.
func (f InterceptorFunc[T]) Intercept(ctx context.Context, call Call, inv *Invocation[T]) (T, error) {
	return f(ctx, call, inv)
}

type chainState struct {
	terminal atomic.Int32
}

// Invocation is a one-shot capsule of the rest of the chain.
type Invocation[T any] struct {
	call     Call
	state    *chainState
	terminal bool
	next     func(ctx context.Context) (T, error)
}

// Call returns the call this invocation belongs to.
func (i *Invocation[T]) Call() Call {
	return i.call
}

// Proceed runs the next interceptor, or the terminal action when this is the
// innermost invocation, and returns its result.
func (i *Invocation[T]) Proceed(ctx context.Context) (T, error) {
	if i.terminal {
		if n := i.state.terminal.Add(1); n > 1 {
			var zero T
			return zero, &ChainError{Call: i.call, Calls: int(n)}
		}
	}
	return i.next(ctx)
}

// Skip ends the chain successfully without running the terminal action or any
// interceptor nested below this invocation.
func (i *Invocation[T]) Skip() {
	i.state.terminal.Add(1)
	logging.Debug("Chain", "Invocation of %s skipped", i.call)
}

// Run builds the chain interceptors[0] -> ... -> interceptors[n-1] -> action and
// executes it. After the outermost interceptor returns, Run verifies that exactly
// one terminal operation (Proceed on the innermost invocation, or Skip anywhere)
// happened. Panics raised by the action or by an interceptor are returned as
// *PanicError values.
func Run[T any](ctx context.Context, call Call, action Action[T], interceptors ...Interceptor[T]) (T, error) {
	state := &chainState{}

	cur := &Invocation[T]{
		call:     call,
		state:    state,
		terminal: true,
		next: func(ctx context.Context) (T, error) {
			return safeAction(ctx, call, action)
		},
	}
	for idx := len(interceptors) - 1; idx >= 0; idx-- {
		ic, inner := interceptors[idx], cur
		cur = &Invocation[T]{
			call:  call,
			state: state,
			next: func(ctx context.Context) (T, error) {
				return safeIntercept(ctx, call, ic, inner)
			},
		}
	}

	result, err := cur.Proceed(ctx)

	calls := int(state.terminal.Load())
	if calls > 1 {
		var zero T
		return zero, &ChainError{Call: call, Calls: calls, Interceptors: describeAll(interceptors)}
	}
	if err != nil {
		return result, err
	}
	if calls == 0 {
		var zero T
		return zero, &ChainError{Call: call, Calls: 0, Interceptors: describeAll(interceptors)}
	}
	return result, nil
}

func safeAction[T any](ctx context.Context, call Call, action Action[T]) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Call: call, Value: r, Stack: debug.Stack()}
		}
	}()
	return action(ctx)
}

func safeIntercept[T any](ctx context.Context, call Call, ic Interceptor[T], inv *Invocation[T]) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Call: call, Source: describe(ic), Value: r, Stack: debug.Stack()}
		}
	}()
	return ic.Intercept(ctx, call, inv)
}

func describe(v any) string {
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", v)
}

func describeAll[T any](interceptors []Interceptor[T]) []string {
	names := make([]string, len(interceptors))
	for i, ic := range interceptors {
		names[i] = describe(ic)
	}
	return names
}

// ChainError is a chain-discipline violation: the terminal action was reached
// zero times or more than once. It always indicates a defective interceptor.
type ChainError struct {
	Call         Call
	Calls        int
	Interceptors []string
}

func (e *ChainError) Error() string {
	var b strings.Builder
	if e.Calls == 0 {
		fmt.Fprintf(&b, "interceptor chain for %s never invoked the action", e.Call)
	} else {
		fmt.Fprintf(&b, "interceptor chain for %s invoked the action multiple times instead of once (%d calls)", e.Call, e.Calls)
	}
	if len(e.Interceptors) > 0 {
		fmt.Fprintf(&b, "; interceptors: %s", strings.Join(e.Interceptors, ", "))
	}
	return b.String()
}

// PanicError carries a panic recovered from an action or interceptor.
type PanicError struct {
	Call   Call
	Source string
	Value  any
	Stack  []byte
}

func (e *PanicError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("panic in interceptor %s during %s: %v", e.Source, e.Call, e.Value)
	}
	return fmt.Sprintf("panic during %s: %v", e.Call, e.Value)
}

// Unwrap exposes the panic value when it is an error, so classification such as
// unrecoverable-failure detection sees through the panic.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
