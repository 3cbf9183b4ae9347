package deadline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"governor/internal/invocation"
	"governor/internal/recovery"
	"governor/pkg/logging"
)

// Hooks observe enforcement. Every field is optional. TimedOut runs on the
// watchdog goroutine at budget expiry, before the action has necessarily
// returned.
type Hooks struct {
	TimedOut func(call invocation.Call, d Deadline)
	// Abandoned is called when the dedicated strategy stops waiting for a goroutine.
	Abandoned func(call invocation.Call, d Deadline)
	// Returned is called when an abandoned goroutine eventually finishes.
	Returned func(call invocation.Call, err error, late time.Duration)
}

func (h Hooks) timedOut(call invocation.Call, d Deadline) {
	timeoutsTotal.WithLabelValues(string(d.Strategy), string(call.Kind)).Inc()
	logging.Warn("Deadline", "%s exceeded its budget of %s (%s)", call, d.Budget, d.Strategy)
	if h.TimedOut != nil {
		h.TimedOut(call, d)
	}
}

// Interceptor returns the interceptor enforcing d. It must be placed outermost
// so the budget covers every other interceptor.
func Interceptor[T any](d Deadline, hooks Hooks) invocation.Interceptor[T] {
	return invocation.InterceptorFunc[T](func(ctx context.Context, call invocation.Call, inv *invocation.Invocation[T]) (T, error) {
		return Enforce(ctx, call, d, inv, hooks)
	})
}

// Enforce proceeds inv under d. An unrecoverable failure from the action is
// returned unchanged; any other overrun yields a *TimeoutError.
func Enforce[T any](ctx context.Context, call invocation.Call, d Deadline, inv *invocation.Invocation[T], hooks Hooks) (T, error) {
	if d.Strategy == StrategyDedicated {
		return dedicated(ctx, call, d, inv, hooks)
	}
	return cooperative(ctx, call, d, inv, hooks)
}

func cooperative[T any](parent context.Context, call invocation.Call, d Deadline, inv *invocation.Invocation[T], hooks Hooks) (T, error) {
	timeout := &TimeoutError{Unit: call.Name, Budget: d.Budget, Strategy: StrategyCooperative}

	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	var report sync.Once
	start := time.Now()
	watchdog := time.AfterFunc(d.Budget, func() {
		cancel(timeout)
		report.Do(func() { hooks.timedOut(call, d) })
	})

	result, err := inv.Proceed(ctx)
	elapsed := time.Since(start)
	stopped := watchdog.Stop()

	if recovery.IsUnrecoverable(err) {
		invocationSeconds.WithLabelValues(string(StrategyCooperative), "unrecoverable").Observe(elapsed.Seconds())
		return result, err
	}

	// The outcome depends on the elapsed budget, not on whether the action
	// honored the cancellation.
	if !stopped || elapsed > d.Budget {
		report.Do(func() { hooks.timedOut(call, d) })
		invocationSeconds.WithLabelValues(string(StrategyCooperative), "timeout").Observe(elapsed.Seconds())
		timeout.Cause = err
		var zero T
		return zero, timeout
	}

	invocationSeconds.WithLabelValues(string(StrategyCooperative), "completed").Observe(elapsed.Seconds())
	return result, err
}

type outcome[T any] struct {
	value T
	err   error
}

func dedicated[T any](parent context.Context, call invocation.Call, d Deadline, inv *invocation.Invocation[T], hooks Hooks) (T, error) {
	timeout := &TimeoutError{Unit: call.Name, Budget: d.Budget, Strategy: StrategyDedicated}

	ctx, cancel := context.WithCancelCause(parent)
	done := make(chan outcome[T], 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome[T]{err: &invocation.PanicError{Call: call, Value: r, Stack: debug.Stack()}}
			}
		}()
		v, err := inv.Proceed(ctx)
		done <- outcome[T]{value: v, err: err}
	}()

	timer := time.NewTimer(d.Budget)
	defer timer.Stop()

	select {
	case o := <-done:
		cancel(nil)
		label := "completed"
		if recovery.IsUnrecoverable(o.err) {
			label = "unrecoverable"
		}
		invocationSeconds.WithLabelValues(string(StrategyDedicated), label).Observe(time.Since(start).Seconds())
		return o.value, o.err

	case <-timer.C:
		cancel(timeout)
		hooks.timedOut(call, d)
		abandon(call, d, start, done, hooks)
		invocationSeconds.WithLabelValues(string(StrategyDedicated), "timeout").Observe(time.Since(start).Seconds())
		var zero T
		return zero, timeout

	case <-parent.Done():
		cause := context.Cause(parent)
		cancel(cause)
		abandon(call, d, start, done, hooks)
		var zero T
		return zero, fmt.Errorf("%s cancelled: %w", call, cause)
	}
}

// abandon stops waiting for the worker. A watcher goroutine drains its result
// so the leak is visible in metrics and logs once the worker returns.
func abandon[T any](call invocation.Call, d Deadline, start time.Time, done <-chan outcome[T], hooks Hooks) {
	abandonedTotal.Inc()
	abandonedRunning.Inc()
	logging.Warn("Deadline", "Abandoning worker for %s after %s", call, time.Since(start).Round(time.Millisecond))
	if hooks.Abandoned != nil {
		hooks.Abandoned(call, d)
	}

	go func() {
		o := <-done
		abandonedRunning.Dec()
		late := time.Since(start) - d.Budget
		if recovery.IsUnrecoverable(o.err) {
			logging.Error("Deadline", o.err, "Abandoned worker for %s failed unrecoverably %s after its budget", call, late)
		} else {
			logging.Debug("Deadline", "Abandoned worker for %s returned %s after its budget", call, late)
		}
		if hooks.Returned != nil {
			hooks.Returned(call, o.err, late)
		}
	}()
}
