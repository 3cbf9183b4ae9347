package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"governor/internal/behavior"
	"governor/internal/invocation"
	"governor/internal/recovery"
	"governor/internal/registry"
	"governor/internal/reporting"
	"governor/pkg/logging"
)

// unit tracks one running unit from begin to end.
type unit struct {
	r     *run
	uc    *behavior.Context
	start time.Time

	failures recovery.Collector

	mu          sync.Mutex
	recoveredBy []string
	skipReason  string
	interrupted error
	// cut is set when the run aborted while this unit still had steps left.
	cut bool
}

// begin creates the unit's context and level, records its deadline override,
// registers its behaviors and evaluates execution conditions. The unit must be passed to end whatever
// begin reports; false means no step of the unit may run.
func (r *run) begin(ctx context.Context, parent *behavior.Context, kind behavior.UnitKind, name string, decls []registry.Declaration, override *DeadlineOverride) (*unit, bool) {
	level := parent.Level.Derive(name)
	u := &unit{
		r:     r,
		uc:    behavior.NewContext(parent, kind, name, r.e.params, level),
		start: time.Now(),
	}
	if override != nil {
		r.overrides.Store(u.uc, override)
	}
	r.publish(reporting.NewUnitEvent(reporting.EventTypeUnitStarted, reporting.SeverityInfo, u.uc))

	if err := r.interruption(ctx); err != nil {
		u.interrupted = err
		return u, false
	}

	if err := level.RegisterAll(decls); err != nil {
		u.fail(&ConfigurationError{Unit: u.uc.Path(), Err: err})
		return u, false
	}

	for _, cond := range registry.Lookup[behavior.ExecutionCondition](level) {
		var result behavior.ConditionResult
		err := guard(invocation.Call{Kind: invocation.KindTest, Name: u.uc.Path()}, cond, func() error {
			result = cond.EvaluateCondition(ctx, u.uc)
			return nil
		})
		if err != nil {
			u.fail(err)
			return u, false
		}
		if result.Disabled {
			u.skip(result.Reason)
			logging.Debug("Engine", "%s disabled by %s: %s", u.uc.Path(), describe(cond), result.Reason)
			return u, false
		}
	}
	return u, true
}

// end computes the unit's result, notifies watchers, closes its scope and
// records the report.
func (r *run) end(u *unit) behavior.Result {
	if err := u.uc.Store.Close(); err != nil {
		u.fail(fmt.Errorf("closing store of %s: %w", u.uc.Path(), err))
	}

	result := u.result()
	r.overrides.Delete(u.uc)

	for _, w := range registry.LookupReversed[behavior.OutcomeWatcher](u.uc.Level) {
		err := guard(invocation.Call{Kind: invocation.KindTest, Name: u.uc.Path()}, w, func() error {
			w.UnitFinished(u.uc, result)
			return nil
		})
		if err != nil {
			logging.Warn("Engine", "Outcome watcher %s failed for %s: %v", describe(w), u.uc.Path(), err)
		}
	}

	if err := u.uc.Level.Close(); err != nil {
		logging.Warn("Engine", "Closing behaviors of %s failed: %v", u.uc.Path(), err)
	}

	if result.Status == behavior.StatusFailed && r.e.failFast && isLeaf(u.uc.Kind) {
		if r.stopped.CompareAndSwap(false, true) {
			logging.Info("Engine", "Fail-fast: %s failed, no further units will start", u.uc.Path())
		}
	}

	r.publish(reporting.NewUnitFinishedEvent(u.uc, result))
	r.record(UnitReport{
		ID:       u.uc.ID,
		Path:     u.uc.Path(),
		Kind:     u.uc.Kind,
		Status:   result.Status,
		Reason:   result.Reason,
		Err:      result.Err,
		Duration: result.Duration,
	})
	unitsTotal.WithLabelValues(string(u.uc.Kind), string(result.Status)).Inc()
	unitDuration.WithLabelValues(string(u.uc.Kind)).Observe(result.Duration.Seconds())

	if result.Status == behavior.StatusFailed || result.Status == behavior.StatusAborted {
		logging.Debug("Engine", "%s %s: %v", u.uc.Path(), result.Status, result.Err)
	}
	return result
}

func isLeaf(kind behavior.UnitKind) bool {
	switch kind {
	case behavior.UnitTest, behavior.UnitDynamic, behavior.UnitInvocation, behavior.UnitFactory:
		return true
	}
	return false
}

func (u *unit) result() behavior.Result {
	res := behavior.Result{Duration: time.Since(u.start)}

	u.mu.Lock()
	defer u.mu.Unlock()

	switch {
	case u.failures.Fatal() != nil:
		res.Status = behavior.StatusAborted
		res.Err = u.failures.Err()
	case !u.failures.Empty():
		res.Status = behavior.StatusFailed
		res.Err = u.failures.Err()
	case u.interrupted != nil && errors.Is(u.interrupted, errFailFast):
		res.Status = behavior.StatusSkipped
		res.Reason = u.interrupted.Error()
	case u.interrupted != nil:
		res.Status = behavior.StatusAborted
		res.Err = u.interrupted
	case u.cut:
		res.Status = behavior.StatusAborted
		res.Err = ErrRunAborted
	case u.skipReason != "":
		res.Status = behavior.StatusSkipped
		res.Reason = u.skipReason
	case len(u.recoveredBy) > 0:
		res.Status = behavior.StatusRecovered
		res.Reason = "recovered by " + strings.Join(u.recoveredBy, ", ")
	default:
		res.Status = behavior.StatusSuccess
	}
	return res
}

// fail records err against the unit. An unrecoverable failure aborts the run.
func (u *unit) fail(err error) {
	u.failures.Add(err)
	if recovery.IsUnrecoverable(err) {
		u.r.abort(err)
	}
}

func (u *unit) skip(reason string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.skipReason == "" {
		u.skipReason = reason
	}
}

func (u *unit) recovered(by string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.recoveredBy = append(u.recoveredBy, by)
}

// live reports whether the unit may run its next step. It is false once the
// run aborted.
func (u *unit) live() bool {
	if !u.r.aborted() {
		return true
	}
	u.markCut()
	return false
}

func (u *unit) markCut() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cut = true
}

// call describes an invocation of this unit, or of one of its hooks when hook
// is not empty.
func (u *unit) call(kind invocation.Kind, hook string) invocation.Call {
	name := u.uc.Path()
	if hook != "" {
		name += " > " + hook
	}
	return invocation.Call{Kind: kind, Name: name}
}

// callbacks runs fn for every behavior in list. Callback failures bypass
// recovery. When stopOnFailure is set the first failure ends the loop;
// otherwise every callback runs. It reports whether all callbacks succeeded.
func callbacks[T any](u *unit, kind invocation.Kind, list []T, stopOnFailure bool, fn func(b T) error) bool {
	ok := true
	for _, b := range list {
		if !u.live() {
			return false
		}
		err := guard(u.call(kind, ""), b, func() error { return fn(b) })
		if err == nil {
			continue
		}
		ok = false
		if se, isSkip := asSkip(err); isSkip {
			u.skip(se.Reason)
		} else {
			u.fail(err)
		}
		if stopOnFailure {
			return false
		}
	}
	return ok
}

// guard runs fn and turns a panic into a *invocation.PanicError naming source.
func guard(call invocation.Call, source any, fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &invocation.PanicError{Call: call, Source: describe(source), Value: v, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// describe names a behavior for logs and recovery trails.
func describe(v any) string {
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", v)
}
