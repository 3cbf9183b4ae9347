package engine

import (
	"context"
	"time"

	"governor/internal/behavior"
	"governor/internal/deadline"
	"governor/internal/invocation"
	"governor/internal/recovery"
	"governor/internal/registry"
	"governor/internal/reporting"
	"governor/pkg/logging"
)

// interceptorAdapter binds an InvocationInterceptor behavior to the unit it
// runs for.
type interceptorAdapter struct {
	ic behavior.InvocationInterceptor
	uc *behavior.Context
}

func (a interceptorAdapter) Intercept(ctx context.Context, call invocation.Call, inv *invocation.Invocation[any]) (any, error) {
	return a.ic.InterceptInvocation(ctx, a.uc, call, inv)
}

func (a interceptorAdapter) String() string {
	return describe(a.ic)
}

// invoke runs action through the unit's interceptor chain. The deadline
// enforcer, when a deadline applies, is the outermost interceptor. own is the
// deadline declared on the invoked hook, if any.
func (r *run) invoke(ctx context.Context, u *unit, call invocation.Call, own *deadline.Deadline, action invocation.Action[any]) (any, error) {
	d, ok, err := r.deadlineFor(u, call, own)
	if err != nil {
		return nil, err
	}

	var chain []invocation.Interceptor[any]
	if ok {
		chain = append(chain, deadline.Interceptor[any](d, r.deadlineHooks(u)))
	}
	for _, ic := range registry.Lookup[behavior.InvocationInterceptor](u.uc.Level) {
		chain = append(chain, interceptorAdapter{ic: ic, uc: u.uc})
	}
	return invocation.Run(ctx, call, action, chain...)
}

// deadlineFor resolves the deadline of call. The first override found wins
// over the configured cascade: the hook's own deadline, then the node
// declarations of u and its ancestors, innermost first, then the most
// narrowly scoped DeadlineProvider that answers.
func (r *run) deadlineFor(u *unit, call invocation.Call, own *deadline.Deadline) (deadline.Deadline, bool, error) {
	override, err := r.declaredDeadline(u, call, own)
	if err != nil {
		return deadline.Deadline{}, false, err
	}

	d, ok, err := r.e.resolver.Resolve(call, override)
	if err != nil {
		return deadline.Deadline{}, false, &ConfigurationError{Unit: call.Name, Err: err}
	}
	return d, ok, nil
}

func (r *run) declaredDeadline(u *unit, call invocation.Call, own *deadline.Deadline) (*deadline.Deadline, error) {
	if own != nil {
		return own, nil
	}
	for uc := u.uc; uc != nil; uc = uc.Parent {
		v, ok := r.overrides.Load(uc)
		if !ok {
			continue
		}
		if o := v.(*DeadlineOverride); o.Covers(call.Kind) {
			d := o.Deadline
			return &d, nil
		}
	}

	for _, p := range registry.LookupReversed[behavior.DeadlineProvider](u.uc.Level) {
		var (
			d  deadline.Deadline
			ok bool
		)
		err := guard(call, p, func() error {
			d, ok = p.DeadlineFor(u.uc, call)
			return nil
		})
		if err != nil {
			return nil, err
		}
		if ok {
			return &d, nil
		}
	}
	return nil, nil
}

func (r *run) deadlineHooks(u *unit) deadline.Hooks {
	return deadline.Hooks{
		TimedOut: func(call invocation.Call, d deadline.Deadline) {
			r.publish(reporting.NewUnitEvent(reporting.EventTypeTimeoutFired, reporting.SeverityWarn, u.uc).
				WithMessage("%s exceeded %s", call, d))
		},
		Abandoned: func(call invocation.Call, d deadline.Deadline) {
			r.publish(reporting.NewUnitEvent(reporting.EventTypeInvocationAbandoned, reporting.SeverityWarn, u.uc).
				WithMessage("stopped waiting for %s after %s", call, d.Budget))
		},
		Returned: func(call invocation.Call, err error, late time.Duration) {
			logging.Debug("Engine", "Abandoned %s of %s returned %s late (err=%v)", call, u.uc.Path(), late, err)
		},
	}
}

// settle classifies the outcome of an invocation. A skip request skips the
// unit; configuration and chain errors fail it directly; other failures walk
// the recovery handlers of phase, most narrowly scoped first. A timeout is
// always an ordinary failure, whatever the action returned after
// cancellation. It reports whether the unit may continue with its next step.
func (r *run) settle(ctx context.Context, u *unit, phase recovery.Phase, call invocation.Call, err error) bool {
	if err == nil {
		return true
	}
	if se, ok := asSkip(err); ok {
		u.skip(se.Reason)
		return false
	}
	if bypassesRecovery(err) {
		u.fail(err)
		return false
	}

	failure := recovery.Walk(ctx, phase, err, r.handlers(u, phase, call))
	if failure.Recovered() {
		u.recovered(failure.By)
		r.publish(reporting.NewUnitEvent(reporting.EventTypeFailureRecovered, reporting.SeverityInfo, u.uc).
			WithMessage("%s recovered %s failure of %s", failure.By, phase, call).
			WithError(failure.Original))
		return true
	}
	u.fail(failure.Err)
	return false
}

func (r *run) handlers(u *unit, phase recovery.Phase, call invocation.Call) []recovery.Handler {
	var out []recovery.Handler
	switch phase {
	case recovery.PhaseExecution:
		for _, h := range registry.LookupReversed[behavior.ExecutionFailureHandler](u.uc.Level) {
			out = append(out, recovery.Handler{
				Name: describe(h),
				Handle: func(ctx context.Context, err error) error {
					return h.HandleExecutionFailure(ctx, u.uc, err)
				},
			})
		}
	case recovery.PhaseLifecycle:
		for _, h := range registry.LookupReversed[behavior.LifecycleFailureHandler](u.uc.Level) {
			out = append(out, recovery.Handler{
				Name: describe(h),
				Handle: func(ctx context.Context, err error) error {
					return h.HandleLifecycleFailure(ctx, u.uc, call, err)
				},
			})
		}
	}
	return out
}

// runHooks invokes container hooks as lifecycle calls of u. With
// stopOnFailure the first unrecovered failure ends the loop. It reports
// whether every hook succeeded or was recovered.
func (r *run) runHooks(ctx context.Context, u *unit, kind invocation.Kind, hooks []Hook, stopOnFailure bool) bool {
	ok := true
	for _, h := range hooks {
		if !u.live() {
			return false
		}
		call := u.call(kind, h.Name)
		_, err := r.invoke(ctx, u, call, h.Deadline, func(ctx context.Context) (any, error) {
			return nil, h.Run(ctx, u.uc)
		})
		if !r.settle(ctx, u, recovery.PhaseLifecycle, call, err) {
			ok = false
			if stopOnFailure {
				return false
			}
		}
	}
	return ok
}
