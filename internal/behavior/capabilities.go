// Package behavior declares the capabilities a registered behavior can have.
//
// A behavior is any Go value; the engine discovers what it does by asserting
// the interfaces below. A single value may implement several capabilities, for
// example a before-each hook that is also an execution failure handler.
package behavior

import (
	"context"

	"governor/internal/deadline"
	"governor/internal/invocation"
)

// BeforeAllCallback runs once before the members of a container.
type BeforeAllCallback interface {
	BeforeAll(ctx context.Context, uc *Context) error
}

// AfterAllCallback runs once after the members of a container.
type AfterAllCallback interface {
	AfterAll(ctx context.Context, uc *Context) error
}

// BeforeEachCallback runs before each test, ahead of the containers' before-each hooks.
type BeforeEachCallback interface {
	BeforeEach(ctx context.Context, uc *Context) error
}

// AfterEachCallback runs after each test, once the containers' after-each hooks ran.
type AfterEachCallback interface {
	AfterEach(ctx context.Context, uc *Context) error
}

// BeforeTestExecutionCallback runs immediately before a test body.
type BeforeTestExecutionCallback interface {
	BeforeTestExecution(ctx context.Context, uc *Context) error
}

// AfterTestExecutionCallback runs immediately after a test body.
type AfterTestExecutionCallback interface {
	AfterTestExecution(ctx context.Context, uc *Context) error
}

// ConditionResult is the verdict of an ExecutionCondition.
type ConditionResult struct {
	Disabled bool
	Reason   string
}

// Enabled returns a result that lets the unit run.
func Enabled(reason string) ConditionResult {
	return ConditionResult{Reason: reason}
}

// Disabled returns a result that skips the unit.
func Disabled(reason string) ConditionResult {
	return ConditionResult{Disabled: true, Reason: reason}
}

// ExecutionCondition decides whether a unit runs at all.
type ExecutionCondition interface {
	EvaluateCondition(ctx context.Context, uc *Context) ConditionResult
}

// InvocationInterceptor wraps every invocation made beneath the level it is
// registered at. It must call exactly one of inv.Proceed or inv.Skip once.
type InvocationInterceptor interface {
	InterceptInvocation(ctx context.Context, uc *Context, call invocation.Call, inv *invocation.Invocation[any]) (any, error)
}

// ExecutionFailureHandler is given failures of test bodies. Return nil to
// swallow, the same error to rethrow, or another error to convert.
type ExecutionFailureHandler interface {
	HandleExecutionFailure(ctx context.Context, uc *Context, err error) error
}

// LifecycleFailureHandler is given failures of before/after hooks.
type LifecycleFailureHandler interface {
	HandleLifecycleFailure(ctx context.Context, uc *Context, call invocation.Call, err error) error
}

// DeadlineProvider overrides the configured deadline for a call. The most
// narrowly scoped provider that returns true wins.
type DeadlineProvider interface {
	DeadlineFor(uc *Context, call invocation.Call) (deadline.Deadline, bool)
}

// OutcomeWatcher is notified of every finished unit beneath its level.
type OutcomeWatcher interface {
	UnitFinished(uc *Context, result Result)
}

// HasCapability reports whether v implements at least one capability. It is
// the registry's acceptance check.
func HasCapability(v any) bool {
	switch v.(type) {
	case BeforeAllCallback, AfterAllCallback,
		BeforeEachCallback, AfterEachCallback,
		BeforeTestExecutionCallback, AfterTestExecutionCallback,
		ExecutionCondition, InvocationInterceptor,
		ExecutionFailureHandler, LifecycleFailureHandler,
		DeadlineProvider, OutcomeWatcher:
		return true
	}
	return false
}
