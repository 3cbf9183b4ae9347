package engine

import (
	"context"
	"slices"

	"governor/internal/behavior"
	"governor/internal/invocation"
	"governor/internal/recovery"
	"governor/internal/registry"
)

func (r *run) runContainer(ctx context.Context, parent *behavior.Context, frames []*Container, c *Container) {
	u, ok := r.begin(ctx, parent, behavior.UnitContainer, c.Name, c.Behaviors, c.Deadline)
	defer r.end(u)
	if !ok {
		return
	}
	uc := u.uc

	before := registry.Lookup[behavior.BeforeAllCallback](uc.Level)
	if callbacks(u, invocation.KindBeforeAll, before, true, func(b behavior.BeforeAllCallback) error {
		return b.BeforeAll(ctx, uc)
	}) {
		proceed := r.setup(ctx, u, c)
		if proceed {
			proceed = r.runHooks(ctx, u, invocation.KindBeforeAll, c.BeforeAll, true)
		}
		if proceed && u.live() {
			if err := r.runChildren(ctx, uc, append(slices.Clone(frames), c), c.Children); err != nil {
				u.markCut()
			}
		}
		r.runHooks(ctx, u, invocation.KindAfterAll, c.AfterAll, false)
	}

	after := registry.LookupReversed[behavior.AfterAllCallback](uc.Level)
	callbacks(u, invocation.KindAfterAll, after, false, func(b behavior.AfterAllCallback) error {
		return b.AfterAll(ctx, uc)
	})
}

// setup builds the container fixture through the chain. Setup failures are
// not offered to recovery handlers.
func (r *run) setup(ctx context.Context, u *unit, c *Container) bool {
	if c.Setup == nil {
		return true
	}
	if !u.live() {
		return false
	}
	fixture, err := r.invoke(ctx, u, u.call(invocation.KindContainerSetup, ""), nil, func(ctx context.Context) (any, error) {
		return c.Setup(ctx, u.uc)
	})
	if err != nil {
		if se, ok := asSkip(err); ok {
			u.skip(se.Reason)
		} else {
			u.fail(err)
		}
		return false
	}
	u.uc.Fixture = fixture
	return true
}

func (r *run) runTest(ctx context.Context, parent *behavior.Context, frames []*Container, t *Test) {
	u, ok := r.begin(ctx, parent, behavior.UnitTest, t.Name, t.Behaviors, t.Deadline)
	defer r.end(u)
	if !ok {
		return
	}
	r.testPipeline(ctx, u, frames, invocation.KindTest, func(ctx context.Context) (any, error) {
		return nil, t.Body(ctx, u.uc)
	}, nil)
}

func (r *run) runFactory(ctx context.Context, parent *behavior.Context, frames []*Container, f *Factory) {
	u, ok := r.begin(ctx, parent, behavior.UnitFactory, f.Name, f.Behaviors, f.Deadline)
	defer r.end(u)
	if !ok {
		return
	}
	r.testPipeline(ctx, u, frames, invocation.KindTestFactory, func(ctx context.Context) (any, error) {
		return f.Body(ctx, u.uc)
	}, func(produced any) {
		dynamic, _ := produced.([]DynamicTest)
		for _, dt := range dynamic {
			if !u.live() {
				return
			}
			r.runDynamic(ctx, u.uc, dt)
		}
	})
}

func (r *run) runDynamic(ctx context.Context, parent *behavior.Context, dt DynamicTest) {
	u, ok := r.begin(ctx, parent, behavior.UnitDynamic, dt.Name, nil, nil)
	defer r.end(u)
	if !ok {
		return
	}
	call := u.call(invocation.KindDynamicTest, "")
	_, err := r.invoke(ctx, u, call, nil, func(ctx context.Context) (any, error) {
		return nil, dt.Body(ctx, u.uc)
	})
	r.settle(ctx, u, recovery.PhaseExecution, call, err)
}

func (r *run) runTemplate(ctx context.Context, parent *behavior.Context, frames []*Container, t *Template) {
	u, ok := r.begin(ctx, parent, behavior.UnitTemplate, t.Name, t.Behaviors, t.Deadline)
	defer r.end(u)
	if !ok {
		return
	}
	if len(t.Invocations) == 0 {
		u.fail(ErrNoInvocations)
		return
	}

	for _, ic := range t.Invocations {
		if !u.live() {
			return
		}
		r.runInvocation(ctx, u.uc, frames, t, ic)
	}
}

func (r *run) runInvocation(ctx context.Context, parent *behavior.Context, frames []*Container, t *Template, ic InvocationContext) {
	u, ok := r.begin(ctx, parent, behavior.UnitInvocation, ic.Name, ic.Behaviors, ic.Deadline)
	defer r.end(u)
	if !ok {
		return
	}
	r.testPipeline(ctx, u, frames, invocation.KindTestTemplate, func(ctx context.Context) (any, error) {
		return nil, t.Body(ctx, u.uc)
	}, nil)
}

// testPipeline runs the per-test steps around body. then, when set, receives
// the body's value after a successful body and runs before the after steps.
func (r *run) testPipeline(ctx context.Context, u *unit, frames []*Container, kind invocation.Kind, body invocation.Action[any], then func(produced any)) {
	uc := u.uc

	before := registry.Lookup[behavior.BeforeEachCallback](uc.Level)
	if callbacks(u, invocation.KindBeforeEach, before, true, func(b behavior.BeforeEachCallback) error {
		return b.BeforeEach(ctx, uc)
	}) {
		// Outermost container first; a failure stops the remaining before hooks
		// but every container whose before hooks started gets its after hooks.
		entered := 0
		proceed := true
		for _, c := range frames {
			entered++
			if !r.runHooks(ctx, u, invocation.KindBeforeEach, c.BeforeEach, true) {
				proceed = false
				break
			}
		}

		if proceed {
			r.execute(ctx, u, kind, body, then)
		}

		for i := entered - 1; i >= 0; i-- {
			r.runHooks(ctx, u, invocation.KindAfterEach, frames[i].AfterEach, false)
		}
	}

	after := registry.LookupReversed[behavior.AfterEachCallback](uc.Level)
	callbacks(u, invocation.KindAfterEach, after, false, func(b behavior.AfterEachCallback) error {
		return b.AfterEach(ctx, uc)
	})
}

// execute runs the before-test-execution callbacks, the body and the
// after-test-execution callbacks.
func (r *run) execute(ctx context.Context, u *unit, kind invocation.Kind, body invocation.Action[any], then func(produced any)) {
	uc := u.uc

	before := registry.Lookup[behavior.BeforeTestExecutionCallback](uc.Level)
	if callbacks(u, kind, before, true, func(b behavior.BeforeTestExecutionCallback) error {
		return b.BeforeTestExecution(ctx, uc)
	}) && u.live() {
		call := u.call(kind, "")
		produced, err := r.invoke(ctx, u, call, nil, body)
		if r.settle(ctx, u, recovery.PhaseExecution, call, err) && err == nil && then != nil {
			then(produced)
		}
	}

	after := registry.LookupReversed[behavior.AfterTestExecutionCallback](uc.Level)
	callbacks(u, kind, after, false, func(b behavior.AfterTestExecutionCallback) error {
		return b.AfterTestExecution(ctx, uc)
	})
}
