package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"governor/internal/behavior"
	"governor/internal/config"
	"governor/internal/deadline"
	"governor/internal/invocation"
	"governor/internal/recovery"
	"governor/internal/registry"
	"governor/internal/reporting"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf(format, args...))
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

// tracer implements every callback capability and the interceptor capability.
type tracer struct {
	name string
	log  *eventLog
}

func (t *tracer) BeforeAll(ctx context.Context, uc *behavior.Context) error {
	t.log.add("%s.beforeAll", t.name)
	return nil
}

func (t *tracer) AfterAll(ctx context.Context, uc *behavior.Context) error {
	t.log.add("%s.afterAll", t.name)
	return nil
}

func (t *tracer) BeforeEach(ctx context.Context, uc *behavior.Context) error {
	t.log.add("%s.beforeEach", t.name)
	return nil
}

func (t *tracer) AfterEach(ctx context.Context, uc *behavior.Context) error {
	t.log.add("%s.afterEach", t.name)
	return nil
}

func (t *tracer) BeforeTestExecution(ctx context.Context, uc *behavior.Context) error {
	t.log.add("%s.beforeTestExecution", t.name)
	return nil
}

func (t *tracer) AfterTestExecution(ctx context.Context, uc *behavior.Context) error {
	t.log.add("%s.afterTestExecution", t.name)
	return nil
}

func (t *tracer) InterceptInvocation(ctx context.Context, uc *behavior.Context, call invocation.Call, inv *invocation.Invocation[any]) (any, error) {
	t.log.add("%s.intercept %s", t.name, call.Kind)
	return inv.Proceed(ctx)
}

// Identity is by concrete type, so distinct tracers need distinct types.
type outerTracer struct{ tracer }
type innerTracer struct{ tracer }

type swallower struct{ log *eventLog }

func (s *swallower) String() string { return "swallow" }

func (s *swallower) HandleExecutionFailure(ctx context.Context, uc *behavior.Context, err error) error {
	if s.log != nil {
		s.log.add("swallow:%v", err)
	}
	return nil
}

func (s *swallower) HandleLifecycleFailure(ctx context.Context, uc *behavior.Context, call invocation.Call, err error) error {
	if s.log != nil {
		s.log.add("swallow %s:%v", call.Kind, err)
	}
	return nil
}

type rethrower struct{ log *eventLog }

func (r *rethrower) String() string { return "rethrow" }

func (r *rethrower) HandleExecutionFailure(ctx context.Context, uc *behavior.Context, err error) error {
	r.log.add("rethrow:%v", err)
	return err
}

type converter struct{ log *eventLog }

func (c *converter) String() string { return "convert" }

func (c *converter) HandleExecutionFailure(ctx context.Context, uc *behavior.Context, err error) error {
	c.log.add("convert:%v", err)
	return fmt.Errorf("converted: %w", err)
}

type budget struct{ d deadline.Deadline }

func (b *budget) DeadlineFor(uc *behavior.Context, call invocation.Call) (deadline.Deadline, bool) {
	return b.d, call.Kind.IsTestable()
}

type disabler struct{ reason string }

func (d *disabler) EvaluateCondition(ctx context.Context, uc *behavior.Context) behavior.ConditionResult {
	return behavior.Disabled(d.reason)
}

type neverProceeds struct{}

func (neverProceeds) InterceptInvocation(ctx context.Context, uc *behavior.Context, call invocation.Call, inv *invocation.Invocation[any]) (any, error) {
	return nil, nil
}

type skipper struct{}

func (skipper) InterceptInvocation(ctx context.Context, uc *behavior.Context, call invocation.Call, inv *invocation.Invocation[any]) (any, error) {
	inv.Skip()
	return nil, nil
}

type watcher struct {
	mu   sync.Mutex
	seen map[string]behavior.Status
}

func (w *watcher) UnitFinished(uc *behavior.Context, result behavior.Result) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen[uc.Path()] = result.Status
}

func decl(b any) registry.Declaration {
	return registry.Declaration{Behavior: b, Site: fmt.Sprintf("engine_test: %T", b)}
}

func newEngine(t *testing.T, overrides map[string]string, opts ...Option) *Engine {
	t.Helper()
	e, err := New(config.GetDefaultParameters().With(overrides), opts...)
	require.NoError(t, err)
	return e
}

func pass(ctx context.Context, uc *behavior.Context) error { return nil }

func failWith(err error) Body {
	return func(ctx context.Context, uc *behavior.Context) error { return err }
}

func mustFind(t *testing.T, report *Report, path string) UnitReport {
	t.Helper()
	u, found := report.Find(path)
	require.True(t, found, "no report for %q", path)
	return u
}

func TestRun_StepOrder(t *testing.T) {
	log := &eventLog{}
	hook := func(name string) Hook {
		return Hook{Name: name, Run: func(ctx context.Context, uc *behavior.Context) error {
			log.add("hook %s", name)
			return nil
		}}
	}

	suite := &Container{
		Name:       "Orders",
		Behaviors:  []registry.Declaration{decl(&outerTracer{tracer{name: "outer", log: log}})},
		BeforeAll:  []Hook{hook("ba")},
		BeforeEach: []Hook{hook("be")},
		AfterEach:  []Hook{hook("ae")},
		AfterAll:   []Hook{hook("aa")},
		Children: []Node{
			&Test{
				Name:      "creates order",
				Behaviors: []registry.Declaration{decl(&innerTracer{tracer{name: "inner", log: log}})},
				Body: func(ctx context.Context, uc *behavior.Context) error {
					log.add("body")
					return nil
				},
			},
		},
	}

	report, err := newEngine(t, nil).Run(context.Background(), suite)
	require.NoError(t, err)
	assert.Equal(t, behavior.StatusSuccess, mustFind(t, report, "Orders > creates order").Status)

	assert.Equal(t, []string{
		"outer.beforeAll",
		"outer.intercept before_all",
		"hook ba",
		"outer.beforeEach",
		"inner.beforeEach",
		"outer.intercept before_each",
		"inner.intercept before_each",
		"hook be",
		"outer.beforeTestExecution",
		"inner.beforeTestExecution",
		"outer.intercept test",
		"inner.intercept test",
		"body",
		"inner.afterTestExecution",
		"outer.afterTestExecution",
		"outer.intercept after_each",
		"inner.intercept after_each",
		"hook ae",
		"inner.afterEach",
		"outer.afterEach",
		"outer.intercept after_all",
		"hook aa",
		"outer.afterAll",
	}, log.all())
}

func TestRun_NestedEachHooks(t *testing.T) {
	log := &eventLog{}
	each := func(name string) []Hook {
		return []Hook{{Name: name, Run: func(ctx context.Context, uc *behavior.Context) error {
			log.add("%s", name)
			return nil
		}}}
	}

	suite := &Container{
		Name:       "outer",
		BeforeEach: each("outer.before"),
		AfterEach:  each("outer.after"),
		Children: []Node{&Container{
			Name:       "inner",
			BeforeEach: each("inner.before"),
			AfterEach:  each("inner.after"),
			Children:   []Node{&Test{Name: "t", Body: pass}},
		}},
	}

	_, err := newEngine(t, nil).Run(context.Background(), suite)
	require.NoError(t, err)
	assert.Equal(t, []string{"outer.before", "inner.before", "inner.after", "outer.after"}, log.all())
}

func TestRun_RecoveryChain(t *testing.T) {
	log := &eventLog{}
	boom := errors.New("boom")

	suite := &Container{
		Name:      "Orders",
		Behaviors: []registry.Declaration{decl(&swallower{log: log})},
		Children: []Node{&Test{
			Name:      "flaky",
			Behaviors: []registry.Declaration{decl(&rethrower{log: log}), decl(&converter{log: log})},
			Body:      failWith(boom),
		}},
	}

	report, err := newEngine(t, nil).Run(context.Background(), suite)
	require.NoError(t, err)

	u := mustFind(t, report, "Orders > flaky")
	assert.Equal(t, behavior.StatusRecovered, u.Status)
	assert.Equal(t, "recovered by swallow", u.Reason)
	assert.NoError(t, u.Err)
	assert.Equal(t, []string{"convert:boom", "rethrow:converted: boom", "swallow:converted: boom"}, log.all())
	assert.False(t, report.Failed())
}

func TestRun_ConvertedFailureIsReported(t *testing.T) {
	log := &eventLog{}
	boom := errors.New("boom")

	report, err := newEngine(t, nil).Run(context.Background(), &Test{
		Name:      "flaky",
		Behaviors: []registry.Declaration{decl(&converter{log: log})},
		Body:      failWith(boom),
	})
	require.NoError(t, err)

	u := mustFind(t, report, "flaky")
	assert.Equal(t, behavior.StatusFailed, u.Status)
	assert.EqualError(t, u.Err, "converted: boom")
	assert.ErrorIs(t, u.Err, boom)
}

func TestRun_LifecycleRecovery(t *testing.T) {
	log := &eventLog{}
	ran := false

	suite := &Container{
		Name:       "Orders",
		Behaviors:  []registry.Declaration{decl(&swallower{log: log})},
		BeforeEach: []Hook{{Name: "connect", Run: failWith(errors.New("no database"))}},
		Children: []Node{&Test{Name: "t", Body: func(ctx context.Context, uc *behavior.Context) error {
			ran = true
			return nil
		}}},
	}

	report, err := newEngine(t, nil).Run(context.Background(), suite)
	require.NoError(t, err)
	assert.True(t, ran, "a recovered before-each failure does not gate the body")
	assert.Equal(t, behavior.StatusRecovered, mustFind(t, report, "Orders > t").Status)
	assert.Equal(t, []string{"swallow before_each:no database"}, log.all())
}

func TestRun_FailedBeforeStepGatesBody(t *testing.T) {
	log := &eventLog{}
	setupErr := errors.New("no database")

	suite := &Container{
		Name:       "Orders",
		BeforeEach: []Hook{{Name: "connect", Run: failWith(setupErr)}},
		AfterEach: []Hook{{Name: "disconnect", Run: func(ctx context.Context, uc *behavior.Context) error {
			log.add("disconnect")
			return nil
		}}},
		Children: []Node{&Test{Name: "t", Body: func(ctx context.Context, uc *behavior.Context) error {
			log.add("body")
			return nil
		}}},
	}

	report, err := newEngine(t, nil).Run(context.Background(), suite)
	require.NoError(t, err)

	u := mustFind(t, report, "Orders > t")
	assert.Equal(t, behavior.StatusFailed, u.Status)
	assert.ErrorIs(t, u.Err, setupErr)
	assert.Equal(t, []string{"disconnect"}, log.all())
}

func TestRun_LaterFailuresAreSuppressed(t *testing.T) {
	bodyErr := errors.New("assertion failed")
	teardownErr := errors.New("cleanup failed")

	suite := &Container{
		Name:      "Orders",
		AfterEach: []Hook{{Name: "cleanup", Run: failWith(teardownErr)}},
		Children:  []Node{&Test{Name: "t", Body: failWith(bodyErr)}},
	}

	report, err := newEngine(t, nil).Run(context.Background(), suite)
	require.NoError(t, err)

	u := mustFind(t, report, "Orders > t")
	var suppressed *recovery.SuppressedError
	require.ErrorAs(t, u.Err, &suppressed)
	assert.Equal(t, bodyErr, suppressed.Primary)
	assert.ErrorIs(t, u.Err, teardownErr)
}

func TestRun_CooperativeTimeout(t *testing.T) {
	bus := reporting.NewEventBus()
	defer bus.Close()
	var mu sync.Mutex
	var fired []reporting.Event
	bus.Subscribe(reporting.FilterByType(reporting.EventTypeTimeoutFired), func(e reporting.Event) {
		mu.Lock()
		defer mu.Unlock()
		fired = append(fired, e)
	})

	suite := &Container{
		Name: "Orders",
		Children: []Node{&Test{Name: "slow", Body: func(ctx context.Context, uc *behavior.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
				return nil
			}
		}}},
	}

	e := newEngine(t, map[string]string{config.KeyTimeoutTest: "10ms"}, WithEventBus(bus))
	start := time.Now()
	report, err := e.Run(context.Background(), suite)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	u := mustFind(t, report, "Orders > slow")
	assert.Equal(t, behavior.StatusFailed, u.Status)
	assert.EqualError(t, u.Err, "Orders > slow timed out after 10ms")
	assert.ErrorIs(t, u.Err, context.DeadlineExceeded)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fired, 1)
	assert.Equal(t, "Orders > slow", fired[0].Unit)
}

func TestRun_DedicatedOverrideAbandonsStuckTest(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	stuck := &Test{
		Name:      "stuck",
		Behaviors: []registry.Declaration{decl(&budget{d: deadline.Deadline{Budget: 20 * time.Millisecond, Strategy: deadline.StrategyDedicated}})},
		Body: func(ctx context.Context, uc *behavior.Context) error {
			<-release
			return nil
		},
	}
	suite := &Container{Name: "Orders", Children: []Node{stuck, &Test{Name: "next", Body: pass}}}

	start := time.Now()
	report, err := newEngine(t, nil).Run(context.Background(), suite)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	u := mustFind(t, report, "Orders > stuck")
	assert.Equal(t, behavior.StatusFailed, u.Status)
	var te *deadline.TimeoutError
	require.ErrorAs(t, u.Err, &te)
	assert.Equal(t, deadline.StrategyDedicated, te.Strategy)
	assert.Equal(t, behavior.StatusSuccess, mustFind(t, report, "Orders > next").Status)
}

// waitOrCancel returns a body that honors cancellation and otherwise
// finishes after d.
func waitOrCancel(d time.Duration) Body {
	return func(ctx context.Context, uc *behavior.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
			return nil
		}
	}
}

func TestRun_InnermostDeadlineDeclarationWins(t *testing.T) {
	suite := &Container{
		Name:      "Orders",
		Behaviors: []registry.Declaration{decl(&budget{d: deadline.Deadline{Budget: 5 * time.Second}})},
		Deadline:  &DeadlineOverride{Deadline: deadline.Deadline{Budget: 5 * time.Second}},
		Children: []Node{
			&Test{
				Name:     "tight",
				Deadline: &DeadlineOverride{Deadline: deadline.Deadline{Budget: 20 * time.Millisecond}},
				Body:     waitOrCancel(300 * time.Millisecond),
			},
			&Test{Name: "relaxed", Body: waitOrCancel(30 * time.Millisecond)},
		},
	}

	start := time.Now()
	report, err := newEngine(t, nil).Run(context.Background(), suite)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	tight := mustFind(t, report, "Orders > tight")
	assert.Equal(t, behavior.StatusFailed, tight.Status)
	var te *deadline.TimeoutError
	require.ErrorAs(t, tight.Err, &te)
	assert.Equal(t, 20*time.Millisecond, te.Budget)
	assert.EqualError(t, tight.Err, "Orders > tight timed out after 20ms")

	assert.Equal(t, behavior.StatusSuccess, mustFind(t, report, "Orders > relaxed").Status)
}

func TestRun_HookAndKindScopedDeadlines(t *testing.T) {
	connect := &Container{
		Name: "Connect",
		BeforeEach: []Hook{{
			Name:     "dial",
			Run:      waitOrCancel(300 * time.Millisecond),
			Deadline: &deadline.Deadline{Budget: 20 * time.Millisecond},
		}},
		Children: []Node{&Test{Name: "t", Body: pass}},
	}
	cleanup := &Container{
		Name: "Cleanup",
		Deadline: &DeadlineOverride{
			Deadline: deadline.Deadline{Budget: 20 * time.Millisecond},
			Kinds:    []invocation.Kind{invocation.KindAfterEach},
		},
		AfterEach: []Hook{{Name: "drain", Run: waitOrCancel(300 * time.Millisecond)}},
		Children:  []Node{&Test{Name: "t", Body: waitOrCancel(40 * time.Millisecond)}},
	}

	report, err := newEngine(t, nil).Run(context.Background(), connect, cleanup)
	require.NoError(t, err)

	var te *deadline.TimeoutError
	u := mustFind(t, report, "Connect > t")
	assert.Equal(t, behavior.StatusFailed, u.Status)
	require.ErrorAs(t, u.Err, &te)
	assert.Equal(t, "Connect > t > dial", te.Unit)

	u = mustFind(t, report, "Cleanup > t")
	assert.Equal(t, behavior.StatusFailed, u.Status)
	require.ErrorAs(t, u.Err, &te)
	assert.Equal(t, "Cleanup > t > drain", te.Unit, "the body is not covered by an after_each override")
}

func TestRun_TimeoutIgnoresWhatTheActionReturnsLate(t *testing.T) {
	log := &eventLog{}
	suite := &Container{
		Name: "Orders",
		Children: []Node{
			&Test{Name: "skips late", Body: func(ctx context.Context, uc *behavior.Context) error {
				<-ctx.Done()
				return Skip("cancelled")
			}},
			&Test{
				Name:      "misconfigured late",
				Behaviors: []registry.Declaration{decl(&swallower{log: log})},
				Body: func(ctx context.Context, uc *behavior.Context) error {
					<-ctx.Done()
					return &ConfigurationError{Unit: uc.Path(), Err: errors.New("late")}
				},
			},
		},
	}

	report, err := newEngine(t, map[string]string{config.KeyTimeoutTest: "20ms"}).Run(context.Background(), suite)
	require.NoError(t, err)

	u := mustFind(t, report, "Orders > skips late")
	assert.Equal(t, behavior.StatusFailed, u.Status)
	var te *deadline.TimeoutError
	require.ErrorAs(t, u.Err, &te)
	var se *SkipError
	assert.ErrorAs(t, te.Cause, &se, "the late result is kept as the cause")

	u = mustFind(t, report, "Orders > misconfigured late")
	assert.Equal(t, behavior.StatusRecovered, u.Status, "the timeout goes through recovery")
	assert.Equal(t, []string{"swallow:Orders > misconfigured late timed out after 20ms"}, log.all())
}

func TestRun_ConfigurationErrorsBypassRecovery(t *testing.T) {
	log := &eventLog{}

	t.Run("malformed budget", func(t *testing.T) {
		report, err := newEngine(t, map[string]string{config.KeyTimeoutTest: "soon"}).Run(context.Background(), &Test{
			Name:      "t",
			Behaviors: []registry.Declaration{decl(&swallower{log: log})},
			Body:      pass,
		})
		require.NoError(t, err)

		u := mustFind(t, report, "t")
		assert.Equal(t, behavior.StatusFailed, u.Status)
		var ce *ConfigurationError
		require.ErrorAs(t, u.Err, &ce)
		assert.Contains(t, u.Err.Error(), config.KeyTimeoutTest)
	})

	t.Run("behavior without capability", func(t *testing.T) {
		report, err := newEngine(t, nil).Run(context.Background(), &Test{
			Name:      "t",
			Behaviors: []registry.Declaration{{Behavior: struct{}{}, Site: "orders_test.yaml:3"}},
			Body:      pass,
		})
		require.NoError(t, err)

		u := mustFind(t, report, "t")
		assert.Equal(t, behavior.StatusFailed, u.Status)
		assert.ErrorIs(t, u.Err, registry.ErrNoCapability)
		assert.Contains(t, u.Err.Error(), "orders_test.yaml:3")
	})

	t.Run("chain discipline", func(t *testing.T) {
		report, err := newEngine(t, nil).Run(context.Background(), &Test{
			Name:      "t",
			Behaviors: []registry.Declaration{decl(&swallower{log: log}), decl(neverProceeds{})},
			Body:      pass,
		})
		require.NoError(t, err)

		u := mustFind(t, report, "t")
		assert.Equal(t, behavior.StatusFailed, u.Status)
		var chain *invocation.ChainError
		require.ErrorAs(t, u.Err, &chain)
	})

	assert.Empty(t, log.all(), "recovery handlers never see configuration errors")
}

func TestRun_InterceptorSkipsBody(t *testing.T) {
	ran := false
	report, err := newEngine(t, nil).Run(context.Background(), &Test{
		Name:      "t",
		Behaviors: []registry.Declaration{decl(skipper{})},
		Body: func(ctx context.Context, uc *behavior.Context) error {
			ran = true
			return nil
		},
	})
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, behavior.StatusSuccess, mustFind(t, report, "t").Status)
}

func TestRun_UnrecoverableFailureAbortsRun(t *testing.T) {
	log := &eventLog{}
	oom := recovery.Fatal(errors.New("out of memory"))
	nextRan := false

	suite := &Container{
		Name:      "Orders",
		Behaviors: []registry.Declaration{decl(&swallower{log: log})},
		Children: []Node{
			&Test{Name: "explodes", Body: failWith(oom)},
			&Test{Name: "next", Body: func(ctx context.Context, uc *behavior.Context) error {
				nextRan = true
				return nil
			}},
		},
	}

	report, err := newEngine(t, nil).Run(context.Background(), suite, &Test{Name: "other", Body: pass})
	require.ErrorIs(t, err, ErrRunAborted)
	require.NotNil(t, report)
	assert.ErrorIs(t, report.Aborted, oom)
	assert.True(t, report.Failed())

	assert.Equal(t, behavior.StatusAborted, mustFind(t, report, "Orders > explodes").Status)
	assert.Equal(t, behavior.StatusAborted, mustFind(t, report, "Orders").Status)
	assert.False(t, nextRan)
	_, found := report.Find("other")
	assert.False(t, found, "units after an abort never start")
	assert.Empty(t, log.all(), "unrecoverable failures bypass handlers")
}

func TestRun_FailFast(t *testing.T) {
	suite := &Container{
		Name: "Orders",
		Children: []Node{
			&Test{Name: "fails", Body: failWith(errors.New("boom"))},
			&Test{Name: "later", Body: pass},
		},
	}

	report, err := newEngine(t, nil, WithFailFast(true)).Run(context.Background(), suite)
	require.NoError(t, err)

	assert.Equal(t, behavior.StatusFailed, mustFind(t, report, "Orders > fails").Status)
	later := mustFind(t, report, "Orders > later")
	assert.Equal(t, behavior.StatusSkipped, later.Status)
	assert.Contains(t, later.Reason, "first failure")
}

func TestRun_ParallelChildren(t *testing.T) {
	const n = 4
	var arrived sync.WaitGroup
	arrived.Add(n)

	var children []Node
	for i := 0; i < n; i++ {
		children = append(children, &Test{
			Name: fmt.Sprintf("t%d", i),
			Body: func(ctx context.Context, uc *behavior.Context) error {
				arrived.Done()
				done := make(chan struct{})
				go func() {
					arrived.Wait()
					close(done)
				}()
				select {
				case <-done:
					return nil
				case <-time.After(2 * time.Second):
					return errors.New("siblings never ran concurrently")
				}
			},
		})
	}

	report, err := newEngine(t, nil, WithParallelism(n)).Run(context.Background(), &Container{Name: "Orders", Children: children})
	require.NoError(t, err)
	assert.Equal(t, n, report.Counts()[behavior.StatusSuccess]-1, "every test plus the container succeeds")
	assert.False(t, report.Failed())
}

func TestRun_FactoryAndDynamicTests(t *testing.T) {
	factory := &Factory{
		Name: "generated",
		Body: func(ctx context.Context, uc *behavior.Context) ([]DynamicTest, error) {
			return []DynamicTest{
				{Name: "d1", Body: pass},
				{Name: "d2", Body: failWith(errors.New("bad input"))},
			}, nil
		},
	}

	report, err := newEngine(t, nil).Run(context.Background(), &Container{Name: "Orders", Children: []Node{factory}})
	require.NoError(t, err)

	assert.Equal(t, behavior.StatusSuccess, mustFind(t, report, "Orders > generated").Status)
	assert.Equal(t, behavior.StatusSuccess, mustFind(t, report, "Orders > generated > d1").Status)
	d2 := mustFind(t, report, "Orders > generated > d2")
	assert.Equal(t, behavior.StatusFailed, d2.Status)
	assert.Equal(t, behavior.UnitDynamic, d2.Kind)
}

func TestRun_TemplateInvocations(t *testing.T) {
	var names []string
	tmpl := &Template{
		Name: "pays",
		Body: func(ctx context.Context, uc *behavior.Context) error {
			names = append(names, uc.DisplayName)
			return nil
		},
		Invocations: []InvocationContext{
			{Name: "[1] card"},
			{Name: "[2] invoice", Behaviors: []registry.Declaration{decl(&disabler{reason: "invoices disabled"})}},
			{Name: "[3] cash"},
		},
	}

	report, err := newEngine(t, nil).Run(context.Background(), tmpl, &Template{Name: "empty", Body: pass})
	require.NoError(t, err)

	assert.Equal(t, []string{"[1] card", "[3] cash"}, names)
	skipped := mustFind(t, report, "pays > [2] invoice")
	assert.Equal(t, behavior.StatusSkipped, skipped.Status)
	assert.Equal(t, "invoices disabled", skipped.Reason)

	empty := mustFind(t, report, "empty")
	assert.Equal(t, behavior.StatusFailed, empty.Status)
	assert.ErrorIs(t, empty.Err, ErrNoInvocations)
}

func TestRun_SkipsAndConditions(t *testing.T) {
	childRan := false
	disabled := &Container{
		Name:      "Legacy",
		Behaviors: []registry.Declaration{decl(&disabler{reason: "legacy API removed"})},
		Children: []Node{&Test{Name: "t", Body: func(ctx context.Context, uc *behavior.Context) error {
			childRan = true
			return nil
		}}},
	}
	skipping := &Test{Name: "later", Body: failWith(Skip("not today"))}

	report, err := newEngine(t, nil).Run(context.Background(), disabled, skipping)
	require.NoError(t, err)

	assert.False(t, childRan)
	legacy := mustFind(t, report, "Legacy")
	assert.Equal(t, behavior.StatusSkipped, legacy.Status)
	assert.Equal(t, "legacy API removed", legacy.Reason)

	later := mustFind(t, report, "later")
	assert.Equal(t, behavior.StatusSkipped, later.Status)
	assert.Equal(t, "not today", later.Reason)
	assert.False(t, report.Failed())
}

func TestRun_SetupFixtureAndWatchers(t *testing.T) {
	w := &watcher{seen: map[string]behavior.Status{}}
	var fixture any

	suite := &Container{
		Name:      "Orders",
		Behaviors: []registry.Declaration{decl(w)},
		Setup: func(ctx context.Context, uc *behavior.Context) (any, error) {
			return "orders-db", nil
		},
		Children: []Node{
			&Test{Name: "reads fixture", Body: func(ctx context.Context, uc *behavior.Context) error {
				fixture = uc.Fixture
				return nil
			}},
			&Test{Name: "fails", Body: failWith(errors.New("boom"))},
		},
	}

	_, err := newEngine(t, nil).Run(context.Background(), suite)
	require.NoError(t, err)

	assert.Equal(t, "orders-db", fixture)
	assert.Equal(t, map[string]behavior.Status{
		"Orders > reads fixture": behavior.StatusSuccess,
		"Orders > fails":         behavior.StatusFailed,
		"Orders":                 behavior.StatusSuccess,
	}, w.seen)
}

func TestRun_PublishesEvents(t *testing.T) {
	bus := reporting.NewEventBus()
	defer bus.Close()
	var mu sync.Mutex
	var types []reporting.EventType
	bus.Subscribe(nil, func(e reporting.Event) {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, e.Type)
	})

	suite := &Container{
		Name:      "Orders",
		Behaviors: []registry.Declaration{decl(&swallower{})},
		Children:  []Node{&Test{Name: "t", Body: failWith(errors.New("boom"))}},
	}
	_, err := newEngine(t, nil, WithEventBus(bus)).Run(context.Background(), suite)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []reporting.EventType{
		reporting.EventTypeRunStarted,
		reporting.EventTypeUnitStarted,
		reporting.EventTypeUnitStarted,
		reporting.EventTypeFailureRecovered,
		reporting.EventTypeUnitFinished,
		reporting.EventTypeUnitFinished,
		reporting.EventTypeRunFinished,
	}, types)
}

type globalInterceptor struct{ log *eventLog }

func (g *globalInterceptor) InterceptInvocation(ctx context.Context, uc *behavior.Context, call invocation.Call, inv *invocation.Invocation[any]) (any, error) {
	g.log.add("global %s", call.Name)
	return inv.Proceed(ctx)
}

func TestRun_Autodetection(t *testing.T) {
	log := &eventLog{}
	behavior.RegisterGlobal("engine-test-global", func() any { return &globalInterceptor{log: log} })
	t.Cleanup(func() { behavior.UnregisterGlobal("engine-test-global") })

	_, err := newEngine(t, nil).Run(context.Background(), &Test{Name: "t", Body: pass})
	require.NoError(t, err)
	assert.Empty(t, log.all(), "catalog behaviors need auto-detection")

	_, err = newEngine(t, map[string]string{config.KeyAutodetection: "true"}).Run(context.Background(), &Test{Name: "t", Body: pass})
	require.NoError(t, err)
	assert.Equal(t, []string{"global t"}, log.all())
}

func TestNew_RejectsInvalidParameters(t *testing.T) {
	for name, overrides := range map[string]map[string]string{
		"parallelism":   {config.KeyParallelism: "0"},
		"parallel flag": {config.KeyParallelEnabled: "sometimes"},
		"timeout mode":  {config.KeyTimeoutMode: "maybe"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New(config.GetDefaultParameters().With(overrides))
			assert.Error(t, err)
		})
	}
}

func TestReport(t *testing.T) {
	report := &Report{Units: []UnitReport{
		{Path: "a", Status: behavior.StatusSuccess},
		{Path: "b", Status: behavior.StatusSkipped},
		{Path: "c", Status: behavior.StatusRecovered},
	}}
	assert.False(t, report.Failed())
	assert.Equal(t, 1, report.Counts()[behavior.StatusSkipped])

	report.Units = append(report.Units, UnitReport{Path: "d", Status: behavior.StatusFailed})
	assert.True(t, report.Failed())
	_, found := report.Find("missing")
	assert.False(t, found)
	assert.Equal(t, behavior.StatusFailed, mustFind(t, report, "d").Status)
}
