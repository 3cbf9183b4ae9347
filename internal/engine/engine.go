// Package engine runs a tree of containers and tests through the governance
// pipeline: behaviors are registered per unit in a registry level derived from
// the parent's, every invocation goes through an interceptor chain with the
// deadline enforcer outermost, and failures are walked through the recovery
// handlers of their phase.
//
// Opening steps (before-all, before-each, interceptor entry) use the forward
// registry order; closing steps (after-each, after-all, recovery, outcome
// watchers) use the reversed order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"governor/internal/behavior"
	"governor/internal/config"
	"governor/internal/deadline"
	"governor/internal/registry"
	"governor/internal/reporting"
	"governor/pkg/logging"

	"golang.org/x/sync/errgroup"
)

// Engine executes unit trees. It is safe to call Run concurrently.
type Engine struct {
	params      config.Parameters
	resolver    *deadline.Resolver
	bus         reporting.EventBus
	failFast    bool
	parallel    bool
	parallelism int
	autodetect  bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithEventBus publishes run and unit events to bus.
func WithEventBus(bus reporting.EventBus) Option {
	return func(e *Engine) {
		e.bus = bus
	}
}

// WithFailFast stops starting new tests after the first failed one.
func WithFailFast(failFast bool) Option {
	return func(e *Engine) {
		e.failFast = failFast
	}
}

// WithParallelism overrides the configured parallelism. Values above one
// enable parallel execution of container children.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
			e.parallel = n > 1
		}
	}
}

// New creates an engine from parameters. Invalid timeout mode, thread mode or
// parallelism values are reported here.
func New(params config.Parameters, opts ...Option) (*Engine, error) {
	resolver, err := deadline.NewResolver(params)
	if err != nil {
		return nil, err
	}
	parallel, err := params.GetBool(config.KeyParallelEnabled, false)
	if err != nil {
		return nil, err
	}
	parallelism, err := params.GetInt(config.KeyParallelism, 1)
	if err != nil {
		return nil, err
	}
	if parallelism < 1 {
		return nil, fmt.Errorf("parameter %s must be positive, got %d", config.KeyParallelism, parallelism)
	}
	autodetect, err := params.GetBool(config.KeyAutodetection, false)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		params:      params,
		resolver:    resolver,
		parallel:    parallel,
		parallelism: parallelism,
		autodetect:  autodetect,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// UnitReport is the result of one unit.
type UnitReport struct {
	ID       string
	Path     string
	Kind     behavior.UnitKind
	Status   behavior.Status
	Reason   string
	Err      error
	Duration time.Duration
}

// Report is the result of a run.
type Report struct {
	Units    []UnitReport
	Duration time.Duration
	// Aborted holds the unrecoverable failure that ended the run, if any.
	Aborted error
}

// Counts returns the number of units per status.
func (r *Report) Counts() map[behavior.Status]int {
	counts := make(map[behavior.Status]int)
	for _, u := range r.Units {
		counts[u.Status]++
	}
	return counts
}

// Failed reports whether any unit failed or the run aborted.
func (r *Report) Failed() bool {
	if r.Aborted != nil {
		return true
	}
	for _, u := range r.Units {
		if !u.Status.Passed() {
			return true
		}
	}
	return false
}

// Find returns the report of the unit with the given path.
func (r *Report) Find(path string) (UnitReport, bool) {
	for _, u := range r.Units {
		if u.Path == path {
			return u, true
		}
	}
	return UnitReport{}, false
}

// Run executes nodes as the top level of a run. The returned error wraps
// ErrRunAborted when an unrecoverable failure ended the run; the report is
// returned in that case too.
func (e *Engine) Run(ctx context.Context, nodes ...Node) (*Report, error) {
	start := time.Now()
	root := registry.NewRoot("run", registry.WithCapabilityCheck(behavior.HasCapability))

	if e.autodetect {
		for _, g := range behavior.Globals() {
			site := "global catalog: " + g.Name
			if _, err := root.Register(registry.Declaration{Behavior: g.Behavior, Site: site}); err != nil {
				return nil, err
			}
		}
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	r := &run{
		e:      e,
		ctx:    runCtx,
		cancel: cancel,
		uc:     behavior.NewContext(nil, behavior.UnitRun, "run", e.params, root),
	}

	logging.Info("Engine", "Starting run with %d top-level unit(s) (parallel=%t, parallelism=%d, timeouts=%s)",
		len(nodes), e.parallel, e.parallelism, e.resolver.Mode())
	r.publish(reporting.NewEvent(reporting.EventTypeRunStarted, reporting.SeverityInfo).
		WithMessage("%d top-level unit(s)", len(nodes)))

	_ = r.runChildren(runCtx, r.uc, nil, nodes)

	if err := errors.Join(r.uc.Store.Close(), root.Close()); err != nil {
		logging.Warn("Engine", "Closing run scope failed: %v", err)
	}

	report := &Report{Units: r.reports, Duration: time.Since(start)}
	r.publish(reporting.NewEvent(reporting.EventTypeRunFinished, reporting.SeverityInfo).
		WithMessage("%d unit(s) in %s", len(report.Units), report.Duration))

	if fatal := r.fatalErr(); fatal != nil {
		report.Aborted = fatal
		return report, fmt.Errorf("%w: %w", ErrRunAborted, fatal)
	}
	logging.Info("Engine", "Run finished in %s", report.Duration)
	return report, nil
}

// run is the state of one Engine.Run call.
type run struct {
	e      *Engine
	ctx    context.Context
	cancel context.CancelCauseFunc
	uc     *behavior.Context

	// stopped is set by fail-fast after the first failed test.
	stopped atomic.Bool
	// overrides maps the context of each running unit to the deadline
	// override its node declares.
	overrides sync.Map

	mu      sync.Mutex
	reports []UnitReport
	fatal   error
}

func (r *run) publish(event reporting.Event) {
	if r.e.bus != nil {
		r.e.bus.Publish(event)
	}
}

// abort records the first unrecoverable failure and cancels the run.
func (r *run) abort(fatal error) {
	r.mu.Lock()
	first := r.fatal == nil
	if first {
		r.fatal = fatal
	}
	r.mu.Unlock()
	if !first {
		return
	}

	runsAborted.Inc()
	logging.Error("Engine", fatal, "Unrecoverable failure, aborting run")
	r.cancel(fmt.Errorf("%w: %w", ErrRunAborted, fatal))
	r.publish(reporting.NewEvent(reporting.EventTypeRunAborted, reporting.SeverityFatal).WithError(fatal))
}

func (r *run) fatalErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatal
}

func (r *run) aborted() bool {
	return r.fatalErr() != nil
}

// interruption returns why new units must not start, or nil.
func (r *run) interruption(ctx context.Context) error {
	if r.stopped.Load() {
		return errFailFast
	}
	if r.ctx.Err() != nil {
		return context.Cause(r.ctx)
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return nil
}

func (r *run) record(rep UnitReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
}

// runChildren runs nodes sequentially, or with bounded parallelism when
// enabled. The error is non-nil only when the run aborted.
func (r *run) runChildren(ctx context.Context, parent *behavior.Context, frames []*Container, nodes []Node) error {
	if !r.e.parallel || len(nodes) < 2 {
		for _, n := range nodes {
			if err := r.runNode(ctx, parent, frames, n); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.e.parallelism)
	for _, n := range nodes {
		g.Go(func() error {
			return r.runNode(gctx, parent, frames, n)
		})
	}
	return g.Wait()
}

func (r *run) runNode(ctx context.Context, parent *behavior.Context, frames []*Container, node Node) error {
	switch n := node.(type) {
	case *Container:
		r.runContainer(ctx, parent, frames, n)
	case *Test:
		r.runTest(ctx, parent, frames, n)
	case *Factory:
		r.runFactory(ctx, parent, frames, n)
	case *Template:
		r.runTemplate(ctx, parent, frames, n)
	default:
		logging.Warn("Engine", "Ignoring unsupported node %T (%s)", node, node.NodeName())
	}

	if fatal := r.fatalErr(); fatal != nil {
		return fmt.Errorf("%w: %w", ErrRunAborted, fatal)
	}
	return nil
}
