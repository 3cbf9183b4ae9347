package suite

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"governor/internal/behavior"
	"governor/internal/deadline"
	"governor/internal/engine"
	"governor/internal/invocation"
	"governor/internal/store"
	"governor/pkg/logging"
)

var (
	// ErrUnknownKind is the cause of a declaration naming no catalog kind.
	ErrUnknownKind = errors.New("unknown behavior kind")
	// ErrDuplicateTimeout is the cause of a second timeout on the same node.
	ErrDuplicateTimeout = errors.New("timeout is declared more than once on this node")
)

// builder creates a behavior from its options.
type builder func(with map[string]string) (any, error)

var kinds = map[string]builder{
	"swallow":           newSwallow,
	"recover":           newSwallow,
	"rethrow":           func(map[string]string) (any, error) { return &rethrowBehavior{}, nil },
	"convert":           newConvert,
	"lifecycle-swallow": newLifecycleSwallow,
	"lifecycle-recover": newLifecycleSwallow,
	"timeout":           newTimeout,
	"trace":             func(map[string]string) (any, error) { return &traceBehavior{}, nil },
	"disable":           newDisable,
	"skip-invocation":   newSkipInvocation,
	"resource":          newResource,
}

// Kinds lists the catalog kind names.
func Kinds() []string {
	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	// Registered at the root of every run when auto-detection is enabled.
	behavior.RegisterGlobal("suite.trace", func() any { return &traceBehavior{} })
}

// swallowBehavior swallows execution failures whose message contains match,
// or every failure when match is empty.
type swallowBehavior struct {
	match string
}

func newSwallow(with map[string]string) (any, error) {
	return &swallowBehavior{match: with["match"]}, nil
}

func (b *swallowBehavior) String() string { return "swallow" }

func (b *swallowBehavior) HandleExecutionFailure(ctx context.Context, uc *behavior.Context, err error) error {
	if b.match != "" && !strings.Contains(err.Error(), b.match) {
		return err
	}
	logging.Debug("Suite", "Swallowing failure of %s: %v", uc.Path(), err)
	return nil
}

type rethrowBehavior struct{}

func (b *rethrowBehavior) String() string { return "rethrow" }

func (b *rethrowBehavior) HandleExecutionFailure(ctx context.Context, uc *behavior.Context, err error) error {
	logging.Debug("Suite", "Rethrowing failure of %s: %v", uc.Path(), err)
	return err
}

// convertBehavior replaces a failure with a new one that wraps it.
type convertBehavior struct {
	message string
}

func newConvert(with map[string]string) (any, error) {
	msg := with["message"]
	if msg == "" {
		msg = "converted"
	}
	return &convertBehavior{message: msg}, nil
}

func (b *convertBehavior) String() string { return "convert" }

func (b *convertBehavior) HandleExecutionFailure(ctx context.Context, uc *behavior.Context, err error) error {
	return fmt.Errorf("%s: %w", b.message, err)
}

// lifecycleSwallowBehavior swallows hook failures, optionally only for one
// phase such as before_each.
type lifecycleSwallowBehavior struct {
	phase invocation.Kind
	match string
}

func newLifecycleSwallow(with map[string]string) (any, error) {
	b := &lifecycleSwallowBehavior{phase: invocation.Kind(with["phase"]), match: with["match"]}
	if b.phase != "" && !b.phase.IsLifecycle() {
		return nil, fmt.Errorf("phase %q is not a hook phase", b.phase)
	}
	return b, nil
}

func (b *lifecycleSwallowBehavior) String() string { return "lifecycle-swallow" }

func (b *lifecycleSwallowBehavior) HandleLifecycleFailure(ctx context.Context, uc *behavior.Context, call invocation.Call, err error) error {
	if b.phase != "" && call.Kind != b.phase {
		return err
	}
	if b.match != "" && !strings.Contains(err.Error(), b.match) {
		return err
	}
	logging.Debug("Suite", "Swallowing %s failure of %s: %v", call.Kind, call.Name, err)
	return nil
}

// newTimeout builds the deadline declaration of the node carrying it. It is
// not a registered behavior: every node keeps its own declaration and the
// innermost one wins.
func newTimeout(with map[string]string) (any, error) {
	literal, ok := with["budget"]
	if !ok {
		return nil, errors.New("option budget is required")
	}
	budget, err := deadline.ParseBudget(literal)
	if err != nil {
		return nil, err
	}
	strategy := deadline.StrategyDefault
	if s := with["strategy"]; s != "" {
		if strategy, err = deadline.ParseStrategy(s); err != nil {
			return nil, err
		}
	}

	o := &engine.DeadlineOverride{Deadline: deadline.Deadline{Budget: budget, Strategy: strategy}}
	if list := with["kinds"]; list != "" {
		for _, k := range strings.Split(list, ",") {
			kind := invocation.Kind(strings.TrimSpace(k))
			if !slices.Contains(invocation.AllKinds, kind) {
				return nil, fmt.Errorf("unknown invocation kind %q", kind)
			}
			o.Kinds = append(o.Kinds, kind)
		}
	}
	return o, nil
}

// traceBehavior logs every invocation beneath its level with its duration.
type traceBehavior struct{}

func (b *traceBehavior) String() string { return "trace" }

func (b *traceBehavior) InterceptInvocation(ctx context.Context, uc *behavior.Context, call invocation.Call, inv *invocation.Invocation[any]) (any, error) {
	start := time.Now()
	logging.Debug("Trace", "-> %s", call)
	v, err := inv.Proceed(ctx)
	if err != nil {
		logging.Debug("Trace", "<- %s after %s: %v", call, time.Since(start), err)
	} else {
		logging.Debug("Trace", "<- %s after %s", call, time.Since(start))
	}
	return v, err
}

// disableBehavior skips units beneath its level. With param set, only when
// that configuration parameter is true.
type disableBehavior struct {
	reason string
	param  string
}

func newDisable(with map[string]string) (any, error) {
	reason := with["reason"]
	if reason == "" {
		reason = "disabled by suite"
	}
	return &disableBehavior{reason: reason, param: with["param"]}, nil
}

func (b *disableBehavior) String() string { return "disable" }

func (b *disableBehavior) EvaluateCondition(ctx context.Context, uc *behavior.Context) behavior.ConditionResult {
	if b.param == "" {
		return behavior.Disabled(b.reason)
	}
	on, err := uc.Params.GetBool(b.param, false)
	if err != nil {
		logging.Warn("Suite", "Ignoring condition on %s: %v", b.param, err)
		return behavior.Enabled("invalid parameter " + b.param)
	}
	if on {
		return behavior.Disabled(b.reason)
	}
	return behavior.Enabled(b.param + " is not set")
}

// skipInvocationBehavior short-circuits invocations of one kind without
// running them.
type skipInvocationBehavior struct {
	kind invocation.Kind
}

func newSkipInvocation(with map[string]string) (any, error) {
	kind := invocation.Kind(with["kind"])
	if kind == "" {
		kind = invocation.KindTest
	}
	return &skipInvocationBehavior{kind: kind}, nil
}

func (b *skipInvocationBehavior) String() string { return "skip-invocation" }

func (b *skipInvocationBehavior) InterceptInvocation(ctx context.Context, uc *behavior.Context, call invocation.Call, inv *invocation.Invocation[any]) (any, error) {
	if call.Kind != b.kind {
		return inv.Proceed(ctx)
	}
	inv.Skip()
	return nil, nil
}

const resourceNamespace store.Namespace = "suite.resource"

// resourceBehavior opens a named resource in each test's store before the
// test and lets the store close it when the test ends.
type resourceBehavior struct {
	name string
	// opened and closed count resources across every test beneath the level.
	opened, closed atomic.Int64
}

func newResource(with map[string]string) (any, error) {
	name := with["name"]
	if name == "" {
		return nil, errors.New("option name is required")
	}
	return &resourceBehavior{name: name}, nil
}

func (b *resourceBehavior) String() string { return "resource(" + b.name + ")" }

func (b *resourceBehavior) BeforeEach(ctx context.Context, uc *behavior.Context) error {
	_, err := uc.Store.GetOrCompute(resourceNamespace, b.name, func() (any, error) {
		b.opened.Add(1)
		logging.Debug("Suite", "Opened resource %s for %s", b.name, uc.Path())
		return &resource{owner: b, unit: uc.Path()}, nil
	})
	return err
}

// Close runs when the declaring level ends and reports leaked resources.
func (b *resourceBehavior) Close() error {
	if leaked := b.opened.Load() - b.closed.Load(); leaked != 0 {
		return fmt.Errorf("resource %s: %d instance(s) still open", b.name, leaked)
	}
	return nil
}

type resource struct {
	owner *resourceBehavior
	unit  string
}

func (r *resource) Close() error {
	r.owner.closed.Add(1)
	logging.Debug("Suite", "Closed resource %s of %s", r.owner.name, r.unit)
	return nil
}
