package deadline

import (
	"errors"
	"fmt"

	"governor/internal/config"
	"governor/internal/invocation"
	"governor/pkg/logging"
)

var phaseKeys = map[invocation.Kind]string{
	invocation.KindTest:         config.KeyTimeoutTest,
	invocation.KindTestTemplate: config.KeyTimeoutTestTemplate,
	invocation.KindTestFactory:  config.KeyTimeoutTestFactory,
	invocation.KindBeforeAll:    config.KeyTimeoutBeforeAll,
	invocation.KindBeforeEach:   config.KeyTimeoutBeforeEach,
	invocation.KindAfterEach:    config.KeyTimeoutAfterEach,
	invocation.KindAfterAll:     config.KeyTimeoutAfterAll,
}

// CascadeKeys returns the configuration keys consulted for kind, most specific
// first.
func CascadeKeys(kind invocation.Kind) []string {
	var keys []string
	if k, ok := phaseKeys[kind]; ok {
		keys = append(keys, k)
	}
	switch {
	case kind.IsLifecycle():
		keys = append(keys, config.KeyTimeoutLifecycleDefault)
	case kind.IsTestable() || kind == invocation.KindDynamicTest:
		keys = append(keys, config.KeyTimeoutTestableDefault)
	}
	return append(keys, config.KeyTimeoutDefault)
}

// Resolver turns configuration and overrides into the Deadline for a call.
type Resolver struct {
	params   config.Parameters
	mode     Mode
	strategy Strategy
}

// NewResolver validates the mode and thread mode parameters. Budget literals
// are validated lazily, per call, so that a bad per-phase key fails only the
// units that would use it.
func NewResolver(params config.Parameters) (*Resolver, error) {
	r := &Resolver{params: params, mode: ModeEnabled, strategy: StrategyCooperative}

	if v, ok := params.Get(config.KeyTimeoutMode); ok {
		mode, err := ParseMode(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", config.KeyTimeoutMode, err)
		}
		r.mode = mode
	}
	if v, ok := params.Get(config.KeyTimeoutThreadMode); ok {
		strategy, err := ParseStrategy(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", config.KeyTimeoutThreadMode, err)
		}
		r.strategy = strategy
	}
	return r, nil
}

// Mode returns the configured enforcement mode.
func (r *Resolver) Mode() Mode {
	return r.mode
}

// DefaultStrategy returns the strategy used when a deadline requests none.
func (r *Resolver) DefaultStrategy() Strategy {
	return r.strategy
}

// Enabled reports whether any deadline may be enforced right now.
func (r *Resolver) Enabled() bool {
	switch r.mode {
	case ModeDisabled:
		return false
	case ModeDisabledOnDebug:
		return !DebuggerAttached()
	}
	return true
}

// Resolve returns the deadline for call. override, when non-nil, wins over
// every configured default. The boolean is false when no deadline applies.
func (r *Resolver) Resolve(call invocation.Call, override *Deadline) (Deadline, bool, error) {
	if !r.Enabled() {
		return Deadline{}, false, nil
	}

	if override != nil {
		if override.Budget <= 0 {
			return Deadline{}, false, &BudgetError{Literal: override.Budget.String(), Reason: "budget must be positive"}
		}
		d := *override
		if d.Strategy == StrategyDefault {
			d.Strategy = r.strategy
		}
		logging.Debug("Deadline", "Resolved %s for %s from override", d, call)
		return d, true, nil
	}

	for _, key := range CascadeKeys(call.Kind) {
		literal, ok := r.params.Get(key)
		if !ok {
			continue
		}
		budget, err := ParseBudget(literal)
		if err != nil {
			var be *BudgetError
			if errors.As(err, &be) {
				be.Key = key
			}
			return Deadline{}, false, err
		}
		d := Deadline{Budget: budget, Strategy: r.strategy}
		logging.Debug("Deadline", "Resolved %s for %s from %s", d, call, key)
		return d, true, nil
	}
	return Deadline{}, false, nil
}
