// Package deadline enforces duration budgets on invocations.
//
// A Deadline is resolved per invocation through a precedence cascade (an
// explicit override, then the per-phase default, then the per-category default,
// then the global default) and enforced by an interceptor placed outermost in
// the invocation chain. Two strategies exist: cooperative runs the action on
// the calling goroutine and cancels its context at expiry; dedicated runs it on
// a separate goroutine and abandons that goroutine when the budget elapses.
package deadline

import (
	"fmt"
	"time"
)

// Strategy selects how a budget is enforced.
type Strategy string

const (
	// StrategyDefault defers to the configured default strategy.
	StrategyDefault Strategy = ""
	// StrategyCooperative runs the action in place and cancels its context at expiry.
	StrategyCooperative Strategy = "cooperative"
	// StrategyDedicated runs the action on its own goroutine, abandoned on timeout.
	StrategyDedicated Strategy = "dedicated"
)

// ParseStrategy maps a thread mode parameter value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "same_thread", string(StrategyCooperative):
		return StrategyCooperative, nil
	case "separate_thread", string(StrategyDedicated):
		return StrategyDedicated, nil
	}
	return StrategyDefault, fmt.Errorf("unknown timeout thread mode %q (want same_thread or separate_thread)", s)
}

// Deadline is a budget plus the strategy enforcing it.
type Deadline struct {
	Budget   time.Duration
	Strategy Strategy
}

func (d Deadline) String() string {
	if d.Strategy == StrategyDefault {
		return d.Budget.String()
	}
	return fmt.Sprintf("%s (%s)", d.Budget, d.Strategy)
}

// Mode is the global enforcement toggle.
type Mode string

const (
	ModeEnabled         Mode = "enabled"
	ModeDisabled        Mode = "disabled"
	ModeDisabledOnDebug Mode = "disabled_on_debug"
)

// ParseMode validates a timeout mode parameter value.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeEnabled, ModeDisabled, ModeDisabledOnDebug:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown timeout mode %q (want enabled, disabled or disabled_on_debug)", s)
}
