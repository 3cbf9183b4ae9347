package deadline

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var budgetPattern = regexp.MustCompile(`^([+-]?\d+)\s*([a-zA-Zμµ]*)$`)

var budgetUnits = map[string]time.Duration{
	"":   time.Second,
	"ns": time.Nanosecond,
	"μs": time.Microsecond,
	"µs": time.Microsecond,
	"us": time.Microsecond,
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"d":  24 * time.Hour,
}

// BudgetError reports an unusable budget literal.
type BudgetError struct {
	Key     string
	Literal string
	Reason  string
}

func (e *BudgetError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("invalid timeout budget %q for %s: %s", e.Literal, e.Key, e.Reason)
	}
	return fmt.Sprintf("invalid timeout budget %q: %s", e.Literal, e.Reason)
}

// ParseBudget parses an integer with an optional unit suffix (ns, μs, us, ms,
// s, m, h, d). A missing unit means seconds. Zero and negative budgets are
// rejected.
func ParseBudget(literal string) (time.Duration, error) {
	s := strings.TrimSpace(literal)
	m := budgetPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, &BudgetError{Literal: literal, Reason: "expected an integer with an optional unit"}
	}

	unit, ok := budgetUnits[strings.ToLower(m[2])]
	if !ok {
		return 0, &BudgetError{Literal: literal, Reason: fmt.Sprintf("unknown unit %q", m[2])}
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, &BudgetError{Literal: literal, Reason: "value out of range"}
	}
	if n <= 0 {
		return 0, &BudgetError{Literal: literal, Reason: "budget must be positive"}
	}
	if n > math.MaxInt64/int64(unit) {
		return 0, &BudgetError{Literal: literal, Reason: "value out of range"}
	}
	return time.Duration(n) * unit, nil
}
