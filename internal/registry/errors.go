package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrNilBehavior is returned when a declaration carries no value at all.
	ErrNilBehavior = errors.New("behavior is nil")
	// ErrUnassignedSlot is returned when a declaration carries a typed nil, i.e.
	// the declared field or parameter was never assigned.
	ErrUnassignedSlot = errors.New("declared behavior slot was never assigned")
	// ErrNoCapability is returned when a value implements no behavior capability.
	ErrNoCapability = errors.New("value implements no behavior capability")
	// ErrLevelClosed is returned when registering into a level whose scope ended.
	ErrLevelClosed = errors.New("registry level is closed")
)

// ConfigError reports an invalid behavior declaration. It always names the
// declaration site so the discovery layer can surface it as a collection failure.
type ConfigError struct {
	Site  string
	Type  string
	Cause error
}

func (e *ConfigError) Error() string {
	site := e.Site
	if site == "" {
		site = "<unknown site>"
	}
	if e.Type != "" {
		return fmt.Sprintf("invalid behavior declaration at %s (%s): %v", site, e.Type, e.Cause)
	}
	return fmt.Sprintf("invalid behavior declaration at %s: %v", site, e.Cause)
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// IsConfigError reports whether err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
