package registry

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"sync"

	"governor/pkg/logging"
)

// CapabilityCheck reports whether a value implements at least one capability.
type CapabilityCheck func(v any) bool

// Option configures a root level.
type Option func(*Level)

// WithCapabilityCheck rejects registrations of values for which check returns
// false. The check is inherited by every derived level.
func WithCapabilityCheck(check CapabilityCheck) Option {
	return func(l *Level) {
		l.accepts = check
	}
}

type entry struct {
	behavior any
	typ      reflect.Type
	key      PriorityKey
	site     string
}

// Level is one node of the behavior registry tree.
type Level struct {
	parent  *Level
	name    string
	accepts CapabilityCheck

	mu      sync.RWMutex
	entries []entry
	seq     uint64
	closed  bool
}

// NewRoot creates the root level of a registry tree.
func NewRoot(name string, opts ...Option) *Level {
	l := &Level{name: name}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Derive creates a child level. Lookups on the child include every ancestor.
func (l *Level) Derive(name string) *Level {
	return &Level{
		parent:  l,
		name:    name,
		accepts: l.accepts,
	}
}

// Parent returns the parent level, or nil for the root.
func (l *Level) Parent() *Level {
	return l.parent
}

// Name returns the level name given at creation.
func (l *Level) Name() string {
	return l.name
}

// Register inserts d.Behavior at its sorted position in this level. It reports
// whether the behavior was added; a behavior whose concrete type is already
// present at this level or any ancestor is ignored and reported as not added.
func (l *Level) Register(d Declaration) (bool, error) {
	if err := l.validate(d); err != nil {
		return false, err
	}
	typ := reflect.TypeOf(d.Behavior)

	// Ancestors are read before taking our own lock; levels never lock upwards
	// while holding their own mutex, so concurrent branches cannot deadlock.
	if l.parent != nil && l.parent.Contains(typ) {
		logging.Debug("Registry", "Ignoring %s at %s: already registered by an ancestor", typ, d.Site)
		return false, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false, &ConfigError{Site: d.Site, Type: typ.String(), Cause: ErrLevelClosed}
	}
	if l.containsLocked(typ) {
		logging.Debug("Registry", "Ignoring %s at %s: already registered at level %s", typ, d.Site, l.name)
		return false, nil
	}

	l.seq++
	key := PriorityKey{Priority: DefaultPriority, Ordinal: l.seq}
	if d.Priority != nil {
		key.Priority = *d.Priority
		key.Explicit = true
	}

	idx := sort.Search(len(l.entries), func(i int) bool {
		return key.Less(l.entries[i].key)
	})
	l.entries = append(l.entries, entry{})
	copy(l.entries[idx+1:], l.entries[idx:])
	l.entries[idx] = entry{behavior: d.Behavior, typ: typ, key: key, site: d.Site}

	logging.Debug("Registry", "Registered %s at level %s (priority %d, site %s)", typ, l.name, key.Priority, d.Site)
	return true, nil
}

// RegisterAll registers each declaration in order and stops at the first error.
func (l *Level) RegisterAll(decls []Declaration) error {
	for _, d := range decls {
		if _, err := l.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func (l *Level) validate(d Declaration) error {
	if d.Behavior == nil {
		return &ConfigError{Site: d.Site, Cause: ErrNilBehavior}
	}
	v := reflect.ValueOf(d.Behavior)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		if v.IsNil() {
			return &ConfigError{Site: d.Site, Type: v.Type().String(), Cause: ErrUnassignedSlot}
		}
	}
	if l.accepts != nil && !l.accepts(d.Behavior) {
		return &ConfigError{Site: d.Site, Type: v.Type().String(), Cause: ErrNoCapability}
	}
	return nil
}

// Contains reports whether a behavior of the given concrete type is registered at
// this level or any ancestor.
func (l *Level) Contains(typ reflect.Type) bool {
	for cur := l; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		found := cur.containsLocked(typ)
		cur.mu.RUnlock()
		if found {
			return true
		}
	}
	return false
}

func (l *Level) containsLocked(typ reflect.Type) bool {
	for _, e := range l.entries {
		if e.typ == typ {
			return true
		}
	}
	return false
}

// Local returns a snapshot of this level's own behaviors in priority order.
func (l *Level) Local() []any {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]any, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.behavior
	}
	return out
}

// All returns every behavior visible from this level, global to local.
func (l *Level) All() []any {
	return Lookup[any](l)
}

// chain returns the levels from the root down to l.
func (l *Level) chain() []*Level {
	var levels []*Level
	for cur := l; cur != nil; cur = cur.parent {
		levels = append(levels, cur)
	}
	for i, j := 0, len(levels)-1; i < j; i, j = i+1, j-1 {
		levels[i], levels[j] = levels[j], levels[i]
	}
	return levels
}

// Lookup returns the behaviors implementing T that are visible from l: ancestors
// first (outermost ancestor first), then l's own behaviors in priority order.
func Lookup[T any](l *Level) []T {
	var out []T
	for _, lvl := range l.chain() {
		lvl.mu.RLock()
		for _, e := range lvl.entries {
			if v, ok := e.behavior.(T); ok {
				out = append(out, v)
			}
		}
		lvl.mu.RUnlock()
	}
	return out
}

// LookupReversed is the exact reverse of Lookup: local to global, newest first.
func LookupReversed[T any](l *Level) []T {
	out := Lookup[T](l)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Close ends the level's scope. Local behaviors implementing io.Closer are closed
// in reverse order; every close is attempted and the errors are joined. Closing
// twice is a no-op.
func (l *Level) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	entries := make([]entry, len(l.entries))
	copy(entries, l.entries)
	l.mu.Unlock()

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		closer, ok := entries[i].behavior.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			logging.Warn("Registry", "Closing %s at level %s failed: %v", entries[i].typ, l.name, err)
			errs = append(errs, fmt.Errorf("close %s: %w", entries[i].typ, err))
		}
	}
	return errors.Join(errs...)
}
