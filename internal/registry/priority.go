package registry

import "math"

// DefaultPriority is used for declarations without an explicit priority. It sits
// in the middle of the int32 range so explicit priorities can go either side.
const DefaultPriority = math.MaxInt32 / 2

// PriorityKey orders behaviors within one level. Lower priorities sort first;
// equal priorities fall back to the declaration ordinal, which the level assigns
// from a per-level counter in the order the declaring layer registers values.
// Declaring layers must therefore register in a deterministic order (source
// order, or sorted by name where the source order is not observable).
type PriorityKey struct {
	Priority int
	Explicit bool
	Ordinal  uint64
}

// Less reports whether k sorts before o.
func (k PriorityKey) Less(o PriorityKey) bool {
	if k.Priority != o.Priority {
		return k.Priority < o.Priority
	}
	return k.Ordinal < o.Ordinal
}

// Declaration is one behavior as produced by the declaring layer.
type Declaration struct {
	// Behavior is the value to register.
	Behavior any
	// Site identifies where the behavior was declared, e.g. "container Orders > field audit".
	Site string
	// Priority overrides DefaultPriority when non-nil.
	Priority *int
}

// Priority is a convenience for building Declaration.Priority.
func Priority(n int) *int {
	return &n
}
