package behavior

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a fresh instance of a globally registered behavior.
type Factory func() any

var (
	globalMu sync.RWMutex
	global   = map[string]Factory{}
)

// RegisterGlobal adds a behavior to the global catalog. Catalog behaviors are
// registered at the root level of a run only when auto-detection is enabled.
// It panics on duplicate names, like other init-time registries.
func RegisterGlobal(name string, factory Factory) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if factory == nil {
		panic(fmt.Sprintf("behavior: nil factory for %q", name))
	}
	if _, dup := global[name]; dup {
		panic(fmt.Sprintf("behavior: %q registered twice", name))
	}
	global[name] = factory
}

// UnregisterGlobal removes a catalog entry. It exists for tests.
func UnregisterGlobal(name string) {
	globalMu.Lock()
	defer globalMu.Unlock()
	delete(global, name)
}

// GlobalEntry is one instantiated catalog behavior.
type GlobalEntry struct {
	Name     string
	Behavior any
}

// Globals instantiates every catalog behavior, sorted by name so registration
// order is deterministic.
func Globals() []GlobalEntry {
	globalMu.RLock()
	names := make([]string, 0, len(global))
	for name := range global {
		names = append(names, name)
	}
	factories := make(map[string]Factory, len(global))
	for k, v := range global {
		factories[k] = v
	}
	globalMu.RUnlock()

	sort.Strings(names)
	out := make([]GlobalEntry, 0, len(names))
	for _, name := range names {
		out = append(out, GlobalEntry{Name: name, Behavior: factories[name]()})
	}
	return out
}
