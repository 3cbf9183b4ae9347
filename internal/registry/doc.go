// Package registry implements the hierarchical behavior registry.
//
// A Level is one node of a tree that mirrors the containment of test units:
// the root level holds globally registered behaviors, a container level holds
// the behaviors declared on a container, and member or invocation levels hold
// the narrowest declarations. Each level keeps its own ordered sequence of
// behaviors and a read-only pointer to its parent.
//
// # Ordering
//
// Lookup returns the ancestors' matches first (outermost ancestor first),
// followed by the level's own matches sorted by PriorityKey. LookupReversed
// returns the exact reverse. Opening actions (before-all, before-each,
// around-invocation entry) iterate forward; closing actions (after-each,
// after-all, failure recovery) iterate in reverse, so the most narrowly scoped
// registration is the first to tear down or to handle a failure.
//
// # Identity
//
// A behavior's identity is its dynamic Go type. A type registered at a level
// or any of its ancestors is silently ignored when registered again further
// down the chain, so each branch sees at most one live instance per type.
//
// # Capabilities
//
// Capabilities are Go interfaces. Lookup[T] filters by type assertion to T,
// which lets callers ask for any capability interface without the registry
// knowing the set in advance. The root can be given a capability check so that
// values implementing no known capability are rejected at registration time.
package registry
