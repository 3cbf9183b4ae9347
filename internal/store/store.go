// Package store provides the hierarchical key/value store attached to every
// running unit. Behaviors use it to keep state for the lifetime of a scope: a
// value put into a container's store is visible to every member beneath it and
// is closed when the container finishes.
package store

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Namespace partitions a store so unrelated behaviors cannot collide on keys.
type Namespace string

// GlobalNamespace is shared by every behavior.
const GlobalNamespace Namespace = "global"

type key struct {
	ns  Namespace
	key string
}

type value struct {
	v   any
	seq uint64
}

// Store is a namespaced key/value store with parent fallback for reads.
type Store struct {
	parent *Store

	mu       sync.Mutex
	values   map[key]value
	seq      uint64
	closed   bool
	inflight singleflight.Group
}

// New creates a store whose reads fall back to parent when a key is missing.
func New(parent *Store) *Store {
	return &Store{parent: parent, values: make(map[key]value)}
}

// Get returns the value stored under ns/k in this store or the nearest ancestor.
func (s *Store) Get(ns Namespace, k string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		v, ok := cur.values[key{ns, k}]
		cur.mu.Unlock()
		if ok {
			return v.v, true
		}
	}
	return nil, false
}

// Put stores v under ns/k in this store, replacing any local value.
func (s *Store) Put(ns Namespace, k string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("put %s/%s: %w", ns, k, ErrClosed)
	}
	s.seq++
	s.values[key{ns, k}] = value{v: v, seq: s.seq}
	return nil
}

// GetOrCompute returns the visible value for ns/k, computing and storing it in
// this store when absent. Concurrent callers for the same key share a single
// compute. compute runs without the store lock held, so it may read and write
// the store, but it must not call GetOrCompute for its own key.
func (s *Store) GetOrCompute(ns Namespace, k string, compute func() (any, error)) (any, error) {
	if v, ok := s.Get(ns, k); ok {
		return v, nil
	}

	v, err, _ := s.inflight.Do(string(ns)+"/"+k, func() (any, error) {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, fmt.Errorf("compute %s/%s: %w", ns, k, ErrClosed)
		}
		if v, ok := s.values[key{ns, k}]; ok {
			s.mu.Unlock()
			return v.v, nil
		}
		s.mu.Unlock()

		v, err := compute()
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			discard(v)
			return nil, fmt.Errorf("compute %s/%s: %w", ns, k, ErrClosed)
		}
		// compute may have stored the key itself; the first value stays.
		if existing, ok := s.values[key{ns, k}]; ok {
			s.mu.Unlock()
			if !same(existing.v, v) {
				discard(v)
			}
			return existing.v, nil
		}
		s.seq++
		s.values[key{ns, k}] = value{v: v, seq: s.seq}
		s.mu.Unlock()
		return v, nil
	})
	return v, err
}

func same(a, b any) bool {
	t := reflect.TypeOf(a)
	return t != nil && t == reflect.TypeOf(b) && t.Comparable() && a == b
}

// discard closes a computed value that lost to one already stored.
func discard(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}

// Remove deletes ns/k from this store and returns the removed value. Removed
// values are not closed by the store.
func (s *Store) Remove(ns Namespace, k string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key{ns, k}]
	if ok {
		delete(s.values, key{ns, k})
	}
	return v.v, ok
}

// ErrClosed is returned when writing to a store whose scope ended.
var ErrClosed = errors.New("store is closed")

// Close closes every local value implementing io.Closer, newest first, and
// rejects further writes. All closes are attempted; errors are joined.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ordered := make([]value, 0, len(s.values))
	for _, v := range s.values {
		ordered = append(ordered, v)
	}
	s.mu.Unlock()

	// Newest first, matching the teardown order of the scope.
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].seq > ordered[j].seq
	})

	var errs []error
	for _, v := range ordered {
		if c, ok := v.v.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
