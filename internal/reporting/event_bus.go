package reporting

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"governor/pkg/logging"
)

// EventHandler is a function that processes events
type EventHandler func(Event)

// EventFilter is a function that determines if an event should be processed
type EventFilter func(Event) bool

// Subscription is one subscriber of a bus. Exactly one of Handler and
// Channel is set.
type Subscription struct {
	ID      string
	Filter  EventFilter
	Handler EventHandler
	// Channel receives events without blocking the publisher. It is closed
	// when the subscription ends.
	Channel chan Event

	// deliver serializes handler calls, so one subscriber never sees two
	// events at once.
	deliver sync.Mutex
	mu      sync.RWMutex
	closed  bool
}

func (s *Subscription) wants(event Event) bool {
	return s.Filter == nil || s.Filter(event)
}

func (s *Subscription) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.Channel != nil {
		close(s.Channel)
	}
}

// Closed reports whether the subscription ended.
func (s *Subscription) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// offer hands the event to the channel if there is room.
func (s *Subscription) offer(event Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.Channel <- event:
		return true
	default:
		return false
	}
}

// call runs the handler, turning a panic into a false return.
func (s *Subscription) call(event Event) (ok bool) {
	s.deliver.Lock()
	defer s.deliver.Unlock()
	defer func() {
		if r := recover(); r != nil {
			logging.Error("EventBus", fmt.Errorf("%v", r), "Subscriber %s panicked on %s", s.ID, event.Type)
			ok = false
		}
	}()
	s.Handler(event)
	return true
}

// EventBus fans engine events out to subscribers.
type EventBus interface {
	// Publish delivers event to every matching subscriber, in subscription
	// order. Handlers run on the publishing goroutine.
	Publish(event Event)

	// Subscribe registers a handler. It returns nil once the bus is closed.
	Subscribe(filter EventFilter, handler EventHandler) *Subscription

	// SubscribeChannel registers a buffered channel. Events that find the
	// buffer full are dropped and counted.
	SubscribeChannel(filter EventFilter, buffer int) *Subscription

	// Unsubscribe ends a subscription and closes its channel.
	Unsubscribe(sub *Subscription)

	// Stats returns delivery counters.
	Stats() BusStats

	// Close ends every subscription. Later publishes are ignored.
	Close()
}

// BusStats counts what a bus did with the events it was given.
type BusStats struct {
	Subscribers   int
	Published     int64
	Delivered     int64
	Dropped       int64
	HandlerPanics int64
	ByType        map[EventType]int64
}

type eventBus struct {
	mu     sync.RWMutex
	subs   []*Subscription
	nextID int
	closed bool
	stats  BusStats
}

// NewEventBus creates a synchronous in-process bus.
func NewEventBus() EventBus {
	return &eventBus{stats: BusStats{ByType: make(map[EventType]int64)}}
}

func (b *eventBus) Publish(event Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	var delivered, dropped, panics int64
	for _, sub := range subs {
		if sub.Closed() || !sub.wants(event) {
			continue
		}
		switch {
		case sub.Handler != nil && sub.call(event):
			delivered++
		case sub.Handler != nil:
			panics++
		case sub.offer(event):
			delivered++
		default:
			dropped++
		}
	}

	b.mu.Lock()
	b.stats.Published++
	b.stats.ByType[event.Type]++
	b.stats.Delivered += delivered
	b.stats.Dropped += dropped
	b.stats.HandlerPanics += panics
	b.mu.Unlock()
}

func (b *eventBus) register(sub *Subscription) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.nextID++
	sub.ID = fmt.Sprintf("sub-%d", b.nextID)
	b.subs = append(b.subs, sub)
	return sub
}

func (b *eventBus) Subscribe(filter EventFilter, handler EventHandler) *Subscription {
	return b.register(&Subscription{Filter: filter, Handler: handler})
}

func (b *eventBus) SubscribeChannel(filter EventFilter, buffer int) *Subscription {
	return b.register(&Subscription{Filter: filter, Channel: make(chan Event, buffer)})
}

func (b *eventBus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	b.subs = slices.DeleteFunc(b.subs, func(s *Subscription) bool { return s == sub })
	b.mu.Unlock()
	sub.end()
}

func (b *eventBus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	stats := b.stats
	stats.Subscribers = len(b.subs)
	stats.ByType = make(map[EventType]int64, len(b.stats.ByType))
	for t, n := range b.stats.ByType {
		stats.ByType[t] = n
	}
	return stats
}

func (b *eventBus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.closed = true
	b.mu.Unlock()
	for _, sub := range subs {
		sub.end()
	}
}

// FilterByType matches events of the given types.
func FilterByType(types ...EventType) EventFilter {
	return func(event Event) bool {
		return slices.Contains(types, event.Type)
	}
}

// FilterByUnit matches events of the unit at path and of every unit below it.
func FilterByUnit(path string) EventFilter {
	return func(event Event) bool {
		return event.Unit == path || strings.HasPrefix(event.Unit, path+" > ")
	}
}

// FilterBySeverity matches events at least as severe as least.
func FilterBySeverity(least EventSeverity) EventFilter {
	floor := least.rank()
	return func(event Event) bool {
		r := event.Severity.rank()
		return r >= 0 && r >= floor
	}
}

// AnyOf matches events that at least one filter matches.
func AnyOf(filters ...EventFilter) EventFilter {
	return func(event Event) bool {
		for _, f := range filters {
			if f(event) {
				return true
			}
		}
		return false
	}
}
