package reporting

import (
	"sort"
	"sync"
	"time"

	"governor/internal/behavior"
)

// UnitRecord is the last known state of one unit.
type UnitRecord struct {
	ID       string          `json:"id"`
	Unit     string          `json:"unit"`
	Kind     string          `json:"kind"`
	Depth    int             `json:"-"`
	Status   behavior.Status `json:"status"`
	Reason   string          `json:"reason,omitempty"`
	Error    string          `json:"error,omitempty"`
	Started  time.Time       `json:"started"`
	Duration time.Duration   `json:"duration"`
	// seq orders records by first appearance.
	seq uint64
}

// ResultStore keeps one record per unit, updated from events.
type ResultStore struct {
	mu      sync.RWMutex
	records map[string]*UnitRecord
	seq     uint64
}

// NewResultStore creates an empty store.
func NewResultStore() *ResultStore {
	return &ResultStore{records: make(map[string]*UnitRecord)}
}

// Apply updates the store from a unit event. It reports whether the event
// changed a unit's status. Non-unit events are ignored.
func (s *ResultStore) Apply(event Event) bool {
	if event.UnitID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[event.UnitID]
	if !exists {
		s.seq++
		rec = &UnitRecord{
			ID:      event.UnitID,
			Unit:    event.Unit,
			Kind:    event.Kind,
			Depth:   event.Depth,
			Started: event.Time,
			seq:     s.seq,
		}
		s.records[event.UnitID] = rec
	}

	switch event.Type {
	case EventTypeUnitFinished, EventTypeUnitSkipped:
		changed := rec.Status != event.Status
		rec.Status = event.Status
		rec.Duration = event.Duration
		rec.Reason = event.Message
		rec.Error = event.ErrorText()
		return changed
	}
	return false
}

// Get returns a copy of the record for a unit.
func (s *ResultStore) Get(unitID string) (UnitRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[unitID]
	if !ok {
		return UnitRecord{}, false
	}
	return *rec, true
}

// All returns copies of every finished record in order of first appearance.
func (s *ResultStore) All() []UnitRecord {
	s.mu.RLock()
	out := make([]UnitRecord, 0, len(s.records))
	for _, rec := range s.records {
		if rec.Status != "" {
			out = append(out, *rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// CountByStatus counts finished units per status, optionally restricted to
// the given kinds.
func (s *ResultStore) CountByStatus(kinds ...string) map[behavior.Status]int {
	filter := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		filter[k] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[behavior.Status]int)
	for _, rec := range s.records {
		if rec.Status == "" || (len(filter) > 0 && !filter[rec.Kind]) {
			continue
		}
		counts[rec.Status]++
	}
	return counts
}
