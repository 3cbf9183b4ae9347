package reporting

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"governor/pkg/logging"
)

// eventLogBuffer bounds how far the writer may fall behind the engine before
// events are dropped.
const eventLogBuffer = 1024

// EventLog streams bus events to a file as JSON lines, one event per line.
// Writing happens on its own goroutine, so a slow disk never stalls a unit.
type EventLog struct {
	bus  EventBus
	sub  *Subscription
	path string
	done chan struct{}

	written int
	err     error
}

// OpenEventLog creates path and starts writing the events matching filter.
func OpenEventLog(bus EventBus, path string, filter EventFilter) (*EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}
	sub := bus.SubscribeChannel(filter, eventLogBuffer)
	if sub == nil {
		f.Close()
		return nil, errors.New("event bus is closed")
	}

	l := &EventLog{bus: bus, sub: sub, path: path, done: make(chan struct{})}
	go l.drain(f)
	return l, nil
}

func (l *EventLog) drain(f *os.File) {
	defer close(l.done)

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for event := range l.sub.Channel {
		if l.err != nil {
			continue
		}
		if err := enc.Encode(event); err != nil {
			l.err = fmt.Errorf("failed to write event log: %w", err)
			continue
		}
		l.written++
	}
	if err := w.Flush(); err != nil && l.err == nil {
		l.err = fmt.Errorf("failed to write event log: %w", err)
	}
	if err := f.Close(); err != nil && l.err == nil {
		l.err = fmt.Errorf("failed to close event log: %w", err)
	}
}

// Close unsubscribes, waits for buffered events to be written and returns
// the first write error.
func (l *EventLog) Close() error {
	l.bus.Unsubscribe(l.sub)
	<-l.done
	if l.err == nil {
		logging.Info("Reporter", "Wrote %d event(s) to %s", l.written, l.path)
	}
	return l.err
}
