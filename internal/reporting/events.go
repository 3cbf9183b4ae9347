package reporting

import (
	"fmt"
	"slices"
	"time"

	"governor/internal/behavior"

	"github.com/oklog/ulid/v2"
)

// EventType defines the type of event
type EventType string

const (
	// Run events
	EventTypeRunStarted  EventType = "run.started"
	EventTypeRunFinished EventType = "run.finished"
	EventTypeRunAborted  EventType = "run.aborted"

	// Unit events
	EventTypeUnitStarted  EventType = "unit.started"
	EventTypeUnitFinished EventType = "unit.finished"
	EventTypeUnitSkipped  EventType = "unit.skipped"

	// Governance events
	EventTypeTimeoutFired        EventType = "deadline.timeout"
	EventTypeInvocationAbandoned EventType = "deadline.abandoned"
	EventTypeFailureRecovered    EventType = "recovery.recovered"
)

// EventSeverity indicates the importance/severity of an event
type EventSeverity string

const (
	SeverityDebug EventSeverity = "debug"
	SeverityInfo  EventSeverity = "info"
	SeverityWarn  EventSeverity = "warn"
	SeverityError EventSeverity = "error"
	SeverityFatal EventSeverity = "fatal"
)

var severityOrder = []EventSeverity{SeverityDebug, SeverityInfo, SeverityWarn, SeverityError, SeverityFatal}

// rank is -1 for an unknown severity.
func (s EventSeverity) rank() int {
	return slices.Index(severityOrder, s)
}

// Event is one notification published by the engine. IDs are ULIDs, so they
// sort in publication order.
type Event struct {
	ID       string        `json:"id"`
	Type     EventType     `json:"type"`
	Time     time.Time     `json:"timestamp"`
	Severity EventSeverity `json:"severity"`

	// Unit fields are empty for run events.
	UnitID string `json:"unit_id,omitempty"`
	Unit   string `json:"unit,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Depth  int    `json:"depth,omitempty"`

	Status   behavior.Status `json:"status,omitempty"`
	Duration time.Duration   `json:"duration,omitempty"`
	Message  string          `json:"message,omitempty"`
	Err      error           `json:"-"`
}

// NewEvent creates an event stamped with a fresh ID and the current time.
func NewEvent(eventType EventType, severity EventSeverity) Event {
	return Event{
		ID:       ulid.Make().String(),
		Type:     eventType,
		Time:     time.Now(),
		Severity: severity,
	}
}

// NewUnitEvent creates an event about the unit described by uc.
func NewUnitEvent(eventType EventType, severity EventSeverity, uc *behavior.Context) Event {
	e := NewEvent(eventType, severity)
	if uc != nil {
		e.UnitID = uc.ID
		e.Unit = uc.Path()
		e.Kind = string(uc.Kind)
		e.Depth = uc.Depth()
	}
	return e
}

// NewUnitFinishedEvent converts a unit result into a finished or skipped event.
func NewUnitFinishedEvent(uc *behavior.Context, result behavior.Result) Event {
	eventType, severity := EventTypeUnitFinished, SeverityInfo
	switch result.Status {
	case behavior.StatusSkipped:
		eventType = EventTypeUnitSkipped
	case behavior.StatusFailed:
		severity = SeverityError
	case behavior.StatusAborted:
		severity = SeverityFatal
	}
	e := NewUnitEvent(eventType, severity, uc)
	e.Status = result.Status
	e.Duration = result.Duration
	e.Message = result.Reason
	e.Err = result.Err
	return e
}

// WithMessage sets a formatted message.
func (e Event) WithMessage(format string, args ...interface{}) Event {
	e.Message = fmt.Sprintf(format, args...)
	return e
}

// WithError attaches err and uses its text as the message when none is set.
func (e Event) WithError(err error) Event {
	e.Err = err
	if e.Message == "" && err != nil {
		e.Message = err.Error()
	}
	return e
}

// ErrorText returns the error message, or an empty string.
func (e Event) ErrorText() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// String returns a human-readable description of the event
func (e Event) String() string {
	if e.Unit == "" {
		return fmt.Sprintf("[%s] %s %s", e.Severity, e.Type, e.Message)
	}
	return fmt.Sprintf("[%s] %s %s: %s", e.Severity, e.Type, e.Unit, e.Message)
}
