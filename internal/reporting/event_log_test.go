package reporting

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLog_WritesMatchingEventsAsJSONLines(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()
	container, test := unitContexts()

	path := filepath.Join(t.TempDir(), "out", "events.jsonl")
	log, err := OpenEventLog(bus, path, FilterByUnit("Orders > creates order"))
	require.NoError(t, err)
	assert.Equal(t, 1, bus.Stats().Subscribers)

	bus.Publish(NewEvent(EventTypeRunStarted, SeverityInfo))
	bus.Publish(NewUnitEvent(EventTypeUnitStarted, SeverityInfo, container))
	bus.Publish(NewUnitEvent(EventTypeUnitStarted, SeverityInfo, test))
	bus.Publish(NewUnitEvent(EventTypeTimeoutFired, SeverityWarn, test).WithMessage("budget exceeded"))
	require.NoError(t, log.Close())
	assert.Equal(t, 0, bus.Stats().Subscribers, "closing the log unsubscribes it")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var got []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		got = append(got, e)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, got, 2)
	assert.Equal(t, EventTypeUnitStarted, got[0].Type)
	assert.Equal(t, EventTypeTimeoutFired, got[1].Type)
	assert.Equal(t, "Orders > creates order", got[1].Unit)
	assert.Equal(t, "budget exceeded", got[1].Message)
}

func TestEventLog_ClosedBus(t *testing.T) {
	bus := NewEventBus()
	bus.Close()
	_, err := OpenEventLog(bus, filepath.Join(t.TempDir(), "events.jsonl"), nil)
	assert.EqualError(t, err, "event bus is closed")
}
