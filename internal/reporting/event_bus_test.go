package reporting

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventBus(t *testing.T) {
	bus := NewEventBus()
	assert.NotNil(t, bus)

	stats := bus.Stats()
	assert.Equal(t, 0, stats.Subscribers)
	assert.Equal(t, int64(0), stats.Published)
}

func TestEventBus_PublishHandlerInOrder(t *testing.T) {
	bus := NewEventBus()

	var received []EventType
	bus.Subscribe(FilterByType(EventTypeUnitStarted, EventTypeUnitFinished), func(e Event) {
		received = append(received, e.Type)
	})

	bus.Publish(NewEvent(EventTypeRunStarted, SeverityInfo))
	bus.Publish(NewEvent(EventTypeUnitStarted, SeverityInfo))
	bus.Publish(NewEvent(EventTypeUnitFinished, SeverityInfo))

	// Handlers run synchronously, so no waiting is needed.
	assert.Equal(t, []EventType{EventTypeUnitStarted, EventTypeUnitFinished}, received)

	stats := bus.Stats()
	assert.Equal(t, int64(3), stats.Published)
	assert.Equal(t, int64(2), stats.Delivered)
	assert.Equal(t, int64(1), stats.ByType[EventTypeRunStarted])
}

func TestEventBus_ChannelBufferOverflow(t *testing.T) {
	bus := NewEventBus()
	sub := bus.SubscribeChannel(nil, 1)

	bus.Publish(NewEvent(EventTypeUnitStarted, SeverityInfo))
	bus.Publish(NewEvent(EventTypeUnitStarted, SeverityInfo))

	assert.Len(t, sub.Channel, 1)
	assert.Equal(t, int64(1), bus.Stats().Dropped)
}

func TestEventBus_PanickingHandlerIsContained(t *testing.T) {
	bus := NewEventBus()
	var got int
	bus.Subscribe(nil, func(Event) { panic("subscriber bug") })
	bus.Subscribe(nil, func(Event) { got++ })

	assert.NotPanics(t, func() { bus.Publish(NewEvent(EventTypeRunStarted, SeverityInfo)) })
	assert.Equal(t, 1, got)
	assert.Equal(t, int64(1), bus.Stats().HandlerPanics)
}

func TestEventBus_UnsubscribeAndClose(t *testing.T) {
	bus := NewEventBus()
	var got int
	sub := bus.Subscribe(nil, func(Event) { got++ })
	ch := bus.SubscribeChannel(nil, 4)

	bus.Unsubscribe(sub)
	assert.True(t, sub.Closed())
	assert.Equal(t, 1, bus.Stats().Subscribers)
	bus.Publish(NewEvent(EventTypeRunStarted, SeverityInfo))
	assert.Equal(t, 0, got)
	assert.Len(t, ch.Channel, 1)

	bus.Close()
	assert.True(t, ch.Closed())
	assert.Nil(t, bus.SubscribeChannel(nil, 1))
	assert.Nil(t, bus.Subscribe(nil, func(Event) {}))
	assert.NotPanics(t, func() { bus.Publish(NewEvent(EventTypeRunStarted, SeverityInfo)) })
}

func TestEventIDsSortInPublicationOrder(t *testing.T) {
	first := NewEvent(EventTypeRunStarted, SeverityInfo)
	second := NewEvent(EventTypeRunFinished, SeverityInfo)
	assert.Less(t, first.ID, second.ID)
}

func TestFilters(t *testing.T) {
	warn := NewEvent(EventTypeTimeoutFired, SeverityWarn)
	warn.Unit = "Orders > pays > card"
	info := NewEvent(EventTypeUnitStarted, SeverityInfo)
	info.Unit = "Orders > payslip"
	fatal := NewEvent(EventTypeRunAborted, SeverityFatal)
	odd := NewEvent(EventTypeRunAborted, EventSeverity("loud"))

	assert.True(t, FilterBySeverity(SeverityWarn)(warn))
	assert.True(t, FilterBySeverity(SeverityWarn)(fatal))
	assert.False(t, FilterBySeverity(SeverityWarn)(info))
	assert.False(t, FilterBySeverity(SeverityDebug)(odd), "unknown severities never match")

	assert.True(t, FilterByUnit("Orders > pays")(warn), "units below the path match")
	assert.False(t, FilterByUnit("Orders > pays")(info), "a shared name prefix is not a parent")
	assert.True(t, FilterByUnit("Orders > payslip")(info))
	assert.False(t, FilterByUnit("Orders")(fatal), "run events carry no unit")

	either := AnyOf(FilterByUnit("Orders > pays"), FilterByType(EventTypeUnitStarted))
	assert.True(t, either(warn))
	assert.True(t, either(info))
	assert.False(t, either(fatal))
}

func TestEventBus_ConcurrentPublish(t *testing.T) {
	bus := NewEventBus()
	var mu sync.Mutex
	count := 0
	bus.Subscribe(nil, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish(NewEvent(EventTypeUnitStarted, SeverityDebug))
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1000, count)
	assert.Equal(t, int64(1000), bus.Stats().Published)
}
