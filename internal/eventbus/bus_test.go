package eventbus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mainloopdev/mainloopd/internal/eventbus"
)

type testEvent struct {
	addr eventbus.Address
	kind string
}

func (e testEvent) Address() eventbus.Address { return e.addr }
func (e testEvent) Type() string              { return e.kind }

// fakeMetrics is a minimal telemetry.Metrics double that records counter
// increments so tests can assert on the dropped-message path.
type fakeMetrics struct {
	mu       sync.Mutex
	counters map[string]float64
}

func newFakeMetrics() *fakeMetrics { return &fakeMetrics{counters: make(map[string]float64)} }

func (m *fakeMetrics) IncCounter(name string, value float64, _ ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += value
}
func (m *fakeMetrics) RecordTimer(string, time.Duration, ...string) {}
func (m *fakeMetrics) RecordGauge(string, float64, ...string)       {}

func (m *fakeMetrics) get(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

func TestBusPublishDeliversToMatchingSubscription(t *testing.T) {
	bus := eventbus.NewBus(nil)
	ch, sub := bus.Subscribe(eventbus.Address{UserID: "u1"})
	defer sub.Close()

	require.NoError(t, bus.Publish(context.Background(), testEvent{addr: eventbus.Address{UserID: "u1", TaskID: "t1"}, kind: "task.created"}))
	require.NoError(t, bus.Publish(context.Background(), testEvent{addr: eventbus.Address{UserID: "u2"}, kind: "task.created"}))

	select {
	case evt := <-ch:
		require.Equal(t, "task.created", evt.Type())
	default:
		t.Fatal("expected an event on the matching subscription's channel")
	}

	select {
	case evt := <-ch:
		t.Fatalf("unexpected second event from non-matching user: %+v", evt)
	default:
	}
}

func TestBusSubscriptionScopedToTask(t *testing.T) {
	bus := eventbus.NewBus(nil)
	ch, sub := bus.Subscribe(eventbus.Address{UserID: "u1", TaskID: "t1"})
	defer sub.Close()

	require.NoError(t, bus.Publish(context.Background(), testEvent{addr: eventbus.Address{UserID: "u1", TaskID: "t2"}, kind: "task.status"}))
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event for a different task: %+v", evt)
	default:
	}

	require.NoError(t, bus.Publish(context.Background(), testEvent{addr: eventbus.Address{UserID: "u1", TaskID: "t1"}, kind: "task.status"}))
	select {
	case evt := <-ch:
		require.Equal(t, "task.status", evt.Type())
	default:
		t.Fatal("expected the matching task event")
	}
}

func TestBusOverflowDropsOldestAndIncrementsMetric(t *testing.T) {
	metrics := newFakeMetrics()
	bus := eventbus.NewBus(metrics)
	ch, sub := bus.Subscribe(eventbus.Address{UserID: "u1"})
	defer sub.Close()

	total := eventbus.QueueDepth + 5
	for i := 0; i < total; i++ {
		require.NoError(t, bus.Publish(context.Background(), testEvent{addr: eventbus.Address{UserID: "u1"}, kind: "n"}))
	}

	require.Equal(t, float64(5), metrics.get("eventbus.dropped"))

	drained := 0
	for {
		select {
		case <-ch:
			drained++
		default:
			require.Equal(t, eventbus.QueueDepth, drained)
			return
		}
	}
}

func TestBusPublishAfterCloseErrors(t *testing.T) {
	bus := eventbus.NewBus(nil)
	require.NoError(t, bus.Close())
	err := bus.Publish(context.Background(), testEvent{addr: eventbus.Address{UserID: "u1"}, kind: "n"})
	require.Error(t, err)
}
