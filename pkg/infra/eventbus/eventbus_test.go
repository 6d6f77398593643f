package eventbus

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jguan/pipeline-console/pkg/unit"
)

type testEvent struct {
	eventType     string
	domain        string
	pipelineID    string
	payload       any
	timestamp     time.Time
	correlationID string
}

func (e *testEvent) Type() string          { return e.eventType }
func (e *testEvent) Domain() string        { return e.domain }
func (e *testEvent) Payload() any          { return e.payload }
func (e *testEvent) Timestamp() time.Time  { return e.timestamp }
func (e *testEvent) CorrelationID() string { return e.correlationID }
func (e *testEvent) PipelineID() string    { return e.pipelineID }

var _ unit.PipelineScoped = (*testEvent)(nil)

func newTestEvent(eventType, pipelineID string) *testEvent {
	return &testEvent{
		eventType:     eventType,
		domain:        "pipeline",
		pipelineID:    pipelineID,
		payload:       map[string]any{"action": "pause"},
		timestamp:     time.Now(),
		correlationID: "corr-1",
	}
}

// unscopedEvent does not implement unit.PipelineScoped.
type unscopedEvent struct{}

func (unscopedEvent) Type() string          { return "x" }
func (unscopedEvent) Domain() string        { return "pipeline" }
func (unscopedEvent) Payload() any          { return nil }
func (unscopedEvent) Timestamp() time.Time  { return time.Time{} }
func (unscopedEvent) CorrelationID() string { return "" }

func TestInMemoryEventBus_PublishSubscribe(t *testing.T) {
	bus := NewInMemoryEventBus()
	defer bus.Close()

	received := make(chan unit.Event, 1)
	_, err := bus.Subscribe(func(event unit.Event) error {
		received <- event
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(newTestEvent("pipeline.action_requested", "p1")))

	select {
	case ev := <-received:
		assert.Equal(t, "pipeline.action_requested", ev.Type())
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestInMemoryEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewInMemoryEventBus()

	var counter int64
	for i := 0; i < 5; i++ {
		_, err := bus.Subscribe(func(unit.Event) error {
			atomic.AddInt64(&counter, 1)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, bus.Publish(newTestEvent("a", "p1")))
	require.NoError(t, bus.Close())

	assert.Equal(t, int64(5), atomic.LoadInt64(&counter))
}

func TestInMemoryEventBus_Filters(t *testing.T) {
	tests := []struct {
		name    string
		filters []EventFilter
		want    int64
	}{
		{"no filter", nil, 3},
		{"by type", []EventFilter{FilterByType("pipeline.status_changed")}, 2},
		{"by types", []EventFilter{FilterByTypes("pipeline.status_changed", "pipeline.action_failed")}, 3},
		{"by pipeline", []EventFilter{FilterByPipeline("p2")}, 1},
		{"by domain", []EventFilter{FilterByDomain("other")}, 0},
		{"all must match", []EventFilter{FilterByType("pipeline.status_changed"), FilterByPipeline("p1")}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := NewInMemoryEventBus()
			var count int64
			_, err := bus.Subscribe(func(unit.Event) error {
				atomic.AddInt64(&count, 1)
				return nil
			}, tt.filters...)
			require.NoError(t, err)

			require.NoError(t, bus.Publish(newTestEvent("pipeline.status_changed", "p1")))
			require.NoError(t, bus.Publish(newTestEvent("pipeline.status_changed", "p2")))
			require.NoError(t, bus.Publish(newTestEvent("pipeline.action_failed", "p3")))
			require.NoError(t, bus.Close())

			assert.Equal(t, tt.want, atomic.LoadInt64(&count))
		})
	}
}

func TestFilterByPipeline_Unscoped(t *testing.T) {
	assert.False(t, FilterByPipeline("p1")(unscopedEvent{}))
}

func TestInMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewInMemoryEventBus()

	var count int64
	id, err := bus.Subscribe(func(unit.Event) error {
		atomic.AddInt64(&count, 1)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, bus.Unsubscribe(id))

	require.NoError(t, bus.Publish(newTestEvent("a", "p1")))
	require.NoError(t, bus.Close())

	assert.Zero(t, atomic.LoadInt64(&count))
	assert.Error(t, bus.Unsubscribe(id))
}

func TestInMemoryEventBus_InvalidArguments(t *testing.T) {
	bus := NewInMemoryEventBus()
	defer bus.Close()

	assert.Error(t, bus.Publish(nil))
	_, err := bus.Subscribe(nil)
	assert.Error(t, err)
}

func TestInMemoryEventBus_HandlerErrorDoesNotStopDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(WithWorkerCount(1))

	var count int64
	_, _ = bus.Subscribe(func(unit.Event) error { return errors.New("boom") })
	_, _ = bus.Subscribe(func(unit.Event) error {
		atomic.AddInt64(&count, 1)
		return nil
	})

	_ = bus.Publish(newTestEvent("a", "p1"))
	_ = bus.Publish(newTestEvent("b", "p1"))
	require.NoError(t, bus.Close())

	assert.Equal(t, int64(2), atomic.LoadInt64(&count))
}

func TestInMemoryEventBus_Close(t *testing.T) {
	bus := NewInMemoryEventBus()
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close(), "Close is idempotent")

	assert.ErrorIs(t, bus.Publish(newTestEvent("a", "p1")), ErrClosed)
	_, err := bus.Subscribe(func(unit.Event) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestInMemoryEventBus_CloseReleasesBlockedPublisher(t *testing.T) {
	bus := NewInMemoryEventBus(WithBufferSize(1), WithWorkerCount(1))

	block := make(chan struct{})
	_, _ = bus.Subscribe(func(unit.Event) error {
		<-block
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			if err := bus.Publish(newTestEvent("a", "p1")); err != nil {
				return
			}
		}
	}()

	time.Sleep(50 * time.Millisecond)
	closed := make(chan struct{})
	go func() {
		_ = bus.Close()
		close(closed)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher still blocked after Close")
	}
	close(block)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
}

func TestInMemoryEventBus_Concurrency(t *testing.T) {
	bus := NewInMemoryEventBus(WithBufferSize(10), WithWorkerCount(4))

	var count int64
	_, _ = bus.Subscribe(func(unit.Event) error {
		atomic.AddInt64(&count, 1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = bus.Publish(newTestEvent("a", "p1"))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, bus.Close())

	assert.Equal(t, int64(200), atomic.LoadInt64(&count))
}

func TestInMemoryEventBus_PerPipelineOrder(t *testing.T) {
	bus := NewInMemoryEventBus(WithBufferSize(4), WithWorkerCount(4))

	var mu sync.Mutex
	seen := map[string][]int{}
	_, err := bus.Subscribe(func(event unit.Event) error {
		e := event.(*testEvent)
		mu.Lock()
		seen[e.pipelineID] = append(seen[e.pipelineID], e.payload.(int))
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	pipelines := []string{"p1", "p2", "p3"}
	for i := 0; i < 50; i++ {
		for _, id := range pipelines {
			ev := newTestEvent("pipeline.status_changed", id)
			ev.payload = i
			require.NoError(t, bus.Publish(ev))
		}
	}
	require.NoError(t, bus.Close())

	for _, id := range pipelines {
		got := seen[id]
		require.Len(t, got, 50, id)
		for i, v := range got {
			assert.Equal(t, i, v, "%s event %d out of order", id, i)
		}
	}
}

func TestInMemoryEventBus_ShardIsStable(t *testing.T) {
	bus := NewInMemoryEventBus(WithWorkerCount(8))
	defer bus.Close()

	first := bus.shard(newTestEvent("a", "p1"))
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, bus.shard(newTestEvent("b", "p1")))
	}
	assert.Equal(t, bus.shard(unscopedEvent{}), bus.shard(unscopedEvent{}))
}
