package eventbus

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"

	"github.com/jguan/pipeline-console/pkg/infra/logger"
	"github.com/jguan/pipeline-console/pkg/unit"
)

var ErrClosed = errors.New("eventbus is closed")

type SubscriptionID string

type EventHandler func(event unit.Event) error

type EventFilter func(event unit.Event) bool

type EventBus interface {
	unit.EventPublisher
	Subscribe(handler EventHandler, filters ...EventFilter) (SubscriptionID, error)
	Unsubscribe(id SubscriptionID) error
	Close() error
}

// InMemoryEventBus dispatches events to subscribers from a fixed set of
// workers. Each worker owns a queue and events are routed by pipeline ID,
// so the events of one pipeline reach a subscriber in publish order.
type InMemoryEventBus struct {
	mu          sync.RWMutex
	subscribers map[SubscriptionID]*subscription
	queues      []chan unit.Event
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	closed      bool
}

type subscription struct {
	handler EventHandler
	filters []EventFilter
}

type config struct {
	bufferSize  int
	workerCount int
}

type Option func(*config)

// WithBufferSize sets the number of events each worker queue holds before
// Publish blocks.
func WithBufferSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

func WithWorkerCount(count int) Option {
	return func(c *config) {
		if count > 0 {
			c.workerCount = count
		}
	}
}

func NewInMemoryEventBus(opts ...Option) *InMemoryEventBus {
	cfg := &config{
		bufferSize:  128,
		workerCount: 2,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	bus := &InMemoryEventBus{
		subscribers: make(map[SubscriptionID]*subscription),
		queues:      make([]chan unit.Event, cfg.workerCount),
		done:        make(chan struct{}),
	}

	for i := range bus.queues {
		bus.queues[i] = make(chan unit.Event, cfg.bufferSize)
		bus.wg.Add(1)
		go bus.worker(bus.queues[i])
	}

	return bus
}

// shard picks the worker queue for event. Unscoped events are spread by
// type.
func (b *InMemoryEventBus) shard(event unit.Event) chan unit.Event {
	if len(b.queues) == 1 {
		return b.queues[0]
	}
	key := event.Type()
	if scoped, ok := event.(unit.PipelineScoped); ok && scoped.PipelineID() != "" {
		key = scoped.PipelineID()
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return b.queues[h.Sum32()%uint32(len(b.queues))]
}

// Publish queues event for dispatch. It blocks while the target queue is
// full.
func (b *InMemoryEventBus) Publish(event unit.Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	select {
	case b.shard(event) <- event:
		return nil
	case <-b.done:
		return ErrClosed
	}
}

func (b *InMemoryEventBus) Subscribe(handler EventHandler, filters ...EventFilter) (SubscriptionID, error) {
	if handler == nil {
		return "", fmt.Errorf("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", ErrClosed
	}

	id := SubscriptionID(uuid.New().String())
	b.subscribers[id] = &subscription{
		handler: handler,
		filters: filters,
	}

	return id, nil
}

func (b *InMemoryEventBus) Unsubscribe(id SubscriptionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; !exists {
		return fmt.Errorf("subscription %s not found", id)
	}

	delete(b.subscribers, id)
	return nil
}

// Close stops accepting events, delivers what is already queued and waits
// for the workers to exit.
func (b *InMemoryEventBus) Close() error {
	// release publishers blocked on a full queue so they drop the read lock
	b.closeOnce.Do(func() { close(b.done) })

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, q := range b.queues {
		close(q)
	}
	b.mu.Unlock()

	b.wg.Wait()

	b.mu.Lock()
	b.subscribers = make(map[SubscriptionID]*subscription)
	b.mu.Unlock()

	return nil
}

func (b *InMemoryEventBus) worker(queue <-chan unit.Event) {
	defer b.wg.Done()

	for event := range queue {
		b.dispatchEvent(event)
	}
}

func (b *InMemoryEventBus) dispatchEvent(event unit.Event) {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if !matchFilters(event, sub.filters) {
			continue
		}
		if err := sub.handler(event); err != nil {
			logger.Warn("event handler failed", "type", event.Type(), "error", err)
		}
	}
}

func matchFilters(event unit.Event, filters []EventFilter) bool {
	for _, filter := range filters {
		if !filter(event) {
			return false
		}
	}
	return true
}

func FilterByType(eventType string) EventFilter {
	return func(event unit.Event) bool {
		return event.Type() == eventType
	}
}

func FilterByDomain(domain string) EventFilter {
	return func(event unit.Event) bool {
		return event.Domain() == domain
	}
}

func FilterByTypes(types ...string) EventFilter {
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event unit.Event) bool {
		return typeSet[event.Type()]
	}
}

// FilterByPipeline matches events scoped to pipeline id.
func FilterByPipeline(id string) EventFilter {
	return func(event unit.Event) bool {
		scoped, ok := event.(unit.PipelineScoped)
		return ok && scoped.PipelineID() == id
	}
}
