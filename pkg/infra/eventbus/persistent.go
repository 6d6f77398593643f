package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jguan/pipeline-console/pkg/infra/logger"
	"github.com/jguan/pipeline-console/pkg/unit"
)

// PersistentEventBus dispatches like InMemoryEventBus and records every
// published event to an EventStore in batches. Subscribers never wait on
// the store.
type PersistentEventBus struct {
	*InMemoryEventBus

	store   EventStore
	pending chan unit.Event
	done    chan struct{}
	flushed chan struct{}

	batchSize    int
	flushPeriod  time.Duration
	closeTimeout time.Duration

	mu        sync.RWMutex
	closeOnce sync.Once
	closed    bool
}

type persistentConfig struct {
	bufferSize   int
	batchSize    int
	flushPeriod  time.Duration
	closeTimeout time.Duration
}

type PersistentOption func(*persistentConfig)

func WithPersistentBufferSize(size int) PersistentOption {
	return func(c *persistentConfig) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

// WithBatchSize flushes as soon as n events are pending.
func WithBatchSize(n int) PersistentOption {
	return func(c *persistentConfig) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithFlushPeriod flushes pending events at least this often.
func WithFlushPeriod(period time.Duration) PersistentOption {
	return func(c *persistentConfig) {
		if period > 0 {
			c.flushPeriod = period
		}
	}
}

// WithCloseTimeout bounds how long Close waits for the final flush.
func WithCloseTimeout(d time.Duration) PersistentOption {
	return func(c *persistentConfig) {
		if d > 0 {
			c.closeTimeout = d
		}
	}
}

func NewPersistentEventBus(store EventStore, opts ...PersistentOption) *PersistentEventBus {
	cfg := &persistentConfig{
		bufferSize:   256,
		batchSize:    50,
		flushPeriod:  time.Second,
		closeTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	bus := &PersistentEventBus{
		InMemoryEventBus: NewInMemoryEventBus(WithBufferSize(cfg.bufferSize)),
		store:            store,
		pending:          make(chan unit.Event, cfg.bufferSize),
		done:             make(chan struct{}),
		flushed:          make(chan struct{}),
		batchSize:        cfg.batchSize,
		flushPeriod:      cfg.flushPeriod,
		closeTimeout:     cfg.closeTimeout,
	}

	go bus.record()

	return bus
}

// Publish dispatches event to subscribers and queues it for the store.
func (b *PersistentEventBus) Publish(event unit.Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	if err := b.InMemoryEventBus.Publish(event); err != nil {
		return err
	}

	select {
	case b.pending <- event:
		return nil
	case <-b.done:
		return ErrClosed
	}
}

func (b *PersistentEventBus) Query(ctx context.Context, filter EventQueryFilter) ([]StoredEvent, error) {
	return b.store.Query(ctx, filter)
}

// Replay feeds the recorded events of one correlation id to handler,
// oldest first.
func (b *PersistentEventBus) Replay(ctx context.Context, correlationID string, handler EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	events, err := b.store.Query(ctx, EventQueryFilter{CorrelationID: correlationID})
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}

	for i := len(events) - 1; i >= 0; i-- {
		if err := handler(&events[i]); err != nil {
			return fmt.Errorf("handle event: %w", err)
		}
	}

	return nil
}

// Close writes what is still pending and then closes the dispatcher.
func (b *PersistentEventBus) Close() error {
	b.closeOnce.Do(func() { close(b.done) })

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.pending)
	b.mu.Unlock()

	select {
	case <-b.flushed:
	case <-time.After(b.closeTimeout):
		logger.Warn("event history flush timed out", "timeout", b.closeTimeout)
	}

	return b.InMemoryEventBus.Close()
}

func (b *PersistentEventBus) record() {
	defer close(b.flushed)

	batch := make([]unit.Event, 0, b.batchSize)
	ticker := time.NewTicker(b.flushPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-b.pending:
			if !ok {
				b.write(batch)
				return
			}
			batch = append(batch, event)
			if len(batch) >= b.batchSize {
				b.write(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			b.write(batch)
			batch = batch[:0]
		}
	}
}

func (b *PersistentEventBus) write(batch []unit.Event) {
	if len(batch) == 0 {
		return
	}

	ctx := context.Background()
	var err error
	if saver, ok := b.store.(BatchSaver); ok {
		err = saver.SaveBatch(ctx, batch)
	} else {
		for _, event := range batch {
			if err = b.store.Save(ctx, event); err != nil {
				break
			}
		}
	}
	if err != nil {
		logger.Error("record events", "count", len(batch), "error", err)
	}
}
