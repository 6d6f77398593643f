package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/jguan/pipeline-console/pkg/infra/cache"
	"github.com/jguan/pipeline-console/pkg/infra/logger"
	"github.com/jguan/pipeline-console/pkg/infra/manager"
	"github.com/jguan/pipeline-console/pkg/infra/metrics"
	"github.com/jguan/pipeline-console/pkg/unit"
)

// DefaultPollInterval is the list poll period.
const DefaultPollInterval = 2 * time.Second

// Snapshot is the pipeline list returned by one poll.
type Snapshot struct {
	Pipelines []manager.Pipeline
	FetchedAt time.Time
}

// IDs returns the pipeline ids of the snapshot as a set.
func (s Snapshot) IDs() map[string]struct{} {
	out := make(map[string]struct{}, len(s.Pipelines))
	for _, p := range s.Pipelines {
		out[p.Descriptor.PipelineID] = struct{}{}
	}
	return out
}

// Find returns the record for id.
func (s Snapshot) Find(id string) (manager.Pipeline, bool) {
	for _, p := range s.Pipelines {
		if p.Descriptor.PipelineID == id {
			return p, true
		}
	}
	return manager.Pipeline{}, false
}

// Reconciler polls the pipeline list and overwrites store entries only for
// pipelines that have settled: current equals desired, or current is
// Failed. Pending transitions keep whatever the store holds.
type Reconciler struct {
	api      API
	store    *StatusStore
	cache    *cache.QueryCache
	interval time.Duration
	evict    bool
	events   unit.EventPublisher
	metrics  *metrics.Collectors
	onError  func(error)

	mu      sync.Mutex
	last    *Snapshot
	subs    map[int]func(Snapshot)
	errSubs map[int]func(error)
	nextID  int
}

type ReconcilerOption func(*Reconciler)

func WithInterval(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithListCache stores every snapshot as the fresh pipeline list query,
// unless the list was invalidated while the poll was in flight.
func WithListCache(c *cache.QueryCache) ReconcilerOption {
	return func(r *Reconciler) {
		r.cache = c
	}
}

// WithEviction controls whether store entries missing from a snapshot are
// dropped. It is on by default.
func WithEviction(on bool) ReconcilerOption {
	return func(r *Reconciler) {
		r.evict = on
	}
}

func WithReconcilerEvents(p unit.EventPublisher) ReconcilerOption {
	return func(r *Reconciler) {
		r.events = p
	}
}

func WithReconcilerMetrics(m *metrics.Collectors) ReconcilerOption {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// WithErrorHandler is called with every failed poll.
func WithErrorHandler(fn func(error)) ReconcilerOption {
	return func(r *Reconciler) {
		r.onError = fn
	}
}

func NewReconciler(api API, store *StatusStore, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		api:      api,
		store:    store,
		interval: DefaultPollInterval,
		evict:    true,
		subs:     make(map[int]func(Snapshot)),
		errSubs:  make(map[int]func(error)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) Interval() time.Duration { return r.interval }

// Run polls immediately and then every interval until ctx is done. Failed
// polls are reported and retried on the next tick.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Poll(ctx); err != nil && ctx.Err() == nil {
			r.fail(err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll fetches the list once and applies it to the store.
func (r *Reconciler) Poll(ctx context.Context) (Snapshot, error) {
	var gen uint64
	if r.cache != nil {
		gen = r.cache.Generation(ListKey())
	}

	start := time.Now()
	list, err := r.api.ListPipelines(ctx)
	r.metrics.PollCompleted(time.Since(start), err)
	if err != nil {
		return Snapshot{}, unit.WrapDomainError(err, domain, unit.ErrCodePipelineRemoteRead, "list pipelines")
	}

	snap := Snapshot{Pipelines: list, FetchedAt: time.Now()}
	// an action that settled during the read keeps the list stale
	if r.cache != nil && !r.cache.SetIfCurrent(ListKey(), list, gen) {
		logger.Debug("pipeline list invalidated during poll, not cached")
	}

	r.Apply(snap)
	return snap, nil
}

// Apply reconciles the store against snap and notifies subscribers.
func (r *Reconciler) Apply(snap Snapshot) {
	for _, p := range snap.Pipelines {
		id := p.Descriptor.PipelineID
		current, desired := p.State.CurrentStatus, p.State.DesiredStatus
		if current != desired && current != manager.PipelineStatusFailed {
			continue
		}

		next := Project(current)
		prev := r.store.Get(id)
		r.store.Set(id, next)
		if prev != next {
			r.metrics.StatusOverwritten(next.String())
			r.publish(NewStatusChangedEvent(id, prev, next, current))
			logger.Debug("pipeline status reconciled", "pipeline_id", id, "from", prev.String(), "to", next.String())
		}
	}

	if r.evict {
		if evicted := r.store.Retain(snap.IDs()); len(evicted) > 0 {
			logger.Debug("evicted removed pipelines", "ids", evicted)
		}
	}
	r.metrics.SetTrackedPipelines(len(snap.Pipelines))

	r.publishSnapshot(snap)
}

func (r *Reconciler) publishSnapshot(snap Snapshot) {
	r.mu.Lock()
	r.last = &snap
	subs := make([]func(Snapshot), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

// Forget drops id from the last snapshot and hands the filtered snapshot to
// subscribers. It is a no-op when id is not in the last snapshot.
func (r *Reconciler) Forget(id string) {
	r.mu.Lock()
	if r.last == nil {
		r.mu.Unlock()
		return
	}
	kept := make([]manager.Pipeline, 0, len(r.last.Pipelines))
	for _, p := range r.last.Pipelines {
		if p.Descriptor.PipelineID != id {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(r.last.Pipelines) {
		r.mu.Unlock()
		return
	}
	snap := Snapshot{Pipelines: kept, FetchedAt: r.last.FetchedAt}
	r.mu.Unlock()

	r.metrics.SetTrackedPipelines(len(kept))
	r.publishSnapshot(snap)
}

// Last returns the most recent snapshot.
func (r *Reconciler) Last() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Snapshot{}, false
	}
	return *r.last, true
}

// Subscribe registers fn for every later snapshot.
func (r *Reconciler) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

// Await polls until the store holds one of want for id, ctx is done or the
// pipeline fails.
func (r *Reconciler) Await(ctx context.Context, id string, want ...ClientStatus) (ClientStatus, error) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		snap, err := r.Poll(ctx)
		if err != nil && ctx.Err() == nil {
			r.fail(err)
		}

		got := r.store.Get(id)
		for _, w := range want {
			if got == w {
				return got, nil
			}
		}
		if err == nil {
			rec, found := snap.Find(id)
			if !found {
				return got, unit.NewDomainError(domain, unit.ErrCodePipelineNotFound, "pipeline "+id+" not found")
			}
			// a failed pipeline being shut down is still converging
			if rec.State.CurrentStatus == manager.PipelineStatusFailed &&
				rec.State.DesiredStatus != manager.PipelineStatusShutdown {
				msg := "pipeline " + id + " failed"
				if rec.State.Error != nil && rec.State.Error.Message != "" {
					msg += ": " + rec.State.Error.Message
				}
				return got, unit.NewDomainError(domain, unit.ErrCodePipelineActionFailed, msg)
			}
		}

		select {
		case <-ctx.Done():
			return got, unit.WrapError(ctx.Err(), unit.ErrCodeTimeout, "waiting for pipeline "+id)
		case <-ticker.C:
		}
	}
}

// SubscribeErrors registers fn for every failed poll of Run and Await.
func (r *Reconciler) SubscribeErrors(fn func(error)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.errSubs[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.errSubs, id)
	}
}

func (r *Reconciler) fail(err error) {
	logger.Warn("pipeline poll failed", "error", err)
	if r.onError != nil {
		r.onError(err)
	}

	r.mu.Lock()
	subs := make([]func(error), 0, len(r.errSubs))
	for _, fn := range r.errSubs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	for _, fn := range subs {
		fn(err)
	}
}

func (r *Reconciler) publish(e *Event) {
	if r.events == nil {
		return
	}
	if err := r.events.Publish(e); err != nil {
		logger.Warn("publish pipeline event", "type", e.Type(), "error", err)
	}
}
