package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jguan/pipeline-console/pkg/infra/cache"
	"github.com/jguan/pipeline-console/pkg/infra/logger"
	"github.com/jguan/pipeline-console/pkg/infra/manager"
	"github.com/jguan/pipeline-console/pkg/infra/metrics"
	"github.com/jguan/pipeline-console/pkg/infra/notify"
	"github.com/jguan/pipeline-console/pkg/unit"
)

type ActionKind string

const (
	ActionStart    ActionKind = "start"
	ActionPause    ActionKind = "pause"
	ActionShutdown ActionKind = "shutdown"
	ActionDelete   ActionKind = "delete"
)

// ActionKinds returns the lifecycle actions in display order.
func ActionKinds() []ActionKind {
	return []ActionKind{ActionStart, ActionPause, ActionShutdown, ActionDelete}
}

func ParseActionKind(s string) (ActionKind, error) {
	for _, k := range ActionKinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", unit.NewError(unit.ErrCodeInvalidInput, fmt.Sprintf("unknown action %q", s))
}

type transition struct {
	sources []ClientStatus
	// optimistic is StatusUnknown for actions without an in-between state.
	optimistic ClientStatus
}

var transitions = map[ActionKind]transition{
	ActionStart:    {sources: []ClientStatus{StatusInactive, StatusPaused}, optimistic: StatusStarting},
	ActionPause:    {sources: []ClientStatus{StatusRunning}, optimistic: StatusPausing},
	ActionShutdown: {sources: []ClientStatus{StatusRunning, StatusPaused, StatusFailed}, optimistic: StatusShuttingDown},
	ActionDelete:   {sources: []ClientStatus{StatusInactive, StatusCreateFailure, StatusStartupFailure}},
}

// LegalSources returns the statuses from which kind may be triggered.
func LegalSources(kind ActionKind) []ClientStatus {
	t, ok := transitions[kind]
	if !ok {
		return nil
	}
	out := make([]ClientStatus, len(t.sources))
	copy(out, t.sources)
	return out
}

// OptimisticStatus returns the status written before the remote call, and
// false for actions that write none.
func OptimisticStatus(kind ActionKind) (ClientStatus, bool) {
	t := transitions[kind]
	return t.optimistic, t.optimistic != StatusUnknown
}

// ActionHook issues one kind of lifecycle command. A hook runs at most one
// command at a time, across all pipelines.
type ActionHook struct {
	kind        ActionKind
	rule        transition
	store       *StatusStore
	api         API
	invalidator *Invalidator
	cache       *cache.QueryCache
	notifier    notify.Sink
	events      unit.EventPublisher
	metrics     *metrics.Collectors
	onDeleted   func(id string)
	inFlight    atomic.Bool
}

type HookOption func(*ActionHook)

func WithNotifier(s notify.Sink) HookOption {
	return func(h *ActionHook) {
		if s != nil {
			h.notifier = s
		}
	}
}

func WithEvents(p unit.EventPublisher) HookOption {
	return func(h *ActionHook) {
		h.events = p
	}
}

func WithMetrics(m *metrics.Collectors) HookOption {
	return func(h *ActionHook) {
		h.metrics = m
	}
}

// WithDeleted is called after a confirmed delete, so list holders outside
// the query cache can drop the pipeline too. Reconciler.Forget fits.
func WithDeleted(fn func(id string)) HookOption {
	return func(h *ActionHook) {
		h.onDeleted = fn
	}
}

// NewActionHook builds the hook for kind. c backs both invalidation and the
// list filtering done after a delete.
func NewActionHook(kind ActionKind, store *StatusStore, api API, c *cache.QueryCache, opts ...HookOption) (*ActionHook, error) {
	rule, ok := transitions[kind]
	if !ok {
		return nil, unit.NewError(unit.ErrCodeInvalidInput, fmt.Sprintf("unknown action %q", kind))
	}
	h := &ActionHook{
		kind:        kind,
		rule:        rule,
		store:       store,
		api:         api,
		invalidator: NewInvalidator(c),
		cache:       c,
		notifier:    notify.Discard,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *ActionHook) Kind() ActionKind { return h.kind }

// InFlight reports whether a command of this kind is pending.
func (h *ActionHook) InFlight() bool { return h.inFlight.Load() }

// Trigger runs the action on pipeline id. It returns false, with no error,
// when the guard rejects the call: another command of this kind is in
// flight or the current status is not a legal source. On remote failure
// the status is rolled back, a notification is pushed and the error is
// returned.
func (h *ActionHook) Trigger(ctx context.Context, id string) (bool, error) {
	if !h.inFlight.CompareAndSwap(false, true) {
		h.reject(id, "in flight")
		return false, nil
	}
	defer h.inFlight.Store(false)

	prev, ok := h.guardAndWrite(id)
	if !ok {
		h.reject(id, "status "+prev.String())
		return false, nil
	}

	correlationID := uuid.New().String()
	ctx = logger.SetCorrelationID(ctx, correlationID)
	ctx = logger.SetPipeline(ctx, id)
	ctx = logger.SetAction(ctx, string(h.kind))
	log := logger.WithContext(ctx)

	log.Info("pipeline action requested", "from", prev.String())
	h.publish(NewActionRequestedEvent(id, h.kind, prev, correlationID))

	err := h.call(ctx, id)

	// settle
	h.invalidator.Invalidate(id)

	if err != nil {
		if _, hasOptimistic := OptimisticStatus(h.kind); hasOptimistic {
			h.store.Set(id, prev)
		}
		message := ErrorMessage(err)
		h.notifier.Push(notify.New(notify.SeverityError, message))
		h.publish(NewActionFailedEvent(id, h.kind, prev, message, correlationID))
		h.metrics.ActionTriggered(string(h.kind), metrics.OutcomeFailure)
		log.Warn("pipeline action failed", "error", message, "reverted_to", prev.String())
		return true, unit.WrapDomainError(err, domain, unit.ErrCodePipelineActionFailed,
			fmt.Sprintf("%s pipeline %s", h.kind, id))
	}

	if h.kind == ActionDelete {
		h.removeFromList(id)
		h.store.Evict(id)
		if h.onDeleted != nil {
			h.onDeleted(id)
		}
	}

	h.publish(NewActionSucceededEvent(id, h.kind, correlationID))
	h.metrics.ActionTriggered(string(h.kind), metrics.OutcomeSuccess)
	log.Info("pipeline action accepted")
	return true, nil
}

func (h *ActionHook) guardAndWrite(id string) (ClientStatus, bool) {
	to, hasOptimistic := OptimisticStatus(h.kind)
	if !hasOptimistic {
		// no optimistic write: keep the current value
		current := h.store.Get(id)
		for _, s := range h.rule.sources {
			if s == current {
				return current, true
			}
		}
		return current, false
	}
	return h.store.Transition(id, h.rule.sources, to)
}

func (h *ActionHook) call(ctx context.Context, id string) error {
	switch h.kind {
	case ActionStart:
		return h.api.PipelineAction(ctx, id, manager.ActionStart)
	case ActionPause:
		return h.api.PipelineAction(ctx, id, manager.ActionPause)
	case ActionShutdown:
		return h.api.PipelineAction(ctx, id, manager.ActionShutdown)
	case ActionDelete:
		return h.api.DeletePipeline(ctx, id)
	default:
		return unit.NewError(unit.ErrCodeInvalidInput, fmt.Sprintf("unknown action %q", h.kind))
	}
}

func (h *ActionHook) removeFromList(id string) {
	if h.cache == nil {
		return
	}
	h.cache.Update(ListKey(), func(old any) any {
		list, ok := old.([]manager.Pipeline)
		if !ok {
			return old
		}
		out := make([]manager.Pipeline, 0, len(list))
		for _, p := range list {
			if p.Descriptor.PipelineID != id {
				out = append(out, p)
			}
		}
		return out
	})
}

func (h *ActionHook) reject(id, reason string) {
	h.metrics.ActionTriggered(string(h.kind), metrics.OutcomeRejected)
	logger.Debug("pipeline action skipped", "pipeline_id", id, "action", string(h.kind), "reason", reason)
}

func (h *ActionHook) publish(e *Event) {
	if h.events == nil {
		return
	}
	if err := h.events.Publish(e); err != nil {
		logger.Warn("publish pipeline event", "type", e.Type(), "error", err)
	}
}

// Actions holds one hook per action kind, sharing a store and cache.
type Actions struct {
	Start    *ActionHook
	Pause    *ActionHook
	Shutdown *ActionHook
	Delete   *ActionHook
}

func NewActions(store *StatusStore, api API, c *cache.QueryCache, opts ...HookOption) *Actions {
	mk := func(kind ActionKind) *ActionHook {
		h, err := NewActionHook(kind, store, api, c, opts...)
		if err != nil {
			panic(err) // kinds below are all in the transition table
		}
		return h
	}
	return &Actions{
		Start:    mk(ActionStart),
		Pause:    mk(ActionPause),
		Shutdown: mk(ActionShutdown),
		Delete:   mk(ActionDelete),
	}
}

// Hook returns the hook for kind, or nil for an unknown kind.
func (a *Actions) Hook(kind ActionKind) *ActionHook {
	switch kind {
	case ActionStart:
		return a.Start
	case ActionPause:
		return a.Pause
	case ActionShutdown:
		return a.Shutdown
	case ActionDelete:
		return a.Delete
	default:
		return nil
	}
}

// Trigger runs kind on id. Unknown kinds are an input error.
func (a *Actions) Trigger(ctx context.Context, kind ActionKind, id string) (bool, error) {
	h := a.Hook(kind)
	if h == nil {
		return false, unit.NewError(unit.ErrCodeInvalidInput, fmt.Sprintf("unknown action %q", kind))
	}
	return h.Trigger(ctx, id)
}
