package pipeline

import (
	"slices"
	"sync"
)

// StatusChange is delivered to store subscribers after a write that
// changed an entry.
type StatusChange struct {
	PipelineID string
	From       ClientStatus
	To         ClientStatus
}

// StatusStore maps pipeline ids to client statuses. Writes are
// last-write-wins; transition legality is the caller's concern. Absent
// entries read as StatusUnknown.
type StatusStore struct {
	mu          sync.RWMutex
	entries     map[string]ClientStatus
	subscribers map[int]func(StatusChange)
	nextID      int
}

func NewStatusStore() *StatusStore {
	return &StatusStore{
		entries:     make(map[string]ClientStatus),
		subscribers: make(map[int]func(StatusChange)),
	}
}

func (s *StatusStore) Get(id string) ClientStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[id]
}

// Set overwrites the entry for id unconditionally.
func (s *StatusStore) Set(id string, status ClientStatus) {
	s.mu.Lock()
	prev := s.entries[id]
	s.entries[id] = status
	subs := s.subscribersLocked()
	s.mu.Unlock()

	if prev != status {
		notifySubscribers(subs, StatusChange{PipelineID: id, From: prev, To: status})
	}
}

// Transition writes to if the current value is one of from, as a single
// atomic step. It returns the value seen before the write.
func (s *StatusStore) Transition(id string, from []ClientStatus, to ClientStatus) (ClientStatus, bool) {
	s.mu.Lock()
	prev := s.entries[id]
	if !slices.Contains(from, prev) {
		s.mu.Unlock()
		return prev, false
	}
	s.entries[id] = to
	subs := s.subscribersLocked()
	s.mu.Unlock()

	if prev != to {
		notifySubscribers(subs, StatusChange{PipelineID: id, From: prev, To: to})
	}
	return prev, true
}

// Evict drops the entry for id.
func (s *StatusStore) Evict(id string) {
	s.mu.Lock()
	prev := s.entries[id]
	delete(s.entries, id)
	subs := s.subscribersLocked()
	s.mu.Unlock()

	if prev != StatusUnknown {
		notifySubscribers(subs, StatusChange{PipelineID: id, From: prev, To: StatusUnknown})
	}
}

// Retain evicts every entry whose id is not in keep and returns the
// evicted ids.
func (s *StatusStore) Retain(keep map[string]struct{}) []string {
	s.mu.Lock()
	var evicted []string
	var changes []StatusChange
	for id, prev := range s.entries {
		if _, ok := keep[id]; ok {
			continue
		}
		delete(s.entries, id)
		evicted = append(evicted, id)
		if prev != StatusUnknown {
			changes = append(changes, StatusChange{PipelineID: id, From: prev, To: StatusUnknown})
		}
	}
	subs := s.subscribersLocked()
	s.mu.Unlock()

	for _, c := range changes {
		notifySubscribers(subs, c)
	}
	slices.Sort(evicted)
	return evicted
}

// Snapshot returns a copy of all entries.
func (s *StatusStore) Snapshot() map[string]ClientStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]ClientStatus, len(s.entries))
	for id, st := range s.entries {
		out[id] = st
	}
	return out
}

func (s *StatusStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Subscribe registers fn for every later change. Subscribers run on the
// writer's goroutine, outside the store lock.
func (s *StatusStore) Subscribe(fn func(StatusChange)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *StatusStore) subscribersLocked() []func(StatusChange) {
	if len(s.subscribers) == 0 {
		return nil
	}
	out := make([]func(StatusChange), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		out = append(out, fn)
	}
	return out
}

func notifySubscribers(subs []func(StatusChange), c StatusChange) {
	for _, fn := range subs {
		fn(c)
	}
}
