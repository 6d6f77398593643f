// Package notify delivers user-facing messages. Push is fire-and-forget:
// sinks never report delivery failures to the caller.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jguan/pipeline-console/pkg/infra/logger"
	"github.com/jguan/pipeline-console/pkg/infra/ratelimit"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type Notification struct {
	Message  string    `json:"message"`
	Key      string    `json:"key"`
	Severity Severity  `json:"severity"`
	Time     time.Time `json:"time"`
}

// New builds a notification with a fresh unique key.
func New(severity Severity, message string) Notification {
	return Notification{
		Message:  message,
		Key:      NewKey(),
		Severity: severity,
		Time:     time.Now(),
	}
}

func NewKey() string {
	return uuid.New().String()
}

type Sink interface {
	Push(n Notification)
}

type SinkFunc func(n Notification)

func (f SinkFunc) Push(n Notification) { f(n) }

// Discard drops every notification.
var Discard Sink = SinkFunc(func(Notification) {})

// LogSink writes notifications to a structured logger.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(l *slog.Logger) *LogSink {
	if l == nil {
		l = logger.Default()
	}
	return &LogSink{log: l.With("component", "notify")}
}

func (s *LogSink) Push(n Notification) {
	args := []any{"key", n.Key, "severity", string(n.Severity)}
	switch n.Severity {
	case SeverityError:
		s.log.Error(n.Message, args...)
	case SeverityWarning:
		s.log.Warn(n.Message, args...)
	default:
		s.log.Info(n.Message, args...)
	}
}

// MemorySink keeps notifications until drained and forwards them to
// subscribers.
type MemorySink struct {
	mu          sync.Mutex
	items       []Notification
	subscribers map[int]func(Notification)
	nextID      int
	limit       int
}

// NewMemorySink keeps at most limit notifications; 0 means unbounded.
func NewMemorySink(limit int) *MemorySink {
	return &MemorySink{
		subscribers: make(map[int]func(Notification)),
		limit:       limit,
	}
}

func (s *MemorySink) Push(n Notification) {
	s.mu.Lock()
	s.items = append(s.items, n)
	if s.limit > 0 && len(s.items) > s.limit {
		s.items = s.items[len(s.items)-s.limit:]
	}
	subs := make([]func(Notification), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(n)
	}
}

// Subscribe registers fn for every later Push and returns its cancel func.
func (s *MemorySink) Subscribe(fn func(Notification)) func() {
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

// Items returns a copy of the kept notifications.
func (s *MemorySink) Items() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, len(s.items))
	copy(out, s.items)
	return out
}

// Drain returns the kept notifications and forgets them.
func (s *MemorySink) Drain() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.items
	s.items = nil
	return out
}

type fanout []Sink

func (f fanout) Push(n Notification) {
	for _, s := range f {
		s.Push(n)
	}
}

// Fanout pushes every notification to each sink in order.
func Fanout(sinks ...Sink) Sink {
	out := make(fanout, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Throttle drops repeats of the same message once limiter rejects them,
// so a failing poll does not flood the sink.
func Throttle(next Sink, limiter ratelimit.Limiter) Sink {
	return SinkFunc(func(n Notification) {
		allowed, err := limiter.Allow(n.Message)
		if err != nil || allowed {
			next.Push(n)
			return
		}
		logger.Debug("notification throttled", "message", n.Message)
	})
}
