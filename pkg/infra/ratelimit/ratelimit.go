// Package ratelimit implements a keyed token bucket.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

type Limiter interface {
	Allow(key string) (bool, error)
	Reset(key string)
}

type TokenBucketLimiter struct {
	rate     float64
	capacity float64
	now      func() time.Time
	mu       sync.Mutex
	buckets  map[string]*bucket
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

type Option func(*TokenBucketLimiter)

func WithClock(now func() time.Time) Option {
	return func(l *TokenBucketLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New returns a limiter refilling rate tokens per second up to capacity.
// Non-positive arguments default to 1.
func New(rate float64, capacity int64, opts ...Option) *TokenBucketLimiter {
	if rate <= 0 {
		rate = 1.0
	}
	if capacity <= 0 {
		capacity = 1
	}
	l := &TokenBucketLimiter{
		rate:     rate,
		capacity: float64(capacity),
		now:      time.Now,
		buckets:  make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *TokenBucketLimiter) Allow(key string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("key cannot be empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, exists := l.buckets[key]
	if !exists {
		l.buckets[key] = &bucket{
			tokens:     l.capacity - 1,
			lastUpdate: now,
		}
		return true, nil
	}

	elapsed := now.Sub(b.lastUpdate).Seconds()
	b.tokens = min(b.tokens+elapsed*l.rate, l.capacity)
	b.lastUpdate = now

	if b.tokens >= 1 {
		b.tokens--
		return true, nil
	}

	return false, nil
}

func (l *TokenBucketLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.buckets, key)
}

// Len returns the number of tracked keys.
func (l *TokenBucketLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
