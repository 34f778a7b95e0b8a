// Package ratelimit throttles public requests with a fixed window per key.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts hits per key inside a fixed window.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

func normaliseKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "anonymous"
	}
	return key
}

// Memory is a process-local limiter for single-instance and local runs.
type Memory struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu    sync.Mutex
	store map[string]memoryEntry
}

type memoryEntry struct {
	count int
	reset time.Time
}

// NewMemory returns nil when limit or window is not positive, which disables throttling.
func NewMemory(limit int, window time.Duration, clock func() time.Time) *Memory {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &Memory{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string]memoryEntry),
	}
}

func (l *Memory) Allow(_ context.Context, key string) (Decision, error) {
	if l == nil {
		return Decision{Allowed: true}, nil
	}
	key = normaliseKey(key)
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[key]
	if !ok || !now.Before(entry.reset) {
		l.pruneExpiredLocked(now)
		l.store[key] = memoryEntry{count: 1, reset: now.Add(l.window)}
		return Decision{Allowed: true, Remaining: l.limit - 1}, nil
	}
	if entry.count >= l.limit {
		return Decision{Allowed: false, RetryAfter: entry.reset.Sub(now)}, nil
	}
	entry.count++
	l.store[key] = entry
	return Decision{Allowed: true, Remaining: l.limit - entry.count}, nil
}

func (l *Memory) pruneExpiredLocked(now time.Time) {
	for key, entry := range l.store {
		if !now.Before(entry.reset) {
			delete(l.store, key)
		}
	}
}
