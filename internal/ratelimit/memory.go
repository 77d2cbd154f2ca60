package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	staleThreshold  = 10 * time.Minute
	cleanupInterval = time.Minute
)

type entry struct {
	lim        *rate.Limiter
	lastAccess time.Time
}

// MemoryLimiter holds a rate.Limiter per key. Keys idle for ten minutes are
// evicted by a background goroutine; Close stops it.
type MemoryLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*entry

	stopOnce sync.Once
	done     chan struct{}
	stopped  chan struct{}
}

// NewMemoryLimiter allows rps sustained requests per second per key with
// bursts of up to burst.
func NewMemoryLimiter(rps float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		entries: make(map[string]*entry),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Allow consumes one token for key.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{lim: rate.NewLimiter(m.limit, m.burst)}
		m.entries[key] = e
	}
	e.lastAccess = time.Now()
	m.mu.Unlock()
	return e.lim.Allow(), nil
}

// RetryAfter is how long a denied caller should wait for the next token.
func (m *MemoryLimiter) RetryAfter() time.Duration {
	if m.limit <= 0 {
		return time.Minute
	}
	return time.Duration(float64(time.Second) / float64(m.limit))
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() {
		close(m.done)
		<-m.stopped
	})
	return nil
}

func (m *MemoryLimiter) cleanup() {
	defer close(m.stopped)
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case now := <-ticker.C:
			m.evictBefore(now.Add(-staleThreshold))
		}
	}
}

func (m *MemoryLimiter) evictBefore(cutoff time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		if e.lastAccess.Before(cutoff) {
			delete(m.entries, key)
		}
	}
}

func (m *MemoryLimiter) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
