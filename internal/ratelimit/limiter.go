package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether a user may send another message now.
type Limiter interface {
	Allow(ctx context.Context, userID int64) (bool, error)
}

// MemoryLimiter is a per-process sliding window limiter.
type MemoryLimiter struct {
	mu       sync.Mutex
	history  map[int64][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time

	lastSweep time.Time
}

// NewMemoryLimiter allows limit sends per interval per user.
func NewMemoryLimiter(limit int, interval time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		history:  make(map[int64][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, userID int64) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windowStart := now.Add(-l.interval)
	if now.Sub(l.lastSweep) >= l.interval {
		l.sweep(windowStart)
		l.lastSweep = now
	}

	attempts := l.history[userID]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= l.limit {
		l.history[userID] = fresh
		return false, nil
	}
	l.history[userID] = append(fresh, now)
	return true, nil
}

// sweep forgets users with no attempt inside the current window.
func (l *MemoryLimiter) sweep(windowStart time.Time) {
	for userID, attempts := range l.history {
		if len(attempts) == 0 || !attempts[len(attempts)-1].After(windowStart) {
			delete(l.history, userID)
		}
	}
}
