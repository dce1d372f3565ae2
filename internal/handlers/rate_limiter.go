package handlers

import (
	"context"
	"strings"
	"sync"
	"time"
)

// ReviewLimiter bounds how often one transaction can be reviewed on demand.
type ReviewLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// memoryLimiter is a per-instance fixed window, used when no shared limiter is configured.
type memoryLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]window
}

type window struct {
	count int
	reset time.Time
}

func newMemoryLimiter(limit int, period time.Duration, clock func() time.Time) *memoryLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &memoryLimiter{
		limit:   limit,
		window:  period,
		clock:   clock,
		windows: make(map[string]window),
	}
}

func (l *memoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[key]
	if !ok || now.After(current.reset) {
		l.windows[key] = window{count: 1, reset: now.Add(l.window)}
		for k, w := range l.windows {
			if now.After(w.reset) {
				delete(l.windows, k)
			}
		}
		return true, nil
	}
	if current.count >= l.limit {
		return false, nil
	}
	current.count++
	l.windows[key] = current
	return true, nil
}
