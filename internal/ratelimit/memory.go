package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter keeps one token bucket per key behind a mutex. Burst equals
// the rule's max count and tokens refill evenly across the window, so a key
// can spend its whole budget at once and earns it back over one window.
type MemoryLimiter struct {
	rule Rule
	now  func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewMemoryLimiter returns an in-memory limiter for rule.
func NewMemoryLimiter(rule Rule) *MemoryLimiter {
	return &MemoryLimiter{
		rule:     rule,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}
}

// WithClock overrides the limiter's time source for deterministic tests.
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(l.rule.Window/time.Duration(l.rule.MaxCount)), l.rule.MaxCount)
		l.limiters[key] = limiter
	}
	return limiter.AllowN(l.now(), 1), nil
}

func (l *MemoryLimiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, key)
	return nil
}
