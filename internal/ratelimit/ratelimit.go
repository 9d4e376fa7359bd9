// Package ratelimit provides the per-tenant rate limiting consulted by
// ingestion handlers. Two backends share one contract: an in-memory token
// pool for single-process runs and tests, and a Redis sliding window for
// deployments where several services throttle the same tenants.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/fx"

	"github.com/banterhq/banter/internal/config"
)

// ErrContended reports that the limiter backend could not settle the check
// because of lock contention. Callers treat the action as rate-limited
// rather than failing it.
var ErrContended = errors.New("rate limiter contended")

// Rule is one (window, max count) budget.
type Rule struct {
	Window   time.Duration
	MaxCount int
}

func (r Rule) String() string {
	return fmt.Sprintf("%d per %s", r.MaxCount, r.Window)
}

// Limiter answers whether one more action for key fits the budget right now.
type Limiter interface {
	// Allow consumes one slot for key if the budget permits. It reports
	// false when the key is over budget; an error means the backend could
	// not decide (ErrContended for transient lock contention).
	Allow(ctx context.Context, key string) (bool, error)

	// Reset clears key's history.
	Reset(ctx context.Context, key string) error
}

// Module provides the mirror-ingestion limiter: Redis-backed when Redis is
// configured, in-memory otherwise.
var Module = fx.Module("ratelimit",
	fx.Provide(NewFromConfig),
)

// NewFromConfig builds the limiter for the configured mirror rule.
func NewFromConfig(cfg *config.Config, log *slog.Logger) Limiter {
	rule := Rule{
		Window:   cfg.Mirror.RateWindow(),
		MaxCount: cfg.Mirror.RateMaxCount,
	}
	if cfg.Redis.Enabled() {
		return NewRedisLimiter(rule, cfg.Redis, log)
	}
	log.Info("using in-memory rate limiter", slog.String("rule", rule.String()))
	return NewMemoryLimiter(rule)
}
