package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/banterhq/banter/internal/config"
	"github.com/banterhq/banter/pkg/logger"
)

// maxTxRetries bounds how often a WATCHed check-then-add is replayed before
// the attempt gives up with ErrContended.
const maxTxRetries = 3

// RedisLimiter is a sliding-window limiter over a per-key sorted set of
// action timestamps. The count-then-add step runs under WATCH so concurrent
// writers for the same key cannot both squeeze into the last slot.
type RedisLimiter struct {
	rule   Rule
	client *redis.Client
	log    *slog.Logger
	now    func() time.Time
}

// NewRedisLimiter returns a Redis-backed limiter for rule.
func NewRedisLimiter(rule Rule, cfg config.RedisConfig, log *slog.Logger) *RedisLimiter {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisLimiter{
		rule:   rule,
		client: client,
		log:    log.With(logger.Scope("ratelimit.redis")),
		now:    time.Now,
	}
}

func (l *RedisLimiter) key(key string) string {
	return "ratelimit:" + key
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	rkey := l.key(key)
	var allowed bool

	txf := func(tx *redis.Tx) error {
		now := l.now()
		cutoff := now.Add(-l.rule.Window)

		count, err := tx.ZCount(ctx, rkey, fmt.Sprintf("%d", cutoff.UnixNano()), "+inf").Result()
		if err != nil {
			return err
		}
		if count >= int64(l.rule.MaxCount) {
			allowed = false
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZAdd(ctx, rkey, redis.Z{
				Score:  float64(now.UnixNano()),
				Member: uuid.NewString(),
			})
			pipe.ZRemRangeByScore(ctx, rkey, "0", fmt.Sprintf("%d", cutoff.UnixNano()))
			pipe.Expire(ctx, rkey, l.rule.Window)
			return nil
		})
		if err == nil {
			allowed = true
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := l.client.Watch(ctx, txf, rkey)
		if err == nil {
			return allowed, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			// Another writer touched the key mid-transaction; replay.
			continue
		}
		return false, fmt.Errorf("rate limit check for %s: %w", key, err)
	}

	l.log.Warn("rate limit transaction kept failing", slog.String("key", key))
	return false, ErrContended
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, l.key(key)).Err()
}
