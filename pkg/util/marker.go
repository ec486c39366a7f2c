package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Marker is a SetNX-with-TTL one-shot flag. The orchestrator uses it for
// the "recently scheduled incrementally" window and the once-per-day
// warmup-day advance.
type Marker struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewMarker(rdb *redis.Client, logger *zap.Logger) *Marker {
	return &Marker{rdb: rdb, logger: logger}
}

// AcquireOnce tries to set the marker for scope+subject.
// Returns true the FIRST time within ttl, false if already set.
// If Redis is unavailable it returns true: appropriate only where a missed
// marker causes at worst duplicate filtering work, never a duplicate send
// (the ledger guards that). Callers gating a write they must not repeat
// use AcquireOnceStrict instead.
func (m *Marker) AcquireOnce(ctx context.Context, scope, subject string, ttl time.Duration) bool {
	ok, err := m.AcquireOnceStrict(ctx, scope, subject, ttl)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("Redis marker check failed, treating as unset",
				zap.String("scope", scope),
				zap.String("subject", subject),
				zap.Error(err),
			)
		}
		return true
	}
	return ok
}

// AcquireOnceStrict is AcquireOnce without the fail-open default: a store
// error is returned so the caller can refuse to act at all.
func (m *Marker) AcquireOnceStrict(ctx context.Context, scope, subject string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("warmup:marker:%s:%s", scope, subject)
	return m.rdb.SetNX(ctx, key, 1, ttl).Result()
}

// IsSet reports whether the marker for scope+subject is currently set.
func (m *Marker) IsSet(ctx context.Context, scope, subject string) bool {
	key := fmt.Sprintf("warmup:marker:%s:%s", scope, subject)
	n, err := m.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false
	}
	return n > 0
}

// RotateStamp stores now as the timestamp for scope+subject and returns
// the previously stored value, or the zero time when none was set or
// Redis could not answer.
func (m *Marker) RotateStamp(ctx context.Context, scope, subject string, now time.Time) time.Time {
	key := fmt.Sprintf("warmup:marker:%s:%s", scope, subject)

	prev, err := m.rdb.GetSet(ctx, key, now.Unix()).Int64()
	if err != nil {
		if err != redis.Nil && m.logger != nil {
			m.logger.Warn("Failed to rotate marker stamp",
				zap.String("scope", scope),
				zap.String("subject", subject),
				zap.Error(err),
			)
		}
		return time.Time{}
	}
	return time.Unix(prev, 0)
}

// Clear removes the marker, re-opening the window early.
func (m *Marker) Clear(ctx context.Context, scope, subject string) {
	key := fmt.Sprintf("warmup:marker:%s:%s", scope, subject)
	if err := m.rdb.Del(ctx, key).Err(); err != nil && m.logger != nil {
		m.logger.Warn("Failed to clear marker",
			zap.String("scope", scope),
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}
