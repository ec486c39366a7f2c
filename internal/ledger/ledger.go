package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailwarm/internal/model"
	"mailwarm/pkg/metrics"
)

// ErrStoreUnavailable signals that Redis could not answer. Capacity queries
// fail closed on it: a warmup account is never allowed to risk exceeding
// its cap just because the ledger store is down.
var ErrStoreUnavailable = errors.New("ledger store unavailable")

const counterTTL = 24 * time.Hour

// Decrement with an atomic zero floor. INCRBY on the deficit keeps the
// key's TTL, which a plain SET would reset.
var reverseScript = redis.NewScript(`
local v = redis.call('DECRBY', KEYS[1], ARGV[1])
if v < 0 then
  redis.call('INCRBY', KEYS[1], -v)
  v = 0
end
return v
`)

// CapResolver returns the daily cap for an account in a given role.
// The warmup cap derives from the account's progression fields; the pool
// cap is statically configured.
type CapResolver func(ctx context.Context, email string, role model.Role) (int, error)

// Summary answers a daily capacity question for one account.
type Summary struct {
	SentToday   int
	Cap         int
	Remaining   int
	CanSendMore bool
}

// Ledger tracks per-(account, day) send counts in Redis. Counters expire
// after a day, so no midnight rollover job exists.
type Ledger struct {
	rdb        *redis.Client
	resolveCap CapResolver
	logger     *zap.Logger
}

func New(rdb *redis.Client, resolveCap CapResolver, logger *zap.Logger) *Ledger {
	return &Ledger{rdb: rdb, resolveCap: resolveCap, logger: logger}
}

func counterKey(email string, role model.Role, now time.Time) string {
	return fmt.Sprintf("warmup:vol:%s:%s:%s", role, email, now.UTC().Format("2006-01-02"))
}

func (l *Ledger) sentToday(ctx context.Context, email string, role model.Role) (int, error) {
	n, err := l.rdb.Get(ctx, counterKey(email, role, time.Now())).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// DailySummary reports today's count, cap and remaining headroom.
func (l *Ledger) DailySummary(ctx context.Context, email string, role model.Role) (*Summary, error) {
	limit, err := l.resolveCap(ctx, email, role)
	if err != nil {
		return nil, err
	}

	sent, err := l.sentToday(ctx, email, role)
	if err != nil {
		return nil, err
	}

	remaining := limit - sent
	if remaining < 0 {
		remaining = 0
	}

	return &Summary{
		SentToday:   sent,
		Cap:         limit,
		Remaining:   remaining,
		CanSendMore: sent < limit,
	}, nil
}

// CanSend reports whether the account has headroom today. Errors fail
// closed.
func (l *Ledger) CanSend(ctx context.Context, email string, role model.Role) bool {
	s, err := l.DailySummary(ctx, email, role)
	if err != nil {
		l.logger.Warn("Ledger capacity query failed, failing closed",
			zap.String("email", email),
			zap.String("role", string(role)),
			zap.Error(err),
		)
		return false
	}
	return s.CanSendMore
}

// MaxSchedulable returns cap minus today's count, clamped at zero. Errors
// fail closed (zero).
func (l *Ledger) MaxSchedulable(ctx context.Context, email string, role model.Role) int {
	s, err := l.DailySummary(ctx, email, role)
	if err != nil {
		l.logger.Warn("Ledger headroom query failed, failing closed",
			zap.String("email", email),
			zap.String("role", string(role)),
			zap.Error(err),
		)
		return 0
	}
	return s.Remaining
}

// IncrementSent atomically adds n to today's counter and returns the new
// count. Callers re-check capacity immediately before calling; going past
// the cap here is a caller bug and is logged as an invariant violation,
// never clamped away.
func (l *Ledger) IncrementSent(ctx context.Context, email string, role model.Role, n int) (int, error) {
	key := counterKey(email, role, time.Now())

	count, err := l.rdb.IncrBy(ctx, key, int64(n)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if count == int64(n) {
		l.rdb.Expire(ctx, key, counterTTL)
	}

	if limit, capErr := l.resolveCap(ctx, email, role); capErr == nil && int(count) > limit {
		metrics.LedgerCapViolations.Inc()
		l.logger.Error("Daily counter exceeded cap",
			zap.String("email", email),
			zap.String("role", string(role)),
			zap.Int64("count", count),
			zap.Int("cap", limit),
		)
	}

	return int(count), nil
}

// Reverse atomically subtracts n, floored at zero. Used when a reserved
// send never reached the dispatch queue.
func (l *Ledger) Reverse(ctx context.Context, email string, role model.Role, n int) error {
	key := counterKey(email, role, time.Now())

	if err := reverseScript.Run(ctx, l.rdb, []string{key}, n).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Reserve atomically claims one unit of today's capacity. Of two racing
// reservations for the last unit, exactly one wins; the loser's increment
// is rolled back and false is returned.
func (l *Ledger) Reserve(ctx context.Context, email string, role model.Role) (bool, error) {
	limit, err := l.resolveCap(ctx, email, role)
	if err != nil {
		return false, err
	}

	key := counterKey(email, role, time.Now())
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if count == 1 {
		l.rdb.Expire(ctx, key, counterTTL)
	}

	if int(count) > limit {
		if err := l.rdb.Decr(ctx, key).Err(); err != nil {
			l.logger.Error("Failed to roll back over-cap reservation",
				zap.String("email", email),
				zap.String("role", string(role)),
				zap.Error(err),
			)
		}
		return false, nil
	}
	return true, nil
}
