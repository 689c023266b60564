// Package ratelimit is C2: a fixed-window counter gate shared across
// worker processes through Redis, atomically incremented via a
// server-side Lua script (spec §4.1's "single round-trip" requirement),
// with a local golang.org/x/time/rate pre-filter so a call already known
// to be over budget never makes the Redis round trip.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/pairsnap/reserve-indexer/metrics"
)

// admitScript atomically increments the window counter by weight and
// compares to capacity in one round trip, setting the TTL on first
// write so the window resets after period. Returns 1 if admitted, 0 if
// the increment pushed the counter over capacity (the excess is NOT
// rolled back, matching spec §4.1's fail-closed semantics: the caller
// that overflowed still pays for its weight).
var admitScript = redis.NewScript(`
local key = KEYS[1]
local weight = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local period_ms = tonumber(ARGV[3])
local count = redis.call("INCRBY", key, weight)
if count == weight then
  redis.call("PEXPIRE", key, period_ms)
end
if count > capacity then
  return 0
end
return 1
`)

// Limiter implements the rpc.Limiter contract: TryAdmit(key, weight).
type Limiter struct {
	rdb      *redis.Client
	capacity int
	period   time.Duration
	local    *rate.Limiter
	metrics  *metrics.RateLimiter
	log      log.Logger
	appID    string
}

// New builds a limiter for capacity admissions per period, scoped to
// appID (spec §4.1: "admission control is coarse (app-ID + call-kind)").
func New(rdb *redis.Client, appID string, capacity int, period time.Duration, m *metrics.RateLimiter) *Limiter {
	return &Limiter{
		rdb:      rdb,
		capacity: capacity,
		period:   period,
		local:    rate.NewLimiter(rate.Limit(float64(capacity)/period.Seconds()), capacity),
		metrics:  m,
		log:      log.New("component", "ratelimit"),
		appID:    appID,
	}
}

func (l *Limiter) windowKey(callKind string) string {
	return fmt.Sprintf("uniswap:ratelimit:%s:%s:%d", l.appID, callKind, time.Now().UnixMilli()/l.period.Milliseconds())
}

// TryAdmit admits or denies a request of weight w under callKind. On
// Redis errors it fails OPEN (admitted=true), a deliberate bypass to
// preserve forward progress, logged at debug per spec §4.1.
func (l *Limiter) TryAdmit(ctx context.Context, callKind string, weight int) (bool, time.Duration, error) {
	if !l.local.AllowN(time.Now(), weight) {
		if l.metrics != nil {
			l.metrics.Denied.Inc()
		}
		return false, l.period, nil
	}

	key := l.windowKey(callKind)
	res, err := admitScript.Run(ctx, l.rdb, []string{key}, weight, l.capacity, l.period.Milliseconds()).Int()
	if err != nil {
		l.log.Debug("rate limiter store error, bypassing admission", "err", err)
		if l.metrics != nil {
			l.metrics.StoreErrorBypass.Inc()
		}
		return true, 0, err
	}

	admitted := res == 1
	if l.metrics != nil {
		if admitted {
			l.metrics.Admitted.Inc()
		} else {
			l.metrics.Denied.Inc()
		}
	}
	if !admitted {
		return false, l.retryAfter(ctx, key), nil
	}
	return true, 0, nil
}

// retryAfter returns the window's remaining TTL, falling back to a full
// period if the TTL lookup itself fails.
func (l *Limiter) retryAfter(ctx context.Context, key string) time.Duration {
	ttl, err := l.rdb.PTTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		return l.period
	}
	return ttl
}
