// Package coordinator provides the idempotency result cache and the pairwise
// wallet lock backed by Redis. Both are latency optimizations layered over the
// durable store: correctness never depends on Redis being reachable, so every
// operation degrades to a miss or a no-op when the cache is absent or failing.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	resultPrefix = "idempotency:v1:"
	lockPrefix   = "lock:wallets:v1:"
)

// ErrLockHeld indicates another operation currently holds the lock for the
// wallet pair. Callers surface this as a concurrent-request conflict and
// retry with the same idempotency key.
var ErrLockHeld = errors.New("wallet pair lock held")

// releaseScript deletes the lock only while it still carries the value the
// acquirer set, so a caller whose lock expired cannot release a later
// caller's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0
`)

// Coordinator implements the idempotency and mutual-exclusion protocol over a
// Redis client. A nil client is valid and turns every method into a miss or
// no-op.
type Coordinator struct {
	cache     *redis.Client
	resultTTL time.Duration
	lockTTL   time.Duration
	logger    *slog.Logger
}

// New builds a coordinator. resultTTL bounds how long terminal results are
// replayable from cache (the durable store remains the authority afterwards);
// lockTTL bounds how long a crashed holder can block a wallet pair.
func New(cache *redis.Client, resultTTL, lockTTL time.Duration, logger *slog.Logger) *Coordinator {
	return &Coordinator{cache: cache, resultTTL: resultTTL, lockTTL: lockTTL, logger: logger}
}

// GetResult returns the cached terminal result bytes for an idempotency key,
// or (nil, false) on a miss. Cache errors are logged and reported as misses.
func (c *Coordinator) GetResult(ctx context.Context, key string) ([]byte, bool) {
	if c.cache == nil {
		return nil, false
	}
	payload, err := c.cache.Get(ctx, resultPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("idempotency cache lookup failed", slog.String("key", key), slog.Any("error", err))
		return nil, false
	}
	return payload, true
}

// StoreResult writes a terminal result through to the cache. Best effort: a
// write failure only costs the fast path on a future retry.
func (c *Coordinator) StoreResult(ctx context.Context, key string, payload []byte) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, resultPrefix+key, payload, c.resultTTL).Err(); err != nil {
		c.logger.Warn("idempotency cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

// Lock is a held wallet-pair lock.
type Lock struct {
	key   string
	value string
	coord *Coordinator
}

// LockKey derives the mutual-exclusion key for a wallet pair. The pair is
// sorted so A→B and B→A contend on the same key; single-wallet operations pass
// the same id twice.
func LockKey(walletA, walletB string) string {
	if walletB < walletA {
		walletA, walletB = walletB, walletA
	}
	return fmt.Sprintf("%s%s:%s", lockPrefix, walletA, walletB)
}

// AcquireLock attempts a single atomic set-if-absent with the lock TTL.
// ErrLockHeld means another operation on the same pair is in flight. When the
// cache is unavailable a no-op lock is returned: mutual exclusion then rests
// entirely on the store's Phase 2 isolation, degrading throughput, not
// correctness.
func (c *Coordinator) AcquireLock(ctx context.Context, walletA, walletB string) (*Lock, error) {
	if c.cache == nil {
		return &Lock{coord: c}, nil
	}

	key := LockKey(walletA, walletB)
	value := uuid.NewString()

	ok, err := c.cache.SetNX(ctx, key, value, c.lockTTL).Result()
	if err != nil {
		c.logger.Warn("lock acquisition failed, proceeding unlocked", slog.String("key", key), slog.Any("error", err))
		return &Lock{coord: c}, nil
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{key: key, value: value, coord: c}, nil
}

// Release drops the lock via check-and-delete. Safe to call on a no-op lock.
func (l *Lock) Release(ctx context.Context) {
	if l == nil || l.key == "" || l.coord == nil || l.coord.cache == nil {
		return
	}
	if err := releaseScript.Run(ctx, l.coord.cache, []string{l.key}, l.value).Err(); err != nil && err != redis.Nil {
		l.coord.logger.Warn("lock release failed", slog.String("key", l.key), slog.Any("error", err))
	}
}
