package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/loopfi/loopbot/internal/domain"
)

// Orchestration passes for one owner must never overlap, even across
// deployments, so the per-owner lock lives in Redis rather than in process
// memory. Each acquisition stores a random token as the key's value, and
// release runs a compare-and-delete so a holder whose TTL already lapsed
// cannot delete a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

const lockKeyPrefix = "lock:"

// LockManager implements domain.LockManager on Redis SET NX with a TTL.
type LockManager struct {
	rdb *redis.Client
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{rdb: c.Underlying()}
}

// lease is one successful acquisition. Its release method is what Acquire
// hands back to the caller.
type lease struct {
	rdb   *redis.Client
	key   string
	token string
	once  sync.Once
}

func (l *lease) release() {
	l.once.Do(func() {
		// The caller's context may already be cancelled when the deferred
		// release runs, so the delete gets its own deadline.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
	})
}

// Acquire takes the lock for key, holding it for at most ttl. It returns an
// idempotent release function on success and domain.ErrLockHeld while
// another party holds the key.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l := &lease{rdb: lm.rdb, key: lockKeyPrefix + key, token: uuid.NewString()}

	ok, err := lm.rdb.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}
	return l.release, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
