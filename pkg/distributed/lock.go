package distributed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a redis-backed mutual exclusion primitive. When several nodes
// share one registry, periodic jobs like stale-peer eviction should run on
// a single node at a time; the others skip the round.
type Lock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

func NewLock(client *redis.Client, key string, ttl time.Duration) *Lock {
	b := make([]byte, 16)
	rand.Read(b)
	return &Lock{
		client: client,
		key:    "midimesh:locks:" + key,
		value:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// TryLock attempts to acquire the lock without blocking.
func (l *Lock) TryLock(ctx context.Context) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to try lock: %w", err)
	}
	return acquired, nil
}

// Unlock releases the lock if this instance still holds it. A lua script
// guards against deleting a lock that expired and was re-acquired elsewhere.
func (l *Lock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`
	result, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	if err != nil {
		return fmt.Errorf("failed to unlock: %w", err)
	}
	if n, ok := result.(int64); ok && n == 0 {
		return fmt.Errorf("lock %s was not held by this instance", l.key)
	}
	return nil
}

// IsLocked reports whether any instance currently holds the lock.
func (l *Lock) IsLocked(ctx context.Context) (bool, error) {
	exists, err := l.client.Exists(ctx, l.key).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
