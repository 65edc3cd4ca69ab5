package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/dre-ingest/internal/shared"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker holds the lock as a token key with a TTL, so a crashed holder
// frees it once the TTL lapses.
type RedisLocker struct {
	client redis.UniversalClient
	name   string
	ttl    time.Duration
	owner  string
}

// NewRedisLocker constructs a redis-backed locker. owner is stored for diagnostics.
func NewRedisLocker(client redis.UniversalClient, name string, ttl time.Duration, owner string) *RedisLocker {
	if name == "" {
		name = shared.IngestLockName
	}
	if ttl <= 0 {
		ttl = 45 * time.Minute
	}
	return &RedisLocker{client: client, name: name, ttl: ttl, owner: owner}
}

// Acquire sets the key only when absent.
func (l *RedisLocker) Acquire(ctx context.Context) (Lease, error) {
	key := shared.IngestLockKey(l.name)
	token := uuid.NewString()
	if l.owner != "" {
		token = l.owner + "/" + token
	}
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: redis setnx: %w", err)
	}
	if !ok {
		holder, _ := l.client.Get(ctx, key).Result()
		return nil, &AlreadyRunningError{Name: l.name, Holder: holder}
	}
	return &redisLease{client: l.client, key: key, token: token}, nil
}

type redisLease struct {
	once   sync.Once
	client redis.UniversalClient
	key    string
	token  string
	err    error
}

func (l *redisLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.err = fmt.Errorf("lock: redis release: %w", err)
		}
	})
	return l.err
}
