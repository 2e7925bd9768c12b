package substrate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Covault-Labs/covault/core/pkg/fault"
)

// Lease grants temporary exclusive ownership of an account across
// runtime instances. Acquire returns an opaque token; only the holder of
// the token can release early, and expiry reclaims abandoned leases.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)
	Release(ctx context.Context, key, token string) error
}

// releaseScript deletes the lease only if the caller still holds it, so
// a lease that expired and was re-acquired elsewhere cannot be released
// by its former owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// RedisLease implements Lease on a shared Redis.
type RedisLease struct {
	client *redis.Client
	prefix string
}

// NewRedisLease connects to Redis for lease coordination.
func NewRedisLease(addr, password string, db int) *RedisLease {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisLease{client: rdb, prefix: "covault:lease:"}
}

func (l *RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return "", fault.Wrap(fault.KindStateConflict, fault.CodeLeaseUnavailable,
			"lease backend unreachable", err)
	}
	if !ok {
		return "", fault.Newf(fault.KindStateConflict, fault.CodeLeaseUnavailable,
			"account %s is leased to another runtime", key)
	}
	return token, nil
}

func (l *RedisLease) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, l.client, []string{l.prefix + key}, token).Err()
}

// Close shuts the Redis client down.
func (l *RedisLease) Close() error { return l.client.Close() }
