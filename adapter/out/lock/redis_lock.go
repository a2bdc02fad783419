// Package lock implements per-job leases on Redis.
package lock

import (
	"context"
	"time"

	"caseroute/core/port/out"
	"caseroute/pkg/apperr"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Renewal and release compare the stored owner value so a worker that lost
// its lease cannot extend or free a lease now held by someone else.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker hands out leases backed by SET NX with a TTL.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (out.Lease, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, apperr.ExternalError("redis", err)
	}
	if !ok {
		return nil, apperr.Conflict("lease already held: " + key)
	}
	return &redisLease{client: l.client, key: key, owner: owner, ttl: ttl}, nil
}

type redisLease struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
}

func (l *redisLease) Renew(ctx context.Context) error {
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return apperr.ExternalError("redis", err)
	}
	if n == 0 {
		return apperr.Conflict("lease lost: " + l.key)
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Int()
	if err != nil && err != redis.Nil {
		return apperr.ExternalError("redis", err)
	}
	return nil
}

var _ out.JobLocker = (*RedisLocker)(nil)
