package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockKeyPrefix     = "pawtrait:billing:lock:"
	lockRetryInterval = 100 * time.Millisecond
)

// redisLocker is a TenantLocker backed by Redis SET NX PX, for deployments
// running more than one process against the same tenant population. The TTL
// caps how long a crashed holder can wedge a tenant's billing operations.
type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker returns a Redis-backed TenantLocker. ttl must comfortably
// exceed the slowest provider call sequence guarded by the lock.
func NewRedisLocker(client *redis.Client, ttl time.Duration) TenantLocker {
	if client == nil {
		panic("billing: redis client is required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &redisLocker{client: client, ttl: ttl}
}

func (r *redisLocker) Lock(ctx context.Context, tenantID uuid.UUID) (func(), error) {
	key := lockKeyPrefix + tenantID.String()

	// A fresh token per acquisition: after a TTL expiry the next holder,
	// even in the same process, must not be releasable by the old one.
	token := uuid.New().String()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, errors.Join(ErrProviderUnavailable, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}

	return func() {
		// Release only our own hold: compare the stored token before
		// deleting so an expired lock reacquired by another process is not
		// released out from under it.
		const release = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
		_ = r.client.Eval(context.WithoutCancel(ctx), release, []string{key}, token).Err()
	}, nil
}
