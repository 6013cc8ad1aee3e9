package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lease taken over by another node is never released by us.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Lease is a best-effort distributed mutex backed by SET NX PX.
type Lease struct {
	rc  *RedisCache
	key string
	ttl time.Duration
}

// NewLease returns a lease on name that expires after ttl if never released.
func (rc *RedisCache) NewLease(name string, ttl time.Duration) *Lease {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Lease{rc: rc, key: "lease:" + name, ttl: ttl}
}

// TryAcquire takes the lease without blocking. When acquired is true the
// caller must invoke release once done.
func (l *Lease) TryAcquire(ctx context.Context) (release func(), acquired bool, err error) {
	if l == nil || l.rc == nil {
		return nil, false, errors.New("lease not configured")
	}
	token := uuid.NewString()
	ok, err := l.rc.cmd.SetNX(ctx, l.rc.key(l.key), token, l.ttl).Result()
	l.rc.metrics.observe("lease_acquire", err)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := l.rc.cmd.Eval(ctx, releaseScript, []string{l.rc.key(l.key)}, token).Err()
		l.rc.metrics.observe("lease_release", err)
	}
	return release, true, nil
}
