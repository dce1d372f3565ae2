package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	goRedis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only when it still holds our token.
var releaseScript = goRedis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker provides best-effort mutual exclusion across instances using SET NX PX.
type Locker struct {
	client goRedis.Scripter
	setNX  func(ctx context.Context, key string, value any, ttl time.Duration) *goRedis.BoolCmd
}

// NewLocker constructs a Locker.
func NewLocker(client *goRedis.Client) *Locker {
	return &Locker{client: client, setNX: client.SetNX}
}

// Acquire tries to take the lock named key for ttl. When acquired is false another holder
// owns it. The returned release func is a no-op when the lock was not acquired.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error) {
	token := uuid.NewString()
	lockKey := namespaced("lock", key)
	ok, err := l.setNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return func(context.Context) error { return nil }, false, err
	}
	if !ok {
		return func(context.Context) error { return nil }, false, nil
	}
	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{lockKey}, token).Err()
	}, true, nil
}
