package lock

import (
	"context"
	stdErrors "errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	warperrors "github.com/mirkobrombin/go-seckill/v1/errors"
	"github.com/mirkobrombin/go-seckill/v1/metrics"
)

var delScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// Redis implements Locker using SET NX PX on a shared Redis.
type Redis struct {
	client redis.Cmdable
}

// NewRedis returns a new Redis locker using the provided client.
func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client}
}

// TryLock implements Locker.TryLock.
func (r *Redis) TryLock(ctx context.Context, key string, lease time.Duration) (Handle, bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, lease).Result()
	if err != nil {
		return Handle{}, false, warperrors.Translate(err)
	}
	if !ok {
		metrics.LockContendedCounter.Inc()
		return Handle{}, false, nil
	}
	return Handle{Key: key, Token: token, Lease: lease}, true, nil
}

// Unlock implements Locker.Unlock with a compare-and-delete script.
func (r *Redis) Unlock(ctx context.Context, h Handle) error {
	if h.Token == "" {
		return nil
	}
	_, err := delScript.Run(ctx, r.client, []string{h.Key}, h.Token).Result()
	if stdErrors.Is(err, redis.Nil) {
		err = nil
	}
	return warperrors.Translate(err)
}

// ForceUnlock deletes key regardless of its owner. It is only safe when no
// other process can hold the lock, e.g. administrative cleanup.
func (r *Redis) ForceUnlock(ctx context.Context, key string) error {
	return warperrors.Translate(r.client.Del(ctx, key).Err())
}
