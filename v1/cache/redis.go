package cache

import (
	"context"
	stdErrors "errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	warperrors "github.com/mirkobrombin/go-seckill/v1/errors"
)

// nullMarker is stored for ids the loader does not know.
const nullMarker = ""

type lookupState int

const (
	stateMissing lookupState = iota
	statePresent
	stateAbsent // negative marker
)

// redisStore is the raw string view of the shared store.
type redisStore struct {
	client redis.Cmdable
}

func (s redisStore) get(ctx context.Context, key string) (string, lookupState, error) {
	v, err := s.client.Get(ctx, key).Result()
	if stdErrors.Is(err, redis.Nil) {
		return "", stateMissing, nil
	}
	if err != nil {
		return "", stateMissing, warperrors.Translate(err)
	}
	if v == nullMarker {
		return "", stateAbsent, nil
	}
	return v, statePresent, nil
}

// set writes value with a physical ttl. A zero ttl keeps the key forever.
func (s redisStore) set(ctx context.Context, key, value string, ttl time.Duration) error {
	return warperrors.Translate(s.client.Set(ctx, key, value, ttl).Err())
}

func (s redisStore) del(ctx context.Context, key string) error {
	return warperrors.Translate(s.client.Del(ctx, key).Err())
}
