package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// nearCache is a process local copy of raw Redis values, including negative
// markers, held for a short ttl.
type nearCache struct {
	c   *ristretto.Cache
	ttl time.Duration
}

func newNearCache(ttl time.Duration, cfg *ristretto.Config) (*nearCache, error) {
	if cfg == nil {
		cfg = &ristretto.Config{
			NumCounters: 1e5,     // keys tracked for admission (100k).
			MaxCost:     1 << 26, // 64MB of raw values.
			BufferItems: 64,
		}
	}
	rc, err := ristretto.NewCache(cfg)
	if err != nil {
		return nil, err
	}
	return &nearCache{c: rc, ttl: ttl}, nil
}

func (n *nearCache) get(key string) (string, lookupState) {
	v, ok := n.c.Get(key)
	if !ok {
		return "", stateMissing
	}
	s, _ := v.(string)
	if s == nullMarker {
		return "", stateAbsent
	}
	return s, statePresent
}

func (n *nearCache) set(key, value string, ttl time.Duration) {
	if ttl <= 0 || ttl > n.ttl {
		ttl = n.ttl
	}
	n.c.SetWithTTL(key, value, int64(len(value))+1, ttl)
	n.c.Wait()
}

func (n *nearCache) del(key string) {
	n.c.Del(key)
	n.c.Wait()
}

func (n *nearCache) close() {
	n.c.Close()
}
