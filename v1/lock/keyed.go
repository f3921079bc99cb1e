package lock

import (
	"hash/maphash"
	"sync"
)

const defaultStripes = 256

// Keyed is a striped in-process mutex map. Keys hashing to the same stripe
// share a mutex, which bounds memory no matter how many keys are seen.
type Keyed struct {
	seed    maphash.Seed
	stripes []sync.Mutex
}

// NewKeyed returns a Keyed with n stripes. A non-positive n selects a
// default of 256.
func NewKeyed(n int) *Keyed {
	if n <= 0 {
		n = defaultStripes
	}
	return &Keyed{seed: maphash.MakeSeed(), stripes: make([]sync.Mutex, n)}
}

func (k *Keyed) stripe(key string) *sync.Mutex {
	h := maphash.String(k.seed, key)
	return &k.stripes[h%uint64(len(k.stripes))]
}

// Lock blocks until the stripe for key is held and returns its release func.
func (k *Keyed) Lock(key string) func() {
	m := k.stripe(key)
	m.Lock()
	return m.Unlock
}

// TryLock acquires the stripe for key only if it is free.
func (k *Keyed) TryLock(key string) (func(), bool) {
	m := k.stripe(key)
	if !m.TryLock() {
		return nil, false
	}
	return m.Unlock, true
}
