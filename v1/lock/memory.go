package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mirkobrombin/go-seckill/v1/metrics"
)

type lockState struct {
	token string
	timer *time.Timer
}

// InMemory implements Locker using local memory. It is meant for single
// process deployments and tests.
type InMemory struct {
	mu    sync.Mutex
	locks map[string]*lockState
}

// NewInMemory returns a new in-memory locker.
func NewInMemory() *InMemory {
	return &InMemory{locks: make(map[string]*lockState)}
}

// TryLock implements Locker.TryLock. A non-positive lease never expires.
func (l *InMemory) TryLock(ctx context.Context, key string, lease time.Duration) (Handle, bool, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.locks[key]; ok {
		metrics.LockContendedCounter.Inc()
		return Handle{}, false, nil
	}
	st := &lockState{token: uuid.NewString()}
	if lease > 0 {
		token := st.token
		st.timer = time.AfterFunc(lease, func() {
			l.expire(key, token)
		})
	}
	l.locks[key] = st
	return Handle{Key: key, Token: st.token, Lease: lease}, true, nil
}

func (l *InMemory) expire(key, token string) {
	l.mu.Lock()
	if st, ok := l.locks[key]; ok && st.token == token {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// Unlock implements Locker.Unlock.
func (l *InMemory) Unlock(ctx context.Context, h Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.locks[h.Key]
	if !ok || st.token != h.Token {
		return nil
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	delete(l.locks, h.Key)
	return nil
}
