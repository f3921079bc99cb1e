package lock

import (
	"context"
	"time"
)

// Handle identifies one successful acquisition of a lock.
type Handle struct {
	Key   string
	Token string
	Lease time.Duration
}

// Locker is implemented by every lock backend.
type Locker interface {
	// TryLock attempts to obtain the lock for key without waiting. The
	// boolean is false when somebody else currently holds it.
	TryLock(ctx context.Context, key string, lease time.Duration) (Handle, bool, error)
	// Unlock releases the lock identified by h. Releasing a lock that
	// expired or changed owner is a no-op.
	Unlock(ctx context.Context, h Handle) error
}
