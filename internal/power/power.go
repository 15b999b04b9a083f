package power

import "context"

// Handle is a held wake lock. Release is idempotent.
type Handle interface {
	Release()
}

// Locker is the power management capability boundary. A lock is held for the
// lifetime of an active session and released on pause, end, and every error
// path.
type Locker interface {
	Acquire(ctx context.Context) (Handle, error)
}

type noopHandle struct{}

func (noopHandle) Release() {}

// NoopLocker satisfies Locker where the host platform needs no wake lock.
type NoopLocker struct{}

func (NoopLocker) Acquire(context.Context) (Handle, error) {
	return noopHandle{}, nil
}
