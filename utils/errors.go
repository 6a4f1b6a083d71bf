package utils

import "github.com/cockroachdb/errors"

// These errors can occur for when acquiring or releasing locks.
var (
	ErrLockTimeout      = errors.New("could not acquire lock within the configured timeout")
	ErrDeadlockDetected = errors.New("deadlock detected")
	ErrClientClosed     = errors.New("lock client is closed")
	ErrClientStopped    = errors.New("lock client has been stopped")
	ErrLockNotHeld      = errors.New("lock is not held by this client")
	ErrManagerClosed    = errors.New("lock manager is closed")
)

// IsTransient reports whether err is a failure the transaction layer is
// expected to recover from by rolling back and retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrDeadlockDetected)
}
