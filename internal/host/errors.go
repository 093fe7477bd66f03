package host

import "errors"

var (
	// ErrStopped is returned by Submit and RunOnce after Stop.
	ErrStopped = errors.New("host runtime stopped")

	// ErrProcessDeleted is returned when operating on a deleted process.
	ErrProcessDeleted = errors.New("process deleted")
)
