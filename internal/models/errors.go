package models

import "errors"

// Error kinds shared across components. Wrap them with fmt.Errorf("...: %w")
// and test with errors.Is.
var (
	// ErrInvariantViolation is a programmer error such as negative seconds or a
	// malformed window key.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrStorageTransient is a ledger read/write failure worth retrying.
	ErrStorageTransient = errors.New("storage transient failure")
	// ErrStoragePermanent is a schema problem detected at boot.
	ErrStoragePermanent = errors.New("storage permanent failure")
	// ErrSinkFailure means the reward sink rejected an award.
	ErrSinkFailure = errors.New("reward sink failure")
	// ErrAdapterDisconnect means the gateway is unavailable.
	ErrAdapterDisconnect = errors.New("gateway adapter disconnected")
)
