package ota

import "errors"

// Domain-specific errors for OTA updates.
var (
	// ErrUpdateFailed wraps every reason an update attempt was abandoned.
	ErrUpdateFailed = errors.New("ota: update failed")

	// ErrInvalidBank is returned for bank numbers other than 0 and 1.
	ErrInvalidBank = errors.New("ota: invalid bank")
)
