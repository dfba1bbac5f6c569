package arbiter

import "errors"

// Domain-specific errors for pin arbitration.
var (
	// ErrInvalidPin is returned for a GPIO number outside the pin map.
	// The claim table is never touched in that case.
	ErrInvalidPin = errors.New("arbiter: invalid pin")

	// ErrResourceConflict is returned when claiming a pin that is already
	// claimed or releasing one that is not.
	ErrResourceConflict = errors.New("arbiter: resource conflict")
)
