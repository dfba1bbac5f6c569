package wifi

import "errors"

// Domain-specific errors for station management.
var (
	// ErrAssociationTimeout is reported when the link does not come up in time.
	ErrAssociationTimeout = errors.New("wifi: association timed out")

	// ErrLinkLost is reported when an associated link goes down.
	ErrLinkLost = errors.New("wifi: link lost")

	// ErrAlreadyRunning is returned by Supplicant.Start while it runs.
	ErrAlreadyRunning = errors.New("wifi: supplicant already running")
)
