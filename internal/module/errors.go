package module

import "errors"

// Domain-specific errors for module activation.
var (
	// ErrUnknownModule is returned by Register for an ID outside the module table.
	ErrUnknownModule = errors.New("module: unknown module")

	// ErrStartFailed wraps the reason a single module could not be started.
	ErrStartFailed = errors.New("module: start failed")
)
