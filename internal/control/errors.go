package control

import "errors"

// Domain-specific errors for the control channel.
var (
	// ErrMalformedCommand is returned for command payloads of the wrong shape.
	ErrMalformedCommand = errors.New("control: malformed command")

	// ErrNotAttached is returned when an operation needs a live connection.
	ErrNotAttached = errors.New("control: not attached")

	// ErrInvalidTopic is returned for empty topics or reserved static topics.
	ErrInvalidTopic = errors.New("control: invalid topic")
)
