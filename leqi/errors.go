package leqi

import "errors"

var (
	// ErrStartRejected is returned when the controller doesn't structurally
	// acknowledge the start command.
	ErrStartRejected = errors.New("leqi: start command rejected")
	// ErrChunkRejected is returned when one or more data chunks got no
	// response, a malformed response, or a non-0x01 status byte.
	ErrChunkRejected = errors.New("leqi: one or more chunks rejected")
	// ErrEndFailed is returned when the end command gets no valid response
	// within its retry budget.
	ErrEndFailed = errors.New("leqi: end command failed")
	// ErrConnectionFailed is returned by TestConnection when the start
	// probe isn't acknowledged.
	ErrConnectionFailed = errors.New("leqi: connection test failed, check wiring and port")
	// ErrCancelled is returned when the caller's context is done.
	ErrCancelled = errors.New("leqi: cancelled")
)
