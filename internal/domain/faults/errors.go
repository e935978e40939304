package faults

import "errors"

// Failure kinds shared by the downstream service adapters and the stores.
// Adapters wrap the underlying error with one of these so callers can match
// with errors.Is without knowing transport details.
var (
	// ErrUnreachable indicates a network/connection failure to a downstream service.
	ErrUnreachable = errors.New("downstream service unreachable")

	// ErrTimeout indicates the configured wait bound was exceeded.
	ErrTimeout = errors.New("downstream service timeout")

	// ErrInvalidResponse indicates a malformed or unexpected downstream payload.
	ErrInvalidResponse = errors.New("invalid downstream response")

	// ErrStore indicates the persistence layer rejected a write.
	ErrStore = errors.New("store failure")
)
