package completion

import "errors"

// Sentinel errors for completion operations.
var (
	// ErrTransport means a request produced no usable payload after all retries.
	ErrTransport = errors.New("transport failure")
	// ErrProtocol means the service answered without the expected fields.
	ErrProtocol = errors.New("protocol error")
)
