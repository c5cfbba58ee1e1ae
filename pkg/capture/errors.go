package capture

import (
	"errors"
	"fmt"
)

// Usage errors. These are detected synchronously and never touch the
// endpoint; after one of them the session is exactly as it was before.
var (
	// ErrInvalidParam is returned by setters for out-of-range values.
	ErrInvalidParam = errors.New("capture: invalid parameter")
	// ErrInvalidState is returned when an operation is not legal in the
	// session's current state.
	ErrInvalidState = errors.New("capture: invalid operation for current state")
	// ErrNotAvailable is returned when a feature is not available, either
	// on this platform or in the current delivery mode.
	ErrNotAvailable = errors.New("capture: feature not available")
	// ErrFormatNotSet is returned by Start when SetFormat was never called.
	ErrFormatNotSet = errors.New("capture: capture format not set")
	// ErrTargetNotSet is returned by Start when SetTarget was never called.
	ErrTargetNotSet = errors.New("capture: target process not set")
)

// ErrNoBatch is returned by Endpoint.NextBatch when no more frame batches
// are currently pending. It ends the drain loop for the current wake-up and
// is never surfaced to the session's caller.
var ErrNoBatch = errors.New("capture: no batch available")

// DeviceError is a failure reported by the endpoint collaborator. Code holds
// the low-level (HRESULT-style) status for inspection; Op names the endpoint
// operation that failed.
type DeviceError struct {
	Op   string
	Code uint32
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("capture: device error during %s (0x%08X)", e.Op, e.Code)
}

// deviceErr wraps an endpoint failure, preserving an existing *DeviceError.
func deviceErr(op string, err error) *DeviceError {
	var de *DeviceError
	if errors.As(err, &de) {
		return de
	}
	return &DeviceError{Op: op}
}
