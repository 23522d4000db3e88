//go:build !nogpu

package native

import "errors"

// Package errors for the HAL backend.
var (
	// ErrNoGPU is returned when no GPU adapter is available.
	ErrNoGPU = errors.New("native: no GPU adapter available")

	// ErrBackendUnavailable is returned when the requested HAL backend is
	// not compiled in.
	ErrBackendUnavailable = errors.New("native: HAL backend not available")

	// ErrNotHALProvider is returned by FromProvider when the provider does
	// not expose HAL device and queue objects.
	ErrNotHALProvider = errors.New("native: provider does not expose HAL types")

	// ErrDestroyed is returned for operations on a destroyed device.
	ErrDestroyed = errors.New("native: device destroyed")

	// ErrUnknownHandle is returned when a handle does not name a live
	// resource of the expected kind.
	ErrUnknownHandle = errors.New("native: unknown handle")

	// ErrInvalidDimensions is returned when a texture description is unusable.
	ErrInvalidDimensions = errors.New("native: invalid dimensions")

	// ErrBindingCollision is returned when two uniforms of one set expand to
	// the same HAL binding slot.
	ErrBindingCollision = errors.New("native: binding collision")

	// ErrNothingToSubmit is returned by Submit when no list has been ended.
	ErrNothingToSubmit = errors.New("native: nothing to submit")

	// ErrFenceTimeout is returned when submitted work does not complete in time.
	ErrFenceTimeout = errors.New("native: fence wait timed out")

	// ErrListEnded is returned when a compute list is ended twice.
	ErrListEnded = errors.New("native: compute list already ended")
)
