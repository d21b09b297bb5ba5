package qrscan

import (
	"errors"
	"fmt"
)

// Errors delivered to observers. They are never returned from the Scanner
// methods themselves.
var (
	// ErrNotInitialized is reported when discovery or scanning is attempted
	// without a decode engine.
	ErrNotInitialized = errors.New("scanner not initialized")

	// ErrPreviewMissing is reported when scanning is attempted without a
	// preview surface.
	ErrPreviewMissing = errors.New("preview not found")

	// ErrPermissionDenied is reported when the host platform refuses access
	// to capture devices.
	ErrPermissionDenied = errors.New("permission to capture video denied")

	// ErrPlatformUnsupported is reported when the host platform cannot
	// enumerate or capture video at all.
	ErrPlatformUnsupported = errors.New("platform does not support video capture")
)

// DecodeError is reported to result observers when a single decode attempt of
// the engine fails, e.g. because no code was found before the timeout or the
// device could not be opened.
type DecodeError struct {
	DeviceID string // Device the attempt ran against, empty for the default device.
	Err      error
}

func (e *DecodeError) Error() string {
	if e.DeviceID == "" {
		return fmt.Sprintf("decoding: %v", e.Err)
	}
	return fmt.Sprintf("decoding from %s: %v", e.DeviceID, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
