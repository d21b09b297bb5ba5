package image

import (
	"image"
	"time"
)

// Recorder is a source of images, for example a webcam.
type Recorder interface {
	// Events returns a channel from which Events can be read, each containing an image.
	Events() chan Event

	// Close shuts down the recorder. No further Events will be sent.
	Close() error
}

// Event is a single image (or error) coming from a Recorder.
type Event struct {
	// If set, an error occurred.
	Err error

	// Image read from recorder. If Err is set, Image is not valid.
	Image image.Image
}

// Backend is a capture tool that can list devices and record from them.
type Backend interface {
	// ListDevices returns the devices available for recording. It returns
	// an error if no devices are available.
	ListDevices() ([]Device, error)

	// NewRecorder starts recording from the device with the given ID, one
	// image per interval. An empty deviceID selects the first listed
	// device. Callers must call Close on the recorder.
	NewRecorder(deviceID string, interval time.Duration) (Recorder, error)
}
