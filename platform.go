package qrscan

import (
	"context"

	"github.com/qrscan/qrscan-go/image"
)

// Engine decodes optical codes from video devices.
type Engine interface {
	// ListVideoInputDevices returns the video sources available for
	// decoding.
	ListVideoInputDevices(ctx context.Context) ([]image.Device, error)

	// DecodeOnce records from the device with the given ID, showing frames
	// on preview, until a code is decoded or ctx is done. An empty deviceID
	// lets the engine pick a default device.
	DecodeOnce(ctx context.Context, deviceID string, preview *image.Preview) (string, error)
}

// Platform is the host's media API, which may refuse access to capture
// devices.
type Platform interface {
	// Supported returns whether video capture is possible at all.
	Supported() bool

	// RequestPermission asks for access to capture devices matching c.
	// Errors wrap ErrPermissionDenied or ErrPlatformUnsupported where they
	// apply.
	RequestPermission(ctx context.Context, c Constraints) error
}

// Facing modes for VideoConstraints.
const (
	FacingUser        = "user"        // Camera pointing at the user.
	FacingEnvironment = "environment" // Rear camera, pointing away from the user.
)

// VideoConstraints describe the preferred video source. They are hints, a
// platform without a matching camera still grants access to another one.
type VideoConstraints struct {
	FacingMode string
}

// Constraints are passed to Platform.RequestPermission.
type Constraints struct {
	Video VideoConstraints
	Audio bool
}

// ScanConstraints are requested by Scanner.SearchMediaSource: the rear camera
// if there is one, no audio.
var ScanConstraints = Constraints{
	Video: VideoConstraints{FacingMode: FacingEnvironment},
	Audio: false,
}
