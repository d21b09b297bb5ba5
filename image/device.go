package image

import (
	"fmt"
	"strings"
)

// DeviceCap describes a capture mode of a device.
type DeviceCap struct {
	Type      string // "video/x-raw", "image/jpeg" or "nvarguscamerasrc"
	Width     int
	Height    int
	Framerate int
}

func (c DeviceCap) String() string {
	return fmt.Sprintf("%dx%d@%dfps", c.Width, c.Height, c.Framerate)
}

// Device describes a video source as reported by a capture backend: an opaque
// ID to pass back when recording, and a human-readable name. Devices are
// values, a new listing replaces the previous one.
type Device struct {
	Name string
	ID   string
	Caps []DeviceCap
}

// String returns the device as "id: name", followed by its capture modes if
// known.
func (d Device) String() string {
	if len(d.Caps) == 0 {
		return fmt.Sprintf("%s: %s", d.ID, d.Name)
	}
	l := make([]string, len(d.Caps))
	for i, c := range d.Caps {
		l[i] = c.String()
	}
	return fmt.Sprintf("%s: %s (caps: %s)", d.ID, d.Name, strings.Join(l, " "))
}
