package gstreamer

import (
	"reflect"
	"testing"

	"github.com/qrscan/qrscan-go/image"
)

func TestParseDevices(t *testing.T) {
	const monitor = `Probing devices...


Device found:

	name  : HD Pro Webcam C920
	class : Video/Source
	caps  : video/x-raw, format=YUY2, width=1920, height=1080, pixel-aspect-ratio=1/1, framerate=5/1;
	        video/x-raw, format=YUY2, width=640, height=480, pixel-aspect-ratio=1/1, framerate=30/1;
	        image/jpeg, width=1280, height=720, pixel-aspect-ratio=1/1, framerate=30/1;
	        video/x-raw, format=YUY2, width=800, height=600, pixel-aspect-ratio=1/1, framerate=24/1;
	properties:
		udev-probed = true
		device.bus_path = pci-0000:00:14.0-usb-0:1:1.0
		device.path = /dev/video0
	gst-launch-1.0 v4l2src ! ...


Device found:

	name  : Built-in Audio Analog Stereo
	class : Audio/Source
	caps  : audio/x-raw, format={ (string)S16LE, (string)S32LE }, layout=interleaved, rate=[ 1, 384000 ], channels=[ 1, 32 ];
	properties:
		device.path = hw:0

`

	devs, err := parseDevices(monitor)
	if err != nil {
		t.Fatalf("parsing gst-device-monitor output: %v", err)
	}
	exp := []image.Device{
		{
			ID:   "/dev/video0",
			Name: "HD Pro Webcam C920",
			Caps: []image.DeviceCap{
				{Type: "video/x-raw", Width: 640, Height: 480, Framerate: 30},
				{Type: "video/x-raw", Width: 800, Height: 600, Framerate: 24},
				{Type: "video/x-raw", Width: 1920, Height: 1080, Framerate: 5},
			},
		},
	}
	if !reflect.DeepEqual(devs, exp) {
		t.Fatalf("gstreamer devices, got %v, expected %v", devs, exp)
	}
}

func TestParseDevicesNone(t *testing.T) {
	const monitor = `Probing devices...

Device found:

	name  : Built-in Audio Analog Stereo
	class : Audio/Source
	caps  : audio/x-raw, format=S16LE;
	properties:
		device.path = hw:0
`
	if _, err := parseDevices(monitor); err == nil {
		t.Fatalf("missing error for output without video sources")
	}
}
