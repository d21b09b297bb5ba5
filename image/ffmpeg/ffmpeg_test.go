package ffmpeg

import (
	"reflect"
	"testing"

	"github.com/qrscan/qrscan-go/image"
)

func TestParseDevices(t *testing.T) {
	const v4l2ctl = "bcm2835-codec-decode (platform:bcm2835-codec):\n" +
		"\t/dev/video10\n" +
		"\t/dev/video11\n" +
		"\n" +
		"HD Pro Webcam C920 (usb-0000:01:00.0-1.2):\n" +
		"\t/dev/video0\n" +
		"\t/dev/video1\n" +
		"\t/dev/media3\n" +
		"\n"

	devs, err := parseDevices(v4l2ctl)
	if err != nil {
		t.Fatalf("parsing v4l2-ctl output: %v", err)
	}
	exp := []image.Device{
		{ID: "/dev/video0", Name: "HD Pro Webcam C920 (usb-0000:01:00.0-1.2) (/dev/video0)"},
		{ID: "/dev/video1", Name: "HD Pro Webcam C920 (usb-0000:01:00.0-1.2) (/dev/video1)"},
	}
	if !reflect.DeepEqual(devs, exp) {
		t.Fatalf("v4l2-ctl devices, got %v, expected %v", devs, exp)
	}

	if _, err := parseDevices("bcm2835-isp (platform:bcm2835-isp):\n\t/dev/video13\n"); err == nil {
		t.Fatalf("missing error for output with only skipped devices")
	}
}
