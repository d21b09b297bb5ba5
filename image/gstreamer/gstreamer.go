// Package gstreamer implements an image recorder with the gstreamer tools.
package gstreamer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	qrscan "github.com/qrscan/qrscan-go"
	"github.com/qrscan/qrscan-go/image"
)

var errInstallHint = errors.New("executable not found, install with: sudo apt install -y gstreamer1.0-tools gstreamer1.0-plugins-good gstreamer1.0-plugins-base gstreamer1.0-plugins-base-apps")

// RecorderOpts has options for a new gstreamer recorder.
type RecorderOpts struct {
	Verbose  bool
	Interval time.Duration // How often to record an image.
	DeviceID string        // As retrieved from ListDevices. If empty, NewRecorder will use the first device returned by ListDevices.
}

// Recorder is an image recorder using gstreamer.
type Recorder struct {
	opts    RecorderOpts
	tempDir string
	cancel  context.CancelFunc
	frames  *image.FrameWatcher
}

// Check that Recorder implements interface Recorder.
var _ image.Recorder = (*Recorder)(nil)

// Events returns a channel on which Events can be received.
func (r *Recorder) Events() chan image.Event {
	return r.frames.Events()
}

// Backend lists and records devices with gstreamer.
type Backend struct {
	Verbose bool
}

var _ image.Backend = Backend{}

// ListDevices calls the package-level ListDevices.
func (b Backend) ListDevices() ([]image.Device, error) {
	return ListDevices()
}

// NewRecorder starts a gstreamer recorder for deviceID.
func (b Backend) NewRecorder(deviceID string, interval time.Duration) (image.Recorder, error) {
	return NewRecorder(RecorderOpts{Verbose: b.Verbose, Interval: interval, DeviceID: deviceID})
}

type device struct {
	ID          string
	Name        string
	DeviceClass string
	RawCaps     []string
	inCapMode   bool
}

var widthRegexp = regexp.MustCompile("width=([0-9]+)[^0-9]")
var heightRegexp = regexp.MustCompile("height=([0-9]+)[^0-9]")
var framerateRegexp = regexp.MustCompile("framerate=([0-9]+)[^0-9]")

func abs(a int) int {
	if a < 0 {
		return -a
	}
	return a
}

// ListDevices returns a list of devices that can be used for recording.
// ListDevices returns an error if no devices are available.
func ListDevices() ([]image.Device, error) {
	cmd := exec.Command("gst-device-monitor-1.0")
	buf, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("listing devices using gst-device-monitor-1.0: %v", err)
	}
	return parseDevices(string(buf))
}

// parseDevices parses gst-device-monitor-1.0 output. Only video sources with
// raw capture modes are returned, their modes ordered by closeness to 640x480.
func parseDevices(s string) ([]image.Device, error) {
	var r []device
	var d *device
	b := bufio.NewScanner(strings.NewReader(s))
	for b.Scan() {
		line := strings.TrimSpace(b.Text())
		if line == "" {
			continue
		}
		if line == "Device found:" {
			if d != nil {
				r = append(r, *d)
			}
			d = &device{}
			continue
		}
		if d == nil {
			continue
		}

		switch {
		case strings.HasPrefix(line, "name  :"):
			d.Name = strings.TrimSpace(strings.SplitN(line, ":", 2)[1])
		case strings.HasPrefix(line, "class :"):
			d.DeviceClass = strings.TrimSpace(strings.SplitN(line, ":", 2)[1])
		case strings.HasPrefix(line, "caps  :"):
			d.RawCaps = append(d.RawCaps, strings.TrimSpace(strings.SplitN(line, ":", 2)[1]))
			d.inCapMode = true
		case strings.HasPrefix(line, "properties:"):
			d.inCapMode = false
		case d.inCapMode:
			d.RawCaps = append(d.RawCaps, line)
		case strings.HasPrefix(line, "device.path ="):
			d.ID = strings.TrimSpace(strings.SplitN(line, "=", 2)[1])
		}
	}
	if err := b.Err(); err != nil {
		return nil, err
	}
	if d != nil && d.ID != "" {
		r = append(r, *d)
	}

	distance := func(a image.DeviceCap) int {
		return abs(a.Width-640)*abs(a.Height-480) + abs(a.Width-640) + abs(a.Height-480)
	}

	var devs []image.Device
	for _, d := range r {
		if d.DeviceClass != "Video/Source" {
			continue
		}
		var caps []image.DeviceCap
		for _, rc := range d.RawCaps {
			if !strings.HasPrefix(rc, "video/x-raw") {
				continue
			}
			mw := widthRegexp.FindStringSubmatch(rc)
			mh := heightRegexp.FindStringSubmatch(rc)
			mf := framerateRegexp.FindStringSubmatch(rc)
			if mw == nil || mh == nil || mf == nil {
				continue
			}
			width, werr := strconv.ParseInt(mw[1], 10, 32)
			height, herr := strconv.ParseInt(mh[1], 10, 32)
			framerate, ferr := strconv.ParseInt(mf[1], 10, 32)
			if werr != nil || herr != nil || ferr != nil {
				continue
			}
			if width != 0 && height != 0 && framerate != 0 {
				caps = append(caps, image.DeviceCap{
					Type:      "video/x-raw",
					Width:     int(width),
					Height:    int(height),
					Framerate: int(framerate),
				})
			}
		}
		if len(caps) == 0 {
			continue
		}
		sort.SliceStable(caps, func(i, j int) bool {
			return distance(caps[i]) < distance(caps[j])
		})
		devs = append(devs, image.Device{
			ID:   d.ID,
			Name: d.Name,
			Caps: caps,
		})
	}
	if len(devs) == 0 {
		return nil, fmt.Errorf("no devices found")
	}
	return devs, nil
}

// NewRecorder creates a new recorder using gstreamer. Gstreamer writes images
// to a temporary directory. These files are read and sent over the channel
// returned by Events.
//
// Callers must call Close to clean up.
func NewRecorder(opts RecorderOpts) (recorder *Recorder, rerr error) {
	r := &Recorder{}
	r.opts = opts

	devices, err := ListDevices()
	if err != nil {
		return nil, fmt.Errorf("listing devices: %v", err)
	}
	var dev image.Device
	if r.opts.DeviceID == "" {
		dev = devices[0]
		r.opts.DeviceID = dev.ID
	} else {
		for _, d := range devices {
			if d.ID == r.opts.DeviceID {
				dev = d
				break
			}
		}
		if dev.ID == "" {
			return nil, fmt.Errorf("device %q not found", r.opts.DeviceID)
		}
	}

	// Ensure cleanup in case of failure.
	defer func() {
		if rerr != nil {
			r.Close()
		}
	}()

	tempDir, err := qrscan.TempDir()
	if err != nil {
		return nil, fmt.Errorf("making temp dir: %v", err)
	}
	r.tempDir = tempDir
	if r.opts.Verbose {
		log.Printf("gstreamer recorder, writing images to tempdir %s", r.tempDir)
	}

	// Watch before starting, the first frames are usually the ones that matter.
	r.frames, err = image.WatchFrames(r.tempDir, image.WatchOpts{
		Verbose:  r.opts.Verbose,
		Interval: r.opts.Interval,
		Op:       fsnotify.Create | fsnotify.Write,
	})
	if err != nil {
		return nil, err
	}

	args := []string{
		"v4l2src",
		"device=" + r.opts.DeviceID,
		"!",
		fmt.Sprintf("video/x-raw,width=%d,height=%d", dev.Caps[0].Width, dev.Caps[0].Height),
		"!",
		"videoconvert",
		"!",
		"jpegenc",
		"!",
		"multifilesink",
		"location=" + r.tempDir + "/frame%05d.jpg",
	}

	if r.opts.Verbose {
		log.Printf("starting gstreamer as gst-launch-1.0 %s", strings.Join(args, " "))
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	cmd := exec.CommandContext(ctx, "gst-launch-1.0", args...)
	cmd.Dir = r.tempDir
	if r.opts.Verbose {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("starting gstreamer with gst-launch-1.0: %v", err)
	}
	r.frames.WatchCommand(cmd)

	return r, nil
}

// Close shuts down the recorder, stopping gstreamer and removing the temporary
// directory.
func (r *Recorder) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.frames != nil {
		r.frames.Close()
	}
	if r.tempDir != "" {
		os.RemoveAll(r.tempDir)
	}
	return nil
}
