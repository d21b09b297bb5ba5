// Package ffmpeg implements an image recorder with ffmpeg, listing devices
// with v4l2-ctl.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	qrscan "github.com/qrscan/qrscan-go"
	"github.com/qrscan/qrscan-go/image"
)

var errInstallHint = errors.New("executable not found, install with: sudo apt install -y ffmpeg v4l-utils")

// RecorderOpts has options for a new ffmpeg recorder.
type RecorderOpts struct {
	Verbose  bool
	Interval time.Duration // How often to record an image.
	DeviceID string        // As retrieved from ListDevices. If empty, NewRecorder will use the first device returned by ListDevices.
}

// Recorder is an image recorder using ffmpeg.
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

// Backend lists devices with v4l2-ctl and records with ffmpeg.
type Backend struct {
	Verbose bool
}

var _ image.Backend = Backend{}

// ListDevices calls the package-level ListDevices.
func (b Backend) ListDevices() ([]image.Device, error) {
	return ListDevices()
}

// NewRecorder starts an ffmpeg recorder for deviceID.
func (b Backend) NewRecorder(deviceID string, interval time.Duration) (image.Recorder, error) {
	return NewRecorder(RecorderOpts{Verbose: b.Verbose, Interval: interval, DeviceID: deviceID})
}

// ListDevices returns a list of devices that can be used for recording.
// ListDevices returns an error if no devices are available.
func ListDevices() ([]image.Device, error) {
	cmd := exec.Command("v4l2-ctl", "--list-devices")
	buf, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("listing devices using v4l2-ctl: %v", err)
	}
	return parseDevices(string(buf))
}

// parseDevices parses "v4l2-ctl --list-devices" output: a card name followed
// by tab-indented device nodes. Broadcom ISP/codec nodes on a Raspberry Pi
// are skipped.
func parseDevices(s string) ([]image.Device, error) {
	var card string
	devices := []image.Device{}
	for _, line := range strings.Split(s, "\n") {
		if !strings.HasPrefix(line, "\t") {
			card = strings.TrimSuffix(strings.TrimSpace(line), ":")
			continue
		}
		if card == "" || strings.HasPrefix(card, "bcm2835-") {
			continue
		}

		node := strings.TrimSpace(line)
		if !strings.HasPrefix(node, "/dev/video") {
			continue
		}
		devices = append(devices, image.Device{
			Name: fmt.Sprintf("%s (%s)", card, node),
			ID:   node,
		})
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no devices available")
	}
	return devices, nil
}

// NewRecorder creates a new recorder using ffmpeg. Ffmpeg writes images to a
// temporary directory. These files are read and sent over the channel returned
// by Events.
//
// Callers must call Close to clean up.
func NewRecorder(opts RecorderOpts) (recorder *Recorder, rerr error) {
	r := &Recorder{}
	r.opts = opts
	if r.opts.Interval <= 0 {
		r.opts.Interval = 250 * time.Millisecond
	}

	if r.opts.DeviceID == "" {
		devs, err := ListDevices()
		if err != nil {
			return nil, fmt.Errorf("listing devices: %v", err)
		}
		r.opts.DeviceID = devs[0].ID
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
		log.Printf("ffmpeg recorder, writing images to tempdir %s", r.tempDir)
	}

	r.frames, err = image.WatchFrames(r.tempDir, image.WatchOpts{
		Verbose:  r.opts.Verbose,
		Interval: r.opts.Interval,
		Op:       fsnotify.Write,
	})
	if err != nil {
		return nil, err
	}

	framerate := int(time.Second / r.opts.Interval)
	if framerate < 1 {
		framerate = 1
	}
	args := []string{
		"-framerate", fmt.Sprintf("%d", framerate),
		"-video_size", "640x480",
		"-c:v", "mjpeg",
		"-i", r.opts.DeviceID,
		"-f", "image2",
		"-c:v", "copy",
		"-bsf:v", "mjpeg2jpeg",
		"-qscale:v", "2",
		"frame%d.jpg",
	}

	if r.opts.Verbose {
		log.Printf("starting ffmpeg with args %s", args)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Dir = r.tempDir
	if r.opts.Verbose {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("starting command ffmpeg: %v", err)
	}
	r.frames.WatchCommand(cmd)

	return r, nil
}

// Close shuts down the recorder, stopping ffmpeg and removing the temporary directory.
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
