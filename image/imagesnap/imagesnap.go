// Package imagesnap implements an image recorder with the imagesnap command
// for macOS.
package imagesnap

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

var errInstallHint = errors.New("executable not found, install with: brew install imagesnap")

// ListDevices returns all image capturing devices available to imagesnap.
// ListDevices returns an error if no devices are available.
func ListDevices() ([]image.Device, error) {
	cmd := exec.Command("imagesnap", "-l")
	buf, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("listing devices with imagesnap -l: %v", err)
	}
	return parseDevices(string(buf))
}

func parseDevices(s string) ([]image.Device, error) {
	devs := []image.Device{}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		var name string
		switch {
		case strings.HasPrefix(line, "=> "):
			// Newer format, example: "=> FaceTime HD Camera (Built-in)"
			name = line[len("=> "):]
		case strings.HasPrefix(line, "<"):
			// Older format, example: "<AVCaptureDALDevice: 0x7fa2c7852fd0 [FaceTime HD Camera (Built-in)][0x8020000005ac8514]>"
			t := strings.Split(line, "[")
			if len(t) < 2 {
				continue
			}
			name = strings.Split(t[1], "]")[0]
		default:
			continue
		}
		devs = append(devs, image.Device{Name: name, ID: name})
	}
	if len(devs) == 0 {
		return nil, fmt.Errorf("no devices available")
	}
	return devs, nil
}

// RecorderOpts has options for a new imagesnap recorder.
type RecorderOpts struct {
	Verbose  bool
	Interval time.Duration // How often to record an image.
	DeviceID string        // As returned by ListDevices. If empty, NewRecorder will use the first device returned by ListDevices.
}

// Recorder records images by starting imagesnap and configuring it to write images to temporary storage.
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

// Backend lists and records devices with imagesnap.
type Backend struct {
	Verbose bool
}

var _ image.Backend = Backend{}

// ListDevices calls the package-level ListDevices.
func (b Backend) ListDevices() ([]image.Device, error) {
	return ListDevices()
}

// NewRecorder starts an imagesnap recorder for deviceID.
func (b Backend) NewRecorder(deviceID string, interval time.Duration) (image.Recorder, error) {
	return NewRecorder(RecorderOpts{Verbose: b.Verbose, Interval: interval, DeviceID: deviceID})
}

// NewRecorder creates a new recorder by starting imagesnap, making it write
// images to a temporary directory. These images are read and sent on the
// channel returned by Events.
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
		log.Printf("imagesnap recorder, tempdir for images: %s", r.tempDir)
	}

	// imagesnap paces itself with -t, so every finished file is sent.
	r.frames, err = image.WatchFrames(r.tempDir, image.WatchOpts{
		Verbose: r.opts.Verbose,
		Op:      fsnotify.Create,
	})
	if err != nil {
		return nil, err
	}

	args := []string{
		"-d", r.opts.DeviceID,
		"-t", fmt.Sprintf("%.2f", r.opts.Interval.Seconds()),
	}

	if r.opts.Verbose {
		log.Printf("starting imagesnap with args %s", args)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	cmd := exec.CommandContext(ctx, "imagesnap", args...)
	cmd.Dir = r.tempDir
	if r.opts.Verbose {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("starting imagesnap: %v", err)
	}
	r.frames.WatchCommand(cmd)

	return r, nil
}

// Close shuts down the recorder, stopping the imagesnap process and removing
// the temporary directory.
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
