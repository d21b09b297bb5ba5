// Package media implements the host platform side of capturing: checking
// that video devices exist and that this process may open them.
package media

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	qrscan "github.com/qrscan/qrscan-go"
)

// DefaultDeviceGlob matches the V4L2 capture device nodes on Linux.
const DefaultDeviceGlob = "/dev/video*"

// Host is the local machine as capture platform. On Linux, access is checked
// by opening the device nodes. On macOS, where device access is granted per
// application by the OS, the presence of imagesnap is checked instead.
type Host struct {
	DeviceGlob string // Device nodes to check, DefaultDeviceGlob if empty.
	Verbose    bool
}

var _ qrscan.Platform = (*Host)(nil)

func (h *Host) glob() string {
	if h.DeviceGlob == "" {
		return DefaultDeviceGlob
	}
	return h.DeviceGlob
}

func (h *Host) darwin() bool {
	return runtime.GOOS == "darwin" && h.DeviceGlob == ""
}

// Supported returns whether any capture device is present.
func (h *Host) Supported() bool {
	if h.darwin() {
		_, err := exec.LookPath("imagesnap")
		return err == nil
	}
	nodes, err := filepath.Glob(h.glob())
	return err == nil && len(nodes) > 0
}

// RequestPermission checks that at least one capture device can be opened.
// The facing mode cannot be determined from device nodes and is only a
// hint. Audio capture is not offered.
func (h *Host) RequestPermission(ctx context.Context, c qrscan.Constraints) error {
	if c.Audio {
		return fmt.Errorf("audio capture requested: %w", qrscan.ErrPlatformUnsupported)
	}
	if h.darwin() {
		if _, err := exec.LookPath("imagesnap"); err != nil {
			return fmt.Errorf("looking for imagesnap: %w", qrscan.ErrPlatformUnsupported)
		}
		return nil
	}

	nodes, err := filepath.Glob(h.glob())
	if err != nil {
		return fmt.Errorf("listing device nodes %q: %v", h.glob(), err)
	}
	if len(nodes) == 0 {
		return fmt.Errorf("no device nodes matching %q: %w", h.glob(), qrscan.ErrPlatformUnsupported)
	}
	if h.Verbose && c.Video.FacingMode != "" {
		log.Printf("facing mode %q requested, device nodes do not tell, trying all", c.Video.FacingMode)
	}

	var lastErr error
	denied := 0
	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := os.Open(node)
		if err == nil {
			f.Close()
			if h.Verbose {
				log.Printf("capture device %s accessible", node)
			}
			return nil
		}
		if errors.Is(err, os.ErrPermission) {
			denied++
		}
		lastErr = err
	}
	if denied == len(nodes) {
		return fmt.Errorf("%w: %v (add the user to the video group)", qrscan.ErrPermissionDenied, lastErr)
	}
	return fmt.Errorf("opening capture devices: %v", lastErr)
}
