// Package zxing implements a decode engine for QR codes, reading frames from a
// capture backend and decoding them with gozxing.
package zxing

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"time"

	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	qrimage "github.com/qrscan/qrscan-go/image"
)

// ErrNotFound is returned by DecodeImage for images without a readable code.
var ErrNotFound = errors.New("no code found")

// EngineOpts are options for the engine.
type EngineOpts struct {
	Interval  time.Duration // How often to record a frame, 250ms if zero.
	MaxWidth  int           // Frames wider than this are scaled down before decoding, 1024 if zero.
	TryHarder bool          // Spend more time per frame looking for a code.
	Verbose   bool          // Print verbose logging.
}

// Engine lists devices and decodes QR codes from their frames. It implements
// qrscan.Engine.
type Engine struct {
	backend qrimage.Backend
	opts    EngineOpts
}

// NewEngine returns an engine recording through backend.
func NewEngine(backend qrimage.Backend, opts *EngineOpts) *Engine {
	e := &Engine{backend: backend}
	if opts != nil {
		e.opts = *opts
	}
	if e.opts.Interval <= 0 {
		e.opts.Interval = 250 * time.Millisecond
	}
	if e.opts.MaxWidth <= 0 {
		e.opts.MaxWidth = 1024
	}
	return e
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.opts.Verbose {
		log.Printf(format, args...)
	}
}

// ListVideoInputDevices returns the devices of the backend. Listing runs
// external tools, ctx abandons a listing that hangs.
func (e *Engine) ListVideoInputDevices(ctx context.Context) ([]qrimage.Device, error) {
	type listing struct {
		devices []qrimage.Device
		err     error
	}
	c := make(chan listing, 1)
	go func() {
		devices, err := e.backend.ListDevices()
		c <- listing{devices, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case l := <-c:
		if l.err != nil {
			return nil, fmt.Errorf("listing devices: %w", l.err)
		}
		return l.devices, nil
	}
}

// DecodeOnce records from deviceID, or the first device if empty, showing
// each frame on preview, until a frame holds a QR code. It returns the text
// of the code. If ctx is done first, its error is returned, with the decode
// error of the last frame if any. A recorder that stops sending frames ends
// the attempt with an error.
func (e *Engine) DecodeOnce(ctx context.Context, deviceID string, preview *qrimage.Preview) (string, error) {
	recorder, err := e.backend.NewRecorder(deviceID, e.opts.Interval)
	if err != nil {
		return "", fmt.Errorf("starting recorder: %w", err)
	}
	defer recorder.Close()

	events := recorder.Events()
	frames := 0
	var lastErr error
	for {
		select {
		case <-ctx.Done():
			e.logf("giving up after %d frames: %v", frames, ctx.Err())
			if lastErr != nil {
				return "", fmt.Errorf("%w (last frame: %v)", ctx.Err(), lastErr)
			}
			return "", ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return "", fmt.Errorf("recorder stopped after %d frames", frames)
			}
			if ev.Err != nil {
				return "", fmt.Errorf("recording: %w", ev.Err)
			}
			frames++
			if preview != nil {
				if err := preview.Show(ev.Image); err != nil {
					e.logf("showing frame: %v", err)
				}
			}
			t0 := time.Now()
			text, err := e.DecodeImage(ev.Image)
			if err != nil {
				e.logf("frame %d: %v (in %v)", frames, err, time.Since(t0))
				lastErr = err
				continue
			}
			e.logf("frame %d: decoded %d bytes in %v", frames, len(text), time.Since(t0))
			return text, nil
		}
	}
}

// DecodeImage decodes a QR code from img.
func (e *Engine) DecodeImage(img image.Image) (string, error) {
	img = e.prepare(img)
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("binarizing image: %v", err)
	}
	var hints map[gozxing.DecodeHintType]interface{}
	if e.opts.TryHarder {
		hints = map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		}
	}
	result, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		// Not found, checksum and format errors all mean this frame has
		// no readable code.
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return result.GetText(), nil
}

// prepare scales img down to the maximum width and converts it to
// grayscale, the binarizer only looks at luminance.
func (e *Engine) prepare(img image.Image) image.Image {
	size := img.Bounds().Size()
	if size.X > e.opts.MaxWidth {
		t0 := time.Now()
		img = imaging.Resize(img, e.opts.MaxWidth, 0, imaging.Linear)
		e.logf("resizing image from %v to %v in %v", size, img.Bounds().Size(), time.Since(t0))
	}
	return imaging.Grayscale(img)
}
