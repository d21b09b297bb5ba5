package zxing

import (
	"context"
	"errors"
	"image"
	"image/color"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	qrscan "github.com/qrscan/qrscan-go"
	qrimage "github.com/qrscan/qrscan-go/image"
)

func qrImage(t *testing.T, text string, size int) image.Image {
	t.Helper()
	m, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, size, size, nil)
	if err != nil {
		t.Fatalf("encoding qr code: %v", err)
	}
	return m
}

func blankImage() image.Image {
	img := image.NewGray(image.Rect(0, 0, 320, 240))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.SetGray(10, 10, color.Gray{})
	return img
}

type fakeRecorder struct {
	events chan qrimage.Event

	mu     sync.Mutex
	closed bool
}

func (r *fakeRecorder) Events() chan qrimage.Event {
	return r.events
}

func (r *fakeRecorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *fakeRecorder) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type fakeBackend struct {
	devices  []qrimage.Device
	listErr  error
	frames   []qrimage.Event
	startErr error

	// Close the events channel after the frames, like a recorder whose
	// capture tool exited.
	closeEvents bool

	mu        sync.Mutex
	recorders []*fakeRecorder
	deviceIDs []string
}

func (b *fakeBackend) ListDevices() ([]qrimage.Device, error) {
	return b.devices, b.listErr
}

func (b *fakeBackend) NewRecorder(deviceID string, interval time.Duration) (qrimage.Recorder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deviceIDs = append(b.deviceIDs, deviceID)
	if b.startErr != nil {
		return nil, b.startErr
	}
	r := &fakeRecorder{events: make(chan qrimage.Event, len(b.frames))}
	for _, ev := range b.frames {
		r.events <- ev
	}
	if b.closeEvents {
		close(r.events)
	}
	b.recorders = append(b.recorders, r)
	return r, nil
}

func TestDecodeImage(t *testing.T) {
	e := NewEngine(nil, nil)

	text, err := e.DecodeImage(qrImage(t, "ABC123", 256))
	if err != nil {
		t.Fatalf("decoding qr image: %v", err)
	}
	if text != "ABC123" {
		t.Fatalf("decoded %q, expected %q", text, "ABC123")
	}

	if _, err := e.DecodeImage(blankImage()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for blank image, got %v", err)
	}
}

func TestDecodeImageScaled(t *testing.T) {
	e := NewEngine(nil, &EngineOpts{MaxWidth: 400, TryHarder: true})
	text, err := e.DecodeImage(qrImage(t, "https://example.com/ticket/42", 1200))
	if err != nil {
		t.Fatalf("decoding scaled qr image: %v", err)
	}
	if text != "https://example.com/ticket/42" {
		t.Fatalf("decoded %q", text)
	}
}

func TestDecodeOnce(t *testing.T) {
	b := &fakeBackend{frames: []qrimage.Event{
		{Image: blankImage()},
		{Image: qrImage(t, "ABC123", 256)},
	}}
	e := NewEngine(b, nil)
	preview := qrimage.NewPreview(t.TempDir(), false)

	text, err := e.DecodeOnce(context.Background(), "/dev/video2", preview)
	if err != nil {
		t.Fatalf("decode once: %v", err)
	}
	if text != "ABC123" {
		t.Fatalf("decoded %q, expected %q", text, "ABC123")
	}
	if preview.Frames() != 2 {
		t.Fatalf("expected 2 frames shown on preview, got %d", preview.Frames())
	}
	if !reflect.DeepEqual(b.deviceIDs, []string{"/dev/video2"}) {
		t.Fatalf("recorded from %v", b.deviceIDs)
	}
	if !b.recorders[0].isClosed() {
		t.Fatalf("recorder not closed")
	}
}

func TestDecodeOnceTimeout(t *testing.T) {
	b := &fakeBackend{frames: []qrimage.Event{{Image: blankImage()}}}
	e := NewEngine(b, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := e.DecodeOnce(ctx, "", qrimage.NewPreview("", false))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !strings.Contains(err.Error(), "last frame: no code found") {
		t.Fatalf("missing last frame error in %q", err)
	}
	if !b.recorders[0].isClosed() {
		t.Fatalf("recorder not closed")
	}
}

func TestDecodeOnceErrors(t *testing.T) {
	errStart := errors.New("device busy")
	b := &fakeBackend{startErr: errStart}
	if _, err := NewEngine(b, nil).DecodeOnce(context.Background(), "", nil); !errors.Is(err, errStart) {
		t.Fatalf("expected recorder start error, got %v", err)
	}

	errWatch := errors.New("inotify queue overflow")
	b = &fakeBackend{frames: []qrimage.Event{{Err: errWatch}}}
	if _, err := NewEngine(b, nil).DecodeOnce(context.Background(), "", nil); !errors.Is(err, errWatch) {
		t.Fatalf("expected recording error, got %v", err)
	}
}

func TestDecodeOnceRecorderStopped(t *testing.T) {
	b := &fakeBackend{frames: []qrimage.Event{{Image: blankImage()}}, closeEvents: true}

	done := make(chan error, 1)
	go func() {
		_, err := NewEngine(b, nil).DecodeOnce(context.Background(), "", nil)
		done <- err
	}()
	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "recorder stopped after 1 frames") {
			t.Fatalf("expected recorder stopped error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("decode still running after recorder stopped")
	}
}

func TestListVideoInputDevices(t *testing.T) {
	devs := []qrimage.Device{{ID: "/dev/video0", Name: "Integrated Camera"}}
	e := NewEngine(&fakeBackend{devices: devs}, nil)
	got, err := e.ListVideoInputDevices(context.Background())
	if err != nil {
		t.Fatalf("listing devices: %v", err)
	}
	if !reflect.DeepEqual(got, devs) {
		t.Fatalf("devices %v, expected %v", got, devs)
	}

	errList := errors.New("no devices found")
	e = NewEngine(&fakeBackend{listErr: errList}, nil)
	if _, err := e.ListVideoInputDevices(context.Background()); !errors.Is(err, errList) {
		t.Fatalf("expected listing error, got %v", err)
	}
}

func TestScannerWithEngine(t *testing.T) {
	b := &fakeBackend{
		devices: []qrimage.Device{{ID: "/dev/video0", Name: "Integrated Camera"}},
		frames:  []qrimage.Event{{Image: qrImage(t, "ABC123", 256)}},
	}
	dir := t.TempDir()

	type result struct {
		text string
		err  error
	}
	results := make(chan result, 1)
	s := qrscan.New(dir, NewEngine(b, nil), nil)
	s.AddResultObserver(func(text string, err error) {
		results <- result{text, err}
	})
	s.SearchMediaSourceWithCallback(func(devices []qrimage.Device, err error) {
		if err != nil {
			t.Errorf("searching devices: %v", err)
			return
		}
		s.SetTargetSource(devices[0])
	})
	s.Wait()

	select {
	case r := <-results:
		if r.err != nil || r.text != "ABC123" {
			t.Fatalf("unexpected result %v", r)
		}
	default:
		t.Fatalf("no result")
	}
	if !s.Preview().Attached() || s.Preview().Frames() != 1 {
		t.Fatalf("frame not shown on attached preview")
	}
}
