// Package qrscan finds cameras, shows a live preview and decodes QR codes from
// it, reporting devices, results and errors to registered observers.
//
// A Scanner delegates device access to a Platform, and device listing and
// decoding to an Engine. Its methods never block and never return errors:
// all outcomes are delivered to observers. Observers are called one at a
// time, in the order the outcomes occurred, and may call back into the
// Scanner.
package qrscan

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/qrscan/qrscan-go/image"
)

// DefaultRetryDelay is the pause between a successful decode and the next
// attempt when retrying.
const DefaultRetryDelay = 500 * time.Millisecond

// ScannerOpts are options for a new Scanner.
type ScannerOpts struct {
	// Retry starts a new decode attempt RetryDelay after each successful
	// decode, until Stop is called. Failed attempts are never retried.
	Retry      bool
	RetryDelay time.Duration // Zero means DefaultRetryDelay.

	// Timeout limits a single decode attempt. Zero waits until a code is
	// found.
	Timeout time.Duration

	// Platform negotiates device access in SearchMediaSource. If nil, no
	// permission is requested.
	Platform Platform

	Verbose bool // Print verbose logging.
}

// Scanner orchestrates device discovery, source selection and decode attempts
// against its preview. It is safe for concurrent use.
type Scanner struct {
	engine  Engine
	preview *image.Preview
	opts    ScannerOpts

	deviceObservers registry[DeviceObserver]
	resultObservers registry[ResultObserver]

	mu       sync.Mutex
	devices  []image.Device
	selected *image.Device
	stopped  bool
	gen      uint64             // Identifies the current decode attempt.
	cancel   context.CancelFunc // Of the attempt in flight, if any.
	timer    *time.Timer        // Pending retry, if any.

	// Counts goroutines in flight, pending retries and queued
	// notifications, for Wait.
	wg sync.WaitGroup

	notifyMu   sync.Mutex
	queue      []notification
	delivering bool // Whether a goroutine is calling observers.
}

// notification is an observer call waiting to be delivered.
type notification struct {
	gen     uint64 // Of the decode attempt reported, zero if not a result.
	deliver func()
}

// New returns a scanner whose preview is attached to the directory target.
// New does not fail: with an empty or missing target the preview is not
// attached, and with a nil engine every discovery and scan reports
// ErrNotInitialized.
func New(target string, engine Engine, opts *ScannerOpts) *Scanner {
	s := &Scanner{engine: engine}
	if opts != nil {
		s.opts = *opts
	}
	if s.opts.RetryDelay <= 0 {
		s.opts.RetryDelay = DefaultRetryDelay
	}
	s.preview = image.NewPreview(target, s.opts.Verbose)
	return s
}

func (s *Scanner) logf(format string, args ...interface{}) {
	if s.opts.Verbose {
		log.Printf(format, args...)
	}
}

// AddDeviceObserver registers cb for device discovery outcomes and returns s
// for chaining.
func (s *Scanner) AddDeviceObserver(cb DeviceObserver) *Scanner {
	s.SubscribeDevices(cb)
	return s
}

// AddResultObserver registers cb for decode outcomes and returns s for
// chaining.
func (s *Scanner) AddResultObserver(cb ResultObserver) *Scanner {
	s.SubscribeResults(cb)
	return s
}

// SubscribeDevices registers cb for device discovery outcomes. Observers are
// notified in registration order.
func (s *Scanner) SubscribeDevices(cb DeviceObserver) Subscription {
	if cb == nil {
		return Subscription{}
	}
	return s.deviceObservers.add(cb)
}

// SubscribeResults registers cb for decode outcomes. Observers are notified
// in registration order.
func (s *Scanner) SubscribeResults(cb ResultObserver) Subscription {
	if cb == nil {
		return Subscription{}
	}
	return s.resultObservers.add(cb)
}

func (s *Scanner) notifyDevices(devices []image.Device, err error) {
	s.notify(0, func() {
		s.deviceObservers.each(func(cb DeviceObserver) {
			cb(copyDevices(devices), err)
		})
	})
}

// notifyResult reports the outcome of attempt gen, or a failure to start an
// attempt if gen is zero.
func (s *Scanner) notifyResult(gen uint64, text string, err error) {
	s.notify(gen, func() {
		s.resultObservers.each(func(cb ResultObserver) {
			cb(text, err)
		})
	})
}

// notify queues a notification. Unless another goroutine is already
// delivering, the caller delivers the queue until it is empty, so observers
// never run concurrently. Results of attempts that were superseded or
// stopped while queued are dropped.
func (s *Scanner) notify(gen uint64, deliver func()) {
	s.wg.Add(1)
	s.notifyMu.Lock()
	s.queue = append(s.queue, notification{gen, deliver})
	if s.delivering {
		s.notifyMu.Unlock()
		return
	}
	s.delivering = true
	for len(s.queue) > 0 {
		n := s.queue[0]
		s.queue[0] = notification{}
		s.queue = s.queue[1:]
		s.notifyMu.Unlock()

		if n.gen == 0 || s.isCurrent(n.gen) {
			n.deliver()
		} else {
			s.logf("dropping result of decode attempt %d, superseded or stopped", n.gen)
		}
		s.wg.Done()

		s.notifyMu.Lock()
	}
	s.delivering = false
	s.notifyMu.Unlock()
}

func copyDevices(devices []image.Device) []image.Device {
	if devices == nil {
		return nil
	}
	r := make([]image.Device, len(devices))
	copy(r, devices)
	return r
}

// SearchMediaSource requests capture permission and lists the available
// video sources. Device observers receive the new list, which replaces the
// previous one. A failed permission request is reported separately and does
// not stop the listing.
func (s *Scanner) SearchMediaSource() {
	s.requestPermission()

	if s.engine == nil {
		s.notifyDevices(nil, ErrNotInitialized)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		devices, err := s.engine.ListVideoInputDevices(context.Background())
		if err != nil {
			s.logf("listing video input devices: %v", err)
			s.notifyDevices(nil, err)
			return
		}
		devices = copyDevices(devices)
		s.mu.Lock()
		s.devices = devices
		s.mu.Unlock()
		s.logf("found %d video input devices", len(devices))
		s.notifyDevices(devices, nil)
	}()
}

// SearchMediaSourceWithCallback registers cb as device observer, then calls
// SearchMediaSource.
func (s *Scanner) SearchMediaSourceWithCallback(cb DeviceObserver) {
	s.AddDeviceObserver(cb)
	s.SearchMediaSource()
}

func (s *Scanner) requestPermission() {
	p := s.opts.Platform
	if p == nil {
		return
	}
	if !p.Supported() {
		s.notifyDevices(nil, ErrPlatformUnsupported)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := p.RequestPermission(context.Background(), ScanConstraints); err != nil {
			s.logf("requesting capture permission: %v", err)
			s.notifyDevices(nil, err)
		}
	}()
}

// SetTargetSource selects device for the following decode attempts and
// starts one right away.
func (s *Scanner) SetTargetSource(device image.Device) {
	d := device
	d.Caps = append([]image.DeviceCap(nil), device.Caps...)
	s.mu.Lock()
	s.selected = &d
	s.mu.Unlock()
	s.Start()
}

// SelectedSource returns the device set with SetTargetSource. The boolean is
// false if none was set and the engine picks the device.
func (s *Scanner) SelectedSource() (image.Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return image.Device{}, false
	}
	return *s.selected, true
}

// AvailableMediaSource returns the devices found by the last successful
// SearchMediaSource.
func (s *Scanner) AvailableMediaSource() []image.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyDevices(s.devices)
}

// Preview returns the surface decode attempts run against.
func (s *Scanner) Preview() *image.Preview {
	return s.preview
}

// Start begins a decode attempt against the selected source. Result
// observers receive the decoded text or the error. With ScannerOpts.Retry,
// every successful attempt is followed by a new one after the retry delay.
//
// An attempt still in flight is cancelled and not reported: the latest Start
// wins. Start after Stop resumes scanning.
func (s *Scanner) Start() {
	s.mu.Lock()
	s.stopped = false
	s.mu.Unlock()
	s.start(0)
}

// start begins an attempt. For a retry, retryOf is the generation of the
// successful attempt, and nothing happens if scanning was stopped or
// restarted since.
func (s *Scanner) start(retryOf uint64) {
	if s.preview == nil {
		s.notifyResult(0, "", ErrPreviewMissing)
		return
	}
	if s.engine == nil {
		s.notifyResult(0, "", ErrNotInitialized)
		return
	}

	s.mu.Lock()
	if retryOf != 0 && !s.current(retryOf) {
		s.mu.Unlock()
		return
	}
	s.abortLocked()
	s.gen++
	gen := s.gen
	var ctx context.Context
	var cancel context.CancelFunc
	if s.opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), s.opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	s.cancel = cancel
	var deviceID string
	if s.selected != nil {
		deviceID = s.selected.ID
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.attempt(ctx, cancel, gen, deviceID)
}

// abortLocked cancels the attempt in flight and the pending retry.
func (s *Scanner) abortLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.timer != nil {
		if s.timer.Stop() {
			s.wg.Done()
		}
		s.timer = nil
	}
}

func (s *Scanner) current(gen uint64) bool {
	return gen == s.gen && !s.stopped
}

func (s *Scanner) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current(gen)
}

func (s *Scanner) attempt(ctx context.Context, cancel context.CancelFunc, gen uint64, deviceID string) {
	defer s.wg.Done()
	defer cancel()

	s.logf("decode attempt %d on device %q", gen, deviceID)
	text, err := s.engine.DecodeOnce(ctx, deviceID, s.preview)

	s.mu.Lock()
	ok := s.current(gen)
	if ok {
		s.cancel = nil
	}
	s.mu.Unlock()
	if !ok {
		s.logf("decode attempt %d superseded or stopped", gen)
		return
	}

	if err != nil {
		s.notifyResult(gen, "", &DecodeError{DeviceID: deviceID, Err: err})
		return
	}
	s.notifyResult(gen, text, nil)

	if !s.opts.Retry {
		return
	}
	// Observers may have stopped or restarted scanning.
	s.mu.Lock()
	if s.current(gen) {
		s.wg.Add(1)
		s.timer = time.AfterFunc(s.opts.RetryDelay, func() { s.retry(gen) })
	}
	s.mu.Unlock()
}

func (s *Scanner) retry(gen uint64) {
	defer s.wg.Done()
	s.mu.Lock()
	ok := s.current(gen)
	if ok {
		s.timer = nil
	}
	s.mu.Unlock()
	if ok {
		s.start(gen)
	}
}

// Stop cancels the decode attempt in flight and any scheduled retry. The
// cancelled attempt is not reported.
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.abortLocked()
}

// Wait blocks until no discovery or decode attempt is in flight, no retry
// is scheduled and all outcomes have been delivered. Wait must not be called
// from an observer.
func (s *Scanner) Wait() {
	s.wg.Wait()
}
