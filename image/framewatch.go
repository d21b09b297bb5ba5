package image

import (
	"errors"
	"fmt"
	"image/jpeg"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchOpts are options for WatchFrames.
type WatchOpts struct {
	Verbose bool

	// Interval is the minimum time between two images sent. Images written
	// earlier are removed without decoding. Zero sends every image.
	Interval time.Duration

	// Op selects the file events that signal a complete image. Capture
	// tools differ: some write in place, others create finished files.
	Op fsnotify.Op
}

// FrameWatcher watches a directory for JPEG images written by a capture
// tool, decodes them, removes the files, and sends them on its Events
// channel. It implements the watching half of a Recorder.
type FrameWatcher struct {
	opts    WatchOpts
	events  chan Event
	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// WatchFrames starts watching dir. Images are dropped if the previous image
// has not been read from Events yet.
//
// Callers must call Close to stop watching.
func WatchFrames(dir string, opts WatchOpts) (*FrameWatcher, error) {
	if opts.Op == 0 {
		opts.Op = fsnotify.Create | fsnotify.Write
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new file change watcher: %v", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("registering file change watcher for %s: %v", dir, err)
	}
	w := &FrameWatcher{
		opts:    opts,
		events:  make(chan Event, 1),
		watcher: watcher,
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Events returns the channel on which decoded images are sent.
func (w *FrameWatcher) Events() chan Event {
	return w.events
}

func (w *FrameWatcher) logf(format string, args ...interface{}) {
	if w.opts.Verbose {
		log.Printf(format, args...)
	}
}

func (w *FrameWatcher) run() {
	var last time.Time
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&w.opts.Op == 0 || !strings.HasSuffix(ev.Name, ".jpg") {
				continue
			}
			now := time.Now()
			if w.opts.Interval > 0 && now.Sub(last) < w.opts.Interval*9/10 {
				if err := os.Remove(ev.Name); err != nil && !os.IsNotExist(err) {
					w.logf("removing skipped image %q: %v", ev.Name, err)
				}
				continue
			}
			f, err := os.Open(ev.Name)
			if err != nil {
				// Already consumed through an earlier event for the same file.
				if !os.IsNotExist(err) {
					w.logf("open written file %q: %v", ev.Name, err)
				}
				continue
			}
			img, err := jpeg.Decode(f)
			f.Close()
			if err != nil {
				w.logf("decoding jpeg %q: %v (may be partially written)", ev.Name, err)
				continue
			}
			if err := os.Remove(ev.Name); err != nil {
				w.logf("removing image %s: %v", ev.Name, err)
			}
			select {
			case w.events <- Event{Image: img}:
				last = now
			default:
				w.logf("dropping image, decoder still busy")
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.events <- Event{Err: fmt.Errorf("watching for changes: %v", err)}:
			case <-w.done:
				return
			}
		}
	}
}

// Fail sends an event with err, blocking until it is read or the watcher is
// closed.
func (w *FrameWatcher) Fail(err error) {
	select {
	case <-w.done:
		return
	default:
	}
	select {
	case w.events <- Event{Err: err}:
	case <-w.done:
	}
}

// WatchCommand waits for the started capture tool cmd in the background. If
// it exits before Close, an error event is sent: no more images will come.
func (w *FrameWatcher) WatchCommand(cmd *exec.Cmd) {
	go func() {
		err := cmd.Wait()
		if err == nil {
			err = errors.New("exit status 0")
		}
		w.Fail(fmt.Errorf("%s exited: %v", filepath.Base(cmd.Path), err))
	}()
}

// Close stops watching. No further Events are sent.
func (w *FrameWatcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}
