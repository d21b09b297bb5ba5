package qrscan

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/qrscan/qrscan-go/image"
)

// DeviceObserver receives the outcome of a device discovery: the devices
// found, or a nil slice and the error.
type DeviceObserver func(devices []image.Device, err error)

// ResultObserver receives the outcome of a decode attempt: the decoded text,
// or an empty string and the error.
type ResultObserver func(text string, err error)

// Subscription is a registered observer. Cancel removes it.
type Subscription struct {
	id     uuid.UUID
	cancel func()
}

// ID returns the key the observer is registered under.
func (s Subscription) ID() uuid.UUID {
	return s.id
}

// Cancel unregisters the observer. It is not called for notifications that
// start after Cancel returns, including the remainder of a notification in
// progress. Cancel is idempotent.
func (s Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

type entry[T any] struct {
	id     uuid.UUID
	cb     T
	active atomic.Bool
}

// registry is an ordered set of observers keyed by unique IDs.
type registry[T any] struct {
	mu      sync.Mutex
	entries []*entry[T]
}

func (r *registry[T]) add(cb T) Subscription {
	e := &entry[T]{id: uuid.New(), cb: cb}
	e.active.Store(true)

	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()

	return Subscription{
		id:     e.id,
		cancel: func() { r.remove(e.id) },
	}
}

func (r *registry[T]) remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.id == id {
			e.active.Store(false)
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return
		}
	}
}

func (r *registry[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// each calls fn for every observer in registration order. It iterates over a
// snapshot, so observers may subscribe or cancel from within fn.
func (r *registry[T]) each(fn func(cb T)) {
	r.mu.Lock()
	snapshot := make([]*entry[T], len(r.entries))
	copy(snapshot, r.entries)
	r.mu.Unlock()

	for _, e := range snapshot {
		if e.active.Load() {
			fn(e.cb)
		}
	}
}
