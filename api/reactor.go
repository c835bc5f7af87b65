// File: api/reactor.go
//
// Platform-neutral readiness-notification interface. Implementations may
// be epoll-style or kernel-event-queue style; consumers must not depend
// on which.

package api

// EventType is a bitmask of readiness conditions delivered by a Reactor.
type EventType uint8

const (
	EventReadable EventType = 1 << iota
	EventWritable
	EventError
)

// Callback receives readiness notifications for one descriptor. Callbacks
// must not block: slow work is handed off to a worker pool.
type Callback func(fd int, events EventType)

// Reactor delivers readable/writable/error notifications for registered
// descriptors.
type Reactor interface {
	// Register adds fd with the given interest set. cb is invoked for every
	// readiness event on fd until Unregister.
	Register(fd int, interest EventType, cb Callback) error

	// ModifyInterest replaces the interest set for an already registered fd.
	ModifyInterest(fd int, interest EventType) error

	// Unregister removes fd from the watch set.
	Unregister(fd int) error

	// Close releases the reactor's own resources.
	Close() error
}
