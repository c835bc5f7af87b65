// File: reactor/manual.go
//
// Manual is a synchronous in-process reactor substitute: tests fire
// readiness events explicitly and callbacks run on the calling goroutine,
// which makes handler behavior deterministic without sockets or polling.

package reactor

import (
	"fmt"
	"sync"

	"github.com/h1wire/h1wire/api"
)

type manualEntry struct {
	interest api.EventType
	cb       api.Callback
}

// Manual implements api.Reactor for tests.
type Manual struct {
	mu      sync.Mutex
	entries map[int]*manualEntry
}

// NewManual creates an empty manual reactor.
func NewManual() *Manual {
	return &Manual{entries: make(map[int]*manualEntry)}
}

// Register implements api.Reactor.
func (m *Manual) Register(fd int, interest api.EventType, cb api.Callback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[fd]; ok {
		return fmt.Errorf("fd %d already registered", fd)
	}
	m.entries[fd] = &manualEntry{interest: interest, cb: cb}
	return nil
}

// ModifyInterest implements api.Reactor.
func (m *Manual) ModifyInterest(fd int, interest api.EventType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[fd]
	if !ok {
		return fmt.Errorf("fd %d not registered", fd)
	}
	e.interest = interest
	return nil
}

// Unregister implements api.Reactor.
func (m *Manual) Unregister(fd int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, fd)
	return nil
}

// Close implements api.Reactor.
func (m *Manual) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[int]*manualEntry)
	return nil
}

// Interest returns the current interest set for fd.
func (m *Manual) Interest(fd int) api.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[fd]; ok {
		return e.interest
	}
	return 0
}

// Registered reports whether fd is currently registered.
func (m *Manual) Registered(fd int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[fd]
	return ok
}

// Fire delivers events to fd's callback if the interest set matches.
func (m *Manual) Fire(fd int, events api.EventType) {
	m.mu.Lock()
	e, ok := m.entries[fd]
	m.mu.Unlock()
	if !ok {
		return
	}
	if events&e.interest == 0 && events&api.EventError == 0 {
		return
	}
	e.cb(fd, events)
}
