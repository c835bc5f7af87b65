// File: server/manager.go

package server

import (
	"sync"
	"time"

	"github.com/h1wire/h1wire/httpcore"
	"github.com/h1wire/h1wire/transport"
)

// entry pairs one connection's handler and processor. Neither side owns
// the other; the table keyed by descriptor is the ownership root.
type entry struct {
	handler *transport.ConnHandler
	proc    *httpcore.Processor
}

// Manager owns the set of live connections: created on accept, removed on
// close.
type Manager struct {
	mu    sync.Mutex
	conns map[int]entry
}

// NewManager creates an empty connection table.
func NewManager() *Manager {
	return &Manager{conns: make(map[int]entry)}
}

// Add registers a connection under its descriptor.
func (m *Manager) Add(fd int, h *transport.ConnHandler, p *httpcore.Processor) {
	m.mu.Lock()
	m.conns[fd] = entry{handler: h, proc: p}
	m.mu.Unlock()
}

// Remove drops the connection from the table.
func (m *Manager) Remove(fd int) {
	m.mu.Lock()
	delete(m.conns, fd)
	m.mu.Unlock()
}

// Len returns the number of live connections.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// ReapIdle schedules closure of connections whose keep-alive deadline has
// expired, returning how many were reaped. Close is advisory; each
// connection still drains before its descriptor is released.
func (m *Manager) ReapIdle(now time.Time) int {
	var expired []*transport.ConnHandler
	m.mu.Lock()
	for _, e := range m.conns {
		if e.proc.IdleExpired(now) {
			expired = append(expired, e.handler)
		}
	}
	m.mu.Unlock()

	for _, h := range expired {
		h.PrepareToClose()
	}
	return len(expired)
}

// CloseAll latches every live connection for close.
func (m *Manager) CloseAll() {
	var all []*transport.ConnHandler
	m.mu.Lock()
	for _, e := range m.conns {
		all = append(all, e.handler)
	}
	m.mu.Unlock()

	for _, h := range all {
		h.PrepareToClose()
	}
}
