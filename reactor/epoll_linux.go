//go:build linux

// File: reactor/epoll_linux.go
//
// Linux epoll(7) reactor. Level-triggered: a descriptor with unread input
// or writable space keeps firing until the handler drains it, which is
// what the buffered read/write loops expect.

package reactor

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/h1wire/h1wire/api"
)

// Epoll implements api.Reactor on Linux.
type Epoll struct {
	epfd      int
	callbacks sync.Map // map[int]api.Callback
	closed    atomic.Bool
}

// New creates the platform reactor.
func New() (api.Reactor, error) {
	return newEpoll()
}

func newEpoll() (*Epoll, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Epoll{epfd: epfd}, nil
}

// Register adds fd to the epoll watch set.
func (r *Epoll) Register(fd int, interest api.EventType, cb api.Callback) error {
	ev := unix.EpollEvent{Events: epollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}
	r.callbacks.Store(fd, cb)
	return nil
}

// ModifyInterest replaces the interest set for fd.
func (r *Epoll) ModifyInterest(fd int, interest api.EventType) error {
	ev := unix.EpollEvent{Events: epollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl mod fd %d: %w", fd, err)
	}
	return nil
}

// Unregister removes fd from the watch set.
func (r *Epoll) Unregister(fd int) error {
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	r.callbacks.Delete(fd)
	if err != nil {
		return fmt.Errorf("epoll_ctl del fd %d: %w", fd, err)
	}
	return nil
}

// Poll waits up to timeoutMs for events and delivers them to the
// registered callbacks. timeoutMs < 0 blocks indefinitely.
func (r *Epoll) Poll(timeoutMs int) (int, error) {
	const maxEvents = 128
	var events [maxEvents]unix.EpollEvent

	n, err := unix.EpollWait(r.epfd, events[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll_wait: %w", err)
	}

	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		val, ok := r.callbacks.Load(fd)
		if !ok {
			continue
		}
		cb := val.(api.Callback)

		var evType api.EventType
		raw := events[i].Events
		if raw&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLPRI) != 0 {
			evType |= api.EventReadable
		}
		if raw&unix.EPOLLOUT != 0 {
			evType |= api.EventWritable
		}
		if raw&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			evType |= api.EventError
		}

		// A panicking callback must not take down the poll loop.
		func() {
			defer func() { _ = recover() }()
			cb(fd, evType)
		}()
	}
	return n, nil
}

// Run polls until stop is closed or the reactor is closed.
func (r *Epoll) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if r.closed.Load() {
			return
		}
		if _, err := r.Poll(100); err != nil {
			return
		}
	}
}

// Close releases the epoll descriptor.
func (r *Epoll) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(r.epfd)
}

func epollEvents(interest api.EventType) uint32 {
	var ev uint32
	if interest&api.EventReadable != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest&api.EventWritable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}
