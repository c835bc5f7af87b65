//go:build linux

// File: transport/socket_linux.go
//
// Raw-descriptor socket with non-blocking semantics. Would-block, peer
// reset, and other I/O failures are mapped onto the api error taxonomy so
// the handler never inspects errno values.

package transport

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/h1wire/h1wire/api"
)

type fdSocket struct {
	fd atomic.Int32
}

// NewSocket wraps an accepted descriptor, switching it to non-blocking
// mode.
func NewSocket(fd int) (api.Socket, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("set nonblock fd %d: %w", fd, err)
	}
	s := &fdSocket{}
	s.fd.Store(int32(fd))
	return s, nil
}

func (s *fdSocket) Read(p []byte) (int, error) {
	fd := int(s.fd.Load())
	if fd < 0 {
		return 0, api.ErrSocketClosed
	}
	for {
		n, err := unix.Read(fd, p)
		if n < 0 {
			n = 0
		}
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return n, api.ErrWouldBlock
		case unix.ECONNRESET, unix.EPIPE:
			return n, api.ErrConnectionReset
		default:
			return n, fmt.Errorf("%w: read fd %d: %v", api.ErrIO, fd, err)
		}
	}
}

func (s *fdSocket) Write(p []byte) (int, error) {
	fd := int(s.fd.Load())
	if fd < 0 {
		return 0, api.ErrSocketClosed
	}
	for {
		n, err := unix.Write(fd, p)
		if n < 0 {
			n = 0
		}
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return n, api.ErrWouldBlock
		case unix.ECONNRESET, unix.EPIPE:
			return n, api.ErrConnectionReset
		default:
			return n, fmt.Errorf("%w: write fd %d: %v", api.ErrIO, fd, err)
		}
	}
}

func (s *fdSocket) Close() error {
	fd := s.fd.Swap(-1)
	if fd < 0 {
		return nil
	}
	return unix.Close(int(fd))
}

func (s *fdSocket) Fd() int {
	return int(s.fd.Load())
}
