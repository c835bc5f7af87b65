//go:build linux

// File: server/listener_linux.go
//
// Non-blocking TCP listen socket built directly on the socket syscalls so
// accepted descriptors enter the reactor without a net.Conn detour.

package server

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/h1wire/h1wire/api"
)

type listener struct {
	fd int
}

func newListener(addr string) (*listener, error) {
	sa, family, err := resolveSockaddr(addr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &listener{fd: fd}, nil
}

// accept returns the next pending connection as a non-blocking descriptor,
// or api.ErrWouldBlock when the backlog is empty.
func (l *listener) accept() (int, error) {
	nfd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	switch err {
	case nil:
		return nfd, nil
	case unix.EAGAIN:
		return -1, api.ErrWouldBlock
	case unix.ECONNABORTED, unix.EINTR:
		return -1, api.ErrWouldBlock
	default:
		return -1, fmt.Errorf("accept: %w", err)
	}
}

func (l *listener) close() {
	_ = unix.Close(l.fd)
}

// rejectBusy answers an over-capacity connection with a best-effort 503
// and closes it immediately.
func rejectBusy(fd int) {
	resp := "HTTP/1.1 503 Service Unavailable\r\n" +
		"content-type: text/plain; charset=utf-8\r\n" +
		"content-length: 19\r\n" +
		"connection: close\r\n" +
		"\r\n" +
		"Service Unavailable"
	_, _ = unix.Write(fd, []byte(resp))
	_ = unix.Close(fd)
}

func resolveSockaddr(addr string) (unix.Sockaddr, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return nil, 0, fmt.Errorf("invalid port in %q", addr)
	}

	if host == "" {
		return &unix.SockaddrInet4{Port: port}, unix.AF_INET, nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, 0, fmt.Errorf("invalid listen host %q", host)
	}
	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip.To16())
	return sa, unix.AF_INET6, nil
}
