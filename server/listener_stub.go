//go:build !linux

// File: server/listener_stub.go

package server

import "errors"

type listener struct {
	fd int
}

func newListener(string) (*listener, error) {
	return nil, errors.New("server: only supported on linux")
}

func (l *listener) accept() (int, error) {
	return -1, errors.New("server: only supported on linux")
}

func (l *listener) close() {}

func rejectBusy(int) {}
