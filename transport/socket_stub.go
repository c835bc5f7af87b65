//go:build !linux

// File: transport/socket_stub.go

package transport

import (
	"errors"

	"github.com/h1wire/h1wire/api"
)

// NewSocket is unavailable on platforms without a raw-socket backend.
func NewSocket(fd int) (api.Socket, error) {
	return nil, errors.New("transport: this platform is not supported")
}
