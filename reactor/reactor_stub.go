//go:build !linux

// File: reactor/reactor_stub.go
//
// Stub for unsupported platforms.

package reactor

import (
	"errors"

	"github.com/h1wire/h1wire/api"
)

// New returns an error on platforms without a reactor backend.
func New() (api.Reactor, error) {
	return nil, errors.New("reactor: this platform is not supported")
}
