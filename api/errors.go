// File: api/errors.go
// Package api defines the public contracts of h1wire: the socket and
// reactor abstractions the transport is built on, and the error taxonomy
// shared across the library.
//
// All of these errors are handled inside the transport layer; application
// handlers only ever see fully parsed, well-formed requests.

package api

import "errors"

var (
	// ErrWouldBlock reports that a non-blocking socket operation could not
	// make progress right now. It is a normal early-return, not a failure.
	ErrWouldBlock = errors.New("operation would block")

	// ErrConnectionReset reports that the peer aborted the connection.
	ErrConnectionReset = errors.New("connection reset by peer")

	// ErrIO reports a read or write failure other than a peer reset.
	// Concrete syscall errors are wrapped so errors.Is(err, ErrIO) holds.
	ErrIO = errors.New("socket i/o error")

	// ErrUnexpectedEOF reports that a parse was attempted with zero bytes
	// available. This is always a protocol violation.
	ErrUnexpectedEOF = errors.New("unexpected eof while parsing")

	// ErrMalformedMessage reports that the parser stopped consuming before
	// the end of the supplied bytes without completing a message.
	ErrMalformedMessage = errors.New("malformed http message")

	// ErrSocketClosed reports use of a socket whose descriptor has already
	// been released.
	ErrSocketClosed = errors.New("socket is closed")
)
