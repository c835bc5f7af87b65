// File: reactor/reactor.go
// Package reactor provides readiness-notification backends behind the
// api.Reactor interface: an epoll implementation on Linux, an error stub
// elsewhere, and an in-process Manual reactor for deterministic tests.
// Handler and processor logic never branches on the platform; it sees only
// the interface.

package reactor
