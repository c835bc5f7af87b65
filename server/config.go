// File: server/config.go
// Package server wires the transport together: it owns the connection
// table, the accept path, the reactor and worker pools, and graceful
// shutdown.

package server

import (
	"runtime"
	"time"

	"go.uber.org/zap"
)

// Config holds all server-side tunables. The protocol constants (request
// budget, idle timeout) are deliberately configuration, not code.
type Config struct {
	ListenAddr string // TCP bind address, e.g. ":8080"

	// RequestBudget caps how many times one connection may be reused.
	RequestBudget int

	// IdleTimeout is the keep-alive idle deadline armed on each reuse.
	IdleTimeout time.Duration

	// MaxHeaderBytes bounds a request's header block.
	MaxHeaderBytes int

	// ReadChunkSize is the size of the scratch chunks used to drain
	// sockets.
	ReadChunkSize int

	// EventWorkers is the size of the event-loop pool; connections are
	// sharded across it by descriptor.
	EventWorkers int

	// ExecutorWorkers is the size of the application dispatch pool.
	ExecutorWorkers int

	// MaxConnections rejects new connections with a 503 above this count.
	// Zero means unlimited.
	MaxConnections int

	// ReapInterval is how often the idle reaper scans the connection
	// table.
	ReapInterval time.Duration

	// ShutdownTimeout bounds the graceful drain on Shutdown.
	ShutdownTimeout time.Duration

	// Logger receives transport logs. Nil selects a no-op logger.
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      ":8080",
		RequestBudget:   100,
		IdleTimeout:     60 * time.Second,
		MaxHeaderBytes:  8192,
		ReadChunkSize:   4096,
		EventWorkers:    runtime.NumCPU(),
		ExecutorWorkers: runtime.NumCPU() * 2,
		MaxConnections:  0,
		ReapInterval:    time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}
