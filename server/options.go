// File: server/options.go

package server

import (
	"time"

	"go.uber.org/zap"

	"github.com/h1wire/h1wire/httpcore"
)

// Option customizes server initialization.
type Option func(*Server)

// WithLogger sets the transport logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.cfg.Logger = logger
	}
}

// WithRequestBudget overrides the per-connection reuse cap.
func WithRequestBudget(n int) Option {
	return func(s *Server) {
		s.cfg.RequestBudget = n
	}
}

// WithIdleTimeout overrides the keep-alive idle deadline.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.cfg.IdleTimeout = d
	}
}

// WithMaxConnections caps concurrent connections; above it new arrivals
// get a best-effort 503.
func WithMaxConnections(n int) Option {
	return func(s *Server) {
		s.cfg.MaxConnections = n
	}
}

// WithExecutorWorkers sets the application dispatch pool size.
func WithExecutorWorkers(n int) Option {
	return func(s *Server) {
		s.cfg.ExecutorWorkers = n
	}
}

// WithEventWorkers sets the event-loop pool size.
func WithEventWorkers(n int) Option {
	return func(s *Server) {
		s.cfg.EventWorkers = n
	}
}

// WithUpgrader installs the protocol-upgrade negotiator.
func WithUpgrader(u httpcore.Upgrader) Option {
	return func(s *Server) {
		s.upgrader = u
	}
}
