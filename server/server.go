// File: server/server.go

package server

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/h1wire/h1wire/api"
	"github.com/h1wire/h1wire/buffer"
	"github.com/h1wire/h1wire/httpcore"
	"github.com/h1wire/h1wire/internal/concurrency"
	"github.com/h1wire/h1wire/internal/metrics"
	"github.com/h1wire/h1wire/reactor"
	"github.com/h1wire/h1wire/transport"
)

// pollRunner is the platform reactor's event loop. The api.Reactor
// contract covers registration only; driving the poll is the server's job.
type pollRunner interface {
	Run(stop <-chan struct{})
}

// Server ties the accept path, the reactor, the worker pools, and the
// connection table into one lifecycle.
type Server struct {
	cfg      *Config
	logger   *zap.Logger
	handler  httpcore.Handler
	upgrader httpcore.Upgrader

	reactor  api.Reactor
	events   *concurrency.EventWorkers
	writer   *concurrency.WriterLoop
	executor *concurrency.Executor
	manager  *Manager
	chunks   *buffer.ChunkPool
	listener *listener

	stop     chan struct{}
	pollStop chan struct{}
	stopped  atomic.Bool
	loops    sync.WaitGroup
}

// New creates a server from cfg. A nil cfg selects DefaultConfig.
func New(cfg *Config, opts ...Option) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		cfg:      cfg,
		manager:  NewManager(),
		stop:     make(chan struct{}),
		pollStop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.Logger == nil {
		s.cfg.Logger = zap.NewNop()
	}
	s.logger = s.cfg.Logger.Named("server")
	return s
}

// Run listens on the configured address and serves connections with
// handler until Shutdown is called. It blocks for the server's lifetime.
func (s *Server) Run(handler httpcore.Handler) error {
	if handler == nil {
		return errors.New("server: nil handler")
	}
	s.handler = handler

	ln, err := newListener(s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.listener = ln

	r, err := reactor.New()
	if err != nil {
		ln.close()
		return err
	}
	s.reactor = r

	s.chunks = buffer.NewChunkPool(s.cfg.ReadChunkSize)
	s.events = concurrency.NewEventWorkers(s.cfg.EventWorkers)
	s.writer = concurrency.NewWriterLoop()
	s.executor = concurrency.NewExecutor(s.cfg.ExecutorWorkers)

	if err := r.Register(ln.fd, api.EventReadable, func(int, api.EventType) {
		s.acceptPending()
	}); err != nil {
		s.teardownPools()
		ln.close()
		return fmt.Errorf("register listener: %w", err)
	}

	runner, ok := r.(pollRunner)
	if !ok {
		s.teardownPools()
		ln.close()
		return errors.New("server: reactor does not drive a poll loop")
	}

	s.logger.Info("listening", zap.String("addr", s.cfg.ListenAddr))

	s.loops.Add(2)
	go func() {
		defer s.loops.Done()
		// The poll loop outlives the shutdown signal so buffered responses
		// still flush during the drain window.
		runner.Run(s.pollStop)
	}()
	go func() {
		defer s.loops.Done()
		s.reapLoop()
	}()

	<-s.stop
	s.drainAndStop()
	return nil
}

// Shutdown initiates graceful teardown: stop accepting, latch every live
// connection for close, wait up to ShutdownTimeout for the table to drain.
// Safe to call more than once.
func (s *Server) Shutdown() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	close(s.stop)
}

// acceptPending drains the listen backlog. Runs on the reactor's poll
// goroutine; per-connection setup is cheap enough to do inline.
func (s *Server) acceptPending() {
	for {
		nfd, err := s.listener.accept()
		if err != nil {
			if !errors.Is(err, api.ErrWouldBlock) {
				s.logger.Error("accept failed", zap.Error(err))
			}
			return
		}
		s.onAccept(nfd)
	}
}

func (s *Server) onAccept(nfd int) {
	if s.cfg.MaxConnections > 0 && s.manager.Len() >= s.cfg.MaxConnections {
		metrics.ConnectionsRejected.Inc()
		s.logger.Warn("connection cap reached, rejecting", zap.Int("fd", nfd))
		rejectBusy(nfd)
		return
	}

	sock, err := transport.NewSocket(nfd)
	if err != nil {
		s.logger.Error("socket setup failed", zap.Int("fd", nfd), zap.Error(err))
		rejectBusy(nfd)
		return
	}

	h := transport.NewConnHandler(sock, s.reactor, s.events, s.chunks, s.cfg.Logger)
	proc := httpcore.NewProcessor(httpcore.ProcessorConfig{
		RequestBudget:  s.cfg.RequestBudget,
		IdleTimeout:    s.cfg.IdleTimeout,
		MaxHeaderBytes: s.cfg.MaxHeaderBytes,
	}, h, s.handler, s.upgrader, s.executor, s.cfg.Logger)
	h.Bind(proc)
	h.SetOnClosed(func(fd int) {
		s.manager.Remove(fd)
		metrics.ConnectionsClosed.Inc()
		metrics.ConnectionsActive.Dec()
	})

	s.manager.Add(nfd, h, proc)
	metrics.ConnectionsAccepted.Inc()
	metrics.ConnectionsActive.Inc()

	if err := s.reactor.Register(nfd, api.EventReadable, s.connCallback(h)); err != nil {
		s.logger.Error("register connection failed", zap.Int("fd", nfd), zap.Error(err))
		s.manager.Remove(nfd)
		metrics.ConnectionsActive.Dec()
		_ = sock.Close()
		return
	}
}

// connCallback routes one connection's reactor events: errors and reads to
// the descriptor's event worker, writable readiness to the writer loop.
func (s *Server) connCallback(h *transport.ConnHandler) api.Callback {
	return func(fd int, ev api.EventType) {
		if ev&api.EventError != 0 {
			s.events.Post(fd, h.OnError)
		}
		if ev&api.EventReadable != 0 {
			s.events.Post(fd, h.OnReadable)
		}
		if ev&api.EventWritable != 0 {
			s.writer.Schedule(h)
		}
	}
}

// reapLoop periodically closes keep-alive connections whose idle deadline
// expired.
func (s *Server) reapLoop() {
	interval := s.cfg.ReapInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			if n := s.manager.ReapIdle(now); n > 0 {
				s.logger.Debug("reaped idle connections", zap.Int("count", n))
			}
		}
	}
}

// drainAndStop runs the graceful teardown sequence after Shutdown.
func (s *Server) drainAndStop() {
	_ = s.reactor.Unregister(s.listener.fd)
	s.listener.close()

	s.manager.CloseAll()

	deadline := time.Now().Add(s.cfg.ShutdownTimeout)
	for s.manager.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := s.manager.Len(); n > 0 {
		s.logger.Warn("shutdown timeout with connections still live", zap.Int("count", n))
	}

	close(s.pollStop)
	s.loops.Wait()
	s.teardownPools()
	_ = s.reactor.Close()
	s.logger.Info("server stopped")
}

func (s *Server) teardownPools() {
	// Executor first: a task finishing a response may still post a redrive
	// to the event workers.
	if s.executor != nil {
		s.executor.Close()
	}
	if s.events != nil {
		s.events.Stop()
	}
	if s.writer != nil {
		s.writer.Stop()
	}
}
