// File: httpcore/processor.go
//
// Per-connection protocol state machine. The transport hands it buffered
// bytes; it feeds them to the parser, dispatches completed requests to the
// application, and decides keep-alive, upgrade, or close.

package httpcore

import (
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/h1wire/h1wire/api"
	"github.com/h1wire/h1wire/buffer"
	"github.com/h1wire/h1wire/internal/metrics"
)

// Phase is the processor's position in the per-message cycle.
type Phase int32

const (
	// PhaseReset re-initializes the parser on the next Process call and
	// falls through into PhaseReadingMessage within that same call.
	PhaseReset Phase = iota
	PhaseReadingMessage
	PhaseMessageComplete
)

// Conn is the transport surface the processor drives. It is a non-owning
// reference; the connection table owns both sides.
type Conn interface {
	// Write queues or sends response bytes, preserving call order.
	Write(p []byte) error

	// PrepareToClose latches the connection for close once safe.
	PrepareToClose()

	// Redrive re-processes buffered-but-unconsumed bytes without waiting
	// for a new readiness event.
	Redrive()
}

// Dispatcher is the asynchronous dispatch boundary to application code.
type Dispatcher interface {
	Submit(task func()) error
}

// Upgrader takes ownership of a connection's write path after a successful
// upgrade request. Invoked exactly once per connection, before any
// keep-alive bookkeeping.
type Upgrader interface {
	Upgrade(conn Conn, req *Request) error
}

// ProcessorConfig carries the per-connection protocol limits.
type ProcessorConfig struct {
	// RequestBudget caps how many times the connection may be reused.
	// Zero selects the default of 100.
	RequestBudget int

	// IdleTimeout is the keep-alive idle deadline armed on each reuse.
	// Zero selects the default of 60 seconds.
	IdleTimeout time.Duration

	// MaxHeaderBytes bounds a request's header block.
	MaxHeaderBytes int
}

const (
	defaultRequestBudget = 100
	defaultIdleTimeout   = 60 * time.Second
)

// Processor converts one connection's byte stream into discrete requests.
// All parsing state is confined to the event worker that owns the
// connection's reads; idleDeadline and inProgress are also read by the
// idle reaper and use atomic stores.
type Processor struct {
	parser   *Parser
	conn     Conn
	handler  Handler
	upgrader Upgrader
	dispatch Dispatcher
	logger   *zap.Logger

	phase       atomic.Int32
	parseOffset int

	clientKeepAlive bool
	isUpgrade       bool
	remaining       int
	idleTimeout     time.Duration

	idleDeadline atomic.Int64
	inProgress   atomic.Bool
	closed       atomic.Bool
}

// NewProcessor wires a processor to its transport, application handler,
// optional upgrade negotiator, and dispatch pool.
func NewProcessor(cfg ProcessorConfig, conn Conn, handler Handler, upgrader Upgrader, dispatch Dispatcher, logger *zap.Logger) *Processor {
	if cfg.RequestBudget <= 0 {
		cfg.RequestBudget = defaultRequestBudget
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Processor{
		parser:      NewParser(cfg.MaxHeaderBytes),
		conn:        conn,
		handler:     handler,
		upgrader:    upgrader,
		dispatch:    dispatch,
		logger:      logger.Named("processor"),
		remaining:   cfg.RequestBudget,
		idleTimeout: cfg.IdleTimeout,
	}
	p.phase.Store(int32(PhaseReset))
	return p
}

// Phase returns the current protocol phase.
func (p *Processor) Phase() Phase {
	return Phase(p.phase.Load())
}

// Remaining returns the unused portion of the request budget.
func (p *Processor) Remaining() int {
	return p.remaining
}

// Process feeds buffered bytes through the state machine. It reports true
// when the buffer was fully consumed; on false the caller must retain the
// remainder and retry later. Consumed prefixes are discarded here, never
// by the caller.
func (p *Processor) Process(buf *buffer.ByteBuffer) bool {
	if p.closed.Load() {
		return true
	}
	switch Phase(p.phase.Load()) {
	case PhaseReset:
		// Trailing bytes of the previous message are gone; anything left
		// belongs to the next pipelined message and starts at offset 0.
		buf.Discard(p.parseOffset)
		p.parseOffset = 0
		p.parser.Reset()
		p.phase.Store(int32(PhaseReadingMessage))
		fallthrough
	case PhaseReadingMessage:
		return p.read(buf)
	default: // PhaseMessageComplete
		return p.parseOffset == 0 && buf.Len() == 0
	}
}

func (p *Processor) read(buf *buffer.ByteBuffer) bool {
	data := buf.Bytes()[p.parseOffset:]
	if len(data) == 0 {
		return p.parseOffset == 0
	}

	st := p.parser.Feed(data)
	if st.Err != nil {
		p.fail(st.Err)
		return true
	}
	p.parseOffset += st.BytesConsumed

	if st.MessageComplete {
		metrics.RequestsParsed.Inc()
		p.complete(st)
	}

	if p.parseOffset == buf.Len() {
		buf.Reset()
		p.parseOffset = 0
		return true
	}
	return false
}

// complete hands a finished message past the dispatch boundary.
func (p *Processor) complete(st ParseStatus) {
	p.isUpgrade = st.UpgradeRequested
	p.clientKeepAlive = st.KeepAliveRequested && p.remaining > 0 && !st.UpgradeRequested
	p.phase.Store(int32(PhaseMessageComplete))

	req := p.parser.Request().Clone()

	if p.isUpgrade {
		// The upgraded protocol owns the socket from here on.
		p.inProgress.Store(false)
		metrics.Upgrades.Inc()
		if p.upgrader == nil {
			p.logger.Warn("upgrade requested but no negotiator configured",
				zap.String("upgrade", req.Header("upgrade")))
			_ = p.conn.Write(errorResponse(501))
			p.conn.PrepareToClose()
			return
		}
		conn := p.conn
		up := p.upgrader
		if err := p.dispatch.Submit(func() {
			if err := up.Upgrade(conn, req); err != nil {
				conn.PrepareToClose()
			}
		}); err != nil {
			conn.PrepareToClose()
		}
		return
	}

	p.inProgress.Store(true)
	w := &responseWriter{proc: p, keepAlive: p.clientKeepAlive}
	body := req.Body
	if err := p.dispatch.Submit(func() {
		sink := p.handler.Serve(req, w)
		deliverBody(sink, body)
	}); err != nil {
		p.logger.Error("request dispatch failed", zap.Error(err))
		_ = p.conn.Write(errorResponse(503))
		p.conn.PrepareToClose()
	}
}

// fail applies the fail-fast policy for malformed input: synthesize a 400,
// never retry, never surface the bytes to application code. The processor
// goes inert immediately, so bytes arriving while the close drains are
// never parsed or dispatched.
func (p *Processor) fail(err error) {
	metrics.ParseErrors.Inc()
	if errors.Is(err, api.ErrUnexpectedEOF) {
		p.logger.Debug("parse attempted with no bytes available")
	} else {
		p.logger.Warn("rejecting malformed request", zap.Error(err))
	}
	p.closed.Store(true)
	p.inProgress.Store(false)
	p.idleDeadline.Store(0)
	// Best-effort: failures writing the error response are swallowed, the
	// connection is being torn down regardless.
	_ = p.conn.Write(errorResponse(400))
	p.conn.PrepareToClose()
}

// KeepAlive re-arms the connection for the next message. Called after a
// non-upgrade response finishes, only when the completed message was
// keep-alive eligible.
func (p *Processor) KeepAlive() {
	if p.closed.Load() {
		return
	}
	p.remaining--
	p.inProgress.Store(false)
	p.idleDeadline.Store(time.Now().Add(p.idleTimeout).UnixNano())
	p.phase.Store(int32(PhaseReset))
	// Pipelined bytes already buffered must not stall waiting for a new
	// readiness event.
	p.conn.Redrive()
}

// finishResponse is invoked by the response writer once the response is
// fully written.
func (p *Processor) finishResponse() {
	if p.clientKeepAlive {
		p.KeepAlive()
		return
	}
	p.conn.PrepareToClose()
}

// SocketClosed records that the peer closed with nothing left buffered.
func (p *Processor) SocketClosed() {
	if Phase(p.phase.Load()) == PhaseReadingMessage && p.parseOffset > 0 {
		p.logger.Debug("peer closed mid-message")
	}
	p.inProgress.Store(false)
	p.idleDeadline.Store(0)
}

// ConnClosed is invoked by the transport as part of descriptor release.
func (p *Processor) ConnClosed() {
	p.closed.Store(true)
	p.idleDeadline.Store(0)
	p.inProgress.Store(false)
}

// IdleExpired reports whether the keep-alive idle deadline has passed with
// no request in progress. Consulted by the external idle reaper.
func (p *Processor) IdleExpired(now time.Time) bool {
	dl := p.idleDeadline.Load()
	return dl != 0 && !p.inProgress.Load() && now.UnixNano() > dl
}
