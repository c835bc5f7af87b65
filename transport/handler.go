// File: transport/handler.go
// Package transport owns per-connection socket I/O: buffered, race-safe,
// non-blocking reads and writes driven by reactor events, with close
// serialized against everything in flight.

package transport

import (
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/h1wire/h1wire/api"
	"github.com/h1wire/h1wire/buffer"
	"github.com/h1wire/h1wire/internal/metrics"
)

// Processor is the protocol layer fed by a ConnHandler. Implemented by
// httpcore.Processor; redefined here so the transport carries no protocol
// dependency.
type Processor interface {
	// Process consumes buffered bytes, reporting true when fully consumed.
	// On false the handler retains the remainder untouched.
	Process(buf *buffer.ByteBuffer) bool

	// SocketClosed records a peer close that arrived with nothing buffered.
	SocketClosed()

	// ConnClosed is invoked as part of descriptor release, before the
	// descriptor goes away.
	ConnClosed()
}

// Poster schedules work on the event worker owning a descriptor's shard.
type Poster interface {
	Post(fd int, fn func())
}

// ConnHandler drives exactly one connection. Read events are confined to
// one event worker per descriptor; writes may arrive from any application
// worker and serialize on the write-side exclusive section; deferred
// flushes all run on the writer loop. Close is flag-based optimistic
// exclusion: once the write buffer has drained, the closed state is
// published before the final in-flight check, the descriptor is released
// only when no operation is in flight, and every operation re-attempts
// the release on exit.
type ConnHandler struct {
	fd      int
	sock    api.Socket
	reactor api.Reactor
	poster  Poster
	chunks  *buffer.ChunkPool
	logger  *zap.Logger

	proc     Processor
	onClosed func(fd int)

	readBuf *buffer.ByteBuffer

	wmu           sync.Mutex
	writeBuf      *buffer.ByteBuffer
	writeCursor   int
	writableArmed bool

	isOpen           atomic.Bool
	preparingToClose atomic.Bool
	released         atomic.Bool
	readInFlight     atomic.Bool
	writeInFlight    atomic.Bool
	deferredInFlight atomic.Bool
}

// NewConnHandler creates a handler for an accepted socket. Bind must be
// called before the first reactor event is delivered.
func NewConnHandler(sock api.Socket, r api.Reactor, poster Poster, chunks *buffer.ChunkPool, logger *zap.Logger) *ConnHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &ConnHandler{
		fd:       sock.Fd(),
		sock:     sock,
		reactor:  r,
		poster:   poster,
		chunks:   chunks,
		logger:   logger.Named("conn"),
		readBuf:  buffer.New(),
		writeBuf: buffer.New(),
	}
	h.isOpen.Store(true)
	return h
}

// Bind attaches the protocol processor.
func (h *ConnHandler) Bind(proc Processor) {
	h.proc = proc
}

// SetOnClosed registers the connection-table removal hook.
func (h *ConnHandler) SetOnClosed(fn func(fd int)) {
	h.onClosed = fn
}

// Fd returns the descriptor this handler was created with.
func (h *ConnHandler) Fd() int {
	return h.fd
}

// IsOpen reports whether the connection still accepts I/O. The descriptor
// itself may be held slightly longer while in-flight operations drain.
func (h *ConnHandler) IsOpen() bool {
	return h.isOpen.Load()
}

// PendingWrite returns the number of buffered-but-unflushed bytes.
func (h *ConnHandler) PendingWrite() int {
	h.wmu.Lock()
	defer h.wmu.Unlock()
	return h.writeBuf.Len() - h.writeCursor
}

// OnReadable drains the socket until it would block, then feeds the
// accumulated bytes to the processor. Runs on the descriptor's event
// worker.
func (h *ConnHandler) OnReadable() {
	if !h.readInFlight.CompareAndSwap(false, true) {
		return
	}
	defer h.exitRead()

	for h.isOpen.Load() {
		chunk := h.chunks.Get()
		n, err := h.sock.Read(chunk)
		if n > 0 {
			h.readBuf.Append(chunk[:n])
		}
		h.chunks.Put(chunk)

		if err != nil {
			if errors.Is(err, api.ErrWouldBlock) {
				break
			}
			if errors.Is(err, api.ErrConnectionReset) {
				h.logger.Debug("peer reset connection", zap.Int("fd", h.fd))
			} else {
				h.logger.Error("read failed", zap.Int("fd", h.fd), zap.Error(err))
			}
			h.preparingToClose.Store(true)
			break
		}
		if n == 0 {
			// Peer closed its half. Bytes already buffered still get
			// processed below.
			if h.readBuf.Len() == 0 && h.proc != nil {
				h.proc.SocketClosed()
			}
			h.preparingToClose.Store(true)
			break
		}
	}

	if h.readBuf.Len() > 0 && h.isOpen.Load() && h.proc != nil {
		// A false return means not fully consumed: the remainder stays
		// buffered for a later re-drive, never dropped.
		h.proc.Process(h.readBuf)
	}
}

func (h *ConnHandler) exitRead() {
	h.readInFlight.Store(false)
	if h.preparingToClose.Load() {
		h.close()
	}
}

// Write sends p, queueing whatever the socket does not accept. Callers may
// be application workers; ordering against previously queued bytes is
// preserved because a non-empty queue always appends.
func (h *ConnHandler) Write(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	// The in-flight flag goes up before the open check: close() observes
	// either the flag or the buffer mutation, never a half-entered write.
	h.writeInFlight.Store(true)
	defer h.exitWrite()

	h.wmu.Lock()
	defer h.wmu.Unlock()

	if !h.isOpen.Load() || h.preparingToClose.Load() {
		return api.ErrSocketClosed
	}

	if h.writeBuf.Len() > h.writeCursor {
		h.writeBuf.Append(p)
		return nil
	}

	n, err := h.sock.Write(p)
	if n > 0 {
		metrics.BytesWritten.Add(float64(n))
	}
	if err == nil && n == len(p) {
		return nil
	}
	if err != nil && !errors.Is(err, api.ErrWouldBlock) {
		if errors.Is(err, api.ErrConnectionReset) {
			h.logger.Debug("peer reset connection", zap.Int("fd", h.fd))
		} else {
			h.logger.Error("write failed", zap.Int("fd", h.fd), zap.Error(err))
		}
		h.preparingToClose.Store(true)
		return err
	}

	h.writeBuf.Append(p[n:])
	h.armWritableLocked()
	return nil
}

func (h *ConnHandler) exitWrite() {
	h.writeInFlight.Store(false)
	if h.preparingToClose.Load() {
		h.close()
	}
}

// Flush drains writeBuf[writeCursor:] to the socket. Runs only on the
// writer loop (implements its Flusher interface).
func (h *ConnHandler) Flush() {
	if !h.deferredInFlight.CompareAndSwap(false, true) {
		return
	}
	defer h.exitFlush()

	h.wmu.Lock()
	defer h.wmu.Unlock()

	pending := h.writeBuf.Bytes()[h.writeCursor:]
	if len(pending) == 0 {
		h.disarmWritableLocked()
		return
	}
	if !h.isOpen.Load() {
		h.dropPendingLocked(api.ErrSocketClosed)
		return
	}

	n, err := h.sock.Write(pending)
	if n > 0 {
		h.writeCursor += n
		metrics.BytesWritten.Add(float64(n))
	}
	if err != nil && !errors.Is(err, api.ErrWouldBlock) {
		h.dropPendingLocked(err)
		return
	}
	if h.writeCursor == h.writeBuf.Len() {
		h.writeBuf.Reset()
		h.writeCursor = 0
		h.disarmWritableLocked()
	}
}

func (h *ConnHandler) exitFlush() {
	h.deferredInFlight.Store(false)
	if h.preparingToClose.Load() {
		h.close()
	}
}

// dropPendingLocked discards undeliverable buffered bytes. This is data
// loss and is logged as such.
func (h *ConnHandler) dropPendingLocked(err error) {
	lost := h.writeBuf.Len() - h.writeCursor
	metrics.WriteBufferDrops.Add(float64(lost))
	h.logger.Error("discarding buffered response bytes",
		zap.Int("fd", h.fd), zap.Int("lost_bytes", lost), zap.Error(err))
	h.writeBuf.Reset()
	h.writeCursor = 0
	h.disarmWritableLocked()
	h.preparingToClose.Store(true)
}

func (h *ConnHandler) armWritableLocked() {
	if h.writableArmed || !h.isOpen.Load() {
		return
	}
	h.writableArmed = true
	if err := h.reactor.ModifyInterest(h.fd, api.EventReadable|api.EventWritable); err != nil {
		h.logger.Error("arming writable interest failed", zap.Int("fd", h.fd), zap.Error(err))
	}
}

func (h *ConnHandler) disarmWritableLocked() {
	if !h.writableArmed {
		return
	}
	h.writableArmed = false
	if !h.isOpen.Load() {
		return
	}
	if err := h.reactor.ModifyInterest(h.fd, api.EventReadable); err != nil {
		h.logger.Debug("disarming writable interest failed", zap.Int("fd", h.fd), zap.Error(err))
	}
}

// Redrive schedules reprocessing of buffered-but-unconsumed bytes on the
// descriptor's own event worker, so pipelined requests already sitting in
// the read buffer are not stalled waiting for a new readiness event.
func (h *ConnHandler) Redrive() {
	h.poster.Post(h.fd, h.redrive)
}

func (h *ConnHandler) redrive() {
	if h.proc == nil {
		return
	}
	if !h.readInFlight.CompareAndSwap(false, true) {
		return
	}
	defer h.exitRead()
	// The open check comes after the flag so a concurrent close either
	// sees the flag or is seen here.
	if !h.isOpen.Load() {
		return
	}
	if h.readBuf.Len() > 0 {
		h.proc.Process(h.readBuf)
	}
}

// OnError handles a reactor error event.
func (h *ConnHandler) OnError() {
	h.PrepareToClose()
}

// PrepareToClose latches the close request and attempts it. Advisory: the
// descriptor is released only once nothing is in flight and the write
// buffer has drained.
func (h *ConnHandler) PrepareToClose() {
	h.preparingToClose.Store(true)
	h.close()
}

// close runs the two-step shutdown. Step one: once the write buffer has
// drained, flip isOpen so no new operation can start (the drained check
// and the CAS share the write lock so no append slips between them). Step
// two: release the descriptor, but only when no operation is in flight.
// The flag check happens after the isOpen store, and every operation
// raises its in-flight flag before loading isOpen, so whichever side acts
// second always sees the other: a racing operation observes the closed
// state and backs out, or is observed here and the release is retried on
// that operation's exit.
func (h *ConnHandler) close() {
	h.wmu.Lock()
	if h.writeCursor != h.writeBuf.Len() {
		h.wmu.Unlock()
		return
	}
	h.isOpen.CompareAndSwap(true, false)
	h.wmu.Unlock()

	if h.readInFlight.Load() || h.writeInFlight.Load() || h.deferredInFlight.Load() {
		return
	}
	h.release()
}

// release frees the descriptor exactly once. Callers guarantee isOpen is
// false and no operation was in flight when they observed the flags.
func (h *ConnHandler) release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	if h.proc != nil {
		h.proc.ConnClosed()
	}
	if err := h.reactor.Unregister(h.fd); err != nil {
		h.logger.Debug("unregister failed", zap.Int("fd", h.fd), zap.Error(err))
	}
	_ = h.sock.Close()
	if h.onClosed != nil {
		h.onClosed(h.fd)
	}
	h.logger.Debug("connection closed", zap.Int("fd", h.fd))
}
