// File: transport/handler_test.go

package transport

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/h1wire/h1wire/api"
	"github.com/h1wire/h1wire/buffer"
	"github.com/h1wire/h1wire/reactor"
)

// scriptSocket is an api.Socket with scripted reads and throttled writes.
type scriptSocket struct {
	mu sync.Mutex
	fd int

	reads   [][]byte
	readErr error // returned once reads are exhausted; nil means peer close

	writeLimit int // bytes accepted per Write call; 0 means unlimited
	writeErr   error
	written    bytes.Buffer

	closed        bool
	usedPostClose bool
}

func newScriptSocket(fd int) *scriptSocket {
	return &scriptSocket{fd: fd, readErr: api.ErrWouldBlock}
}

func (s *scriptSocket) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.usedPostClose = true
	}
	if len(s.reads) == 0 {
		if s.readErr != nil {
			return 0, s.readErr
		}
		return 0, nil // peer closed
	}
	chunk := s.reads[0]
	n := copy(p, chunk)
	if n < len(chunk) {
		s.reads[0] = chunk[n:]
	} else {
		s.reads = s.reads[1:]
	}
	return n, nil
}

func (s *scriptSocket) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.usedPostClose = true
	}
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	n := len(p)
	if s.writeLimit > 0 && n > s.writeLimit {
		n = s.writeLimit
	}
	s.written.Write(p[:n])
	if n < len(p) {
		return n, api.ErrWouldBlock
	}
	return n, nil
}

func (s *scriptSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptSocket) Fd() int { return s.fd }

func (s *scriptSocket) output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.String()
}

func (s *scriptSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *scriptSocket) usedAfterClose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usedPostClose
}

// recordProcessor captures what the handler feeds it.
type recordProcessor struct {
	mu           sync.Mutex
	fed          []byte
	consume      bool // drain the buffer on Process
	socketClosed bool
	connClosed   bool
	onProcess    func()
}

func (p *recordProcessor) Process(buf *buffer.ByteBuffer) bool {
	p.mu.Lock()
	p.fed = append(p.fed, buf.Bytes()...)
	consume := p.consume
	hook := p.onProcess
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	if consume {
		buf.Reset()
		return true
	}
	return false
}

func (p *recordProcessor) SocketClosed() {
	p.mu.Lock()
	p.socketClosed = true
	p.mu.Unlock()
}

func (p *recordProcessor) ConnClosed() {
	p.mu.Lock()
	p.connClosed = true
	p.mu.Unlock()
}

// inlinePoster runs posted events on the calling goroutine.
type inlinePoster struct{}

func (inlinePoster) Post(fd int, fn func()) { fn() }

func newTestHandler(t *testing.T, sock *scriptSocket, proc Processor) (*ConnHandler, *reactor.Manual) {
	t.Helper()
	m := reactor.NewManual()
	h := NewConnHandler(sock, m, inlinePoster{}, buffer.NewChunkPool(8), nil)
	if proc != nil {
		h.Bind(proc)
	}
	if err := m.Register(sock.Fd(), api.EventReadable, func(int, api.EventType) {}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return h, m
}

func TestOnReadableDrainsAcrossChunks(t *testing.T) {
	sock := newScriptSocket(5)
	// Chunks smaller and larger than the 8-byte pool chunk.
	sock.reads = [][]byte{[]byte("abc"), []byte("defghijklmn"), []byte("op")}
	proc := &recordProcessor{consume: true}
	h, _ := newTestHandler(t, sock, proc)

	h.OnReadable()

	if got := string(proc.fed); got != "abcdefghijklmnop" {
		t.Fatalf("processor fed %q", got)
	}
	if !h.IsOpen() {
		t.Fatal("would-block must leave the connection open")
	}
}

func TestPeerCloseEmptyBuffer(t *testing.T) {
	sock := newScriptSocket(5)
	sock.readErr = nil // immediate peer close
	proc := &recordProcessor{consume: true}
	h, m := newTestHandler(t, sock, proc)
	var closedFd int
	h.SetOnClosed(func(fd int) { closedFd = fd })

	h.OnReadable()

	if !proc.socketClosed {
		t.Fatal("SocketClosed not reported for empty-buffer peer close")
	}
	if !proc.connClosed {
		t.Fatal("ConnClosed not invoked during release")
	}
	if h.IsOpen() || !sock.isClosed() {
		t.Fatal("descriptor not released after peer close")
	}
	if m.Registered(5) {
		t.Fatal("fd still registered after close")
	}
	if closedFd != 5 {
		t.Fatalf("onClosed got fd %d, want 5", closedFd)
	}
}

func TestPeerCloseWithBufferedBytes(t *testing.T) {
	sock := newScriptSocket(5)
	sock.reads = [][]byte{[]byte("tail")}
	sock.readErr = nil // peer close right after the data
	proc := &recordProcessor{consume: true}
	h, _ := newTestHandler(t, sock, proc)

	h.OnReadable()

	if string(proc.fed) != "tail" {
		t.Fatalf("buffered bytes not processed before close: %q", proc.fed)
	}
	if proc.socketClosed {
		t.Fatal("SocketClosed must not fire when bytes were still buffered")
	}
	if h.IsOpen() {
		t.Fatal("connection must close after the final bytes are handled")
	}
}

func TestUnconsumedBytesRetained(t *testing.T) {
	sock := newScriptSocket(5)
	sock.reads = [][]byte{[]byte("partial-message")}
	proc := &recordProcessor{consume: false}
	h, _ := newTestHandler(t, sock, proc)

	h.OnReadable()
	if string(proc.fed) != "partial-message" {
		t.Fatalf("fed %q", proc.fed)
	}

	// A redrive must present the same retained bytes again.
	proc.mu.Lock()
	proc.fed = nil
	proc.consume = true
	proc.mu.Unlock()
	h.Redrive()
	if string(proc.fed) != "partial-message" {
		t.Fatalf("redrive fed %q, want retained bytes", proc.fed)
	}
}

func TestWriteImmediate(t *testing.T) {
	sock := newScriptSocket(5)
	h, m := newTestHandler(t, sock, &recordProcessor{})

	if err := h.Write([]byte("response")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if sock.output() != "response" {
		t.Fatalf("socket got %q", sock.output())
	}
	if h.PendingWrite() != 0 {
		t.Fatalf("pending = %d, want 0", h.PendingWrite())
	}
	if m.Interest(5)&api.EventWritable != 0 {
		t.Fatal("writable interest armed for a fully accepted write")
	}
}

func TestWritePartialQueuesAndFlushes(t *testing.T) {
	sock := newScriptSocket(5)
	sock.writeLimit = 4
	h, m := newTestHandler(t, sock, &recordProcessor{})

	if err := h.Write([]byte("0123456789")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if sock.output() != "0123" {
		t.Fatalf("immediate write got %q", sock.output())
	}
	if h.PendingWrite() != 6 {
		t.Fatalf("pending = %d, want 6", h.PendingWrite())
	}
	if m.Interest(5)&api.EventWritable == 0 {
		t.Fatal("writable interest not armed with bytes pending")
	}

	// Two flushes at 4 bytes each drain the remainder.
	h.Flush()
	h.Flush()
	if sock.output() != "0123456789" {
		t.Fatalf("after flush got %q", sock.output())
	}
	if h.PendingWrite() != 0 {
		t.Fatalf("pending after drain = %d", h.PendingWrite())
	}
	if m.Interest(5)&api.EventWritable != 0 {
		t.Fatal("writable interest not disarmed after drain")
	}
}

func TestWriteOrderingWhileQueued(t *testing.T) {
	sock := newScriptSocket(5)
	sock.writeLimit = 2
	h, _ := newTestHandler(t, sock, &recordProcessor{})

	_ = h.Write([]byte("first|"))
	_ = h.Write([]byte("second|"))
	_ = h.Write([]byte("third"))
	for i := 0; i < 20; i++ {
		h.Flush()
	}
	if got := sock.output(); got != "first|second|third" {
		t.Fatalf("write order broken: %q", got)
	}
}

// Concurrent writers may interleave messages with each other, but every
// individual message must stay contiguous and nothing may be lost.
func TestWriteConcurrentContiguity(t *testing.T) {
	sock := newScriptSocket(5)
	sock.writeLimit = 3
	h, _ := newTestHandler(t, sock, &recordProcessor{})

	const writers = 8
	const perWriter = 25
	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				msg := fmt.Sprintf("<w%d-%d>", w, i)
				if err := h.Write([]byte(msg)); err != nil {
					t.Errorf("writer %d: %v", w, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	for h.PendingWrite() > 0 {
		h.Flush()
	}

	out := sock.output()
	for w := 0; w < writers; w++ {
		for i := 0; i < perWriter; i++ {
			msg := fmt.Sprintf("<w%d-%d>", w, i)
			if !bytes.Contains([]byte(out), []byte(msg)) {
				t.Fatalf("message %q missing or torn in output", msg)
			}
		}
	}
}

func TestCloseWaitsForPendingWrites(t *testing.T) {
	sock := newScriptSocket(5)
	sock.writeLimit = 4
	proc := &recordProcessor{}
	h, _ := newTestHandler(t, sock, proc)

	_ = h.Write([]byte("01234567")) // 4 sent, 4 pending
	h.PrepareToClose()
	if !h.IsOpen() {
		t.Fatal("close must wait for the write buffer to drain")
	}

	h.Flush() // drains the remaining 4 bytes, then retries close
	if h.IsOpen() {
		t.Fatal("connection still open after the buffer drained")
	}
	if sock.output() != "01234567" {
		t.Fatalf("output %q, want all bytes delivered before close", sock.output())
	}
	if !proc.connClosed {
		t.Fatal("ConnClosed not invoked")
	}
}

func TestCloseDeferredUntilReadExits(t *testing.T) {
	sock := newScriptSocket(5)
	sock.reads = [][]byte{[]byte("data")}
	var h *ConnHandler
	proc := &recordProcessor{consume: true}
	proc.onProcess = func() {
		h.PrepareToClose()
		if sock.isClosed() {
			t.Error("descriptor released while a read was in flight")
		}
	}
	h, _ = newTestHandler(t, sock, proc)

	h.OnReadable()
	if h.IsOpen() || !sock.isClosed() {
		t.Fatal("release not retried when the read exited")
	}
	if sock.usedAfterClose() {
		t.Fatal("socket touched after the descriptor was released")
	}
}

// A close requested from another goroutine while a read is executing must
// never release the descriptor out from under the read: either the closer
// observes the in-flight read and defers the release to the read's exit,
// or the read observes the closed state and backs out before touching the
// socket again.
func TestCloseNeverReleasesMidRead(t *testing.T) {
	for trial := 0; trial < 300; trial++ {
		sock := newScriptSocket(5)
		sock.reads = [][]byte{[]byte("aaaa"), []byte("bbbb"), []byte("cccc")}
		proc := &recordProcessor{consume: true}
		h, _ := newTestHandler(t, sock, proc)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.OnReadable()
		}()
		go func() {
			defer wg.Done()
			h.PrepareToClose()
		}()
		wg.Wait()

		h.PrepareToClose() // settle: nothing is in flight anymore
		if !sock.isClosed() {
			t.Fatalf("trial %d: descriptor never released", trial)
		}
		if sock.usedAfterClose() {
			t.Fatalf("trial %d: socket read or written after release", trial)
		}
	}
}

func TestFlushFailureDropsPending(t *testing.T) {
	sock := newScriptSocket(5)
	sock.writeLimit = 2
	h, _ := newTestHandler(t, sock, &recordProcessor{})

	_ = h.Write([]byte("0123456789"))
	sock.mu.Lock()
	sock.writeErr = api.ErrConnectionReset
	sock.mu.Unlock()

	h.Flush()
	if h.PendingWrite() != 0 {
		t.Fatalf("pending = %d after failed flush, want 0 (dropped)", h.PendingWrite())
	}
	if h.IsOpen() {
		t.Fatal("failed flush must close the connection")
	}
}

func TestWriteAfterCloseRejected(t *testing.T) {
	sock := newScriptSocket(5)
	h, _ := newTestHandler(t, sock, &recordProcessor{})
	h.PrepareToClose()

	if err := h.Write([]byte("late")); !errors.Is(err, api.ErrSocketClosed) {
		t.Fatalf("Write after close = %v, want ErrSocketClosed", err)
	}
	if sock.output() != "" {
		t.Fatalf("bytes written after close: %q", sock.output())
	}
}

func TestReadErrorClosesConnection(t *testing.T) {
	sock := newScriptSocket(5)
	sock.readErr = api.ErrConnectionReset
	h, _ := newTestHandler(t, sock, &recordProcessor{})

	h.OnReadable()
	if h.IsOpen() || !sock.isClosed() {
		t.Fatal("reset during read must release the connection")
	}
}

// Random interleavings of writes, flushes, and close requests must never
// lose queued bytes (unless dropped by an error) and must always converge
// to a closed connection with nothing pending.
func TestCloseSafetyProperty(t *testing.T) {
	for trial := 0; trial < 50; trial++ {
		rng := rand.New(rand.NewSource(int64(trial)))
		sock := newScriptSocket(5)
		sock.writeLimit = 1 + rng.Intn(5)
		h, _ := newTestHandler(t, sock, &recordProcessor{consume: true})

		var wg sync.WaitGroup
		var sent bytes.Buffer
		var sentMu sync.Mutex

		wg.Add(3)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				msg := []byte(fmt.Sprintf("m%02d;", i))
				if err := h.Write(msg); err != nil {
					return
				}
				sentMu.Lock()
				sent.Write(msg)
				sentMu.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 40; i++ {
				h.Flush()
			}
		}()
		go func() {
			defer wg.Done()
			if rng.Intn(2) == 0 {
				h.PrepareToClose()
			}
		}()
		wg.Wait()

		h.PrepareToClose()
		for h.IsOpen() {
			h.Flush()
		}

		if h.PendingWrite() != 0 {
			t.Fatalf("trial %d: %d bytes pending after close", trial, h.PendingWrite())
		}
		// Everything accepted by Write before the close latched must have
		// reached the socket: accepted bytes are never silently dropped.
		out := sock.output()
		sentMu.Lock()
		want := sent.String()
		sentMu.Unlock()
		if len(out) > 0 && !bytes.HasPrefix([]byte(want), []byte(out)) {
			t.Fatalf("trial %d: output %q is not a prefix of accepted writes %q", trial, out, want)
		}
	}
}
