// File: internal/concurrency/writerloop.go

package concurrency

import (
	"sync"

	"github.com/eapache/queue"
)

// Flusher drains one connection's pending write buffer.
type Flusher interface {
	Flush()
}

// WriterLoop funnels every deferred flush through one goroutine. Buffered
// write-buffer mutation then never interleaves between a writable event
// and an application write: appends take the handler's exclusive section,
// flushes all run here.
type WriterLoop struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending *queue.Queue
	stopped bool
	done    chan struct{}
}

// NewWriterLoop creates and starts the loop.
func NewWriterLoop() *WriterLoop {
	w := &WriterLoop{
		pending: queue.New(),
		done:    make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.run()
	return w
}

// Schedule enqueues a flusher. Duplicate scheduling is harmless: a flush
// with nothing pending is a no-op.
func (w *WriterLoop) Schedule(f Flusher) {
	w.mu.Lock()
	if !w.stopped {
		w.pending.Add(f)
		w.cond.Signal()
	}
	w.mu.Unlock()
}

// Stop drains the queue and terminates the loop.
func (w *WriterLoop) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.cond.Signal()
	w.mu.Unlock()
	<-w.done
}

func (w *WriterLoop) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		for w.pending.Length() == 0 && !w.stopped {
			w.cond.Wait()
		}
		if w.pending.Length() == 0 && w.stopped {
			w.mu.Unlock()
			return
		}
		f := w.pending.Remove().(Flusher)
		w.mu.Unlock()

		f.Flush()
	}
}
