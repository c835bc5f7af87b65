// File: internal/concurrency/events.go

package concurrency

import "sync"

// EventWorkers is a fixed pool of event-loop workers sharded by
// descriptor: a given connection's read events always land on the same
// worker, so its read-side buffers are single-threaded without locks.
type EventWorkers struct {
	mu     sync.RWMutex
	shards []chan func()
	wg     sync.WaitGroup
	closed bool
}

// NewEventWorkers creates n workers. n <= 0 selects 1.
func NewEventWorkers(n int) *EventWorkers {
	if n <= 0 {
		n = 1
	}
	w := &EventWorkers{shards: make([]chan func(), n)}
	w.wg.Add(n)
	for i := range w.shards {
		ch := make(chan func(), 1024)
		w.shards[i] = ch
		go w.worker(ch)
	}
	return w
}

// Post runs fn on the worker owning fd's shard. Events posted after Stop
// are dropped. The read lock spans the send so Stop can never close a
// shard out from under it.
func (w *EventWorkers) Post(fd int, fn func()) {
	if fd < 0 {
		fd = -fd
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	w.shards[fd%len(w.shards)] <- fn
}

// Stop drains the shards and waits for the workers to exit.
func (w *EventWorkers) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	for _, ch := range w.shards {
		close(ch)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *EventWorkers) worker(ch chan func()) {
	defer w.wg.Done()
	for fn := range ch {
		w.runEvent(fn)
	}
}

func (w *EventWorkers) runEvent(fn func()) {
	defer func() { _ = recover() }()
	fn()
}
