// File: internal/concurrency/concurrency_test.go

package concurrency

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestExecutorRunsTasks(t *testing.T) {
	e := NewExecutor(4)
	var count atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		if err := e.Submit(func() {
			count.Add(1)
			wg.Done()
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	wg.Wait()
	e.Close()
	if count.Load() != 100 {
		t.Fatalf("ran %d tasks, want 100", count.Load())
	}
}

func TestExecutorSubmitAfterClose(t *testing.T) {
	e := NewExecutor(1)
	e.Close()
	if err := e.Submit(func() {}); !errors.Is(err, ErrExecutorClosed) {
		t.Fatalf("Submit after Close = %v, want ErrExecutorClosed", err)
	}
}

func TestExecutorSurvivesPanic(t *testing.T) {
	e := NewExecutor(1)
	defer e.Close()

	_ = e.Submit(func() { panic("application bug") })
	done := make(chan struct{})
	_ = e.Submit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after a panicking task")
	}
}

type orderedFlusher struct {
	id  int
	out *[]int
	mu  *sync.Mutex
}

func (f *orderedFlusher) Flush() {
	f.mu.Lock()
	*f.out = append(*f.out, f.id)
	f.mu.Unlock()
}

func TestWriterLoopOrdering(t *testing.T) {
	w := NewWriterLoop()
	var mu sync.Mutex
	var out []int
	for i := 0; i < 50; i++ {
		w.Schedule(&orderedFlusher{id: i, out: &out, mu: &mu})
	}
	w.Stop()

	if len(out) != 50 {
		t.Fatalf("flushed %d, want 50", len(out))
	}
	for i, id := range out {
		if id != i {
			t.Fatalf("flush order broken at %d: got %d", i, id)
		}
	}
}

// All flushes run on one goroutine: two flushers observing a shared
// unsynchronized counter must never race.
func TestWriterLoopSerialized(t *testing.T) {
	w := NewWriterLoop()
	counter := 0 // intentionally unguarded; the loop serializes access
	f := flusherFunc(func() { counter++ })
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				w.Schedule(f)
			}
		}()
	}
	wg.Wait()
	w.Stop()
	if counter != 800 {
		t.Fatalf("counter = %d, want 800", counter)
	}
}

type flusherFunc func()

func (f flusherFunc) Flush() { f() }

func TestWriterLoopStopDrains(t *testing.T) {
	w := NewWriterLoop()
	var ran atomic.Int32
	for i := 0; i < 20; i++ {
		w.Schedule(flusherFunc(func() { ran.Add(1) }))
	}
	w.Stop()
	if ran.Load() != 20 {
		t.Fatalf("Stop drained %d of 20 pending flushes", ran.Load())
	}
	// Scheduling after Stop is a silent no-op.
	w.Schedule(flusherFunc(func() { ran.Add(1) }))
	if ran.Load() != 20 {
		t.Fatal("flusher ran after Stop")
	}
}

// Events for the same descriptor must run in posting order: they share a
// shard, which is a single goroutine.
func TestEventWorkersPerFdOrdering(t *testing.T) {
	w := NewEventWorkers(4)
	var mu sync.Mutex
	perFd := make(map[int][]int)
	var wg sync.WaitGroup

	for fd := 0; fd < 16; fd++ {
		for seq := 0; seq < 50; seq++ {
			fd, seq := fd, seq
			wg.Add(1)
			w.Post(fd, func() {
				mu.Lock()
				perFd[fd] = append(perFd[fd], seq)
				mu.Unlock()
				wg.Done()
			})
		}
	}
	wg.Wait()
	w.Stop()

	for fd, seqs := range perFd {
		for i, s := range seqs {
			if s != i {
				t.Fatalf("fd %d: event order broken at %d: got %d", fd, i, s)
			}
		}
	}
}

// Posting concurrently with Stop must never send on a closed shard.
func TestEventWorkersPostDuringStop(t *testing.T) {
	for trial := 0; trial < 200; trial++ {
		w := NewEventWorkers(2)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				w.Post(i, func() {})
			}
		}()
		go func() {
			defer wg.Done()
			w.Stop()
		}()
		wg.Wait()
	}
}

// Submitting concurrently with Close must never send on a closed channel.
func TestExecutorSubmitDuringClose(t *testing.T) {
	for trial := 0; trial < 200; trial++ {
		e := NewExecutor(2)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if err := e.Submit(func() {}); err != nil {
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			e.Close()
		}()
		wg.Wait()
	}
}

func TestEventWorkersSurvivePanic(t *testing.T) {
	w := NewEventWorkers(1)
	w.Post(3, func() { panic("handler bug") })
	done := make(chan struct{})
	w.Post(3, func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event worker died after a panicking event")
	}
	w.Stop()
}
