// File: internal/concurrency/executor.go
// Package concurrency provides the worker pools behind the transport: the
// dispatch executor for application handlers, the sharded event workers
// for reactor callbacks, and the serialized writer loop for buffered
// flushes.

package concurrency

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrExecutorClosed is returned by Submit after Close.
var ErrExecutorClosed = errors.New("executor is closed")

// Executor runs application tasks on a fixed pool of workers. It is the
// asynchronous dispatch boundary: reactor workers hand completed requests
// here so application code never runs on an event loop.
type Executor struct {
	mu     sync.RWMutex
	tasks  chan func()
	wg     sync.WaitGroup
	closed bool

	totalTasks     atomic.Int64
	completedTasks atomic.Int64
}

// NewExecutor creates an executor. numWorkers <= 0 selects
// runtime.NumCPU().
func NewExecutor(numWorkers int) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	e := &Executor{tasks: make(chan func(), numWorkers*64)}
	e.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go e.worker()
	}
	return e
}

// Submit enqueues a task, blocking when the queue is full. The read lock
// spans the send so Close can never close the channel mid-send.
func (e *Executor) Submit(task func()) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrExecutorClosed
	}
	e.totalTasks.Add(1)
	e.tasks <- task
	return nil
}

// Close stops accepting tasks and waits for queued ones to finish.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.tasks)
	e.mu.Unlock()
	e.wg.Wait()
}

// Pending returns the number of submitted-but-unfinished tasks.
func (e *Executor) Pending() int64 {
	return e.totalTasks.Load() - e.completedTasks.Load()
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for task := range e.tasks {
		e.runTask(task)
	}
}

// runTask isolates worker goroutines from panicking application code.
func (e *Executor) runTask(task func()) {
	defer func() {
		_ = recover()
		e.completedTasks.Add(1)
	}()
	task()
}
