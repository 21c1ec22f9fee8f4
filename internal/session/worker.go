package session

import (
	"context"
	"log/slog"
	"sync"
)

// Worker is the session's single execution context. Every call into the
// engine runs as a task on one Worker goroutine; other goroutines only
// Post.
//
// The queue is unbounded so posting never blocks, which matters because
// tasks are posted from transport receive paths and from future observers.
type Worker struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	signal chan struct{} // buffered, size 1
}

// NewWorker creates an idle worker. Call Run to start draining it.
func NewWorker() *Worker {
	return &Worker{
		tasks:  make([]func(), 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Post queues fn. Returns false if the worker is stopped.
func (w *Worker) Post(fn func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false
	}
	w.tasks = append(w.tasks, fn)

	// Buffer of 1 coalesces multiple signals.
	select {
	case w.signal <- struct{}{}:
	default:
	}
	return true
}

// Do posts fn and waits for it to run. Returns ctx.Err() if ctx ends
// first, or context.Canceled if the worker is stopped.
func (w *Worker) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !w.Post(func() {
		defer close(done)
		fn()
	}) {
		return context.Canceled
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) tryTake() (func(), bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.tasks) == 0 {
		return nil, false
	}
	fn := w.tasks[0]
	// Nil the slot so the closure can be collected.
	w.tasks[0] = nil
	if len(w.tasks) == 1 {
		w.tasks = w.tasks[:0]
	} else {
		w.tasks = w.tasks[1:]
	}
	return fn, true
}

// Len returns the number of queued tasks.
func (w *Worker) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.tasks)
}

// Drain runs every queued task on the calling goroutine, including tasks
// queued while draining. Tests use it in place of Run.
func (w *Worker) Drain() {
	for {
		fn, ok := w.tryTake()
		if !ok {
			return
		}
		w.runTask(fn)
	}
}

// Run executes tasks until ctx is cancelled or Stop is called.
func (w *Worker) Run(ctx context.Context) error {
	slog.Debug("session worker starting")

	for {
		if fn, ok := w.tryTake(); ok {
			w.runTask(fn)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Debug("session worker stopping: context cancelled")
			w.Stop()
			return ctx.Err()
		case <-w.signal:
			// The signal channel is closed on Stop, so this fires
			// immediately once stopped.
			if w.stopped() && w.Len() == 0 {
				slog.Debug("session worker stopping: closed")
				return nil
			}
		}
	}
}

// Stop closes the worker. Queued tasks still run if Run is active.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.closed = true
	close(w.signal)
}

func (w *Worker) stopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// runTask isolates a panicking task so one bad handler cannot stop the
// session. The panic is logged and the worker continues.
func (w *Worker) runTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("session task panicked", "panic", r)
		}
	}()
	fn()
}
