// Package worker provides a bounded, non-blocking task queue with an idle
// timeout callback. §5 keeps every component's own state single-threaded,
// but CPU-bound side channels still need a place to queue work without
// blocking the owning event loop; pkg/cluster.Dispatcher uses one to
// forward scenario 6's already-coalesced keyframe requests to a publisher's
// Mailbox off its own tick goroutine (see DESIGN.md).
//
// Ported from the teacher's pkg/common/worker.go; generalized to a plain
// generic Config instead of one embedded in the track package.
package worker

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrClosed = errors.New("worker is closed")
	ErrBusy   = errors.New("worker is already overloaded")
)

// Config configures a Worker.
type Config[T any] struct {
	// ChannelSize bounds the task queue.
	ChannelSize int
	// Timeout is how long to wait with no task before calling OnTimeout.
	Timeout time.Duration
	// OnTimeout fires once Timeout elapses with no task received.
	OnTimeout func()
	// OnTask processes a received task.
	OnTask func(T)
}

// Worker wraps a channel so Stop/Send can be called safely from any
// goroutine while only one goroutine ever drains tasks.
type Worker[T any] struct {
	channel chan<- T
	mutex   sync.Mutex
	closed  bool
}

// Stop closes the worker unless already closed.
func (w *Worker[T]) Stop() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if !w.closed {
		close(w.channel)
		w.closed = true
	}
}

// Send enqueues a task. It never blocks: if the queue is full it returns
// ErrBusy immediately rather than stall the caller's event loop.
func (w *Worker[T]) Send(task T) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.closed {
		return ErrClosed
	}

	select {
	case w.channel <- task:
		return nil
	default:
		return ErrBusy
	}
}

// Start launches the worker goroutine. It runs until Stop is called.
func Start[T any](c Config[T]) *Worker[T] {
	incoming := make(chan T, c.ChannelSize)

	go func() {
		for {
			select {
			case task, ok := <-incoming:
				if !ok {
					return
				}
				c.OnTask(task)
			case <-time.After(c.Timeout):
				c.OnTimeout()
			}
		}
	}()

	return &Worker[T]{channel: incoming}
}
