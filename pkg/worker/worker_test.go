package worker_test

import (
	"testing"
	"time"

	"github.com/flowmesh-io/sfu/pkg/worker"
)

func TestWorkerDeliversTasks(t *testing.T) {
	done := make(chan int, 1)

	w := worker.Start(worker.Config[int]{
		ChannelSize: 4,
		Timeout:     time.Hour,
		OnTimeout:   func() {},
		OnTask:      func(v int) { done <- v },
	})
	defer w.Stop()

	if err := w.Send(42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case v := <-done:
		if v != 42 {
			t.Fatalf("expected 42, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for task")
	}
}

func TestWorkerRejectsAfterStop(t *testing.T) {
	w := worker.Start(worker.Config[int]{
		ChannelSize: 1,
		Timeout:     time.Hour,
		OnTimeout:   func() {},
		OnTask:      func(int) {},
	})
	w.Stop()

	if err := w.Send(1); err != worker.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
