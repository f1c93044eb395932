package clock_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/flowmesh-io/sfu/pkg/clock"
)

func TestTickerInvokesCallbackRepeatedly(t *testing.T) {
	var count int64
	ticker := clock.Start(2*time.Millisecond, time.Now, func(nowMs int64) {
		atomic.AddInt64(&count, 1)
	})
	defer ticker.Stop()

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if atomic.LoadInt64(&count) >= 3 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected at least 3 ticks, got %d", atomic.LoadInt64(&count))
}

func TestTickerStopsCleanly(t *testing.T) {
	var count int64
	ticker := clock.Start(time.Millisecond, time.Now, func(nowMs int64) {
		atomic.AddInt64(&count, 1)
	})
	time.Sleep(5 * time.Millisecond)
	ticker.Stop()

	after := atomic.LoadInt64(&count)
	time.Sleep(10 * time.Millisecond)
	if atomic.LoadInt64(&count) != after {
		t.Fatal("expected no further ticks after Stop")
	}
}
