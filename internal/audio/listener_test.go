package audio

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestListenerState_CalibrationOffset(t *testing.T) {
	var l ListenerState

	if got := l.Apply(Orientation{Azimuth: 30}); got.Azimuth != 30 {
		t.Fatalf("uncalibrated azimuth = %v, want 30", got.Azimuth)
	}

	l.Reset()
	if got := l.Current(); got.Azimuth != 0 {
		t.Fatalf("after reset azimuth = %v, want 0", got.Azimuth)
	}
	if got := l.Apply(Orientation{Azimuth: 45}); got.Azimuth != 15 {
		t.Fatalf("relative azimuth = %v, want 15", got.Azimuth)
	}

	// A second reset zeroes at the latest raw reading, not the relative one.
	l.Reset()
	if got := l.Offset(); got.Azimuth != 45 {
		t.Fatalf("offset = %v, want 45", got.Azimuth)
	}
	if got := l.Apply(Orientation{Azimuth: 45}); got.Azimuth != 0 {
		t.Fatalf("relative azimuth = %v, want 0", got.Azimuth)
	}
}

func TestCoalescer_NoOverlappingRuns(t *testing.T) {
	var running, maxRunning, runs int32
	c := NewCoalescer(TimerFrames{Interval: time.Millisecond}, func() {
		n := atomic.AddInt32(&running, 1)
		for {
			m := atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}
		atomic.AddInt32(&runs, 1)
		atomic.AddInt32(&running, -1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Request()
			}
		}()
	}
	wg.Wait()

	waitUntil(t, time.Second, func() bool { return !c.Pending() && atomic.LoadInt32(&runs) > 0 }, "coalescer never drained")
	if m := atomic.LoadInt32(&maxRunning); m > 1 {
		t.Fatalf("updates overlapped: %d concurrent", m)
	}
	if atomic.LoadInt32(&runs) == 0 {
		t.Fatalf("expected at least one run")
	}
}

func TestCoalescer_StopDropsPending(t *testing.T) {
	frames := &manualFrames{}
	runs := 0
	c := NewCoalescer(frames, func() { runs++ })

	c.Request()
	c.Stop()
	frames.tick()
	c.Request()

	if runs != 0 {
		t.Fatalf("expected no runs after stop, got %d", runs)
	}
	if frames.queued() != 0 {
		t.Fatalf("requests after stop must not schedule frames")
	}
}
