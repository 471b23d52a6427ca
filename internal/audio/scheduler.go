package audio

import (
	"sync"
	"time"
)

// DefaultFrameInterval approximates one display refresh tick (60 Hz).
const DefaultFrameInterval = time.Second / 60

// FrameScheduler runs a callback on the next refresh tick.
type FrameScheduler interface {
	RequestFrame(fn func())
}

// TimerFrames is a FrameScheduler backed by a wall-clock timer.
type TimerFrames struct {
	Interval time.Duration
}

func (f TimerFrames) RequestFrame(fn func()) {
	interval := f.Interval
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	time.AfterFunc(interval, fn)
}

// Coalescer is a dirty flag plus a single-flight scheduled task: any number
// of Request calls within one frame result in exactly one run on that frame.
// A Request that arrives while run executes arms the next frame. Runs never
// overlap.
type Coalescer struct {
	frames FrameScheduler
	run    func()

	mu      sync.Mutex
	pending bool
	stopped bool

	runMu sync.Mutex
}

func NewCoalescer(frames FrameScheduler, run func()) *Coalescer {
	if frames == nil {
		frames = TimerFrames{}
	}
	return &Coalescer{frames: frames, run: run}
}

// Request marks the state dirty. It is a no-op while an update is already
// pending, since that update will observe the latest state.
func (c *Coalescer) Request() {
	c.mu.Lock()
	if c.pending || c.stopped {
		c.mu.Unlock()
		return
	}
	c.pending = true
	c.mu.Unlock()

	c.frames.RequestFrame(c.fire)
}

// Pending reports whether an update is scheduled but has not run yet.
func (c *Coalescer) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *Coalescer) fire() {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.mu.Lock()
	if c.stopped {
		c.pending = false
		c.mu.Unlock()
		return
	}
	c.pending = false
	c.mu.Unlock()

	c.run()
}

// Stop drops any pending update and ignores later requests.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
}
