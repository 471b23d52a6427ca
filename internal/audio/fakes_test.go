package audio

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"soundfield/internal/geometry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBackend records every node it creates. Sources only end when the
// test calls finish (or Stop is invoked).
type fakeBackend struct {
	mu      sync.Mutex
	sources []*fakeSource
	gains   []*fakeGain
	dest    fakeNode
}

func (b *fakeBackend) CreateBufferSource() BufferSource {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &fakeSource{ended: make(chan struct{})}
	b.sources = append(b.sources, s)
	return s
}

func (b *fakeBackend) CreateGain() Gain {
	b.mu.Lock()
	defer b.mu.Unlock()
	g := &fakeGain{}
	b.gains = append(b.gains, g)
	return g
}

func (b *fakeBackend) Destination() Node { return &b.dest }

func (b *fakeBackend) source(i int) *fakeSource {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sources[i]
}

type fakeNode struct{}

func (*fakeNode) Connect(Node) {}

type fakeGain struct {
	mu    sync.Mutex
	level float64
	dst   Node
}

func (g *fakeGain) Connect(dst Node) {
	g.mu.Lock()
	g.dst = dst
	g.mu.Unlock()
}
func (g *fakeGain) SetLevel(l float64) {
	g.mu.Lock()
	g.level = l
	g.mu.Unlock()
}
func (g *fakeGain) Level() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.level
}

type fakeSource struct {
	mu      sync.Mutex
	buffer  Buffer
	loop    bool
	started bool
	stopped bool
	dst     Node
	ended   chan struct{}
	once    sync.Once
}

func (s *fakeSource) Connect(dst Node) {
	s.mu.Lock()
	s.dst = dst
	s.mu.Unlock()
}
func (s *fakeSource) SetBuffer(b Buffer) { s.buffer = b }
func (s *fakeSource) SetLoop(l bool)     { s.loop = l }
func (s *fakeSource) Start(time.Duration) {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
}
func (s *fakeSource) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.finish()
}
func (s *fakeSource) Ended() <-chan struct{} { return s.ended }
func (s *fakeSource) finish()                { s.once.Do(func() { close(s.ended) }) }

func (s *fakeSource) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// manualFrames queues frame callbacks until the test advances the clock.
type manualFrames struct {
	mu      sync.Mutex
	pending []func()
}

func (f *manualFrames) RequestFrame(fn func()) {
	f.mu.Lock()
	f.pending = append(f.pending, fn)
	f.mu.Unlock()
}

// tick runs the callbacks queued before the call.
func (f *manualFrames) tick() {
	f.mu.Lock()
	fns := f.pending
	f.pending = nil
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (f *manualFrames) queued() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// fakePanner counts updates and records slot wiring.
type fakePanner struct {
	mu        sync.Mutex
	opts      PannerOptions
	inputs    map[int]Node
	positions map[int]geometry.Spherical
	view      Orientation
	updates   int
	loadURL   string
	loadErr   error
	loaded    chan struct{}
}

func newFakePanner() *fakePanner {
	return &fakePanner{
		inputs:    make(map[int]Node),
		positions: make(map[int]geometry.Spherical),
		loaded:    make(chan struct{}),
	}
}

func (p *fakePanner) factory() PannerFactory {
	return func(opts PannerOptions) Panner {
		p.opts = opts
		return p
	}
}

func (p *fakePanner) LoadHRTFSet(ctx context.Context, url string) error {
	p.mu.Lock()
	p.loadURL = url
	err := p.loadErr
	p.mu.Unlock()
	close(p.loaded)
	return err
}
func (p *fakePanner) ConnectInput(slot int, src Node) {
	p.mu.Lock()
	p.inputs[slot] = src
	p.mu.Unlock()
}
func (p *fakePanner) SetSourcePosition(slot int, pos geometry.Spherical) {
	p.mu.Lock()
	p.positions[slot] = pos
	p.mu.Unlock()
}
func (p *fakePanner) SetListenerView(o Orientation) {
	p.mu.Lock()
	p.view = o
	p.mu.Unlock()
}
func (p *fakePanner) ListenerView() Orientation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}
func (p *fakePanner) Update() {
	p.mu.Lock()
	p.updates++
	p.mu.Unlock()
}
func (p *fakePanner) ConnectOutputs(Node) {}

func (p *fakePanner) updateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updates
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
