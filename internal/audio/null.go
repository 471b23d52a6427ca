package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"soundfield/internal/geometry"
)

// Clip is a Buffer known only by name and length. The headless player uses
// it in place of decoded audio.
type Clip struct {
	ClipName   string
	ClipLength time.Duration
}

func (c Clip) Name() string            { return c.ClipName }
func (c Clip) Duration() time.Duration { return c.ClipLength }

// NullBackend renders nothing. Its sources end after their buffer duration
// (never, when looping) or when stopped.
type NullBackend struct {
	dest nullNode
}

func NewNullBackend() *NullBackend { return &NullBackend{} }

func (b *NullBackend) CreateBufferSource() BufferSource {
	return &nullSource{ended: make(chan struct{})}
}

func (b *NullBackend) CreateGain() Gain { return &nullGain{level: 1} }

func (b *NullBackend) Destination() Node { return &b.dest }

type nullNode struct{}

func (*nullNode) Connect(Node) {}

type nullGain struct {
	mu    sync.Mutex
	level float64
}

func (g *nullGain) Connect(Node) {}

func (g *nullGain) SetLevel(level float64) {
	g.mu.Lock()
	g.level = level
	g.mu.Unlock()
}

func (g *nullGain) Level() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.level
}

type nullSource struct {
	mu     sync.Mutex
	buffer Buffer
	loop   bool
	timer  *time.Timer
	ended  chan struct{}
	done   bool
}

func (s *nullSource) Connect(Node) {}

func (s *nullSource) SetBuffer(b Buffer) {
	s.mu.Lock()
	s.buffer = b
	s.mu.Unlock()
}

func (s *nullSource) SetLoop(loop bool) {
	s.mu.Lock()
	s.loop = loop
	s.mu.Unlock()
}

func (s *nullSource) Start(when time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loop || s.done {
		return
	}
	d := when
	if s.buffer != nil {
		d += s.buffer.Duration()
	}
	s.timer = time.AfterFunc(d, s.Stop)
}

func (s *nullSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	if s.timer != nil {
		s.timer.Stop()
	}
	close(s.ended)
}

func (s *nullSource) Ended() <-chan struct{} { return s.ended }

// LogPanner is a Panner that keeps state and logs updates at debug level.
type LogPanner struct {
	logger *slog.Logger

	mu        sync.Mutex
	positions []geometry.Spherical
	view      Orientation
	updates   int
}

// NewLogPannerFactory returns a PannerFactory building LogPanners.
func NewLogPannerFactory(logger *slog.Logger) PannerFactory {
	return func(opts PannerOptions) Panner {
		pos := make([]geometry.Spherical, opts.SourceCount)
		copy(pos, opts.InitialPositions)
		return &LogPanner{logger: logger, positions: pos}
	}
}

func (p *LogPanner) LoadHRTFSet(ctx context.Context, url string) error {
	return ctx.Err()
}

func (p *LogPanner) ConnectInput(slot int, src Node) {}

func (p *LogPanner) SetSourcePosition(slot int, pos geometry.Spherical) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot >= 0 && slot < len(p.positions) {
		p.positions[slot] = pos
	}
}

func (p *LogPanner) SetListenerView(o Orientation) {
	p.mu.Lock()
	p.view = o
	p.mu.Unlock()
}

func (p *LogPanner) ListenerView() Orientation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}

func (p *LogPanner) Update() {
	p.mu.Lock()
	p.updates++
	n := p.updates
	view := p.view
	p.mu.Unlock()
	p.logger.Debug("panner update", "n", n, "listener_azimuth", view.Azimuth)
}

func (p *LogPanner) ConnectOutputs(dst Node) {}
