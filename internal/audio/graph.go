package audio

import (
	"log/slog"
	"math"
	"sync"
)

// MaxSourceGain is the upper clamp for a per-source gain stage.
const MaxSourceGain = 3.0

// Handle identifies one played source for its whole lifetime. Handles are
// never reused within a Graph.
type Handle uint64

// SourceState is the lifecycle state of a SoundSource.
type SourceState int

const (
	SourceScheduled SourceState = iota
	SourcePlaying
	SourceEnded
)

func (s SourceState) String() string {
	switch s {
	case SourceScheduled:
		return "scheduled"
	case SourcePlaying:
		return "playing"
	default:
		return "ended"
	}
}

// soundSource is one arena record: the backend source routed through its
// own gain stage into the session master.
type soundSource struct {
	handle Handle
	buffer Buffer
	loop   bool
	gain   float64
	state  SourceState

	src  BufferSource
	amp  Gain
	done chan struct{}
}

// Graph tracks every in-flight source of a player. Each source is routed
// source -> per-source gain -> master gain -> output.
//
// Sources are addressed by the Handle returned from Play. The graph also
// remembers the latest handle per payload name; replaying a payload
// supersedes that entry while the earlier source keeps playing.
type Graph struct {
	session *Session
	logger  *slog.Logger

	mu      sync.Mutex
	next    Handle
	sources map[Handle]*soundSource
	latest  map[string]Handle
	closing chan struct{}
	closed  bool
}

// NewGraph builds a Graph on session. The graph is torn down with it.
func NewGraph(session *Session, logger *slog.Logger) *Graph {
	g := &Graph{
		session: session,
		logger:  logger,
		sources: make(map[Handle]*soundSource),
		latest:  make(map[string]Handle),
		closing: make(chan struct{}),
	}
	session.onClose(g.Close)
	return g
}

// ClampGain maps any requested level into [0, MaxSourceGain].
func ClampGain(level float64) float64 {
	if math.IsNaN(level) {
		return 0
	}
	return math.Min(math.Abs(level), MaxSourceGain)
}

// Play starts buf immediately at gain min(|level|, 3.0) and returns its
// handle. The entry is released when the backend signals the end of
// playback.
func (g *Graph) Play(buf Buffer, level float64, loop bool) Handle {
	backend := g.session.Backend()

	src := backend.CreateBufferSource()
	src.SetBuffer(buf)
	src.SetLoop(loop)

	amp := backend.CreateGain()
	gain := ClampGain(level)
	amp.SetLevel(gain)

	src.Connect(amp)
	amp.Connect(g.session.Master())

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return 0
	}
	g.next++
	h := g.next
	s := &soundSource{
		handle: h,
		buffer: buf,
		loop:   loop,
		gain:   gain,
		state:  SourceScheduled,
		src:    src,
		amp:    amp,
		done:   make(chan struct{}),
	}
	g.sources[h] = s
	if buf != nil {
		g.latest[buf.Name()] = h
	}
	g.mu.Unlock()

	src.Start(0)

	g.mu.Lock()
	if s.state == SourceScheduled {
		s.state = SourcePlaying
	}
	g.mu.Unlock()

	go g.awaitEnd(s)

	return h
}

func (g *Graph) awaitEnd(s *soundSource) {
	select {
	case <-s.src.Ended():
	case <-g.closing:
		s.src.Stop()
	}
	g.release(s.handle)
}

// release drops the arena entry for h and closes its completion signal.
func (g *Graph) release(h Handle) {
	g.mu.Lock()
	s, ok := g.sources[h]
	if !ok {
		g.mu.Unlock()
		return
	}
	delete(g.sources, h)
	if s.buffer != nil && g.latest[s.buffer.Name()] == h {
		delete(g.latest, s.buffer.Name())
	}
	s.state = SourceEnded
	close(s.done)
	n := len(g.sources)
	g.mu.Unlock()

	if g.logger != nil {
		g.logger.Debug("audio source ended", "handle", uint64(h), "active", n)
	}
}

// Done returns a channel closed once the source behind h has ended. An
// unknown or already released handle yields a closed channel.
func (g *Graph) Done(h Handle) <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.sources[h]; ok {
		return s.done
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// State reports the lifecycle state of h.
func (g *Graph) State(h Handle) SourceState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.sources[h]; ok {
		return s.state
	}
	return SourceEnded
}

// Gain reports the gain applied to h, if it is still tracked.
func (g *Graph) Gain(h Handle) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sources[h]
	if !ok {
		return 0, false
	}
	return s.gain, true
}

// Latest returns the most recent handle played for the payload name.
func (g *Graph) Latest(name string) (Handle, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.latest[name]
	return h, ok
}

// Len is the number of tracked (not yet ended) sources.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sources)
}

// Close stops every tracked source. Later Play calls are no-ops.
func (g *Graph) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	close(g.closing)
	g.mu.Unlock()
}
