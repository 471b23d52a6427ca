package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"soundfield/internal/geometry"
)

// Default panner settings.
const (
	DefaultSlotCount = 2
	DefaultCrossfade = 50 * time.Millisecond
)

// Well-known slots.
const (
	SlotAmbient = 0
	SlotEvent   = 1
)

// ManagerConfig configures a SpatialManager.
type ManagerConfig struct {
	Slots     int
	HRTFURL   string
	Crossfade time.Duration
	Frames    FrameScheduler
}

// SpatialManager owns the binaural panner of a session: its fixed source
// slots, their positions, and the listener orientation. Panner updates are
// coalesced to at most one per frame.
type SpatialManager struct {
	session *Session
	panner  Panner
	logger  *slog.Logger
	sched   *Coalescer

	hrtfLoaded atomic.Bool
	cancelLoad context.CancelFunc

	mu        sync.Mutex
	slots     []BufferSource
	positions []geometry.Spherical
	closed    bool
}

// NewSpatialManager allocates cfg.Slots panner slots at the neutral
// position and starts loading the HRTF set in the background. Until the set
// is loaded the panner's default spatialization is used.
func NewSpatialManager(ctx context.Context, session *Session, newPanner PannerFactory, cfg ManagerConfig, logger *slog.Logger) *SpatialManager {
	slots := cfg.Slots
	if slots <= 0 {
		slots = DefaultSlotCount
	}
	crossfade := cfg.Crossfade
	if crossfade <= 0 {
		crossfade = DefaultCrossfade
	}

	initial := make([]geometry.Spherical, slots)
	for i := range initial {
		initial[i] = geometry.Neutral
	}

	p := newPanner(PannerOptions{
		SourceCount:       slots,
		InitialPositions:  append([]geometry.Spherical(nil), initial...),
		CrossfadeDuration: crossfade,
	})
	p.ConnectOutputs(session.Master())

	m := &SpatialManager{
		session:   session,
		panner:    p,
		logger:    logger,
		slots:     make([]BufferSource, slots),
		positions: initial,
	}
	m.sched = NewCoalescer(cfg.Frames, m.panner.Update)

	loadCtx, cancel := context.WithCancel(ctx)
	m.cancelLoad = cancel
	if cfg.HRTFURL != "" {
		go m.loadHRTF(loadCtx, cfg.HRTFURL)
	}

	session.onClose(m.Close)
	return m
}

func (m *SpatialManager) loadHRTF(ctx context.Context, url string) {
	if err := m.panner.LoadHRTFSet(ctx, url); err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("hrtf load failed; using default spatialization", "url", url, "error", err)
		}
		return
	}
	m.hrtfLoaded.Store(true)
	m.logger.Info("hrtf loaded", "url", url)
	m.sched.Request()
}

// HRTFLoaded reports whether the HRTF set finished loading.
func (m *SpatialManager) HRTFLoaded() bool { return m.hrtfLoaded.Load() }

// SlotCount returns the number of fixed panner slots.
func (m *SpatialManager) SlotCount() int { return len(m.positions) }

// Play routes a fresh source for buf into slot, replacing the source
// previously routed there, positions the slot and starts playback. A
// degenerate position is replaced by the neutral one.
func (m *SpatialManager) Play(buf Buffer, pos geometry.Spherical, slot int, loop bool) error {
	if slot < 0 || slot >= len(m.positions) {
		return fmt.Errorf("panner slot %d out of range [0,%d)", slot, len(m.positions))
	}
	pos = pos.OrNeutral()

	src := m.session.Backend().CreateBufferSource()
	src.SetBuffer(buf)
	src.SetLoop(loop)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	prev := m.slots[slot]
	m.slots[slot] = src
	m.positions[slot] = pos
	m.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}

	m.panner.ConnectInput(slot, src)
	m.panner.SetSourcePosition(slot, pos)
	m.sched.Request()
	src.Start(0)
	return nil
}

// SetSourcePosition moves slot without restarting its source.
func (m *SpatialManager) SetSourcePosition(slot int, pos geometry.Spherical) error {
	if slot < 0 || slot >= len(m.positions) {
		return fmt.Errorf("panner slot %d out of range [0,%d)", slot, len(m.positions))
	}
	pos = pos.OrNeutral()

	m.mu.Lock()
	m.positions[slot] = pos
	m.mu.Unlock()

	m.panner.SetSourcePosition(slot, pos)
	m.sched.Request()
	return nil
}

// SourcePosition returns the last position set on slot.
func (m *SpatialManager) SourcePosition(slot int) (geometry.Spherical, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slot < 0 || slot >= len(m.positions) {
		return geometry.Spherical{}, false
	}
	return m.positions[slot], true
}

// SetListenerOrientation stores o on the panner and schedules an update.
func (m *SpatialManager) SetListenerOrientation(o Orientation) {
	m.panner.SetListenerView(o)
	m.sched.Request()
}

// ListenerOrientation returns the current listener view.
func (m *SpatialManager) ListenerOrientation() Orientation {
	return m.panner.ListenerView()
}

// Close stops every slot source, cancels a pending HRTF load and drops any
// scheduled update.
func (m *SpatialManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	slots := m.slots
	m.slots = make([]BufferSource, len(slots))
	m.mu.Unlock()

	m.cancelLoad()
	m.sched.Stop()
	for _, src := range slots {
		if src != nil {
			src.Stop()
		}
	}
}
