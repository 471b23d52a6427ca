// Package player is the runtime of one installation device: it renders
// the local soundscape, follows the listener's orientation, and turns
// server synthesis updates into spatialized events.
package player

import (
	"log/slog"
	"math"
	"sync"

	"soundfield/internal/audio"
	"soundfield/internal/geometry"
	"soundfield/internal/touch"
	"soundfield/internal/wsproto"
)

// AmbientPosition is where the ambient loop sits relative to the listener.
var AmbientPosition = geometry.Spherical{Azimuth: 1, Elevation: 0, Distance: 1}

// Sound is a decoded payload and its level. Level applies to sounds
// played through the gain graph; panner slots play at unity.
type Sound struct {
	Buffer audio.Buffer
	Level  float64
}

// ExperienceConfig configures an Experience.
type ExperienceConfig struct {
	// Position is this device's place in the area.
	Position geometry.Point

	Ambient Sound
	Event   Sound
	Shake   Sound

	// ShakeThreshold is the acceleration magnitude that counts as a shake.
	ShakeThreshold float64
}

// Experience wires sensors and server updates into the audio engine.
// Its callbacks may be invoked from different goroutines.
type Experience struct {
	cfg      ExperienceConfig
	graph    *audio.Graph
	spatial  *audio.SpatialManager
	listener *audio.ListenerState
	debounce *audio.Debouncer
	logger   *slog.Logger

	mu        sync.Mutex
	clientID  string
	role      string
	soloistID int
}

// NewExperience builds an Experience on an already created audio engine.
func NewExperience(graph *audio.Graph, spatial *audio.SpatialManager, debounce *audio.Debouncer, cfg ExperienceConfig, logger *slog.Logger) *Experience {
	return &Experience{
		cfg:       cfg,
		graph:     graph,
		spatial:   spatial,
		listener:  &audio.ListenerState{},
		debounce:  debounce,
		logger:    logger,
		role:      "player",
		soloistID: -1,
	}
}

// Start begins the ambient loop.
func (e *Experience) Start() error {
	return e.spatial.Play(e.cfg.Ambient.Buffer, AmbientPosition, audio.SlotAmbient, true)
}

// OnOrientation feeds one raw orientation sample to the listener.
func (e *Experience) OnOrientation(raw audio.Orientation) {
	o := e.listener.Apply(raw)
	e.spatial.SetListenerOrientation(audio.Orientation{Azimuth: -o.Azimuth, Elevation: 0, Roll: -1})
}

// OnAcceleration plays the shake sound when the sample is strong enough
// and the debounce counter allows it.
func (e *Experience) OnAcceleration(a geometry.Vec3) bool {
	m := a.Length()
	if math.IsNaN(m) || m <= e.cfg.ShakeThreshold {
		return false
	}
	if !e.debounce.TryTrigger() {
		return false
	}
	e.graph.Play(e.cfg.Shake.Buffer, e.cfg.Shake.Level, false)
	e.logger.Debug("shake", "magnitude", m)
	return true
}

// OnLocalTouch handles gestures from this device's screen. Lifting the
// finger makes the current heading the new zero.
func (e *Experience) OnLocalTouch(g touch.Gesture) {
	if g.Type == wsproto.TypeTouchEnd {
		e.listener.Reset()
		e.logger.Debug("orientation calibrated", "offset_azimuth", e.listener.Offset().Azimuth)
	}
}

// OnWelcome records the id assigned by the server.
func (e *Experience) OnWelcome(w wsproto.Welcome) {
	e.mu.Lock()
	e.clientID = w.ClientID
	e.mu.Unlock()
	e.logger.Info("joined", "client", w.ClientID, "area_width", w.Area.Width, "area_height", w.Area.Height)
}

// OnRole records a role change.
func (e *Experience) OnRole(r wsproto.Role) {
	e.mu.Lock()
	e.role = r.Role
	e.soloistID = r.SoloistID
	e.mu.Unlock()
	e.logger.Info("role changed", "role", r.Role, "soloist_id", r.SoloistID)
}

// Role returns the current role and soloist id.
func (e *Experience) Role() (string, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role, e.soloistID
}

// OnSynthUpdate plays the event sound at the soloist's position as heard
// from here. Stop signals, silent updates and updates without a position
// are not rendered.
func (e *Experience) OnSynthUpdate(u wsproto.SynthUpdate) bool {
	if u.Stop || u.Position == nil || !(u.Intensity > 0) {
		return false
	}
	if !e.debounce.TryTrigger() {
		return false
	}
	pos := geometry.Relative(e.cfg.Position, *u.Position, geometry.Spherical{})
	if err := e.spatial.Play(e.cfg.Event.Buffer, pos, audio.SlotEvent, false); err != nil {
		e.logger.Warn("event playback failed", "error", err)
		return false
	}
	e.logger.Debug("synth event",
		"soloist_id", u.SoloistID,
		"distance", u.Distance,
		"intensity", u.Intensity,
		"azimuth", pos.Azimuth,
	)
	return true
}
