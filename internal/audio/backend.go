// Package audio manages what a player hears: an explicitly owned audio
// session, the per-source gain graph, and the binaural panner slots fed by
// listener orientation.
//
// The audio graph primitives and the HRTF panner itself live outside this
// package; it only depends on the narrow interfaces declared here.
package audio

import (
	"context"
	"time"

	"soundfield/internal/geometry"
)

// Buffer is a decoded, externally owned audio payload. It is never mutated
// by this package.
type Buffer interface {
	Name() string
	Duration() time.Duration
}

// Node is anything that can be wired into the audio graph.
type Node interface {
	Connect(dst Node)
}

// BufferSource plays a Buffer once (or in a loop).
//
// Ended is closed by the backend when playback completes naturally or after
// Stop; it is the only end-of-playback signal this package listens to.
type BufferSource interface {
	Node
	SetBuffer(b Buffer)
	SetLoop(loop bool)
	Start(when time.Duration)
	Stop()
	Ended() <-chan struct{}
}

// Gain scales its input by a linear level.
type Gain interface {
	Node
	SetLevel(level float64)
	Level() float64
}

// Backend creates graph nodes and owns the output destination.
type Backend interface {
	CreateBufferSource() BufferSource
	CreateGain() Gain
	Destination() Node
}

// Orientation is the listener view handed to the panner: azimuth,
// elevation and a roll-equivalent third component.
type Orientation struct {
	Azimuth   float64
	Elevation float64
	Roll      float64
}

// PannerOptions configures a Panner at construction.
type PannerOptions struct {
	SourceCount       int
	InitialPositions  []geometry.Spherical
	CrossfadeDuration time.Duration
}

// Panner is a multi-source binaural panner with fixed input slots and one
// listener. Update recomputes the filters for the current positions and
// listener view and is expensive.
type Panner interface {
	LoadHRTFSet(ctx context.Context, url string) error
	ConnectInput(slot int, src Node)
	SetSourcePosition(slot int, pos geometry.Spherical)
	SetListenerView(o Orientation)
	ListenerView() Orientation
	Update()
	ConnectOutputs(dst Node)
}

// PannerFactory builds a Panner for the given options.
type PannerFactory func(opts PannerOptions) Panner
