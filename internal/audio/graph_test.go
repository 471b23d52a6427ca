package audio

import (
	"math"
	"testing"
	"time"
)

func TestGraph_TableReturnsToBaselineAfterPlaybackEnds(t *testing.T) {
	backend := &fakeBackend{}
	session := NewSession(backend)
	g := NewGraph(session, discardLogger())

	const n = 25
	clip := Clip{ClipName: "event", ClipLength: time.Second}
	handles := make([]Handle, 0, n)
	for i := 0; i < n; i++ {
		handles = append(handles, g.Play(clip, 1, false))
	}
	if got := g.Len(); got != n {
		t.Fatalf("expected %d tracked sources, got %d", n, got)
	}

	for i := 0; i < n; i++ {
		backend.source(i).finish()
	}
	for _, h := range handles {
		select {
		case <-g.Done(h):
		case <-time.After(time.Second):
			t.Fatalf("handle %d never completed", h)
		}
	}

	if got := g.Len(); got != 0 {
		t.Fatalf("expected table to drain to 0, got %d", got)
	}
	if _, ok := g.Latest("event"); ok {
		t.Fatalf("latest entry should be released with its source")
	}
}

func TestGraph_SamePayloadPlaysIndependently(t *testing.T) {
	backend := &fakeBackend{}
	g := NewGraph(NewSession(backend), discardLogger())

	clip := Clip{ClipName: "shake", ClipLength: time.Second}
	first := g.Play(clip, 1, false)
	second := g.Play(clip, 0.5, false)

	if first == second {
		t.Fatalf("handles must be distinct, both %d", first)
	}
	if latest, _ := g.Latest("shake"); latest != second {
		t.Fatalf("latest = %d, want %d", latest, second)
	}

	// The superseded source keeps playing until it ends.
	if st := g.State(first); st != SourcePlaying {
		t.Fatalf("first source state = %v, want playing", st)
	}

	backend.source(0).finish()
	<-g.Done(first)

	if st := g.State(second); st != SourcePlaying {
		t.Fatalf("second source state = %v, want playing", st)
	}
	if latest, ok := g.Latest("shake"); !ok || latest != second {
		t.Fatalf("ending the older source must not drop the newer lookup entry")
	}
}

func TestGraph_GainClamped(t *testing.T) {
	tests := []struct {
		level float64
		want  float64
	}{
		{1, 1},
		{-2, 2},
		{7, MaxSourceGain},
		{-9, MaxSourceGain},
		{0, 0},
		{math.NaN(), 0},
		{math.Inf(1), MaxSourceGain},
	}

	backend := &fakeBackend{}
	g := NewGraph(NewSession(backend), discardLogger())
	for _, tt := range tests {
		h := g.Play(Clip{ClipName: "x"}, tt.level, false)
		got, ok := g.Gain(h)
		if !ok {
			t.Fatalf("level %v: handle not tracked", tt.level)
		}
		if got != tt.want {
			t.Fatalf("level %v: gain %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestGraph_RoutesThroughPerSourceGainIntoMaster(t *testing.T) {
	backend := &fakeBackend{}
	session := NewSession(backend)
	g := NewGraph(session, discardLogger())

	g.Play(Clip{ClipName: "a"}, 2, true)

	src := backend.source(0)
	if !src.started {
		t.Fatalf("source not started")
	}
	if !src.loop {
		t.Fatalf("loop flag not applied")
	}
	// gains[0] is the session master, gains[1] the per-source stage.
	amp := backend.gains[1]
	if src.dst != Node(amp) {
		t.Fatalf("source should connect to its own gain stage")
	}
	if amp.dst != Node(session.Master()) {
		t.Fatalf("per-source gain should connect to the master gain")
	}
	if backend.gains[0].dst != backend.Destination() {
		t.Fatalf("master gain should connect to the destination")
	}
}

func TestGraph_SessionCloseStopsSources(t *testing.T) {
	backend := &fakeBackend{}
	session := NewSession(backend)
	g := NewGraph(session, discardLogger())

	h1 := g.Play(Clip{ClipName: "ambient"}, 1, true)
	h2 := g.Play(Clip{ClipName: "event"}, 1, false)

	session.Close()

	for _, h := range []Handle{h1, h2} {
		select {
		case <-g.Done(h):
		case <-time.After(time.Second):
			t.Fatalf("handle %d not released on close", h)
		}
	}
	if !backend.source(0).isStopped() || !backend.source(1).isStopped() {
		t.Fatalf("sources should be stopped on session close")
	}
	if h := g.Play(Clip{ClipName: "late"}, 1, false); h != 0 {
		t.Fatalf("play after close should be a no-op, got handle %d", h)
	}
	if g.Len() != 0 {
		t.Fatalf("expected empty table after close, got %d", g.Len())
	}
}

func TestNullBackend_SourceEndsAfterDuration(t *testing.T) {
	g := NewGraph(NewSession(NewNullBackend()), discardLogger())

	h := g.Play(Clip{ClipName: "blip", ClipLength: 10 * time.Millisecond}, 1, false)
	select {
	case <-g.Done(h):
	case <-time.After(time.Second):
		t.Fatalf("null source never ended")
	}
	waitUntil(t, 500*time.Millisecond, func() bool { return g.Len() == 0 }, "table did not drain")
}
