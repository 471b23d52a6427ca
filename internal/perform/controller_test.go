package perform

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"soundfield/internal/geometry"
	"soundfield/internal/session"
	"soundfield/internal/wsproto"
)

var t0 = time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sent struct {
	to   session.ClientID
	typ  string
	data any
}

// fakeTransport records deliveries. Clients listed in gone are treated as
// disconnected.
type fakeTransport struct {
	mu        sync.Mutex
	unicast   []sent
	multicast []sent
	room      []sent
	gone      map[session.ClientID]bool
	audience  int
}

func (f *fakeTransport) Send(to session.ClientID, typ string, data any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone[to] {
		return false
	}
	f.unicast = append(f.unicast, sent{to: to, typ: typ, data: data})
	return true
}

func (f *fakeTransport) Multicast(typ string, data any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.multicast = append(f.multicast, sent{typ: typ, data: data})
	return f.audience
}

func (f *fakeTransport) Room(typ string, data any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.room = append(f.room, sent{typ: typ, data: data})
	return 1
}

func (f *fakeTransport) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.unicast), len(f.multicast), len(f.room)
}

type recorded struct {
	handled int
	ignored int
	sent    int
	skipped int
	clients int
	playing int
}

type fakeRecorder struct {
	mu sync.Mutex
	n  recorded
}

func (r *fakeRecorder) GestureHandled(string) { r.mu.Lock(); r.n.handled++; r.mu.Unlock() }
func (r *fakeRecorder) GestureIgnored(string) { r.mu.Lock(); r.n.ignored++; r.mu.Unlock() }
func (r *fakeRecorder) SynthSent(n int)       { r.mu.Lock(); r.n.sent += n; r.mu.Unlock() }
func (r *fakeRecorder) RecipientSkipped()     { r.mu.Lock(); r.n.skipped++; r.mu.Unlock() }
func (r *fakeRecorder) ClientsChanged(c, p int) {
	r.mu.Lock()
	r.n.clients, r.n.playing = c, p
	r.mu.Unlock()
}

func (r *fakeRecorder) snapshot() recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// twoClients sets up a unit square with soloist A at (0,0) and player B at
// (1,0).
func twoClients(t *testing.T) *Controller {
	t.Helper()
	c := NewController(session.NewRegistry(session.Config{
		Area:         session.Area{Width: 1, Height: 1},
		FingerRadius: 0.3,
	}), Config{}, nil)
	c.Handle(ClientEntered{Client: "A", Position: geometry.Point{X: 0, Y: 0}, At: t0})
	c.Handle(ClientEntered{Client: "B", Position: geometry.Point{X: 1, Y: 0}, At: t0.Add(time.Second)})
	if !c.Registry().IsSoloist("A") {
		t.Fatalf("A should be soloist")
	}
	return c
}

func touch(kind TouchKind, id session.ClientID, x, y, ts float64) Touch {
	return Touch{Kind: kind, Client: id, Sample: geometry.Sample{Position: geometry.Point{X: x, Y: y}, Timestamp: ts}}
}

func synthTo(t *testing.T, cmds []Command, id session.ClientID) wsproto.SynthUpdate {
	t.Helper()
	for _, cmd := range cmds {
		if s, ok := cmd.(SendSynth); ok && s.To == id {
			return s.Update
		}
	}
	t.Fatalf("no synth update addressed to %s in %v", id, cmds)
	return wsproto.SynthUpdate{}
}

func roomUpdate(t *testing.T, cmds []Command) wsproto.RoomUpdate {
	t.Helper()
	for _, cmd := range cmds {
		if r, ok := cmd.(BroadcastRoom); ok {
			return r.Update
		}
	}
	t.Fatalf("no room update in %v", cmds)
	return wsproto.RoomUpdate{}
}

func TestHandle_TouchStartUnicastsClampedDistance(t *testing.T) {
	c := twoClients(t)

	cmds := c.Handle(touch(TouchStart, "A", 0.5, 0, 0))

	u := synthTo(t, cmds, "B")
	if u.Distance != 1 {
		t.Fatalf("distance = %v, want 1 (0.5/0.3 clamped)", u.Distance)
	}
	if u.Intensity != 0 {
		t.Fatalf("intensity = %v, want 0", u.Intensity)
	}
	if u.SoloistID != 0 || u.Position == nil || *u.Position != (geometry.Point{X: 0.5}) {
		t.Fatalf("unexpected update %+v", u)
	}

	r := roomUpdate(t, cmds)
	if r.Distance != 1 || r.Intensity != 0 || r.Position != (geometry.Point{X: 0.5}) {
		t.Fatalf("room update = %+v", r)
	}

	rec, _ := c.Registry().Client("A")
	if len(rec.History) != 1 {
		t.Fatalf("touchstart should reset history to one sample, got %d", len(rec.History))
	}
}

func TestHandle_TouchMoveIntensityFromVelocity(t *testing.T) {
	c := twoClients(t)

	c.Handle(touch(TouchStart, "A", 0, 0, 0))
	cmds := c.Handle(touch(TouchMove, "A", 0, 1, 2))

	u := synthTo(t, cmds, "B")
	if math.Abs(u.Intensity-0.25) > 1e-12 {
		t.Fatalf("intensity = %v, want 0.25", u.Intensity)
	}
	if r := roomUpdate(t, cmds); math.Abs(r.Intensity-0.25) > 1e-12 {
		t.Fatalf("room intensity = %v, want 0.25", r.Intensity)
	}
}

func TestHandle_TouchMoveIdenticalTimestampsClampToOne(t *testing.T) {
	c := twoClients(t)

	c.Handle(touch(TouchStart, "A", 0, 0, 5))
	cmds := c.Handle(touch(TouchMove, "A", 0.2, 0, 5))
	if u := synthTo(t, cmds, "B"); u.Intensity != 1 {
		t.Fatalf("intensity = %v, want 1", u.Intensity)
	}

	// Same position and timestamp: 0/0.
	cmds = c.Handle(touch(TouchMove, "A", 0.2, 0, 5))
	if u := synthTo(t, cmds, "B"); u.Intensity != 0 {
		t.Fatalf("intensity = %v, want 0", u.Intensity)
	}
}

func TestHandle_SubwooferDistanceIsMinimum(t *testing.T) {
	c := NewController(session.NewRegistry(session.Config{FingerRadius: 1}), Config{}, nil)
	c.Handle(ClientEntered{Client: "S", At: t0})
	c.Handle(ClientEntered{Client: "near", Position: geometry.Point{X: 0.2}, At: t0})
	c.Handle(ClientEntered{Client: "far", Position: geometry.Point{X: 0.9}, At: t0})

	cmds := c.Handle(touch(TouchStart, "S", 0.1, 0, 0))
	r := roomUpdate(t, cmds)
	if math.Abs(r.Distance-0.1) > 1e-12 {
		t.Fatalf("subwoofer distance = %v, want 0.1", r.Distance)
	}
	if d := synthTo(t, cmds, "far").Distance; math.Abs(d-0.8) > 1e-12 {
		t.Fatalf("far distance = %v, want 0.8", d)
	}
}

func TestHandle_NoPlayersRoomDistanceIsOne(t *testing.T) {
	c := NewController(session.NewRegistry(session.Config{}), Config{}, nil)
	c.Handle(ClientEntered{Client: "S", At: t0})

	cmds := c.Handle(touch(TouchStart, "S", 0.4, 0.4, 0))
	if len(cmds) != 1 {
		t.Fatalf("expected only the room update, got %v", cmds)
	}
	if r := roomUpdate(t, cmds); r.Distance != 1 {
		t.Fatalf("subwoofer distance = %v, want 1", r.Distance)
	}
}

func TestHandle_TouchEndBroadcastsStop(t *testing.T) {
	c := twoClients(t)
	c.Handle(touch(TouchStart, "A", 0.5, 0.5, 0))

	cmds := c.Handle(touch(TouchEnd, "A", 0.5, 0.5, 1))
	if len(cmds) != 2 {
		t.Fatalf("expected multicast + room, got %v", cmds)
	}
	m, ok := cmds[0].(MulticastSynth)
	if !ok {
		t.Fatalf("first command %T, want MulticastSynth", cmds[0])
	}
	if m.Update.Intensity != 1 || m.Update.Distance != 0 || !m.Update.Stop {
		t.Fatalf("stop update = %+v", m.Update)
	}
	if r := roomUpdate(t, cmds); r.Intensity != 1 || r.Distance != 0 {
		t.Fatalf("room update = %+v", r)
	}

	rec, _ := c.Registry().Client("A")
	if len(rec.History) != 1 {
		t.Fatalf("touchend must leave history alone, got %d samples", len(rec.History))
	}
}

func TestHandle_StaleSoloistProducesNothing(t *testing.T) {
	c := twoClients(t)

	for _, kind := range []TouchKind{TouchStart, TouchMove, TouchEnd} {
		if cmds := c.Handle(touch(kind, "B", 0.5, 0, 0)); len(cmds) != 0 {
			t.Fatalf("%s from a player produced %v", kind, cmds)
		}
		if cmds := c.Handle(touch(kind, "ghost", 0.5, 0, 0)); len(cmds) != 0 {
			t.Fatalf("%s from unknown socket produced %v", kind, cmds)
		}
	}
}

func TestHandle_EnterSendsRoles(t *testing.T) {
	c := NewController(session.NewRegistry(session.Config{}), Config{}, nil)

	cmds := c.Handle(ClientEntered{Client: "A", At: t0})
	if len(cmds) != 1 {
		t.Fatalf("expected one role, got %v", cmds)
	}
	if r := cmds[0].(SendRole); r.To != "A" || r.Role.Role != "soloist" || r.Role.SoloistID != 0 {
		t.Fatalf("role = %+v", r)
	}

	cmds = c.Handle(ClientEntered{Client: "B", At: t0})
	if len(cmds) != 1 {
		t.Fatalf("expected one role, got %v", cmds)
	}
	if r := cmds[0].(SendRole); r.To != "B" || r.Role.Role != "player" || r.Role.SoloistID != session.NoSoloist {
		t.Fatalf("role = %+v", r)
	}

	// Moving an existing client does not resend its role.
	if cmds := c.Handle(ClientEntered{Client: "B", Position: geometry.Point{X: 1}, At: t0}); len(cmds) != 0 {
		t.Fatalf("re-enter produced %v", cmds)
	}

	cmds = c.Handle(ClientExited{Client: "A"})
	if len(cmds) != 1 {
		t.Fatalf("expected B promoted, got %v", cmds)
	}
	if r := cmds[0].(SendRole); r.To != "B" || r.Role.Role != "soloist" {
		t.Fatalf("role = %+v", r)
	}
}

func TestHandle_AdminSoloUnsolo(t *testing.T) {
	c := twoClients(t)

	errc := make(chan error, 1)
	c.Handle(SoloRequested{Client: "B", Reply: errc})
	if err := <-errc; !errors.Is(err, session.ErrNoFreeSlot) {
		t.Fatalf("solo with full slots: %v", err)
	}

	cmds := c.Handle(UnsoloRequested{Client: "A", Reply: errc})
	if err := <-errc; err != nil {
		t.Fatalf("unsolo: %v", err)
	}
	if len(cmds) != 1 || cmds[0].(SendRole).Role.Role != "player" {
		t.Fatalf("unsolo commands = %v", cmds)
	}

	c.Handle(SoloRequested{Client: "B", Reply: errc})
	if err := <-errc; err != nil {
		t.Fatalf("solo: %v", err)
	}
	if !c.Registry().IsSoloist("B") {
		t.Fatalf("B should be soloist")
	}

	// A is a player again and now receives B's gestures.
	cmds = c.Handle(touch(TouchStart, "B", 0, 0, 0))
	if u := synthTo(t, cmds, "A"); u.Distance != 0 {
		t.Fatalf("distance to A = %v, want 0", u.Distance)
	}

	statc := make(chan session.Snapshot, 1)
	c.Handle(StatusRequested{Reply: statc})
	snap := <-statc
	if len(snap.Soloists) != 1 || snap.Soloists[0] != "B" {
		t.Fatalf("snapshot soloists = %v", snap.Soloists)
	}
}

func TestHandle_HistoryBounded(t *testing.T) {
	c := NewController(session.NewRegistry(session.Config{}), Config{HistoryLimit: 3}, nil)
	c.Handle(ClientEntered{Client: "S", At: t0})

	c.Handle(touch(TouchStart, "S", 0, 0, 0))
	for i := 1; i <= 10; i++ {
		c.Handle(touch(TouchMove, "S", 0, 0, float64(i)))
	}
	rec, _ := c.Registry().Client("S")
	if len(rec.History) != 3 {
		t.Fatalf("history length = %d, want 3", len(rec.History))
	}
}

func TestRun_DeliversAndSkipsDisconnected(t *testing.T) {
	reg := session.NewRegistry(session.Config{})
	rec := &fakeRecorder{}
	ctrl := NewController(reg, Config{}, rec)
	tr := &fakeTransport{gone: map[session.ClientID]bool{"C": true}, audience: 3}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan Event, 16)
	done := make(chan struct{})
	go func() {
		Run(ctx, events, ctrl, tr, discardLogger())
		close(done)
	}()

	events <- ClientEntered{Client: "A", At: t0}
	events <- ClientEntered{Client: "B", Position: geometry.Point{X: 1}, At: t0}
	events <- ClientEntered{Client: "C", Position: geometry.Point{Y: 1}, At: t0}
	events <- touch(TouchStart, "A", 0.5, 0.5, 0)
	events <- touch(TouchMove, "B", 0.5, 0.5, 1)
	events <- touch(TouchEnd, "A", 0.5, 0.5, 2)

	waitUntil(t, time.Second, func() bool {
		_, m, r := tr.counts()
		return m == 1 && r == 2
	}, "touch sequence not delivered")

	got := rec.snapshot()
	if got.handled != 2 || got.ignored != 1 {
		t.Fatalf("handled=%d ignored=%d, want 2 and 1", got.handled, got.ignored)
	}
	// C is gone: its role and its synth update are skipped.
	if got.skipped != 2 {
		t.Fatalf("skipped = %d, want 2", got.skipped)
	}
	// One unicast to B plus the stop multicast reaching 3 clients.
	if got.sent != 4 {
		t.Fatalf("sent = %d, want 4", got.sent)
	}
	if got.clients != 3 || got.playing != 2 {
		t.Fatalf("clients=%d playing=%d", got.clients, got.playing)
	}

	close(events)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop when events closed")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctrl := NewController(session.NewRegistry(session.Config{}), Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Run(ctx, make(chan Event), ctrl, &fakeTransport{}, discardLogger())
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop on cancel")
	}
}

func TestTouchKindFromType(t *testing.T) {
	for _, k := range []TouchKind{TouchStart, TouchMove, TouchEnd} {
		got, ok := TouchKindFromType(k.String())
		if !ok || got != k {
			t.Fatalf("%s round trip = %v %v", k, got, ok)
		}
	}
	if _, ok := TouchKindFromType("enter"); ok {
		t.Fatalf("enter is not a touch")
	}
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
