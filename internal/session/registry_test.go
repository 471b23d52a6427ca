package session

import (
	"errors"
	"testing"
	"time"

	"soundfield/internal/geometry"
)

var t0 = time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

func TestRegistry_FirstClientBecomesSoloist(t *testing.T) {
	r := NewRegistry(Config{})

	changes := r.Enter("a", geometry.Point{X: 0, Y: 0}, t0)
	if len(changes) != 1 {
		t.Fatalf("expected one role change, got %d", len(changes))
	}
	if changes[0] != (RoleChange{Client: "a", Role: RoleSoloist, SoloistID: 0}) {
		t.Fatalf("unexpected change %+v", changes[0])
	}
	if !r.IsSoloist("a") {
		t.Fatalf("a should be soloist")
	}
	if r.PlayingCount() != 0 {
		t.Fatalf("soloist must not be in the playing set")
	}

	changes = r.Enter("b", geometry.Point{X: 1, Y: 0}, t0.Add(time.Second))
	if len(changes) != 0 {
		t.Fatalf("second client should stay a player, got %+v", changes)
	}
	playing := r.Playing()
	if len(playing) != 1 || playing[0].ID != "b" || playing[0].Position != (geometry.Point{X: 1}) {
		t.Fatalf("playing = %+v", playing)
	}
}

func TestRegistry_ExitPromotesLongestWaiting(t *testing.T) {
	r := NewRegistry(Config{})
	r.Enter("a", geometry.Point{}, t0)
	r.Enter("b", geometry.Point{}, t0.Add(1*time.Second))
	r.Enter("c", geometry.Point{}, t0.Add(2*time.Second))

	changes := r.Exit("a")
	if len(changes) != 1 || changes[0].Client != "b" || changes[0].Role != RoleSoloist {
		t.Fatalf("expected b promoted, got %+v", changes)
	}
	if _, ok := r.Client("a"); ok {
		t.Fatalf("a should be forgotten")
	}
	if r.IsSoloist("a") {
		t.Fatalf("stale id must not resolve as soloist")
	}
	if got := r.Playing(); len(got) != 1 || got[0].ID != "c" {
		t.Fatalf("playing = %+v", got)
	}
}

func TestRegistry_ExitOfPlayerLeavesSoloist(t *testing.T) {
	r := NewRegistry(Config{})
	r.Enter("a", geometry.Point{}, t0)
	r.Enter("b", geometry.Point{}, t0)

	if changes := r.Exit("b"); len(changes) != 0 {
		t.Fatalf("unexpected changes %+v", changes)
	}
	if !r.IsSoloist("a") || r.PlayingCount() != 0 {
		t.Fatalf("state after player exit is wrong: %+v", r.Snapshot())
	}
	if changes := r.Exit("unknown"); changes != nil {
		t.Fatalf("exit of unknown client should be a no-op")
	}
}

func TestRegistry_MultipleSoloistSlots(t *testing.T) {
	r := NewRegistry(Config{SoloistCount: 2})
	r.Enter("a", geometry.Point{}, t0)
	r.Enter("b", geometry.Point{}, t0)
	r.Enter("c", geometry.Point{}, t0)

	solo := r.Soloists()
	if solo[0] != "a" || solo[1] != "b" {
		t.Fatalf("soloists = %v", solo)
	}
	rec, _ := r.Client("b")
	if rec.SoloistID != 1 {
		t.Fatalf("b soloist id = %d, want 1", rec.SoloistID)
	}

	r.Exit("a")
	solo = r.Soloists()
	if solo[0] != "c" {
		t.Fatalf("freed slot 0 should go to c, got %v", solo)
	}
}

func TestRegistry_PromoteDemote(t *testing.T) {
	r := NewRegistry(Config{})
	r.Enter("a", geometry.Point{}, t0)
	r.Enter("b", geometry.Point{}, t0)

	if _, err := r.Promote("b"); !errors.Is(err, ErrNoFreeSlot) {
		t.Fatalf("expected ErrNoFreeSlot, got %v", err)
	}
	if _, err := r.Promote("a"); !errors.Is(err, ErrAlreadySolo) {
		t.Fatalf("expected ErrAlreadySolo, got %v", err)
	}
	if _, err := r.Demote("b"); !errors.Is(err, ErrNotSoloist) {
		t.Fatalf("expected ErrNotSoloist, got %v", err)
	}
	if _, err := r.Demote("zzz"); !errors.Is(err, ErrUnknownClient) {
		t.Fatalf("expected ErrUnknownClient, got %v", err)
	}

	ch, err := r.Demote("a")
	if err != nil {
		t.Fatalf("Demote: %v", err)
	}
	if ch.Role != RolePlayer || ch.SoloistID != NoSoloist {
		t.Fatalf("demote change = %+v", ch)
	}
	if r.IsSoloist("a") {
		t.Fatalf("a still soloist after demote")
	}

	ch, err = r.Promote("b")
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if ch.SoloistID != 0 || !r.IsSoloist("b") {
		t.Fatalf("b not promoted: %+v", ch)
	}
	if got := r.Playing(); len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("playing = %+v", got)
	}
}

func TestRegistry_ReEnterMovesClient(t *testing.T) {
	r := NewRegistry(Config{})
	r.Enter("a", geometry.Point{X: 0.1}, t0)
	r.Enter("b", geometry.Point{X: 0.2}, t0)
	r.Enter("b", geometry.Point{X: 0.9, Y: 0.4}, t0)

	if r.ClientCount() != 2 || r.PlayingCount() != 1 {
		t.Fatalf("re-enter must not duplicate: %+v", r.Snapshot())
	}
	if got := r.Playing()[0].Position; got != (geometry.Point{X: 0.9, Y: 0.4}) {
		t.Fatalf("position = %+v", got)
	}
}

func TestRegistry_Defaults(t *testing.T) {
	r := NewRegistry(Config{})
	if r.FingerRadius() != DefaultFingerRadius {
		t.Fatalf("finger radius = %v", r.FingerRadius())
	}
	if r.Area() != (Area{Width: 1, Height: 1}) {
		t.Fatalf("area = %+v", r.Area())
	}
	if r.SoloistSlots() != DefaultSoloistCount {
		t.Fatalf("slots = %d", r.SoloistSlots())
	}
}

func TestClientRecord_HistoryBounded(t *testing.T) {
	var c ClientRecord
	c.ResetHistory(geometry.Sample{Timestamp: 0})
	if _, _, ok := c.LastTwo(); ok {
		t.Fatalf("one sample must not yield a pair")
	}
	for i := 1; i <= 10; i++ {
		c.AppendHistory(geometry.Sample{Timestamp: float64(i)}, 4)
	}
	if len(c.History) != 4 {
		t.Fatalf("history length = %d, want 4", len(c.History))
	}
	newer, older, ok := c.LastTwo()
	if !ok || newer.Timestamp != 10 || older.Timestamp != 9 {
		t.Fatalf("LastTwo = %v %v %v", newer, older, ok)
	}

	c.ResetHistory(geometry.Sample{Timestamp: 100})
	if len(c.History) != 1 || c.History[0].Timestamp != 100 {
		t.Fatalf("reset history = %+v", c.History)
	}
}

func TestRegistry_SnapshotOrderedByEntry(t *testing.T) {
	r := NewRegistry(Config{Area: Area{Width: 4, Height: 3}})
	r.Enter("late", geometry.Point{}, t0.Add(time.Minute))
	r.Enter("early", geometry.Point{}, t0)

	s := r.Snapshot()
	if len(s.Clients) != 2 || s.Clients[0].ID != "early" {
		t.Fatalf("snapshot clients = %+v", s.Clients)
	}
	if s.Area.Width != 4 || s.Area.Height != 3 {
		t.Fatalf("snapshot area = %+v", s.Area)
	}
	if s.Clients[1].Role != "soloist" {
		t.Fatalf("first entrant should be soloist: %+v", s.Clients)
	}
}
