package perform

import (
	"fmt"
	"time"

	"soundfield/internal/geometry"
	"soundfield/internal/session"
	"soundfield/internal/wsproto"
)

// ==============================
// Events
// ==============================

// Event is the input to the controller. Events come from client sockets
// and from the admin socket.
type Event interface {
	eventMarker()
}

// ClientEntered registers a player at its area coordinates.
type ClientEntered struct {
	Client   session.ClientID
	Position geometry.Point
	At       time.Time
}

func (ClientEntered) eventMarker() {}

// ClientExited is emitted when a socket closes.
type ClientExited struct {
	Client session.ClientID
}

func (ClientExited) eventMarker() {}

// TouchKind is the phase of a soloist gesture.
type TouchKind int

const (
	TouchStart TouchKind = iota
	TouchMove
	TouchEnd
)

func (k TouchKind) String() string {
	switch k {
	case TouchStart:
		return wsproto.TypeTouchStart
	case TouchMove:
		return wsproto.TypeTouchMove
	case TouchEnd:
		return wsproto.TypeTouchEnd
	}
	return fmt.Sprintf("touch(%d)", int(k))
}

// TouchKindFromType maps a wire message type to a touch phase.
func TouchKindFromType(typ string) (TouchKind, bool) {
	switch typ {
	case wsproto.TypeTouchStart:
		return TouchStart, true
	case wsproto.TypeTouchMove:
		return TouchMove, true
	case wsproto.TypeTouchEnd:
		return TouchEnd, true
	}
	return 0, false
}

// Touch is a soloist gesture sample.
type Touch struct {
	Kind   TouchKind
	Client session.ClientID
	Sample geometry.Sample
}

func (Touch) eventMarker() {}

// SoloRequested asks to promote a client. Reply must be buffered; the
// controller never blocks on it.
type SoloRequested struct {
	Client session.ClientID
	Reply  chan<- error
}

func (SoloRequested) eventMarker() {}

// UnsoloRequested asks to demote a soloist.
type UnsoloRequested struct {
	Client session.ClientID
	Reply  chan<- error
}

func (UnsoloRequested) eventMarker() {}

// StatusRequested asks for a registry snapshot.
type StatusRequested struct {
	Reply chan<- session.Snapshot
}

func (StatusRequested) eventMarker() {}

// ==============================
// Commands (side effects)
// ==============================

// Command is an outbound message to be delivered by the transport.
type Command interface {
	commandMarker()
	String() string
}

// SendSynth unicasts a synthesis update to one player.
type SendSynth struct {
	To     session.ClientID
	Update wsproto.SynthUpdate
}

func (SendSynth) commandMarker() {}
func (c SendSynth) String() string {
	return fmt.Sprintf("SendSynth(to=%s distance=%.3f intensity=%.3f)", c.To, c.Update.Distance, c.Update.Intensity)
}

// MulticastSynth sends a synthesis update to the whole performance audience.
type MulticastSynth struct {
	Update wsproto.SynthUpdate
}

func (MulticastSynth) commandMarker() {}
func (c MulticastSynth) String() string {
	return fmt.Sprintf("MulticastSynth(distance=%.3f intensity=%.3f stop=%v)", c.Update.Distance, c.Update.Intensity, c.Update.Stop)
}

// BroadcastRoom sends a room-level update to every room listener.
type BroadcastRoom struct {
	Update wsproto.RoomUpdate
}

func (BroadcastRoom) commandMarker() {}
func (c BroadcastRoom) String() string {
	return fmt.Sprintf("BroadcastRoom(distance=%.3f intensity=%.3f)", c.Update.Distance, c.Update.Intensity)
}

// SendRole tells a client its role.
type SendRole struct {
	To   session.ClientID
	Role wsproto.Role
}

func (SendRole) commandMarker() {}
func (c SendRole) String() string {
	return fmt.Sprintf("SendRole(to=%s role=%s soloist_id=%d)", c.To, c.Role.Role, c.Role.SoloistID)
}
