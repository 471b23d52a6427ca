// Package perform turns soloist gestures into synthesis updates for the
// players and the room.
//
// The Controller owns the session registry. Handle computes the outbound
// commands for one event without performing I/O; Run is the only place
// that delivers them.
package perform

import (
	"math"

	"soundfield/internal/geometry"
	"soundfield/internal/session"
	"soundfield/internal/wsproto"
)

// DefaultVelocityScale is the velocity that maps to full intensity.
const DefaultVelocityScale = 2.0

// Config tunes gesture handling.
type Config struct {
	// HistoryLimit caps the per-client touch history.
	HistoryLimit int
	// VelocityScale divides raw velocity before clamping to [0,1].
	VelocityScale float64
}

// Controller is the gesture state machine. It is not safe for concurrent
// use; Run serializes every call.
type Controller struct {
	reg *session.Registry
	cfg Config
	rec Recorder
}

// NewController wraps reg. A nil recorder discards metrics.
func NewController(reg *session.Registry, cfg Config, rec Recorder) *Controller {
	if cfg.HistoryLimit < 2 {
		cfg.HistoryLimit = session.DefaultHistoryLimit
	}
	if cfg.VelocityScale <= 0 || math.IsNaN(cfg.VelocityScale) {
		cfg.VelocityScale = DefaultVelocityScale
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Controller{reg: reg, cfg: cfg, rec: rec}
}

// Registry exposes the owned registry. Callers must be on the Run goroutine.
func (c *Controller) Registry() *session.Registry { return c.reg }

// Handle reduces one event into outbound commands.
func (c *Controller) Handle(e Event) []Command {
	switch ev := e.(type) {
	case ClientEntered:
		_, known := c.reg.Client(ev.Client)
		changes := c.reg.Enter(ev.Client, ev.Position, ev.At)
		cmds := roleCommands(changes)
		if !known && !promoted(changes, ev.Client) {
			cmds = append(cmds, SendRole{To: ev.Client, Role: wsproto.Role{
				Role:      session.RolePlayer.String(),
				SoloistID: session.NoSoloist,
			}})
		}
		c.rec.ClientsChanged(c.reg.ClientCount(), c.reg.PlayingCount())
		return cmds

	case ClientExited:
		cmds := roleCommands(c.reg.Exit(ev.Client))
		c.rec.ClientsChanged(c.reg.ClientCount(), c.reg.PlayingCount())
		return cmds

	case Touch:
		return c.handleTouch(ev)

	case SoloRequested:
		ch, err := c.reg.Promote(ev.Client)
		reply(ev.Reply, err)
		if err != nil {
			return nil
		}
		c.rec.ClientsChanged(c.reg.ClientCount(), c.reg.PlayingCount())
		return roleCommands([]session.RoleChange{ch})

	case UnsoloRequested:
		ch, err := c.reg.Demote(ev.Client)
		reply(ev.Reply, err)
		if err != nil {
			return nil
		}
		c.rec.ClientsChanged(c.reg.ClientCount(), c.reg.PlayingCount())
		return roleCommands([]session.RoleChange{ch})

	case StatusRequested:
		if ev.Reply != nil {
			select {
			case ev.Reply <- c.reg.Snapshot():
			default:
			}
		}
		return nil

	default:
		return nil
	}
}

func (c *Controller) handleTouch(ev Touch) []Command {
	// Gestures from sockets that lost (or never had) a soloist slot are
	// dropped without a trace on the wire.
	if !c.reg.IsSoloist(ev.Client) {
		c.rec.GestureIgnored(ev.Kind.String())
		return nil
	}
	rec, _ := c.reg.Client(ev.Client)
	c.rec.GestureHandled(ev.Kind.String())

	pos := ev.Sample.Position
	switch ev.Kind {
	case TouchStart:
		rec.ResetHistory(ev.Sample)
		return c.fanOut(rec.SoloistID, pos, 0)

	case TouchMove:
		rec.AppendHistory(ev.Sample, c.cfg.HistoryLimit)
		return c.fanOut(rec.SoloistID, pos, c.intensity(rec))

	case TouchEnd:
		return []Command{
			MulticastSynth{Update: wsproto.SynthUpdate{
				SoloistID: rec.SoloistID,
				Distance:  0,
				Intensity: 1,
				Stop:      true,
			}},
			BroadcastRoom{Update: wsproto.RoomUpdate{
				SoloistID: rec.SoloistID,
				Position:  pos,
				Distance:  0,
				Intensity: 1,
			}},
		}
	}
	return nil
}

// intensity is the normalized velocity of the two most recent samples.
func (c *Controller) intensity(rec *session.ClientRecord) float64 {
	newer, older, ok := rec.LastTwo()
	if !ok {
		return 0
	}
	area := c.reg.Area()
	v := geometry.Velocity(newer, older, area.Height, area.Width)
	return geometry.Clamp01(v / c.cfg.VelocityScale)
}

// fanOut unicasts the scaled distance to every playing client and follows
// up with the room update carrying the smallest distance seen.
func (c *Controller) fanOut(soloistID int, pos geometry.Point, intensity float64) []Command {
	area := c.reg.Area()
	radius := c.reg.FingerRadius()
	playing := c.reg.Playing()

	cmds := make([]Command, 0, len(playing)+1)
	subwoofer := 1.0
	for _, p := range playing {
		d := geometry.ScaleDistance(geometry.NormalizedDistance(p.Position, pos, area.Height, area.Width), radius)
		at := pos
		cmds = append(cmds, SendSynth{To: p.ID, Update: wsproto.SynthUpdate{
			SoloistID: soloistID,
			Distance:  d,
			Intensity: intensity,
			Position:  &at,
		}})
		if d < subwoofer {
			subwoofer = d
		}
	}
	cmds = append(cmds, BroadcastRoom{Update: wsproto.RoomUpdate{
		SoloistID: soloistID,
		Position:  pos,
		Distance:  subwoofer,
		Intensity: intensity,
	}})
	return cmds
}

func roleCommands(changes []session.RoleChange) []Command {
	if len(changes) == 0 {
		return nil
	}
	cmds := make([]Command, 0, len(changes))
	for _, ch := range changes {
		cmds = append(cmds, SendRole{To: ch.Client, Role: wsproto.Role{
			Role:      ch.Role.String(),
			SoloistID: ch.SoloistID,
		}})
	}
	return cmds
}

func promoted(changes []session.RoleChange, id session.ClientID) bool {
	for _, ch := range changes {
		if ch.Client == id {
			return true
		}
	}
	return false
}

func reply(ch chan<- error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}
