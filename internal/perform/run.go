package perform

import (
	"context"
	"log/slog"

	"soundfield/internal/session"
	"soundfield/internal/wsproto"
)

// Transport delivers outbound messages. Delivery is fire-and-forget: Send
// reports false when the recipient is no longer connected, the fan-out
// methods return how many clients were reached.
type Transport interface {
	Send(to session.ClientID, typ string, data any) bool
	Multicast(typ string, data any) int
	Room(typ string, data any) int
}

// Recorder receives controller metrics.
type Recorder interface {
	GestureHandled(kind string)
	GestureIgnored(kind string)
	SynthSent(n int)
	RecipientSkipped()
	ClientsChanged(clients, playing int)
}

type nopRecorder struct{}

func (nopRecorder) GestureHandled(string)   {}
func (nopRecorder) GestureIgnored(string)   {}
func (nopRecorder) SynthSent(int)           {}
func (nopRecorder) RecipientSkipped()       {}
func (nopRecorder) ClientsChanged(int, int) {}

// Run is the single owner of the controller and its registry. Each event
// is fully reduced and its commands delivered before the next one is read,
// so one client's gestures are handled strictly in arrival order.
//
// Run returns when ctx is canceled or events is closed.
func Run(ctx context.Context, events <-chan Event, ctrl *Controller, tr Transport, logger *slog.Logger) {
	var cmdQueue []Command

	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]
			deliver(tr, cmd, ctrl.rec, logger)
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("performance controller stopping (context canceled)")
			return

		case ev, ok := <-events:
			if !ok {
				logger.Info("performance controller stopping (events channel closed)")
				return
			}
			cmdQueue = append(cmdQueue, ctrl.Handle(ev)...)
			flushCommands()
		}
	}
}

func deliver(tr Transport, cmd Command, rec Recorder, logger *slog.Logger) {
	switch c := cmd.(type) {
	case SendSynth:
		if !tr.Send(c.To, wsproto.TypeUpdateSynth, c.Update) {
			rec.RecipientSkipped()
			logger.Debug("synth recipient not connected", "client", c.To)
			return
		}
		rec.SynthSent(1)

	case MulticastSynth:
		rec.SynthSent(tr.Multicast(wsproto.TypeUpdateSynth, c.Update))

	case BroadcastRoom:
		tr.Room(wsproto.TypeRoomUpdate, c.Update)

	case SendRole:
		if !tr.Send(c.To, wsproto.TypeRole, c.Role) {
			rec.RecipientSkipped()
			logger.Debug("role recipient not connected", "client", c.To)
			return
		}
		logger.Info("role assigned", "client", c.To, "role", c.Role.Role, "soloist_id", c.Role.SoloistID)

	default:
		logger.Warn("unknown command", "command", cmd.String())
	}
}
