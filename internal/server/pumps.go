package server

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"soundfield/internal/perform"
	"soundfield/internal/wsproto"
)

const (
	defaultWriteWait = 5 * time.Second

	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// closeStatus extracts a human-readable websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(pump, kind string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Info("ws "+pump+" exiting (close)", "client", c.id, "code", code, "reason", text)
		return
	}
	c.logger.Info("ws "+pump+" exiting ("+kind+" error)", "client", c.id, "error", err)
}

// writePump writes messages from the send queue to the websocket.
// It exits on write error or when send is closed.
func (c *Client) writePump(writeWait time.Duration) {
	if writeWait <= 0 {
		writeWait = defaultWriteWait
	}
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", "write", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", "ping", err)
				return
			}
		}
	}
}

// readPump reads frames until the connection fails. Performer frames are
// turned into controller events; room listeners' frames are discarded.
// On exit the client is unregistered and, for performers, its exit is
// reported to the controller.
func (c *Client) readPump(events chan<- perform.Event, readLimit int64) {
	defer c.leave(events)

	if readLimit > 0 {
		c.conn.SetReadLimit(readLimit)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.logExit("readPump", "read", err)
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if c.ns != NamespacePlay {
			continue
		}
		ev, ok := c.toEvent(frame)
		if !ok {
			continue
		}
		select {
		case events <- ev:
		case <-c.hub.done:
			return
		}
	}
}

// toEvent decodes a performer frame. Malformed frames are logged and
// dropped.
func (c *Client) toEvent(frame []byte) (perform.Event, bool) {
	env, v, err := wsproto.Decode(frame)
	if err != nil {
		c.logger.Debug("ws frame dropped", "client", c.id, "error", err)
		return nil, false
	}

	switch p := v.(type) {
	case wsproto.Enter:
		return perform.ClientEntered{Client: c.id, Position: p.Position, At: time.Now()}, true
	case wsproto.Touch:
		kind, ok := perform.TouchKindFromType(env.Type)
		if !ok {
			return nil, false
		}
		return perform.Touch{Kind: kind, Client: c.id, Sample: p.Sample()}, true
	default:
		c.logger.Debug("ws frame type not accepted from clients", "client", c.id, "type", env.Type)
		return nil, false
	}
}

func (c *Client) leave(events chan<- perform.Event) {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
	if c.ns != NamespacePlay || events == nil {
		return
	}
	select {
	case events <- perform.ClientExited{Client: c.id}:
	case <-c.hub.done:
	}
}
