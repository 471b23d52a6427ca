package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"soundfield/internal/geometry"
	"soundfield/internal/touch"
	"soundfield/internal/wsproto"
)

const (
	defaultReconnect = 2 * time.Second
	handshakeTimeout = 5 * time.Second
	linkWriteWait    = 5 * time.Second
	outboxSize       = 64
)

// Handler receives the frames the server addresses to this device.
type Handler interface {
	OnWelcome(w wsproto.Welcome)
	OnRole(r wsproto.Role)
	OnSynthUpdate(u wsproto.SynthUpdate) bool
}

// LinkConfig configures a Link.
type LinkConfig struct {
	URL       string
	Position  geometry.Point
	Reconnect time.Duration
}

// Link keeps a performer connection to the server open, announcing the
// device position on every (re)connect.
type Link struct {
	cfg     LinkConfig
	handler Handler
	logger  *slog.Logger
	dialer  websocket.Dialer
	outbox  chan []byte
}

// NewLink validates the server URL and returns an unconnected Link.
func NewLink(cfg LinkConfig, h Handler, logger *slog.Logger) (*Link, error) {
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if cfg.Reconnect <= 0 {
		cfg.Reconnect = defaultReconnect
	}
	return &Link{
		cfg:     cfg,
		handler: h,
		logger:  logger,
		dialer:  websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		outbox:  make(chan []byte, outboxSize),
	}, nil
}

// SendTouch queues a gesture for the server. It never blocks; a gesture
// that does not fit is dropped.
func (l *Link) SendTouch(g touch.Gesture) bool {
	frame, err := wsproto.Marshal(g.Type, wsproto.Touch{Position: g.Position, Timestamp: g.Timestamp}, time.Now())
	if err != nil {
		l.logger.Warn("touch encode failed", "error", err)
		return false
	}
	select {
	case l.outbox <- frame:
		return true
	default:
		l.logger.Debug("touch dropped (outbox full)", "type", g.Type)
		return false
	}
}

// Run connects and serves the link until ctx is canceled, reconnecting
// after every failure.
func (l *Link) Run(ctx context.Context) error {
	for {
		err := l.connectAndServe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn("server link lost; reconnecting...", "url", l.cfg.URL, "error", err, "retry_in", l.cfg.Reconnect)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.cfg.Reconnect):
		}
	}
}

func (l *Link) connectAndServe(ctx context.Context) error {
	conn, _, err := l.dialer.DialContext(ctx, l.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	l.logger.Info("connected to server", "url", l.cfg.URL)

	// Gestures queued while disconnected are stale.
	l.drainOutbox()

	enter, err := wsproto.Marshal(wsproto.TypeEnter, wsproto.Enter{Position: l.cfg.Position}, time.Now())
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(linkWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, enter); err != nil {
		return fmt.Errorf("send enter: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writeErr := make(chan error, 1)
	go func() { writeErr <- l.writeLoop(ctx, conn) }()

	// Unblock ReadMessage on shutdown.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	err = l.readLoop(conn)
	cancel()
	if werr := <-writeErr; err == nil {
		err = werr
	}
	return err
}

func (l *Link) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return nil
		case frame := <-l.outbox:
			_ = conn.SetWriteDeadline(time.Now().Add(linkWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

func (l *Link) readLoop(conn *websocket.Conn) error {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
				return nil
			}
			return err
		}
		l.dispatch(frame)
	}
}

func (l *Link) dispatch(frame []byte) {
	env, v, err := wsproto.Decode(frame)
	if err != nil {
		l.logger.Debug("server frame dropped", "error", err)
		return
	}
	switch m := v.(type) {
	case wsproto.Welcome:
		l.handler.OnWelcome(m)
	case wsproto.Role:
		l.handler.OnRole(m)
	case wsproto.SynthUpdate:
		l.handler.OnSynthUpdate(m)
	default:
		l.logger.Debug("server frame ignored", "type", env.Type)
	}
}

func (l *Link) drainOutbox() {
	for {
		select {
		case <-l.outbox:
		default:
			return
		}
	}
}
