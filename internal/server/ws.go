package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"soundfield/internal/perform"
	"soundfield/internal/session"
	"soundfield/internal/wsproto"
)

// Server upgrades HTTP requests into performer and room connections.
type Server struct {
	logger *slog.Logger
	hub    *Hub
	events chan<- perform.Event
	cfg    ServerConfig

	upgrader websocket.Upgrader
	newID    func() session.ClientID
}

type ServerConfig struct {
	Hub HubConfig

	// Area is announced to performers in the welcome frame.
	Area wsproto.Area

	ReadLimit int64
	WriteWait time.Duration
}

// NewServer constructs the websocket server. Mount it with Routes and run
// the hub with Hub().Run.
func NewServer(logger *slog.Logger, events chan<- perform.Event, cfg ServerConfig) *Server {
	return &Server{
		logger: logger,
		hub:    NewHub(logger, cfg.Hub),
		events: events,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		newID: func() session.ClientID { return session.ClientID(uuid.NewString()) },
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Routes mounts the performer and room endpoints.
func (s *Server) Routes(r chi.Router, playPath, roomPath string) {
	r.Get(playPath, s.handlePlay)
	r.Get(roomPath, s.handleRoom)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	c := s.accept(w, r, NamespacePlay)
	if c == nil {
		return
	}

	welcome := s.hub.frame(wsproto.TypeWelcome, wsproto.Welcome{
		ClientID: string(c.id),
		Area:     s.cfg.Area,
	})
	select {
	case c.send <- welcome:
	default:
		s.hub.removeClient(c, "slow_client")
	}
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	s.accept(w, r, NamespaceRoom)
}

// accept upgrades, registers and starts the pumps.
//
// The pumps are not tied to the request context: net/http cancels it when
// the handler returns. The hub and connection errors bound their lifetime.
func (s *Server) accept(w http.ResponseWriter, r *http.Request, ns Namespace) *Client {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err, "namespace", ns)
		return nil
	}

	select {
	case <-s.hub.done:
		_ = conn.Close()
		return nil
	default:
	}

	c := NewClient(s.hub, s.newID(), ns, conn, r.RemoteAddr, s.logger)
	s.hub.register(c)

	go c.writePump(s.cfg.WriteWait)
	go c.readPump(s.events, s.cfg.ReadLimit)
	return c
}
