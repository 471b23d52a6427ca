// Package server exposes the performance over websockets and the admin
// socket.
//
// Design constraints:
//   - The session registry stays owned by the controller loop; handlers only
//     turn frames into perform events.
//   - A client's frames are forwarded in arrival order by its own read pump.
//   - Slow clients are disconnected when their send buffer fills, never
//     waited on.
package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"soundfield/internal/session"
	"soundfield/internal/wsproto"
)

// Namespace separates performers from room listeners on the same hub.
type Namespace string

const (
	NamespacePlay Namespace = "play"
	NamespaceRoom Namespace = "room"
)

// HubRecorder receives connection metrics.
type HubRecorder interface {
	SetConnections(namespace string, n int)
	IncSlowClients()
}

type nopHubRecorder struct{}

func (nopHubRecorder) SetConnections(string, int) {}
func (nopHubRecorder) IncSlowClients()            {}

// Hub tracks connected clients and fans frames out to them. It implements
// perform.Transport.
type Hub struct {
	logger *slog.Logger
	rec    HubRecorder

	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once

	mu      sync.Mutex
	clients map[session.ClientID]*Client

	sendBuf int
	now     func() time.Time
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size.
	// If zero, a conservative default is used.
	SendBuf int

	// Recorder receives connection metrics. Optional.
	Recorder HubRecorder
}

// NewHub constructs a hub. Call Run to process disconnects.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	rec := cfg.Recorder
	if rec == nil {
		rec = nopHubRecorder{}
	}
	return &Hub{
		logger:     logger,
		rec:        rec,
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
		clients:    make(map[session.ClientID]*Client),
		sendBuf:    sendBuf,
		now:        time.Now,
	}
}

// Run processes unregistrations until stop is closed, then disconnects
// every client.
func (h *Hub) Run(stop <-chan struct{}) {
	h.logger.Info("ws hub starting")
	defer h.shutdown()

	for {
		select {
		case <-stop:
			h.logger.Info("ws hub stopping")
			return

		case c := <-h.unregister:
			h.removeClient(c, "unregister")
		}
	}
}

// Done is closed once the hub has shut down.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) shutdown() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.closeAllClients()
	})
}

// register adds c so it can be addressed immediately.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := h.countLocked(c.ns)
	h.mu.Unlock()

	h.rec.SetConnections(string(c.ns), n)
	h.logger.Info("ws client registered", "client", c.id, "namespace", c.ns, "remote_addr", c.remoteAddr, "clients", n)
}

func (h *Hub) countLocked(ns Namespace) int {
	n := 0
	for _, c := range h.clients {
		if c.ns == ns {
			n++
		}
	}
	return n
}

// Len returns the number of connected clients in ns.
func (h *Hub) Len(ns Namespace) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.countLocked(ns)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		safeCloseChan(c.send)
		delete(h.clients, id)
	}
	h.rec.SetConnections(string(NamespacePlay), 0)
	h.rec.SetConnections(string(NamespaceRoom), 0)
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	cur, ok := h.clients[c.id]
	ok = ok && cur == c
	if ok {
		delete(h.clients, c.id)
	}
	n := h.countLocked(c.ns)
	h.mu.Unlock()

	if ok {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		// Closing send signals writePump to exit.
		safeCloseChan(c.send)

		h.rec.SetConnections(string(c.ns), n)
		h.logger.Info("ws client disconnected", "client", c.id, "namespace", c.ns, "reason", reason, "clients", n)
	}
}

func safeCloseChan(ch chan []byte) {
	defer func() {
		_ = recover() // ignore "close of closed channel"
	}()
	close(ch)
}

func (h *Hub) frame(typ string, data any) []byte {
	msg, err := wsproto.Marshal(typ, data, h.now())
	if err != nil {
		h.logger.Warn("ws marshal failed", "error", err, "type", typ)
		return nil
	}
	return msg
}

// Send queues a frame for one performer. It reports false when the client
// is not connected or could not keep up.
func (h *Hub) Send(to session.ClientID, typ string, data any) bool {
	msg := h.frame(typ, data)
	if msg == nil {
		return false
	}

	h.mu.Lock()
	c, ok := h.clients[to]
	if !ok || c.ns != NamespacePlay {
		h.mu.Unlock()
		return false
	}
	delivered := true
	select {
	case c.send <- msg:
	default:
		delivered = false
	}
	h.mu.Unlock()

	if !delivered {
		h.dropSlow(c)
	}
	return delivered
}

// Multicast queues a frame for every performer.
func (h *Hub) Multicast(typ string, data any) int {
	return h.fanOut(NamespacePlay, h.frame(typ, data))
}

// Room queues a frame for every room listener.
func (h *Hub) Room(typ string, data any) int {
	return h.fanOut(NamespaceRoom, h.frame(typ, data))
}

func (h *Hub) fanOut(ns Namespace, msg []byte) int {
	if msg == nil {
		return 0
	}

	// Collect slow clients first, then remove them after we unlock.
	var slow []*Client
	n := 0

	h.mu.Lock()
	for _, c := range h.clients {
		if c.ns != ns {
			continue
		}
		select {
		case c.send <- msg:
			n++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.dropSlow(c)
	}
	return n
}

func (h *Hub) dropSlow(c *Client) {
	h.rec.IncSlowClients()
	h.removeClient(c, "slow_client")
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub
	id  session.ClientID
	ns  Namespace

	conn *websocket.Conn
	send chan []byte

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, id session.ClientID, ns Namespace, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		id:         id,
		ns:         ns,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

// ID returns the connection handle used to address the client.
func (c *Client) ID() session.ClientID { return c.id }
