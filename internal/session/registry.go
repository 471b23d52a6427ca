// Package session keeps the server-side bookkeeping of a performance: who
// is connected, where they stand in the area, who is soloing and who is
// listening.
//
// A Registry is not safe for concurrent use. It is owned by the performance
// controller loop, which serializes every read and write.
package session

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"soundfield/internal/geometry"
)

// Defaults for a new registry.
const (
	DefaultFingerRadius = 0.3
	DefaultSoloistCount = 1
	DefaultHistoryLimit = 64
)

var (
	ErrUnknownClient = errors.New("unknown client")
	ErrNoFreeSlot    = errors.New("no free soloist slot")
	ErrNotSoloist    = errors.New("client is not a soloist")
	ErrAlreadySolo   = errors.New("client is already a soloist")
)

// ClientID identifies a connection for its whole lifetime.
type ClientID string

// Role is what a client currently does in the performance.
type Role int

const (
	RolePlayer Role = iota
	RoleSoloist
)

func (r Role) String() string {
	if r == RoleSoloist {
		return "soloist"
	}
	return "player"
}

// NoSoloist is the SoloistID of clients that are not soloing.
const NoSoloist = -1

// Area is the topology of the room, in the same units as client positions.
type Area struct {
	Width  float64 `yaml:"width" json:"width"`
	Height float64 `yaml:"height" json:"height"`
}

// ClientRecord is everything the server knows about one client.
type ClientRecord struct {
	ID        ClientID
	Position  geometry.Point
	Role      Role
	SoloistID int
	History   []geometry.Sample
	EnteredAt time.Time
}

// ResetHistory replaces the input history with a single sample.
func (c *ClientRecord) ResetHistory(s geometry.Sample) {
	c.History = append(c.History[:0], s)
}

// AppendHistory adds s, keeping at most limit of the most recent samples.
func (c *ClientRecord) AppendHistory(s geometry.Sample, limit int) {
	c.History = append(c.History, s)
	if limit >= 2 && len(c.History) > limit {
		n := copy(c.History, c.History[len(c.History)-limit:])
		c.History = c.History[:n]
	}
}

// LastTwo returns the two most recent samples, newest first. ok is false
// with fewer than two samples.
func (c *ClientRecord) LastTwo() (newer, older geometry.Sample, ok bool) {
	n := len(c.History)
	if n < 2 {
		return geometry.Sample{}, geometry.Sample{}, false
	}
	return c.History[n-1], c.History[n-2], true
}

// PlayingClient is a member of the playing set.
type PlayingClient struct {
	ID       ClientID
	Position geometry.Point
}

// RoleChange notifies a client of its new role.
type RoleChange struct {
	Client    ClientID
	Role      Role
	SoloistID int
}

// Config configures a Registry.
type Config struct {
	Area         Area
	FingerRadius float64
	SoloistCount int
}

// Registry is the session state shared by every client handler.
type Registry struct {
	area         Area
	fingerRadius float64

	clients map[ClientID]*ClientRecord
	playing []ClientID
	slots   []ClientID
}

// NewRegistry returns an empty registry. Zero config values take defaults.
func NewRegistry(cfg Config) *Registry {
	if cfg.Area.Width <= 0 || cfg.Area.Height <= 0 {
		cfg.Area = Area{Width: 1, Height: 1}
	}
	if cfg.FingerRadius <= 0 {
		cfg.FingerRadius = DefaultFingerRadius
	}
	if cfg.SoloistCount <= 0 {
		cfg.SoloistCount = DefaultSoloistCount
	}
	return &Registry{
		area:         cfg.Area,
		fingerRadius: cfg.FingerRadius,
		clients:      make(map[ClientID]*ClientRecord),
		slots:        make([]ClientID, cfg.SoloistCount),
	}
}

func (r *Registry) Area() Area            { return r.area }
func (r *Registry) FingerRadius() float64 { return r.fingerRadius }
func (r *Registry) SoloistSlots() int     { return len(r.slots) }
func (r *Registry) ClientCount() int      { return len(r.clients) }
func (r *Registry) PlayingCount() int     { return len(r.playing) }

// Client resolves id to its record.
func (r *Registry) Client(id ClientID) (*ClientRecord, bool) {
	c, ok := r.clients[id]
	return c, ok
}

// IsSoloist reports whether id currently holds a soloist slot.
func (r *Registry) IsSoloist(id ClientID) bool {
	c, ok := r.clients[id]
	return ok && c.Role == RoleSoloist && c.SoloistID >= 0 && c.SoloistID < len(r.slots) && r.slots[c.SoloistID] == id
}

// Playing returns the playing set with each client's last known position,
// in entry order.
func (r *Registry) Playing() []PlayingClient {
	out := make([]PlayingClient, 0, len(r.playing))
	for _, id := range r.playing {
		c, ok := r.clients[id]
		if !ok {
			continue
		}
		out = append(out, PlayingClient{ID: id, Position: c.Position})
	}
	return out
}

// Soloists returns the ids holding soloist slots, indexed by soloist id.
// Free slots are empty strings.
func (r *Registry) Soloists() []ClientID {
	return append([]ClientID(nil), r.slots...)
}

// Enter registers a client at pos and adds it to the playing set. Entering
// twice moves the client. Free soloist slots are then filled.
func (r *Registry) Enter(id ClientID, pos geometry.Point, now time.Time) []RoleChange {
	if c, ok := r.clients[id]; ok {
		c.Position = pos
		return nil
	}
	r.clients[id] = &ClientRecord{
		ID:        id,
		Position:  pos,
		Role:      RolePlayer,
		SoloistID: NoSoloist,
		EnteredAt: now,
	}
	r.playing = append(r.playing, id)
	return r.fillSlots()
}

// Exit forgets a client. If it was soloing, its slot goes to the longest
// waiting player.
func (r *Registry) Exit(id ClientID) []RoleChange {
	c, ok := r.clients[id]
	if !ok {
		return nil
	}
	if c.Role == RoleSoloist && c.SoloistID >= 0 && c.SoloistID < len(r.slots) {
		r.slots[c.SoloistID] = ""
	}
	r.removePlaying(id)
	delete(r.clients, id)
	return r.fillSlots()
}

// Promote makes id a soloist in the first free slot.
func (r *Registry) Promote(id ClientID) (RoleChange, error) {
	c, ok := r.clients[id]
	if !ok {
		return RoleChange{}, fmt.Errorf("promote %s: %w", id, ErrUnknownClient)
	}
	if c.Role == RoleSoloist {
		return RoleChange{}, fmt.Errorf("promote %s: %w", id, ErrAlreadySolo)
	}
	slot := r.freeSlot()
	if slot < 0 {
		return RoleChange{}, fmt.Errorf("promote %s: %w", id, ErrNoFreeSlot)
	}
	return r.promote(c, slot), nil
}

// Demote returns a soloist to the playing set. The freed slot stays empty
// until the next Enter or Exit, or an explicit Promote.
func (r *Registry) Demote(id ClientID) (RoleChange, error) {
	c, ok := r.clients[id]
	if !ok {
		return RoleChange{}, fmt.Errorf("demote %s: %w", id, ErrUnknownClient)
	}
	if c.Role != RoleSoloist {
		return RoleChange{}, fmt.Errorf("demote %s: %w", id, ErrNotSoloist)
	}
	r.slots[c.SoloistID] = ""
	c.Role = RolePlayer
	c.SoloistID = NoSoloist
	r.playing = append(r.playing, id)
	return RoleChange{Client: id, Role: RolePlayer, SoloistID: NoSoloist}, nil
}

func (r *Registry) promote(c *ClientRecord, slot int) RoleChange {
	r.slots[slot] = c.ID
	c.Role = RoleSoloist
	c.SoloistID = slot
	r.removePlaying(c.ID)
	return RoleChange{Client: c.ID, Role: RoleSoloist, SoloistID: slot}
}

// fillSlots promotes players in entry order until no slot is free.
func (r *Registry) fillSlots() []RoleChange {
	var changes []RoleChange
	for {
		slot := r.freeSlot()
		if slot < 0 || len(r.playing) == 0 {
			return changes
		}
		c := r.clients[r.playing[0]]
		changes = append(changes, r.promote(c, slot))
	}
}

func (r *Registry) freeSlot() int {
	for i, id := range r.slots {
		if id == "" {
			return i
		}
	}
	return -1
}

func (r *Registry) removePlaying(id ClientID) {
	for i, p := range r.playing {
		if p == id {
			r.playing = append(r.playing[:i], r.playing[i+1:]...)
			return
		}
	}
}

// ClientInfo is a read-only view of one client for status reports.
type ClientInfo struct {
	ID        ClientID       `json:"id"`
	Position  geometry.Point `json:"position"`
	Role      string         `json:"role"`
	SoloistID int            `json:"soloist_id"`
	EnteredAt time.Time      `json:"entered_at"`
}

// Snapshot is a copy of the registry safe to hand to other goroutines.
type Snapshot struct {
	Area         Area         `json:"area"`
	FingerRadius float64      `json:"finger_radius"`
	Soloists     []ClientID   `json:"soloists"`
	Playing      []ClientID   `json:"playing"`
	Clients      []ClientInfo `json:"clients"`
}

func (r *Registry) Snapshot() Snapshot {
	s := Snapshot{
		Area:         r.area,
		FingerRadius: r.fingerRadius,
		Soloists:     r.Soloists(),
		Playing:      append([]ClientID(nil), r.playing...),
		Clients:      make([]ClientInfo, 0, len(r.clients)),
	}
	for _, c := range r.clients {
		s.Clients = append(s.Clients, ClientInfo{
			ID:        c.ID,
			Position:  c.Position,
			Role:      c.Role.String(),
			SoloistID: c.SoloistID,
			EnteredAt: c.EnteredAt,
		})
	}
	sort.Slice(s.Clients, func(i, j int) bool {
		return s.Clients[i].EnteredAt.Before(s.Clients[j].EnteredAt)
	})
	return s
}
