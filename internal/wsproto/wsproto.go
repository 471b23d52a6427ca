// Package wsproto defines the JSON frames exchanged over the performance
// websockets.
//
// Every frame is a text message with an envelope: {type, ts, data}. The
// server, the player and the room monitor all speak this format.
package wsproto

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"soundfield/internal/geometry"
)

// Message types.
const (
	TypeEnter      = "enter"
	TypeTouchStart = "touchstart"
	TypeTouchMove  = "touchmove"
	TypeTouchEnd   = "touchend"

	TypeWelcome     = "welcome"
	TypeRole        = "role"
	TypeUpdateSynth = "update_synth"
	TypeRoomUpdate  = "room_update"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrMissingData = errors.New("missing data")
)

// Envelope is the wire format of every frame.
type Envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Enter is sent by a player once it knows where it stands.
type Enter struct {
	Position geometry.Point `json:"position"`
}

// Touch is the payload of touchstart, touchmove and touchend. Timestamp is
// in seconds on the sender's clock.
type Touch struct {
	Position  geometry.Point `json:"position"`
	Timestamp float64        `json:"timestamp"`
}

// Sample converts the payload into a history sample.
func (t Touch) Sample() geometry.Sample {
	return geometry.Sample{Position: t.Position, Timestamp: t.Timestamp}
}

// Area mirrors the room topology sent to new clients.
type Area struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Welcome is the first frame a client receives.
type Welcome struct {
	ClientID string `json:"client_id"`
	Area     Area   `json:"area"`
}

// Role tells a client whether it plays or solos.
type Role struct {
	Role      string `json:"role"`
	SoloistID int    `json:"soloist_id"`
}

// SynthUpdate drives a player's synthesis. Position is the soloist's touch
// position and is omitted on stop signals.
type SynthUpdate struct {
	SoloistID int             `json:"soloist_id"`
	Distance  float64         `json:"distance"`
	Intensity float64         `json:"intensity"`
	Position  *geometry.Point `json:"position,omitempty"`
	Stop      bool            `json:"stop,omitempty"`
}

// RoomUpdate is the room-level variant, carrying the raw touch position and
// the distance to the nearest player.
type RoomUpdate struct {
	SoloistID int            `json:"soloist_id"`
	Position  geometry.Point `json:"position"`
	Distance  float64        `json:"distance"`
	Intensity float64        `json:"intensity"`
}

// Marshal builds a frame of the given type. A zero now omits the timestamp.
func Marshal(typ string, data any, now time.Time) ([]byte, error) {
	env := Envelope{Type: typ}
	if !now.IsZero() {
		ts := now.UTC()
		env.Ts = &ts
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s data: %w", typ, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// Decode parses a frame and its typed payload. The returned value is one of
// Enter, Touch, Welcome, Role, SynthUpdate or RoomUpdate.
func Decode(frame []byte) (Envelope, any, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return env, nil, fmt.Errorf("decode envelope: %w", err)
	}

	var v any
	switch env.Type {
	case TypeEnter:
		v = &Enter{}
	case TypeTouchStart, TypeTouchMove, TypeTouchEnd:
		v = &Touch{}
	case TypeWelcome:
		v = &Welcome{}
	case TypeRole:
		v = &Role{}
	case TypeUpdateSynth:
		v = &SynthUpdate{}
	case TypeRoomUpdate:
		v = &RoomUpdate{}
	default:
		return env, nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return env, nil, fmt.Errorf("%s: %w", env.Type, ErrMissingData)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return env, nil, fmt.Errorf("decode %s data: %w", env.Type, err)
	}

	switch p := v.(type) {
	case *Enter:
		return env, *p, nil
	case *Touch:
		return env, *p, nil
	case *Welcome:
		return env, *p, nil
	case *Role:
		return env, *p, nil
	case *SynthUpdate:
		return env, *p, nil
	case *RoomUpdate:
		return env, *p, nil
	}
	return env, nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
}
