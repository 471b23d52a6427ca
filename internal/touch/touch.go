// Package touch reads a Linux multitouch touchscreen and turns its raw
// evdev stream into touchstart/touchmove/touchend gestures in normalized
// area coordinates.
package touch

import (
	"bytes"
	"encoding/binary"
	"io"

	"soundfield/internal/geometry"
	"soundfield/internal/wsproto"
)

// evdev event types and codes used by touchscreens.
const (
	evSyn = 0x00
	evKey = 0x01
	evAbs = 0x03

	synReport = 0x00

	btnTouch = 0x14a

	absX           = 0x00
	absY           = 0x01
	absMTPositionX = 0x35
	absMTPositionY = 0x36
)

// InputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type InputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// EventSize is the on-wire size of an InputEvent.
var EventSize = binary.Size(InputEvent{})

// Seconds returns the kernel timestamp in seconds.
func (e InputEvent) Seconds() float64 {
	return float64(e.Sec) + float64(e.Usec)/1e6
}

// ParseEvent decodes one little-endian input_event.
func ParseEvent(buf []byte) (InputEvent, error) {
	var ev InputEvent
	err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &ev)
	return ev, err
}

// AxisRange is the raw value range reported by the device for one axis.
type AxisRange struct {
	Min int32
	Max int32
}

// Normalize maps v into [0,1]. A degenerate range maps everything to 0.
func (r AxisRange) Normalize(v int32) float64 {
	span := float64(r.Max) - float64(r.Min)
	if span <= 0 {
		return 0
	}
	return geometry.Clamp01((float64(v) - float64(r.Min)) / span)
}

// Gesture is one touch sample ready to be sent to the server. Type is one
// of the wsproto touch message types.
type Gesture struct {
	Type      string
	Position  geometry.Point
	Timestamp float64
}

// Translator folds the single-contact evdev stream into gestures. Values
// are latched until SYN_REPORT, so one report yields at most one gesture.
type Translator struct {
	X, Y AxisRange

	x, y    int32
	moved   bool
	down    bool
	wasDown bool
}

// NewTranslator returns a translator for the given axis ranges.
func NewTranslator(x, y AxisRange) *Translator {
	return &Translator{X: x, Y: y}
}

// Feed consumes one raw event and reports a gesture when a report
// completes one.
func (t *Translator) Feed(ev InputEvent) (Gesture, bool) {
	switch ev.Type {
	case evAbs:
		switch ev.Code {
		case absMTPositionX, absX:
			t.x = ev.Value
			t.moved = true
		case absMTPositionY, absY:
			t.y = ev.Value
			t.moved = true
		}
	case evKey:
		if ev.Code == btnTouch {
			t.down = ev.Value != 0
		}
	case evSyn:
		if ev.Code == synReport {
			return t.report(ev.Seconds())
		}
	}
	return Gesture{}, false
}

func (t *Translator) report(ts float64) (Gesture, bool) {
	defer func() {
		t.moved = false
		t.wasDown = t.down
	}()

	g := Gesture{
		Position:  geometry.Point{X: t.X.Normalize(t.x), Y: t.Y.Normalize(t.y)},
		Timestamp: ts,
	}
	switch {
	case t.down && !t.wasDown:
		g.Type = wsproto.TypeTouchStart
	case !t.down && t.wasDown:
		g.Type = wsproto.TypeTouchEnd
	case t.down && t.moved:
		g.Type = wsproto.TypeTouchMove
	default:
		return Gesture{}, false
	}
	return g, true
}

// ReadEvents reads input events from r and sends them to events until a
// read fails. Malformed events are skipped.
func ReadEvents(r io.Reader, events chan<- InputEvent, readErr chan<- error) {
	buf := make([]byte, EventSize)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			readErr <- err
			return
		}
		ev, err := ParseEvent(buf)
		if err != nil {
			continue
		}
		events <- ev
	}
}
