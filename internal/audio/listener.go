package audio

import "sync"

// ListenerState holds the listener orientation derived from raw sensor
// readings and the calibration offset subtracted from them.
type ListenerState struct {
	mu     sync.Mutex
	raw    Orientation
	offset Orientation
}

// Apply records a raw sensor reading and returns it relative to the
// calibration offset.
func (l *ListenerState) Apply(raw Orientation) Orientation {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.raw = raw
	return l.relative()
}

// Reset makes the most recent raw reading the new zero.
func (l *ListenerState) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.offset = l.raw
}

// Current returns the latest reading relative to the offset.
func (l *ListenerState) Current() Orientation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.relative()
}

// Offset returns the calibration offset.
func (l *ListenerState) Offset() Orientation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offset
}

func (l *ListenerState) relative() Orientation {
	return Orientation{
		Azimuth:   l.raw.Azimuth - l.offset.Azimuth,
		Elevation: l.raw.Elevation - l.offset.Elevation,
		Roll:      l.raw.Roll - l.offset.Roll,
	}
}
