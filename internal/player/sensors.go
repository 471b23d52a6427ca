package player

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"soundfield/internal/audio"
	"soundfield/internal/geometry"
)

// Sensor sample kinds.
const (
	SensorOrientation  = "orientation"
	SensorAcceleration = "acceleration"
)

// SensorSample is one line of a sensor feed, e.g.
//
//	{"type":"orientation","values":[0.4,0,0]}
//	{"type":"acceleration","values":[1.2,9.8,0.3]}
type SensorSample struct {
	Type   string     `json:"type"`
	Values [3]float64 `json:"values"`
}

// SensorSink consumes decoded sensor samples.
type SensorSink interface {
	OnOrientation(raw audio.Orientation)
	OnAcceleration(a geometry.Vec3) bool
}

// ReadSensors feeds line-delimited JSON samples from r to sink until r is
// exhausted. Malformed lines are logged and skipped.
func ReadSensors(r io.Reader, sink SensorSink, logger *slog.Logger) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var s SensorSample
		if err := json.Unmarshal(line, &s); err != nil {
			logger.Debug("sensor line dropped", "error", err)
			continue
		}
		switch s.Type {
		case SensorOrientation:
			sink.OnOrientation(audio.Orientation{Azimuth: s.Values[0], Elevation: s.Values[1], Roll: s.Values[2]})
		case SensorAcceleration:
			sink.OnAcceleration(geometry.Vec3{X: s.Values[0], Y: s.Values[1], Z: s.Values[2]})
		default:
			logger.Debug("unknown sensor type", "type", s.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read sensors: %w", err)
	}
	return nil
}
