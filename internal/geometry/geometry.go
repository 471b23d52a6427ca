// Package geometry holds the pure coordinate math shared by the gesture
// server and the players: cartesian/spherical conversion, aspect-corrected
// area distances and touch velocities.
package geometry

import (
	"encoding/json"
	"fmt"
	"math"
)

// Point is a position in area coordinates (normalized by the area topology).
// On the wire it is a two-element array [x, y].
type Point struct {
	X float64
	Y float64
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

func (p *Point) UnmarshalJSON(b []byte) error {
	var xy []float64
	if err := json.Unmarshal(b, &xy); err != nil {
		return fmt.Errorf("point: %w", err)
	}
	if len(xy) != 2 {
		return fmt.Errorf("point: expected 2 coordinates, got %d", len(xy))
	}
	p.X, p.Y = xy[0], xy[1]
	return nil
}

// Vec3 is a cartesian position relative to a listener.
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Length() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// Spherical is the [azimuth, elevation, distance] triple consumed by the
// binaural panner. Angles are radians.
type Spherical struct {
	Azimuth   float64
	Elevation float64
	Distance  float64
}

// Neutral is the fallback position used wherever a derived position is
// degenerate: straight ahead, ear height, unit distance.
var Neutral = Spherical{Azimuth: 0, Elevation: 0, Distance: 1}

// Degenerate reports whether s cannot be handed to a panner.
func (s Spherical) Degenerate() bool {
	return math.IsNaN(s.Azimuth) || math.IsNaN(s.Elevation) || math.IsNaN(s.Distance) ||
		math.IsInf(s.Azimuth, 0) || math.IsInf(s.Elevation, 0) || math.IsInf(s.Distance, 0) ||
		s.Distance <= 0
}

// OrNeutral returns s, or Neutral when s is degenerate.
func (s Spherical) OrNeutral() Spherical {
	if s.Degenerate() {
		return Neutral
	}
	return s
}

// Array returns s in panner order.
func (s Spherical) Array() [3]float64 {
	return [3]float64{s.Azimuth, s.Elevation, s.Distance}
}

// CartesianToSpherical converts v to (azimuth, elevation, distance).
//
// distance = |v|, azimuth = acos(z/distance), elevation = atan(y/x) resolved
// to the quadrant of (x, y). Azimuth is NaN when distance is 0 and elevation
// is NaN when x is 0; callers must check Degenerate.
func CartesianToSpherical(v Vec3) Spherical {
	d := v.Length()
	s := Spherical{Distance: d}
	if d == 0 {
		s.Azimuth = math.NaN()
	} else {
		s.Azimuth = math.Acos(clamp(v.Z/d, -1, 1))
	}
	if v.X == 0 {
		s.Elevation = math.NaN()
	} else {
		s.Elevation = math.Atan2(v.Y, v.X)
	}
	return s
}

// SphericalToCartesian is the inverse of CartesianToSpherical for
// non-degenerate input.
func SphericalToCartesian(s Spherical) Vec3 {
	r := s.Distance * math.Sin(s.Azimuth)
	return Vec3{
		X: r * math.Cos(s.Elevation),
		Y: r * math.Sin(s.Elevation),
		Z: s.Distance * math.Cos(s.Azimuth),
	}
}

// NormalizedDistance is the Euclidean distance between a and b with the
// non-dominant axis rescaled by the area aspect ratio: when width/height < 1
// the x difference is scaled by width/height, otherwise the y difference is
// scaled by height/width.
func NormalizedDistance(a, b Point, height, width float64) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	if height > 0 && width > 0 {
		if width/height < 1 {
			dx *= width / height
		} else {
			dy *= height / width
		}
	}
	return math.Sqrt(dx*dx + dy*dy)
}

// Sample is one touch input: where and when (seconds, client clock).
type Sample struct {
	Position  Point   `json:"position"`
	Timestamp float64 `json:"timestamp"`
}

// Velocity returns the normalized distance travelled between two samples
// divided by the elapsed time. Identical timestamps give +Inf (or NaN when
// the positions also coincide); callers clamp.
func Velocity(newer, older Sample, height, width float64) float64 {
	return NormalizedDistance(newer.Position, older.Position, height, width) /
		math.Abs(newer.Timestamp-older.Timestamp)
}

// ScaleDistance maps a raw distance into [0, 1] relative to maxRadius.
func ScaleDistance(d, maxRadius float64) float64 {
	if math.IsNaN(d) || maxRadius <= 0 {
		return 1
	}
	return Clamp01(d / maxRadius)
}

// Clamp01 clamps v into [0, 1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// minRelativeDistance keeps offset-corrected distances strictly positive.
const minRelativeDistance = 0.01

// Relative returns the position of source as heard by a listener standing at
// listener, both in area coordinates. The area plane maps to x (right) and
// z (forward). Each component is corrected by its own offset; a degenerate
// geometry (coincident points, source straight ahead) yields Neutral.
func Relative(listener, source Point, offset Spherical) Spherical {
	v := Vec3{X: source.X - listener.X, Y: 0, Z: source.Y - listener.Y}
	s := CartesianToSpherical(v)
	if s.Degenerate() {
		return Neutral
	}
	s.Azimuth = WrapAngle(s.Azimuth - offset.Azimuth)
	s.Elevation = WrapAngle(s.Elevation - offset.Elevation)
	s.Distance -= offset.Distance
	if s.Distance < minRelativeDistance {
		s.Distance = minRelativeDistance
	}
	return s
}

// WrapAngle wraps a radian angle into [-π, π].
func WrapAngle(a float64) float64 {
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return 0
	}
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
