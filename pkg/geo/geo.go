// Package geo converts between geodetic, ECEF and local east-north-up coordinates.
package geo

import (
	"math"

	vmath "github.com/Faultbox/tilestream/pkg/math"
)

// WGS84 ellipsoid parameters.
const (
	SemiMajorAxis = 6378137.0
	Flattening    = 1 / 298.257223563
	SemiMinorAxis = SemiMajorAxis * (1 - Flattening)
)

var eccSq = Flattening * (2 - Flattening)

// Geodetic is a position in degrees and metres above the ellipsoid.
type Geodetic struct {
	Lon, Lat, Height float64
}

// ToECEF converts a geodetic position to earth-centered earth-fixed metres.
func ToECEF(g Geodetic) vmath.Vec3 {
	lon := g.Lon * math.Pi / 180
	lat := g.Lat * math.Pi / 180
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)

	n := SemiMajorAxis / math.Sqrt(1-eccSq*sinLat*sinLat)
	return vmath.Vec3{
		X: (n + g.Height) * cosLat * cosLon,
		Y: (n + g.Height) * cosLat * sinLon,
		Z: (n*(1-eccSq) + g.Height) * sinLat,
	}
}

// FromECEF converts ECEF metres back to geodetic coordinates using Bowring's method.
func FromECEF(p vmath.Vec3) Geodetic {
	lon := math.Atan2(p.Y, p.X)
	r := math.Hypot(p.X, p.Y)
	if r == 0 {
		lat := math.Copysign(90, p.Z)
		return Geodetic{Lon: 0, Lat: lat, Height: math.Abs(p.Z) - SemiMinorAxis}
	}

	ep2 := (SemiMajorAxis*SemiMajorAxis - SemiMinorAxis*SemiMinorAxis) / (SemiMinorAxis * SemiMinorAxis)
	theta := math.Atan2(p.Z*SemiMajorAxis, r*SemiMinorAxis)
	sinT, cosT := math.Sincos(theta)
	lat := math.Atan2(p.Z+ep2*SemiMinorAxis*sinT*sinT*sinT, r-eccSq*SemiMajorAxis*cosT*cosT*cosT)

	sinLat := math.Sin(lat)
	n := SemiMajorAxis / math.Sqrt(1-eccSq*sinLat*sinLat)
	h := r/math.Cos(lat) - n

	return Geodetic{Lon: lon * 180 / math.Pi, Lat: lat * 180 / math.Pi, Height: h}
}

// Frame is a local east-north-up tangent plane anchored at an origin.
// All terrain tiles share one frame so vertex positions stay small.
type Frame struct {
	Origin     Geodetic
	originECEF vmath.Vec3
	east       vmath.Vec3
	north      vmath.Vec3
	up         vmath.Vec3
}

// NewFrame builds an ENU frame at the given origin.
func NewFrame(origin Geodetic) *Frame {
	lon := origin.Lon * math.Pi / 180
	lat := origin.Lat * math.Pi / 180
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)

	return &Frame{
		Origin:     origin,
		originECEF: ToECEF(origin),
		east:       vmath.Vec3{X: -sinLon, Y: cosLon, Z: 0},
		north:      vmath.Vec3{X: -sinLat * cosLon, Y: -sinLat * sinLon, Z: cosLat},
		up:         vmath.Vec3{X: cosLat * cosLon, Y: cosLat * sinLon, Z: sinLat},
	}
}

// FromECEF projects an ECEF point into the frame.
func (f *Frame) FromECEF(p vmath.Vec3) vmath.Vec3 {
	d := p.Sub(f.originECEF)
	return vmath.Vec3{X: d.Dot(f.east), Y: d.Dot(f.north), Z: d.Dot(f.up)}
}

// ToECEF lifts a frame-local point back into ECEF.
func (f *Frame) ToECEF(p vmath.Vec3) vmath.Vec3 {
	return f.originECEF.
		Add(f.east.Scale(p.X)).
		Add(f.north.Scale(p.Y)).
		Add(f.up.Scale(p.Z))
}

// Project converts a geodetic position straight into the frame.
func (f *Frame) Project(g Geodetic) vmath.Vec3 {
	return f.FromECEF(ToECEF(g))
}
