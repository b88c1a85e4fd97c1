// Package camera provides a geographic orbit camera that feeds the LOD builder.
package camera

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/Faultbox/tilestream/internal/engine/lod"
	"github.com/Faultbox/tilestream/pkg/geo"
	vmath "github.com/Faultbox/tilestream/pkg/math"
)

// metresPerDegree is the length of one degree of latitude on the WGS84 sphere approximation.
const metresPerDegree = 111320.0

// GlobeCamera looks down at a point on the ellipsoid from a height above it.
type GlobeCamera struct {
	// Target point in degrees
	Lon, Lat float64
	// Height above the ellipsoid in metres
	Height float64

	Heading float64 // radians, clockwise from north
	Pitch   float64 // radians below the horizon

	// Constraints
	MinHeight float64
	MaxHeight float64
	MinPitch  float64
	MaxPitch  float64

	// Sensitivity
	DragSensitivity   float64
	ZoomSensitivity   float64
	RotateSensitivity float64

	// VisibleScale sizes the visible window as a multiple of Height. Zero disables it.
	VisibleScale float64
}

// NewGlobeCamera creates a camera above the given point.
func NewGlobeCamera(lon, lat, height float64) *GlobeCamera {
	c := &GlobeCamera{
		Pitch:             math.Pi / 2,
		MinHeight:         100,
		MaxHeight:         2e7,
		MinPitch:          0.2,
		MaxPitch:          math.Pi / 2,
		DragSensitivity:   0.002,
		ZoomSensitivity:   0.1,
		RotateSensitivity: 0.005,
		VisibleScale:      4,
	}
	c.SetPosition(lon, lat, height)
	return c
}

// SetPosition moves the camera, wrapping longitude and clamping latitude and height.
func (c *GlobeCamera) SetPosition(lon, lat, height float64) {
	c.Lon = wrapLon(lon)
	c.Lat = clamp(lat, -90, 90)
	c.Height = clamp(height, c.MinHeight, c.MaxHeight)
}

// Viewpoint returns the LOD viewpoint for the current position.
func (c *GlobeCamera) Viewpoint() lod.Viewpoint {
	vp := lod.Viewpoint{Lon: c.Lon, Lat: c.Lat, Height: c.Height}
	if c.VisibleScale > 0 {
		vp.Visible = c.VisibleBound()
	}
	return vp
}

// VisibleBound estimates the ground area in view as a box around the target.
// Poles and the antimeridian clamp the box rather than wrap it.
func (c *GlobeCamera) VisibleBound() orb.Bound {
	halfLat := c.Height * c.VisibleScale / metresPerDegree
	cosLat := math.Max(math.Cos(c.Lat*math.Pi/180), 0.01)
	halfLon := halfLat / cosLat

	return orb.Bound{
		Min: orb.Point{math.Max(c.Lon-halfLon, -180), math.Max(c.Lat-halfLat, -90)},
		Max: orb.Point{math.Min(c.Lon+halfLon, 180), math.Min(c.Lat+halfLat, 90)},
	}
}

// Position returns the camera eye in the frame's ENU coordinates.
func (c *GlobeCamera) Position(f *geo.Frame) vmath.Vec3 {
	return f.Project(geo.Geodetic{Lon: c.Lon, Lat: c.Lat, Height: c.Height})
}

// HandleDrag pans the target by a mouse delta in pixels. Speed scales with height.
func (c *GlobeCamera) HandleDrag(deltaX, deltaY float64) {
	metres := c.Height * c.DragSensitivity
	c.move(-deltaY*metres, -deltaX*metres)
}

// HandleZoom changes height by a scroll delta; positive zooms in.
func (c *GlobeCamera) HandleZoom(delta float64) {
	c.Height = clamp(c.Height-delta*c.Height*c.ZoomSensitivity, c.MinHeight, c.MaxHeight)
}

// HandleRotate turns the heading and tilts the pitch.
func (c *GlobeCamera) HandleRotate(deltaX, deltaY float64) {
	c.Heading = math.Mod(c.Heading+deltaX*c.RotateSensitivity, 2*math.Pi)
	if c.Heading < 0 {
		c.Heading += 2 * math.Pi
	}
	c.Pitch = clamp(c.Pitch+deltaY*c.RotateSensitivity, c.MinPitch, c.MaxPitch)
}

// HandleMovement pans relative to the heading from keyboard input, in units of 1% of height.
func (c *GlobeCamera) HandleMovement(forward, right float64) {
	speed := c.Height * 0.01
	c.move(forward*speed, right*speed)
}

// move shifts the target by metres along and across the heading.
func (c *GlobeCamera) move(forward, right float64) {
	sinH, cosH := math.Sincos(c.Heading)
	north := forward*cosH - right*sinH
	east := forward*sinH + right*cosH

	cosLat := math.Max(math.Cos(c.Lat*math.Pi/180), 0.01)
	c.SetPosition(
		c.Lon+east/(metresPerDegree*cosLat),
		c.Lat+north/metresPerDegree,
		c.Height,
	)
}

// FitToBounds centres the camera over a lon/lat box and picks a height that shows it.
func (c *GlobeCamera) FitToBounds(b orb.Bound) {
	center := b.Center()
	span := math.Max(b.Max[1]-b.Min[1], (b.Max[0]-b.Min[0])*math.Cos(center[1]*math.Pi/180))
	c.Heading = 0
	c.Pitch = c.MaxPitch
	c.SetPosition(center[0], center[1], span*metresPerDegree)
}

func wrapLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
