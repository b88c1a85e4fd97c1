package tile

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"
)

// Projection selects how tile rows map to latitude.
type Projection int

const (
	// Mercator is the spherical web-mercator grid, 2^z × 2^z tiles.
	Mercator Projection = iota
	// Geographic is the equirectangular grid with two root tiles, 2^(z+1) × 2^z.
	Geographic
)

// String returns the projection name used in config files.
func (p Projection) String() string {
	switch p {
	case Mercator:
		return "mercator"
	case Geographic:
		return "geographic"
	default:
		return fmt.Sprintf("Projection(%d)", int(p))
	}
}

// ParseProjection parses "mercator" or "geographic".
func ParseProjection(s string) (Projection, error) {
	switch s {
	case "mercator", "EPSG:3857":
		return Mercator, nil
	case "geographic", "EPSG:4326":
		return Geographic, nil
	}
	return 0, fmt.Errorf("unknown projection %q", s)
}

// Origin selects where row zero sits.
type Origin int

const (
	// XYZ puts row zero at the north edge.
	XYZ Origin = iota
	// TMS puts row zero at the south edge.
	TMS
)

// String returns the origin name used in config files.
func (o Origin) String() string {
	if o == TMS {
		return "tms"
	}
	return "xyz"
}

// ParseOrigin parses "xyz" or "tms".
func ParseOrigin(s string) (Origin, error) {
	switch s {
	case "xyz":
		return XYZ, nil
	case "tms":
		return TMS, nil
	}
	return 0, fmt.Errorf("unknown tile origin %q", s)
}

// Scheme describes a tiling: projection plus row origin.
type Scheme struct {
	Projection Projection
	Origin     Origin
}

// WebMercator is the XYZ scheme used by raster basemaps.
var WebMercator = Scheme{Projection: Mercator, Origin: XYZ}

// TilesX returns the number of columns at zoom z.
func (s Scheme) TilesX(z uint32) uint32 {
	if s.Projection == Geographic {
		return 1 << (z + 1)
	}
	return 1 << z
}

// TilesY returns the number of rows at zoom z.
func (s Scheme) TilesY(z uint32) uint32 {
	return 1 << z
}

// Normalize wraps x around the antimeridian and clamps y into range.
func (s Scheme) Normalize(z uint32, x, y int64) Coord {
	nx := int64(s.TilesX(z))
	ny := int64(s.TilesY(z))
	x %= nx
	if x < 0 {
		x += nx
	}
	if y < 0 {
		y = 0
	}
	if y >= ny {
		y = ny - 1
	}
	return Coord{Z: z, X: uint32(x), Y: uint32(y)}
}

// Wrap brings any coord into the grid. Zooms past MaxZoom map onto their ancestor at
// MaxZoom, x wraps around the antimeridian and y is clamped.
func (s Scheme) Wrap(c Coord) Coord {
	c = c.ClampZoom(MaxZoom)
	return s.Normalize(c.Z, int64(c.X), int64(c.Y))
}

// Root returns all tiles at zoom z in row-major order.
func (s Scheme) Root(z uint32) []Coord {
	nx, ny := s.TilesX(z), s.TilesY(z)
	out := make([]Coord, 0, int(nx)*int(ny))
	for y := uint32(0); y < ny; y++ {
		for x := uint32(0); x < nx; x++ {
			out = append(out, Coord{Z: z, X: x, Y: y})
		}
	}
	return out
}

// rowFromNorth converts the coord's row to an XYZ (north-origin) row.
func (s Scheme) rowFromNorth(c Coord) uint32 {
	if s.Origin == TMS {
		return s.TilesY(c.Z) - 1 - c.Y
	}
	return c.Y
}

// TMSY returns the south-origin row, as used by quantized-mesh URLs.
func (s Scheme) TMSY(c Coord) uint32 {
	if s.Origin == TMS {
		return c.Y
	}
	return s.TilesY(c.Z) - 1 - c.Y
}

// XYZY returns the north-origin row, as used by slippy-map URLs.
func (s Scheme) XYZY(c Coord) uint32 {
	return s.rowFromNorth(c)
}

// Neighbor returns the adjacent tile on the given side at the same zoom.
// Columns wrap around the antimeridian; ok is false past the poles.
func (s Scheme) Neighbor(c Coord, side Side) (Coord, bool) {
	x, y := int64(c.X), int64(c.Y)
	north := int64(-1)
	if s.Origin == TMS {
		north = 1
	}
	switch side {
	case West:
		x--
	case East:
		x++
	case North:
		y += north
	case South:
		y -= north
	}
	if y < 0 || y >= int64(s.TilesY(c.Z)) {
		return Coord{}, false
	}
	return s.Normalize(c.Z, x, y), true
}

// Bounds returns the tile footprint in degrees.
func (s Scheme) Bounds(c Coord) orb.Bound {
	row := s.rowFromNorth(c)
	if s.Projection == Mercator {
		return maptile.New(c.X, row, maptile.Zoom(c.Z)).Bound()
	}
	w := 360.0 / float64(s.TilesX(c.Z))
	h := 180.0 / float64(s.TilesY(c.Z))
	west := -180 + float64(c.X)*w
	north := 90 - float64(row)*h
	return orb.Bound{
		Min: orb.Point{west, north - h},
		Max: orb.Point{west + w, north},
	}
}

// Lerp maps tile-local (u, v) in [0,1], u east and v north, to lon/lat.
// Mercator tiles interpolate latitude in projected metres so rows line up with the grid.
func (s Scheme) Lerp(c Coord, u, v float64) (lon, lat float64) {
	return LerpBound(s.Projection, s.Bounds(c), u, v)
}

// LerpBound is Lerp over a precomputed bound.
func LerpBound(p Projection, b orb.Bound, u, v float64) (lon, lat float64) {
	lon = b.Min[0] + (b.Max[0]-b.Min[0])*u
	if p == Mercator {
		lo := project.WGS84.ToMercator(orb.Point{0, b.Min[1]})
		hi := project.WGS84.ToMercator(orb.Point{0, b.Max[1]})
		y := lo[1] + (hi[1]-lo[1])*v
		lat = project.Mercator.ToWGS84(orb.Point{0, y})[1]
		return lon, lat
	}
	lat = b.Min[1] + (b.Max[1]-b.Min[1])*v
	return lon, lat
}

// Center returns the tile center in lon/lat.
func (s Scheme) Center(c Coord) orb.Point {
	lon, lat := s.Lerp(c, 0.5, 0.5)
	return orb.Point{lon, lat}
}

// AngularWidth returns the longitude span of one tile at zoom z, in degrees.
func (s Scheme) AngularWidth(z uint32) float64 {
	return 360.0 / float64(s.TilesX(z))
}

// At returns the tile containing the point at zoom z.
func (s Scheme) At(lon, lat float64, z uint32) Coord {
	var x, row int64
	if s.Projection == Mercator {
		t := maptile.At(orb.Point{lon, lat}, maptile.Zoom(z))
		x, row = int64(t.X), int64(t.Y)
	} else {
		x = int64(math.Floor((lon + 180) / s.AngularWidth(z)))
		row = int64(math.Floor((90 - lat) / (180.0 / float64(s.TilesY(z)))))
	}
	c := s.Normalize(z, x, row)
	if s.Origin == TMS {
		c.Y = s.TilesY(z) - 1 - c.Y
	}
	return c
}
