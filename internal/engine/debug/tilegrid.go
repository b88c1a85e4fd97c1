package debug

import (
	"github.com/Faultbox/tilestream/pkg/geo"
	"github.com/Faultbox/tilestream/pkg/tile"
)

// LineVertex is one endpoint of a debug line in frame coordinates.
type LineVertex struct {
	X, Y, Z float32 // Position
	R, G, B float32 // Color
}

// zoomColors cycles so neighbouring zooms are easy to tell apart.
var zoomColors = [...][3]float32{
	{0.9, 0.2, 0.2},
	{0.2, 0.8, 0.2},
	{0.2, 0.4, 0.9},
	{0.9, 0.8, 0.1},
	{0.8, 0.2, 0.8},
	{0.1, 0.8, 0.8},
}

// ZoomColor returns the outline color for a zoom level.
func ZoomColor(z uint32) [3]float32 {
	return zoomColors[int(z)%len(zoomColors)]
}

// TileOutlines returns line-list vertices tracing each tile's border at a constant height.
// Every side is subdivided into segments so long edges follow the ellipsoid.
func TileOutlines(tiles []tile.Coord, s tile.Scheme, frame *geo.Frame, height float64, segments int) []LineVertex {
	if frame == nil || len(tiles) == 0 {
		return nil
	}
	if segments < 1 {
		segments = 1
	}

	vertices := make([]LineVertex, 0, len(tiles)*4*segments*2)
	for _, c := range tiles {
		color := ZoomColor(c.Z)
		point := func(u, v float64) LineVertex {
			lon, lat := s.Lerp(c, u, v)
			p := frame.Project(geo.Geodetic{Lon: lon, Lat: lat, Height: height})
			return LineVertex{float32(p.X), float32(p.Y), float32(p.Z), color[0], color[1], color[2]}
		}

		// South, east, north, west as (u0,v0) -> (u1,v1)
		sides := [4][4]float64{{0, 0, 1, 0}, {1, 0, 1, 1}, {1, 1, 0, 1}, {0, 1, 0, 0}}
		for _, side := range sides {
			for i := 0; i < segments; i++ {
				t0 := float64(i) / float64(segments)
				t1 := float64(i+1) / float64(segments)
				vertices = append(vertices,
					point(side[0]+(side[2]-side[0])*t0, side[1]+(side[3]-side[1])*t0),
					point(side[0]+(side[2]-side[0])*t1, side[1]+(side[3]-side[1])*t1),
				)
			}
		}
	}
	return vertices
}
