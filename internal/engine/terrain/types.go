// Package terrain assembles decoded quantized-mesh tiles into render-ready meshes
// and blends meshes of different resolution into one seamless surface.
package terrain

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/Faultbox/tilestream/pkg/geo"
	vmath "github.com/Faultbox/tilestream/pkg/math"
	"github.com/Faultbox/tilestream/pkg/tile"
)

// VertexStride is the number of float32 values per vertex: x, y, z, u, v.
const VertexStride = 5

// MeshData holds one or more assembled tiles in the shared ENU frame.
// Blend mutates the z component, Heights and Normals in place; consumers must
// re-upload Vertices after a blend.
type MeshData struct {
	// Vertices is x, y, z (ENU metres) followed by the texture u, v.
	Vertices []float32
	Indices  []uint32
	// Normals holds three components per vertex.
	Normals []float32

	// Geo holds lon, lat in degrees per vertex.
	Geo []float64
	// Heights are ellipsoid heights in metres, after exaggeration.
	Heights []float64
	// Skirt flags vertices that belong to skirt ribbons.
	Skirt []bool
	// EdgeDistance is the angular distance in degrees to the nearest side
	// without a same-resolution neighbour. Skirt vertices are 0; vertices of a
	// tile with no open sides are +Inf.
	EdgeDistance []float64

	MinHeight float64
	MaxHeight float64

	Coords []tile.Coord
	// TileBounds holds the footprint of each entry of Coords.
	TileBounds []orb.Bound
	Bounds     orb.Bound
	Zoom       uint32
}

// Neighbors records which sides of a tile have a loaded same-zoom neighbour.
type Neighbors struct {
	West, South, East, North bool
}

// Has reports whether the given side has a neighbour.
func (n Neighbors) Has(side tile.Side) bool {
	switch side {
	case tile.West:
		return n.West
	case tile.South:
		return n.South
	case tile.East:
		return n.East
	case tile.North:
		return n.North
	}
	return false
}

// FindNeighbors builds neighbour flags by asking present about each adjacent tile.
// Sides past the poles count as missing.
func FindNeighbors(s tile.Scheme, c tile.Coord, present func(tile.Coord) bool) Neighbors {
	var has [4]bool
	for _, side := range tile.Sides {
		if nb, ok := s.Neighbor(c, side); ok && present(nb) {
			has[side] = true
		}
	}
	return Neighbors{West: has[tile.West], South: has[tile.South], East: has[tile.East], North: has[tile.North]}
}

// AssembleOptions controls how tiles are placed in world space.
type AssembleOptions struct {
	Scheme tile.Scheme
	// Frame is the shared tangent frame. When nil, each tile gets a frame at its own center.
	Frame *geo.Frame
	// Exaggeration scales heights; 0 means 1.
	Exaggeration float64
	// SkirtMinDepth is the smallest skirt drop in metres.
	SkirtMinDepth float64
	// SkirtDepthScale is the skirt drop as a fraction of the tile's height range.
	SkirtDepthScale float64
}

// DefaultAssembleOptions returns options for geographic TMS terrain.
func DefaultAssembleOptions() AssembleOptions {
	return AssembleOptions{
		Scheme:          tile.Scheme{Projection: tile.Geographic, Origin: tile.TMS},
		Exaggeration:    1,
		SkirtMinDepth:   50,
		SkirtDepthScale: 0.1,
	}
}

func (o AssembleOptions) exaggeration() float64 {
	if o.Exaggeration == 0 {
		return 1
	}
	return o.Exaggeration
}

// VertexCount returns the number of vertices.
func (m *MeshData) VertexCount() int {
	return len(m.Heights)
}

// TriangleCount returns the number of triangles, skirts included.
func (m *MeshData) TriangleCount() int {
	return len(m.Indices) / 3
}

// Position returns the ENU position of vertex i.
func (m *MeshData) Position(i int) vmath.Vec3 {
	v := m.Vertices[i*VertexStride:]
	return vmath.Vec3{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])}
}

// LonLat returns the geographic position of vertex i.
func (m *MeshData) LonLat(i int) (lon, lat float64) {
	return m.Geo[2*i], m.Geo[2*i+1]
}

// setHeight moves vertex i to height h, shifting z by the same amount.
func (m *MeshData) setHeight(i int, h float64) {
	m.Vertices[i*VertexStride+2] += float32(h - m.Heights[i])
	m.Heights[i] = h
}

func newMeshData(vertices, indices int) *MeshData {
	return &MeshData{
		Vertices:     make([]float32, 0, vertices*VertexStride),
		Indices:      make([]uint32, 0, indices),
		Normals:      make([]float32, 0, vertices*3),
		Geo:          make([]float64, 0, vertices*2),
		Heights:      make([]float64, 0, vertices),
		Skirt:        make([]bool, 0, vertices),
		EdgeDistance: make([]float64, 0, vertices),
		MinHeight:    math.Inf(1),
		MaxHeight:    math.Inf(-1),
	}
}

func (m *MeshData) appendVertex(p vmath.Vec3, u, v float32, lon, lat, h float64, skirt bool, dist float64) {
	m.Vertices = append(m.Vertices, float32(p.X), float32(p.Y), float32(p.Z), u, v)
	m.Normals = append(m.Normals, 0, 0, 1)
	m.Geo = append(m.Geo, lon, lat)
	m.Heights = append(m.Heights, h)
	m.Skirt = append(m.Skirt, skirt)
	m.EdgeDistance = append(m.EdgeDistance, dist)
}
