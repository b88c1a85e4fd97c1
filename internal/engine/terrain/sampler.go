package terrain

import (
	"math"

	"github.com/paulmach/orb"

	vmath "github.com/Faultbox/tilestream/pkg/math"
)

// DefaultGridSize is the sampler grid resolution per axis.
const DefaultGridSize = 128

// barycentricEpsilon admits points that sit on a shared triangle edge.
const barycentricEpsilon = 1e-9

// HeightSampler answers point height queries against a mesh's surface triangles.
// Triangles are bucketed into a uniform lon/lat grid by their bounding box.
type HeightSampler struct {
	mesh   *MeshData
	bounds orb.Bound
	size   int
	cellW  float64
	cellH  float64
	cells  [][]int32
	empty  bool
}

// NewHeightSampler indexes the surface triangles of m. Skirt triangles are ignored.
// A gridSize of 0 selects DefaultGridSize.
func NewHeightSampler(m *MeshData, gridSize int) *HeightSampler {
	if gridSize <= 0 {
		gridSize = DefaultGridSize
	}
	s := &HeightSampler{mesh: m, size: gridSize, empty: true}
	if m == nil {
		return s
	}

	for i := 0; i < m.VertexCount(); i++ {
		if m.Skirt[i] {
			continue
		}
		p := orb.Point{m.Geo[2*i], m.Geo[2*i+1]}
		if s.empty {
			s.bounds = orb.Bound{Min: p, Max: p}
			s.empty = false
		} else {
			s.bounds = s.bounds.Extend(p)
		}
	}
	if s.empty {
		return s
	}

	s.cellW = math.Max((s.bounds.Max[0]-s.bounds.Min[0])/float64(gridSize), 1e-12)
	s.cellH = math.Max((s.bounds.Max[1]-s.bounds.Min[1])/float64(gridSize), 1e-12)
	s.cells = make([][]int32, gridSize*gridSize)

	for t := 0; t+2 < len(m.Indices); t += 3 {
		i0, i1, i2 := m.Indices[t], m.Indices[t+1], m.Indices[t+2]
		if m.Skirt[i0] || m.Skirt[i1] || m.Skirt[i2] {
			continue
		}
		minLon := math.Min(m.Geo[2*i0], math.Min(m.Geo[2*i1], m.Geo[2*i2]))
		maxLon := math.Max(m.Geo[2*i0], math.Max(m.Geo[2*i1], m.Geo[2*i2]))
		minLat := math.Min(m.Geo[2*i0+1], math.Min(m.Geo[2*i1+1], m.Geo[2*i2+1]))
		maxLat := math.Max(m.Geo[2*i0+1], math.Max(m.Geo[2*i1+1], m.Geo[2*i2+1]))

		x0, y0 := s.cell(minLon, minLat)
		x1, y1 := s.cell(maxLon, maxLat)
		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				s.cells[y*gridSize+x] = append(s.cells[y*gridSize+x], int32(t))
			}
		}
	}
	return s
}

// Bounds returns the lon/lat extent of the indexed surface.
func (s *HeightSampler) Bounds() orb.Bound {
	return s.bounds
}

// Covers reports whether a point lies on one of the mesh's tiles. A merged mesh may
// leave holes inside its extent; those are not covered. Meshes without tile footprints
// fall back to the extent.
func (s *HeightSampler) Covers(lon, lat float64) bool {
	if s.empty {
		return false
	}
	if len(s.mesh.TileBounds) == 0 {
		return s.Contains(lon, lat)
	}
	p := orb.Point{lon, lat}
	for _, b := range s.mesh.TileBounds {
		if b.Pad(barycentricEpsilon).Contains(p) {
			return true
		}
	}
	return false
}

// Contains reports whether a point is inside the sampler's extent.
func (s *HeightSampler) Contains(lon, lat float64) bool {
	return !s.empty && s.bounds.Pad(barycentricEpsilon).Contains(orb.Point{lon, lat})
}

func (s *HeightSampler) cell(lon, lat float64) (int, int) {
	x := int((lon - s.bounds.Min[0]) / s.cellW)
	y := int((lat - s.bounds.Min[1]) / s.cellH)
	return clampi(x, 0, s.size-1), clampi(y, 0, s.size-1)
}

// Locate returns the interpolated height of the triangle containing the point.
// found is false when no surface triangle contains it.
func (s *HeightSampler) Locate(lon, lat float64) (h float64, found bool) {
	if !s.Contains(lon, lat) {
		return 0, false
	}
	m := s.mesh
	p := vmath.Vec2{X: lon, Y: lat}
	x, y := s.cell(lon, lat)
	for _, t := range s.cells[y*s.size+x] {
		i0, i1, i2 := m.Indices[t], m.Indices[t+1], m.Indices[t+2]
		w0, w1, w2, ok := vmath.Barycentric(p, s.geo(i0), s.geo(i1), s.geo(i2))
		if !ok || w0 < -barycentricEpsilon || w1 < -barycentricEpsilon || w2 < -barycentricEpsilon {
			continue
		}
		return w0*m.Heights[i0] + w1*m.Heights[i1] + w2*m.Heights[i2], true
	}
	return 0, false
}

// Sample returns the surface height at a point. Covered points that hit no triangle fall
// back to the nearest surface vertex. ok is false for points no tile covers.
func (s *HeightSampler) Sample(lon, lat float64) (h float64, ok bool) {
	if h, found := s.Locate(lon, lat); found {
		return h, true
	}
	if !s.Covers(lon, lat) {
		return 0, false
	}
	return s.nearest(lon, lat), true
}

func (s *HeightSampler) nearest(lon, lat float64) float64 {
	m := s.mesh
	best, bestD := 0.0, math.Inf(1)
	for i := 0; i < m.VertexCount(); i++ {
		if m.Skirt[i] {
			continue
		}
		dx, dy := m.Geo[2*i]-lon, m.Geo[2*i+1]-lat
		if d := dx*dx + dy*dy; d < bestD {
			best, bestD = m.Heights[i], d
		}
	}
	return best
}

func (s *HeightSampler) geo(i uint32) vmath.Vec2 {
	return vmath.Vec2{X: s.mesh.Geo[2*i], Y: s.mesh.Geo[2*i+1]}
}

func clampi(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
