package terrain

import (
	"math"
	"sort"

	"github.com/Faultbox/tilestream/pkg/quantizedmesh"
	"github.com/Faultbox/tilestream/pkg/tile"
)

// WeldPrecision is the grid, in degrees, that shared edge vertices are snapped to
// when matching copies across tiles.
const WeldPrecision = 1e-7

// Merge concatenates meshes of the same zoom and welds their shared edges.
// Nil parts are skipped. The parts are left untouched.
func Merge(parts []*MeshData) *MeshData {
	vc, ic := 0, 0
	for _, p := range parts {
		if p == nil {
			continue
		}
		vc += p.VertexCount()
		ic += len(p.Indices)
	}
	if vc == 0 {
		return nil
	}

	m := newMeshData(vc, ic)
	first := true
	for _, p := range parts {
		if p == nil {
			continue
		}
		offset := uint32(m.VertexCount())
		m.Vertices = append(m.Vertices, p.Vertices...)
		m.Normals = append(m.Normals, p.Normals...)
		m.Geo = append(m.Geo, p.Geo...)
		m.Heights = append(m.Heights, p.Heights...)
		m.Skirt = append(m.Skirt, p.Skirt...)
		m.EdgeDistance = append(m.EdgeDistance, p.EdgeDistance...)
		for _, idx := range p.Indices {
			m.Indices = append(m.Indices, idx+offset)
		}
		m.Coords = append(m.Coords, p.Coords...)
		m.TileBounds = append(m.TileBounds, p.TileBounds...)
		m.MinHeight = math.Min(m.MinHeight, p.MinHeight)
		m.MaxHeight = math.Max(m.MaxHeight, p.MaxHeight)
		if first {
			m.Bounds = p.Bounds
			m.Zoom = p.Zoom
			first = false
		} else {
			m.Bounds = m.Bounds.Union(p.Bounds)
		}
	}

	if Weld(m) > 0 {
		ComputeNormals(m)
	}
	return m
}

type weldKey [2]int64

func weldKeyOf(lon, lat float64) weldKey {
	return weldKey{int64(math.Round(lon / WeldPrecision)), int64(math.Round(lat / WeldPrecision))}
}

// Weld averages surface vertices that share a geographic position and writes the
// average back to every copy. It returns the number of welded groups.
func Weld(m *MeshData) int {
	groups := make(map[weldKey][]int)
	for i := 0; i < m.VertexCount(); i++ {
		if m.Skirt[i] {
			continue
		}
		k := weldKeyOf(m.LonLat(i))
		groups[k] = append(groups[k], i)
	}

	welded := 0
	for _, g := range groups {
		if len(g) < 2 {
			continue
		}
		welded++

		var x, y, z, h float64
		dist := math.Inf(1)
		for _, i := range g {
			v := m.Vertices[i*VertexStride:]
			x += float64(v[0])
			y += float64(v[1])
			z += float64(v[2])
			h += m.Heights[i]
			dist = math.Min(dist, m.EdgeDistance[i])
		}
		inv := 1 / float64(len(g))
		for _, i := range g {
			v := m.Vertices[i*VertexStride:]
			v[0], v[1], v[2] = float32(x*inv), float32(y*inv), float32(z*inv)
			m.Heights[i] = h * inv
			m.EdgeDistance[i] = dist
		}
	}
	return welded
}

// AssembleSet assembles a set of same-zoom tiles into one welded mesh. Neighbour flags
// come from the set itself, so skirts appear only on the outer boundary.
func AssembleSet(tiles map[tile.Coord]*quantizedmesh.Tile, opts AssembleOptions) *MeshData {
	coords := make([]tile.Coord, 0, len(tiles))
	for c, t := range tiles {
		if t != nil {
			coords = append(coords, c)
		}
	}
	sort.Slice(coords, func(i, j int) bool { return coords[i].Key() < coords[j].Key() })

	present := func(c tile.Coord) bool { return tiles[c] != nil }
	parts := make([]*MeshData, 0, len(coords))
	for _, c := range coords {
		parts = append(parts, Assemble(tiles[c], c, FindNeighbors(opts.Scheme, c, present), opts))
	}
	return Merge(parts)
}
