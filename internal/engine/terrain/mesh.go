package terrain

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/Faultbox/tilestream/pkg/geo"
	"github.com/Faultbox/tilestream/pkg/quantizedmesh"
	"github.com/Faultbox/tilestream/pkg/tile"
)

// Assemble builds a mesh for one decoded tile.
//
// Every side without a neighbour gets a skirt: the edge vertices are duplicated, dropped by
// max(SkirtMinDepth, range*SkirtDepthScale) and joined to the surface with a ribbon of
// 2*(k-1) triangles for an edge of k vertices.
func Assemble(t *quantizedmesh.Tile, coord tile.Coord, n Neighbors, opts AssembleOptions) *MeshData {
	bounds := opts.Scheme.Bounds(coord)
	frame := opts.Frame
	if frame == nil {
		c := bounds.Center()
		frame = geo.NewFrame(geo.Geodetic{Lon: c[0], Lat: c[1]})
	}
	exag := opts.exaggeration()

	var edges [4][]uint32
	edges[tile.West], edges[tile.South], edges[tile.East], edges[tile.North] = t.EdgeIndices()

	vc := t.VertexCount()
	skirtVerts, skirtIndices := 0, 0
	for _, side := range tile.Sides {
		if k := len(edges[side]); !n.Has(side) && k >= 2 {
			skirtVerts += k
			skirtIndices += 6 * (k - 1)
		}
	}

	m := newMeshData(vc+skirtVerts, len(t.Indices)+skirtIndices)
	m.Coords = []tile.Coord{coord}
	m.TileBounds = []orb.Bound{bounds}
	m.Bounds = bounds
	m.Zoom = coord.Z

	for i := 0; i < vc; i++ {
		u := float64(t.U[i]) / quantizedmesh.MaxValue
		v := float64(t.V[i]) / quantizedmesh.MaxValue
		lon, lat := tile.LerpBound(opts.Scheme.Projection, bounds, u, v)
		h := t.HeightAt(i) * exag

		p := frame.Project(geo.Geodetic{Lon: lon, Lat: lat, Height: h})
		m.appendVertex(p, float32(u), float32(1-v), lon, lat, h, false, edgeDistance(bounds, n, lon, lat))
		m.MinHeight = math.Min(m.MinHeight, h)
		m.MaxHeight = math.Max(m.MaxHeight, h)
	}
	m.Indices = append(m.Indices, t.Indices...)

	depth := math.Max(opts.SkirtMinDepth, (m.MaxHeight-m.MinHeight)*opts.SkirtDepthScale)
	for _, side := range tile.Sides {
		if n.Has(side) || len(edges[side]) < 2 {
			continue
		}
		addSkirt(m, frame, t.SortEdge(int(side), edges[side]), side, depth)
	}

	ComputeNormals(m)
	return m
}

// addSkirt appends one skirt ribbon below an edge sorted along its length.
func addSkirt(m *MeshData, frame *geo.Frame, edge []uint32, side tile.Side, depth float64) {
	base := uint32(m.VertexCount())
	for _, idx := range edge {
		i := int(idx)
		lon, lat := m.LonLat(i)
		h := m.Heights[i] - depth
		p := frame.Project(geo.Geodetic{Lon: lon, Lat: lat, Height: h})
		uv := m.Vertices[i*VertexStride+3:]
		m.appendVertex(p, uv[0], uv[1], lon, lat, h, true, 0)
	}

	// South and east edges run along their side with the surface on the left; flip so
	// the ribbon faces outward on every side.
	flip := side == tile.South || side == tile.East
	for k := 0; k+1 < len(edge); k++ {
		a, b := edge[k], edge[k+1]
		sa, sb := base+uint32(k), base+uint32(k+1)
		if flip {
			m.Indices = append(m.Indices, a, sa, b, b, sa, sb)
		} else {
			m.Indices = append(m.Indices, a, b, sa, sa, b, sb)
		}
	}
}

// edgeDistance returns the angular distance from (lon, lat) to the nearest open side.
func edgeDistance(b orb.Bound, n Neighbors, lon, lat float64) float64 {
	d := math.Inf(1)
	if !n.West {
		d = math.Min(d, lon-b.Min[0])
	}
	if !n.East {
		d = math.Min(d, b.Max[0]-lon)
	}
	if !n.South {
		d = math.Min(d, lat-b.Min[1])
	}
	if !n.North {
		d = math.Min(d, b.Max[1]-lat)
	}
	return math.Max(d, 0)
}
