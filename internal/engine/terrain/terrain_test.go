package terrain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/tilestream/pkg/geo"
	"github.com/Faultbox/tilestream/pkg/quantizedmesh"
	"github.com/Faultbox/tilestream/pkg/tile"
)

var geographic = tile.Scheme{Projection: tile.Geographic, Origin: tile.TMS}

// createGridTile builds an n×n grid tile; height returns the quantized height at (u, v) in [0,1].
func createGridTile(n int, minH, maxH float32, height func(u, v float64) uint16) *quantizedmesh.Tile {
	t := &quantizedmesh.Tile{
		Header: quantizedmesh.Header{MinimumHeight: minH, MaximumHeight: maxH},
	}
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			u := float64(col) / float64(n-1)
			v := float64(row) / float64(n-1)
			t.U = append(t.U, uint16(math.Round(u*quantizedmesh.MaxValue)))
			t.V = append(t.V, uint16(math.Round(v*quantizedmesh.MaxValue)))
			t.H = append(t.H, height(u, v))
		}
	}
	for row := 0; row < n-1; row++ {
		for col := 0; col < n-1; col++ {
			sw := uint32(row*n + col)
			se, nw, ne := sw+1, sw+uint32(n), sw+uint32(n)+1
			t.Indices = append(t.Indices, sw, se, nw, nw, se, ne)
		}
	}
	for i := 0; i < n; i++ {
		t.West = append(t.West, uint32(i*n))
		t.East = append(t.East, uint32(i*n+n-1))
		t.South = append(t.South, uint32(i))
		t.North = append(t.North, uint32((n-1)*n+i))
	}
	return t
}

func flatHeight(float64, float64) uint16 { return 0 }

func optsFor(c tile.Coord) AssembleOptions {
	opts := DefaultAssembleOptions()
	center := geographic.Center(c)
	opts.Frame = geo.NewFrame(geo.Geodetic{Lon: center[0], Lat: center[1]})
	return opts
}

func TestAssembleSkirtsOnlyOnOpenSides(t *testing.T) {
	const k = 5
	qt := createGridTile(k, 0, 100, flatHeight)
	c := tile.Coord{Z: 10, X: 1700, Y: 800}

	m := Assemble(qt, c, Neighbors{East: true, North: true}, optsFor(c))

	assert.Len(t, m.Indices, len(qt.Indices)+2*6*(k-1))
	assert.Equal(t, qt.VertexCount()+2*k, m.VertexCount())
	assert.Equal(t, cap(m.Indices), len(m.Indices), "index buffer should be preallocated exactly")
	assert.Equal(t, cap(m.Heights), len(m.Heights), "vertex buffers should be preallocated exactly")

	b := geographic.Bounds(c)
	skirts := 0
	for i := 0; i < m.VertexCount(); i++ {
		if !m.Skirt[i] {
			continue
		}
		skirts++
		lon, lat := m.LonLat(i)
		onWest := math.Abs(lon-b.Min[0]) < 1e-9
		onSouth := math.Abs(lat-b.Min[1]) < 1e-9
		assert.True(t, onWest || onSouth, "skirt vertex %d at %f,%f is not on west or south", i, lon, lat)
		assert.Equal(t, up, m.Normal(i))
		assert.Zero(t, m.EdgeDistance[i])
		assert.InDelta(t, -50.0, m.Heights[i], 1e-9, "skirt drops by the minimum depth on flat tiles")
	}
	assert.Equal(t, 2*k, skirts)
}

func TestAssembleWithAllNeighbors(t *testing.T) {
	qt := createGridTile(4, 0, 100, flatHeight)
	c := tile.Coord{Z: 6, X: 10, Y: 20}

	m := Assemble(qt, c, Neighbors{true, true, true, true}, optsFor(c))

	assert.Equal(t, qt.Indices, m.Indices)
	assert.Equal(t, qt.VertexCount(), m.VertexCount())
	for _, d := range m.EdgeDistance {
		assert.True(t, math.IsInf(d, 1))
	}
}

func TestAssembleGeometry(t *testing.T) {
	c := tile.Coord{Z: 12, X: 6000, Y: 3000}
	opts := optsFor(c)
	opts.Exaggeration = 2

	m := Assemble(quantizedmesh.Flat(100), c, Neighbors{true, true, true, true}, opts)
	require.Equal(t, 4, m.VertexCount())

	b := geographic.Bounds(c)
	lon, lat := m.LonLat(0)
	assert.InDelta(t, b.Min[0], lon, 1e-12)
	assert.InDelta(t, b.Min[1], lat, 1e-12)
	lon, lat = m.LonLat(3)
	assert.InDelta(t, b.Max[0], lon, 1e-12)
	assert.InDelta(t, b.Max[1], lat, 1e-12)

	for i := 0; i < 4; i++ {
		assert.InDelta(t, 200.0, m.Heights[i], 1e-9)
		n := m.Normal(i)
		assert.Greater(t, n.Z, 0.99)
	}
	assert.Equal(t, 200.0, m.MinHeight)
	assert.Equal(t, 200.0, m.MaxHeight)

	// SW corner samples the bottom-left of the texture, NE the top-right.
	assert.Equal(t, []float32{0, 1}, m.Vertices[3:5])
	assert.Equal(t, []float32{1, 0}, m.Vertices[3*VertexStride+3:3*VertexStride+5])

	// Vertices are east of / north of each other in the ENU frame.
	assert.Greater(t, m.Position(1).X, m.Position(0).X)
	assert.Greater(t, m.Position(2).Y, m.Position(0).Y)
}

func TestAssembleMercatorXYZ(t *testing.T) {
	c := tile.Coord{Z: 3, X: 4, Y: 2}
	opts := optsFor(c)
	opts.Scheme = tile.WebMercator

	m := Assemble(quantizedmesh.Flat(0), c, Neighbors{}, opts)
	b := tile.WebMercator.Bounds(c)
	_, lat := m.LonLat(2)
	assert.InDelta(t, b.Max[1], lat, 1e-9)
	_, lat = m.LonLat(0)
	assert.InDelta(t, b.Min[1], lat, 1e-9)
}

func TestAssembleSetWeldsSharedEdges(t *testing.T) {
	a := tile.Coord{Z: 12, X: 100, Y: 200}
	b, ok := geographic.Neighbor(a, tile.East)
	require.True(t, ok)

	opts := optsFor(a)
	tiles := map[tile.Coord]*quantizedmesh.Tile{
		a: quantizedmesh.Flat(10),
		b: quantizedmesh.Flat(20),
	}
	m := AssembleSet(tiles, opts)
	require.NotNil(t, m)

	// Each tile is skirted on three sides of two vertices.
	assert.Equal(t, 2*4+2*3*2, m.VertexCount())
	assert.Equal(t, 2*6+2*3*6, len(m.Indices))
	assert.ElementsMatch(t, []tile.Coord{a, b}, m.Coords)
	for _, idx := range m.Indices {
		assert.Less(t, idx, uint32(m.VertexCount()))
	}

	shared := 0
	for i := 0; i < m.VertexCount(); i++ {
		for j := i + 1; j < m.VertexCount(); j++ {
			if m.Skirt[i] || m.Skirt[j] {
				continue
			}
			if weldKeyOf(m.LonLat(i)) != weldKeyOf(m.LonLat(j)) {
				continue
			}
			shared++
			assert.Equal(t, m.Vertices[i*VertexStride:i*VertexStride+3], m.Vertices[j*VertexStride:j*VertexStride+3])
			assert.InDelta(t, 15.0, m.Heights[i], 1e-9)
			assert.InDelta(t, 15.0, m.Heights[j], 1e-9)
		}
	}
	assert.Equal(t, 2, shared)
}

func TestMergeSkipsNil(t *testing.T) {
	assert.Nil(t, Merge(nil))
	assert.Nil(t, Merge([]*MeshData{nil}))

	c := tile.Coord{Z: 4, X: 3, Y: 3}
	single := Assemble(quantizedmesh.Flat(5), c, Neighbors{}, optsFor(c))
	m := Merge([]*MeshData{nil, single})
	assert.Equal(t, single.Indices, m.Indices)
	assert.Equal(t, single.Heights, m.Heights)
}

func TestHeightSampler(t *testing.T) {
	c := tile.Coord{Z: 3, X: 2, Y: 3}
	ramp := func(u, _ float64) uint16 { return uint16(math.Round(u * quantizedmesh.MaxValue)) }
	m := Assemble(createGridTile(9, 0, 1000, ramp), c, Neighbors{}, optsFor(c))
	s := NewHeightSampler(m, 16)

	b := geographic.Bounds(c)
	for _, u := range []float64{0, 0.1, 0.37, 0.5, 0.99, 1} {
		lon := b.Min[0] + u*(b.Max[0]-b.Min[0])
		lat := b.Min[1] + 0.3*(b.Max[1]-b.Min[1])
		h, ok := s.Sample(lon, lat)
		require.True(t, ok)
		assert.InDelta(t, 1000*u, h, 0.05, "u=%v", u)
	}

	_, ok := s.Sample(b.Max[0]+1, b.Min[1])
	assert.False(t, ok)
	_, found := s.Locate(b.Min[0]-1, b.Min[1])
	assert.False(t, found)

	empty := NewHeightSampler(nil, 0)
	_, ok = empty.Sample(0, 0)
	assert.False(t, ok)
}

func TestSmoothstep(t *testing.T) {
	assert.Equal(t, 0.0, Smoothstep(0, 2, 0))
	assert.Equal(t, 1.0, Smoothstep(0, 2, 2))
	assert.Equal(t, 1.0, Smoothstep(0, 2, 5))
	assert.Equal(t, 0.0, Smoothstep(0, 2, -1))
	assert.InDelta(t, 0.5, Smoothstep(0, 2, 1), 1e-12)
	assert.Equal(t, 1.0, Smoothstep(1, 1, 1))
}

func TestBlendWidth(t *testing.T) {
	assert.InDelta(t, 45.0, BlendWidth(0, geographic, 0.25), 1e-12)
	assert.InDelta(t, 45.0/1024, BlendWidth(10, geographic, 0.25), 1e-12)
	assert.InDelta(t, 90.0, BlendWidth(0, tile.WebMercator, 0.25), 1e-12)
}

// blendFixture returns a flat coarse parent at height 0 and a 9×9 child at height 100.
func blendFixture(t *testing.T) (coarse, fine *MeshData, width float64) {
	t.Helper()
	parent := tile.Coord{Z: 9, X: 700, Y: 300}
	child := parent.Children()[0]
	opts := optsFor(parent)

	coarse = Assemble(quantizedmesh.Flat(0), parent, Neighbors{}, opts)
	fine = Assemble(createGridTile(9, 100, 100, flatHeight), child, Neighbors{}, opts)
	width = geographic.AngularWidth(child.Z) * 0.3
	return coarse, fine, width
}

func TestBlendBoundaryConditions(t *testing.T) {
	coarse, fine, width := blendFixture(t)
	before := append([]float32(nil), fine.Vertices...)

	opts := DefaultBlendOptions()
	opts.Width = width
	changed := Blend(NewHeightSampler(coarse, 0), fine, opts)
	assert.Greater(t, changed, 0)

	for i := 0; i < fine.VertexCount(); i++ {
		z0 := float64(before[i*VertexStride+2])
		switch {
		case fine.Skirt[i]:
			assert.InDelta(t, -opts.SkirtEpsilon, fine.Heights[i], 1e-9)
			assert.Equal(t, up, fine.Normal(i))
		case fine.EdgeDistance[i] == 0:
			assert.InDelta(t, 0.0, fine.Heights[i], 1e-9, "vertex %d on an open edge must match the coarse surface", i)
			assert.InDelta(t, z0-100, float64(fine.Vertices[i*VertexStride+2]), 1e-2)
		case fine.EdgeDistance[i] >= width:
			assert.Equal(t, 100.0, fine.Heights[i])
			assert.Equal(t, before[i*VertexStride+2], fine.Vertices[i*VertexStride+2])
		default:
			assert.Greater(t, fine.Heights[i], 0.0)
			assert.Less(t, fine.Heights[i], 100.0)
		}
		// x, y and uv never change.
		assert.Equal(t, before[i*VertexStride], fine.Vertices[i*VertexStride])
		assert.Equal(t, before[i*VertexStride+1], fine.Vertices[i*VertexStride+1])
		assert.Equal(t, before[i*VertexStride+3:i*VertexStride+5], fine.Vertices[i*VertexStride+3:i*VertexStride+5])
	}
}

func TestBlendStackMatchesBlend(t *testing.T) {
	coarse, fine, width := blendFixture(t)
	_, fine2, _ := blendFixture(t)

	opts := DefaultBlendOptions()
	opts.Width = width
	Blend(NewHeightSampler(coarse, 0), fine, opts)
	BlendStack([]*MeshData{coarse, fine2}, nil, opts)

	assert.Equal(t, fine.Heights, fine2.Heights)
}

func TestBlendStackDetail(t *testing.T) {
	coarse, fine, width := blendFixture(t)
	opts := DefaultBlendOptions()
	opts.Width = width

	BlendStack([]*MeshData{coarse}, fine, opts)
	for i := 0; i < fine.VertexCount(); i++ {
		if !fine.Skirt[i] && fine.EdgeDistance[i] == 0 {
			assert.InDelta(t, 0.0, fine.Heights[i], 1e-9)
		}
	}

	// Nothing to blend toward.
	BlendStack(nil, fine, opts)
}

func TestBlendLeavesUncoveredVertices(t *testing.T) {
	opts := optsFor(tile.Coord{Z: 3, X: 7, Y: 3})
	coarse := AssembleSet(map[tile.Coord]*quantizedmesh.Tile{
		{Z: 2, X: 0, Y: 0}: quantizedmesh.Flat(1000),
		{Z: 2, X: 7, Y: 3}: quantizedmesh.Flat(1000),
	}, opts)
	fineCoord := tile.Coord{Z: 3, X: 7, Y: 3}
	fine := Assemble(quantizedmesh.Flat(0), fineCoord, Neighbors{}, opts)
	before := append([]float32(nil), fine.Vertices...)

	sampler := NewHeightSampler(coarse, 0)
	lon, lat := fine.LonLat(0)
	require.True(t, sampler.Contains(lon, lat), "the hole lies inside the merged extent")
	assert.False(t, sampler.Covers(lon, lat))
	_, ok := sampler.Sample(lon, lat)
	assert.False(t, ok)

	blend := DefaultBlendOptions()
	assert.Equal(t, 0, Blend(sampler, fine, blend))
	BlendStack([]*MeshData{coarse}, fine, blend)
	for i := 0; i < fine.VertexCount(); i++ {
		assert.Equal(t, 0.0, fine.Heights[i], "vertex %d", i)
	}
	assert.Equal(t, before, fine.Vertices)

	// The same tile over a coarse surface is pulled toward it.
	parent := fineCoord.Parent()
	covered := AssembleSet(map[tile.Coord]*quantizedmesh.Tile{parent: quantizedmesh.Flat(1000)}, opts)
	assert.Greater(t, Blend(NewHeightSampler(covered, 0), fine, blend), 0)
	assert.Greater(t, fine.Heights[0], 0.0)
}

func TestFindNeighbors(t *testing.T) {
	c := tile.Coord{Z: 2, X: 0, Y: 0}
	present := map[tile.Coord]bool{
		{Z: 2, X: 7, Y: 0}: true, // west wraps around the antimeridian
		{Z: 2, X: 1, Y: 0}: true,
	}
	n := FindNeighbors(geographic, c, func(nb tile.Coord) bool { return present[nb] })
	assert.Equal(t, Neighbors{West: true, East: true}, n)
}
