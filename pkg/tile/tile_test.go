package tile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordString(t *testing.T) {
	assert.Equal(t, "3/5/7", Coord{Z: 3, X: 5, Y: 7}.String())
}

func TestParseCoord(t *testing.T) {
	c, err := ParseCoord("10/512/511")
	require.NoError(t, err)
	assert.Equal(t, Coord{Z: 10, X: 512, Y: 511}, c)

	for _, bad := range []string{"", "1/2", "a/b/c", "1/2/3/4", "31/0/0"} {
		_, err := ParseCoord(bad)
		assert.ErrorIs(t, err, ErrInvalidCoord, bad)
	}
}

func TestKeyRoundTrip(t *testing.T) {
	coords := []Coord{
		{},
		{Z: 1, X: 1, Y: 0},
		{Z: 18, X: 262143, Y: 131072},
		{Z: 29, X: 1<<29 - 1, Y: 1<<29 - 1},
	}
	seen := make(map[uint64]Coord)
	for _, c := range coords {
		k := c.Key()
		assert.Equal(t, c, FromKey(k))
		_, dup := seen[k]
		assert.False(t, dup, "duplicate key for %s", c)
		seen[k] = c
	}
}

func TestClampZoom(t *testing.T) {
	c := Coord{Z: 10, X: 512, Y: 512}
	assert.Equal(t, Coord{Z: 8, X: 128, Y: 128}, c.ClampZoom(8))
	assert.Equal(t, c, c.ClampZoom(12))
}

func TestParentChildren(t *testing.T) {
	c := Coord{Z: 4, X: 9, Y: 3}
	for _, child := range c.Children() {
		assert.Equal(t, c, child.Parent())
		assert.True(t, c.Contains(child))
	}
	assert.Equal(t, Coord{}, Coord{}.Parent())
	assert.Equal(t, Coord{Z: 1, X: 1, Y: 0}, c.Ancestor(3))
	assert.Equal(t, Coord{}, c.Ancestor(10))
	assert.False(t, c.Contains(c.Parent()))
}

func TestNormalize(t *testing.T) {
	s := WebMercator
	assert.Equal(t, Coord{Z: 2, X: 3, Y: 0}, s.Normalize(2, -1, -5))
	assert.Equal(t, Coord{Z: 2, X: 0, Y: 3}, s.Normalize(2, 4, 9))

	g := Scheme{Projection: Geographic, Origin: TMS}
	assert.Equal(t, Coord{Z: 0, X: 1, Y: 0}, g.Normalize(0, -1, 0))
	assert.Len(t, g.Root(0), 2)
	assert.Len(t, s.Root(1), 4)
}

func TestWrap(t *testing.T) {
	g := Scheme{Projection: Geographic, Origin: TMS}
	assert.Equal(t, Coord{Z: 3, X: 1, Y: 2}, g.Wrap(Coord{Z: 3, X: 17, Y: 2}))
	assert.Equal(t, Coord{Z: 2, X: 0, Y: 3}, g.Wrap(Coord{Z: 2, X: 0, Y: 100}))
	assert.Equal(t, Coord{Z: 1, X: 1, Y: 0}, WebMercator.Wrap(Coord{Z: 1, X: 3, Y: 0}))

	deep := WebMercator.Wrap(Coord{Z: 40, X: 1 << 20, Y: 5})
	assert.Equal(t, uint32(MaxZoom), deep.Z)
	assert.Equal(t, uint32(512), deep.X)
	assert.Equal(t, uint32(0), deep.Y)

	in := Coord{Z: 5, X: 12, Y: 30}
	assert.Equal(t, in, WebMercator.Wrap(in))
}

func TestNeighbor(t *testing.T) {
	s := WebMercator
	c := Coord{Z: 2, X: 0, Y: 1}

	w, ok := s.Neighbor(c, West)
	require.True(t, ok)
	assert.Equal(t, Coord{Z: 2, X: 3, Y: 1}, w)

	n, ok := s.Neighbor(c, North)
	require.True(t, ok)
	assert.Equal(t, Coord{Z: 2, X: 0, Y: 0}, n)

	_, ok = s.Neighbor(Coord{Z: 2, X: 0, Y: 0}, North)
	assert.False(t, ok)

	tms := Scheme{Projection: Mercator, Origin: TMS}
	n, ok = tms.Neighbor(c, North)
	require.True(t, ok)
	assert.Equal(t, Coord{Z: 2, X: 0, Y: 2}, n)
}

func TestBoundsGeographic(t *testing.T) {
	s := Scheme{Projection: Geographic, Origin: TMS}
	b := s.Bounds(Coord{Z: 0, X: 1, Y: 0})
	assert.InDelta(t, 0, b.Min[0], 1e-9)
	assert.InDelta(t, 180, b.Max[0], 1e-9)
	assert.InDelta(t, -90, b.Min[1], 1e-9)
	assert.InDelta(t, 90, b.Max[1], 1e-9)

	b = s.Bounds(Coord{Z: 1, X: 0, Y: 1})
	assert.InDelta(t, 0, b.Min[1], 1e-9)
	assert.InDelta(t, 90, b.Max[1], 1e-9)
}

func TestBoundsMercatorOrigins(t *testing.T) {
	xyz := WebMercator
	tms := Scheme{Projection: Mercator, Origin: TMS}

	top := xyz.Bounds(Coord{Z: 1, X: 0, Y: 0})
	assert.Greater(t, top.Min[1], -1e-9)
	assert.InDelta(t, 85.0511, top.Max[1], 1e-3)

	same := tms.Bounds(Coord{Z: 1, X: 0, Y: 1})
	assert.True(t, top.Equal(same))
	assert.Equal(t, uint32(1), xyz.TMSY(Coord{Z: 1, X: 0, Y: 0}))
	assert.Equal(t, uint32(0), tms.XYZY(Coord{Z: 1, X: 0, Y: 1}))
}

func TestLerpCorners(t *testing.T) {
	for _, s := range []Scheme{WebMercator, {Projection: Geographic, Origin: TMS}} {
		c := Coord{Z: 3, X: 2, Y: 3}
		b := s.Bounds(c)

		lon, lat := s.Lerp(c, 0, 0)
		assert.InDelta(t, b.Min[0], lon, 1e-9)
		assert.InDelta(t, b.Min[1], lat, 1e-9)

		lon, lat = s.Lerp(c, 1, 1)
		assert.InDelta(t, b.Max[0], lon, 1e-9)
		assert.InDelta(t, b.Max[1], lat, 1e-9)
	}
}

func TestAt(t *testing.T) {
	s := WebMercator
	c := s.At(8.54, 47.37, 10)
	assert.True(t, s.Bounds(c).Contains([2]float64{8.54, 47.37}))

	g := Scheme{Projection: Geographic, Origin: TMS}
	c = g.At(-100, -45, 0)
	assert.Equal(t, Coord{Z: 0, X: 0, Y: 0}, c)
	c = g.At(100, 45, 1)
	assert.True(t, g.Bounds(c).Contains([2]float64{100, 45}))
}
