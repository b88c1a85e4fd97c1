// Package lod chooses which terrain tiles to load for a viewpoint.
//
// The builder refines a quadtree from a base zoom, always splitting the leaf that most
// needs detail first, until no leaf qualifies or the tile budget is spent.
package lod

import (
	"container/heap"
	"math"
	"sort"

	"github.com/paulmach/orb"

	"github.com/Faultbox/tilestream/pkg/geo"
	vmath "github.com/Faultbox/tilestream/pkg/math"
	"github.com/Faultbox/tilestream/pkg/tile"
)

// Viewpoint is the camera position the tile set is built for.
type Viewpoint struct {
	Lon, Lat float64
	// Height is metres above the ellipsoid.
	Height float64
	// Visible limits refinement to tiles that intersect it. The zero bound disables the test.
	Visible orb.Bound
}

// XY is a tile column and row within one zoom.
type XY struct {
	X, Y uint32
}

// TileSet maps zoom to the leaves chosen at that zoom.
type TileSet map[uint32][]XY

// Len returns the total number of leaves.
func (s TileSet) Len() int {
	n := 0
	for _, leaves := range s {
		n += len(leaves)
	}
	return n
}

// Coords returns every leaf ordered by zoom, then x, then y.
func (s TileSet) Coords() []tile.Coord {
	out := make([]tile.Coord, 0, s.Len())
	for z, leaves := range s {
		for _, xy := range leaves {
			out = append(out, tile.Coord{Z: z, X: xy.X, Y: xy.Y})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	})
	return out
}

// Contains reports whether c is a leaf of the set.
func (s TileSet) Contains(c tile.Coord) bool {
	for _, xy := range s[c.Z] {
		if xy.X == c.X && xy.Y == c.Y {
			return true
		}
	}
	return false
}

// Builder refines the tile quadtree around a viewpoint.
type Builder struct {
	Scheme   tile.Scheme
	BaseZoom uint32
	// SplitRatio is the priority below which a leaf is split.
	SplitRatio float64
	// TileBudget caps the number of leaves.
	TileBudget int
	// Frame is the shared tangent frame. When nil a frame under the viewpoint is used.
	Frame *geo.Frame
}

// Build returns the leaves to load for vp, never deeper than maxZoom.
func (b Builder) Build(vp Viewpoint, maxZoom uint32) TileSet {
	frame := b.Frame
	if frame == nil {
		frame = geo.NewFrame(geo.Geodetic{Lon: vp.Lon, Lat: vp.Lat})
	}
	eye := frame.Project(geo.Geodetic{Lon: vp.Lon, Lat: vp.Lat, Height: vp.Height})
	base := min(b.BaseZoom, maxZoom)

	h := &nodeHeap{}
	for _, c := range b.Scheme.Root(base) {
		*h = append(*h, &node{coord: c, priority: b.priority(c, frame, eye)})
	}
	heap.Init(h)

	leaves := h.Len()
	set := make(TileSet)
	for h.Len() > 0 {
		n := heap.Pop(h).(*node)
		if !b.shouldSplit(n, vp, maxZoom) {
			set.add(n.coord)
			continue
		}
		if leaves+3 > b.TileBudget {
			set.add(n.coord)
			break
		}
		leaves += 3
		for _, child := range n.coord.Children() {
			heap.Push(h, &node{coord: child, priority: b.priority(child, frame, eye)})
		}
	}
	for _, n := range *h {
		set.add(n.coord)
	}
	return set
}

func (b Builder) shouldSplit(n *node, vp Viewpoint, maxZoom uint32) bool {
	if n.coord.Z >= maxZoom || n.priority >= b.SplitRatio {
		return false
	}
	if vp.Visible.IsZero() {
		return true
	}
	return b.Scheme.Bounds(n.coord).Intersects(vp.Visible)
}

// priority is the distance from the eye to the tile center divided by the tile's
// footprint in the frame. Smaller means the tile needs detail more urgently.
func (b Builder) priority(c tile.Coord, frame *geo.Frame, eye vmath.Vec3) float64 {
	var pts [5]vmath.Vec3
	for i, uv := range [5][2]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}, {0.5, 0.5}} {
		lon, lat := b.Scheme.Lerp(c, uv[0], uv[1])
		pts[i] = frame.Project(geo.Geodetic{Lon: lon, Lat: lat})
	}

	lo, hi := pts[0], pts[0]
	for _, p := range pts[1:] {
		lo = vmath.Vec3{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = vmath.Vec3{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
	}
	ext := hi.Sub(lo)
	footprint := math.Max(ext.X, math.Max(ext.Y, ext.Z))

	return pts[4].Distance(eye) / math.Max(1, footprint)
}

func (s TileSet) add(c tile.Coord) {
	s[c.Z] = append(s[c.Z], XY{X: c.X, Y: c.Y})
}
