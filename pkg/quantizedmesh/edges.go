package quantizedmesh

import "sort"

// EdgeIndices returns the west, south, east and north edge vertex lists.
//
// Lists missing from the tile are rebuilt by scanning for vertices whose u or v sits exactly
// on 0 or MaxValue, ordered along the edge. This misses edge vertices on re-quantized data
// whose boundary values drifted off the exact extremes; neighbours decoded the same way still
// agree on the set, which is what welding needs.
func (t *Tile) EdgeIndices() (west, south, east, north []uint32) {
	west, south, east, north = t.West, t.South, t.East, t.North
	if len(west) == 0 {
		west = t.scanEdge(t.U, 0, t.V)
	}
	if len(south) == 0 {
		south = t.scanEdge(t.V, 0, t.U)
	}
	if len(east) == 0 {
		east = t.scanEdge(t.U, MaxValue, t.V)
	}
	if len(north) == 0 {
		north = t.scanEdge(t.V, MaxValue, t.U)
	}
	return west, south, east, north
}

// Edge returns one edge list by side index (0 west, 1 south, 2 east, 3 north).
func (t *Tile) Edge(side int) []uint32 {
	w, s, e, n := t.EdgeIndices()
	return [4][]uint32{w, s, e, n}[side]
}

// scanEdge collects vertices with axis[i] == value, sorted by along[i].
func (t *Tile) scanEdge(axis []uint16, value uint16, along []uint16) []uint32 {
	var out []uint32
	for i, a := range axis {
		if a == value {
			out = append(out, uint32(i))
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return along[out[a]] < along[out[b]]
	})
	return out
}

// SortEdge orders edge indices along the edge: by v for west/east, by u for south/north.
func (t *Tile) SortEdge(side int, edge []uint32) []uint32 {
	along := t.U
	if side == 0 || side == 2 {
		along = t.V
	}
	out := make([]uint32, len(edge))
	copy(out, edge)
	sort.SliceStable(out, func(a, b int) bool {
		return along[out[a]] < along[out[b]]
	})
	return out
}
