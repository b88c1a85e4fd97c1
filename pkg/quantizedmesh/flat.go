package quantizedmesh

import "math"

// Flat builds a placeholder tile: one quad at a constant height with full edge lists.
// Used when a tile has no data or its indices are corrupt.
func Flat(height float32) *Tile {
	return &Tile{
		Header: Header{
			MinimumHeight: height,
			MaximumHeight: height,
		},
		// 0 SW, 1 SE, 2 NW, 3 NE
		U:       []uint16{0, MaxValue, 0, MaxValue},
		V:       []uint16{0, 0, MaxValue, MaxValue},
		H:       []uint16{0, 0, 0, 0},
		Indices: []uint32{0, 1, 2, 2, 1, 3},
		West:    []uint32{0, 2},
		South:   []uint32{0, 1},
		East:    []uint32{1, 3},
		North:   []uint32{2, 3},
	}
}

// PlaceholderHeight picks a sane height for a flat stand-in of a corrupt tile.
func PlaceholderHeight(h Header) float32 {
	if math.IsNaN(float64(h.MinimumHeight)) || math.IsInf(float64(h.MinimumHeight), 0) {
		return 0
	}
	return h.MinimumHeight
}
