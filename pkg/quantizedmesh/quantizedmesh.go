// Package quantizedmesh decodes and encodes quantized-mesh-1.0 terrain tiles.
package quantizedmesh

import (
	"errors"
	"fmt"
)

// Format errors.
var (
	ErrTruncated          = errors.New("truncated quantized-mesh data")
	ErrTooManyVertices    = errors.New("quantized-mesh vertex count out of range")
	ErrTooManyTriangles   = errors.New("quantized-mesh triangle count out of range")
	ErrIndexOutOfRange    = errors.New("quantized-mesh index out of range")
	ErrNotHighWaterMarked = errors.New("indices are not in high-water-mark order")
	ErrInvalidValue       = errors.New("quantized-mesh value out of range")
)

const (
	// MaxValue is the largest quantized u, v or height value.
	MaxValue = 32767

	// MaxVertices bounds the vertex count accepted from untrusted input.
	MaxVertices = 500000

	// HeaderSize is the encoded size of Header in bytes.
	HeaderSize = 88

	// maxIndex16 is the largest vertex count that still uses 16-bit indices.
	maxIndex16 = 65536
)

// Header is the fixed-size tile header.
type Header struct {
	CenterX float64
	CenterY float64
	CenterZ float64

	MinimumHeight float32
	MaximumHeight float32

	BoundingSphereCenterX float64
	BoundingSphereCenterY float64
	BoundingSphereCenterZ float64
	BoundingSphereRadius  float64

	HorizonOcclusionPointX float64
	HorizonOcclusionPointY float64
	HorizonOcclusionPointZ float64
}

// Tile is a decoded quantized-mesh tile. It is not modified after decode.
type Tile struct {
	Header Header

	// U, V and H are absolute quantized coordinates in [0, MaxValue].
	U []uint16
	V []uint16
	H []uint16

	// Indices holds three vertex indices per triangle.
	Indices []uint32

	// Edge vertex indices as stored in the tile. May be empty.
	West  []uint32
	South []uint32
	East  []uint32
	North []uint32

	Extensions Extensions
}

// VertexCount returns the number of vertices.
func (t *Tile) VertexCount() int {
	return len(t.U)
}

// TriangleCount returns the number of triangles.
func (t *Tile) TriangleCount() int {
	return len(t.Indices) / 3
}

// HeightAt returns the world height of vertex i.
func (t *Tile) HeightAt(i int) float64 {
	return QuantizedHeightToWorld(t.H[i], t.Header.MinimumHeight, t.Header.MaximumHeight)
}

// QuantizedHeightToWorld maps a quantized height onto the tile's height range.
func QuantizedHeightToWorld(h uint16, minHeight, maxHeight float32) float64 {
	lo := float64(minHeight)
	return lo + float64(h)/MaxValue*(float64(maxHeight)-lo)
}

// ValidateIndices checks that every triangle and edge index names an existing vertex.
func ValidateIndices(t *Tile) error {
	n := uint32(t.VertexCount())
	if len(t.V) != int(n) || len(t.H) != int(n) {
		return ErrIndexOutOfRange
	}
	if len(t.Indices)%3 != 0 {
		return ErrIndexOutOfRange
	}
	for i, idx := range t.Indices {
		if idx >= n {
			return indexError("triangle", i, idx, n)
		}
	}
	for side, edge := range [4][]uint32{t.West, t.South, t.East, t.North} {
		for i, idx := range edge {
			if idx >= n {
				return indexError(edgeNames[side], i, idx, n)
			}
		}
	}
	return nil
}

var edgeNames = [4]string{"west", "south", "east", "north"}

func indexError(list string, pos int, idx, n uint32) error {
	return &IndexError{List: list, Position: pos, Index: idx, VertexCount: n}
}

// IndexError describes the first out-of-range index found by ValidateIndices.
type IndexError struct {
	List        string
	Position    int
	Index       uint32
	VertexCount uint32
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("%v: %s index %d at %d (vertex count %d)",
		ErrIndexOutOfRange, e.List, e.Index, e.Position, e.VertexCount)
}

// Unwrap lets errors.Is match ErrIndexOutOfRange.
func (e *IndexError) Unwrap() error {
	return ErrIndexOutOfRange
}
