package quantizedmesh

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Encode serializes a tile in the quantized-mesh-1.0 layout accepted by Decode.
// Triangle indices must already be in high-water-mark order, as produced by Decode.
func Encode(t *Tile) ([]byte, error) {
	n := t.VertexCount()
	if n > MaxVertices {
		return nil, fmt.Errorf("%w: %d", ErrTooManyVertices, n)
	}
	if len(t.V) != n || len(t.H) != n {
		return nil, fmt.Errorf("%w: mismatched u/v/height lengths", ErrIndexOutOfRange)
	}
	for _, arr := range [3][]uint16{t.U, t.V, t.H} {
		for i, v := range arr {
			if v > MaxValue {
				return nil, fmt.Errorf("%w: %d at vertex %d", ErrInvalidValue, v, i)
			}
		}
	}

	codes, err := encodeHighWaterMark(t.Indices)
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, &t.Header)
	binary.Write(buf, binary.LittleEndian, uint32(n))
	for _, arr := range [3][]uint16{t.U, t.V, t.H} {
		binary.Write(buf, binary.LittleEndian, zigzagDeltas(arr))
	}

	wide := n > maxIndex16
	if wide {
		for buf.Len()%4 != 0 {
			buf.WriteByte(0)
		}
	}

	binary.Write(buf, binary.LittleEndian, uint32(len(codes)/3))
	writeIndices(buf, codes, wide)

	for _, edge := range [4][]uint32{t.West, t.South, t.East, t.North} {
		binary.Write(buf, binary.LittleEndian, uint32(len(edge)))
		writeIndices(buf, edge, wide)
	}

	writeExtensions(buf, &t.Extensions)

	return buf.Bytes(), nil
}

func zigzagDeltas(values []uint16) []uint16 {
	out := make([]uint16, len(values))
	var prev int32
	for i, v := range values {
		d := int32(v) - prev
		prev = int32(v)
		out[i] = uint16((d << 1) ^ (d >> 31))
	}
	return out
}

func encodeHighWaterMark(indices []uint32) ([]uint32, error) {
	codes := make([]uint32, len(indices))
	var highest uint32
	for i, idx := range indices {
		switch {
		case idx == highest:
			codes[i] = 0
			highest++
		case idx < highest:
			codes[i] = highest - idx
		default:
			return nil, fmt.Errorf("%w: index %d before %d", ErrNotHighWaterMarked, idx, highest)
		}
	}
	return codes, nil
}

func writeIndices(buf *bytes.Buffer, indices []uint32, wide bool) {
	if wide {
		binary.Write(buf, binary.LittleEndian, indices)
		return
	}
	narrow := make([]uint16, len(indices))
	for i, v := range indices {
		narrow[i] = uint16(v)
	}
	binary.Write(buf, binary.LittleEndian, narrow)
}

// Reorder returns a copy of t with vertices renumbered by first use in the triangle list,
// which is the order Encode requires. Unreferenced vertices keep their relative order at the end.
func Reorder(t *Tile) (*Tile, error) {
	if err := ValidateIndices(t); err != nil {
		return nil, err
	}
	n := t.VertexCount()
	remap := make([]int64, n)
	for i := range remap {
		remap[i] = -1
	}
	var next int64
	for _, idx := range t.Indices {
		if remap[idx] < 0 {
			remap[idx] = next
			next++
		}
	}
	for i := range remap {
		if remap[i] < 0 {
			remap[i] = next
			next++
		}
	}

	out := &Tile{
		Header:     t.Header,
		U:          make([]uint16, n),
		V:          make([]uint16, n),
		H:          make([]uint16, n),
		Indices:    make([]uint32, len(t.Indices)),
		Extensions: t.Extensions,
	}
	for old, nw := range remap {
		out.U[nw] = t.U[old]
		out.V[nw] = t.V[old]
		out.H[nw] = t.H[old]
	}
	if len(t.Extensions.Normals) == 2*n {
		normals := make([]byte, 2*n)
		for old, nw := range remap {
			normals[2*nw] = t.Extensions.Normals[2*old]
			normals[2*nw+1] = t.Extensions.Normals[2*old+1]
		}
		out.Extensions.Normals = normals
	}
	for i, idx := range t.Indices {
		out.Indices[i] = uint32(remap[idx])
	}
	mapEdge := func(edge []uint32) []uint32 {
		if edge == nil {
			return nil
		}
		m := make([]uint32, len(edge))
		for i, idx := range edge {
			m[i] = uint32(remap[idx])
		}
		return m
	}
	out.West = mapEdge(t.West)
	out.South = mapEdge(t.South)
	out.East = mapEdge(t.East)
	out.North = mapEdge(t.North)
	return out, nil
}
