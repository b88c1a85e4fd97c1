package quantizedmesh

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Decode parses a quantized-mesh tile from raw bytes.
// It performs no I/O and returns the same result for the same input.
func Decode(data []byte) (*Tile, error) {
	if len(data) < HeaderSize+4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}

	r := bytes.NewReader(data)
	t := &Tile{}

	if err := binary.Read(r, binary.LittleEndian, &t.Header); err != nil {
		return nil, fmt.Errorf("%w: reading header", ErrTruncated)
	}

	var vertexCount uint32
	if err := binary.Read(r, binary.LittleEndian, &vertexCount); err != nil {
		return nil, fmt.Errorf("%w: reading vertex count", ErrTruncated)
	}
	if vertexCount > MaxVertices {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyVertices, vertexCount, MaxVertices)
	}
	if int64(vertexCount)*6 > int64(r.Len()) {
		return nil, fmt.Errorf("%w: vertex data for %d vertices", ErrTruncated, vertexCount)
	}

	var err error
	if t.U, err = readZigZag(r, vertexCount); err != nil {
		return nil, fmt.Errorf("reading u: %w", err)
	}
	if t.V, err = readZigZag(r, vertexCount); err != nil {
		return nil, fmt.Errorf("reading v: %w", err)
	}
	if t.H, err = readZigZag(r, vertexCount); err != nil {
		return nil, fmt.Errorf("reading height: %w", err)
	}

	wide := vertexCount > maxIndex16
	indexSize := int64(2)
	if wide {
		indexSize = 4
	}
	if err := align(r, indexSize); err != nil {
		return nil, err
	}

	var triangleCount uint32
	if err := binary.Read(r, binary.LittleEndian, &triangleCount); err != nil {
		return nil, fmt.Errorf("%w: reading triangle count", ErrTruncated)
	}
	if int64(triangleCount)*3*indexSize > int64(r.Len()) {
		return nil, fmt.Errorf("%w: %d triangles", ErrTooManyTriangles, triangleCount)
	}

	if t.Indices, err = readIndices(r, triangleCount*3, wide); err != nil {
		return nil, fmt.Errorf("reading triangle indices: %w", err)
	}
	decodeHighWaterMark(t.Indices)

	edges := [4]*[]uint32{&t.West, &t.South, &t.East, &t.North}
	for i, edge := range edges {
		var count uint32
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return nil, fmt.Errorf("%w: reading %s edge count", ErrTruncated, edgeNames[i])
		}
		if int64(count)*indexSize > int64(r.Len()) {
			return nil, fmt.Errorf("%w: %s edge of %d vertices", ErrTruncated, edgeNames[i], count)
		}
		if *edge, err = readIndices(r, count, wide); err != nil {
			return nil, fmt.Errorf("reading %s edge: %w", edgeNames[i], err)
		}
	}

	if err := readExtensions(r, t); err != nil {
		return nil, err
	}

	return t, nil
}

// readZigZag reads n delta + zigzag encoded values and returns the running sums.
// A sum outside [0, MaxValue] is rejected.
func readZigZag(r *bytes.Reader, n uint32) ([]uint16, error) {
	raw := make([]uint16, n)
	if err := binary.Read(r, binary.LittleEndian, raw); err != nil {
		return nil, ErrTruncated
	}
	var value int32
	for i, enc := range raw {
		value += zigzagDecode(enc)
		if value < 0 || value > MaxValue {
			return nil, fmt.Errorf("%w: %d at vertex %d", ErrInvalidValue, value, i)
		}
		raw[i] = uint16(value)
	}
	return raw, nil
}

func zigzagDecode(v uint16) int32 {
	return int32(v>>1) ^ -int32(v&1)
}

func readIndices(r *bytes.Reader, n uint32, wide bool) ([]uint32, error) {
	out := make([]uint32, n)
	if wide {
		if err := binary.Read(r, binary.LittleEndian, out); err != nil {
			return nil, ErrTruncated
		}
		return out, nil
	}
	narrow := make([]uint16, n)
	if err := binary.Read(r, binary.LittleEndian, narrow); err != nil {
		return nil, ErrTruncated
	}
	for i, v := range narrow {
		out[i] = uint32(v)
	}
	return out, nil
}

// decodeHighWaterMark expands high-water-mark codes in place.
// A code of zero introduces the next new vertex; any other code reuses vertex highest-code.
// Hostile input may wrap below zero; ValidateIndices catches the result.
func decodeHighWaterMark(indices []uint32) {
	var highest uint32
	for i, code := range indices {
		indices[i] = highest - code
		if code == 0 {
			highest++
		}
	}
}

// align skips padding so the next read starts on a multiple of size.
func align(r *bytes.Reader, size int64) error {
	pos := r.Size() - int64(r.Len())
	if pad := pos % size; pad != 0 {
		if int64(r.Len()) < size-pad {
			return fmt.Errorf("%w: index padding", ErrTruncated)
		}
		if _, err := r.Seek(size-pad, io.SeekCurrent); err != nil {
			return fmt.Errorf("%w: index padding", ErrTruncated)
		}
	}
	return nil
}
