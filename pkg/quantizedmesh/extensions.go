package quantizedmesh

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrInvalidExtension is returned for a malformed extension block.
var ErrInvalidExtension = errors.New("invalid quantized-mesh extension")

// Extension ids.
const (
	ExtOctVertexNormals uint8 = 1
	ExtWaterMask        uint8 = 2
	ExtMetadata         uint8 = 4
)

// WaterMaskSize is the byte size of a full 256×256 water mask.
const WaterMaskSize = 256 * 256

// Extensions holds the optional trailing blocks of a tile.
type Extensions struct {
	// Normals holds two oct-encoded bytes per vertex.
	Normals []byte
	// WaterMask is either one byte (all land or all water) or WaterMaskSize bytes.
	WaterMask []byte
	Metadata  *Metadata
}

// Metadata is the JSON metadata extension.
type Metadata struct {
	Available [][]TileRange `json:"available,omitempty"`
}

// TileRange is an inclusive rectangle of available child tiles.
type TileRange struct {
	StartX uint32 `json:"startX"`
	StartY uint32 `json:"startY"`
	EndX   uint32 `json:"endX"`
	EndY   uint32 `json:"endY"`
}

// HasNormals reports whether per-vertex normals are present.
func (e *Extensions) HasNormals() bool {
	return len(e.Normals) > 0
}

// Normal decodes the oct-encoded normal of vertex i as an ECEF unit vector.
func (e *Extensions) Normal(i int) [3]float32 {
	if 2*i+1 >= len(e.Normals) {
		return [3]float32{0, 0, 1}
	}
	x := float64(e.Normals[2*i])/255*2 - 1
	y := float64(e.Normals[2*i+1])/255*2 - 1
	z := 1 - math.Abs(x) - math.Abs(y)
	if z < 0 {
		ox := x
		x = (1 - math.Abs(y)) * signNotZero(ox)
		y = (1 - math.Abs(ox)) * signNotZero(y)
	}
	l := math.Sqrt(x*x + y*y + z*z)
	return [3]float32{float32(x / l), float32(y / l), float32(z / l)}
}

func signNotZero(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

func readExtensions(r *bytes.Reader, t *Tile) error {
	for r.Len() >= 5 {
		var id uint8
		var length uint32
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return fmt.Errorf("%w: reading extension id", ErrTruncated)
		}
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return fmt.Errorf("%w: reading extension length", ErrTruncated)
		}
		if int64(length) > int64(r.Len()) {
			return fmt.Errorf("%w: extension %d of %d bytes", ErrTruncated, id, length)
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return fmt.Errorf("%w: extension %d payload", ErrTruncated, id)
		}

		switch id {
		case ExtOctVertexNormals:
			if len(payload) != 2*t.VertexCount() {
				return fmt.Errorf("%w: %d normal bytes for %d vertices", ErrInvalidExtension, len(payload), t.VertexCount())
			}
			t.Extensions.Normals = payload
		case ExtWaterMask:
			if len(payload) != 1 && len(payload) != WaterMaskSize {
				return fmt.Errorf("%w: water mask of %d bytes", ErrInvalidExtension, len(payload))
			}
			t.Extensions.WaterMask = payload
		case ExtMetadata:
			md, err := parseMetadata(payload)
			if err != nil {
				return err
			}
			t.Extensions.Metadata = md
		}
	}
	return nil
}

func parseMetadata(payload []byte) (*Metadata, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: metadata too short", ErrInvalidExtension)
	}
	n := binary.LittleEndian.Uint32(payload)
	if int64(n) > int64(len(payload)-4) {
		return nil, fmt.Errorf("%w: metadata length %d", ErrInvalidExtension, n)
	}
	md := &Metadata{}
	if err := json.Unmarshal(payload[4:4+n], md); err != nil {
		return nil, fmt.Errorf("%w: metadata json: %v", ErrInvalidExtension, err)
	}
	return md, nil
}

func writeExtensions(buf *bytes.Buffer, e *Extensions) {
	if len(e.Normals) > 0 {
		writeExtension(buf, ExtOctVertexNormals, e.Normals)
	}
	if len(e.WaterMask) > 0 {
		writeExtension(buf, ExtWaterMask, e.WaterMask)
	}
	if e.Metadata != nil {
		js, err := json.Marshal(e.Metadata)
		if err == nil {
			payload := make([]byte, 4+len(js))
			binary.LittleEndian.PutUint32(payload, uint32(len(js)))
			copy(payload[4:], js)
			writeExtension(buf, ExtMetadata, payload)
		}
	}
}

func writeExtension(buf *bytes.Buffer, id uint8, payload []byte) {
	buf.WriteByte(id)
	binary.Write(buf, binary.LittleEndian, uint32(len(payload)))
	buf.Write(payload)
}
