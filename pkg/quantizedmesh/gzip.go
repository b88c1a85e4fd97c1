package quantizedmesh

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// ErrPayloadTooLarge is returned when a compressed tile inflates past the size cap.
var ErrPayloadTooLarge = errors.New("quantized-mesh payload too large")

// maxInflated caps decompressed payloads so a small hostile body cannot balloon.
const maxInflated = 64 << 20

// IsGzip reports whether data starts with the gzip magic bytes.
func IsGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

// Inflate decompresses a gzip payload.
func Inflate(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, maxInflated+1))
	if err != nil {
		return nil, fmt.Errorf("inflating tile: %w", err)
	}
	if len(out) > maxInflated {
		return nil, fmt.Errorf("%w: inflated payload exceeds %d bytes", ErrPayloadTooLarge, maxInflated)
	}
	return out, nil
}

// DecodeMaybeGzip inflates gzip-compressed payloads before decoding.
// Terrain is often stored gzipped and served without a Content-Encoding header.
func DecodeMaybeGzip(data []byte) (*Tile, error) {
	if IsGzip(data) {
		raw, err := Inflate(data)
		if err != nil {
			return nil, err
		}
		data = raw
	}
	return Decode(data)
}
