// Package tile provides quadtree tile coordinates and their geographic footprint.
package tile

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidCoord is returned when parsing a malformed "z/x/y" key.
var ErrInvalidCoord = errors.New("invalid tile coordinate")

// MaxZoom is the deepest zoom a Coord key can encode.
const MaxZoom = 29

// Coord identifies one quadtree cell.
type Coord struct {
	Z uint32
	X uint32
	Y uint32
}

// Side names one edge of a tile.
type Side int

// Tile sides in quantized-mesh edge order.
const (
	West Side = iota
	South
	East
	North
)

// String returns the side name.
func (s Side) String() string {
	switch s {
	case West:
		return "west"
	case South:
		return "south"
	case East:
		return "east"
	case North:
		return "north"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// Sides lists all four sides in edge-list order.
var Sides = [4]Side{West, South, East, North}

// String returns the "z/x/y" key.
func (c Coord) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
}

// Key packs the coordinate into a single integer: 6 bits zoom, 29 bits each for x and y.
func (c Coord) Key() uint64 {
	return uint64(c.Z)<<58 | uint64(c.X&(1<<29-1))<<29 | uint64(c.Y&(1<<29-1))
}

// FromKey unpacks a value produced by Key.
func FromKey(k uint64) Coord {
	return Coord{
		Z: uint32(k >> 58),
		X: uint32(k>>29) & (1<<29 - 1),
		Y: uint32(k) & (1<<29 - 1),
	}
}

// ParseCoord parses a "z/x/y" string.
func ParseCoord(s string) (Coord, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return Coord{}, fmt.Errorf("%w: %q", ErrInvalidCoord, s)
	}
	var vals [3]uint32
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return Coord{}, fmt.Errorf("%w: %q: %v", ErrInvalidCoord, s, err)
		}
		vals[i] = uint32(v)
	}
	if vals[0] > MaxZoom {
		return Coord{}, fmt.Errorf("%w: zoom %d exceeds %d", ErrInvalidCoord, vals[0], MaxZoom)
	}
	return Coord{Z: vals[0], X: vals[1], Y: vals[2]}, nil
}

// Parent returns the tile one level up. The root returns itself.
func (c Coord) Parent() Coord {
	if c.Z == 0 {
		return c
	}
	return Coord{Z: c.Z - 1, X: c.X >> 1, Y: c.Y >> 1}
}

// Ancestor returns the tile the given number of levels up, stopping at zoom 0.
func (c Coord) Ancestor(levels uint32) Coord {
	if levels > c.Z {
		levels = c.Z
	}
	return Coord{Z: c.Z - levels, X: c.X >> levels, Y: c.Y >> levels}
}

// Children returns the four tiles one level down.
func (c Coord) Children() [4]Coord {
	x, y, z := c.X<<1, c.Y<<1, c.Z+1
	return [4]Coord{
		{Z: z, X: x, Y: y},
		{Z: z, X: x + 1, Y: y},
		{Z: z, X: x, Y: y + 1},
		{Z: z, X: x + 1, Y: y + 1},
	}
}

// ClampZoom maps the tile onto its ancestor at maxZoom when it is deeper.
func (c Coord) ClampZoom(maxZoom uint32) Coord {
	if c.Z <= maxZoom {
		return c
	}
	return c.Ancestor(c.Z - maxZoom)
}

// Contains reports whether other lies inside c (or equals it).
func (c Coord) Contains(other Coord) bool {
	if other.Z < c.Z {
		return false
	}
	return other.Ancestor(other.Z-c.Z) == c
}
