package quadkey

import (
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// MaxZoom is the deepest level the upstream quadkey scheme serves.
const MaxZoom = 23

var (
	ErrInvalidZoom        = errors.New("invalid zoom level")
	ErrInvalidCoordinates = errors.New("invalid tile coordinates")
	ErrInvalidDigit       = errors.New("invalid quadkey digit")
)

// Coordinate addresses a tile in the slippy-map z/x/y scheme.
type Coordinate struct {
	Zoom int
	X    int
	Y    int
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Zoom, c.X, c.Y)
}

// Validate checks zoom first, then x and y against the 2^zoom grid.
func (c Coordinate) Validate() error {
	if c.Zoom < 0 || c.Zoom > MaxZoom {
		return ErrInvalidZoom
	}

	size := 1 << c.Zoom
	if c.X < 0 || c.X >= size || c.Y < 0 || c.Y >= size {
		return ErrInvalidCoordinates
	}

	return nil
}

// Tile returns the orb representation. Only meaningful for a valid coordinate.
func (c Coordinate) Tile() maptile.Tile {
	return maptile.New(uint32(c.X), uint32(c.Y), maptile.Zoom(c.Zoom))
}

// Bound returns the lon/lat bounding box covered by the tile.
func (c Coordinate) Bound() orb.Bound {
	return c.Tile().Bound()
}

// Encode converts a coordinate into its quadkey, most significant digit first.
// Zoom 0 yields the empty string.
func Encode(c Coordinate) string {
	var b strings.Builder
	b.Grow(c.Zoom)

	for i := c.Zoom; i > 0; i-- {
		mask := 1 << (i - 1)
		digit := byte('0')
		if c.X&mask != 0 {
			digit++
		}
		if c.Y&mask != 0 {
			digit += 2
		}
		b.WriteByte(digit)
	}

	return b.String()
}

// Decode converts a quadkey back into a coordinate. Digits outside 0-3 and
// keys deeper than MaxZoom are rejected.
func Decode(quadkey string) (Coordinate, error) {
	zoom := len(quadkey)
	if zoom > MaxZoom {
		return Coordinate{}, fmt.Errorf("%w: quadkey length %d", ErrInvalidZoom, zoom)
	}

	c := Coordinate{Zoom: zoom}
	for i := 0; i < zoom; i++ {
		mask := 1 << (zoom - 1 - i)
		switch quadkey[i] {
		case '0':
		case '1':
			c.X |= mask
		case '2':
			c.Y |= mask
		case '3':
			c.X |= mask
			c.Y |= mask
		default:
			return Coordinate{}, fmt.Errorf("%w: %q at position %d", ErrInvalidDigit, quadkey[i], i)
		}
	}

	return c, nil
}
