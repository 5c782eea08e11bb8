package http

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"tileproxy/internal/quadkey"
)

var ErrRouteNotFound = errors.New("path does not match /{z}/{x}/{y}.{ext}")

var tileExtensions = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
}

// ParseTilePath splits /{z}/{x}/{y}.{ext} into a coordinate and extension.
// It only checks shape; range checks are left to Coordinate.Validate.
func ParseTilePath(path string) (quadkey.Coordinate, string, error) {
	if !strings.HasPrefix(path, "/") {
		return quadkey.Coordinate{}, "", ErrRouteNotFound
	}

	segments := strings.Split(path[1:], "/")
	if len(segments) != 3 {
		return quadkey.Coordinate{}, "", ErrRouteNotFound
	}

	dot := strings.LastIndexByte(segments[2], '.')
	if dot < 0 {
		return quadkey.Coordinate{}, "", ErrRouteNotFound
	}
	ySegment, ext := segments[2][:dot], segments[2][dot+1:]
	if !tileExtensions[ext] {
		return quadkey.Coordinate{}, "", ErrRouteNotFound
	}

	var values [3]int
	for i, s := range []string{segments[0], segments[1], ySegment} {
		v, ok := parseDecimal(s)
		if !ok {
			return quadkey.Coordinate{}, "", ErrRouteNotFound
		}
		values[i] = v
	}

	return quadkey.Coordinate{Zoom: values[0], X: values[1], Y: values[2]}, ext, nil
}

// parseDecimal accepts one or more ASCII digits. Values too large for int
// come back as math.MaxInt so they fail range validation rather than routing.
func parseDecimal(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		return math.MaxInt, true
	}
	return v, true
}
