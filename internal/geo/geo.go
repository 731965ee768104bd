package geo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
)

// Areas are planar: block coordinates are used as-is, X east and Y south
// on the horizontal plane. Height is not considered.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// ErrNotAnArea is returned when a WKT geometry has no interior.
var ErrNotAnArea = errors.New("geometry is not a polygon or multipolygon")

// Area is a region a player can reach.
type Area struct {
	geometry geom.Geometry
}

// ParseArea parses a WKT POLYGON or MULTIPOLYGON.
func ParseArea(wkt string) (Area, error) {
	g, err := geom.UnmarshalWKT(wkt)
	if err != nil {
		return Area{}, fmt.Errorf("parse area: %w", err)
	}
	if g.IsEmpty() || g.Dimension() != 2 {
		return Area{}, ErrNotAnArea
	}
	return Area{geometry: g}, nil
}

// Contains reports whether the point lies inside or on the boundary.
func (a Area) Contains(x, y float64) bool {
	if a.geometry.IsEmpty() {
		return false
	}
	pt, err := geom.XY{X: x, Y: y}.AsPoint()
	if err != nil {
		return false
	}
	return geom.Intersects(a.geometry, pt.AsGeometry())
}

// ParsePosition parses "x,y" or "x,y,z" into horizontal coordinates.
// The third component, when present, is validated and discarded.
func ParsePosition(coords string) (x, y float64, err error) {
	parts := strings.Split(coords, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, ErrInvalidCoordinates
	}
	vals := make([]float64, len(parts))
	for i, p := range parts {
		vals[i], err = strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return 0, 0, ErrInvalidCoordinates
		}
	}
	return vals[0], vals[1], nil
}
