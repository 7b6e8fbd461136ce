// Package geo holds the user-selected area of interest and the helpers that
// turn it into the shape the climate provider expects.
package geo

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Kind names the geometry variant on the wire.
type Kind string

const (
	KindPoint   Kind = "Point"
	KindPolygon Kind = "Polygon"
)

var (
	ErrInvalidGeometry   = errors.New("invalid geometry")
	ErrTooFewVertices    = errors.New("polygon needs at least 3 distinct vertices")
	ErrCoordinateOutside = errors.New("coordinate out of range")
)

// IsInvalid reports whether err comes from parsing or validating a geometry.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidGeometry) ||
		errors.Is(err, ErrTooFewVertices) ||
		errors.Is(err, ErrCoordinateOutside)
}

// Coordinate is a [lat, lng] pair as picked on the map.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (c Coordinate) validate() error {
	if c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("%w: [%g, %g]", ErrCoordinateOutside, c.Lat, c.Lng)
	}
	return nil
}

// Geometry is either a Point or a Polygon. The set of implementations is closed.
type Geometry interface {
	Kind() Kind
	Validate() error
	sealed()
}

// Point is a single location.
type Point struct {
	Coordinate
}

func (Point) Kind() Kind { return KindPoint }
func (Point) sealed()    {}

// Validate checks the coordinate range.
func (p Point) Validate() error { return p.Coordinate.validate() }

// Polygon is an ordered ring of vertices. The ring is implicitly closed; the
// closing vertex may or may not be repeated.
type Polygon struct {
	Ring []Coordinate
}

func (Polygon) Kind() Kind { return KindPolygon }
func (Polygon) sealed()    {}

// Validate checks vertex count and coordinate ranges.
func (p Polygon) Validate() error {
	ring := p.open()
	if len(ring) < 3 {
		return fmt.Errorf("%w: got %d", ErrTooFewVertices, len(ring))
	}
	for _, c := range ring {
		if err := c.validate(); err != nil {
			return err
		}
	}
	return nil
}

// Closed returns the ring with the first vertex repeated at the end.
func (p Polygon) Closed() []Coordinate {
	ring := p.open()
	if len(ring) == 0 {
		return nil
	}
	closed := make([]Coordinate, 0, len(ring)+1)
	closed = append(closed, ring...)
	return append(closed, ring[0])
}

// open strips a repeated closing vertex.
func (p Polygon) open() []Coordinate {
	n := len(p.Ring)
	if n > 1 && p.Ring[0] == p.Ring[n-1] {
		return p.Ring[:n-1]
	}
	return p.Ring
}

// toGeom converts to a go-geom value. Lat is stored in X and Lng in Y so the
// encoded coordinates keep the [lat, lng] order the provider was built against.
func toGeom(g Geometry) (geom.T, error) {
	switch v := g.(type) {
	case Point:
		return geom.NewPoint(geom.XY).SetCoords(geom.Coord{v.Lat, v.Lng})
	case Polygon:
		closed := v.Closed()
		ring := make([]geom.Coord, 0, len(closed))
		for _, c := range closed {
			ring = append(ring, geom.Coord{c.Lat, c.Lng})
		}
		return geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{ring})
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidGeometry, g)
	}
}

// Encode renders g as the GeoJSON object passed in the provider's geometry
// query parameter. Polygon rings are wrapped in an outer array and closed.
func Encode(g Geometry) ([]byte, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: nil geometry", ErrInvalidGeometry)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	t, err := toGeom(g)
	if err != nil {
		return nil, err
	}
	return geojson.Marshal(t)
}

// rawGeometry is the loosely typed shape sent by map clients.
type rawGeometry struct {
	Type        Kind            `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Parse decodes a {type, coordinates} object. Polygons are accepted either as a
// single ring ([[lat,lng],...]) or GeoJSON style ([[[lat,lng],...]]).
func Parse(data []byte) (Geometry, error) {
	var raw rawGeometry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
	}
	if len(raw.Coordinates) == 0 {
		return nil, fmt.Errorf("%w: missing coordinates", ErrInvalidGeometry)
	}

	var g Geometry
	switch raw.Type {
	case KindPoint:
		var pair []float64
		if err := json.Unmarshal(raw.Coordinates, &pair); err != nil {
			return nil, fmt.Errorf("%w: point coordinates: %v", ErrInvalidGeometry, err)
		}
		c, err := toCoordinate(pair)
		if err != nil {
			return nil, err
		}
		g = Point{Coordinate: c}
	case KindPolygon:
		ring, err := parseRing(raw.Coordinates)
		if err != nil {
			return nil, err
		}
		g = Polygon{Ring: ring}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidGeometry, raw.Type)
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func parseRing(data json.RawMessage) ([]Coordinate, error) {
	var pairs [][]float64
	if err := json.Unmarshal(data, &pairs); err != nil {
		var rings [][][]float64
		if err2 := json.Unmarshal(data, &rings); err2 != nil || len(rings) == 0 {
			return nil, fmt.Errorf("%w: polygon coordinates: %v", ErrInvalidGeometry, err)
		}
		pairs = rings[0]
	}

	ring := make([]Coordinate, 0, len(pairs))
	for _, p := range pairs {
		c, err := toCoordinate(p)
		if err != nil {
			return nil, err
		}
		ring = append(ring, c)
	}
	return ring, nil
}

func toCoordinate(pair []float64) (Coordinate, error) {
	if len(pair) != 2 {
		return Coordinate{}, fmt.Errorf("%w: expected [lat, lng], got %d values", ErrInvalidGeometry, len(pair))
	}
	return Coordinate{Lat: pair[0], Lng: pair[1]}, nil
}
