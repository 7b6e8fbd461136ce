package geo

import (
	"math"

	"github.com/twpayne/go-geom"
)

// Kilometres per degree used by the flat-plane estimate.
const (
	kmPerDegreeLat = 110.574
	kmPerDegreeLng = 111.320
)

// Area returns the planar area of g in square degrees. Points have no area.
func Area(g Geometry) float64 {
	p, ok := g.(Polygon)
	if !ok {
		return 0
	}
	return planarArea(p.Closed(), func(c Coordinate) geom.Coord {
		return geom.Coord{c.Lat, c.Lng}
	})
}

// ApproxAreaKm2 estimates the area of g in square kilometres by scaling
// degrees at the ring's mean latitude. It is only meant for size warnings.
func ApproxAreaKm2(g Geometry) float64 {
	p, ok := g.(Polygon)
	if !ok {
		return 0
	}
	ring := p.open()
	if len(ring) == 0 {
		return 0
	}
	var sumLat float64
	for _, c := range ring {
		sumLat += c.Lat
	}
	lngScale := kmPerDegreeLng * math.Cos(sumLat/float64(len(ring))*math.Pi/180)

	return planarArea(p.Closed(), func(c Coordinate) geom.Coord {
		return geom.Coord{c.Lng * lngScale, c.Lat * kmPerDegreeLat}
	})
}

func planarArea(closed []Coordinate, project func(Coordinate) geom.Coord) float64 {
	if len(closed) < 4 {
		return 0
	}
	ring := make([]geom.Coord, 0, len(closed))
	for _, c := range closed {
		ring = append(ring, project(c))
	}
	poly, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{ring})
	if err != nil {
		return 0
	}
	return math.Abs(poly.Area())
}
