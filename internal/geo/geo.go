package geo

import (
	"log"
	"math"

	"github.com/umahmood/haversine"
)

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64
	Lng float64
}

// Valid reports whether the point holds plausible coordinates.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Distance returns the great-circle surface distance between two points in
// meters.
func Distance(a, b Point) float64 {
	_, km := haversine.Distance(
		haversine.Coord{Lat: a.Lat, Lon: a.Lng},
		haversine.Coord{Lat: b.Lat, Lon: b.Lng},
	)
	return km * 1000
}

// WithinRadius reports whether point a lies within radiusMeters of point b.
// Malformed coordinates or a negative radius fail closed: the check returns
// false and the problem is logged rather than surfaced as an error.
func WithinRadius(a, b Point, radiusMeters float64) bool {
	if !a.Valid() || !b.Valid() {
		log.Printf("geo: rejecting malformed coordinates a=%+v b=%+v", a, b)
		return false
	}
	if radiusMeters < 0 || math.IsNaN(radiusMeters) {
		log.Printf("geo: rejecting invalid radius %v", radiusMeters)
		return false
	}
	return Distance(a, b) <= radiusMeters
}
