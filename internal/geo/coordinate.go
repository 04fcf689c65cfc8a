// Package geo provides coordinate validation and great-circle distance math.
package geo

import (
	"math"

	"github.com/rotisserie/eris"
)

// ErrInvalidCoordinate is returned when a latitude or longitude is out of range.
var ErrInvalidCoordinate = eris.New("geo: invalid coordinate")

// earthRadiusKm is the mean Earth radius used by the haversine formula.
// Spherical model, no ellipsoid correction.
const earthRadiusKm = 6371.0

// Coordinate is an immutable latitude/longitude pair in decimal degrees.
type Coordinate struct {
	lat float64
	lon float64
}

// New validates bounds and returns a Coordinate.
// Latitude must be in [-90, 90], longitude in [-180, 180].
func New(lat, lon float64) (Coordinate, error) {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return Coordinate{}, eris.Wrapf(ErrInvalidCoordinate, "geo: NaN coordinate (%v, %v)", lat, lon)
	}
	if lat < -90 || lat > 90 {
		return Coordinate{}, eris.Wrapf(ErrInvalidCoordinate, "geo: latitude %v out of range [-90, 90]", lat)
	}
	if lon < -180 || lon > 180 {
		return Coordinate{}, eris.Wrapf(ErrInvalidCoordinate, "geo: longitude %v out of range [-180, 180]", lon)
	}
	return Coordinate{lat: lat, lon: lon}, nil
}

// Lat returns the latitude in decimal degrees.
func (c Coordinate) Lat() float64 { return c.lat }

// Lon returns the longitude in decimal degrees.
func (c Coordinate) Lon() float64 { return c.lon }

// DistanceTo returns the great-circle distance to other in kilometers
// using the haversine formula on a sphere of radius 6371 km.
func (c Coordinate) DistanceTo(other Coordinate) float64 {
	lat1 := c.lat * math.Pi / 180
	lat2 := other.lat * math.Pi / 180
	dLat := (other.lat - c.lat) * math.Pi / 180
	dLon := (other.lon - c.lon) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

// BBox is a latitude/longitude bounding box. When the box crosses the
// antimeridian, MinLon > MaxLon and consumers must split the longitude test.
type BBox struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// CrossesAntimeridian reports whether the box wraps past longitude ±180.
func (b BBox) CrossesAntimeridian() bool { return b.MinLon > b.MaxLon }

// BoundingBox returns a box guaranteed to contain every point within
// radiusKm of c. It is a prefilter: points inside the box still need an
// exact DistanceTo check. Near the poles the longitude span degenerates,
// so the box widens to the full longitude range.
func (c Coordinate) BoundingBox(radiusKm float64) BBox {
	latDelta := radiusKm / earthRadiusKm * 180 / math.Pi

	box := BBox{
		MinLat: math.Max(c.lat-latDelta, -90),
		MaxLat: math.Min(c.lat+latDelta, 90),
	}

	// cos(lat) shrinks toward the poles; if the box touches a pole every
	// longitude is within range.
	if box.MinLat <= -90+1e-9 || box.MaxLat >= 90-1e-9 {
		box.MinLon, box.MaxLon = -180, 180
		return box
	}

	// Exact maximum longitude offset of any point within the radius. The
	// flat-earth latDelta/cos(lat) approximation undershoots it at high
	// latitude and the prefilter must never exclude a true result.
	cosLat := math.Cos(c.lat * math.Pi / 180)
	sinRatio := math.Sin(radiusKm/earthRadiusKm) / cosLat
	if sinRatio >= 1 {
		box.MinLon, box.MaxLon = -180, 180
		return box
	}
	lonDelta := math.Asin(sinRatio) * 180 / math.Pi

	box.MinLon = normalizeLon(c.lon - lonDelta)
	box.MaxLon = normalizeLon(c.lon + lonDelta)
	return box
}

// normalizeLon wraps a longitude into [-180, 180].
func normalizeLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}
