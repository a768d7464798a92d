package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const earthRadiusMeters = 6_371_000

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// ParsePoint parses "lat,lon", e.g. "40.7527,-73.9772".
func ParsePoint(s string) (Point, error) {
	latStr, lonStr, ok := strings.Cut(s, ",")
	if !ok {
		return Point{}, fmt.Errorf("point %q: want lat,lon", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return Point{}, fmt.Errorf("point %q: latitude: %w", s, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return Point{}, fmt.Errorf("point %q: longitude: %w", s, err)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Point{}, fmt.Errorf("point %q: out of range", s)
	}
	return Point{Lat: lat, Lon: lon}, nil
}

// Haversine returns the great-circle distance in meters between two lat/lon points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// BoundingBoxRadius returns the approximate degree offset for a given radius in meters
// at the specified latitude. Returns (latDeg, lonDeg).
func BoundingBoxRadius(lat, radiusMeters float64) (latDeg, lonDeg float64) {
	latDeg = radiusMeters / earthRadiusMeters * (180 / math.Pi)
	lonDeg = latDeg / math.Cos(toRad(lat))
	return latDeg, lonDeg
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
