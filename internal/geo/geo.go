// Package geo provides great-circle distance math for geofence checks.
package geo

import (
	"math"

	"github.com/devparmar15199/qr-student-app-backend/internal/apperr"
)

// earthRadiusM is the mean Earth radius in meters.
const earthRadiusM = 6371000

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate checks the coordinate ranges. Out-of-range values surface as
// a validation error, never as a geofence failure.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return apperr.Validation("coordinates must be numbers")
	}
	if p.Lat < -90 || p.Lat > 90 {
		return apperr.Validation("latitude %v out of range [-90, 90]", p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return apperr.Validation("longitude %v out of range [-180, 180]", p.Lon)
	}
	return nil
}

// Distance returns the Haversine distance between a and b in meters.
func Distance(a, b Point) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}

	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusM * c, nil
}
