// Package geo provides spherical distance and bearing calculations for attendance locations
package geo

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/s2"
)

// EarthRadiusMeters is the mean Earth radius used by every distance calculation
const EarthRadiusMeters = 6371000.0

// ErrInvalidCoordinate is returned for out-of-range coordinates or negative accuracy
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// LatLon is a bare latitude/longitude pair in degrees
type LatLon struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// GeoPoint is a reported device position. Treat it as immutable.
type GeoPoint struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	CapturedAt     time.Time `json:"captured_at"`
}

// NewGeoPoint validates the coordinate and accuracy and returns a point
func NewGeoPoint(lat, lon, accuracy float64, capturedAt time.Time) (GeoPoint, error) {
	if err := ValidateLatLon(LatLon{Latitude: lat, Longitude: lon}); err != nil {
		return GeoPoint{}, err
	}
	if math.IsNaN(accuracy) || math.IsInf(accuracy, 0) || accuracy < 0 {
		return GeoPoint{}, fmt.Errorf("%w: accuracy %v must be >= 0", ErrInvalidCoordinate, accuracy)
	}
	return GeoPoint{
		Latitude:       lat,
		Longitude:      lon,
		AccuracyMeters: accuracy,
		CapturedAt:     capturedAt,
	}, nil
}

// LatLon returns the position without accuracy or time
func (p GeoPoint) LatLon() LatLon {
	return LatLon{Latitude: p.Latitude, Longitude: p.Longitude}
}

// Validate re-checks a point that was built without NewGeoPoint (e.g. decoded from JSON)
func (p GeoPoint) Validate() error {
	_, err := NewGeoPoint(p.Latitude, p.Longitude, p.AccuracyMeters, p.CapturedAt)
	return err
}

// ValidateLatLon checks latitude is within [-90,90] and longitude within [-180,180]
func ValidateLatLon(ll LatLon) error {
	if math.IsNaN(ll.Latitude) || math.IsInf(ll.Latitude, 0) || ll.Latitude < -90 || ll.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90,90]", ErrInvalidCoordinate, ll.Latitude)
	}
	if math.IsNaN(ll.Longitude) || math.IsInf(ll.Longitude, 0) || ll.Longitude < -180 || ll.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180,180]", ErrInvalidCoordinate, ll.Longitude)
	}
	return nil
}

// HaversineDistanceMeters calculates the great-circle distance between two points in meters
func HaversineDistanceMeters(a, b LatLon) float64 {
	p1 := s2.LatLngFromDegrees(a.Latitude, a.Longitude)
	p2 := s2.LatLngFromDegrees(b.Latitude, b.Longitude)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// Bearing calculates the initial bearing from a to b in degrees (0-360, 0 = North)
func Bearing(a, b LatLon) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	lonDiff := (b.Longitude - a.Longitude) * math.Pi / 180

	y := math.Sin(lonDiff) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(lonDiff)

	bearingDeg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(bearingDeg+360, 360)
}

// DestinationPoint returns the point reached by travelling distanceMeters from origin
// along the given initial bearing. Used to build fixtures at a known distance.
func DestinationPoint(origin LatLon, distanceMeters, bearingDegrees float64) LatLon {
	p := s2.LatLngFromDegrees(origin.Latitude, origin.Longitude)
	bearingRad := bearingDegrees * math.Pi / 180
	angular := distanceMeters / EarthRadiusMeters

	latRad := p.Lat.Radians()
	lonRad := p.Lng.Radians()

	lat2 := math.Asin(math.Sin(latRad)*math.Cos(angular) +
		math.Cos(latRad)*math.Sin(angular)*math.Cos(bearingRad))

	lon2 := lonRad + math.Atan2(
		math.Sin(bearingRad)*math.Sin(angular)*math.Cos(latRad),
		math.Cos(angular)-math.Sin(latRad)*math.Sin(lat2))

	// normalize to [-180,180]
	lonDeg := math.Mod(lon2*180/math.Pi+540, 360) - 180

	return LatLon{Latitude: lat2 * 180 / math.Pi, Longitude: lonDeg}
}
