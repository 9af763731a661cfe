// Package geofence decides whether a reported position lies inside a work zone
package geofence

import (
	"math"

	"github.com/dokterku/presensi/internal/geo"
	"github.com/dokterku/presensi/internal/zone"
)

// Result is the outcome of a single geofence check
type Result struct {
	IsWithinZone           bool    `json:"is_within_zone"`
	DistanceFromZoneMeters float64 `json:"distance_from_zone_meters"` // 0 when inside
	DistanceMeters         float64 `json:"distance_meters"`           // raw distance to the zone center
	AccuracyInsufficient   bool    `json:"accuracy_insufficient"`
}

// Evaluator checks points against circular work zones. It holds no state.
type Evaluator struct{}

// NewEvaluator returns a geofence evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate compares point against z. Accuracy only produces a signal on strict
// zones and never changes IsWithinZone.
func (e *Evaluator) Evaluate(point geo.GeoPoint, z zone.WorkZone) Result {
	d := geo.HaversineDistanceMeters(point.LatLon(), z.Center)
	inside := d <= z.RadiusMeters

	return Result{
		IsWithinZone:           inside,
		DistanceFromZoneMeters: math.Max(0, d-z.RadiusMeters),
		DistanceMeters:         d,
		AccuracyInsufficient:   z.StrictGeofence && point.AccuracyMeters > z.GPSAccuracyRequired,
	}
}
