// Package travel detects physically implausible movement between consecutive attendance attempts
package travel

import (
	"errors"
	"fmt"
	"time"

	"github.com/dokterku/presensi/internal/geo"
)

// DefaultMaxPlausibleSpeedKmh is the default ceiling for ground travel between clinics
const DefaultMaxPlausibleSpeedKmh = 200.0

// ErrNonMonotonicTime is returned when the current capture time is not after the previous one
var ErrNonMonotonicTime = errors.New("non-monotonic capture time")

// Evaluation is the result of comparing two consecutive positions
type Evaluation struct {
	DistanceKm       float64 `json:"distance_km"`
	TimeDiffSeconds  float64 `json:"time_diff_seconds"`
	ImpliedSpeedKmh  float64 `json:"implied_speed_kmh"`
	ImpossibleTravel bool    `json:"impossible_travel"`
	Evaluated        bool    `json:"evaluated"` // false when there was no previous attempt or the check was inconclusive
}

// Checker evaluates implied speed against a configurable maximum
type Checker struct {
	maxSpeedKmh float64
}

// NewChecker creates a checker. A non-positive max falls back to DefaultMaxPlausibleSpeedKmh.
func NewChecker(maxSpeedKmh float64) *Checker {
	if maxSpeedKmh <= 0 {
		maxSpeedKmh = DefaultMaxPlausibleSpeedKmh
	}
	return &Checker{maxSpeedKmh: maxSpeedKmh}
}

// MaxSpeedKmh returns the configured ceiling
func (c *Checker) MaxSpeedKmh() float64 {
	return c.maxSpeedKmh
}

// Evaluate compares current against previous. A nil previous yields a neutral,
// unevaluated result. Jumps over very short intervals are flagged, not skipped.
func (c *Checker) Evaluate(current geo.GeoPoint, previous *geo.GeoPoint) (Evaluation, error) {
	if previous == nil {
		return Evaluation{}, nil
	}

	diff := current.CapturedAt.Sub(previous.CapturedAt).Seconds()
	if diff <= 0 {
		return Evaluation{}, fmt.Errorf("%w: current %s is not after previous %s",
			ErrNonMonotonicTime, current.CapturedAt.Format(time.RFC3339),
			previous.CapturedAt.Format(time.RFC3339))
	}

	distanceKm := geo.HaversineDistanceMeters(previous.LatLon(), current.LatLon()) / 1000
	speed := distanceKm / (diff / 3600)

	return Evaluation{
		DistanceKm:       distanceKm,
		TimeDiffSeconds:  diff,
		ImpliedSpeedKmh:  speed,
		ImpossibleTravel: speed > c.maxSpeedKmh,
		Evaluated:        true,
	}, nil
}
