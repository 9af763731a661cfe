// Package zone defines clinic work zones (lokasi kerja) and their persistence
package zone

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dokterku/presensi/internal/geo"
)

// ErrNotFound is returned when a zone id does not exist or is inactive
var ErrNotFound = errors.New("work zone not found")

// ErrInvalidZone is returned by NewWorkZone for zones that violate their invariants
var ErrInvalidZone = errors.New("invalid work zone")

// WorkZone is a circular authorized work area. It is managed by the admin
// collaborator and is read-only to attendance evaluation.
type WorkZone struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	Center              geo.LatLon `json:"center"`
	RadiusMeters        float64    `json:"radius_meters"`
	AllowedShifts       []string   `json:"allowed_shifts"` // empty means all shifts
	StrictGeofence      bool       `json:"strict_geofence"`
	GPSAccuracyRequired float64    `json:"gps_accuracy_required"`
	RequirePhoto        bool       `json:"require_photo"`
	Active              bool       `json:"active"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// NewWorkZone validates z and returns it. Radius must be positive and the
// center must be a valid coordinate.
func NewWorkZone(z WorkZone) (WorkZone, error) {
	if strings.TrimSpace(z.ID) == "" {
		return WorkZone{}, fmt.Errorf("%w: id is required", ErrInvalidZone)
	}
	if err := geo.ValidateLatLon(z.Center); err != nil {
		return WorkZone{}, fmt.Errorf("%w: %v", ErrInvalidZone, err)
	}
	if math.IsNaN(z.RadiusMeters) || z.RadiusMeters <= 0 {
		return WorkZone{}, fmt.Errorf("%w: radius_meters must be > 0, got %v", ErrInvalidZone, z.RadiusMeters)
	}
	if math.IsNaN(z.GPSAccuracyRequired) || z.GPSAccuracyRequired < 0 {
		return WorkZone{}, fmt.Errorf("%w: gps_accuracy_required must be >= 0", ErrInvalidZone)
	}

	shifts := make([]string, 0, len(z.AllowedShifts))
	for _, s := range z.AllowedShifts {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if s == "all" {
			shifts = shifts[:0]
			break
		}
		shifts = append(shifts, s)
	}
	z.AllowedShifts = shifts

	return z, nil
}

// AllowsShift reports whether a shift tag may use this zone. An empty tag or an
// empty allow-list always matches.
func (z WorkZone) AllowsShift(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" || len(z.AllowedShifts) == 0 {
		return true
	}
	for _, s := range z.AllowedShifts {
		if s == tag {
			return true
		}
	}
	return false
}

// Store is the zone lookup used by the attendance gate and zone discovery
type Store interface {
	GetZone(ctx context.Context, id string) (*WorkZone, error)
	ListActiveZones(ctx context.Context) ([]WorkZone, error)
}

// FilterByShift returns the zones that allow the given shift tag
func FilterByShift(zones []WorkZone, tag string) []WorkZone {
	out := make([]WorkZone, 0, len(zones))
	for _, z := range zones {
		if z.AllowsShift(tag) {
			out = append(out, z)
		}
	}
	return out
}
