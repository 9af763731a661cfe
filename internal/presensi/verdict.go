// Package presensi orchestrates the location-trust decision for one attendance attempt.
package presensi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dokterku/presensi/internal/geo"
	"github.com/dokterku/presensi/internal/geofence"
	"github.com/dokterku/presensi/internal/risk"
	"github.com/dokterku/presensi/internal/signals"
	"github.com/dokterku/presensi/internal/travel"
)

// DateLayout is the layout of RiskVerdict.AttendanceDate
const DateLayout = "2006-01-02"

var (
	// ErrZoneNotFound means the attempt names a zone that does not exist or is inactive
	ErrZoneNotFound = errors.New("work zone not found")
	// ErrZoneLookupTimeout means the zone store did not answer within the lookup timeout
	ErrZoneLookupTimeout = errors.New("work zone lookup timed out")
	// ErrDuplicateVerdict means a verdict for the same subject, type and day already exists
	ErrDuplicateVerdict = errors.New("verdict already recorded")
	// ErrVerdictNotFound is returned by verdict stores for unknown ids or keys
	ErrVerdictNotFound = errors.New("verdict not found")
	// ErrSubmissionInFlight means another submission holds the lock for the same key
	ErrSubmissionInFlight = errors.New("submission already in progress")
	// ErrInvalidAttendanceType is returned for anything other than check_in or check_out
	ErrInvalidAttendanceType = errors.New("invalid attendance type")
)

// AttendanceType is the kind of attendance event
type AttendanceType string

const (
	CheckIn  AttendanceType = "check_in"
	CheckOut AttendanceType = "check_out"
)

// ParseAttendanceType validates s
func ParseAttendanceType(s string) (AttendanceType, error) {
	switch t := AttendanceType(strings.ToLower(strings.TrimSpace(s))); t {
	case CheckIn, CheckOut:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAttendanceType, s)
	}
}

// Valid reports whether t is a known attendance type
func (t AttendanceType) Valid() bool {
	return t == CheckIn || t == CheckOut
}

// Attempt is one attendance event as evaluated by the gate
type Attempt struct {
	SubjectID string
	ZoneID    string
	Type      AttendanceType
	Point     geo.GeoPoint
	Device    signals.DeviceSignalSet
	ShiftTag  string
	Previous  *Attempt // last recorded attempt of the subject, nil for the first one
}

// Submission is an attempt as received from the client, before history is attached
type Submission struct {
	SubjectID string
	ZoneID    string
	Type      AttendanceType
	Point     geo.GeoPoint
	Device    signals.DeviceSignalSet
	ShiftTag  string
}

// Attempt converts the submission into an attempt with the given previous attempt
func (s Submission) Attempt(previous *Attempt) Attempt {
	return Attempt{
		SubjectID: s.SubjectID,
		ZoneID:    s.ZoneID,
		Type:      s.Type,
		Point:     s.Point,
		Device:    s.Device,
		ShiftTag:  s.ShiftTag,
		Previous:  previous,
	}
}

// VerdictKey identifies the single verdict allowed per subject, type and local day
type VerdictKey struct {
	SubjectID      string
	AttendanceType AttendanceType
	AttendanceDate string
}

func (k VerdictKey) String() string {
	return k.SubjectID + ":" + string(k.AttendanceType) + ":" + k.AttendanceDate
}

// RiskVerdict is the immutable audit record of one decision
type RiskVerdict struct {
	ID             string             `json:"id"`
	SubjectID      string             `json:"subject_id"`
	ZoneID         string             `json:"zone_id"`
	AttendanceType AttendanceType     `json:"attendance_type"`
	AttendanceDate string             `json:"attendance_date"`
	ShiftTag       string             `json:"shift,omitempty"`
	Point          geo.GeoPoint       `json:"point"`
	RiskScore      int                `json:"risk_score"`
	RiskLevel      risk.RiskLevel     `json:"risk_level"`
	IsSpoofed      bool               `json:"is_spoofed"`
	ActionTaken    risk.Action        `json:"action_taken"`
	Signals        signals.Aggregated `json:"signals"`
	Travel         travel.Evaluation  `json:"travel"`
	Geofence       geofence.Result    `json:"geofence"`
	Factors        []risk.Factor      `json:"factors"`
	CreatedAt      time.Time          `json:"created_at"`
}

// Key returns the idempotency key of the verdict
func (v *RiskVerdict) Key() VerdictKey {
	return VerdictKey{
		SubjectID:      v.SubjectID,
		AttendanceType: v.AttendanceType,
		AttendanceDate: v.AttendanceDate,
	}
}

// AsAttempt turns a stored verdict back into the attempt it judged, for travel history
func (v *RiskVerdict) AsAttempt() *Attempt {
	return &Attempt{
		SubjectID: v.SubjectID,
		ZoneID:    v.ZoneID,
		Type:      v.AttendanceType,
		Point:     v.Point,
		Device:    v.Signals.Device,
		ShiftTag:  v.ShiftTag,
	}
}
