// Package risk turns aggregated location signals into a score, level and action
package risk

import (
	"github.com/dokterku/presensi/internal/signals"
)

// MaxScore is the upper clamp of every risk score
const MaxScore = 100

// RiskLevel represents the classification of risk
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// String returns the string representation of RiskLevel
func (r RiskLevel) String() string {
	return string(r)
}

// Action is what the attendance system does with an attempt
type Action string

const (
	ActionNone    Action = "none"
	ActionFlagged Action = "flagged" // accepted, queued for review
	ActionWarning Action = "warning" // accepted with a warning on a non-strict zone
	ActionBlocked Action = "blocked" // rejected on a strict zone
)

// String returns the string representation of Action
func (a Action) String() string {
	return string(a)
}

// Signal names used in factors
const (
	FactorMockLocation         = "mock_location_detected"
	FactorFakeGPSApp           = "fake_gps_app_detected"
	FactorDeveloperMode        = "developer_mode_detected"
	FactorDeviceIntegrity      = "device_integrity_failed"
	FactorCoordinateAnomaly    = "coordinate_anomaly_detected"
	FactorImpossibleTravel     = "impossible_travel"
	FactorAccuracyInsufficient = "accuracy_insufficient"
	FactorOutOfZone            = "out_of_zone"
)

// Factor is one triggered signal and the points it contributed
type Factor struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// Assessment is the scorer's output
type Assessment struct {
	Score     int       `json:"score"`
	Level     RiskLevel `json:"level"`
	IsSpoofed bool      `json:"is_spoofed"`
	Action    Action    `json:"action"`
	Factors   []Factor  `json:"factors"`
}

// Scorer applies a Policy. It is stateless and safe for concurrent use.
type Scorer struct {
	policy Policy
}

// NewScorer creates a scorer after validating the policy
func NewScorer(policy Policy) (*Scorer, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{policy: policy}, nil
}

// Policy returns the policy in use
func (s *Scorer) Policy() Policy {
	return s.policy
}

// Score adds the weight of every active signal, clamps to 0-100 and derives
// level, spoof flag and action. strict is the zone's strict_geofence flag.
func (s *Scorer) Score(agg signals.Aggregated, strict bool) Assessment {
	w := s.policy.Weights
	checks := []struct {
		name   string
		active bool
		points int
	}{
		{FactorMockLocation, agg.Device.MockLocationDetected, w.MockLocation},
		{FactorFakeGPSApp, agg.Device.FakeGPSAppDetected, w.FakeGPSApp},
		{FactorDeveloperMode, agg.Device.DeveloperModeDetected, w.DeveloperMode},
		{FactorDeviceIntegrity, agg.Device.DeviceIntegrityFailed, w.DeviceIntegrity},
		{FactorCoordinateAnomaly, agg.Device.CoordinateAnomalyDetected, w.CoordinateAnomaly},
		{FactorImpossibleTravel, agg.ImpossibleTravel, w.ImpossibleTravel},
		{FactorAccuracyInsufficient, agg.AccuracyInsufficient, w.AccuracyInsufficient},
		{FactorOutOfZone, agg.OutOfZone, w.OutOfZone},
	}

	total := 0
	factors := make([]Factor, 0, len(checks))
	for _, c := range checks {
		if !c.active {
			continue
		}
		total += c.points
		factors = append(factors, Factor{Name: c.name, Points: c.points})
	}

	score := clamp(total)
	spoofed := score >= s.policy.Thresholds.Spoof

	return Assessment{
		Score:     score,
		Level:     s.classifyRiskLevel(score),
		IsSpoofed: spoofed,
		Action:    s.decideAction(score, spoofed, strict),
		Factors:   factors,
	}
}

// classifyRiskLevel converts a numeric score to a risk level category
func (s *Scorer) classifyRiskLevel(score int) RiskLevel {
	t := s.policy.Thresholds
	switch {
	case score >= t.Critical:
		return RiskLevelCritical
	case score >= t.High:
		return RiskLevelHigh
	case score >= t.Medium:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

func (s *Scorer) decideAction(score int, spoofed, strict bool) Action {
	switch {
	case spoofed && strict:
		return ActionBlocked
	case spoofed:
		return ActionWarning
	case score >= s.policy.Thresholds.Review:
		return ActionFlagged
	default:
		return ActionNone
	}
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
