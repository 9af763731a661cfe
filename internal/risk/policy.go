package risk

import (
	"fmt"

	"github.com/dokterku/presensi/internal/common/config"
)

// Weights are the points added when a signal is present
type Weights struct {
	MockLocation         int `json:"mock_location"`
	FakeGPSApp           int `json:"fake_gps_app"`
	DeveloperMode        int `json:"developer_mode"`
	DeviceIntegrity      int `json:"device_integrity"`
	CoordinateAnomaly    int `json:"coordinate_anomaly"`
	ImpossibleTravel     int `json:"impossible_travel"`
	AccuracyInsufficient int `json:"accuracy_insufficient"`
	OutOfZone            int `json:"out_of_zone"`
}

// Thresholds are inclusive lower bounds on the 0-100 score
type Thresholds struct {
	Medium   int `json:"medium"`
	High     int `json:"high"`
	Critical int `json:"critical"`
	Spoof    int `json:"spoof"`  // score at or above which an attempt counts as spoofed
	Review   int `json:"review"` // score at or above which a non-spoofed attempt is flagged
}

// Policy is the full scoring configuration
type Policy struct {
	Weights    Weights    `json:"weights"`
	Thresholds Thresholds `json:"thresholds"`
}

// DefaultPolicy returns the standard weights and thresholds
func DefaultPolicy() Policy {
	return Policy{
		Weights: Weights{
			MockLocation:         30,
			FakeGPSApp:           25,
			DeveloperMode:        15,
			DeviceIntegrity:      20,
			CoordinateAnomaly:    10,
			ImpossibleTravel:     25,
			AccuracyInsufficient: 5,
			OutOfZone:            15,
		},
		Thresholds: Thresholds{
			Medium:   30,
			High:     60,
			Critical: 85,
			Spoof:    60,
			Review:   50,
		},
	}
}

// PolicyFromConfig maps the risk configuration section onto a Policy
func PolicyFromConfig(c config.RiskConfig) Policy {
	return Policy{
		Weights: Weights{
			MockLocation:         c.Weights.MockLocation,
			FakeGPSApp:           c.Weights.FakeGPSApp,
			DeveloperMode:        c.Weights.DeveloperMode,
			DeviceIntegrity:      c.Weights.DeviceIntegrity,
			CoordinateAnomaly:    c.Weights.CoordinateAnomaly,
			ImpossibleTravel:     c.Weights.ImpossibleTravel,
			AccuracyInsufficient: c.Weights.AccuracyInsufficient,
			OutOfZone:            c.Weights.OutOfZone,
		},
		Thresholds: Thresholds{
			Medium:   c.Thresholds.Medium,
			High:     c.Thresholds.High,
			Critical: c.Thresholds.Critical,
			Spoof:    c.Thresholds.Spoof,
			Review:   c.Thresholds.Review,
		},
	}
}

// Validate rejects negative weights and unordered thresholds. Non-negative
// weights keep the score monotonic in the set of active signals.
func (p Policy) Validate() error {
	w := p.Weights
	for name, v := range map[string]int{
		"mock_location":         w.MockLocation,
		"fake_gps_app":          w.FakeGPSApp,
		"developer_mode":        w.DeveloperMode,
		"device_integrity":      w.DeviceIntegrity,
		"coordinate_anomaly":    w.CoordinateAnomaly,
		"impossible_travel":     w.ImpossibleTravel,
		"accuracy_insufficient": w.AccuracyInsufficient,
		"out_of_zone":           w.OutOfZone,
	} {
		if v < 0 {
			return fmt.Errorf("weight %s must be >= 0, got %d", name, v)
		}
	}

	t := p.Thresholds
	if !(0 < t.Medium && t.Medium < t.High && t.High < t.Critical && t.Critical <= MaxScore) {
		return fmt.Errorf("thresholds must satisfy 0 < medium < high < critical <= %d", MaxScore)
	}
	if t.Spoof <= 0 || t.Spoof > MaxScore || t.Review <= 0 || t.Review > MaxScore {
		return fmt.Errorf("spoof and review thresholds must be within 1-%d", MaxScore)
	}
	// a review threshold at or above spoof could never flag anything
	if t.Review >= t.Spoof {
		return fmt.Errorf("review threshold %d must be below spoof threshold %d", t.Review, t.Spoof)
	}
	return nil
}
