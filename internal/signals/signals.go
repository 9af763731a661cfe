// Package signals bundles device-reported and computed location signals for scoring
package signals

import (
	"github.com/dokterku/presensi/internal/geofence"
	"github.com/dokterku/presensi/internal/travel"
)

// DeviceSignalSet holds the booleans reported by the client device.
// The set is closed: unknown signals are rejected at the API boundary.
type DeviceSignalSet struct {
	MockLocationDetected      bool `json:"mock_location_detected"`
	FakeGPSAppDetected        bool `json:"fake_gps_app_detected"`
	DeveloperModeDetected     bool `json:"developer_mode_detected"`
	DeviceIntegrityFailed     bool `json:"device_integrity_failed"`
	CoordinateAnomalyDetected bool `json:"coordinate_anomaly_detected"`
}

// Aggregated is the full signal bundle handed to the risk scorer
type Aggregated struct {
	Device               DeviceSignalSet `json:"device"`
	ImpossibleTravel     bool            `json:"impossible_travel"`
	AccuracyInsufficient bool            `json:"accuracy_insufficient"`
	OutOfZone            bool            `json:"out_of_zone"`
}

// Collect merges device, travel and geofence results. It makes no decisions.
func Collect(device DeviceSignalSet, tr travel.Evaluation, fence geofence.Result) Aggregated {
	return Aggregated{
		Device:               device,
		ImpossibleTravel:     tr.ImpossibleTravel,
		AccuracyInsufficient: fence.AccuracyInsufficient,
		OutOfZone:            !fence.IsWithinZone,
	}
}

// Count returns how many signals are set
func (a Aggregated) Count() int {
	n := 0
	for _, set := range []bool{
		a.Device.MockLocationDetected,
		a.Device.FakeGPSAppDetected,
		a.Device.DeveloperModeDetected,
		a.Device.DeviceIntegrityFailed,
		a.Device.CoordinateAnomalyDetected,
		a.ImpossibleTravel,
		a.AccuracyInsufficient,
		a.OutOfZone,
	} {
		if set {
			n++
		}
	}
	return n
}
