package presensi

// Stage is a step of the linear evaluation pipeline
type Stage int

const (
	StageReceived Stage = iota
	StageGeofenceChecked
	StageTravelChecked
	StageSignalsAggregated
	StageScored
	StageDecided
)

var stageNames = [...]string{
	StageReceived:          "received",
	StageGeofenceChecked:   "geofence_checked",
	StageTravelChecked:     "travel_checked",
	StageSignalsAggregated: "signals_aggregated",
	StageScored:            "scored",
	StageDecided:           "decided",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}
