package domain

import "time"

// AnomalyReason tags every heuristic finding so consumers can assert on
// the cause rather than on a bare flag.
type AnomalyReason string

const (
	ReasonNone                   AnomalyReason = ""
	ReasonSpeedOverLimit         AnomalyReason = "SPEED_OVER_LIMIT"
	ReasonGeofenceSpeedOverLimit AnomalyReason = "GEOFENCE_SPEED_OVER_LIMIT"
	ReasonPossibleLeakTheft      AnomalyReason = "POSSIBLE_LEAK_THEFT"
	ReasonUnrecordedRefuel       AnomalyReason = "UNRECORDED_REFUEL"
	ReasonOdometerMismatch       AnomalyReason = "ODOMETER_MISMATCH"
	ReasonOdometerRollback       AnomalyReason = "ODOMETER_ROLLBACK"
)

type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "INFO"
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityCritical AlertSeverity = "CRITICAL"
)

type SpeedLimitAlert struct {
	ID         string        `json:"id"`
	VehicleID  string        `json:"vehicle_id"`
	DeviceID   string        `json:"device_id"`
	DriverID   *string       `json:"driver_id,omitempty"`
	TripID     string        `json:"trip_id,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	Reason     AnomalyReason `json:"reason"`
	GeofenceID string        `json:"geofence_id,omitempty"`

	MeasuredKph float64 `json:"measured_kph"`
	LimitKph    float64 `json:"limit_kph"`
	MarginKph   float64 `json:"margin_kph"`
	// Since is when the sustained excess began.
	Since time.Time `json:"since"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type FuelAnomaly struct {
	ID        string        `json:"id"`
	VehicleID string        `json:"vehicle_id"`
	DeviceID  string        `json:"device_id"`
	Timestamp time.Time     `json:"timestamp"`
	Reason    AnomalyReason `json:"reason"`

	// Signed change in litres since the reference sample; negative is a drop.
	ObservedDeltaLiters float64 `json:"observed_delta_liters"`
	// Consumption the distance driven since the reference sample explains.
	ExpectedDeltaLiters float64   `json:"expected_delta_liters"`
	DistanceKm          float64   `json:"distance_km"`
	LevelBeforeLiters   float64   `json:"level_before_liters"`
	LevelAfterLiters    float64   `json:"level_after_liters"`
	ReferenceAt         time.Time `json:"reference_at"`
	IgnitionOn          bool      `json:"ignition_on"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Notification is the alert-feed payload handed to downstream consumers.
type Notification struct {
	ID        string        `json:"id"`
	VehicleID string        `json:"vehicle_id"`
	DeviceID  string        `json:"device_id"`
	Type      string        `json:"type"`
	Severity  AlertSeverity `json:"severity"`
	Message   string        `json:"message"`
	Latitude  float64       `json:"latitude"`
	Longitude float64       `json:"longitude"`
	Timestamp time.Time     `json:"timestamp"`
}
