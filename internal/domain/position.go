package domain

import "time"

// PositionFix is one normalised transmission from a telematics device.
type PositionFix struct {
	ReceivedAt time.Time `json:"received_at"`

	DeviceID   string    `json:"device_id"`
	RecordedAt time.Time `json:"recorded_at"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	SpeedKph   float64 `json:"speed_kph"`
	CourseDeg  float64 `json:"course_deg"`
	AltitudeM  float64 `json:"altitude_m"`
	IgnitionOn bool    `json:"ignition_on"`
	FuelRaw    float64 `json:"fuel_raw"`
	OdometerKm float64 `json:"odometer_km"`
	Satellites int     `json:"satellites"`
	Valid      bool    `json:"valid"`
	// FuelPresent marks FuelRaw as a real reading, so an empty tank (0)
	// is told apart from a device without a fuel sensor.
	FuelPresent bool `json:"fuel_present,omitempty"`
}

// HasFuel reports whether the device sent a fuel reading.
func (f PositionFix) HasFuel() bool {
	return f.FuelPresent || f.FuelRaw > 0
}

type RejectReason string

const (
	RejectNone          RejectReason = ""
	RejectLowSatellites RejectReason = "LOW_SATELLITES"
	RejectOutOfRange    RejectReason = "OUT_OF_RANGE"
	RejectBirdFlight    RejectReason = "BIRD_FLIGHT"
	RejectDeviceInvalid RejectReason = "DEVICE_INVALID"
	RejectMissingDevice RejectReason = "MISSING_DEVICE"
	RejectFutureClock   RejectReason = "FUTURE_TIMESTAMP"
)

// RejectedFix is the audit record of a fix the validator refused.
type RejectedFix struct {
	ID       string       `json:"id"`
	Fix      PositionFix  `json:"fix"`
	Reason   RejectReason `json:"reason"`
	Detail   string       `json:"detail,omitempty"`
	LoggedAt time.Time    `json:"logged_at"`
}

// LateFix is a fix that arrived after its device had already processed
// a newer one. It is kept for audit but never applied to device state.
type LateFix struct {
	ID         string      `json:"id"`
	Fix        PositionFix `json:"fix"`
	LatenessMS int64       `json:"lateness_ms"`
}
