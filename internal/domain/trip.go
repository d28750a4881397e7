package domain

import "time"

type SegmentStatus string

const (
	StatusOpen     SegmentStatus = "OPEN"
	StatusClosed   SegmentStatus = "CLOSED"
	StatusTimedOut SegmentStatus = "TIMED_OUT"
)

// Trip is a continuous period of motion. Once its status leaves OPEN
// the record is never modified again.
type Trip struct {
	ID        string        `json:"id"`
	VehicleID string        `json:"vehicle_id"`
	DeviceID  string        `json:"device_id"`
	DriverID  *string       `json:"driver_id,omitempty"`
	Status    SegmentStatus `json:"status"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	StartLatitude  float64 `json:"start_latitude"`
	StartLongitude float64 `json:"start_longitude"`
	EndLatitude    float64 `json:"end_latitude"`
	EndLongitude   float64 `json:"end_longitude"`

	StartOdometerKm    float64 `json:"start_odometer_km"`
	EndOdometerKm      float64 `json:"end_odometer_km"`
	OdometerDistanceKm float64 `json:"odometer_distance_km"`
	// OdometerBaseKm is the GPS distance already driven when the first
	// odometer reading of the trip arrived.
	OdometerBaseKm float64 `json:"odometer_base_km,omitempty"`

	DistanceKm      float64 `json:"distance_km"`
	DurationMinutes float64 `json:"duration_minutes"`
	AverageSpeedKph float64 `json:"average_speed_kph"`
	MaxSpeedKph     float64 `json:"max_speed_kph"`
	IdleTimeMinutes float64 `json:"idle_time_minutes"`

	HarshBrakingCount      int `json:"harsh_braking_count"`
	HarshAccelerationCount int `json:"harsh_acceleration_count"`
	OverspeedingCount      int `json:"overspeeding_count"`

	StartFuelLiters *float64 `json:"start_fuel_liters,omitempty"`
	EndFuelLiters   *float64 `json:"end_fuel_liters,omitempty"`
	FuelUsedLiters  float64  `json:"fuel_used_liters"`

	Anomaly AnomalyReason `json:"anomaly,omitempty"`
}

func (t *Trip) IsOpen() bool {
	return t.Status == StatusOpen
}

type StopType string

const (
	StopIdle              StopType = "IDLE"
	StopParkedIgnitionOff StopType = "PARKED_IGNITION_OFF"
	StopGeofenceDwell     StopType = "GEOFENCE_DWELL"
)

type VehicleStop struct {
	ID        string        `json:"id"`
	VehicleID string        `json:"vehicle_id"`
	DeviceID  string        `json:"device_id"`
	DriverID  *string       `json:"driver_id,omitempty"`
	Status    SegmentStatus `json:"status"`

	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds int64     `json:"duration_seconds"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Geohash   string  `json:"geohash"`

	StopType     StopType `json:"stop_type"`
	IsAuthorized bool     `json:"is_authorized"`
	GeofenceID   string   `json:"geofence_id,omitempty"`
}

func (s *VehicleStop) IsOpen() bool {
	return s.Status == StatusOpen
}

// Waypoint is one trail point of an open trip.
type Waypoint struct {
	TripID     string    `json:"trip_id"`
	VehicleID  string    `json:"vehicle_id"`
	RecordedAt time.Time `json:"recorded_at"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	SpeedKph   float64   `json:"speed_kph"`
	CourseDeg  float64   `json:"course_deg"`
}
