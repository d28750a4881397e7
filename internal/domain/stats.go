package domain

// DayRef names one aggregate row: a vehicle or driver id and a local date
// (YYYY-MM-DD).
type DayRef struct {
	ID   string
	Date string
}

// DailyStatistic is rebuilt from scratch for its (vehicle, date) key on
// every aggregation run. It deliberately carries no wall-clock fields so
// re-running over unchanged inputs yields identical rows.
type DailyStatistic struct {
	VehicleID string `json:"vehicle_id"`
	Date      string `json:"date"`

	TripCount       int     `json:"trip_count"`
	TimedOutTrips   int     `json:"timed_out_trips"`
	DistanceKm      float64 `json:"distance_km"`
	DrivingMinutes  float64 `json:"driving_minutes"`
	IdleMinutes     float64 `json:"idle_minutes"`
	AverageSpeedKph float64 `json:"average_speed_kph"`
	MaxSpeedKph     float64 `json:"max_speed_kph"`
	FuelUsedLiters  float64 `json:"fuel_used_liters"`

	StopCount             int     `json:"stop_count"`
	StopMinutes           float64 `json:"stop_minutes"`
	UnauthorizedStopCount int     `json:"unauthorized_stop_count"`

	HarshBrakingCount      int `json:"harsh_braking_count"`
	HarshAccelerationCount int `json:"harsh_acceleration_count"`
	OverspeedingCount      int `json:"overspeeding_count"`
	SpeedAlertCount        int `json:"speed_alert_count"`
	FuelAnomalyCount       int `json:"fuel_anomaly_count"`
	GeofenceEntryCount     int `json:"geofence_entry_count"`
	GeofenceExitCount      int `json:"geofence_exit_count"`
	GeofenceOverstayCount  int `json:"geofence_overstay_count"`

	Provisional bool `json:"provisional"`
}

type DriverScore struct {
	DriverID string `json:"driver_id"`
	Date     string `json:"date"`

	TripCount      int     `json:"trip_count"`
	DistanceKm     float64 `json:"distance_km"`
	DrivingMinutes float64 `json:"driving_minutes"`

	SpeedingScore       float64  `json:"speeding_score"`
	BrakingScore        float64  `json:"braking_score"`
	AccelerationScore   float64  `json:"acceleration_score"`
	IdlingScore         float64  `json:"idling_score"`
	FuelEfficiencyScore *float64 `json:"fuel_efficiency_score,omitempty"`
	OverallScore        float64  `json:"overall_score"`

	Provisional bool `json:"provisional"`
}

// DayFacts is every closed fact whose start falls on one local date.
type DayFacts struct {
	Trips          []Trip
	Stops          []VehicleStop
	GeofenceEvents []GeofenceEvent
	SpeedAlerts    []SpeedLimitAlert
	FuelAnomalies  []FuelAnomaly
}
