package segmenter

import (
	"math"
	"time"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/geo"
)

const (
	standardGravity = 9.80665
	// odometer and haversine distance may disagree by this share of the trip
	// on top of the absolute tolerance before the trip is flagged
	odometerRelativeTolerance = 0.1
	// smallest odometer step treated as movement; device resolution is 0.1 km
	odometerEpsilonKm = 0.05
)

type Config struct {
	MotionThresholdKph  float64
	StopHysteresis      time.Duration
	SilenceTimeout      time.Duration
	HarshBrakingG       float64
	HarshAccelerationG  float64
	HarshMaxGap         time.Duration
	OdometerToleranceKm float64
}

// Env carries the per-fix context the segmenter does not own.
type Env struct {
	Vehicle domain.VehicleConfig
	// Inside lists the assigned geofences containing the fix, sorted.
	Inside []string
	// Drift marks receiver jitter that must not add distance.
	Drift bool
	// FuelLiters is the converted fuel level, nil when the fix has none.
	FuelLiters *float64
}

// Segmenter turns accepted fixes into trips and stops. It never holds
// state of its own; everything lives in the DeviceState it is handed.
type Segmenter struct {
	cfg Config
}

func New(cfg Config) *Segmenter {
	return &Segmenter{cfg: cfg}
}

func (s *Segmenter) SilenceTimeout() time.Duration {
	return s.cfg.SilenceTimeout
}

// Moving reports whether a fix signals motion. A fix exactly at the
// threshold counts as moving.
func (s *Segmenter) Moving(fix domain.PositionFix, prev *domain.PositionFix) bool {
	if fix.SpeedKph >= s.cfg.MotionThresholdKph {
		return true
	}
	if !fix.IgnitionOn {
		return false
	}
	return prev != nil && prev.OdometerKm > 0 && fix.OdometerKm-prev.OdometerKm > odometerEpsilonKm
}

// Apply advances the state machine by one accepted fix. st.LastAccepted
// must still hold the previous accepted fix.
func (s *Segmenter) Apply(st *domain.DeviceState, fix domain.PositionFix, env Env) domain.Facts {
	var facts domain.Facts
	prev := st.LastAccepted

	if prev != nil && s.cfg.SilenceTimeout > 0 && fix.RecordedAt.Sub(prev.RecordedAt) > s.cfg.SilenceTimeout {
		facts.Merge(s.closeSilent(st))
		prev = nil
	}

	moving := s.Moving(fix, prev)

	switch {
	case st.Motion == domain.Moving && st.OpenTrip != nil:
		s.accumulate(st.OpenTrip, prev, fix, env)
		if moving {
			st.BelowSince = nil
			st.TripAtBelow = nil
			facts.Waypoints = append(facts.Waypoints, waypoint(st.OpenTrip, fix))
			break
		}
		if st.BelowSince == nil {
			below := fix
			snapshot := *st.OpenTrip
			st.BelowSince = &below
			st.TripAtBelow = &snapshot
		}
		if !fix.IgnitionOn || fix.RecordedAt.Sub(st.BelowSince.RecordedAt) >= s.cfg.StopHysteresis {
			facts.Merge(s.endTrip(st, fix, env))
		}

	default:
		if moving {
			facts.Merge(s.startTrip(st, fix, env))
			break
		}
		if st.OpenStop == nil {
			st.OpenStop = s.newStop(st, fix, env)
		} else {
			s.classify(st.OpenStop, fix, env)
			st.OpenStop.EndTime = fix.RecordedAt
		}
		st.Motion = domain.Stationary
	}

	return facts
}

func (s *Segmenter) startTrip(st *domain.DeviceState, fix domain.PositionFix, env Env) domain.Facts {
	var facts domain.Facts
	if st.OpenStop != nil {
		stop := *st.OpenStop
		closeStop(&stop, fix.RecordedAt, domain.StatusClosed)
		facts.Stops = append(facts.Stops, stop)
		st.OpenStop = nil
	}

	trip := &domain.Trip{
		ID:              domain.FactID("trip", st.DeviceID, domain.TimeKey(fix.RecordedAt)),
		VehicleID:       st.VehicleID,
		DeviceID:        st.DeviceID,
		DriverID:        env.Vehicle.DriverID,
		Status:          domain.StatusOpen,
		StartTime:       fix.RecordedAt,
		EndTime:         fix.RecordedAt,
		StartLatitude:   fix.Latitude,
		StartLongitude:  fix.Longitude,
		EndLatitude:     fix.Latitude,
		EndLongitude:    fix.Longitude,
		StartOdometerKm: fix.OdometerKm,
		EndOdometerKm:   fix.OdometerKm,
		MaxSpeedKph:     fix.SpeedKph,
	}
	if env.FuelLiters != nil {
		start, end := *env.FuelLiters, *env.FuelLiters
		trip.StartFuelLiters = &start
		trip.EndFuelLiters = &end
	}

	st.OpenTrip = trip
	st.Motion = domain.Moving
	st.BelowSince = nil
	st.TripAtBelow = nil
	facts.Waypoints = append(facts.Waypoints, waypoint(trip, fix))
	return facts
}

// endTrip closes the trip at the first below-threshold fix and opens the
// stop there.
func (s *Segmenter) endTrip(st *domain.DeviceState, fix domain.PositionFix, env Env) domain.Facts {
	var facts domain.Facts

	at := fix
	trip := *st.OpenTrip
	if st.BelowSince != nil && st.TripAtBelow != nil {
		at = *st.BelowSince
		trip = *st.TripAtBelow
	}

	s.finish(&trip, domain.StatusClosed)
	if trip.EndTime.After(trip.StartTime) {
		facts.Trips = append(facts.Trips, trip)
	}

	st.OpenTrip = nil
	st.BelowSince = nil
	st.TripAtBelow = nil
	st.Motion = domain.Stationary

	stop := s.newStop(st, at, env)
	if fix.RecordedAt.After(at.RecordedAt) {
		s.classify(stop, fix, env)
		stop.EndTime = fix.RecordedAt
	}
	st.OpenStop = stop
	return facts
}

// Timeout force-closes whatever is open when the device has been silent
// for longer than the silence timeout.
func (s *Segmenter) Timeout(st *domain.DeviceState, now time.Time) domain.Facts {
	if s.cfg.SilenceTimeout <= 0 || st.LastArrival.IsZero() {
		return domain.Facts{}
	}
	if now.Sub(st.LastArrival) <= s.cfg.SilenceTimeout {
		return domain.Facts{}
	}
	return s.closeSilent(st)
}

func (s *Segmenter) closeSilent(st *domain.DeviceState) domain.Facts {
	var facts domain.Facts

	if st.OpenTrip != nil {
		trip := *st.OpenTrip
		if st.TripAtBelow != nil {
			trip = *st.TripAtBelow
		}
		s.finish(&trip, domain.StatusTimedOut)
		// a trip made of a single fix has no extent and is dropped
		if trip.EndTime.After(trip.StartTime) {
			facts.Trips = append(facts.Trips, trip)
		}
	}

	if st.OpenStop != nil {
		stop := *st.OpenStop
		end := stop.EndTime
		if st.LastAccepted != nil && st.LastAccepted.RecordedAt.After(end) {
			end = st.LastAccepted.RecordedAt
		}
		closeStop(&stop, end, domain.StatusTimedOut)
		facts.Stops = append(facts.Stops, stop)
	}

	st.OpenTrip = nil
	st.OpenStop = nil
	st.BelowSince = nil
	st.TripAtBelow = nil
	st.Motion = domain.Stationary
	return facts
}

func (s *Segmenter) accumulate(trip *domain.Trip, prev *domain.PositionFix, fix domain.PositionFix, env Env) {
	trip.EndTime = fix.RecordedAt
	trip.EndLatitude = fix.Latitude
	trip.EndLongitude = fix.Longitude
	if fix.SpeedKph > trip.MaxSpeedKph {
		trip.MaxSpeedKph = fix.SpeedKph
	}
	if env.FuelLiters != nil {
		end := *env.FuelLiters
		trip.EndFuelLiters = &end
		if trip.StartFuelLiters == nil {
			start := end
			trip.StartFuelLiters = &start
		}
	}

	if prev == nil {
		noteOdometer(trip, fix)
		return
	}

	dt := fix.RecordedAt.Sub(prev.RecordedAt)
	thr := s.cfg.MotionThresholdKph

	if !env.Drift && (prev.SpeedKph >= thr || fix.SpeedKph >= thr || s.Moving(fix, prev)) {
		trip.DistanceKm += geo.HaversineKm(prev.Latitude, prev.Longitude, fix.Latitude, fix.Longitude)
	}
	noteOdometer(trip, fix)

	if fix.IgnitionOn && prev.IgnitionOn && fix.SpeedKph < thr && prev.SpeedKph < thr {
		trip.IdleTimeMinutes += dt.Minutes()
	}

	if dt > 0 && (s.cfg.HarshMaxGap <= 0 || dt <= s.cfg.HarshMaxGap) {
		accelG := (fix.SpeedKph - prev.SpeedKph) / 3.6 / dt.Seconds() / standardGravity
		if s.cfg.HarshBrakingG > 0 && accelG <= -s.cfg.HarshBrakingG {
			trip.HarshBrakingCount++
		}
		if s.cfg.HarshAccelerationG > 0 && accelG >= s.cfg.HarshAccelerationG {
			trip.HarshAccelerationCount++
		}
	}
}

// noteOdometer tracks the odometer span of a trip. A trip that started
// without a reading takes its first one as the start, and only the GPS
// distance from there on is compared against it.
func noteOdometer(trip *domain.Trip, fix domain.PositionFix) {
	if fix.OdometerKm <= 0 {
		return
	}
	if trip.StartOdometerKm <= 0 {
		trip.StartOdometerKm = fix.OdometerKm
		trip.OdometerBaseKm = trip.DistanceKm
	}
	trip.EndOdometerKm = fix.OdometerKm
}

func (s *Segmenter) finish(trip *domain.Trip, status domain.SegmentStatus) {
	trip.Status = status
	trip.DurationMinutes = trip.EndTime.Sub(trip.StartTime).Minutes()
	if hours := trip.DurationMinutes / 60; hours > 0 {
		trip.AverageSpeedKph = trip.DistanceKm / hours
	}

	if trip.StartFuelLiters != nil && trip.EndFuelLiters != nil {
		trip.FuelUsedLiters = math.Max(0, *trip.StartFuelLiters-*trip.EndFuelLiters)
	}

	if trip.StartOdometerKm <= 0 && trip.EndOdometerKm <= 0 {
		return
	}
	if trip.EndOdometerKm < trip.StartOdometerKm {
		trip.EndOdometerKm = trip.StartOdometerKm
		trip.OdometerDistanceKm = 0
		trip.Anomaly = domain.ReasonOdometerRollback
		return
	}
	trip.OdometerDistanceKm = trip.EndOdometerKm - trip.StartOdometerKm
	gpsKm := trip.DistanceKm - trip.OdometerBaseKm
	tolerance := s.cfg.OdometerToleranceKm + odometerRelativeTolerance*gpsKm
	if math.Abs(trip.OdometerDistanceKm-gpsKm) > tolerance {
		trip.Anomaly = domain.ReasonOdometerMismatch
	}
}

func (s *Segmenter) newStop(st *domain.DeviceState, at domain.PositionFix, env Env) *domain.VehicleStop {
	stop := &domain.VehicleStop{
		ID:        domain.FactID("stop", st.DeviceID, domain.TimeKey(at.RecordedAt)),
		VehicleID: st.VehicleID,
		DeviceID:  st.DeviceID,
		DriverID:  env.Vehicle.DriverID,
		Status:    domain.StatusOpen,
		StartTime: at.RecordedAt,
		EndTime:   at.RecordedAt,
		Latitude:  at.Latitude,
		Longitude: at.Longitude,
		Geohash:   geo.Geohash(at.Latitude, at.Longitude),
		StopType:  domain.StopIdle,
	}
	s.classify(stop, at, env)
	return stop
}

var stopRank = map[domain.StopType]int{
	domain.StopIdle:              0,
	domain.StopParkedIgnitionOff: 1,
	domain.StopGeofenceDwell:     2,
}

// classify upgrades the stop type as evidence arrives; it never downgrades.
func (s *Segmenter) classify(stop *domain.VehicleStop, fix domain.PositionFix, env Env) {
	candidate := domain.StopIdle
	switch {
	case len(env.Inside) > 0:
		candidate = domain.StopGeofenceDwell
	case !fix.IgnitionOn:
		candidate = domain.StopParkedIgnitionOff
	}
	if stopRank[candidate] > stopRank[stop.StopType] {
		stop.StopType = candidate
	}
	if len(env.Inside) > 0 && !stop.IsAuthorized {
		stop.IsAuthorized = true
		stop.GeofenceID = env.Inside[0]
	}
}

func closeStop(stop *domain.VehicleStop, end time.Time, status domain.SegmentStatus) {
	stop.EndTime = end
	stop.Status = status
	stop.DurationSeconds = int64(end.Sub(stop.StartTime) / time.Second)
	if stop.DurationSeconds < 0 {
		stop.DurationSeconds = 0
	}
}

func waypoint(trip *domain.Trip, fix domain.PositionFix) domain.Waypoint {
	return domain.Waypoint{
		TripID:     trip.ID,
		VehicleID:  trip.VehicleID,
		RecordedAt: fix.RecordedAt,
		Latitude:   fix.Latitude,
		Longitude:  fix.Longitude,
		SpeedKph:   fix.SpeedKph,
		CourseDeg:  fix.CourseDeg,
	}
}
