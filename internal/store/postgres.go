package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-monitor/telematics/internal/anomaly"
	"fleet-monitor/telematics/internal/config"
	"fleet-monitor/telematics/internal/domain"
)

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

type PostgresStore struct {
	db DB
}

var _ anomaly.FuelLedger = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, cfg *config.Config) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &PostgresStore{db: pool}, nil
}

// NewPostgresStoreWithDB wraps an existing connection, used by tests.
func NewPostgresStoreWithDB(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

const (
	insertTrip = `
		INSERT INTO trips (
			id, vehicle_id, device_id, driver_id, status, start_time, end_time,
			start_latitude, start_longitude, end_latitude, end_longitude,
			start_odometer_km, end_odometer_km, odometer_distance_km,
			distance_km, duration_minutes, average_speed_kph, max_speed_kph, idle_time_minutes,
			harsh_braking_count, harsh_acceleration_count, overspeeding_count,
			start_fuel_liters, end_fuel_liters, fuel_used_liters, anomaly
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26
		)
		ON CONFLICT (id) DO NOTHING`

	insertStop = `
		INSERT INTO vehicle_stops (
			id, vehicle_id, device_id, driver_id, status, start_time, end_time, duration_seconds,
			latitude, longitude, geohash, stop_type, is_authorized, geofence_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`

	insertGeofenceEvent = `
		INSERT INTO geofence_events (
			id, geofence_id, vehicle_id, device_id, event_type, occurred_at,
			speed_kph, latitude, longitude, duration_inside_seconds, notify
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`

	insertSpeedAlert = `
		INSERT INTO speed_limit_alerts (
			id, vehicle_id, device_id, driver_id, trip_id, occurred_at, reason, geofence_id,
			measured_kph, limit_kph, margin_kph, since, latitude, longitude
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`

	insertFuelAnomaly = `
		INSERT INTO fuel_anomalies (
			id, vehicle_id, device_id, occurred_at, reason,
			observed_delta_liters, expected_delta_liters, distance_km,
			level_before_liters, level_after_liters, reference_at, ignition_on,
			latitude, longitude
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`

	insertRejected = `
		INSERT INTO rejected_positions (id, device_id, recorded_at, reason, detail, payload, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	insertLate = `
		INSERT INTO late_positions (id, device_id, recorded_at, lateness_ms, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`
)

// WriteFacts persists one fact bundle in a single transaction. Every row
// carries a deterministic id, so writing the same bundle twice is a no-op.
func (s *PostgresStore) WriteFacts(ctx context.Context, f domain.Facts) error {
	if !f.Durable() {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin fact tx: %w", err)
	}

	if err := writeFacts(ctx, tx, f); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit facts: %w", err)
	}
	return nil
}

func writeFacts(ctx context.Context, tx pgx.Tx, f domain.Facts) error {
	for _, t := range f.Trips {
		_, err := tx.Exec(ctx, insertTrip,
			t.ID, t.VehicleID, t.DeviceID, t.DriverID, string(t.Status), t.StartTime, t.EndTime,
			t.StartLatitude, t.StartLongitude, t.EndLatitude, t.EndLongitude,
			t.StartOdometerKm, t.EndOdometerKm, t.OdometerDistanceKm,
			t.DistanceKm, t.DurationMinutes, t.AverageSpeedKph, t.MaxSpeedKph, t.IdleTimeMinutes,
			t.HarshBrakingCount, t.HarshAccelerationCount, t.OverspeedingCount,
			t.StartFuelLiters, t.EndFuelLiters, t.FuelUsedLiters, string(t.Anomaly),
		)
		if err != nil {
			return fmt.Errorf("insert trip %s: %w", t.ID, err)
		}
	}

	for _, st := range f.Stops {
		_, err := tx.Exec(ctx, insertStop,
			st.ID, st.VehicleID, st.DeviceID, st.DriverID, string(st.Status),
			st.StartTime, st.EndTime, st.DurationSeconds,
			st.Latitude, st.Longitude, st.Geohash, string(st.StopType), st.IsAuthorized,
			nullString(st.GeofenceID),
		)
		if err != nil {
			return fmt.Errorf("insert stop %s: %w", st.ID, err)
		}
	}

	for _, ev := range f.GeofenceEvents {
		_, err := tx.Exec(ctx, insertGeofenceEvent,
			ev.ID, ev.GeofenceID, ev.VehicleID, ev.DeviceID, string(ev.Type), ev.Timestamp,
			ev.SpeedKph, ev.Latitude, ev.Longitude, ev.DurationInsideSeconds, ev.Notify,
		)
		if err != nil {
			return fmt.Errorf("insert geofence event %s: %w", ev.ID, err)
		}
	}

	for _, a := range f.SpeedAlerts {
		_, err := tx.Exec(ctx, insertSpeedAlert,
			a.ID, a.VehicleID, a.DeviceID, a.DriverID, nullString(a.TripID), a.Timestamp,
			string(a.Reason), nullString(a.GeofenceID),
			a.MeasuredKph, a.LimitKph, a.MarginKph, a.Since, a.Latitude, a.Longitude,
		)
		if err != nil {
			return fmt.Errorf("insert speed alert %s: %w", a.ID, err)
		}
	}

	for _, a := range f.FuelAnomalies {
		_, err := tx.Exec(ctx, insertFuelAnomaly,
			a.ID, a.VehicleID, a.DeviceID, a.Timestamp, string(a.Reason),
			a.ObservedDeltaLiters, a.ExpectedDeltaLiters, a.DistanceKm,
			a.LevelBeforeLiters, a.LevelAfterLiters, a.ReferenceAt, a.IgnitionOn,
			a.Latitude, a.Longitude,
		)
		if err != nil {
			return fmt.Errorf("insert fuel anomaly %s: %w", a.ID, err)
		}
	}

	for _, r := range f.Rejected {
		payload, err := json.Marshal(r.Fix)
		if err != nil {
			return fmt.Errorf("marshal rejected fix: %w", err)
		}
		_, err = tx.Exec(ctx, insertRejected,
			r.ID, r.Fix.DeviceID, r.Fix.RecordedAt, string(r.Reason), r.Detail, payload, r.LoggedAt,
		)
		if err != nil {
			return fmt.Errorf("insert rejected fix %s: %w", r.ID, err)
		}
	}

	for _, l := range f.Late {
		payload, err := json.Marshal(l.Fix)
		if err != nil {
			return fmt.Errorf("marshal late fix: %w", err)
		}
		_, err = tx.Exec(ctx, insertLate, l.ID, l.Fix.DeviceID, l.Fix.RecordedAt, l.LatenessMS, payload)
		if err != nil {
			return fmt.Errorf("insert late fix %s: %w", l.ID, err)
		}
	}

	return nil
}

var waypointColumns = []string{
	"trip_id",
	"vehicle_id",
	"recorded_at",
	"latitude",
	"longitude",
	"speed_kph",
	"course_deg",
}

// InsertWaypoints bulk-loads a batch of trail points with COPY.
func (s *PostgresStore) InsertWaypoints(ctx context.Context, wps []domain.Waypoint) error {
	if len(wps) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(wps))
	for i, w := range wps {
		rows[i] = []interface{}{
			w.TripID,
			w.VehicleID,
			w.RecordedAt,
			w.Latitude,
			w.Longitude,
			w.SpeedKph,
			w.CourseDeg,
		}
	}

	_, err := s.db.CopyFrom(
		ctx,
		pgx.Identifier{"trip_waypoints"},
		waypointColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("CopyFrom failed for batch of %d: %w", len(wps), err)
	}

	return nil
}

const upsertDailyStatistic = `
	INSERT INTO daily_statistics (
		vehicle_id, stat_date, trip_count, timed_out_trips, distance_km, driving_minutes,
		idle_minutes, average_speed_kph, max_speed_kph, fuel_used_liters,
		stop_count, stop_minutes, unauthorized_stop_count,
		harsh_braking_count, harsh_acceleration_count, overspeeding_count,
		speed_alert_count, fuel_anomaly_count,
		geofence_entry_count, geofence_exit_count, geofence_overstay_count, provisional
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
	)
	ON CONFLICT (vehicle_id, stat_date) DO UPDATE SET
		trip_count               = EXCLUDED.trip_count,
		timed_out_trips          = EXCLUDED.timed_out_trips,
		distance_km              = EXCLUDED.distance_km,
		driving_minutes          = EXCLUDED.driving_minutes,
		idle_minutes             = EXCLUDED.idle_minutes,
		average_speed_kph        = EXCLUDED.average_speed_kph,
		max_speed_kph            = EXCLUDED.max_speed_kph,
		fuel_used_liters         = EXCLUDED.fuel_used_liters,
		stop_count               = EXCLUDED.stop_count,
		stop_minutes             = EXCLUDED.stop_minutes,
		unauthorized_stop_count  = EXCLUDED.unauthorized_stop_count,
		harsh_braking_count      = EXCLUDED.harsh_braking_count,
		harsh_acceleration_count = EXCLUDED.harsh_acceleration_count,
		overspeeding_count       = EXCLUDED.overspeeding_count,
		speed_alert_count        = EXCLUDED.speed_alert_count,
		fuel_anomaly_count       = EXCLUDED.fuel_anomaly_count,
		geofence_entry_count     = EXCLUDED.geofence_entry_count,
		geofence_exit_count      = EXCLUDED.geofence_exit_count,
		geofence_overstay_count  = EXCLUDED.geofence_overstay_count,
		provisional              = EXCLUDED.provisional`

// UpsertDailyStatistic replaces the row for (vehicle, date).
func (s *PostgresStore) UpsertDailyStatistic(ctx context.Context, d domain.DailyStatistic) error {
	date, err := parseDate(d.Date)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, upsertDailyStatistic,
		d.VehicleID, date, d.TripCount, d.TimedOutTrips, d.DistanceKm, d.DrivingMinutes,
		d.IdleMinutes, d.AverageSpeedKph, d.MaxSpeedKph, d.FuelUsedLiters,
		d.StopCount, d.StopMinutes, d.UnauthorizedStopCount,
		d.HarshBrakingCount, d.HarshAccelerationCount, d.OverspeedingCount,
		d.SpeedAlertCount, d.FuelAnomalyCount,
		d.GeofenceEntryCount, d.GeofenceExitCount, d.GeofenceOverstayCount, d.Provisional,
	)
	if err != nil {
		return fmt.Errorf("upsert daily statistic %s/%s: %w", d.VehicleID, d.Date, err)
	}
	return nil
}

const upsertDriverScore = `
	INSERT INTO driver_scores (
		driver_id, score_date, trip_count, distance_km, driving_minutes,
		speeding_score, braking_score, acceleration_score, idling_score,
		fuel_efficiency_score, overall_score, provisional
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (driver_id, score_date) DO UPDATE SET
		trip_count            = EXCLUDED.trip_count,
		distance_km           = EXCLUDED.distance_km,
		driving_minutes       = EXCLUDED.driving_minutes,
		speeding_score        = EXCLUDED.speeding_score,
		braking_score         = EXCLUDED.braking_score,
		acceleration_score    = EXCLUDED.acceleration_score,
		idling_score          = EXCLUDED.idling_score,
		fuel_efficiency_score = EXCLUDED.fuel_efficiency_score,
		overall_score         = EXCLUDED.overall_score,
		provisional           = EXCLUDED.provisional`

// UpsertDriverScore replaces the row for (driver, date).
func (s *PostgresStore) UpsertDriverScore(ctx context.Context, d domain.DriverScore) error {
	date, err := parseDate(d.Date)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, upsertDriverScore,
		d.DriverID, date, d.TripCount, d.DistanceKm, d.DrivingMinutes,
		d.SpeedingScore, d.BrakingScore, d.AccelerationScore, d.IdlingScore,
		d.FuelEfficiencyScore, d.OverallScore, d.Provisional,
	)
	if err != nil {
		return fmt.Errorf("upsert driver score %s/%s: %w", d.DriverID, d.Date, err)
	}
	return nil
}

// ProvisionalDays lists the vehicle-days and driver-days still stored as
// provisional, so a restarted engine can finish them.
func (s *PostgresStore) ProvisionalDays(ctx context.Context) (vehicles, drivers []domain.DayRef, err error) {
	vehicles, err = s.queryDayRefs(ctx, `
		SELECT vehicle_id, stat_date FROM daily_statistics
		WHERE provisional ORDER BY vehicle_id, stat_date`)
	if err != nil {
		return nil, nil, fmt.Errorf("query provisional daily statistics: %w", err)
	}
	drivers, err = s.queryDayRefs(ctx, `
		SELECT driver_id, score_date FROM driver_scores
		WHERE provisional ORDER BY driver_id, score_date`)
	if err != nil {
		return nil, nil, fmt.Errorf("query provisional driver scores: %w", err)
	}
	return vehicles, drivers, nil
}

func (s *PostgresStore) queryDayRefs(ctx context.Context, query string) ([]domain.DayRef, error) {
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DayRef
	for rows.Next() {
		var (
			id   string
			date time.Time
		)
		if err := rows.Scan(&id, &date); err != nil {
			return nil, err
		}
		out = append(out, domain.DayRef{ID: id, Date: date.Format("2006-01-02")})
	}
	return out, rows.Err()
}

const selectTrips = `
	SELECT id, vehicle_id, device_id, driver_id, status, start_time, end_time,
		start_latitude, start_longitude, end_latitude, end_longitude,
		start_odometer_km, end_odometer_km, odometer_distance_km,
		distance_km, duration_minutes, average_speed_kph, max_speed_kph, idle_time_minutes,
		harsh_braking_count, harsh_acceleration_count, overspeeding_count,
		start_fuel_liters, end_fuel_liters, fuel_used_liters, anomaly
	FROM trips`

// LoadDayFacts returns every fact of a vehicle whose start (or occurrence)
// falls in [from, to). Trips and stops belong to the day they started.
func (s *PostgresStore) LoadDayFacts(ctx context.Context, vehicleID string, from, to time.Time) (domain.DayFacts, error) {
	var out domain.DayFacts
	var err error

	out.Trips, err = s.queryTrips(ctx,
		selectTrips+` WHERE vehicle_id = $1 AND start_time >= $2 AND start_time < $3`,
		vehicleID, from, to)
	if err != nil {
		return out, err
	}

	if out.Stops, err = s.loadStops(ctx, vehicleID, from, to); err != nil {
		return out, err
	}
	if out.GeofenceEvents, err = s.loadGeofenceEvents(ctx, vehicleID, from, to); err != nil {
		return out, err
	}
	if out.SpeedAlerts, err = s.loadSpeedAlerts(ctx, vehicleID, from, to); err != nil {
		return out, err
	}
	if out.FuelAnomalies, err = s.loadFuelAnomalies(ctx, vehicleID, from, to); err != nil {
		return out, err
	}
	return out, nil
}

// LoadDriverTrips returns the trips a driver started in [from, to).
func (s *PostgresStore) LoadDriverTrips(ctx context.Context, driverID string, from, to time.Time) ([]domain.Trip, error) {
	return s.queryTrips(ctx,
		selectTrips+` WHERE driver_id = $1 AND start_time >= $2 AND start_time < $3`,
		driverID, from, to)
}

func (s *PostgresStore) queryTrips(ctx context.Context, query string, args ...any) ([]domain.Trip, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()

	var out []domain.Trip
	for rows.Next() {
		var t domain.Trip
		var status, anomalyReason string
		err := rows.Scan(
			&t.ID, &t.VehicleID, &t.DeviceID, &t.DriverID, &status, &t.StartTime, &t.EndTime,
			&t.StartLatitude, &t.StartLongitude, &t.EndLatitude, &t.EndLongitude,
			&t.StartOdometerKm, &t.EndOdometerKm, &t.OdometerDistanceKm,
			&t.DistanceKm, &t.DurationMinutes, &t.AverageSpeedKph, &t.MaxSpeedKph, &t.IdleTimeMinutes,
			&t.HarshBrakingCount, &t.HarshAccelerationCount, &t.OverspeedingCount,
			&t.StartFuelLiters, &t.EndFuelLiters, &t.FuelUsedLiters, &anomalyReason,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		t.Status = domain.SegmentStatus(status)
		t.Anomaly = domain.AnomalyReason(anomalyReason)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) loadStops(ctx context.Context, vehicleID string, from, to time.Time) ([]domain.VehicleStop, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, vehicle_id, device_id, driver_id, status, start_time, end_time, duration_seconds,
			latitude, longitude, geohash, stop_type, is_authorized, COALESCE(geofence_id, '')
		FROM vehicle_stops
		WHERE vehicle_id = $1 AND start_time >= $2 AND start_time < $3`,
		vehicleID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query stops: %w", err)
	}
	defer rows.Close()

	var out []domain.VehicleStop
	for rows.Next() {
		var st domain.VehicleStop
		var status, stopType string
		err := rows.Scan(
			&st.ID, &st.VehicleID, &st.DeviceID, &st.DriverID, &status,
			&st.StartTime, &st.EndTime, &st.DurationSeconds,
			&st.Latitude, &st.Longitude, &st.Geohash, &stopType, &st.IsAuthorized, &st.GeofenceID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan stop: %w", err)
		}
		st.Status = domain.SegmentStatus(status)
		st.StopType = domain.StopType(stopType)
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *PostgresStore) loadGeofenceEvents(ctx context.Context, vehicleID string, from, to time.Time) ([]domain.GeofenceEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, geofence_id, vehicle_id, device_id, event_type, occurred_at,
			speed_kph, latitude, longitude, duration_inside_seconds, notify
		FROM geofence_events
		WHERE vehicle_id = $1 AND occurred_at >= $2 AND occurred_at < $3`,
		vehicleID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query geofence events: %w", err)
	}
	defer rows.Close()

	var out []domain.GeofenceEvent
	for rows.Next() {
		var ev domain.GeofenceEvent
		var typ string
		err := rows.Scan(
			&ev.ID, &ev.GeofenceID, &ev.VehicleID, &ev.DeviceID, &typ, &ev.Timestamp,
			&ev.SpeedKph, &ev.Latitude, &ev.Longitude, &ev.DurationInsideSeconds, &ev.Notify,
		)
		if err != nil {
			return nil, fmt.Errorf("scan geofence event: %w", err)
		}
		ev.Type = domain.GeofenceEventType(typ)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) loadSpeedAlerts(ctx context.Context, vehicleID string, from, to time.Time) ([]domain.SpeedLimitAlert, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, vehicle_id, device_id, driver_id, COALESCE(trip_id::text, ''), occurred_at,
			reason, COALESCE(geofence_id, ''), measured_kph, limit_kph, margin_kph, since,
			latitude, longitude
		FROM speed_limit_alerts
		WHERE vehicle_id = $1 AND occurred_at >= $2 AND occurred_at < $3`,
		vehicleID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query speed alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.SpeedLimitAlert
	for rows.Next() {
		var a domain.SpeedLimitAlert
		var reason string
		err := rows.Scan(
			&a.ID, &a.VehicleID, &a.DeviceID, &a.DriverID, &a.TripID, &a.Timestamp,
			&reason, &a.GeofenceID, &a.MeasuredKph, &a.LimitKph, &a.MarginKph, &a.Since,
			&a.Latitude, &a.Longitude,
		)
		if err != nil {
			return nil, fmt.Errorf("scan speed alert: %w", err)
		}
		a.Reason = domain.AnomalyReason(reason)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) loadFuelAnomalies(ctx context.Context, vehicleID string, from, to time.Time) ([]domain.FuelAnomaly, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, vehicle_id, device_id, occurred_at, reason,
			observed_delta_liters, expected_delta_liters, distance_km,
			level_before_liters, level_after_liters, reference_at, ignition_on,
			latitude, longitude
		FROM fuel_anomalies
		WHERE vehicle_id = $1 AND occurred_at >= $2 AND occurred_at < $3`,
		vehicleID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query fuel anomalies: %w", err)
	}
	defer rows.Close()

	var out []domain.FuelAnomaly
	for rows.Next() {
		var a domain.FuelAnomaly
		var reason string
		err := rows.Scan(
			&a.ID, &a.VehicleID, &a.DeviceID, &a.Timestamp, &reason,
			&a.ObservedDeltaLiters, &a.ExpectedDeltaLiters, &a.DistanceKm,
			&a.LevelBeforeLiters, &a.LevelAfterLiters, &a.ReferenceAt, &a.IgnitionOn,
			&a.Latitude, &a.Longitude,
		)
		if err != nil {
			return nil, fmt.Errorf("scan fuel anomaly: %w", err)
		}
		a.Reason = domain.AnomalyReason(reason)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Entries reads the fuel ledger kept by the administration application.
func (s *PostgresStore) Entries(ctx context.Context, vehicleID string, from, to time.Time) ([]anomaly.LedgerEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT recorded_at, liters
		FROM fuel_records
		WHERE vehicle_id = $1 AND recorded_at >= $2 AND recorded_at <= $3
		ORDER BY recorded_at`,
		vehicleID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query fuel records: %w", err)
	}
	defer rows.Close()

	var out []anomaly.LedgerEntry
	for rows.Next() {
		var e anomaly.LedgerEntry
		if err := rows.Scan(&e.At, &e.Liters); err != nil {
			return nil, fmt.Errorf("scan fuel record: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LoadFleet reads vehicles, geofences and their assignments into a snapshot.
func (s *PostgresStore) LoadFleet(ctx context.Context) (*domain.FleetSnapshot, error) {
	snap := domain.EmptySnapshot()
	byVehicle := make(map[string]string)

	rows, err := s.db.Query(ctx, `
		SELECT id, device_id, driver_id, speed_limit_kph, fuel_sensor_mode,
			tank_capacity_liters, expected_l_100km
		FROM vehicles`)
	if err != nil {
		return nil, fmt.Errorf("query vehicles: %w", err)
	}
	for rows.Next() {
		var v domain.VehicleConfig
		var mode string
		err := rows.Scan(&v.VehicleID, &v.DeviceID, &v.DriverID, &v.SpeedLimitKph, &mode,
			&v.TankCapacityLiters, &v.ExpectedL100Km)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		v.FuelSensorMode = domain.FuelSensorMode(mode)
		snap.Vehicles[v.DeviceID] = v
		byVehicle[v.VehicleID] = v.DeviceID
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read vehicles: %w", err)
	}

	rows, err = s.db.Query(ctx, `
		SELECT id, name, shape, center_latitude, center_longitude, radius_m, polygon,
			alert_on_entry, alert_on_exit, notification_cooldown_minutes,
			max_stay_duration_minutes, speed_limit_kph
		FROM geofences`)
	if err != nil {
		return nil, fmt.Errorf("query geofences: %w", err)
	}
	for rows.Next() {
		var g domain.Geofence
		var shape string
		var polygon []byte
		err := rows.Scan(&g.ID, &g.Name, &shape, &g.Center.Lat, &g.Center.Lon, &g.RadiusM, &polygon,
			&g.AlertOnEntry, &g.AlertOnExit, &g.NotificationCooldownMinutes,
			&g.MaxStayDurationMinutes, &g.SpeedLimitKph)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan geofence: %w", err)
		}
		g.Shape = domain.GeofenceShape(shape)
		if len(polygon) > 0 {
			if err := json.Unmarshal(polygon, &g.Polygon); err != nil {
				rows.Close()
				return nil, fmt.Errorf("geofence %s polygon: %w", g.ID, err)
			}
		}
		snap.Geofences[g.ID] = g
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read geofences: %w", err)
	}

	rows, err = s.db.Query(ctx, `
		SELECT vehicle_id, geofence_id FROM vehicle_geofences ORDER BY vehicle_id, geofence_id`)
	if err != nil {
		return nil, fmt.Errorf("query vehicle geofences: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var vehicleID, geofenceID string
		if err := rows.Scan(&vehicleID, &geofenceID); err != nil {
			return nil, fmt.Errorf("scan vehicle geofence: %w", err)
		}
		deviceID, ok := byVehicle[vehicleID]
		if !ok {
			continue
		}
		v := snap.Vehicles[deviceID]
		v.GeofenceIDs = append(v.GeofenceIDs, geofenceID)
		snap.Vehicles[deviceID] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read vehicle geofences: %w", err)
	}

	return snap, nil
}

// CountTables reports how many of the named tables exist in the public schema.
func (s *PostgresStore) CountTables(ctx context.Context, names []string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name = ANY($1)`, names).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tables: %w", err)
	}
	return n, nil
}

func parseDate(date string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return t, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
