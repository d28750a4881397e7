package tracker

import (
	"context"
	"fmt"
	"time"

	"fleet-monitor/telematics/internal/anomaly"
	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/geo"
	"fleet-monitor/telematics/internal/geofence"
	"fleet-monitor/telematics/internal/segmenter"
	"fleet-monitor/telematics/internal/validator"
)

type Outcome string

const (
	Applied   Outcome = "applied"
	Rejected  Outcome = "rejected"
	Duplicate Outcome = "duplicate"
	Late      Outcome = "late"
)

type Config struct {
	// RecentFixes bounds the per-device timestamp ring used for dedup.
	RecentFixes int
}

// Tracker runs one fix through validation, segmentation, geofencing and
// anomaly detection. It is stateless; callers own the DeviceState.
type Tracker struct {
	cfg       Config
	validator *validator.Validator
	segmenter *segmenter.Segmenter
	speed     *anomaly.SpeedDetector
	fuel      *anomaly.FuelDetector
}

func New(
	cfg Config,
	v *validator.Validator,
	s *segmenter.Segmenter,
	speed *anomaly.SpeedDetector,
	fuel *anomaly.FuelDetector,
) *Tracker {
	return &Tracker{cfg: cfg, validator: v, segmenter: s, speed: speed, fuel: fuel}
}

// Process applies fix to a clone of st and returns the clone with the
// facts it produced. st itself is never modified, so the caller can drop
// the clone if the facts fail to persist. Duplicates return st unchanged.
func (t *Tracker) Process(
	ctx context.Context,
	st *domain.DeviceState,
	fix domain.PositionFix,
	snap *domain.FleetSnapshot,
	arrival time.Time,
) (*domain.DeviceState, domain.Facts, Outcome, error) {
	var facts domain.Facts

	if st.Seen(fix.RecordedAt) {
		return st, facts, Duplicate, nil
	}

	next := st.Clone()
	next.LastArrival = arrival
	next.Version++

	if !st.LastProcessedAt.IsZero() && !fix.RecordedAt.After(st.LastProcessedAt) {
		facts.Late = append(facts.Late, domain.LateFix{
			ID:         domain.FactID("late", fix.DeviceID, domain.TimeKey(fix.RecordedAt)),
			Fix:        fix,
			LatenessMS: st.LastProcessedAt.Sub(fix.RecordedAt).Milliseconds(),
		})
		next.Remember(fix.RecordedAt, t.cfg.RecentFixes)
		return next, facts, Late, nil
	}

	vehicle, _ := snap.Vehicle(fix.DeviceID)
	next.VehicleID = vehicle.VehicleID
	prev := next.LastAccepted

	if ok, reason := t.validator.Validate(fix, prev); !ok {
		facts.Rejected = append(facts.Rejected, domain.RejectedFix{
			ID:       domain.FactID("rejected", fix.DeviceID, domain.TimeKey(fix.RecordedAt)),
			Fix:      fix,
			Reason:   reason,
			Detail:   rejectDetail(reason, fix, prev),
			LoggedAt: arrival,
		})
		// only the dedup ring; a rejected clock must not move the watermark
		next.Remember(fix.RecordedAt, t.cfg.RecentFixes)
		return next, facts, Rejected, nil
	}

	fences := snap.GeofencesFor(vehicle)
	inside := geofence.Containing(fix, fences)
	drift := t.validator.IsDrift(fix, prev)

	env := segmenter.Env{Vehicle: vehicle, Inside: inside, Drift: drift}
	liters, hasFuel := 0.0, false
	if fix.HasFuel() {
		liters, hasFuel = anomaly.Liters(vehicle, fix.FuelRaw)
		if hasFuel {
			env.FuelLiters = &liters
		}
	}

	facts.Merge(t.segmenter.Apply(next, fix, env))
	for _, trip := range facts.Trips {
		t.fuel.RecordTrip(next, trip)
	}

	events, membership := geofence.Evaluate(fix, vehicle.VehicleID, fences, next.Membership)
	next.Membership = membership
	facts.GeofenceEvents = append(facts.GeofenceEvents, events...)

	facts.SpeedAlerts = append(facts.SpeedAlerts, t.speed.Evaluate(next, fix, vehicle, fences, inside)...)

	if hasFuel {
		segmentKm := 0.0
		if prev != nil && !drift {
			segmentKm = geo.HaversineKm(prev.Latitude, prev.Longitude, fix.Latitude, fix.Longitude)
		}
		found, err := t.fuel.Evaluate(ctx, next, fix, vehicle, liters, segmentKm)
		if err != nil {
			return st, domain.Facts{}, Applied, fmt.Errorf("fuel evaluation for %s: %w", fix.DeviceID, err)
		}
		facts.FuelAnomalies = append(facts.FuelAnomalies, found...)
	}

	accepted := fix
	next.LastAccepted = &accepted
	next.MarkApplied(fix.RecordedAt, t.cfg.RecentFixes)
	return next, facts, Applied, nil
}

// Future reports a fix whose clock is implausibly ahead of its receipt.
// Such fixes skip the reorder buffer and go straight to rejection.
func (t *Tracker) Future(fix domain.PositionFix) bool {
	return t.validator.FromFuture(fix)
}

// Tick runs the silence watchdog. It returns st unchanged when nothing
// timed out.
func (t *Tracker) Tick(st *domain.DeviceState, now time.Time) (*domain.DeviceState, domain.Facts) {
	if st.OpenTrip == nil && st.OpenStop == nil {
		return st, domain.Facts{}
	}
	next := st.Clone()
	facts := t.segmenter.Timeout(next, now)
	if !facts.Durable() {
		return st, domain.Facts{}
	}
	for _, trip := range facts.Trips {
		t.fuel.RecordTrip(next, trip)
	}
	next.Version++
	return next, facts
}

func rejectDetail(reason domain.RejectReason, fix domain.PositionFix, prev *domain.PositionFix) string {
	switch reason {
	case domain.RejectLowSatellites:
		return fmt.Sprintf("satellites=%d", fix.Satellites)
	case domain.RejectOutOfRange:
		return fmt.Sprintf("lat=%f lon=%f", fix.Latitude, fix.Longitude)
	case domain.RejectFutureClock:
		return fmt.Sprintf("recorded_at=%s received_at=%s",
			fix.RecordedAt.Format(time.RFC3339), fix.ReceivedAt.Format(time.RFC3339))
	case domain.RejectBirdFlight:
		if prev == nil {
			return ""
		}
		dist := geo.HaversineM(prev.Latitude, prev.Longitude, fix.Latitude, fix.Longitude)
		return fmt.Sprintf("jump=%.0fm in %s implicit_speed=%.0fkph",
			dist, fix.RecordedAt.Sub(prev.RecordedAt), validator.ImplicitSpeedKph(fix, *prev))
	default:
		return ""
	}
}
