package anomaly

import (
	"time"

	"fleet-monitor/telematics/internal/domain"
)

type SpeedConfig struct {
	DefaultLimitKph float64
	MarginKph       float64
	MinDuration     time.Duration
}

type SpeedDetector struct {
	cfg SpeedConfig
}

func NewSpeedDetector(cfg SpeedConfig) *SpeedDetector {
	return &SpeedDetector{cfg: cfg}
}

// EffectiveLimit is the lowest override among the fences containing the
// vehicle, else the vehicle's own limit, else the configured default.
// A zero limit means speed is not checked.
func (d *SpeedDetector) EffectiveLimit(v domain.VehicleConfig, fences []domain.Geofence, inside []string) (float64, string) {
	limit, fenceID := 0.0, ""
	for _, id := range inside {
		for _, g := range fences {
			if g.ID != id || g.SpeedLimitKph <= 0 {
				continue
			}
			if limit == 0 || g.SpeedLimitKph < limit {
				limit, fenceID = g.SpeedLimitKph, g.ID
			}
		}
	}
	if limit > 0 {
		return limit, fenceID
	}
	if v.SpeedLimitKph > 0 {
		return v.SpeedLimitKph, ""
	}
	return d.cfg.DefaultLimitKph, ""
}

// Evaluate emits at most one alert per overspeed episode. The episode
// starts when speed passes limit+margin and ends once speed is back at
// or under the limit; speeds inside the margin neither start nor end it.
func (d *SpeedDetector) Evaluate(
	st *domain.DeviceState,
	fix domain.PositionFix,
	v domain.VehicleConfig,
	fences []domain.Geofence,
	inside []string,
) []domain.SpeedLimitAlert {
	limit, fenceID := d.EffectiveLimit(v, fences, inside)
	ep := &st.Speed

	if limit <= 0 || fix.SpeedKph <= limit {
		*ep = domain.SpeedEpisode{}
		return nil
	}
	if fix.SpeedKph <= limit+d.cfg.MarginKph {
		return nil
	}

	if !ep.Active {
		*ep = domain.SpeedEpisode{Active: true, OverSince: fix.RecordedAt}
	}
	ep.LimitKph = limit
	ep.GeofenceID = fenceID

	if ep.Alerted || fix.RecordedAt.Sub(ep.OverSince) < d.cfg.MinDuration {
		return nil
	}
	ep.Alerted = true

	reason := domain.ReasonSpeedOverLimit
	if fenceID != "" {
		reason = domain.ReasonGeofenceSpeedOverLimit
	}
	alert := domain.SpeedLimitAlert{
		ID:          domain.FactID("speed", fix.DeviceID, domain.TimeKey(fix.RecordedAt)),
		VehicleID:   v.VehicleID,
		DeviceID:    fix.DeviceID,
		DriverID:    v.DriverID,
		Timestamp:   fix.RecordedAt,
		Reason:      reason,
		GeofenceID:  fenceID,
		MeasuredKph: fix.SpeedKph,
		LimitKph:    limit,
		MarginKph:   d.cfg.MarginKph,
		Since:       ep.OverSince,
		Latitude:    fix.Latitude,
		Longitude:   fix.Longitude,
	}
	if st.OpenTrip != nil {
		alert.TripID = st.OpenTrip.ID
		st.OpenTrip.OverspeedingCount++
	}
	return []domain.SpeedLimitAlert{alert}
}
