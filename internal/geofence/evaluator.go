package geofence

import (
	"time"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/geo"
)

// Containing returns the ids of the fences that contain the fix, in the
// order the fences were given.
func Containing(fix domain.PositionFix, fences []domain.Geofence) []string {
	var ids []string
	for _, g := range fences {
		if geo.Contains(g, fix.Latitude, fix.Longitude) {
			ids = append(ids, g.ID)
		}
	}
	return ids
}

// Evaluate compares the fix against every assigned fence and returns the
// transition events plus the updated membership. The input map is not
// modified. Membership of fences no longer assigned to the vehicle is
// dropped without an exit.
//
// ENTRY and EXIT are always emitted on a membership change so the pair
// strictly alternates; the fence alert flags and the per-type cooldown
// only decide whether the event is marked for notification.
func Evaluate(
	fix domain.PositionFix,
	vehicleID string,
	fences []domain.Geofence,
	membership map[string]domain.GeofenceMembership,
) ([]domain.GeofenceEvent, map[string]domain.GeofenceMembership) {
	now := fix.RecordedAt
	next := make(map[string]domain.GeofenceMembership, len(fences))
	var events []domain.GeofenceEvent

	for _, g := range fences {
		m := membership[g.ID]
		m.LastNotifiedAt = cloneNotified(m.LastNotifiedAt)
		inside := geo.Contains(g, fix.Latitude, fix.Longitude)

		switch {
		case inside && !m.Inside:
			m.Inside = true
			m.EnteredAt = now
			m.OverstayEmitted = false
			ev := newEvent(fix, vehicleID, g.ID, domain.GeofenceEntry)
			ev.Notify = g.AlertOnEntry && notifyDue(&m, domain.GeofenceEntry, g.Cooldown(), now)
			events = append(events, ev)

		case !inside && m.Inside:
			dwell := dwellSeconds(m.EnteredAt, now)
			m.Inside = false
			m.EnteredAt = time.Time{}
			m.OverstayEmitted = false
			ev := newEvent(fix, vehicleID, g.ID, domain.GeofenceExit)
			ev.DurationInsideSeconds = &dwell
			ev.Notify = g.AlertOnExit && notifyDue(&m, domain.GeofenceExit, g.Cooldown(), now)
			events = append(events, ev)

		case inside && m.Inside:
			if g.MaxStay() > 0 && !m.OverstayEmitted && now.Sub(m.EnteredAt) > g.MaxStay() {
				dwell := dwellSeconds(m.EnteredAt, now)
				m.OverstayEmitted = true
				ev := newEvent(fix, vehicleID, g.ID, domain.GeofenceOverstay)
				ev.DurationInsideSeconds = &dwell
				ev.Notify = notifyDue(&m, domain.GeofenceOverstay, g.Cooldown(), now)
				events = append(events, ev)
			}
		}

		if m.Inside || len(m.LastNotifiedAt) > 0 {
			next[g.ID] = m
		}
	}

	return events, next
}

// notifyDue reports whether the cooldown for this transition type has
// run out, and if so starts a new one.
func notifyDue(m *domain.GeofenceMembership, typ domain.GeofenceEventType, cooldown time.Duration, now time.Time) bool {
	if last, ok := m.LastNotifiedAt[typ]; ok && now.Sub(last) < cooldown {
		return false
	}
	if m.LastNotifiedAt == nil {
		m.LastNotifiedAt = make(map[domain.GeofenceEventType]time.Time, 3)
	}
	m.LastNotifiedAt[typ] = now
	return true
}

func newEvent(fix domain.PositionFix, vehicleID, geofenceID string, typ domain.GeofenceEventType) domain.GeofenceEvent {
	return domain.GeofenceEvent{
		ID:         domain.FactID("geofence", fix.DeviceID, geofenceID, string(typ), domain.TimeKey(fix.RecordedAt)),
		GeofenceID: geofenceID,
		VehicleID:  vehicleID,
		DeviceID:   fix.DeviceID,
		Type:       typ,
		Timestamp:  fix.RecordedAt,
		SpeedKph:   fix.SpeedKph,
		Latitude:   fix.Latitude,
		Longitude:  fix.Longitude,
	}
}

func dwellSeconds(enteredAt, now time.Time) int64 {
	d := int64(now.Sub(enteredAt) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}

func cloneNotified(in map[domain.GeofenceEventType]time.Time) map[domain.GeofenceEventType]time.Time {
	if in == nil {
		return nil
	}
	out := make(map[domain.GeofenceEventType]time.Time, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
