package domain

import (
	"sort"
	"time"
)

type GeofenceShape string

const (
	ShapeCircle  GeofenceShape = "CIRCLE"
	ShapePolygon GeofenceShape = "POLYGON"
)

type LatLon struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

type Geofence struct {
	ID      string        `json:"id" yaml:"id"`
	Name    string        `json:"name" yaml:"name"`
	Shape   GeofenceShape `json:"shape" yaml:"shape"`
	Center  LatLon        `json:"center" yaml:"center"`
	RadiusM float64       `json:"radius_m" yaml:"radius_m"`
	Polygon []LatLon      `json:"polygon,omitempty" yaml:"polygon"`

	AlertOnEntry                bool    `json:"alert_on_entry" yaml:"alert_on_entry"`
	AlertOnExit                 bool    `json:"alert_on_exit" yaml:"alert_on_exit"`
	NotificationCooldownMinutes int     `json:"notification_cooldown_minutes" yaml:"notification_cooldown_minutes"`
	MaxStayDurationMinutes      int     `json:"max_stay_duration_minutes" yaml:"max_stay_duration_minutes"`
	SpeedLimitKph               float64 `json:"speed_limit_kph" yaml:"speed_limit_kph"`
}

func (g Geofence) Cooldown() time.Duration {
	return time.Duration(g.NotificationCooldownMinutes) * time.Minute
}

func (g Geofence) MaxStay() time.Duration {
	return time.Duration(g.MaxStayDurationMinutes) * time.Minute
}

type GeofenceEventType string

const (
	GeofenceEntry    GeofenceEventType = "ENTRY"
	GeofenceExit     GeofenceEventType = "EXIT"
	GeofenceOverstay GeofenceEventType = "OVERSTAY"
)

type GeofenceEvent struct {
	ID         string            `json:"id"`
	GeofenceID string            `json:"geofence_id"`
	VehicleID  string            `json:"vehicle_id"`
	DeviceID   string            `json:"device_id"`
	Type       GeofenceEventType `json:"type"`
	Timestamp  time.Time         `json:"timestamp"`
	SpeedKph   float64           `json:"speed_kph"`
	Latitude   float64           `json:"latitude"`
	Longitude  float64           `json:"longitude"`

	// Set on EXIT and OVERSTAY only.
	DurationInsideSeconds *int64 `json:"duration_inside_seconds,omitempty"`

	// Notify is false when the fence does not alert on this transition
	// or the notification cooldown is still running.
	Notify bool `json:"notify"`
}

// GeofenceMembership is the per-device view of one geofence.
type GeofenceMembership struct {
	Inside          bool                            `json:"inside"`
	EnteredAt       time.Time                       `json:"entered_at"`
	LastNotifiedAt  map[GeofenceEventType]time.Time `json:"last_notified_at,omitempty"`
	OverstayEmitted bool                            `json:"overstay_emitted"`
}

func (m GeofenceMembership) clone() GeofenceMembership {
	out := m
	if m.LastNotifiedAt != nil {
		out.LastNotifiedAt = make(map[GeofenceEventType]time.Time, len(m.LastNotifiedAt))
		for k, v := range m.LastNotifiedAt {
			out.LastNotifiedAt[k] = v
		}
	}
	return out
}

// CloneMembership deep-copies a membership map.
func CloneMembership(in map[string]GeofenceMembership) map[string]GeofenceMembership {
	out := make(map[string]GeofenceMembership, len(in))
	for id, m := range in {
		out[id] = m.clone()
	}
	return out
}

// InsideIDs returns the ids of the geofences the device is currently inside, sorted.
func InsideIDs(membership map[string]GeofenceMembership) []string {
	ids := make([]string, 0, len(membership))
	for id, m := range membership {
		if m.Inside {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
