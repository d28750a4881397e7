package domain

import (
	"slices"
	"time"
)

type MotionMode string

const (
	Stationary MotionMode = "STATIONARY"
	Moving     MotionMode = "MOVING"
)

// SpeedEpisode tracks one continuous stretch above the effective limit.
type SpeedEpisode struct {
	Active     bool      `json:"active"`
	OverSince  time.Time `json:"over_since"`
	Alerted    bool      `json:"alerted"`
	LimitKph   float64   `json:"limit_kph"`
	GeofenceID string    `json:"geofence_id,omitempty"`
}

type FuelSample struct {
	At         time.Time `json:"at"`
	Liters     float64   `json:"liters"`
	IgnitionOn bool      `json:"ignition_on"`
}

// FuelModel is the per-vehicle consumption model plus the open fuel
// episode, if any.
type FuelModel struct {
	Reference          *FuelSample `json:"reference,omitempty"`
	Previous           *FuelSample `json:"previous,omitempty"`
	DistanceSinceRefKm float64     `json:"distance_since_ref_km"`
	InEpisode          bool        `json:"in_episode"`
	// RecentL100Km holds consumption of the last closed trips, oldest first.
	RecentL100Km []float64 `json:"recent_l_100km,omitempty"`
}

// Rebase makes s the reference sample and clears the distance since it.
func (m *FuelModel) Rebase(s *FuelSample) {
	prev := *s
	m.Reference = s
	m.Previous = &prev
	m.DistanceSinceRefKm = 0
}

// DeviceState is owned by exactly one device worker. Everything the
// per-fix pipeline mutates lives here so a fix can be applied to a clone
// and committed only once its facts are durable.
type DeviceState struct {
	DeviceID  string `json:"device_id"`
	VehicleID string `json:"vehicle_id"`

	LastAccepted *PositionFix `json:"last_accepted,omitempty"`
	// LastProcessedAt is the newest applied fix. Rejected fixes never
	// move it.
	LastProcessedAt time.Time `json:"last_processed_at"`

	Motion   MotionMode   `json:"motion"`
	OpenTrip *Trip        `json:"open_trip,omitempty"`
	OpenStop *VehicleStop `json:"open_stop,omitempty"`
	// BelowSince is the first fix under the motion threshold while moving.
	BelowSince *PositionFix `json:"below_since,omitempty"`
	// TripAtBelow is the open trip as it stood at BelowSince. A hysteresis
	// close emits this snapshot so trailing idle is not billed to the trip.
	TripAtBelow *Trip `json:"trip_at_below,omitempty"`

	Membership map[string]GeofenceMembership `json:"membership"`
	Speed      SpeedEpisode                  `json:"speed"`
	Fuel       FuelModel                     `json:"fuel"`

	// Recent holds the RecordedAt of the last processed fixes, newest last.
	Recent []time.Time `json:"recent,omitempty"`

	LastArrival    time.Time `json:"last_arrival"`
	CheckpointedAt time.Time `json:"checkpointed_at"`
	Version        int64     `json:"version"`
}

func NewDeviceState(deviceID, vehicleID string) *DeviceState {
	return &DeviceState{
		DeviceID:   deviceID,
		VehicleID:  vehicleID,
		Motion:     Stationary,
		Membership: make(map[string]GeofenceMembership),
	}
}

func (s *DeviceState) Clone() *DeviceState {
	out := *s
	if s.LastAccepted != nil {
		f := *s.LastAccepted
		out.LastAccepted = &f
	}
	if s.OpenTrip != nil {
		t := *s.OpenTrip
		out.OpenTrip = &t
	}
	if s.OpenStop != nil {
		st := *s.OpenStop
		out.OpenStop = &st
	}
	if s.BelowSince != nil {
		f := *s.BelowSince
		out.BelowSince = &f
	}
	if s.TripAtBelow != nil {
		t := *s.TripAtBelow
		out.TripAtBelow = &t
	}
	out.Membership = CloneMembership(s.Membership)
	if s.Fuel.Reference != nil {
		r := *s.Fuel.Reference
		out.Fuel.Reference = &r
	}
	if s.Fuel.Previous != nil {
		p := *s.Fuel.Previous
		out.Fuel.Previous = &p
	}
	out.Fuel.RecentL100Km = slices.Clone(s.Fuel.RecentL100Km)
	out.Recent = slices.Clone(s.Recent)
	return &out
}

// Seen reports whether a fix with this timestamp was already processed.
func (s *DeviceState) Seen(at time.Time) bool {
	for _, t := range s.Recent {
		if t.Equal(at) {
			return true
		}
	}
	return false
}

// Remember adds a timestamp to the dedup ring, keeping at most limit
// entries. It does not move LastProcessedAt.
func (s *DeviceState) Remember(at time.Time, limit int) {
	s.Recent = append(s.Recent, at)
	if limit > 0 && len(s.Recent) > limit {
		s.Recent = slices.Clone(s.Recent[len(s.Recent)-limit:])
	}
}

// MarkApplied remembers an applied fix and advances the late-detection
// watermark to it.
func (s *DeviceState) MarkApplied(at time.Time, limit int) {
	s.Remember(at, limit)
	if at.After(s.LastProcessedAt) {
		s.LastProcessedAt = at
	}
}
