package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

var factNamespace = uuid.MustParse("6f1c3a52-8d0e-4b7a-9a61-2f8f5d6c1e47")

// FactID derives a stable id from the parts that identify a fact, so a
// replayed fix produces the same ids and the sink can drop the repeat.
func FactID(kind string, parts ...string) string {
	return uuid.NewSHA1(factNamespace, []byte(kind+"|"+strings.Join(parts, "|"))).String()
}

func TimeKey(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Facts is everything one fix (or one watchdog tick) produced.
type Facts struct {
	Trips          []Trip            `json:"trips,omitempty"`
	Stops          []VehicleStop     `json:"stops,omitempty"`
	GeofenceEvents []GeofenceEvent   `json:"geofence_events,omitempty"`
	SpeedAlerts    []SpeedLimitAlert `json:"speed_alerts,omitempty"`
	FuelAnomalies  []FuelAnomaly     `json:"fuel_anomalies,omitempty"`
	Rejected       []RejectedFix     `json:"rejected,omitempty"`
	Late           []LateFix         `json:"late,omitempty"`
	Waypoints      []Waypoint        `json:"waypoints,omitempty"`
}

// Durable reports whether the bundle holds anything that must reach the
// fact store. Waypoints are written separately.
func (f *Facts) Durable() bool {
	return len(f.Trips) > 0 || len(f.Stops) > 0 || len(f.GeofenceEvents) > 0 ||
		len(f.SpeedAlerts) > 0 || len(f.FuelAnomalies) > 0 ||
		len(f.Rejected) > 0 || len(f.Late) > 0
}

func (f *Facts) Merge(o Facts) {
	f.Trips = append(f.Trips, o.Trips...)
	f.Stops = append(f.Stops, o.Stops...)
	f.GeofenceEvents = append(f.GeofenceEvents, o.GeofenceEvents...)
	f.SpeedAlerts = append(f.SpeedAlerts, o.SpeedAlerts...)
	f.FuelAnomalies = append(f.FuelAnomalies, o.FuelAnomalies...)
	f.Rejected = append(f.Rejected, o.Rejected...)
	f.Late = append(f.Late, o.Late...)
	f.Waypoints = append(f.Waypoints, o.Waypoints...)
}
