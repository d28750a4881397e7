package domain

import (
	"sort"
	"time"
)

type FuelSensorMode string

const (
	FuelRaw255    FuelSensorMode = "RAW_255"
	FuelPercent   FuelSensorMode = "PERCENT"
	FuelLiters    FuelSensorMode = "LITERS"
	FuelHalfLiter FuelSensorMode = "HALF_LITER"
)

// VehicleConfig is owned by the fleet administration store. The engine
// only reads it.
type VehicleConfig struct {
	DeviceID           string         `json:"device_id" yaml:"device_id"`
	VehicleID          string         `json:"vehicle_id" yaml:"vehicle_id"`
	DriverID           *string        `json:"driver_id,omitempty" yaml:"driver_id"`
	SpeedLimitKph      float64        `json:"speed_limit_kph" yaml:"speed_limit_kph"`
	FuelSensorMode     FuelSensorMode `json:"fuel_sensor_mode" yaml:"fuel_sensor_mode"`
	TankCapacityLiters float64        `json:"tank_capacity_liters" yaml:"tank_capacity_liters"`
	ExpectedL100Km     float64        `json:"expected_l_100km" yaml:"expected_l_100km"`
	GeofenceIDs        []string       `json:"geofence_ids" yaml:"geofence_ids"`
}

// FleetSnapshot is an immutable view of fleet configuration. Readers hold
// a pointer to one snapshot for the duration of a fix.
type FleetSnapshot struct {
	Vehicles  map[string]VehicleConfig `json:"vehicles"`
	Geofences map[string]Geofence      `json:"geofences"`
	LoadedAt  time.Time                `json:"loaded_at"`
}

func EmptySnapshot() *FleetSnapshot {
	return &FleetSnapshot{
		Vehicles:  map[string]VehicleConfig{},
		Geofences: map[string]Geofence{},
	}
}

// Vehicle returns the configuration for a device. Unknown devices get a
// config keyed by the device id with no limits.
func (s *FleetSnapshot) Vehicle(deviceID string) (VehicleConfig, bool) {
	if s != nil {
		if v, ok := s.Vehicles[deviceID]; ok {
			return v, true
		}
	}
	return VehicleConfig{DeviceID: deviceID, VehicleID: deviceID}, false
}

// GeofencesFor returns the geofences assigned to a vehicle ordered by id.
func (s *FleetSnapshot) GeofencesFor(v VehicleConfig) []Geofence {
	if s == nil || len(v.GeofenceIDs) == 0 {
		return nil
	}
	out := make([]Geofence, 0, len(v.GeofenceIDs))
	for _, id := range v.GeofenceIDs {
		if g, ok := s.Geofences[id]; ok {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
