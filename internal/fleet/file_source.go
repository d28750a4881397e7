package fleet

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"fleet-monitor/telematics/internal/domain"
)

type fileFleet struct {
	Vehicles  []domain.VehicleConfig `yaml:"vehicles"`
	Geofences []domain.Geofence      `yaml:"geofences"`
}

// FileSource reads fleet configuration from a YAML file, for development
// setups without the administration database.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) LoadFleet(ctx context.Context) (*domain.FleetSnapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet file: %w", err)
	}
	return ParseYAML(data)
}

func ParseYAML(data []byte) (*domain.FleetSnapshot, error) {
	var f fileFleet
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fleet file: %w", err)
	}

	snap := domain.EmptySnapshot()
	for _, g := range f.Geofences {
		if g.ID == "" {
			return nil, fmt.Errorf("geofence without id")
		}
		if g.Shape == "" {
			g.Shape = domain.ShapeCircle
		}
		if g.Shape == domain.ShapePolygon && len(g.Polygon) < 3 {
			return nil, fmt.Errorf("geofence %s: polygon needs at least 3 points", g.ID)
		}
		snap.Geofences[g.ID] = g
	}
	for _, v := range f.Vehicles {
		if v.DeviceID == "" {
			return nil, fmt.Errorf("vehicle %q without device_id", v.VehicleID)
		}
		if v.VehicleID == "" {
			v.VehicleID = v.DeviceID
		}
		if v.FuelSensorMode == "" {
			v.FuelSensorMode = domain.FuelRaw255
		}
		snap.Vehicles[v.DeviceID] = v
	}
	return snap, nil
}
