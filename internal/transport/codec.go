package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleet-monitor/telematics/internal/domain"
)

// MaxBatch bounds how many fixes one request or message may carry.
const MaxBatch = 1000

var (
	ErrEmptyPayload  = errors.New("empty payload")
	ErrBatchTooLarge = fmt.Errorf("more than %d fixes in one payload", MaxBatch)
)

// PositionMessage is the wire form of a fix. Valid defaults to true when
// the device does not report it; a missing fuel_raw means no fuel sensor.
type PositionMessage struct {
	DeviceID   string    `json:"device_id"`
	RecordedAt time.Time `json:"recorded_at"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	SpeedKph   float64   `json:"speed_kph"`
	CourseDeg  float64   `json:"course_deg"`
	AltitudeM  float64   `json:"altitude_m"`
	IgnitionOn bool      `json:"ignition_on"`
	FuelRaw    *float64  `json:"fuel_raw,omitempty"`
	OdometerKm float64   `json:"odometer_km"`
	Satellites int       `json:"satellites"`
	Valid      *bool     `json:"valid,omitempty"`
}

func (m PositionMessage) Fix() domain.PositionFix {
	valid := true
	if m.Valid != nil {
		valid = *m.Valid
	}
	fuel := 0.0
	if m.FuelRaw != nil {
		fuel = *m.FuelRaw
	}
	return domain.PositionFix{
		DeviceID:   m.DeviceID,
		RecordedAt: m.RecordedAt.UTC(),
		Latitude:   m.Latitude,
		Longitude:  m.Longitude,
		SpeedKph:   m.SpeedKph,
		CourseDeg:  m.CourseDeg,
		AltitudeM:  m.AltitudeM,
		IgnitionOn: m.IgnitionOn,
		FuelRaw:    fuel,
		OdometerKm: m.OdometerKm,
		Satellites: m.Satellites,
		Valid:      valid,

		FuelPresent: m.FuelRaw != nil,
	}
}

// DecodeFixes accepts a single JSON object or an array of them. Range
// checks are left to the validator so bad fixes are recorded, not lost.
func DecodeFixes(data []byte) ([]domain.PositionFix, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}

	var msgs []PositionMessage
	if data[0] == '[' {
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, fmt.Errorf("invalid position batch: %w", err)
		}
	} else {
		var m PositionMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("invalid position: %w", err)
		}
		msgs = append(msgs, m)
	}

	if len(msgs) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(msgs) > MaxBatch {
		return nil, ErrBatchTooLarge
	}

	fixes := make([]domain.PositionFix, 0, len(msgs))
	for i, m := range msgs {
		if m.RecordedAt.IsZero() {
			return nil, fmt.Errorf("position %d: recorded_at is required", i)
		}
		fixes = append(fixes, m.Fix())
	}
	return fixes, nil
}
