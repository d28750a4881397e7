package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFixes_Single(t *testing.T) {
	fixes, err := DecodeFixes([]byte(`{
		"device_id": "dev-1",
		"recorded_at": "2026-03-02T15:04:05+07:00",
		"latitude": -6.2088,
		"longitude": 106.8456,
		"speed_kph": 42.5,
		"ignition_on": true,
		"satellites": 8
	}`))
	require.NoError(t, err)
	require.Len(t, fixes, 1)

	fix := fixes[0]
	assert.Equal(t, "dev-1", fix.DeviceID)
	assert.Equal(t, time.Date(2026, 3, 2, 8, 4, 5, 0, time.UTC), fix.RecordedAt)
	assert.Equal(t, time.UTC, fix.RecordedAt.Location())
	assert.Equal(t, 42.5, fix.SpeedKph)
	assert.True(t, fix.Valid, "valid defaults to true")
}

func TestDecodeFixes_Batch(t *testing.T) {
	fixes, err := DecodeFixes([]byte(` [
		{"device_id": "dev-1", "recorded_at": "2026-03-02T08:00:00Z", "valid": false},
		{"device_id": "dev-1", "recorded_at": "2026-03-02T08:00:10Z"}
	]`))
	require.NoError(t, err)
	require.Len(t, fixes, 2)
	assert.False(t, fixes[0].Valid)
	assert.True(t, fixes[1].Valid)
}

func TestDecodeFixes_FuelPresence(t *testing.T) {
	fixes, err := DecodeFixes([]byte(`[
		{"device_id": "dev-1", "recorded_at": "2026-03-02T08:00:00Z", "fuel_raw": 0},
		{"device_id": "dev-1", "recorded_at": "2026-03-02T08:00:10Z", "fuel_raw": 128},
		{"device_id": "dev-1", "recorded_at": "2026-03-02T08:00:20Z"}
	]`))
	require.NoError(t, err)
	require.Len(t, fixes, 3)

	assert.True(t, fixes[0].HasFuel(), "an empty tank is still a reading")
	assert.Equal(t, 0.0, fixes[0].FuelRaw)
	assert.True(t, fixes[1].HasFuel())
	assert.Equal(t, 128.0, fixes[1].FuelRaw)
	assert.False(t, fixes[2].HasFuel())
}

func TestDecodeFixes_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty", "  "},
		{"empty array", "[]"},
		{"not json", "lat=1"},
		{"missing timestamp", `{"device_id": "dev-1"}`},
		{"bad timestamp", `{"device_id": "dev-1", "recorded_at": "yesterday"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFixes([]byte(tt.payload))
			assert.Error(t, err)
		})
	}
}
