package validator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fleet-monitor/telematics/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		MinSatellites:       4,
		MaxImplicitSpeedKph: 250,
		DriftRadiusM:        15,
		MotionThresholdKph:  5,
	}
}

func fixAt(offset time.Duration, lat, lon float64) domain.PositionFix {
	return domain.PositionFix{
		DeviceID:   "dev-1",
		RecordedAt: t0.Add(offset),
		Latitude:   lat,
		Longitude:  lon,
		Satellites: 9,
		Valid:      true,
	}
}

func TestValidate(t *testing.T) {
	last := fixAt(0, -6.2, 106.8)

	tests := []struct {
		name       string
		cfg        func(*Config)
		fix        domain.PositionFix
		last       *domain.PositionFix
		wantOK     bool
		wantReason domain.RejectReason
	}{
		{
			name:   "first fix accepted",
			fix:    fixAt(0, -6.2, 106.8),
			wantOK: true,
		},
		{
			name:   "plausible move accepted",
			fix:    fixAt(10*time.Second, -6.2009, 106.8),
			last:   &last,
			wantOK: true,
		},
		{
			name:       "missing device",
			fix:        domain.PositionFix{RecordedAt: t0, Satellites: 9},
			wantReason: domain.RejectMissingDevice,
		},
		{
			name:       "latitude out of range",
			fix:        fixAt(0, 91, 10),
			wantReason: domain.RejectOutOfRange,
		},
		{
			name:       "longitude out of range",
			fix:        fixAt(0, 10, -181),
			wantReason: domain.RejectOutOfRange,
		},
		{
			name:       "nan coordinate",
			fix:        fixAt(0, math.NaN(), 10),
			wantReason: domain.RejectOutOfRange,
		},
		{
			name: "too few satellites",
			fix: func() domain.PositionFix {
				f := fixAt(0, -6.2, 106.8)
				f.Satellites = 2
				return f
			}(),
			wantReason: domain.RejectLowSatellites,
		},
		{
			name: "device invalid flag ignored by default",
			fix: func() domain.PositionFix {
				f := fixAt(0, -6.2, 106.8)
				f.Valid = false
				return f
			}(),
			wantOK: true,
		},
		{
			name: "device invalid flag enforced",
			cfg:  func(c *Config) { c.RejectDeviceInvalid = true },
			fix: func() domain.PositionFix {
				f := fixAt(0, -6.2, 106.8)
				f.Valid = false
				return f
			}(),
			wantReason: domain.RejectDeviceInvalid,
		},
		{
			name:       "same clock but moved",
			fix:        fixAt(0, -6.21, 106.8),
			last:       &last,
			wantReason: domain.RejectBirdFlight,
		},
		{
			name: "clock far ahead of receipt",
			cfg:  func(c *Config) { c.MaxFutureSkew = 10 * time.Minute },
			fix: func() domain.PositionFix {
				f := fixAt(365*24*time.Hour, -6.2, 106.8)
				f.ReceivedAt = t0
				return f
			}(),
			wantReason: domain.RejectFutureClock,
		},
		{
			name: "clock ahead within skew",
			cfg:  func(c *Config) { c.MaxFutureSkew = 10 * time.Minute },
			fix: func() domain.PositionFix {
				f := fixAt(5*time.Minute, -6.2, 106.8)
				f.ReceivedAt = t0
				return f
			}(),
			wantOK: true,
		},
		{
			name:   "same clock within drift",
			fix:    fixAt(0, -6.20005, 106.8),
			last:   &last,
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			ok, reason := New(cfg).Validate(tt.fix, tt.last)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

// Two fixes one second apart but 50 km apart: the second is a bad fix.
func TestValidate_BirdFlight(t *testing.T) {
	v := New(testConfig())
	last := fixAt(0, -6.2, 106.8)
	// 0.45 degrees of latitude is ~50 km.
	jump := fixAt(time.Second, -6.65, 106.8)

	ok, reason := v.Validate(jump, &last)
	assert.False(t, ok)
	assert.Equal(t, domain.RejectBirdFlight, reason)
	assert.Greater(t, ImplicitSpeedKph(jump, last), 100000.0)
}

func TestIsDrift(t *testing.T) {
	v := New(testConfig())
	last := fixAt(0, -6.2, 106.8)

	still := fixAt(30*time.Second, -6.20005, 106.8)
	assert.True(t, v.IsDrift(still, &last))

	moving := still
	moving.SpeedKph = 20
	assert.False(t, v.IsDrift(moving, &last))

	away := fixAt(30*time.Second, -6.201, 106.8)
	assert.False(t, v.IsDrift(away, &last))

	assert.False(t, v.IsDrift(still, nil))
}

func TestFromFuture(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFutureSkew = time.Minute
	v := New(cfg)

	ahead := fixAt(2*time.Minute, -6.2, 106.8)
	ahead.ReceivedAt = t0
	assert.True(t, v.FromFuture(ahead))

	// no receipt time, nothing to compare against
	ahead.ReceivedAt = time.Time{}
	assert.False(t, v.FromFuture(ahead))

	ahead.ReceivedAt = t0
	assert.False(t, New(testConfig()).FromFuture(ahead), "disabled without a skew bound")
}
