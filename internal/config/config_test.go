package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8001", cfg.HTTPPort)
	assert.Equal(t, 90*time.Second, cfg.StopHysteresis)
	assert.Equal(t, 2*time.Hour, cfg.SilenceTimeout)
	assert.Equal(t, 30*time.Second, cfg.MaxLateness)
	assert.Equal(t, 5.0, cfg.MotionThresholdKph)
	assert.Equal(t, "fleet/device/+/position", cfg.MQTTTopic)
	assert.Equal(t, "fleet.events", cfg.AMQPExchange)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STOP_HYSTERESIS", "2m")
	t.Setenv("SILENCE_TIMEOUT", "600")
	t.Setenv("MAX_IMPLICIT_SPEED_KPH", "180.5")
	t.Setenv("REJECT_DEVICE_INVALID", "true")
	t.Setenv("ROUTER_SHARDS", "not-a-number")
	t.Setenv("VALID_API_KEYS", "a,b")

	cfg := Load()

	assert.Equal(t, 2*time.Minute, cfg.StopHysteresis)
	assert.Equal(t, 10*time.Minute, cfg.SilenceTimeout)
	assert.Equal(t, 180.5, cfg.MaxImplicitSpeedKph)
	assert.True(t, cfg.RejectDeviceInvalid)
	assert.Equal(t, 16, cfg.RouterShards)
	assert.Equal(t, []string{"a", "b"}, cfg.ValidAPIKeys)
}

func TestDatabaseURL(t *testing.T) {
	cfg := &Config{DBUser: "u", DBPassword: "p", DBHost: "db", DBPort: "5432", DBName: "fleet", DBMaxConns: 7}
	assert.Equal(t, "postgres://u:p@db:5432/fleet?pool_max_conns=7", cfg.DatabaseURL())
}
