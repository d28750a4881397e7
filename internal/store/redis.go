package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fleet-monitor/telematics/internal/config"
	"fleet-monitor/telematics/internal/domain"
)

const (
	fleetGeoKey          = "fleet:geo"
	fleetTelemetryChan   = "fleet:telemetry"
	fleetAlertsChan      = "fleet:alerts"
	checkpointIndexKey   = "device:checkpoints"
	checkpointKeyPattern = "device:%s:checkpoint"
	vehicleStateKeyFmt   = "vehicle:%s:state"
	deviceAuthKeyFmt     = "device:auth:%s"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client, used by tests.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Client() *redis.Client {
	return r.client
}

// SaveCheckpoint stores the device state as JSON. Checkpoints never expire;
// a device that comes back after weeks still resumes its open trip.
func (r *RedisStore) SaveCheckpoint(ctx context.Context, st *domain.DeviceState) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(checkpointKeyPattern, st.DeviceID), payload, 0)
	pipe.SAdd(ctx, checkpointIndexKey, st.DeviceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis checkpoint failed for %s: %w", st.DeviceID, err)
	}
	return nil
}

// LoadCheckpoint returns nil, nil when the device has no checkpoint.
func (r *RedisStore) LoadCheckpoint(ctx context.Context, deviceID string) (*domain.DeviceState, error) {
	val, err := r.client.Get(ctx, fmt.Sprintf(checkpointKeyPattern, deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get checkpoint failed: %w", err)
	}

	st := &domain.DeviceState{}
	if err := json.Unmarshal(val, st); err != nil {
		return nil, fmt.Errorf("corrupt checkpoint for %s: %w", deviceID, err)
	}
	if st.Membership == nil {
		st.Membership = make(map[string]domain.GeofenceMembership)
	}
	return st, nil
}

// CheckpointedDevices lists every device that has a checkpoint, so the
// watchdog can time out devices that never reconnect after a restart.
func (r *RedisStore) CheckpointedDevices(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, checkpointIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list checkpoints failed: %w", err)
	}
	return ids, nil
}

// PipelineStateUpdate publishes the latest accepted fix of a vehicle for
// live dashboards.
func (r *RedisStore) PipelineStateUpdate(ctx context.Context, st *domain.DeviceState, ttl time.Duration) error {
	if st.LastAccepted == nil {
		return nil
	}
	fix := st.LastAccepted

	tripID := ""
	if st.OpenTrip != nil {
		tripID = st.OpenTrip.ID
	}

	stateData := map[string]interface{}{
		"vehicle_id":  st.VehicleID,
		"device_id":   st.DeviceID,
		"lat":         fix.Latitude,
		"lng":         fix.Longitude,
		"speed_kph":   fix.SpeedKph,
		"course_deg":  fix.CourseDeg,
		"ignition_on": fix.IgnitionOn,
		"motion":      string(st.Motion),
		"trip_id":     tripID,
		"timestamp":   fix.RecordedAt.Unix(),
		"received_at": st.LastArrival.Unix(),
	}

	pubPayload, err := json.Marshal(stateData)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	vehicleStateKey := fmt.Sprintf(vehicleStateKeyFmt, st.VehicleID)

	pipe := r.client.Pipeline()

	pipe.HSet(ctx, vehicleStateKey, stateData)
	pipe.Expire(ctx, vehicleStateKey, ttl)
	pipe.GeoAdd(ctx, fleetGeoKey, &redis.GeoLocation{
		Name:      st.VehicleID,
		Longitude: fix.Longitude,
		Latitude:  fix.Latitude,
	})
	pipe.Publish(ctx, fleetTelemetryChan, pubPayload)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}

	return nil
}

// GetDeviceKey returns the device id registered for an API key, or "" if
// the key is unknown.
func (r *RedisStore) GetDeviceKey(ctx context.Context, apiKey string) (string, error) {
	val, err := r.client.Get(ctx, fmt.Sprintf(deviceAuthKeyFmt, apiKey)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get api key failed: %w", err)
	}
	return val, nil
}

func (r *RedisStore) SetDeviceKey(ctx context.Context, apiKey, deviceID string) error {
	return r.client.Set(ctx, fmt.Sprintf(deviceAuthKeyFmt, apiKey), deviceID, 0).Err()
}

func (r *RedisStore) PublishAlert(ctx context.Context, payload []byte) error {
	return r.client.Publish(ctx, fleetAlertsChan, payload).Err()
}
