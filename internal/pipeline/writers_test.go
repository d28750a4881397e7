package pipeline

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/metrics"
	"fleet-monitor/telematics/internal/retry"
)

type fakeWaypointStore struct {
	mu      sync.Mutex
	batches [][]domain.Waypoint
	err     error
}

func (s *fakeWaypointStore) InsertWaypoints(_ context.Context, wps []domain.Waypoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, slices.Clone(wps))
	return nil
}

func (s *fakeWaypointStore) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func waypoints(n int) []domain.Waypoint {
	out := make([]domain.Waypoint, n)
	for i := range out {
		out[i] = domain.Waypoint{TripID: "trip-1", RecordedAt: t0.Add(time.Duration(i) * time.Second)}
	}
	return out
}

func TestWaypointWriter_BatchesBySize(t *testing.T) {
	store := &fakeWaypointStore{}
	retrier := retry.New(retry.Config{MaxAttempts: 1}, zap.NewNop())
	w := NewWaypointWriter(store, retrier, 100, 5, 60_000, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	w.Enqueue(waypoints(12))
	require.Eventually(t, func() bool { return store.total() >= 10 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, 12, store.total(), "remaining points are flushed on shutdown")
	assert.Len(t, store.batches[0], 5)
}

func TestWaypointWriter_DropsWhenFull(t *testing.T) {
	store := &fakeWaypointStore{}
	w := NewWaypointWriter(store, retry.New(retry.Config{}, zap.NewNop()), 3, 10, 1000, zap.NewNop())

	before := metrics.WaypointChannelDrops.Load()
	w.Enqueue(waypoints(5))
	assert.Equal(t, before+2, metrics.WaypointChannelDrops.Load())
}

func TestWaypointWriter_CountsFailedBatches(t *testing.T) {
	store := &fakeWaypointStore{err: errors.New("copy failed")}
	w := NewWaypointWriter(store, retry.New(retry.Config{MaxAttempts: 1}, zap.NewNop()), 10, 10, 1000, zap.NewNop())

	before := metrics.WaypointWriteFailures.Load()
	w.flush(context.Background(), waypoints(4))
	assert.Equal(t, before+4, metrics.WaypointWriteFailures.Load())
}

type fakeLiveState struct {
	mu      sync.Mutex
	updates []*domain.DeviceState
}

func (f *fakeLiveState) PipelineStateUpdate(_ context.Context, st *domain.DeviceState, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, st)
	return nil
}

func TestStateWriter_KeepsNewestPerDevice(t *testing.T) {
	live := &fakeLiveState{}
	w := NewStateWriter(live, 10, time.Hour, zap.NewNop())

	a1 := domain.NewDeviceState("dev-a", "veh-a")
	a2 := a1.Clone()
	a2.Version = 2
	b1 := domain.NewDeviceState("dev-b", "veh-b")

	w.flushBatch(context.Background(), []*domain.DeviceState{a1, b1, a2})

	require.Len(t, live.updates, 2)
	assert.Equal(t, "dev-a", live.updates[0].DeviceID)
	assert.Equal(t, int64(2), live.updates[0].Version)
	assert.Equal(t, "dev-b", live.updates[1].DeviceID)
}

func TestStateWriter_RunFlushesOnTicker(t *testing.T) {
	live := &fakeLiveState{}
	w := NewStateWriter(live, 10, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Enqueue(domain.NewDeviceState("dev-a", "veh-a"))
	require.Eventually(t, func() bool {
		live.mu.Lock()
		defer live.mu.Unlock()
		return len(live.updates) == 1
	}, time.Second, 10*time.Millisecond)
}
