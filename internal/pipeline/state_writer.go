package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/metrics"
)

type LiveStateStore interface {
	PipelineStateUpdate(ctx context.Context, st *domain.DeviceState, ttl time.Duration) error
}

// StateWriter mirrors committed device state into Redis for dashboards.
// Committed states are never mutated again, so they are shared by pointer.
type StateWriter struct {
	ch    chan *domain.DeviceState
	redis LiveStateStore
	ttl   time.Duration
	log   *zap.Logger
}

func NewStateWriter(redis LiveStateStore, channelSize int, ttl time.Duration, log *zap.Logger) *StateWriter {
	return &StateWriter{
		ch:    make(chan *domain.DeviceState, channelSize),
		redis: redis,
		ttl:   ttl,
		log:   log,
	}
}

func (w *StateWriter) Enqueue(st *domain.DeviceState) {
	select {
	case w.ch <- st:
	default:
		metrics.StateChannelDrops.Add(1)
	}
}

func (w *StateWriter) Run(ctx context.Context) {
	batch := make([]*domain.DeviceState, 0, 100) // Redis is fast, fixed batch fine
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case st := <-w.ch:
			batch = append(batch, st)
			if len(batch) >= 100 {
				w.flushBatch(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flushBatch(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			return
		}
	}
}

// flushBatch writes only the newest state per vehicle in the batch.
func (w *StateWriter) flushBatch(ctx context.Context, batch []*domain.DeviceState) {
	latest := make(map[string]*domain.DeviceState, len(batch))
	order := make([]string, 0, len(batch))
	for _, st := range batch {
		if _, ok := latest[st.DeviceID]; !ok {
			order = append(order, st.DeviceID)
		}
		latest[st.DeviceID] = st
	}
	for _, id := range order {
		st := latest[id]
		if err := w.redis.PipelineStateUpdate(ctx, st, w.ttl); err != nil {
			w.log.Warn("redis state update failed", zap.String("vehicle_id", st.VehicleID), zap.Error(err))
		}
	}
}
