package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/metrics"
	"fleet-monitor/telematics/internal/retry"
)

type WaypointStore interface {
	InsertWaypoints(ctx context.Context, wps []domain.Waypoint) error
}

// WaypointWriter batches trip trail points into COPY inserts. Trails are
// cosmetic, so a full channel drops points instead of slowing devices.
type WaypointWriter struct {
	ch        chan domain.Waypoint
	db        WaypointStore
	retrier   *retry.Retrier
	batchSize int
	flushMS   int
	log       *zap.Logger
}

func NewWaypointWriter(
	db WaypointStore,
	retrier *retry.Retrier,
	channelSize int,
	batchSize int,
	flushMS int,
	log *zap.Logger,
) *WaypointWriter {
	return &WaypointWriter{
		ch:        make(chan domain.Waypoint, channelSize),
		db:        db,
		retrier:   retrier,
		batchSize: batchSize,
		flushMS:   flushMS,
		log:       log,
	}
}

func (w *WaypointWriter) Enqueue(wps []domain.Waypoint) {
	for _, wp := range wps {
		select {
		case w.ch <- wp:
		default:
			metrics.WaypointChannelDrops.Add(1)
		}
	}
}

func (w *WaypointWriter) Run(ctx context.Context) {
	batch := make([]domain.Waypoint, 0, w.batchSize)
	ticker := time.NewTicker(time.Duration(w.flushMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case wp := <-w.ch:
			batch = append(batch, wp)
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			batch = w.drain(batch)
			if len(batch) > 0 {
				w.flush(context.WithoutCancel(ctx), batch)
			}
			return
		}
	}
}

func (w *WaypointWriter) drain(batch []domain.Waypoint) []domain.Waypoint {
	for {
		select {
		case wp := <-w.ch:
			batch = append(batch, wp)
		default:
			return batch
		}
	}
}

func (w *WaypointWriter) flush(ctx context.Context, batch []domain.Waypoint) {
	err := w.retrier.Do(ctx, "insert waypoints", func(ctx context.Context) error {
		return w.db.InsertWaypoints(ctx, batch)
	})
	if err != nil {
		w.log.Error("waypoint write permanently failed", zap.Int("batch", len(batch)), zap.Error(err))
		metrics.WaypointWriteFailures.Add(int64(len(batch)))
		return
	}
	metrics.WaypointWriteSuccess.Add(int64(len(batch)))
}
