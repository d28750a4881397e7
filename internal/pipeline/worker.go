package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/metrics"
	"fleet-monitor/telematics/internal/tracker"
)

// deviceWorker is the only goroutine that touches its device's state.
type deviceWorker struct {
	deviceID string
	in       chan domain.PositionFix

	// mu guards retired and every send on in, so in is never written
	// after the worker has stopped reading it.
	mu      sync.RWMutex
	retired bool

	e            *Engine
	log          *zap.Logger
	state        *domain.DeviceState
	buf          *ReorderBuffer
	dirty        bool
	lastActivity time.Time
}

func (w *deviceWorker) offer(fix domain.PositionFix, timeout time.Duration) (sent, retired bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.retired {
		return false, true
	}

	select {
	case w.in <- fix:
		return true, false
	default:
	}
	if timeout <= 0 {
		return false, false
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case w.in <- fix:
		return true, false
	case <-t.C:
		return false, false
	}
}

// stop closes the input so run drains and exits.
func (w *deviceWorker) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.retired {
		w.retired = true
		close(w.in)
	}
}

// tryRetire detaches an idle worker. It fails if fixes are queued.
func (w *deviceWorker) tryRetire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.retired || len(w.in) > 0 {
		return false
	}
	w.retired = true
	w.e.router.remove(w)
	return true
}

func (w *deviceWorker) run(ctx context.Context) {
	defer w.e.wg.Done()

	w.restore(ctx)
	w.lastActivity = w.e.now()

	checkpoint := time.NewTicker(w.e.cfg.CheckpointInterval)
	defer checkpoint.Stop()
	watchdog := time.NewTicker(w.e.cfg.WatchdogInterval)
	defer watchdog.Stop()
	reorder := time.NewTimer(time.Hour)
	reorder.Stop()
	defer reorder.Stop()

	for {
		var reorderC <-chan time.Time
		if deadline, ok := w.buf.NextDeadline(); ok {
			reorder.Reset(max(deadline.Sub(w.e.now()), 0))
			reorderC = reorder.C
		}

		select {
		case fix, ok := <-w.in:
			if !ok {
				w.flush(ctx)
				return
			}
			w.accept(ctx, fix)

		case <-reorderC:
			w.release(ctx)

		case <-checkpoint.C:
			w.checkpoint(ctx)

		case <-watchdog.C:
			w.tick(ctx)
			if w.idle() {
				// the successor restores from this checkpoint, so it
				// must be durable before the worker detaches
				if !w.checkpoint(ctx) {
					break
				}
				if w.tryRetire() {
					w.log.Debug("device worker retired")
					return
				}
			}
		}
	}
}

func (w *deviceWorker) restore(ctx context.Context) {
	var st *domain.DeviceState
	err := w.e.retrier.Do(ctx, "load checkpoint", func(ctx context.Context) error {
		var err error
		st, err = w.e.checkpoints.LoadCheckpoint(ctx, w.deviceID)
		return err
	})
	if err != nil {
		w.log.Error("checkpoint unavailable, starting from empty state", zap.Error(err))
	}
	if st == nil {
		vehicle, _ := w.e.fleet.Snapshot().Vehicle(w.deviceID)
		st = domain.NewDeviceState(w.deviceID, vehicle.VehicleID)
	} else {
		w.log.Info("device state restored",
			zap.Int64("version", st.Version),
			zap.String("motion", string(st.Motion)))
	}
	w.state = st
	w.e.open.Update(st)
}

func (w *deviceWorker) accept(ctx context.Context, fix domain.PositionFix) {
	w.lastActivity = w.e.now()
	// a future clock would drag the buffer's watermark ahead with it
	if w.e.tracker.Future(fix) || !w.buf.Push(fix, fix.ReceivedAt) {
		w.handle(ctx, fix)
		return
	}
	w.release(ctx)
}

func (w *deviceWorker) release(ctx context.Context) {
	for _, fix := range w.buf.Ready(w.e.now()) {
		w.handle(ctx, fix)
	}
}

// handle runs one fix. The new state is committed only after its facts
// are durable; otherwise the fix is counted as failed and dropped.
func (w *deviceWorker) handle(ctx context.Context, fix domain.PositionFix) {
	next, facts, outcome, err := w.e.tracker.Process(ctx, w.state, fix, w.e.fleet.Snapshot(), fix.ReceivedAt)
	if err != nil {
		metrics.FixesFailed.Add(1)
		w.log.Error("fix processing failed", zap.Time("recorded_at", fix.RecordedAt), zap.Error(err))
		return
	}
	if outcome == tracker.Duplicate {
		metrics.FixesDuplicate.Add(1)
		return
	}

	if err := w.e.publisher.Publish(ctx, facts); err != nil {
		metrics.FixesFailed.Add(1)
		w.log.Error("facts not persisted, fix discarded",
			zap.Time("recorded_at", fix.RecordedAt),
			zap.String("outcome", string(outcome)),
			zap.Error(err))
		return
	}
	w.commit(next)

	switch outcome {
	case tracker.Applied:
		metrics.FixesAccepted.Add(1)
		if w.e.state != nil {
			w.e.state.Enqueue(next)
		}
	case tracker.Rejected:
		metrics.FixesRejected.Add(1)
	case tracker.Late:
		metrics.FixesLate.Add(1)
	}
}

func (w *deviceWorker) tick(ctx context.Context) {
	next, facts := w.e.tracker.Tick(w.state, w.e.now())
	if next == w.state {
		return
	}
	if err := w.e.publisher.Publish(ctx, facts); err != nil {
		w.log.Error("timeout facts not persisted", zap.Error(err))
		return
	}
	w.log.Info("device silent, open segments timed out",
		zap.Int("trips", len(facts.Trips)),
		zap.Int("stops", len(facts.Stops)))
	w.commit(next)
}

func (w *deviceWorker) commit(next *domain.DeviceState) {
	w.state = next
	w.dirty = true
	w.e.open.Update(next)
}

// checkpoint reports whether the stored checkpoint matches the current
// state afterwards.
func (w *deviceWorker) checkpoint(ctx context.Context) bool {
	if !w.dirty {
		return true
	}
	st := w.state.Clone()
	st.CheckpointedAt = w.e.now()
	if err := w.e.checkpoints.SaveCheckpoint(ctx, st); err != nil {
		metrics.CheckpointFailures.Add(1)
		w.log.Warn("checkpoint failed", zap.Error(err))
		return false
	}
	metrics.Checkpoints.Add(1)
	w.dirty = false
	return true
}

func (w *deviceWorker) idle() bool {
	if w.e.cfg.IdleEviction <= 0 {
		return false
	}
	return w.state.OpenTrip == nil && w.state.OpenStop == nil && w.buf.Len() == 0 &&
		w.e.now().Sub(w.lastActivity) >= w.e.cfg.IdleEviction
}

// flush applies whatever is still buffered and writes a final checkpoint.
func (w *deviceWorker) flush(ctx context.Context) {
	for _, fix := range w.buf.Drain() {
		w.handle(ctx, fix)
	}
	w.checkpoint(ctx)
}
