package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/metrics"
	"fleet-monitor/telematics/internal/retry"
	"fleet-monitor/telematics/internal/tracker"
)

type Config struct {
	Shards             int
	QueueSize          int
	IngestTimeout      time.Duration
	MaxLateness        time.Duration
	MaxBuffered        int
	CheckpointInterval time.Duration
	WatchdogInterval   time.Duration
	// IdleEviction retires workers of devices with nothing open that have
	// been quiet this long. Zero keeps workers forever.
	IdleEviction time.Duration
}

type SnapshotSource interface {
	Snapshot() *domain.FleetSnapshot
}

type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, st *domain.DeviceState) error
	LoadCheckpoint(ctx context.Context, deviceID string) (*domain.DeviceState, error)
	CheckpointedDevices(ctx context.Context) ([]string, error)
}

// Engine accepts fixes from any number of producers and runs them through
// one worker goroutine per device.
type Engine struct {
	cfg         Config
	tracker     *tracker.Tracker
	fleet       SnapshotSource
	checkpoints CheckpointStore
	publisher   *Publisher
	state       *StateWriter
	open        *OpenTrips
	retrier     *retry.Retrier
	log         *zap.Logger

	router  *Router
	wg      sync.WaitGroup
	workCtx context.Context
	cancel  context.CancelFunc
	now     func() time.Time
}

func NewEngine(
	cfg Config,
	tr *tracker.Tracker,
	fleet SnapshotSource,
	checkpoints CheckpointStore,
	publisher *Publisher,
	state *StateWriter,
	open *OpenTrips,
	retrier *retry.Retrier,
	log *zap.Logger,
) *Engine {
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = 30 * time.Second
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = time.Minute
	}
	if open == nil {
		open = &OpenTrips{}
	}

	// Workers outlive the caller's context so shutdown can still flush.
	workCtx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:         cfg,
		tracker:     tr,
		fleet:       fleet,
		checkpoints: checkpoints,
		publisher:   publisher,
		state:       state,
		open:        open,
		retrier:     retrier,
		log:         log,
		workCtx:     workCtx,
		cancel:      cancel,
		now:         time.Now,
	}
	e.router = NewRouter(cfg.Shards, cfg.IngestTimeout, e.spawn)
	return e
}

// spawn runs under the shard lock, so it must not block.
func (e *Engine) spawn(deviceID string) *deviceWorker {
	w := &deviceWorker{
		deviceID: deviceID,
		in:       make(chan domain.PositionFix, e.cfg.QueueSize),
		e:        e,
		log:      e.log.With(zap.String("device_id", deviceID)),
		buf:      NewReorderBuffer(e.cfg.MaxLateness, e.cfg.MaxBuffered),
	}
	e.wg.Add(1)
	go w.run(e.workCtx)
	return w
}

// Ingest stamps the receipt time and queues the fix for its device. It
// blocks for at most the ingest timeout and then sheds the fix with
// ErrQueueFull.
func (e *Engine) Ingest(fix domain.PositionFix) error {
	metrics.FixesReceived.Add(1)
	fix.ReceivedAt = e.now()
	return e.router.Route(fix)
}

// Restore starts a worker for every checkpointed device so devices that
// never report again are still timed out by their watchdog.
func (e *Engine) Restore(ctx context.Context) error {
	ids, err := e.checkpoints.CheckpointedDevices(ctx)
	if err != nil {
		return fmt.Errorf("list checkpoints: %w", err)
	}
	for _, id := range ids {
		if _, err := e.router.worker(id); err != nil {
			return err
		}
	}
	e.log.Info("device workers restored", zap.Int("devices", len(ids)))
	return nil
}

func (e *Engine) Devices() int {
	return e.router.Devices()
}

// Shutdown stops accepting fixes, lets every worker apply what it has
// buffered and checkpoint, and waits for them until ctx expires.
func (e *Engine) Shutdown(ctx context.Context) error {
	defer e.cancel()

	workers := e.router.close()
	for _, w := range workers {
		w.stop()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.log.Info("engine stopped", zap.Int("devices", len(workers)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine shutdown: %w", ctx.Err())
	}
}
