package fleet

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"fleet-monitor/telematics/internal/domain"
)

// Source loads a complete fleet configuration.
type Source interface {
	LoadFleet(ctx context.Context) (*domain.FleetSnapshot, error)
}

// Registry holds the current fleet snapshot. Readers never block; a
// refresh swaps in a whole new snapshot.
type Registry struct {
	current atomic.Pointer[domain.FleetSnapshot]
	source  Source
	log     *zap.Logger
	now     func() time.Time
}

func NewRegistry(source Source, log *zap.Logger) *Registry {
	r := &Registry{source: source, log: log, now: time.Now}
	r.current.Store(domain.EmptySnapshot())
	return r
}

func (r *Registry) Snapshot() *domain.FleetSnapshot {
	return r.current.Load()
}

// Refresh loads a new snapshot. On error the previous snapshot stays in place.
func (r *Registry) Refresh(ctx context.Context) error {
	snap, err := r.source.LoadFleet(ctx)
	if err != nil {
		return err
	}
	snap.LoadedAt = r.now()
	r.current.Store(snap)
	r.log.Info("fleet configuration loaded",
		zap.Int("vehicles", len(snap.Vehicles)),
		zap.Int("geofences", len(snap.Geofences)))
	return nil
}

// Run polls the source every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.log.Warn("fleet refresh failed, keeping previous snapshot", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// ExpectedL100Km returns the configured consumption of a vehicle, or zero.
func (r *Registry) ExpectedL100Km(vehicleID string) float64 {
	for _, v := range r.Snapshot().Vehicles {
		if v.VehicleID == vehicleID {
			return v.ExpectedL100Km
		}
	}
	return 0
}
