package anomaly

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"fleet-monitor/telematics/internal/domain"
)

// LedgerEntry is one recorded fuel movement. Refuels are positive,
// recorded withdrawals (draining, transfers) negative.
type LedgerEntry struct {
	At     time.Time
	Liters float64
}

// FuelLedger is the read-only fuel cost record kept by fleet administration.
type FuelLedger interface {
	Entries(ctx context.Context, vehicleID string, from, to time.Time) ([]LedgerEntry, error)
}

type FuelConfig struct {
	LeakThresholdL   float64
	RefuelThresholdL float64
	// StableDeltaL is the largest step between samples that still counts
	// as a settled level and ends an episode.
	StableDeltaL float64
	// NormalWindow re-bases the reference sample after this long without
	// a finding, so slow sensor drift never adds up to an anomaly.
	NormalWindow     time.Duration
	LedgerWindow     time.Duration
	LedgerToleranceL float64
	HistoryTrips     int
	DefaultL100Km    float64
}

type FuelDetector struct {
	cfg    FuelConfig
	ledger FuelLedger
}

func NewFuelDetector(cfg FuelConfig, ledger FuelLedger) *FuelDetector {
	return &FuelDetector{cfg: cfg, ledger: ledger}
}

// Liters converts a raw fuel reading with the vehicle's sensor mode. Zero
// is an empty tank, not a missing reading.
func Liters(v domain.VehicleConfig, raw float64) (float64, bool) {
	if raw < 0 || math.IsNaN(raw) {
		return 0, false
	}
	switch v.FuelSensorMode {
	case domain.FuelLiters:
		return raw, true
	case domain.FuelHalfLiter:
		return raw * 0.5, true
	case domain.FuelPercent:
		if v.TankCapacityLiters <= 0 {
			return 0, false
		}
		return math.Min(raw, 100) / 100 * v.TankCapacityLiters, true
	default:
		if v.TankCapacityLiters <= 0 {
			return 0, false
		}
		return math.Min(raw, 255) / 255 * v.TankCapacityLiters, true
	}
}

// ExpectedL100Km is the mean consumption of the vehicle's recent closed
// trips, falling back to its configured value.
func (d *FuelDetector) ExpectedL100Km(st *domain.DeviceState, v domain.VehicleConfig) float64 {
	if len(st.Fuel.RecentL100Km) > 0 {
		return stat.Mean(st.Fuel.RecentL100Km, nil)
	}
	if v.ExpectedL100Km > 0 {
		return v.ExpectedL100Km
	}
	return d.cfg.DefaultL100Km
}

// RecordTrip feeds a closed trip into the rolling consumption history.
func (d *FuelDetector) RecordTrip(st *domain.DeviceState, trip domain.Trip) {
	if trip.FuelUsedLiters <= 0 || trip.DistanceKm < 1 {
		return
	}
	st.Fuel.RecentL100Km = append(st.Fuel.RecentL100Km, trip.FuelUsedLiters/trip.DistanceKm*100)
	if n := d.cfg.HistoryTrips; n > 0 && len(st.Fuel.RecentL100Km) > n {
		st.Fuel.RecentL100Km = append([]float64(nil), st.Fuel.RecentL100Km[len(st.Fuel.RecentL100Km)-n:]...)
	}
}

// Evaluate compares the level against the reference sample. distanceKm
// is the distance travelled since the previous accepted fix.
func (d *FuelDetector) Evaluate(
	ctx context.Context,
	st *domain.DeviceState,
	fix domain.PositionFix,
	v domain.VehicleConfig,
	liters float64,
	distanceKm float64,
) ([]domain.FuelAnomaly, error) {
	m := &st.Fuel
	sample := &domain.FuelSample{At: fix.RecordedAt, Liters: liters, IgnitionOn: fix.IgnitionOn}

	if m.Reference == nil {
		m.Rebase(sample)
		return nil, nil
	}
	m.DistanceSinceRefKm += distanceKm

	if m.InEpisode {
		if math.Abs(liters-m.Previous.Liters) <= d.cfg.StableDeltaL {
			m.InEpisode = false
			m.Rebase(sample)
			return nil, nil
		}
		m.Previous = sample
		return nil, nil
	}

	ref := *m.Reference
	observed := liters - ref.Liters
	expected := m.DistanceSinceRefKm * d.ExpectedL100Km(st, v) / 100

	excessDrop := -observed - expected

	var reason domain.AnomalyReason
	switch {
	case excessDrop > d.cfg.LeakThresholdL && fix.IgnitionOn:
		covered, err := d.covered(ctx, v.VehicleID, ref.At, fix.RecordedAt, -excessDrop)
		if err != nil {
			return nil, err
		}
		if !covered {
			reason = domain.ReasonPossibleLeakTheft
		}
	case observed > d.cfg.RefuelThresholdL:
		if fix.IgnitionOn {
			// fuelling with the engine running is not flagged
			break
		}
		covered, err := d.covered(ctx, v.VehicleID, ref.At, fix.RecordedAt, observed)
		if err != nil {
			return nil, err
		}
		if !covered {
			reason = domain.ReasonUnrecordedRefuel
		}
	default:
		if d.cfg.NormalWindow > 0 && fix.RecordedAt.Sub(ref.At) >= d.cfg.NormalWindow {
			m.Rebase(sample)
		} else {
			m.Previous = sample
		}
		return nil, nil
	}

	if reason == domain.ReasonNone {
		m.Rebase(sample)
		return nil, nil
	}

	m.InEpisode = true
	m.Previous = sample
	return []domain.FuelAnomaly{{
		ID:                  domain.FactID("fuel", fix.DeviceID, string(reason), domain.TimeKey(fix.RecordedAt)),
		VehicleID:           v.VehicleID,
		DeviceID:            fix.DeviceID,
		Timestamp:           fix.RecordedAt,
		Reason:              reason,
		ObservedDeltaLiters: round3(observed),
		ExpectedDeltaLiters: round3(-expected),
		DistanceKm:          round3(m.DistanceSinceRefKm),
		LevelBeforeLiters:   round3(ref.Liters),
		LevelAfterLiters:    round3(liters),
		ReferenceAt:         ref.At,
		IgnitionOn:          fix.IgnitionOn,
		Latitude:            fix.Latitude,
		Longitude:           fix.Longitude,
	}}, nil
}

// covered reports whether the ledger holds a movement of the right sign
// that accounts for amount litres around the window. Negative amount looks
// for withdrawals.
func (d *FuelDetector) covered(ctx context.Context, vehicleID string, from, to time.Time, amount float64) (bool, error) {
	if d.ledger == nil {
		return false, nil
	}
	entries, err := d.ledger.Entries(ctx, vehicleID, from.Add(-d.cfg.LedgerWindow), to.Add(d.cfg.LedgerWindow))
	if err != nil {
		return false, fmt.Errorf("fuel ledger lookup for %s: %w", vehicleID, err)
	}
	for _, e := range entries {
		if amount > 0 && e.Liters > 0 && e.Liters+d.cfg.LedgerToleranceL >= amount {
			return true, nil
		}
		if amount < 0 && e.Liters < 0 && -e.Liters+d.cfg.LedgerToleranceL >= -amount {
			return true, nil
		}
	}
	return false, nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
