package anomaly

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/telematics/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type mockLedger struct {
	entriesFn func(ctx context.Context, vehicleID string, from, to time.Time) ([]LedgerEntry, error)
	calls     int
}

func (m *mockLedger) Entries(ctx context.Context, vehicleID string, from, to time.Time) ([]LedgerEntry, error) {
	m.calls++
	if m.entriesFn != nil {
		return m.entriesFn(ctx, vehicleID, from, to)
	}
	return nil, nil
}

func fuelConfig() FuelConfig {
	return FuelConfig{
		LeakThresholdL:   10,
		RefuelThresholdL: 10,
		StableDeltaL:     1,
		NormalWindow:     10 * time.Minute,
		LedgerWindow:     2 * time.Hour,
		LedgerToleranceL: 5,
		HistoryTrips:     3,
		DefaultL100Km:    12,
	}
}

func percentVehicle() domain.VehicleConfig {
	return domain.VehicleConfig{
		DeviceID:           "dev-1",
		VehicleID:          "veh-1",
		FuelSensorMode:     domain.FuelPercent,
		TankCapacityLiters: 100,
		ExpectedL100Km:     12,
	}
}

type fuelStep struct {
	at       time.Duration
	pct      float64
	ignition bool
	km       float64
}

func runFuel(t *testing.T, d *FuelDetector, st *domain.DeviceState, v domain.VehicleConfig, steps []fuelStep) []domain.FuelAnomaly {
	t.Helper()
	var out []domain.FuelAnomaly
	for _, s := range steps {
		fix := domain.PositionFix{DeviceID: "dev-1", RecordedAt: t0.Add(s.at), IgnitionOn: s.ignition, FuelRaw: s.pct}
		liters, ok := Liters(v, s.pct)
		require.True(t, ok)
		found, err := d.Evaluate(context.Background(), st, fix, v, liters, s.km)
		require.NoError(t, err)
		out = append(out, found...)
	}
	return out
}

// Fuel drops from 80% to 20% in two minutes with the engine running and
// nothing in the ledger.
func TestFuel_ScenarioD(t *testing.T) {
	ledger := &mockLedger{}
	d := NewFuelDetector(fuelConfig(), ledger)
	st := domain.NewDeviceState("dev-1", "veh-1")

	found := runFuel(t, d, st, percentVehicle(), []fuelStep{
		{0, 80, true, 0},
		{30 * time.Second, 65, true, 0.2},
		{60 * time.Second, 50, true, 0.2},
		{90 * time.Second, 35, true, 0.2},
		{120 * time.Second, 20, true, 0.2},
		{150 * time.Second, 20, true, 0.2},
	})

	require.Len(t, found, 1)
	a := found[0]
	assert.Equal(t, domain.ReasonPossibleLeakTheft, a.Reason)
	assert.Equal(t, 80.0, a.LevelBeforeLiters)
	assert.Equal(t, 65.0, a.LevelAfterLiters)
	assert.Equal(t, -15.0, a.ObservedDeltaLiters)
	assert.InDelta(t, -0.024, a.ExpectedDeltaLiters, 1e-9)
	assert.True(t, a.IgnitionOn)
	assert.Equal(t, t0, a.ReferenceAt)

	assert.False(t, st.Fuel.InEpisode)
	assert.InDelta(t, 20.0, st.Fuel.Reference.Liters, 1e-9)
	assert.Equal(t, 1, ledger.calls)
}

func TestFuel_RecordedWithdrawalNotFlagged(t *testing.T) {
	ledger := &mockLedger{
		entriesFn: func(_ context.Context, vehicleID string, from, to time.Time) ([]LedgerEntry, error) {
			assert.Equal(t, "veh-1", vehicleID)
			assert.True(t, from.Before(t0))
			assert.True(t, to.After(t0.Add(30*time.Second)))
			return []LedgerEntry{{At: t0, Liters: -60}}, nil
		},
	}
	d := NewFuelDetector(fuelConfig(), ledger)
	st := domain.NewDeviceState("dev-1", "veh-1")

	found := runFuel(t, d, st, percentVehicle(), []fuelStep{
		{0, 80, true, 0},
		{30 * time.Second, 20, true, 0},
	})
	assert.Empty(t, found)
	assert.InDelta(t, 20.0, st.Fuel.Reference.Liters, 1e-9)
}

func TestFuel_UnrecordedRefuel(t *testing.T) {
	d := NewFuelDetector(fuelConfig(), &mockLedger{
		entriesFn: func(context.Context, string, time.Time, time.Time) ([]LedgerEntry, error) {
			// a withdrawal never covers a rise
			return []LedgerEntry{{At: t0, Liters: -50}}, nil
		},
	})
	st := domain.NewDeviceState("dev-1", "veh-1")

	found := runFuel(t, d, st, percentVehicle(), []fuelStep{
		{0, 20, false, 0},
		{time.Minute, 70, false, 0},
		{2 * time.Minute, 90, false, 0},
		{3 * time.Minute, 90, false, 0},
	})

	require.Len(t, found, 1)
	assert.Equal(t, domain.ReasonUnrecordedRefuel, found[0].Reason)
	assert.Equal(t, 50.0, found[0].ObservedDeltaLiters)
	assert.False(t, found[0].IgnitionOn)
}

func TestFuel_RecordedRefuel(t *testing.T) {
	d := NewFuelDetector(fuelConfig(), &mockLedger{
		entriesFn: func(context.Context, string, time.Time, time.Time) ([]LedgerEntry, error) {
			return []LedgerEntry{{At: t0.Add(time.Minute), Liters: 48}}, nil
		},
	})
	st := domain.NewDeviceState("dev-1", "veh-1")

	found := runFuel(t, d, st, percentVehicle(), []fuelStep{
		{0, 20, false, 0},
		{time.Minute, 70, false, 0},
	})
	assert.Empty(t, found)
}

func TestFuel_RefuelWithEngineRunningNotFlagged(t *testing.T) {
	ledger := &mockLedger{}
	d := NewFuelDetector(fuelConfig(), ledger)
	st := domain.NewDeviceState("dev-1", "veh-1")

	found := runFuel(t, d, st, percentVehicle(), []fuelStep{
		{0, 20, true, 0},
		{time.Minute, 70, true, 0},
	})
	assert.Empty(t, found)
	assert.Zero(t, ledger.calls)
}

func TestFuel_NormalConsumption(t *testing.T) {
	d := NewFuelDetector(fuelConfig(), &mockLedger{})
	st := domain.NewDeviceState("dev-1", "veh-1")

	// 100 km at 12 L/100km burns 12 L; spread over 20 minutes
	var steps []fuelStep
	for i := 0; i <= 20; i++ {
		steps = append(steps, fuelStep{time.Duration(i) * time.Minute, 80 - float64(i)*0.6, true, 5})
	}
	assert.Empty(t, runFuel(t, d, st, percentVehicle(), steps))
}

func TestFuel_LedgerErrorPropagates(t *testing.T) {
	d := NewFuelDetector(fuelConfig(), &mockLedger{
		entriesFn: func(context.Context, string, time.Time, time.Time) ([]LedgerEntry, error) {
			return nil, errors.New("connection refused")
		},
	})
	st := domain.NewDeviceState("dev-1", "veh-1")
	v := percentVehicle()

	_, err := d.Evaluate(context.Background(), st, domain.PositionFix{RecordedAt: t0, IgnitionOn: true}, v, 80, 0)
	require.NoError(t, err)
	_, err = d.Evaluate(context.Background(), st, domain.PositionFix{RecordedAt: t0.Add(time.Minute), IgnitionOn: true}, v, 20, 0)
	assert.ErrorContains(t, err, "connection refused")
}

func TestLiters(t *testing.T) {
	tests := []struct {
		mode   domain.FuelSensorMode
		tank   float64
		raw    float64
		want   float64
		wantOK bool
	}{
		{domain.FuelRaw255, 255, 51, 51, true},
		{domain.FuelRaw255, 0, 51, 0, false},
		{domain.FuelPercent, 80, 50, 40, true},
		{domain.FuelLiters, 0, 37.5, 37.5, true},
		{domain.FuelHalfLiter, 0, 90, 45, true},
		{"", 100, 255, 100, true},
		{domain.FuelLiters, 0, 0, 0, true},
		{domain.FuelPercent, 80, 0, 0, true},
		{domain.FuelLiters, 0, -1, 0, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			got, ok := Liters(domain.VehicleConfig{FuelSensorMode: tt.mode, TankCapacityLiters: tt.tank}, tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestExpectedL100Km_RollingMean(t *testing.T) {
	d := NewFuelDetector(fuelConfig(), nil)
	st := domain.NewDeviceState("dev-1", "veh-1")
	v := percentVehicle()
	v.ExpectedL100Km = 0

	assert.Equal(t, 12.0, d.ExpectedL100Km(st, v))

	for _, used := range []float64{10, 20, 8, 9} {
		d.RecordTrip(st, domain.Trip{DistanceKm: 100, FuelUsedLiters: used})
	}
	d.RecordTrip(st, domain.Trip{DistanceKm: 0.5, FuelUsedLiters: 3})

	assert.Equal(t, []float64{20, 8, 9}, st.Fuel.RecentL100Km)
	assert.InDelta(t, 37.0/3, d.ExpectedL100Km(st, v), 1e-9)
}

func speedConfig() SpeedConfig {
	return SpeedConfig{MarginKph: 5, MinDuration: 15 * time.Second}
}

func TestSpeed_SustainedEpisode(t *testing.T) {
	d := NewSpeedDetector(speedConfig())
	st := domain.NewDeviceState("dev-1", "veh-1")
	st.OpenTrip = &domain.Trip{ID: "trip-1", Status: domain.StatusOpen}
	v := domain.VehicleConfig{VehicleID: "veh-1", SpeedLimitKph: 80}

	speeds := []float64{90, 92, 95, 91, 83, 90, 95, 78, 90, 90}
	var alerts []domain.SpeedLimitAlert
	for i, s := range speeds {
		fix := domain.PositionFix{DeviceID: "dev-1", RecordedAt: t0.Add(time.Duration(i*10) * time.Second), SpeedKph: s}
		alerts = append(alerts, d.Evaluate(st, fix, v, nil, nil)...)
	}

	// first episode alerts once at 20 s, 83 stays inside the margin,
	// 78 ends it, the last episode lasts only 10 s
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, t0.Add(20*time.Second), a.Timestamp)
	assert.Equal(t, t0, a.Since)
	assert.Equal(t, 95.0, a.MeasuredKph)
	assert.Equal(t, 80.0, a.LimitKph)
	assert.Equal(t, domain.ReasonSpeedOverLimit, a.Reason)
	assert.Equal(t, "trip-1", a.TripID)
	assert.Equal(t, 1, st.OpenTrip.OverspeedingCount)
}

func TestSpeed_SingleSampleIgnored(t *testing.T) {
	d := NewSpeedDetector(speedConfig())
	st := domain.NewDeviceState("dev-1", "veh-1")
	v := domain.VehicleConfig{VehicleID: "veh-1", SpeedLimitKph: 80}

	alerts := d.Evaluate(st, domain.PositionFix{RecordedAt: t0, SpeedKph: 140}, v, nil, nil)
	alerts = append(alerts, d.Evaluate(st, domain.PositionFix{RecordedAt: t0.Add(5 * time.Second), SpeedKph: 60}, v, nil, nil)...)
	assert.Empty(t, alerts)
	assert.False(t, st.Speed.Active)
}

func TestSpeed_GeofenceOverride(t *testing.T) {
	d := NewSpeedDetector(SpeedConfig{DefaultLimitKph: 100})
	fences := []domain.Geofence{
		{ID: "school", SpeedLimitKph: 30},
		{ID: "town", SpeedLimitKph: 50},
		{ID: "depot"},
	}

	limit, id := d.EffectiveLimit(domain.VehicleConfig{SpeedLimitKph: 80}, fences, []string{"depot", "school", "town"})
	assert.Equal(t, 30.0, limit)
	assert.Equal(t, "school", id)

	limit, id = d.EffectiveLimit(domain.VehicleConfig{SpeedLimitKph: 80}, fences, []string{"depot"})
	assert.Equal(t, 80.0, limit)
	assert.Empty(t, id)

	limit, _ = d.EffectiveLimit(domain.VehicleConfig{}, fences, nil)
	assert.Equal(t, 100.0, limit)

	st := domain.NewDeviceState("dev-1", "veh-1")
	alerts := d.Evaluate(st, domain.PositionFix{RecordedAt: t0, SpeedKph: 45}, domain.VehicleConfig{SpeedLimitKph: 80}, fences, []string{"school"})
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.ReasonGeofenceSpeedOverLimit, alerts[0].Reason)
	assert.Equal(t, "school", alerts[0].GeofenceID)
}
