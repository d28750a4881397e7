package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"fleet-monitor/telematics/internal/aggregate"
	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/metrics"
)

type dayKey struct {
	id   string
	date string
}

// DirtyDays collects the vehicle-days and driver-days whose facts changed
// since the last aggregation run.
type DirtyDays struct {
	mu       sync.Mutex
	loc      *time.Location
	vehicles map[dayKey]struct{}
	drivers  map[dayKey]struct{}
}

func NewDirtyDays(loc *time.Location) *DirtyDays {
	return &DirtyDays{
		loc:      loc,
		vehicles: make(map[dayKey]struct{}),
		drivers:  make(map[dayKey]struct{}),
	}
}

func (d *DirtyDays) MarkVehicle(vehicleID, date string) {
	d.mu.Lock()
	d.vehicles[dayKey{vehicleID, date}] = struct{}{}
	d.mu.Unlock()
}

func (d *DirtyDays) MarkDriver(driverID, date string) {
	d.mu.Lock()
	d.drivers[dayKey{driverID, date}] = struct{}{}
	d.mu.Unlock()
}

// MarkFacts marks every day a fact is attributed to. Trips and stops
// belong to the day they started.
func (d *DirtyDays) MarkFacts(f domain.Facts) {
	for _, t := range f.Trips {
		date := aggregate.DateOf(t.StartTime, d.loc)
		d.MarkVehicle(t.VehicleID, date)
		if t.DriverID != nil {
			d.MarkDriver(*t.DriverID, date)
		}
	}
	for _, s := range f.Stops {
		d.MarkVehicle(s.VehicleID, aggregate.DateOf(s.StartTime, d.loc))
	}
	for _, ev := range f.GeofenceEvents {
		d.MarkVehicle(ev.VehicleID, aggregate.DateOf(ev.Timestamp, d.loc))
	}
	for _, a := range f.SpeedAlerts {
		d.MarkVehicle(a.VehicleID, aggregate.DateOf(a.Timestamp, d.loc))
	}
	for _, a := range f.FuelAnomalies {
		d.MarkVehicle(a.VehicleID, aggregate.DateOf(a.Timestamp, d.loc))
	}
}

func (d *DirtyDays) take() (vehicles, drivers []dayKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k := range d.vehicles {
		vehicles = append(vehicles, k)
	}
	for k := range d.drivers {
		drivers = append(drivers, k)
	}
	d.vehicles = make(map[dayKey]struct{})
	d.drivers = make(map[dayKey]struct{})
	sortKeys(vehicles)
	sortKeys(drivers)
	return vehicles, drivers
}

func sortKeys(keys []dayKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].id != keys[j].id {
			return keys[i].id < keys[j].id
		}
		return keys[i].date < keys[j].date
	})
}

type openTrip struct {
	start    time.Time
	driverID string
}

// OpenTrips indexes the open trip of every vehicle so aggregation can tell
// whether a day may still change.
type OpenTrips struct {
	byVehicle sync.Map
}

func (o *OpenTrips) Update(st *domain.DeviceState) {
	if st.OpenTrip == nil {
		o.byVehicle.Delete(st.VehicleID)
		return
	}
	ot := openTrip{start: st.OpenTrip.StartTime}
	if st.OpenTrip.DriverID != nil {
		ot.driverID = *st.OpenTrip.DriverID
	}
	o.byVehicle.Store(st.VehicleID, ot)
}

func (o *OpenTrips) VehicleStart(vehicleID string) *time.Time {
	raw, ok := o.byVehicle.Load(vehicleID)
	if !ok {
		return nil
	}
	start := raw.(openTrip).start
	return &start
}

// DriverStart returns the earliest start among the driver's open trips.
func (o *OpenTrips) DriverStart(driverID string) *time.Time {
	var earliest *time.Time
	o.byVehicle.Range(func(_, raw any) bool {
		ot := raw.(openTrip)
		if ot.driverID == driverID && (earliest == nil || ot.start.Before(*earliest)) {
			start := ot.start
			earliest = &start
		}
		return true
	})
	return earliest
}

type AggregateStore interface {
	LoadDayFacts(ctx context.Context, vehicleID string, from, to time.Time) (domain.DayFacts, error)
	LoadDriverTrips(ctx context.Context, driverID string, from, to time.Time) ([]domain.Trip, error)
	UpsertDailyStatistic(ctx context.Context, d domain.DailyStatistic) error
	UpsertDriverScore(ctx context.Context, d domain.DriverScore) error
	ProvisionalDays(ctx context.Context) (vehicles, drivers []domain.DayRef, err error)
}

// AggregateWorker periodically re-folds dirty days from stored facts.
// Provisional days stay dirty until they are final.
type AggregateWorker struct {
	store    AggregateStore
	days     *DirtyDays
	open     *OpenTrips
	expected aggregate.ExpectedConsumption
	score    aggregate.ScoreConfig
	loc      *time.Location
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewAggregateWorker(
	store AggregateStore,
	days *DirtyDays,
	open *OpenTrips,
	expected aggregate.ExpectedConsumption,
	score aggregate.ScoreConfig,
	loc *time.Location,
	interval time.Duration,
	log *zap.Logger,
) *AggregateWorker {
	return &AggregateWorker{
		store:    store,
		days:     days,
		open:     open,
		expected: expected,
		score:    score,
		loc:      loc,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// Seed marks every day still stored as provisional, so days left open by
// a previous process are finished even if no new facts arrive for them.
func (w *AggregateWorker) Seed(ctx context.Context) error {
	vehicles, drivers, err := w.store.ProvisionalDays(ctx)
	if err != nil {
		return err
	}
	for _, d := range vehicles {
		w.days.MarkVehicle(d.ID, d.Date)
	}
	for _, d := range drivers {
		w.days.MarkDriver(d.ID, d.Date)
	}
	w.log.Info("provisional days loaded",
		zap.Int("vehicle_days", len(vehicles)),
		zap.Int("driver_days", len(drivers)))
	return nil
}

func (w *AggregateWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-ctx.Done():
			w.RunOnce(context.WithoutCancel(ctx))
			return
		}
	}
}

// RunOnce aggregates everything currently dirty. Failed or provisional
// days are marked again for the next run.
func (w *AggregateWorker) RunOnce(ctx context.Context) {
	vehicles, drivers := w.days.take()
	if len(vehicles) == 0 && len(drivers) == 0 {
		return
	}
	metrics.AggregationRuns.Add(1)
	now := w.now()

	for _, k := range vehicles {
		provisional, err := w.vehicleDay(ctx, k, now)
		if err != nil {
			w.log.Warn("daily statistic failed", zap.String("vehicle_id", k.id), zap.String("date", k.date), zap.Error(err))
		}
		if err != nil || provisional {
			w.days.MarkVehicle(k.id, k.date)
		}
	}

	for _, k := range drivers {
		provisional, err := w.driverDay(ctx, k, now)
		if err != nil {
			w.log.Warn("driver score failed", zap.String("driver_id", k.id), zap.String("date", k.date), zap.Error(err))
		}
		if err != nil || provisional {
			w.days.MarkDriver(k.id, k.date)
		}
	}
}

func (w *AggregateWorker) vehicleDay(ctx context.Context, k dayKey, now time.Time) (bool, error) {
	from, to, err := aggregate.DayBounds(k.date, w.loc)
	if err != nil {
		return false, err
	}
	facts, err := w.store.LoadDayFacts(ctx, k.id, from, to)
	if err != nil {
		return true, err
	}
	provisional := aggregate.Provisional(k.date, w.loc, now, w.open.VehicleStart(k.id))
	stat := aggregate.DailyStatistic(k.id, k.date, facts, provisional)
	return provisional, w.store.UpsertDailyStatistic(ctx, stat)
}

func (w *AggregateWorker) driverDay(ctx context.Context, k dayKey, now time.Time) (bool, error) {
	from, to, err := aggregate.DayBounds(k.date, w.loc)
	if err != nil {
		return false, err
	}
	trips, err := w.store.LoadDriverTrips(ctx, k.id, from, to)
	if err != nil {
		return true, err
	}
	provisional := aggregate.Provisional(k.date, w.loc, now, w.open.DriverStart(k.id))
	score := aggregate.DriverScore(k.id, k.date, trips, w.expected, w.score, provisional)
	return provisional, w.store.UpsertDriverScore(ctx, score)
}
