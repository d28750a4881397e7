package aggregate

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"fleet-monitor/telematics/internal/domain"
)

type ScoreConfig struct {
	// Each limit is the rate at which a sub-score reaches zero.
	SpeedingPer100Km float64
	BrakingPer100Km  float64
	AccelPer100Km    float64
	IdlePct          float64
	FuelOverPct      float64

	WeightSpeeding float64
	WeightBraking  float64
	WeightAccel    float64
	WeightIdle     float64
	WeightFuel     float64
}

// ExpectedConsumption returns the configured L/100km for a vehicle, or
// zero when unknown.
type ExpectedConsumption func(vehicleID string) float64

// DailyStatistic folds one vehicle-day from scratch. The result depends
// only on the facts passed in, never on their order or on the clock.
func DailyStatistic(vehicleID, date string, facts domain.DayFacts, provisional bool) domain.DailyStatistic {
	trips := sortedTrips(facts.Trips)
	stops := sortedStops(facts.Stops)

	out := domain.DailyStatistic{
		VehicleID:   vehicleID,
		Date:        date,
		Provisional: provisional,
	}

	speeds := make([]float64, 0, len(trips))
	weights := make([]float64, 0, len(trips))
	for _, t := range trips {
		out.TripCount++
		if t.Status == domain.StatusTimedOut {
			out.TimedOutTrips++
		}
		out.DistanceKm += t.DistanceKm
		out.DrivingMinutes += t.DurationMinutes
		out.IdleMinutes += t.IdleTimeMinutes
		out.FuelUsedLiters += t.FuelUsedLiters
		out.MaxSpeedKph = math.Max(out.MaxSpeedKph, t.MaxSpeedKph)
		out.HarshBrakingCount += t.HarshBrakingCount
		out.HarshAccelerationCount += t.HarshAccelerationCount
		out.OverspeedingCount += t.OverspeedingCount
		if t.DurationMinutes > 0 {
			speeds = append(speeds, t.AverageSpeedKph)
			weights = append(weights, t.DurationMinutes)
		}
	}
	if len(speeds) > 0 {
		out.AverageSpeedKph = stat.Mean(speeds, weights)
	}

	for _, s := range stops {
		out.StopCount++
		out.StopMinutes += float64(s.DurationSeconds) / 60
		if !s.IsAuthorized {
			out.UnauthorizedStopCount++
		}
	}

	for _, ev := range facts.GeofenceEvents {
		switch ev.Type {
		case domain.GeofenceEntry:
			out.GeofenceEntryCount++
		case domain.GeofenceExit:
			out.GeofenceExitCount++
		case domain.GeofenceOverstay:
			out.GeofenceOverstayCount++
		}
	}
	out.SpeedAlertCount = len(facts.SpeedAlerts)
	out.FuelAnomalyCount = len(facts.FuelAnomalies)

	out.DistanceKm = round2(out.DistanceKm)
	out.DrivingMinutes = round2(out.DrivingMinutes)
	out.IdleMinutes = round2(out.IdleMinutes)
	out.FuelUsedLiters = round2(out.FuelUsedLiters)
	out.MaxSpeedKph = round2(out.MaxSpeedKph)
	out.AverageSpeedKph = round2(out.AverageSpeedKph)
	out.StopMinutes = round2(out.StopMinutes)
	return out
}

// DriverScore folds one driver-day. Sub-scores with no data behind them
// are left out and the remaining weights renormalised.
func DriverScore(
	driverID, date string,
	trips []domain.Trip,
	expected ExpectedConsumption,
	cfg ScoreConfig,
	provisional bool,
) domain.DriverScore {
	trips = sortedTrips(trips)
	out := domain.DriverScore{
		DriverID:    driverID,
		Date:        date,
		Provisional: provisional,
	}

	var overspeed, braking, accel int
	var idleMin, fuelUsed, fuelExpected float64
	for _, t := range trips {
		out.TripCount++
		out.DistanceKm += t.DistanceKm
		out.DrivingMinutes += t.DurationMinutes
		overspeed += t.OverspeedingCount
		braking += t.HarshBrakingCount
		accel += t.HarshAccelerationCount
		idleMin += t.IdleTimeMinutes
		if t.FuelUsedLiters > 0 && t.DistanceKm > 0 && expected != nil {
			if l100 := expected(t.VehicleID); l100 > 0 {
				fuelUsed += t.FuelUsedLiters
				fuelExpected += t.DistanceKm * l100 / 100
			}
		}
	}

	var scores, weights []float64
	add := func(score, weight float64) {
		if weight <= 0 {
			return
		}
		scores = append(scores, score)
		weights = append(weights, weight)
	}

	if out.DistanceKm > 0 {
		per100 := 100 / out.DistanceKm
		out.SpeedingScore = subScore(float64(overspeed)*per100, cfg.SpeedingPer100Km)
		out.BrakingScore = subScore(float64(braking)*per100, cfg.BrakingPer100Km)
		out.AccelerationScore = subScore(float64(accel)*per100, cfg.AccelPer100Km)
		add(out.SpeedingScore, cfg.WeightSpeeding)
		add(out.BrakingScore, cfg.WeightBraking)
		add(out.AccelerationScore, cfg.WeightAccel)
	}
	if out.DrivingMinutes > 0 {
		out.IdlingScore = subScore(idleMin/out.DrivingMinutes*100, cfg.IdlePct)
		add(out.IdlingScore, cfg.WeightIdle)
	}
	if fuelExpected > 0 {
		over := math.Max(0, (fuelUsed-fuelExpected)/fuelExpected*100)
		fuel := subScore(over, cfg.FuelOverPct)
		out.FuelEfficiencyScore = &fuel
		add(fuel, cfg.WeightFuel)
	}

	if len(scores) > 0 {
		out.OverallScore = round2(stat.Mean(scores, weights))
	}
	out.DistanceKm = round2(out.DistanceKm)
	out.DrivingMinutes = round2(out.DrivingMinutes)
	return out
}

// subScore maps a rate onto 0..100: zero rate is 100, the limit or worse is 0.
func subScore(rate, limit float64) float64 {
	if limit <= 0 {
		return 100
	}
	return round2(100 * math.Max(0, 1-rate/limit))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func sortedTrips(in []domain.Trip) []domain.Trip {
	out := append([]domain.Trip(nil), in...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sortedStops(in []domain.VehicleStop) []domain.VehicleStop {
	out := append([]domain.VehicleStop(nil), in...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
