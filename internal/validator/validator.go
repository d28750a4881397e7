package validator

import (
	"time"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/geo"
)

type Config struct {
	MinSatellites       int
	MaxImplicitSpeedKph float64
	RejectDeviceInvalid bool
	// DriftRadiusM bounds the jitter a parked receiver produces. It is
	// also the displacement allowed between two fixes with the same clock.
	DriftRadiusM       float64
	MotionThresholdKph float64
	// MaxFutureSkew is how far RecordedAt may run ahead of the receipt
	// time. Zero disables the check.
	MaxFutureSkew time.Duration
}

// Validator holds only thresholds. Validate is a pure function of the
// candidate and the last accepted fix, safe to share across workers.
type Validator struct {
	cfg Config
}

func New(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

func (v *Validator) Validate(fix domain.PositionFix, last *domain.PositionFix) (bool, domain.RejectReason) {
	if fix.DeviceID == "" {
		return false, domain.RejectMissingDevice
	}
	if !geo.ValidCoordinate(fix.Latitude, fix.Longitude) {
		return false, domain.RejectOutOfRange
	}
	if v.FromFuture(fix) {
		return false, domain.RejectFutureClock
	}
	if v.cfg.RejectDeviceInvalid && !fix.Valid {
		return false, domain.RejectDeviceInvalid
	}
	if fix.Satellites < v.cfg.MinSatellites {
		return false, domain.RejectLowSatellites
	}
	if last != nil && v.birdFlight(fix, *last) {
		return false, domain.RejectBirdFlight
	}
	return true, domain.RejectNone
}

// FromFuture reports a fix stamped further ahead of its receipt time
// than the allowed clock skew. Fixes without a receipt time pass.
func (v *Validator) FromFuture(fix domain.PositionFix) bool {
	if v.cfg.MaxFutureSkew <= 0 || fix.ReceivedAt.IsZero() {
		return false
	}
	return fix.RecordedAt.After(fix.ReceivedAt.Add(v.cfg.MaxFutureSkew))
}

func (v *Validator) birdFlight(fix, last domain.PositionFix) bool {
	if v.cfg.MaxImplicitSpeedKph <= 0 {
		return false
	}
	distM := geo.HaversineM(last.Latitude, last.Longitude, fix.Latitude, fix.Longitude)
	elapsed := fix.RecordedAt.Sub(last.RecordedAt).Seconds()
	if elapsed <= 0 {
		return distM > v.cfg.DriftRadiusM
	}
	return ImplicitSpeedKph(fix, last) > v.cfg.MaxImplicitSpeedKph
}

// ImplicitSpeedKph is the speed needed to cover the great-circle distance
// between two fixes in the time their clocks say elapsed. Zero elapsed
// time yields zero.
func ImplicitSpeedKph(fix, last domain.PositionFix) float64 {
	elapsed := fix.RecordedAt.Sub(last.RecordedAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	distM := geo.HaversineM(last.Latitude, last.Longitude, fix.Latitude, fix.Longitude)
	return distM / elapsed * 3.6
}

// IsDrift reports a slow fix that has not left the drift radius of the
// previous one. Distance from it is receiver noise, not travel.
func (v *Validator) IsDrift(fix domain.PositionFix, last *domain.PositionFix) bool {
	if last == nil {
		return false
	}
	if fix.SpeedKph >= v.cfg.MotionThresholdKph {
		return false
	}
	return geo.HaversineM(last.Latitude, last.Longitude, fix.Latitude, fix.Longitude) <= v.cfg.DriftRadiusM
}
