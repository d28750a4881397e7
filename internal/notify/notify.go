package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/metrics"
)

// Notifier delivers alerts to one downstream channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n domain.Notification) error
}

// Multi fans notifications out to every configured notifier. Send only
// queues; a single sender goroutine (Run) delivers, each call bounded by
// the send timeout. Failures and drops are logged and counted, never
// returned, since the facts behind them are already durable.
type Multi struct {
	notifiers []Notifier
	queue     chan domain.Notification
	timeout   time.Duration
	log       *zap.Logger
}

func NewMulti(queueSize int, timeout time.Duration, log *zap.Logger, notifiers ...Notifier) *Multi {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Multi{
		notifiers: notifiers,
		queue:     make(chan domain.Notification, queueSize),
		timeout:   timeout,
		log:       log,
	}
}

// Add registers a notifier. Call it before Run.
func (m *Multi) Add(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send never blocks: a full queue drops the notification.
func (m *Multi) Send(_ context.Context, ns []domain.Notification) {
	for _, n := range ns {
		select {
		case m.queue <- n:
		default:
			metrics.NotificationDrops.Add(1)
			m.log.Warn("notification queue full, dropped",
				zap.String("notification_id", n.ID),
				zap.String("type", n.Type))
		}
	}
}

// Run delivers queued notifications until ctx is done, then flushes
// what is still queued.
func (m *Multi) Run(ctx context.Context) {
	for {
		select {
		case n := <-m.queue:
			m.deliver(ctx, n)
		case <-ctx.Done():
			m.drain(context.WithoutCancel(ctx))
			return
		}
	}
}

func (m *Multi) drain(ctx context.Context) {
	for {
		select {
		case n := <-m.queue:
			m.deliver(ctx, n)
		default:
			return
		}
	}
}

func (m *Multi) deliver(ctx context.Context, n domain.Notification) {
	for _, target := range m.notifiers {
		sendCtx, cancel := context.WithTimeout(ctx, m.timeout)
		err := target.Notify(sendCtx, n)
		cancel()
		if err != nil {
			metrics.NotificationsFailed.Add(1)
			m.log.Warn("notification failed",
				zap.String("notifier", target.Name()),
				zap.String("notification_id", n.ID),
				zap.String("type", n.Type),
				zap.Error(err))
			continue
		}
		metrics.NotificationsSent.Add(1)
	}
}

// FromFacts builds the alert feed for one fact bundle. Geofence events
// only notify when their Notify flag survived the cooldown.
func FromFacts(f domain.Facts) []domain.Notification {
	var out []domain.Notification

	for _, ev := range f.GeofenceEvents {
		if !ev.Notify {
			continue
		}
		severity := domain.SeverityInfo
		msg := fmt.Sprintf("vehicle %s %s geofence %s", ev.VehicleID, transitionVerb(ev.Type), ev.GeofenceID)
		if ev.Type == domain.GeofenceOverstay {
			severity = domain.SeverityWarning
			msg = fmt.Sprintf("vehicle %s overstayed geofence %s", ev.VehicleID, ev.GeofenceID)
		}
		out = append(out, domain.Notification{
			ID:        ev.ID,
			VehicleID: ev.VehicleID,
			DeviceID:  ev.DeviceID,
			Type:      "GEOFENCE_" + string(ev.Type),
			Severity:  severity,
			Message:   msg,
			Latitude:  ev.Latitude,
			Longitude: ev.Longitude,
			Timestamp: ev.Timestamp,
		})
	}

	for _, a := range f.SpeedAlerts {
		out = append(out, domain.Notification{
			ID:        a.ID,
			VehicleID: a.VehicleID,
			DeviceID:  a.DeviceID,
			Type:      string(a.Reason),
			Severity:  domain.SeverityWarning,
			Message:   fmt.Sprintf("vehicle %s at %.0f km/h, limit %.0f km/h", a.VehicleID, a.MeasuredKph, a.LimitKph),
			Latitude:  a.Latitude,
			Longitude: a.Longitude,
			Timestamp: a.Timestamp,
		})
	}

	for _, a := range f.FuelAnomalies {
		severity := domain.SeverityWarning
		if a.Reason == domain.ReasonPossibleLeakTheft {
			severity = domain.SeverityCritical
		}
		out = append(out, domain.Notification{
			ID:        a.ID,
			VehicleID: a.VehicleID,
			DeviceID:  a.DeviceID,
			Type:      string(a.Reason),
			Severity:  severity,
			Message:   fmt.Sprintf("vehicle %s fuel changed by %.1f L, expected %.1f L", a.VehicleID, a.ObservedDeltaLiters, a.ExpectedDeltaLiters),
			Latitude:  a.Latitude,
			Longitude: a.Longitude,
			Timestamp: a.Timestamp,
		})
	}

	for _, t := range f.Trips {
		if t.Anomaly == domain.ReasonNone {
			continue
		}
		out = append(out, domain.Notification{
			ID:        t.ID,
			VehicleID: t.VehicleID,
			DeviceID:  t.DeviceID,
			Type:      string(t.Anomaly),
			Severity:  domain.SeverityInfo,
			Message:   fmt.Sprintf("trip %s odometer %.1f km vs gps %.1f km", t.ID, t.OdometerDistanceKm, t.DistanceKm),
			Latitude:  t.EndLatitude,
			Longitude: t.EndLongitude,
			Timestamp: t.EndTime,
		})
	}

	return out
}

func transitionVerb(t domain.GeofenceEventType) string {
	if t == domain.GeofenceExit {
		return "left"
	}
	return "entered"
}
