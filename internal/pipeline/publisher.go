package pipeline

import (
	"context"

	"go.uber.org/zap"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/metrics"
	"fleet-monitor/telematics/internal/notify"
	"fleet-monitor/telematics/internal/retry"
)

type FactSink interface {
	WriteFacts(ctx context.Context, f domain.Facts) error
}

type AlertSender interface {
	Send(ctx context.Context, ns []domain.Notification)
}

// Publisher makes a fact bundle durable and then fans out everything that
// hangs off it. Only the sink write can fail a fix; waypoints, alerts and
// aggregation marks are best effort once the facts are stored.
type Publisher struct {
	sink      FactSink
	retrier   *retry.Retrier
	alerts    AlertSender
	waypoints *WaypointWriter
	days      *DirtyDays
	log       *zap.Logger
}

func NewPublisher(
	sink FactSink,
	retrier *retry.Retrier,
	alerts AlertSender,
	waypoints *WaypointWriter,
	days *DirtyDays,
	log *zap.Logger,
) *Publisher {
	return &Publisher{
		sink:      sink,
		retrier:   retrier,
		alerts:    alerts,
		waypoints: waypoints,
		days:      days,
		log:       log,
	}
}

func (p *Publisher) Publish(ctx context.Context, f domain.Facts) error {
	if f.Durable() {
		err := p.retrier.Do(ctx, "write facts", func(ctx context.Context) error {
			return p.sink.WriteFacts(ctx, f)
		})
		if err != nil {
			metrics.SinkWriteFailures.Add(1)
			return err
		}
		metrics.SinkWriteSuccess.Add(1)
	}

	if p.waypoints != nil {
		p.waypoints.Enqueue(f.Waypoints)
	}
	if p.alerts != nil {
		if ns := notify.FromFacts(f); len(ns) > 0 {
			p.alerts.Send(ctx, ns)
		}
	}
	if p.days != nil {
		p.days.MarkFacts(f)
	}

	for _, t := range f.Trips {
		metrics.TripsClosed.Add(1)
		if t.Status == domain.StatusTimedOut {
			metrics.SegmentsTimedOut.Add(1)
		}
	}
	for _, s := range f.Stops {
		metrics.StopsClosed.Add(1)
		if s.Status == domain.StatusTimedOut {
			metrics.SegmentsTimedOut.Add(1)
		}
	}
	for _, r := range f.Rejected {
		p.log.Info("fix rejected",
			zap.String("device_id", r.Fix.DeviceID),
			zap.Time("recorded_at", r.Fix.RecordedAt),
			zap.String("reason", string(r.Reason)),
			zap.String("detail", r.Detail))
	}
	for _, l := range f.Late {
		p.log.Info("late fix recorded",
			zap.String("device_id", l.Fix.DeviceID),
			zap.Time("recorded_at", l.Fix.RecordedAt),
			zap.Int64("lateness_ms", l.LatenessMS))
	}
	return nil
}
