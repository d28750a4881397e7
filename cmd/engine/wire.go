package main

import (
	"fmt"

	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"fleet-monitor/telematics/internal/aggregate"
	"fleet-monitor/telematics/internal/anomaly"
	"fleet-monitor/telematics/internal/config"
	"fleet-monitor/telematics/internal/notify"
	"fleet-monitor/telematics/internal/segmenter"
	"fleet-monitor/telematics/internal/store"
	"fleet-monitor/telematics/internal/tracker"
	"fleet-monitor/telematics/internal/validator"
)

func buildTracker(cfg *config.Config, ledger anomaly.FuelLedger) *tracker.Tracker {
	return tracker.New(
		tracker.Config{RecentFixes: cfg.RecentFixes},
		validator.New(validator.Config{
			MinSatellites:       cfg.MinSatellites,
			MaxImplicitSpeedKph: cfg.MaxImplicitSpeedKph,
			RejectDeviceInvalid: cfg.RejectDeviceInvalid,
			DriftRadiusM:        cfg.DriftRadiusM,
			MotionThresholdKph:  cfg.MotionThresholdKph,
			MaxFutureSkew:       cfg.MaxFutureSkew,
		}),
		segmenter.New(segmenter.Config{
			MotionThresholdKph:  cfg.MotionThresholdKph,
			StopHysteresis:      cfg.StopHysteresis,
			SilenceTimeout:      cfg.SilenceTimeout,
			HarshBrakingG:       cfg.HarshBrakingG,
			HarshAccelerationG:  cfg.HarshAccelerationG,
			HarshMaxGap:         cfg.HarshMaxGap,
			OdometerToleranceKm: cfg.OdometerToleranceKm,
		}),
		anomaly.NewSpeedDetector(anomaly.SpeedConfig{
			DefaultLimitKph: cfg.DefaultSpeedLimitKph,
			MarginKph:       cfg.SpeedMarginKph,
			MinDuration:     cfg.MinOverspeedDuration,
		}),
		anomaly.NewFuelDetector(anomaly.FuelConfig{
			LeakThresholdL:   cfg.FuelLeakThresholdL,
			RefuelThresholdL: cfg.FuelRefuelThresholdL,
			StableDeltaL:     cfg.FuelStableDeltaL,
			NormalWindow:     cfg.FuelNormalWindow,
			LedgerWindow:     cfg.FuelLedgerWindow,
			LedgerToleranceL: cfg.FuelLedgerToleranceL,
			HistoryTrips:     cfg.FuelHistoryTrips,
			DefaultL100Km:    cfg.DefaultExpectedL100Km,
		}, ledger),
	)
}

func scoreConfig(cfg *config.Config) aggregate.ScoreConfig {
	return aggregate.ScoreConfig{
		SpeedingPer100Km: cfg.ScoreSpeedingPer100Km,
		BrakingPer100Km:  cfg.ScoreBrakingPer100Km,
		AccelPer100Km:    cfg.ScoreAccelPer100Km,
		IdlePct:          cfg.ScoreIdlePct,
		FuelOverPct:      cfg.ScoreFuelOverPct,
		WeightSpeeding:   cfg.ScoreWeightSpeeding,
		WeightBraking:    cfg.ScoreWeightBraking,
		WeightAccel:      cfg.ScoreWeightAccel,
		WeightIdle:       cfg.ScoreWeightIdle,
		WeightFuel:       cfg.ScoreWeightFuel,
	}
}

type notifiers struct {
	multi  *notify.Multi
	hub    *notify.Hub
	amqp   *amqp.Connection
	amqpCh *notify.AMQPNotifier
	nats   *nats.Conn
	log    *zap.Logger
}

// buildNotifiers always publishes to Redis; RabbitMQ, NATS and the
// websocket feed are enabled by configuration.
func buildNotifiers(cfg *config.Config, rdb *store.RedisStore, log *zap.Logger) (*notifiers, error) {
	multi := notify.NewMulti(cfg.NotifyQueueSize, cfg.NotifyTimeout, log, notify.NewRedisNotifier(rdb))
	n := &notifiers{multi: multi, log: log}

	if cfg.AMQPURL != "" {
		conn, err := notify.DialAMQP(cfg.AMQPURL)
		if err != nil {
			return nil, err
		}
		p, err := notify.NewAMQPNotifier(conn, cfg.AMQPExchange)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("amqp notifier: %w", err)
		}
		n.amqp, n.amqpCh = conn, p
		n.multi.Add(p)
	}

	if cfg.NATSURL != "" {
		nc, err := notify.ConnectNATS(cfg.NATSURL)
		if err != nil {
			n.close()
			return nil, err
		}
		n.nats = nc
		n.multi.Add(notify.NewNATSNotifier(nc, cfg.NATSSubject))
	}

	if cfg.WSEnabled {
		n.hub = notify.NewHub(log.Named("ws"))
		n.multi.Add(n.hub)
	}
	return n, nil
}

func (n *notifiers) close() {
	if n.amqpCh != nil {
		if err := n.amqpCh.Close(); err != nil {
			n.log.Warn("amqp channel close failed", zap.Error(err))
		}
	}
	if n.amqp != nil {
		_ = n.amqp.Close()
	}
	if n.nats != nil {
		if err := n.nats.Drain(); err != nil {
			n.nats.Close()
		}
	}
}
