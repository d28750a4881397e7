package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fleet-monitor/telematics/internal/auth"
	"fleet-monitor/telematics/internal/config"
	"fleet-monitor/telematics/internal/fleet"
	"fleet-monitor/telematics/internal/logger"
	"fleet-monitor/telematics/internal/pipeline"
	"fleet-monitor/telematics/internal/retry"
	"fleet-monitor/telematics/internal/store"
	httptransport "fleet-monitor/telematics/internal/transport/http"
	mqtttransport "fleet-monitor/telematics/internal/transport/mqtt"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := config.Load()
	zapLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()

	if err := run(cfg, zapLogger); err != nil {
		zapLogger.Fatal("engine stopped with error", zap.Error(err))
	}
	zapLogger.Info("engine exited cleanly")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DBMigrate {
		if err := store.MigrateUp(cfg.DatabaseURL(), log.Named("migrate")); err != nil {
			return err
		}
	}

	pg, err := store.NewPostgresStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer pg.Close()

	rdb, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	var source fleet.Source = pg
	if cfg.FleetSource == "yaml" {
		source = fleet.NewFileSource(cfg.FleetFile)
	}
	registry := fleet.NewRegistry(source, log.Named("fleet"))
	if err := registry.Refresh(ctx); err != nil {
		return fmt.Errorf("initial fleet load: %w", err)
	}

	loc, err := time.LoadLocation(cfg.AggregationTimezone)
	if err != nil {
		return fmt.Errorf("aggregation timezone: %w", err)
	}

	retrier := retry.New(retry.Config{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}, log.Named("retry"))

	alerts, err := buildNotifiers(cfg, rdb, log.Named("notify"))
	if err != nil {
		return err
	}
	defer alerts.close()

	waypoints := pipeline.NewWaypointWriter(pg, retrier,
		cfg.WaypointChannelSize, cfg.WaypointBatchSize, cfg.WaypointFlushIntervalMS, log.Named("waypoints"))
	state := pipeline.NewStateWriter(rdb, cfg.StateChannelSize, cfg.StateTTL, log.Named("state"))
	days := pipeline.NewDirtyDays(loc)
	open := &pipeline.OpenTrips{}

	publisher := pipeline.NewPublisher(pg, retrier, alerts.multi, waypoints, days, log.Named("publisher"))
	engine := pipeline.NewEngine(pipeline.Config{
		Shards:             cfg.RouterShards,
		QueueSize:          cfg.DeviceQueueSize,
		IngestTimeout:      cfg.IngestTimeout,
		MaxLateness:        cfg.MaxLateness,
		MaxBuffered:        cfg.MaxBuffered,
		CheckpointInterval: cfg.CheckpointInterval,
		WatchdogInterval:   cfg.WatchdogInterval,
		IdleEviction:       cfg.IdleEviction,
	}, buildTracker(cfg, pg), registry, rdb, publisher, state, open, retrier, log.Named("engine"))

	aggregator := pipeline.NewAggregateWorker(pg, days, open, registry.ExpectedL100Km,
		scoreConfig(cfg), loc, cfg.AggregationInterval, log.Named("aggregate"))
	if err := aggregator.Seed(ctx); err != nil {
		log.Warn("provisional days not loaded, they finish on their next fact", zap.Error(err))
	}

	// Writers and the aggregator outlive ingest so the facts produced while
	// the engine drains still reach them.
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()
	var bg errgroup.Group
	bg.Go(func() error { waypoints.Run(bgCtx); return nil })
	bg.Go(func() error { state.Run(bgCtx); return nil })
	bg.Go(func() error { alerts.multi.Run(bgCtx); return nil })
	bg.Go(func() error { aggregator.Run(bgCtx); return nil })
	bg.Go(func() error { registry.Run(bgCtx, cfg.FleetRefreshInterval); return nil })

	if err := engine.Restore(ctx); err != nil {
		log.Error("checkpoint restore failed, devices resume on their next fix", zap.Error(err))
	}

	var mqttStatus interface{ IsConnected() bool }
	var sub *mqtttransport.Subscriber
	if cfg.MQTTBrokerURL != "" {
		sub = mqtttransport.NewSubscriber(cfg.MQTTTopic, cfg.MQTTQoS, engine, log.Named("mqtt"))
		if err := sub.Connect(cfg.MQTTBrokerURL, cfg.MQTTClientID); err != nil {
			return err
		}
		mqttStatus = sub
	}

	routes := httptransport.Routes{
		Auth:      httptransport.NewAuthMiddleware(auth.NewAuthenticator(cfg, rdb, log.Named("auth"))),
		Positions: httptransport.NewPositionHandler(engine, log.Named("http")),
		Health:    httptransport.NewHealthChecker(pg, rdb, mqttStatus),
	}
	if alerts.hub != nil {
		routes.AlertFeed = alerts.hub
	}
	server := httptransport.NewServer(cfg.HTTPPort, httptransport.NewRouter(routes, log.Named("http")), log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	if sub != nil {
		g.Go(func() error {
			<-gctx.Done()
			sub.Close()
			return nil
		})
	}

	log.Info("telematics engine started",
		zap.String("fleet_source", cfg.FleetSource),
		zap.Bool("mqtt", sub != nil),
		zap.Int("devices_restored", engine.Devices()))

	runErr := g.Wait()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := engine.Shutdown(shutdownCtx)

	cancelBg()
	_ = bg.Wait()

	return errors.Join(runErr, shutdownErr)
}
