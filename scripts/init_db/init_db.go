package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"fleet-monitor/telematics/internal/config"
	"fleet-monitor/telematics/internal/logger"
	"fleet-monitor/telematics/internal/store"
)

var tables = []string{
	"trips",
	"vehicle_stops",
	"geofence_events",
	"speed_limit_alerts",
	"fuel_anomalies",
	"rejected_positions",
	"late_positions",
	"trip_waypoints",
	"daily_statistics",
	"driver_scores",
	"vehicles",
	"geofences",
	"vehicle_geofences",
	"fuel_records",
}

func main() {
	down := flag.Bool("down", false, "roll back every migration instead of applying them")
	force := flag.Int("force", -1, "mark this schema version as applied and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := config.Load()
	zapLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()

	dbURL := cfg.DatabaseURL()
	ctx := context.Background()

	switch {
	case *force >= 0:
		fmt.Printf("\n── Forcing schema version %d ──────────────────\n", *force)
		if err := store.MigrateForce(dbURL, *force, zapLogger); err != nil {
			log.Fatalf("Force failed: %v", err)
		}
		fmt.Println("  ✓ version forced")
		return

	case *down:
		fmt.Println("\n── Rolling back migrations ─────────────────────")
		if err := store.MigrateDown(dbURL, zapLogger); err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		fmt.Println("  ✓ schema dropped")
		return
	}

	fmt.Println("\n── Step 1: Migrations ──────────────────────────")
	if err := store.MigrateUp(dbURL, zapLogger); err != nil {
		log.Fatalf("Migration failed: %v\n\nMake sure Postgres is running:\n  docker-compose up -d postgres", err)
	}
	version, dirty, err := store.MigrateVersion(dbURL, zapLogger)
	if err != nil {
		log.Fatalf("Version check failed: %v", err)
	}
	if dirty {
		log.Fatalf("Schema version %d is dirty, fix it and rerun with -force %d", version, version)
	}
	fmt.Printf("  ✓ schema at version %d\n", version)

	fmt.Println("\n── Step 2: Verification ────────────────────────")
	pg, err := store.NewPostgresStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Connection failed: %v", err)
	}
	defer pg.Close()

	n, err := pg.CountTables(ctx, tables)
	if err != nil {
		log.Fatalf("Verification failed: %v", err)
	}
	if n != len(tables) {
		log.Fatalf("Expected %d tables, found %d", len(tables), n)
	}
	fmt.Printf("  ✓ %d tables present\n", n)

	fmt.Println("\n✅ Database initialised successfully")
	fmt.Println("   Run next: go run ./scripts/seed_redis")
}
