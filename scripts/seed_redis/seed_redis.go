package main

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/joho/godotenv"

	"fleet-monitor/telematics/internal/config"
	"fleet-monitor/telematics/internal/store"
)

// device API keys for local development; each key may only post for its
// own device
var deviceKeys = map[string]string{
	"dev_truck_001_key": "truck-001",
	"dev_truck_002_key": "truck-002",
	"dev_van_001_key":   "van-001",
	"test_key":          "test-device",
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file, using system environment variables")
	}

	cfg := config.Load()
	ctx := context.Background()

	fmt.Println("Connecting to Redis...")
	rdb, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
	}
	defer rdb.Close()
	fmt.Println("✓ Connected")

	seedKeys(ctx, rdb)
	verify(ctx, rdb)

	fmt.Println("\n✅ Redis seeded successfully")
}

func seedKeys(ctx context.Context, rdb *store.RedisStore) {
	fmt.Println("\n── Step 1: Seeding device API keys ─────────────")

	keys := make([]string, 0, len(deviceKeys))
	for k := range deviceKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := rdb.SetDeviceKey(ctx, key, deviceKeys[key]); err != nil {
			log.Fatalf("Failed to set key %s: %v", key, err)
		}
		fmt.Printf("  ✓ %-25s → %s\n", key, deviceKeys[key])
	}
}

func verify(ctx context.Context, rdb *store.RedisStore) {
	fmt.Println("\n── Step 2: Verification ────────────────────────")

	for key, want := range deviceKeys {
		got, err := rdb.GetDeviceKey(ctx, key)
		if err != nil {
			log.Fatalf("Spot check failed: %v", err)
		}
		if got != want {
			log.Fatalf("Key %s resolves to %q, want %q", key, got, want)
		}
	}
	fmt.Printf("  ✓ %d device keys resolve\n", len(deviceKeys))
}
