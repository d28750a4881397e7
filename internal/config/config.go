package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP
	HTTPPort string
	LogLevel string

	// Postgres
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int32
	DBMigrate  bool

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// MQTT ingest, disabled when the broker URL is empty
	MQTTBrokerURL string
	MQTTClientID  string
	MQTTTopic     string
	MQTTQoS       int

	// Notification fan-out, each disabled when its URL is empty
	AMQPURL      string
	AMQPExchange string
	NATSURL      string
	NATSSubject  string
	WSEnabled    bool

	NotifyQueueSize int
	NotifyTimeout   time.Duration

	// Fleet configuration source: "postgres" or "yaml"
	FleetSource          string
	FleetFile            string
	FleetRefreshInterval time.Duration

	// Router and per-device workers
	RouterShards       int
	DeviceQueueSize    int
	IngestTimeout      time.Duration
	MaxLateness        time.Duration
	MaxBuffered        int
	RecentFixes        int
	CheckpointInterval time.Duration
	WatchdogInterval   time.Duration
	IdleEviction       time.Duration

	// Waypoint batch writer tuning
	WaypointChannelSize     int
	WaypointBatchSize       int
	WaypointFlushIntervalMS int

	// Live state
	StateChannelSize int
	StateTTL         time.Duration

	// Validator
	MinSatellites       int
	MaxImplicitSpeedKph float64
	RejectDeviceInvalid bool
	DriftRadiusM        float64
	MaxFutureSkew       time.Duration

	// Segmenter
	MotionThresholdKph  float64
	StopHysteresis      time.Duration
	SilenceTimeout      time.Duration
	HarshBrakingG       float64
	HarshAccelerationG  float64
	HarshMaxGap         time.Duration
	OdometerToleranceKm float64

	// Anomaly detection
	DefaultSpeedLimitKph  float64
	SpeedMarginKph        float64
	MinOverspeedDuration  time.Duration
	FuelLeakThresholdL    float64
	FuelRefuelThresholdL  float64
	FuelStableDeltaL      float64
	FuelNormalWindow      time.Duration
	FuelLedgerWindow      time.Duration
	FuelLedgerToleranceL  float64
	FuelHistoryTrips      int
	DefaultExpectedL100Km float64

	// Aggregation
	AggregationTimezone string
	AggregationInterval time.Duration

	// Driver scoring
	ScoreSpeedingPer100Km float64
	ScoreBrakingPer100Km  float64
	ScoreAccelPer100Km    float64
	ScoreIdlePct          float64
	ScoreFuelOverPct      float64
	ScoreWeightSpeeding   float64
	ScoreWeightBraking    float64
	ScoreWeightAccel      float64
	ScoreWeightIdle       float64
	ScoreWeightFuel       float64

	// Sink retries
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// Auth
	AuthCacheTTLSeconds int
	ValidAPIKeys        []string
}

func Load() *Config {
	return &Config{
		HTTPPort:   getEnv("HTTP_PORT", "8001"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "fleet_user"),
		DBPassword: getEnv("DB_PASSWORD", "fleet_password"),
		DBName:     getEnv("DB_NAME", "fleet_monitor"),
		DBMaxConns: int32(getEnvInt("DB_MAX_CONNS", 15)),
		DBMigrate:  getEnvBool("DB_MIGRATE", true),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MQTTBrokerURL: getEnv("MQTT_BROKER_URL", ""),
		MQTTClientID:  getEnv("MQTT_CLIENT_ID", "telematics-engine"),
		MQTTTopic:     getEnv("MQTT_TOPIC", "fleet/device/+/position"),
		MQTTQoS:       getEnvInt("MQTT_QOS", 1),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "fleet.events"),
		NATSURL:      getEnv("NATS_URL", ""),
		NATSSubject:  getEnv("NATS_SUBJECT", "fleet.alerts"),
		WSEnabled:    getEnvBool("WS_ENABLED", true),

		NotifyQueueSize: getEnvInt("NOTIFY_QUEUE_SIZE", 10000),
		NotifyTimeout:   getEnvDuration("NOTIFY_TIMEOUT", 5*time.Second),

		FleetSource:          getEnv("FLEET_SOURCE", "postgres"),
		FleetFile:            getEnv("FLEET_FILE", "fleet.yaml"),
		FleetRefreshInterval: getEnvDuration("FLEET_REFRESH_INTERVAL", time.Minute),

		RouterShards:       getEnvInt("ROUTER_SHARDS", 16),
		DeviceQueueSize:    getEnvInt("DEVICE_QUEUE_SIZE", 256),
		IngestTimeout:      getEnvDuration("INGEST_TIMEOUT", 200*time.Millisecond),
		MaxLateness:        getEnvDuration("MAX_LATENESS", 30*time.Second),
		MaxBuffered:        getEnvInt("MAX_BUFFERED", 64),
		RecentFixes:        getEnvInt("RECENT_FIXES", 32),
		CheckpointInterval: getEnvDuration("CHECKPOINT_INTERVAL", 30*time.Second),
		WatchdogInterval:   getEnvDuration("WATCHDOG_INTERVAL", time.Minute),
		IdleEviction:       getEnvDuration("IDLE_EVICTION", 6*time.Hour),

		WaypointChannelSize:     getEnvInt("WAYPOINT_CHANNEL_SIZE", 10000),
		WaypointBatchSize:       getEnvInt("WAYPOINT_BATCH_SIZE", 500),
		WaypointFlushIntervalMS: getEnvInt("WAYPOINT_FLUSH_INTERVAL_MS", 100),

		StateChannelSize: getEnvInt("STATE_CHANNEL_SIZE", 50000),
		StateTTL:         getEnvDuration("STATE_TTL", 30*time.Second),

		MinSatellites:       getEnvInt("MIN_SATELLITES", 4),
		MaxImplicitSpeedKph: getEnvFloat("MAX_IMPLICIT_SPEED_KPH", 250),
		RejectDeviceInvalid: getEnvBool("REJECT_DEVICE_INVALID", false),
		DriftRadiusM:        getEnvFloat("DRIFT_RADIUS_M", 15),
		MaxFutureSkew:       getEnvDuration("MAX_FUTURE_SKEW", 10*time.Minute),

		MotionThresholdKph:  getEnvFloat("MOTION_THRESHOLD_KPH", 5),
		StopHysteresis:      getEnvDuration("STOP_HYSTERESIS", 90*time.Second),
		SilenceTimeout:      getEnvDuration("SILENCE_TIMEOUT", 2*time.Hour),
		HarshBrakingG:       getEnvFloat("HARSH_BRAKING_G", 0.4),
		HarshAccelerationG:  getEnvFloat("HARSH_ACCELERATION_G", 0.35),
		HarshMaxGap:         getEnvDuration("HARSH_MAX_GAP", 5*time.Second),
		OdometerToleranceKm: getEnvFloat("ODOMETER_TOLERANCE_KM", 1),

		DefaultSpeedLimitKph:  getEnvFloat("DEFAULT_SPEED_LIMIT_KPH", 0),
		SpeedMarginKph:        getEnvFloat("SPEED_MARGIN_KPH", 5),
		MinOverspeedDuration:  getEnvDuration("MIN_OVERSPEED_DURATION", 15*time.Second),
		FuelLeakThresholdL:    getEnvFloat("FUEL_LEAK_THRESHOLD_L", 10),
		FuelRefuelThresholdL:  getEnvFloat("FUEL_REFUEL_THRESHOLD_L", 10),
		FuelStableDeltaL:      getEnvFloat("FUEL_STABLE_DELTA_L", 1),
		FuelNormalWindow:      getEnvDuration("FUEL_NORMAL_WINDOW", 10*time.Minute),
		FuelLedgerWindow:      getEnvDuration("FUEL_LEDGER_WINDOW", 2*time.Hour),
		FuelLedgerToleranceL:  getEnvFloat("FUEL_LEDGER_TOLERANCE_L", 5),
		FuelHistoryTrips:      getEnvInt("FUEL_HISTORY_TRIPS", 10),
		DefaultExpectedL100Km: getEnvFloat("DEFAULT_EXPECTED_L100KM", 12),

		AggregationTimezone: getEnv("AGGREGATION_TIMEZONE", "UTC"),
		AggregationInterval: getEnvDuration("AGGREGATION_INTERVAL", time.Minute),

		ScoreSpeedingPer100Km: getEnvFloat("SCORE_SPEEDING_PER_100KM", 5),
		ScoreBrakingPer100Km:  getEnvFloat("SCORE_BRAKING_PER_100KM", 10),
		ScoreAccelPer100Km:    getEnvFloat("SCORE_ACCEL_PER_100KM", 10),
		ScoreIdlePct:          getEnvFloat("SCORE_IDLE_PCT", 30),
		ScoreFuelOverPct:      getEnvFloat("SCORE_FUEL_OVER_PCT", 50),
		ScoreWeightSpeeding:   getEnvFloat("SCORE_WEIGHT_SPEEDING", 0.3),
		ScoreWeightBraking:    getEnvFloat("SCORE_WEIGHT_BRAKING", 0.2),
		ScoreWeightAccel:      getEnvFloat("SCORE_WEIGHT_ACCEL", 0.2),
		ScoreWeightIdle:       getEnvFloat("SCORE_WEIGHT_IDLE", 0.15),
		ScoreWeightFuel:       getEnvFloat("SCORE_WEIGHT_FUEL", 0.15),

		RetryMaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 5),
		RetryBaseDelay:   getEnvDuration("RETRY_BASE_DELAY", 100*time.Millisecond),
		RetryMaxDelay:    getEnvDuration("RETRY_MAX_DELAY", 5*time.Second),

		AuthCacheTTLSeconds: getEnvInt("AUTH_CACHE_TTL_SECONDS", 300),
		ValidAPIKeys:        strings.Split(getEnv("VALID_API_KEYS", ""), ","),
	}
}

// DatabaseURL is the pgx connection string. pool_max_conns is read by pgxpool.
func (c *Config) DatabaseURL() string {
	return "postgres://" + c.DBUser + ":" + c.DBPassword + "@" + c.DBHost + ":" + c.DBPort +
		"/" + c.DBName + "?pool_max_conns=" + strconv.Itoa(int(c.DBMaxConns))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
