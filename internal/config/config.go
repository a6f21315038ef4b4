package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/unclebandit/leadnurture/internal/db"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	// Storage
	DatabaseURL   string
	StoreDriver   string
	MigrationsDir string
	RedisURL      string // empty disables redis leases and events

	// Dispatch
	AMQPURL   string // empty logs messages instead of publishing them
	AMQPQueue string

	// Templates
	TemplatesPath   string
	WelcomeTemplate string

	// Engine
	EngineEmbedded      bool
	TickInterval        time.Duration
	TickConcurrency     int
	TickBatchSize       int
	LeaseTTL            time.Duration
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	DispatchMaxAttempts int // 0 = retry forever
	EventsChannel       string

	// Server
	APIPort   string
	JWTSecret string // empty disables auth
}

func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		StoreDriver:   strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "migrations"),
		RedisURL:      getEnv("REDIS_URL", ""),

		AMQPURL:   getEnv("AMQP_URL", ""),
		AMQPQueue: getEnv("AMQP_QUEUE", "campaign_sends"),

		TemplatesPath:   getEnv("TEMPLATES_PATH", "campaigns.yaml"),
		WelcomeTemplate: getEnv("WELCOME_TEMPLATE", "welcome_series"),

		EngineEmbedded:      getEnvBool("ENGINE_EMBEDDED", false),
		TickInterval:        getEnvDuration("TICK_INTERVAL", time.Minute),
		TickConcurrency:     getEnvInt("TICK_CONCURRENCY", 4),
		TickBatchSize:       getEnvInt("TICK_BATCH_SIZE", 100),
		LeaseTTL:            getEnvDuration("LEASE_TTL", 2*time.Minute),
		RetryBaseDelay:      getEnvDuration("RETRY_BASE_DELAY", time.Minute),
		RetryMaxDelay:       getEnvDuration("RETRY_MAX_DELAY", time.Hour),
		DispatchMaxAttempts: getEnvInt("DISPATCH_MAX_ATTEMPTS", 10),
		EventsChannel:       getEnv("EVENTS_CHANNEL", "nurture:events"),

		APIPort:   getEnv("API_PORT", "8080"),
		JWTSecret: getEnv("JWT_SECRET", ""),
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = db.DSN(
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", "postgres"),
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_NAME", "leadnurture"),
		)
	}

	return cfg
}

func (c *Config) Validate(log *zap.Logger) {
	if c.StoreDriver == StoreDriverMemory {
		log.Warn("STORE_DRIVER=memory, campaign state will not survive a restart")
	}
	if c.RedisURL == "" {
		log.Warn("REDIS_URL is not set, instance leases are process-local")
	}
	if c.AMQPURL == "" {
		log.Warn("AMQP_URL is not set, messages will only be logged")
	}
	if c.JWTSecret == "" {
		log.Warn("JWT_SECRET is not set, control API is unauthenticated")
	}
	if c.LeaseTTL < c.TickInterval {
		log.Warn("LEASE_TTL is shorter than TICK_INTERVAL",
			zap.Duration("lease_ttl", c.LeaseTTL), zap.Duration("tick_interval", c.TickInterval))
	}
	if c.DispatchMaxAttempts == 0 {
		log.Warn("DISPATCH_MAX_ATTEMPTS=0, failing steps are retried forever")
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fallback
	}
	return v
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
