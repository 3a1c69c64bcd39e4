package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Store backends for ORDERS_STORE.
const (
	StorePebble = "pebble"
	StoreMemory = "memory"
)

type Server struct {
	Addr        string `validate:"required"`
	CORSOrigins []string
}

type Orders struct {
	// Store selects the order store backend. Empty means the store is not
	// configured and order endpoints answer 500.
	Store            string `validate:"omitempty,oneof=pebble memory"`
	DataDir          string `validate:"required"`
	IdempotencyIndex bool
	MarketSymbol     string `validate:"required"`
	DefaultClientID  string `validate:"required"`
	PulseSampleLimit int    `validate:"gt=0"`
}

type Events struct {
	// Brokers empty means the queue is not configured.
	Brokers     []string
	Topic       string        `validate:"required"`
	DedupWindow time.Duration `validate:"gt=0"`
}

type Personas struct {
	StoreEnabled bool
	CacheTTL     time.Duration `validate:"gt=0"`
	RedisAddr    string
}

// Build is provenance reported by /api/config and stamped on stored orders.
type Build struct {
	Region           string `validate:"required"`
	AvailabilityZone string `validate:"required"`
	Env              string `validate:"required"`
	Version          string `validate:"required"`
	Commit           string
	BuildTime        string
}

type Config struct {
	Server   Server
	Orders   Orders
	Events   Events
	Personas Personas
	Build    Build
	LogFile  string
	LogLevel string `validate:"oneof=debug info warn error"`
}

func Default() Config {
	return Config{
		Server: Server{
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Orders: Orders{
			Store:            StorePebble,
			DataDir:          "data",
			IdempotencyIndex: true,
			MarketSymbol:     "tulip",
			DefaultClientID:  "demo-ui",
			PulseSampleLimit: 200,
		},
		Events: Events{
			Topic:       "orders.events",
			DedupWindow: 5 * time.Minute, // FIFO queue dedup interval
		},
		Personas: Personas{
			StoreEnabled: true,
			CacheTTL:     30 * time.Second,
		},
		Build: Build{
			Region:           "unknown",
			AvailabilityZone: "unknown",
			Env:              "qa",
			Version:          "0.0.0",
			BuildTime:        time.Now().UTC().Format("2006-01-02T15:04:05.999999") + "Z",
		},
		LogLevel: "info",
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (*Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Server.Addr = getEnv("API_ADDR", cfg.Server.Addr)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.Server.CORSOrigins = splitList(origins)
	}

	if store, ok := os.LookupEnv("ORDERS_STORE"); ok {
		cfg.Orders.Store = strings.ToLower(strings.TrimSpace(store))
	}
	cfg.Orders.DataDir = getEnv("DATA_DIR", cfg.Orders.DataDir)
	cfg.Orders.IdempotencyIndex = getBool("IDEMPOTENCY_INDEX", cfg.Orders.IdempotencyIndex)
	cfg.Orders.MarketSymbol = getEnv("MARKET_SYMBOL", cfg.Orders.MarketSymbol)
	cfg.Orders.DefaultClientID = getEnv("DEFAULT_CLIENT_ID", cfg.Orders.DefaultClientID)
	if limit := os.Getenv("PULSE_SAMPLE_LIMIT"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return nil, fmt.Errorf("PULSE_SAMPLE_LIMIT: %w", err)
		}
		cfg.Orders.PulseSampleLimit = n
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Events.Brokers = splitList(brokers)
	}
	cfg.Events.Topic = getEnv("EVENTS_TOPIC", cfg.Events.Topic)
	window, err := getDuration("EVENTS_DEDUP_WINDOW", cfg.Events.DedupWindow)
	if err != nil {
		return nil, err
	}
	cfg.Events.DedupWindow = window

	cfg.Personas.StoreEnabled = getBool("PERSONAS_STORE", cfg.Personas.StoreEnabled)
	ttl, err := getDuration("PERSONA_CACHE_TTL", cfg.Personas.CacheTTL)
	if err != nil {
		return nil, err
	}
	cfg.Personas.CacheTTL = ttl
	cfg.Personas.RedisAddr = os.Getenv("REDIS_ADDR")

	cfg.Build.Region = getEnv("AWS_REGION", cfg.Build.Region)
	// Zone falls back to region when the runtime doesn't expose one.
	cfg.Build.AvailabilityZone = getEnv("AWS_AVAILABILITY_ZONE", cfg.Build.Region)
	cfg.Build.Env = getEnv("APP_ENV", cfg.Build.Env)
	cfg.Build.Version = getEnv("APP_VERSION", cfg.Build.Version)
	cfg.Build.Commit = os.Getenv("GIT_SHA")
	cfg.Build.BuildTime = getEnv("BUILD_TIME", cfg.Build.BuildTime)

	cfg.LogFile = os.Getenv("LOG_FILE")
	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags on every section.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// OrdersConfigured reports whether both order collaborators are wired.
func (c *Config) OrdersConfigured() bool {
	return c.Orders.Store != "" && len(c.Events.Brokers) > 0
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
