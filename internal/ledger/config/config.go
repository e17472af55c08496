package config

import (
	"context"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tair/stock-ledger/internal/ledger/domain"
	"github.com/tair/stock-ledger/pkg/database"
)

// Config holds the runtime configuration of the ledger service.
type Config struct {
	ServiceName   string
	Environment   string
	LogLevel      string
	HTTPPort      string
	JWTSecret     string
	DefaultShopID uint32

	QuantityMin int32
	QuantityMax int32

	// GlobalOutOfStock is the installation-wide fallback policy, "deny" or
	// "allow".
	GlobalOutOfStock string

	Database database.Config

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaEnabled bool
	KafkaBrokers []string
	KafkaGroupID string
}

// Load reads configuration from the environment with development defaults.
func Load() *Config {
	bounds := domain.DefaultBounds
	return &Config{
		ServiceName:   getEnv("OTEL_SERVICE_NAME", "stock-ledger"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		HTTPPort:      getEnv("HTTP_PORT", "8084"),
		JWTSecret:     getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		DefaultShopID: uint32(getEnvInt("DEFAULT_SHOP_ID", 0)),

		QuantityMin: getEnvInt32("QUANTITY_MIN", bounds.Min),
		QuantityMax: getEnvInt32("QUANTITY_MAX", bounds.Max),

		GlobalOutOfStock: getEnv("GLOBAL_OUT_OF_STOCK", "deny"),

		Database: database.Config{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "stockdb"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       int(getEnvInt("REDIS_DB", 0)),

		KafkaEnabled: getEnv("KAFKA_ENABLED", "false") == "true",
		KafkaBrokers: strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "stock-ledger"),
	}
}

// Bounds returns the configured quantity range.
func (c *Config) Bounds() domain.QuantityBounds {
	return domain.QuantityBounds{Min: c.QuantityMin, Max: c.QuantityMax}
}

// GlobalOutOfStockPolicy implements domain.ConfigStore. Anything other than
// "allow" resolves to deny, the safer default.
func (c *Config) GlobalOutOfStockPolicy(_ context.Context) domain.OutOfStockPolicy {
	if strings.EqualFold(c.GlobalOutOfStock, "allow") {
		return domain.PolicyAllow
	}
	return domain.PolicyDeny
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt32 falls back to the default, with a warning, when the value does
// not parse or does not fit in int32. Narrowing silently would turn an
// operator typo into a nonsense quantity bound.
func getEnvInt32(key string, defaultValue int32) int32 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < math.MinInt32 || n > math.MaxInt32 {
		log.Warn().
			Str("key", key).
			Str("value", value).
			Int32("default", defaultValue).
			Msg("Ignoring out-of-range integer environment value")
		return defaultValue
	}
	return int32(n)
}

func getEnvInt(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}
