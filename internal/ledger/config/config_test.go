package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tair/stock-ledger/internal/ledger/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "stock-ledger", cfg.ServiceName)
	assert.Equal(t, "8084", cfg.HTTPPort)
	assert.Equal(t, domain.DefaultBounds, cfg.Bounds())
	assert.False(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("QUANTITY_MIN", "-100")
	t.Setenv("QUANTITY_MAX", "100")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "b1:9092,b2:9092")
	t.Setenv("DEFAULT_SHOP_ID", "7")

	cfg := Load()

	assert.Equal(t, domain.QuantityBounds{Min: -100, Max: 100}, cfg.Bounds())
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, uint32(7), cfg.DefaultShopID)
}

func TestQuantityBoundsRejectOutOfRangeValues(t *testing.T) {
	// Values that do not fit in int32 would otherwise narrow into nonsense
	// bounds; they fall back to the defaults instead.
	t.Setenv("QUANTITY_MIN", "-9999999999")
	t.Setenv("QUANTITY_MAX", "9999999999")

	cfg := Load()
	assert.Equal(t, domain.DefaultBounds, cfg.Bounds())

	t.Setenv("QUANTITY_MIN", "not-a-number")
	t.Setenv("QUANTITY_MAX", "100")

	cfg = Load()
	assert.Equal(t, domain.DefaultBounds.Min, cfg.QuantityMin)
	assert.Equal(t, int32(100), cfg.QuantityMax)
}

func TestGlobalOutOfStockPolicy(t *testing.T) {
	ctx := context.Background()

	cfg := &Config{GlobalOutOfStock: "allow"}
	assert.Equal(t, domain.PolicyAllow, cfg.GlobalOutOfStockPolicy(ctx))

	cfg.GlobalOutOfStock = "deny"
	assert.Equal(t, domain.PolicyDeny, cfg.GlobalOutOfStockPolicy(ctx))

	// Unrecognized values resolve to the safe side.
	cfg.GlobalOutOfStock = "whatever"
	assert.Equal(t, domain.PolicyDeny, cfg.GlobalOutOfStockPolicy(ctx))
}
