package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 10*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 10, cfg.CheckoutRateLimit)
	assert.Equal(t, time.Minute, cfg.CheckoutRateWindow)
	assert.False(t, cfg.LogDev)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("GATEWAY_TIMEOUT_SEC", "3")
	t.Setenv("CHECKOUT_RATE_LIMIT", "2")
	t.Setenv("LOG_DEV", "true")
	t.Setenv("IAMPORT_KEY", "imp_key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 2, cfg.CheckoutRateLimit)
	assert.True(t, cfg.LogDev)
	assert.Equal(t, "imp_key", cfg.GatewayKey)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"REDIS_DB":               "x",
		"CHECKOUT_RATE_LIMIT":    "0",
		"GATEWAY_TIMEOUT_SEC":    "-1",
		"GATEWAY_MAX_FAILURES":   "0",
		"LOG_DEV":                "maybe",
		"RECONCILE_MAX_AGE_SEC":  "60",
		"RECONCILE_INTERVAL_SEC": "abc",
		"RECONCILE_BATCH_SIZE":   "0",
		"DB_BUSY_TIMEOUT_SEC":    "5",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestSQLiteDSN(t *testing.T) {
	cfg := AppConfig{DBPath: "shop.db", DBBusyTimeout: 15 * time.Second}
	assert.Equal(t, "shop.db?_busy_timeout=15000&_journal_mode=WAL", cfg.SQLiteDSN())

	cfg.DBPath = "file:shop.db?cache=shared"
	assert.Equal(t, "file:shop.db?cache=shared&_busy_timeout=15000&_journal_mode=WAL", cfg.SQLiteDSN())
}

func TestSweepLockTTL(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	// 默认 100 笔 × 2 次 × 10s，远大于两个对账周期
	assert.Equal(t, 2000*time.Second, cfg.SweepLockTTL())

	cfg.ReconcileBatch = 1
	cfg.GatewayTimeout = time.Second
	assert.Equal(t, 2*cfg.ReconcileInterval, cfg.SweepLockTTL())
}
