package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
database:
  url: "user:pass@tcp(localhost:3306)/orders?parseTime=true"
pricing:
  1L: "30"
outbound:
  timeout: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	t.Setenv("PORT", "8080")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5*time.Second, cfg.Outbound.Timeout)
	assert.Equal(t, 24*time.Hour, cfg.Reaper.PendingTTL)
	assert.Equal(t, "mock", cfg.Payments.DefaultProvider)

	prices, err := cfg.PriceTable()
	require.NoError(t, err)
	assert.Equal(t, "30", prices["1L"].String())
}

func TestLoadConfig_MissingFileUsesEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "dsn")
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "dsn", cfg.Database.URL)
	assert.Len(t, cfg.Pricing, len(DefaultPricing))
}

func TestValidate_IncompleteAirbapay(t *testing.T) {
	t.Setenv("DATABASE_URL", "dsn")
	t.Setenv("AIRBAPAY_USERNAME", "u")
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestPriceTable_RejectsBadValues(t *testing.T) {
	cfg := Config{Pricing: map[string]string{"1L": "abc"}}
	_, err := cfg.PriceTable()
	require.Error(t, err)

	cfg.Pricing = map[string]string{"1L": "0"}
	_, err = cfg.PriceTable()
	require.Error(t, err)
}

func TestLoadConfig_Robokassa(t *testing.T) {
	t.Setenv("DATABASE_URL", "u:p@tcp(db:3306)/orders")
	t.Setenv("ROBOKASSA_MERCHANT_LOGIN", "shop")
	t.Setenv("ROBOKASSA_PASSWORD1", "p1")

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	t.Setenv("ROBOKASSA_PASSWORD2", "p2")
	t.Setenv("ROBOKASSA_IS_TEST", "true")
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.True(t, cfg.Payments.Robokassa.IsTest)
	assert.Equal(t, "robokassa", cfg.Payments.DefaultProvider)
}
