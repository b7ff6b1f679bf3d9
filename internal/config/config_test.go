package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 7*24*time.Hour, cfg.Sync.WindowSpan)
	assert.Equal(t, 90*24*time.Hour, cfg.Sync.MaxLookback)
	assert.Equal(t, 30*time.Second, cfg.Sync.RequestTimeout)
	assert.Equal(t, int64(5000), cfg.Exchanges.Binance.RecvWindowMs)
	assert.Equal(t, int64(10000), cfg.Exchanges.Bybit.RecvWindowMs)
	assert.Equal(t, "https://api.bybit.com", cfg.Exchanges.Bybit.BaseURL)
	assert.Equal(t, 100, cfg.Exchanges.Bybit.PageLimit)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yml := []byte(`
logger:
  level: debug
  format: json
sync:
  max_lookback: 8760h
  window_span: 24h
exchanges:
  bybit:
    page_limit: 50
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), yml, 0o600))
	t.Setenv("DATA_KEY", "c2VjcmV0")
	t.Setenv("BYBIT_REST_BASE_URL", "https://api-testnet.bybit.com")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "json", cfg.Logger.Format)
	assert.Equal(t, 365*24*time.Hour, cfg.Sync.MaxLookback)
	assert.Equal(t, 24*time.Hour, cfg.Sync.WindowSpan)
	assert.Equal(t, 50, cfg.Exchanges.Bybit.PageLimit)
	assert.Equal(t, "c2VjcmV0", cfg.Vault.DataKey)
	assert.Equal(t, "https://api-testnet.bybit.com", cfg.Exchanges.Bybit.BaseURL)
}

func TestSyncNormalized_BoundsLookback(t *testing.T) {
	s := Sync{MaxLookback: 1000 * 24 * time.Hour}.normalized()
	assert.Equal(t, maxLookback, s.MaxLookback)

	s = Sync{MaxLookback: time.Hour}.normalized()
	assert.Equal(t, minLookback, s.MaxLookback)
}
