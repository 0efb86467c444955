package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"

[chain]
endpoint = "https://sepolia.example.org"
to_address = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
receipt_timeout = "90s"

[postgres]
enabled = true
host = "db.internal"
`)

	cfg, err := Load(path, true)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "https://sepolia.example.org", cfg.Chain.Endpoint)
	assert.Equal(t, 90*time.Second, cfg.Chain.ReceiptTimeout.Duration)

	// Unset fields keep their defaults.
	assert.Equal(t, uint64(400_000), cfg.Chain.GasLimit)
	assert.Equal(t, 2*time.Second, cfg.Chain.PollInterval.Duration)
	assert.True(t, cfg.Postgres.Enabled)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, 5432, cfg.Postgres.Port)
}

func TestLoadMissingDefaultFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"), false)
	require.NoError(t, err)
	assert.Equal(t, Defaults().Chain.GasLimit, cfg.Chain.GasLimit)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "prod.toml"), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLoadBadTOML(t *testing.T) {
	path := writeConfig(t, "chain = {{{")
	_, err := Load(path, true)
	require.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[chain]
endpoint = "http://from-file:8545"
gas_limit = 100000
`)

	t.Setenv("TXSIM_CHAIN_ENDPOINT", "http://from-env:8545")
	t.Setenv("TXSIM_CHAIN_GAS_LIMIT", "250000")
	t.Setenv("TXSIM_CHAIN_POLL_INTERVAL", "500ms")
	t.Setenv("TXSIM_REDIS_ENABLED", "true")
	t.Setenv("TXSIM_NOTIFY_EVENTS", "tx_failed, swap_failed")

	cfg, err := Load(path, true)
	require.NoError(t, err)

	assert.Equal(t, "http://from-env:8545", cfg.Chain.Endpoint)
	assert.Equal(t, uint64(250_000), cfg.Chain.GasLimit)
	assert.Equal(t, 500*time.Millisecond, cfg.Chain.PollInterval.Duration)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, []string{"tx_failed", "swap_failed"}, cfg.Notify.Events)
}

func TestLoadCompatibilityAliases(t *testing.T) {
	t.Setenv("PRIVATE_KEY", testKey)
	t.Setenv("TESTNET_ENDPOINT", "wss://sepolia.example.org")
	t.Setenv("TO_ADDRESS", testAddr)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"), false)
	require.NoError(t, err)

	assert.Equal(t, testKey, cfg.Wallet.PrivateKey)
	assert.Equal(t, "wss://sepolia.example.org", cfg.Chain.Endpoint)
	assert.Equal(t, testAddr, cfg.Chain.ToAddress)
}

func TestLoadEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("TXSIM_CHAIN_GAS_LIMIT", "lots")
	t.Setenv("TXSIM_REDIS_ENABLED", "maybe")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"), false)
	require.NoError(t, err)

	assert.Equal(t, uint64(400_000), cfg.Chain.GasLimit)
	assert.False(t, cfg.Redis.Enabled)
}
