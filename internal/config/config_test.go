package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	c, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, "devnet", c.Chains.Default)
	assert.Equal(t, 30*time.Second, c.Cache.TTL)
	assert.Equal(t, uint(3), c.Retry.Attempts)
	assert.Equal(t, time.Second, c.Retry.BaseDelay)
	assert.Equal(t, 60*time.Second, c.Signer.Timeout)
	assert.Equal(t, "m/44'/501'/0'/0'", c.Signer.DerivationPath)
	assert.Empty(t, c.Storage.PostgresDSN)
	assert.Zero(t, c.RPC.RateLimit)
}

func TestLoadFrom_Overrides(t *testing.T) {
	c, err := LoadFrom(map[string]string{
		"LOG_LEVEL":        "debug",
		"CACHE_TTL":        "5s",
		"RETRY_ATTEMPTS":   "5",
		"RETRY_BASE_DELAY": "250ms",
		"RPC_RATE_LIMIT":   "40",
		"RPC_RATE_WINDOW":  "10s",
		"POSTGRES_DSN":     "postgres://localhost/msig",
		"DEFAULT_CHAIN":    "mainnet",
	})
	require.NoError(t, err)

	assert.Equal(t, "debug", c.Logging().Level)
	assert.Equal(t, 5*time.Second, c.Cache.TTL)
	assert.Equal(t, uint(5), c.Retry.Attempts)
	assert.Equal(t, 250*time.Millisecond, c.Retry.BaseDelay)
	assert.Equal(t, uint64(40), c.RPC.RateLimit)
	assert.Equal(t, "postgres://localhost/msig", c.Storage.PostgresDSN)
	assert.Equal(t, "mainnet", c.Chains.Default)
}

func TestLoadFrom_Invalid(t *testing.T) {
	for name, vars := range map[string]map[string]string{
		"level":    {"LOG_LEVEL": "chatty"},
		"attempts": {"RETRY_ATTEMPTS": "0"},
		"ttl":      {"CACHE_TTL": "0s"},
		"duration": {"SIGNER_TIMEOUT": "soon"},
	} {
		_, err := LoadFrom(vars)
		assert.Error(t, err, name)
	}
}
