package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultIntentThreshold, cfg.IntentThreshold)
	assert.Equal(t, DefaultDispatchDeadline, cfg.DispatchDeadline)
	assert.Equal(t, DefaultProviderTimeout, cfg.ProviderTimeout)
	assert.Equal(t, int64(DefaultMaxInFlight), cfg.MaxInFlightCalls)
	assert.Nil(t, cfg.ProviderWeights)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "DISPATCH_DEADLINE", "10s")
	setEnv(t, "PROVIDER_TIMEOUT", "3s")
	setEnv(t, "INTENT_THRESHOLD", "0.6")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.DispatchDeadline)
	assert.Equal(t, 3*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 0.6, cfg.IntentThreshold)
}

func TestLoad_InvalidTimeoutOrdering(t *testing.T) {
	setEnv(t, "DISPATCH_DEADLINE", "1s")
	setEnv(t, "PROVIDER_TIMEOUT", "5s")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "PROVIDER_TIMEOUT")
}

func TestLoad_InvalidThreshold(t *testing.T) {
	setEnv(t, "INTENT_THRESHOLD", "1.5")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "INTENT_THRESHOLD")
}

func TestParseWeights(t *testing.T) {
	weights := parseWeights("sim_swap=1.0, scam_signal=1.5,kyc_match=0.8")
	require.NotNil(t, weights)
	assert.Equal(t, 1.0, weights["sim_swap"])
	assert.Equal(t, 1.5, weights["scam_signal"])
	assert.Equal(t, 0.8, weights["kyc_match"])

	// Malformed entries are skipped entirely.
	assert.Nil(t, parseWeights("garbage"))
	assert.Nil(t, parseWeights(""))

	// Negative weights rejected.
	weights = parseWeights("sim_swap=-1,device_swap=2")
	require.NotNil(t, weights)
	_, ok := weights["sim_swap"]
	assert.False(t, ok)
	assert.Equal(t, 2.0, weights["device_swap"])
}

func TestConfig_RiskThresholdOrdering(t *testing.T) {
	setEnv(t, "RISK_MEDIUM_THRESHOLD", "0.7")
	setEnv(t, "RISK_HIGH_THRESHOLD", "0.6")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "strictly increasing")
}
