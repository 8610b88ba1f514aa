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

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "STRIPE_API_KEY", "sk_test_123")
	setEnv(t, "STRIPE_WEBHOOK_SECRET", "whsec_123")
	setEnv(t, "PORT", "9090")
	setEnv(t, "LOCK_TIMEOUT", "3s")
	setEnv(t, "RECONCILE_WORKERS", "8")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, 3*time.Second, cfg.LockTimeout)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
	assert.Equal(t, DefaultTriggerBuffer, cfg.TriggerBuffer)
}

func TestLoad_MissingStripeKey(t *testing.T) {
	setEnv(t, "STRIPE_API_KEY", "")
	setEnv(t, "STRIPE_WEBHOOK_SECRET", "whsec_123")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "STRIPE_API_KEY is required")
}

func TestLoad_MissingWebhookSecret(t *testing.T) {
	setEnv(t, "STRIPE_API_KEY", "sk_test_123")
	setEnv(t, "STRIPE_WEBHOOK_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "STRIPE_WEBHOOK_SECRET is required")
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := &Config{
		StripeAPIKey:        "sk_test_123",
		StripeWebhookSecret: "whsec_123",
		LockTimeout:         0,
		Workers:             4,
	}
	assert.ErrorContains(t, cfg.Validate(), "LOCK_TIMEOUT")

	cfg.LockTimeout = time.Second
	cfg.Workers = 0
	assert.ErrorContains(t, cfg.Validate(), "RECONCILE_WORKERS")
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	setEnv(t, "STRIPE_API_KEY", "sk_test_123")
	setEnv(t, "STRIPE_WEBHOOK_SECRET", "whsec_123")
	setEnv(t, "SWEEP_INTERVAL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
}

func TestEnvHelpers(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.True(t, cfg.IsProduction())
}
