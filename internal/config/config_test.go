package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "mender", cfg.Logger.ServiceName)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 1280, cfg.Browser.ViewportWidth)
	assert.Equal(t, 300*time.Millisecond, cfg.Sandbox.Settle)
	assert.Equal(t, 0.60, cfg.Sandbox.Thresholds.NavigationGlobal)
	assert.True(t, cfg.Injector.Strict, "injection is strict unless configured otherwise")
	assert.Equal(t, 3, cfg.Orchestrator.MaxLLMAttempts)
	assert.Equal(t, 120*time.Second, cfg.Orchestrator.GlobalTimeout())
	assert.Equal(t, 0.9, cfg.Orchestrator.PassThreshold)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.DefaultPowerfulModel)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	require.NoError(t, cfg.Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"browser concurrency", func(c *Config) { c.Browser.Concurrency = 0 }, "browser.concurrency must be a positive integer"},
		{"viewport", func(c *Config) { c.Browser.ViewportHeight = 0 }, "viewport dimensions"},
		{"max elements", func(c *Config) { c.Sandbox.MaxElements = 0 }, "max_elements"},
		{"pixel tolerance", func(c *Config) { c.Sandbox.PixelTolerance = 300 }, "pixel_tolerance"},
		{"threshold range", func(c *Config) { c.Sandbox.Thresholds.NavigationGlobal = 1.5 }, "navigation_global"},
		{"noise floor order", func(c *Config) { c.Sandbox.Thresholds.NoiseFloor = 0.5 }, "noise_floor"},
		{"attempts", func(c *Config) { c.Orchestrator.MaxLLMAttempts = -1 }, "max_llm_attempts"},
		{"timeout", func(c *Config) { c.Orchestrator.GlobalTimeoutSeconds = 0 }, "global_timeout_seconds"},
		{"pass threshold", func(c *Config) { c.Orchestrator.PassThreshold = 1.1 }, "pass_threshold"},
		{"driver concurrency", func(c *Config) { c.Driver.Concurrency = 0 }, "driver.concurrency"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

// -- Viper Integration Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Setenv("MENDER_LLM_API_KEY", "test-key")

	yamlConfig := []byte(`
orchestrator:
  max_llm_attempts: 5
  global_timeout_seconds: 0.5
sandbox:
  settle: 1s
  thresholds:
    responsive_tight: 0.1
injector:
  strict: false
`)
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Orchestrator.MaxLLMAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Orchestrator.GlobalTimeout())
	assert.Equal(t, time.Second, cfg.Sandbox.Settle)
	assert.Equal(t, 0.1, cfg.Sandbox.Thresholds.ResponsiveTight)
	assert.Equal(t, 0.02, cfg.Sandbox.Thresholds.CascadeLocal, "untouched keys keep their defaults")
	assert.False(t, cfg.Injector.Strict)
	assert.Equal(t, "test-key", cfg.LLM.APIKey)
}

func TestNewConfigFromViper_Invalid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("orchestrator.global_timeout_seconds", -1)

	_, err := NewConfigFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
