// File: internal/config/config_test.go
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

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "formpilot", cfg.Logger().ServiceName)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, 25, cfg.Engine().MaxSteps)
	assert.Equal(t, 2, cfg.Engine().MaxCorrectionAttempts)
	assert.Equal(t, 3*time.Second, cfg.Engine().Timings.NavigationSettle)
	assert.Equal(t, 1500*time.Millisecond, cfg.Engine().Timings.MutationSettle)
	assert.Equal(t, 50*time.Millisecond, cfg.Engine().Timings.BlurDelay)
	assert.Contains(t, cfg.Engine().ProceedVocabulary, "Save and Continue")
	assert.Contains(t, cfg.Engine().ErrorSelectors, "mat-error")
	assert.Equal(t, ProviderGemini, cfg.LLM().Provider)
	assert.False(t, cfg.Cache().Enabled)
	assert.Equal(t, 24*time.Hour, cfg.Cache().TTL)
	assert.NoError(t, cfg.Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Engine Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		require.NoError(t, cfg.Validate())

		invalidSteps := *cfg
		invalidSteps.EngineCfg.MaxSteps = 0
		err := invalidSteps.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_steps must be a positive integer")

		noVocabulary := *cfg
		noVocabulary.EngineCfg.ProceedVocabulary = nil
		err = noVocabulary.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "proceed_vocabulary cannot be empty")

		negativeCap := *cfg
		negativeCap.EngineCfg.MaxCorrectionAttempts = -1
		assert.Error(t, negativeCap.Validate())
	})

	t.Run("LLM Validation", func(t *testing.T) {
		valid := LLMConfig{Provider: ProviderGemini, Model: "gemini-2.5-flash", Temperature: 0.2}
		assert.NoError(t, valid.Validate())

		unknown := valid
		unknown.Provider = "openai"
		err := unknown.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported provider 'openai'")

		hot := valid
		hot.Temperature = 2.5
		assert.Error(t, hot.Validate())
	})

	t.Run("Cache Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.CacheCfg.Enabled = true
		cfg.CacheCfg.Address = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cache.address is required")
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
engine:
  max_steps: 7
  timings:
    navigation_settle: 250ms
browser:
  headless: false
  proxy: http://127.0.0.1:3128
  languages: [de-DE, de]
  timezone: Europe/Berlin
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, 7, cfg.Engine().MaxSteps)
		assert.Equal(t, 250*time.Millisecond, cfg.Engine().Timings.NavigationSettle)
		assert.False(t, cfg.Browser().Headless)
		assert.Equal(t, "http://127.0.0.1:3128", cfg.Browser().Proxy)
		assert.Equal(t, []string{"de-DE", "de"}, cfg.Browser().Languages)
		assert.Equal(t, "Europe/Berlin", cfg.Browser().Timezone)
		// Untouched defaults survive.
		assert.Equal(t, 2*time.Second, cfg.Engine().Timings.PostFill)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("engine.max_fill_rounds", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "max_fill_rounds must be a positive integer")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)

		yamlConfig := []byte(`
database:
  url: "postgres://configfile/db"
`)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

		t.Setenv("FORMPILOT_LLM_API_KEY", "key-from-env")
		t.Setenv("FORMPILOT_DATABASE_URL", "postgres://envvar/db")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, "key-from-env", cfg.LLM().APIKey)
		assert.Equal(t, "postgres://envvar/db", cfg.Database().URL)
	})

	t.Run("Home Directory Expansion", func(t *testing.T) {
		t.Setenv("HOME", "/home/tester")
		v := viper.New()
		SetDefaults(v)
		v.Set("assets.sample_document", "~/docs/resume.pdf")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "/home/tester/docs/resume.pdf", cfg.Assets().SampleDocument)
	})
}

func TestConfigSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	var iface Interface = cfg

	iface.SetBrowserHeadless(false)
	iface.SetEngineMaxSteps(3)
	iface.SetEngineMaxCorrectionAttempts(0)

	assert.False(t, cfg.Browser().Headless)
	assert.Equal(t, 3, cfg.Engine().MaxSteps)
	assert.Equal(t, 0, cfg.Engine().MaxCorrectionAttempts)
}
