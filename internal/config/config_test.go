// Package config tests configuration loading and validation.
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

	assert.Equal(t, EnvDevelopment, cfg.App.Environment)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.True(t, cfg.System.CacheEnabled)
	assert.Equal(t, 2, cfg.System.MaxCorrectionAttempts)
	assert.Equal(t, 10000, cfg.System.SQLRowLimit)
	assert.Greater(t, cfg.System.PipelineTimeout, cfg.System.QueryTimeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("LLM_MODEL", "gpt-4o-mini")
	t.Setenv("QUERY_TIMEOUT", "45s")
	t.Setenv("PIPELINE_TIMEOUT", "300s")
	t.Setenv("CACHE_MAX_SIZE", "250")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 45*time.Second, cfg.System.QueryTimeout)
	assert.Equal(t, 250, cfg.System.CacheMaxSize)
}

func TestValidate_Bounds(t *testing.T) {
	cfg := MustLoad()

	cfg.LLM.Timeout = 5 * time.Second
	assert.Error(t, cfg.Validate(), "LLM timeout below 30s must fail")

	cfg = MustLoad()
	cfg.System.MaxCorrectionAttempts = 9
	assert.Error(t, cfg.Validate(), "correction attempts above 3 must fail")

	cfg = MustLoad()
	cfg.System.PipelineTimeout = cfg.System.QueryTimeout
	assert.Error(t, cfg.Validate(), "pipeline timeout must exceed query timeout")
}

func TestValidateForProduction(t *testing.T) {
	cfg := MustLoad()
	assert.Error(t, cfg.ValidateForProduction(), "dev config must not pass production validation")

	cfg.App.Environment = EnvProduction
	cfg.Auth.JWTSecret = "secret"
	cfg.Audit.SecretKey = "audit-secret"
	assert.NoError(t, cfg.ValidateForProduction())
}
