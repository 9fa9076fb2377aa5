package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"UPSTREAM_API_KEY", "MODEL_API_KEY", "DATABASE_URL", "CACHE_TTL_MINUTES",
		"MAX_CONTEXT_TOKENS", "SAFETY_BUFFER", "MAX_RETRIES", "RETRY_BASE_DELAY",
		"RATE_LIMIT_DELAY", "MAX_CONCURRENT_ANALYSES", "MONITORED_JURISDICTIONS",
		"LOG_LEVEL", configFileEnvVar,
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadAppliesHardcodedDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv(configFileEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, defaultMaxContextTokens, cfg.MaxContextTokens)
	assert.Equal(t, defaultSafetyBuffer, cfg.SafetyBuffer)
	assert.Equal(t, defaultMaxConcurrent, cfg.MaxConcurrentAnalyses)
	assert.Equal(t, []string{"US", "TX"}, cfg.MonitoredJurisdictions)
}

func TestLoadAppliesYAMLOverlayBetweenDefaultsAndEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "policypulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
max_context_tokens: 90000
monitored_jurisdictions: ["US", "CA", "NY"]
log_level: debug
`), 0o644))
	t.Setenv(configFileEnvVar, path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 90000, cfg.MaxContextTokens)
	assert.Equal(t, []string{"US", "CA", "NY"}, cfg.MonitoredJurisdictions)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Untouched by the overlay, still the hardcoded default.
	assert.Equal(t, defaultSafetyBuffer, cfg.SafetyBuffer)
}

func TestLoadEnvVarOverridesYAMLOverlay(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "policypulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`max_context_tokens: 90000`), 0o644))
	t.Setenv(configFileEnvVar, path)
	t.Setenv("MAX_CONTEXT_TOKENS", "50000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 50000, cfg.MaxContextTokens)
}
