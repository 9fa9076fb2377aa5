// Package config loads the environment-injected knobs listed in spec.md §6.
// The core never parses CLI flags; the surrounding application supplies
// everything through the process environment, with two optional file
// overlays read by Load: a .env file (matching the teacher's loader idiom)
// and a YAML file of non-secret defaults.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every environment-injected value the core consumes.
type Config struct {
	UpstreamAPIKey string
	ModelAPIKey    string
	DatabaseURL    string

	CacheTTL        time.Duration
	MaxContextTokens int
	SafetyBuffer     int
	MaxRetries       int
	RetryBaseDelay   time.Duration
	RateLimitDelay   time.Duration

	MaxConcurrentAnalyses int

	MonitoredJurisdictions []string

	LogLevel string
}

// Defaults mirror spec.md §6's stated defaults.
const (
	defaultCacheTTLMinutes    = 30
	defaultMaxContextTokens   = 120000
	defaultSafetyBuffer       = 20000
	defaultMaxRetries         = 3
	defaultRetryBaseDelaySecs = 1.0
	defaultRateLimitDelaySecs = 1.0
	defaultMaxConcurrent      = 5
)

// yamlOverlay holds the non-secret knobs an operator may want to check into
// a repo-local YAML file rather than set one-by-one as environment
// variables. Every field is optional; zero values are left for the
// hardcoded defaults (or the environment) to fill in.
type yamlOverlay struct {
	MaxContextTokens       *int     `yaml:"max_context_tokens"`
	SafetyBuffer           *int     `yaml:"safety_buffer"`
	MaxRetries             *int     `yaml:"max_retries"`
	MaxConcurrentAnalyses  *int     `yaml:"max_concurrent_analyses"`
	CacheTTLMinutes        *int     `yaml:"cache_ttl_minutes"`
	MonitoredJurisdictions []string `yaml:"monitored_jurisdictions"`
	LogLevel               *string  `yaml:"log_level"`
}

// configFileEnvVar names the environment variable used to point at an
// overlay file; the default path is policypulse.yaml in the working
// directory.
const configFileEnvVar = "POLICYPULSE_CONFIG_FILE"
const defaultConfigFile = "policypulse.yaml"

// loadYAMLOverlay reads the optional YAML overlay file, returning a zero
// value (no error) when the file does not exist - this overlay is always
// optional.
func loadYAMLOverlay() (yamlOverlay, error) {
	path := strings.TrimSpace(os.Getenv(configFileEnvVar))
	if path == "" {
		path = defaultConfigFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return yamlOverlay{}, nil
		}
		return yamlOverlay{}, err
	}
	var overlay yamlOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return yamlOverlay{}, err
	}
	return overlay, nil
}

func (o yamlOverlay) apply(cfg *Config) {
	if o.MaxContextTokens != nil {
		cfg.MaxContextTokens = *o.MaxContextTokens
	}
	if o.SafetyBuffer != nil {
		cfg.SafetyBuffer = *o.SafetyBuffer
	}
	if o.MaxRetries != nil {
		cfg.MaxRetries = *o.MaxRetries
	}
	if o.MaxConcurrentAnalyses != nil {
		cfg.MaxConcurrentAnalyses = *o.MaxConcurrentAnalyses
	}
	if o.CacheTTLMinutes != nil {
		cfg.CacheTTL = time.Duration(*o.CacheTTLMinutes) * time.Minute
	}
	if len(o.MonitoredJurisdictions) > 0 {
		cfg.MonitoredJurisdictions = o.MonitoredJurisdictions
	}
	if o.LogLevel != nil {
		cfg.LogLevel = *o.LogLevel
	}
}

// Load reads configuration from the process environment. It optionally
// overlays a .env file in the working directory first, matching the
// teacher's use of godotenv.Overload() so repo-local defaults win over a
// stale shell environment during local development. A YAML overlay
// (policypulse.yaml, or the path named by POLICYPULSE_CONFIG_FILE) supplies
// non-secret defaults between the hardcoded defaults and the environment;
// environment variables always win.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		CacheTTL:              time.Duration(defaultCacheTTLMinutes) * time.Minute,
		MaxContextTokens:      defaultMaxContextTokens,
		SafetyBuffer:          defaultSafetyBuffer,
		MaxRetries:            defaultMaxRetries,
		RetryBaseDelay:        durationFromSeconds(defaultRetryBaseDelaySecs),
		RateLimitDelay:        durationFromSeconds(defaultRateLimitDelaySecs),
		MaxConcurrentAnalyses: defaultMaxConcurrent,
		MonitoredJurisdictions: []string{"US", "TX"},
		LogLevel:               "info",
	}

	overlay, err := loadYAMLOverlay()
	if err != nil {
		return Config{}, err
	}
	overlay.apply(&cfg)

	cfg.UpstreamAPIKey = strings.TrimSpace(os.Getenv("UPSTREAM_API_KEY"))
	cfg.ModelAPIKey = strings.TrimSpace(os.Getenv("MODEL_API_KEY"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if v := strings.TrimSpace(os.Getenv("CACHE_TTL_MINUTES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheTTL = time.Duration(n) * time.Minute
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_CONTEXT_TOKENS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxContextTokens = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("SAFETY_BUFFER")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.SafetyBuffer = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_RETRIES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("RETRY_BASE_DELAY")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.RetryBaseDelay = durationFromSeconds(f)
		}
	}
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_DELAY")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.RateLimitDelay = durationFromSeconds(f)
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_CONCURRENT_ANALYSES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrentAnalyses = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MONITORED_JURISDICTIONS")); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, strings.ToUpper(p))
			}
		}
		if len(out) > 0 {
			cfg.MonitoredJurisdictions = out
		}
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}

func durationFromSeconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
