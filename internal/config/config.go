package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides (SMARTCOPY_PORT, ...).
const EnvPrefix = "SMARTCOPY"

// Config holds application configuration.
type Config struct {
	// Bind is the interface the background daemon listens on.
	Bind string `json:"bind,omitempty"`

	// Port is the background daemon's HTTP/WebSocket port.
	Port int `json:"port,omitempty"`

	// ReconnectDelayMS is the fixed delay between ambient reconnect attempts.
	ReconnectDelayMS int `json:"reconnect_delay_ms,omitempty"`

	// LivenessIntervalMS is how often a client context probes the runtime.
	LivenessIntervalMS int `json:"liveness_interval_ms,omitempty"`

	// MaxReconnectAttempts bounds on-demand reconnection after an invalid context is detected.
	MaxReconnectAttempts int `json:"max_reconnect_attempts,omitempty"`

	// StoreWatchIntervalMS is how often the settings store checks for writes
	// made by other processes sharing the same database.
	StoreWatchIntervalMS int `json:"store_watch_interval_ms,omitempty"`

	// AIBaseURL is the root of the AI processing backend. Empty disables AI features.
	AIBaseURL string `json:"ai_base_url,omitempty"`

	// AIAPIKey is sent as a bearer token to the AI backend.
	AIAPIKey string `json:"ai_api_key,omitempty"`

	// AITimeoutMS bounds a single AI backend call. 0 means no deadline.
	AITimeoutMS int `json:"ai_timeout_ms,omitempty"`

	// ExtraSensitivePatterns are additional regexes for the privacy filter.
	ExtraSensitivePatterns []string `json:"extra_sensitive_patterns,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string `json:"log_level,omitempty"`

	// LogFormat is "json" or "text".
	LogFormat string `json:"log_format,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Bind:                 "127.0.0.1",
		Port:                 8731,
		ReconnectDelayMS:     1000,
		LivenessIntervalMS:   2000,
		MaxReconnectAttempts: 3,
		StoreWatchIntervalMS: 250,
		LogLevel:             "info",
		LogFormat:            "text",
	}
}

// Load loads configuration from baseDir/config.json and applies
// SMARTCOPY_* environment overrides.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.smartcopy.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg)
	return cfg, nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// ApplyEnv overlays SMARTCOPY_* environment variables onto cfg.
func ApplyEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if v.IsSet("bind") {
		cfg.Bind = v.GetString("bind")
	}
	if v.IsSet("port") {
		cfg.Port = v.GetInt("port")
	}
	if v.IsSet("ai_base_url") {
		cfg.AIBaseURL = v.GetString("ai_base_url")
	}
	if v.IsSet("ai_api_key") {
		cfg.AIAPIKey = v.GetString("ai_api_key")
	}
	if v.IsSet("ai_timeout_ms") {
		cfg.AITimeoutMS = v.GetInt("ai_timeout_ms")
	}
	if v.IsSet("log_level") {
		cfg.LogLevel = v.GetString("log_level")
	}
	if v.IsSet("log_format") {
		cfg.LogFormat = v.GetString("log_format")
	}
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.Bind = pickString(overlay.Bind, base.Bind)
	result.AIBaseURL = pickString(overlay.AIBaseURL, base.AIBaseURL)
	result.AIAPIKey = pickString(overlay.AIAPIKey, base.AIAPIKey)
	result.LogLevel = pickString(overlay.LogLevel, base.LogLevel)
	result.LogFormat = pickString(overlay.LogFormat, base.LogFormat)

	result.Port = pickInt(overlay.Port, base.Port)
	result.ReconnectDelayMS = pickInt(overlay.ReconnectDelayMS, base.ReconnectDelayMS)
	result.LivenessIntervalMS = pickInt(overlay.LivenessIntervalMS, base.LivenessIntervalMS)
	result.MaxReconnectAttempts = pickInt(overlay.MaxReconnectAttempts, base.MaxReconnectAttempts)
	result.StoreWatchIntervalMS = pickInt(overlay.StoreWatchIntervalMS, base.StoreWatchIntervalMS)
	result.AITimeoutMS = pickInt(overlay.AITimeoutMS, base.AITimeoutMS)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.ExtraSensitivePatterns = mergeStringSlice(base.ExtraSensitivePatterns, overlay.ExtraSensitivePatterns)

	return result
}

// ReconnectDelay returns ReconnectDelayMS as a duration.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMS) * time.Millisecond
}

// LivenessInterval returns LivenessIntervalMS as a duration.
func (c *Config) LivenessInterval() time.Duration {
	return time.Duration(c.LivenessIntervalMS) * time.Millisecond
}

// StoreWatchInterval returns StoreWatchIntervalMS as a duration.
func (c *Config) StoreWatchInterval() time.Duration {
	return time.Duration(c.StoreWatchIntervalMS) * time.Millisecond
}

// AITimeout returns AITimeoutMS as a duration (0 = none).
func (c *Config) AITimeout() time.Duration {
	return time.Duration(c.AITimeoutMS) * time.Millisecond
}

func pickString(overlay, base string) string {
	if overlay != "" {
		return overlay
	}
	return base
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
