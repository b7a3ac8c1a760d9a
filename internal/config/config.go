// Package config loads the orchestration core's tunables from explicit
// env vars and flags rather than a database-backed config store. An
// optional on-disk YAML file supplies defaults an operator can check into
// version control; environment variables always win over the file, and
// explicit CLI flags win over both.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config collects every environment-tunable threshold the substrate's
// components read at construction. All fields are optional; zero values
// are replaced by each component's own default.
type Config struct {
	HeartbeatTimeoutSec  int `yaml:"heartbeat_timeout_sec"`
	QuarantineThreshold  int `yaml:"quarantine_threshold"`
	StormThresholdEPS    int `yaml:"storm_threshold_eps"`
	CircuitBreakerEPS10s int `yaml:"circuit_breaker_eps_10s"`
	CircuitCooldownSec   int `yaml:"circuit_cooldown_sec"`
	QueueDepthWarn       int `yaml:"queue_depth_warn"`
	QueueDepthCritical   int `yaml:"queue_depth_critical"`
	VerifyIntervalSec    int `yaml:"verify_interval_sec"`
}

// Load reads every recognized environment variable, leaving a field zero
// (component default) when unset or unparsable. Equivalent to
// LoadWithOverrides("").
func Load() Config {
	return LoadWithOverrides("")
}

// LoadWithOverrides reads overridePath (if non-empty) as a YAML tunables
// file first, then layers every recognized environment variable on top
// of it. A field left unset in both stays zero (component default).
func LoadWithOverrides(overridePath string) Config {
	var cfg Config
	if overridePath != "" {
		if data, err := os.ReadFile(overridePath); err == nil {
			_ = yaml.Unmarshal(data, &cfg)
		}
	}

	cfg.HeartbeatTimeoutSec = envIntOr("HEARTBEAT_TIMEOUT_SEC", cfg.HeartbeatTimeoutSec)
	cfg.QuarantineThreshold = envIntOr("QUARANTINE_THRESHOLD", cfg.QuarantineThreshold)
	cfg.StormThresholdEPS = envIntOr("STORM_THRESHOLD_EPS", cfg.StormThresholdEPS)
	cfg.CircuitBreakerEPS10s = envIntOr("CIRCUIT_BREAKER_EPS_10S", cfg.CircuitBreakerEPS10s)
	cfg.CircuitCooldownSec = envIntOr("CIRCUIT_COOLDOWN_SEC", cfg.CircuitCooldownSec)
	cfg.QueueDepthWarn = envIntOr("QUEUE_DEPTH_WARN", cfg.QueueDepthWarn)
	cfg.QueueDepthCritical = envIntOr("QUEUE_DEPTH_CRITICAL", cfg.QueueDepthCritical)
	cfg.VerifyIntervalSec = envIntOr("VERIFY_INTERVAL_SEC", cfg.VerifyIntervalSec)

	return cfg
}

// HeartbeatTimeout returns the configured heartbeat timeout as a
// time.Duration, or zero if unset.
func (c Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutSec) * time.Second
}

// CircuitCooldown returns the configured circuit cooldown as a
// time.Duration, or zero if unset.
func (c Config) CircuitCooldown() time.Duration {
	return time.Duration(c.CircuitCooldownSec) * time.Second
}

// VerifyInterval returns the configured verification interval as a
// time.Duration, or zero if unset.
func (c Config) VerifyInterval() time.Duration {
	return time.Duration(c.VerifyIntervalSec) * time.Second
}

// envIntOr returns the parsed environment variable name, or fallback if
// the variable is unset or unparsable.
func envIntOr(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
