package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Load builds the gateway configuration: compiled defaults, then the optional
// YAML file at path (or $EQUILIBRIA_CONFIG when path is empty), then
// EQUILIBRIA_* environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("EQUILIBRIA_CONFIG")
	}
	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// fileConfig mirrors Config for the YAML layer. Durations are integer
// milliseconds so the file stays plain scalars; absent fields keep the value
// already in place.
type fileConfig struct {
	Controller struct {
		Host              string `yaml:"host"`
		Port              int    `yaml:"port"`
		DialTimeoutMs     int    `yaml:"dialTimeoutMs"`
		WriteTimeoutMs    int    `yaml:"writeTimeoutMs"`
		ReconnectDelayMs  int    `yaml:"reconnectDelayMs"`
		BackoffPolicy     string `yaml:"backoffPolicy"`
		BackoffMaxDelayMs int    `yaml:"backoffMaxDelayMs"`
	} `yaml:"controller"`
	HTTP struct {
		Addr           string `yaml:"addr"`
		ReadTimeoutMs  int    `yaml:"readTimeoutMs"`
		WriteTimeoutMs int    `yaml:"writeTimeoutMs"`
		IdleTimeoutMs  int    `yaml:"idleTimeoutMs"`
	} `yaml:"http"`
	Telemetry struct {
		QueueCapacity       int `yaml:"queueCapacity"`
		ReplayCapacity      int `yaml:"replayCapacity"`
		HeartbeatIntervalMs int `yaml:"heartbeatIntervalMs"`
		ClientIdleTimeoutMs int `yaml:"clientIdleTimeoutMs"`
	} `yaml:"telemetry"`
	Auth struct {
		Enabled     *bool  `yaml:"enabled"`
		HS256Secret string `yaml:"hs256Secret"`
		JWKSURL     string `yaml:"jwksUrl"`
		Issuer      string `yaml:"issuer"`
		Audience    string `yaml:"audience"`
	} `yaml:"auth"`
	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"maxSizeMb"`
		MaxBackups int    `yaml:"maxBackups"`
		MaxAgeDays int    `yaml:"maxAgeDays"`
		Compress   *bool  `yaml:"compress"`
	} `yaml:"log"`
	Audit struct {
		Dir        string `yaml:"dir"`
		MaxSizeMB  int    `yaml:"maxSizeMb"`
		MaxBackups int    `yaml:"maxBackups"`
		MaxAgeDays int    `yaml:"maxAgeDays"`
	} `yaml:"audit"`
}

// applyFile merges the YAML file at path over cfg. File values take
// precedence over the values already present.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if fc.Controller.Host != "" {
		cfg.Controller.Host = fc.Controller.Host
	}
	if fc.Controller.Port != 0 {
		cfg.Controller.Port = fc.Controller.Port
	}
	if fc.Controller.DialTimeoutMs > 0 {
		cfg.Controller.DialTimeout = time.Duration(fc.Controller.DialTimeoutMs) * time.Millisecond
	}
	if fc.Controller.WriteTimeoutMs > 0 {
		cfg.Controller.WriteTimeout = time.Duration(fc.Controller.WriteTimeoutMs) * time.Millisecond
	}
	if fc.Controller.ReconnectDelayMs > 0 {
		cfg.Controller.ReconnectDelay = time.Duration(fc.Controller.ReconnectDelayMs) * time.Millisecond
	}
	if fc.Controller.BackoffPolicy != "" {
		cfg.Controller.BackoffPolicy = fc.Controller.BackoffPolicy
	}
	if fc.Controller.BackoffMaxDelayMs > 0 {
		cfg.Controller.BackoffMaxDelay = time.Duration(fc.Controller.BackoffMaxDelayMs) * time.Millisecond
	}

	if fc.HTTP.Addr != "" {
		cfg.HTTP.Addr = fc.HTTP.Addr
	}
	if fc.HTTP.ReadTimeoutMs > 0 {
		cfg.HTTP.ReadTimeout = time.Duration(fc.HTTP.ReadTimeoutMs) * time.Millisecond
	}
	if fc.HTTP.WriteTimeoutMs > 0 {
		cfg.HTTP.WriteTimeout = time.Duration(fc.HTTP.WriteTimeoutMs) * time.Millisecond
	}
	if fc.HTTP.IdleTimeoutMs > 0 {
		cfg.HTTP.IdleTimeout = time.Duration(fc.HTTP.IdleTimeoutMs) * time.Millisecond
	}

	if fc.Telemetry.QueueCapacity != 0 {
		cfg.Telemetry.QueueCapacity = fc.Telemetry.QueueCapacity
	}
	if fc.Telemetry.ReplayCapacity != 0 {
		cfg.Telemetry.ReplayCapacity = fc.Telemetry.ReplayCapacity
	}
	if fc.Telemetry.HeartbeatIntervalMs > 0 {
		cfg.Telemetry.HeartbeatInterval = time.Duration(fc.Telemetry.HeartbeatIntervalMs) * time.Millisecond
	}
	if fc.Telemetry.ClientIdleTimeoutMs > 0 {
		cfg.Telemetry.ClientIdleTimeout = time.Duration(fc.Telemetry.ClientIdleTimeoutMs) * time.Millisecond
	}

	if fc.Auth.Enabled != nil {
		cfg.Auth.Enabled = *fc.Auth.Enabled
	}
	if fc.Auth.HS256Secret != "" {
		cfg.Auth.HS256Secret = fc.Auth.HS256Secret
	}
	if fc.Auth.JWKSURL != "" {
		cfg.Auth.JWKSURL = fc.Auth.JWKSURL
	}
	if fc.Auth.Issuer != "" {
		cfg.Auth.Issuer = fc.Auth.Issuer
	}
	if fc.Auth.Audience != "" {
		cfg.Auth.Audience = fc.Auth.Audience
	}

	if fc.Log.Level != "" {
		cfg.Log.Level = fc.Log.Level
	}
	if fc.Log.File != "" {
		cfg.Log.File = fc.Log.File
	}
	if fc.Log.MaxSizeMB != 0 {
		cfg.Log.MaxSizeMB = fc.Log.MaxSizeMB
	}
	if fc.Log.MaxBackups != 0 {
		cfg.Log.MaxBackups = fc.Log.MaxBackups
	}
	if fc.Log.MaxAgeDays != 0 {
		cfg.Log.MaxAgeDays = fc.Log.MaxAgeDays
	}
	if fc.Log.Compress != nil {
		cfg.Log.Compress = *fc.Log.Compress
	}

	if fc.Audit.Dir != "" {
		cfg.Audit.Dir = fc.Audit.Dir
	}
	if fc.Audit.MaxSizeMB != 0 {
		cfg.Audit.MaxSizeMB = fc.Audit.MaxSizeMB
	}
	if fc.Audit.MaxBackups != 0 {
		cfg.Audit.MaxBackups = fc.Audit.MaxBackups
	}
	if fc.Audit.MaxAgeDays != 0 {
		cfg.Audit.MaxAgeDays = fc.Audit.MaxAgeDays
	}

	return nil
}

// applyEnvOverrides applies EQUILIBRIA_* environment variables to cfg.
// Durations use time.ParseDuration syntax; unparseable values are ignored.
func applyEnvOverrides(cfg *Config) {
	cfg.Controller.Host = GetEnvVar("EQUILIBRIA_CONTROLLER_HOST", cfg.Controller.Host)
	cfg.Controller.Port = GetEnvInt("EQUILIBRIA_CONTROLLER_PORT", cfg.Controller.Port)
	cfg.Controller.DialTimeout = GetEnvDuration("EQUILIBRIA_CONTROLLER_DIAL_TIMEOUT", cfg.Controller.DialTimeout)
	cfg.Controller.WriteTimeout = GetEnvDuration("EQUILIBRIA_CONTROLLER_WRITE_TIMEOUT", cfg.Controller.WriteTimeout)
	cfg.Controller.ReconnectDelay = GetEnvDuration("EQUILIBRIA_CONTROLLER_RECONNECT_DELAY", cfg.Controller.ReconnectDelay)
	cfg.Controller.BackoffPolicy = GetEnvVar("EQUILIBRIA_CONTROLLER_BACKOFF_POLICY", cfg.Controller.BackoffPolicy)
	cfg.Controller.BackoffMaxDelay = GetEnvDuration("EQUILIBRIA_CONTROLLER_BACKOFF_MAX_DELAY", cfg.Controller.BackoffMaxDelay)

	cfg.HTTP.Addr = GetEnvVar("EQUILIBRIA_HTTP_ADDR", cfg.HTTP.Addr)

	cfg.Telemetry.QueueCapacity = GetEnvInt("EQUILIBRIA_TELEMETRY_QUEUE_CAPACITY", cfg.Telemetry.QueueCapacity)
	cfg.Telemetry.ReplayCapacity = GetEnvInt("EQUILIBRIA_TELEMETRY_REPLAY_CAPACITY", cfg.Telemetry.ReplayCapacity)
	cfg.Telemetry.HeartbeatInterval = GetEnvDuration("EQUILIBRIA_TELEMETRY_HEARTBEAT_INTERVAL", cfg.Telemetry.HeartbeatInterval)
	cfg.Telemetry.ClientIdleTimeout = GetEnvDuration("EQUILIBRIA_TELEMETRY_CLIENT_IDLE_TIMEOUT", cfg.Telemetry.ClientIdleTimeout)

	cfg.Auth.Enabled = GetEnvBool("EQUILIBRIA_AUTH_ENABLED", cfg.Auth.Enabled)
	cfg.Auth.HS256Secret = GetEnvVar("EQUILIBRIA_AUTH_HS256_SECRET", cfg.Auth.HS256Secret)
	cfg.Auth.JWKSURL = GetEnvVar("EQUILIBRIA_AUTH_JWKS_URL", cfg.Auth.JWKSURL)
	cfg.Auth.Issuer = GetEnvVar("EQUILIBRIA_AUTH_ISSUER", cfg.Auth.Issuer)
	cfg.Auth.Audience = GetEnvVar("EQUILIBRIA_AUTH_AUDIENCE", cfg.Auth.Audience)

	cfg.Log.Level = GetEnvVar("EQUILIBRIA_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = GetEnvVar("EQUILIBRIA_LOG_FILE", cfg.Log.File)

	cfg.Audit.Dir = GetEnvVar("EQUILIBRIA_AUDIT_DIR", cfg.Audit.Dir)
}

// GetEnvVar returns the value of an environment variable with a default.
func GetEnvVar(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvDuration returns the value of an environment variable as a duration
// with a default.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetEnvInt returns the value of an environment variable as an int with a
// default.
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// GetEnvBool returns the value of an environment variable as a bool with a
// default.
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
