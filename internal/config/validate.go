package config

import (
	"fmt"
)

// validLogLevels are the accepted Log.Level values.
var validLogLevels = []string{"trace", "debug", "info", "warn", "warning", "error"}

// Validate enforces the gateway configuration rules.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateController(&cfg.Controller); err != nil {
		return fmt.Errorf("controller validation failed: %w", err)
	}
	if err := validateHTTP(&cfg.HTTP); err != nil {
		return fmt.Errorf("http validation failed: %w", err)
	}
	if err := validateTelemetry(&cfg.Telemetry); err != nil {
		return fmt.Errorf("telemetry validation failed: %w", err)
	}
	if err := validateAuth(&cfg.Auth); err != nil {
		return fmt.Errorf("auth validation failed: %w", err)
	}
	if err := validateLog(&cfg.Log); err != nil {
		return fmt.Errorf("log validation failed: %w", err)
	}
	if err := validateAudit(&cfg.Audit); err != nil {
		return fmt.Errorf("audit validation failed: %w", err)
	}

	return nil
}

// validateController validates the controller session parameters.
func validateController(c *ControllerConfig) error {
	if c.Host == "" {
		return fmt.Errorf("host must not be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d is outside range [1, 65535]", c.Port)
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive, got %v", c.DialTimeout)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive, got %v", c.WriteTimeout)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect delay must be positive, got %v", c.ReconnectDelay)
	}

	switch c.BackoffPolicy {
	case BackoffConstant:
	case BackoffExponential:
		if c.BackoffMaxDelay < c.ReconnectDelay {
			return fmt.Errorf("backoff max delay %v must be >= reconnect delay %v", c.BackoffMaxDelay, c.ReconnectDelay)
		}
	default:
		return fmt.Errorf("backoff policy must be %q or %q, got %q", BackoffConstant, BackoffExponential, c.BackoffPolicy)
	}

	return nil
}

// validateHTTP validates the northbound server parameters.
func validateHTTP(c *HTTPConfig) error {
	if c.Addr == "" {
		return fmt.Errorf("addr must not be empty")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive, got %v", c.ReadTimeout)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive, got %v", c.WriteTimeout)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive, got %v", c.IdleTimeout)
	}
	return nil
}

// validateTelemetry validates fan-out queue and liveness parameters.
func validateTelemetry(c *TelemetryConfig) error {
	if c.QueueCapacity < 1 {
		return fmt.Errorf("queue capacity must be >= 1, got %d", c.QueueCapacity)
	}
	if c.ReplayCapacity < 1 {
		return fmt.Errorf("replay capacity must be >= 1, got %d", c.ReplayCapacity)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %v", c.HeartbeatInterval)
	}
	if c.ClientIdleTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("client idle timeout %v must be > heartbeat interval %v", c.ClientIdleTimeout, c.HeartbeatInterval)
	}
	return nil
}

// validateAuth validates token verification parameters.
func validateAuth(c *AuthConfig) error {
	if !c.Enabled {
		return nil
	}
	if c.HS256Secret == "" && c.JWKSURL == "" {
		return fmt.Errorf("auth enabled but neither hs256Secret nor jwksUrl is set")
	}
	if c.HS256Secret != "" && c.JWKSURL != "" {
		return fmt.Errorf("hs256Secret and jwksUrl are mutually exclusive")
	}
	return nil
}

// validateLog validates logging parameters.
func validateLog(c *LogConfig) error {
	if !contains(validLogLevels, c.Level) {
		return fmt.Errorf("level must be one of %v, got %q", validLogLevels, c.Level)
	}
	if c.File != "" && c.MaxSizeMB <= 0 {
		return fmt.Errorf("max size must be positive when a log file is set, got %d", c.MaxSizeMB)
	}
	return nil
}

// validateAudit validates the audit log parameters.
func validateAudit(c *AuditConfig) error {
	if c.Dir == "" {
		return fmt.Errorf("dir must not be empty")
	}
	if c.MaxSizeMB <= 0 {
		return fmt.Errorf("max size must be positive, got %d", c.MaxSizeMB)
	}
	return nil
}

// contains reports whether list includes value.
func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
