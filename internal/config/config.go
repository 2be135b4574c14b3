package config

import (
	"net"
	"strconv"
	"time"
)

// Backoff policies for the controller reconnect loop. The baseline behavior
// is a fixed delay between attempts; exponential growth is an opt-in
// enhancement.
const (
	BackoffConstant    = "constant"
	BackoffExponential = "exponential"
)

// Config is the root gateway configuration.
type Config struct {
	Controller ControllerConfig
	HTTP       HTTPConfig
	Telemetry  TelemetryConfig
	Auth       AuthConfig
	Log        LogConfig
	Audit      AuditConfig
}

// ControllerConfig governs the TCP session with the process controller.
type ControllerConfig struct {
	Host            string
	Port            int
	DialTimeout     time.Duration
	WriteTimeout    time.Duration
	ReconnectDelay  time.Duration
	BackoffPolicy   string
	BackoffMaxDelay time.Duration
}

// Addr returns the controller endpoint as host:port.
func (c *ControllerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// HTTPConfig governs the northbound HTTP/WebSocket server.
type HTTPConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// TelemetryConfig governs fan-out queues and WebSocket liveness.
type TelemetryConfig struct {
	QueueCapacity     int
	ReplayCapacity    int
	HeartbeatInterval time.Duration
	ClientIdleTimeout time.Duration
}

// AuthConfig governs bearer-token verification. With Enabled false the
// gateway serves every route to an anonymous full-access identity.
type AuthConfig struct {
	Enabled     bool
	HS256Secret string
	JWKSURL     string
	Issuer      string
	Audience    string
}

// LogConfig governs application logging.
type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AuditConfig governs the append-only command audit log.
type AuditConfig struct {
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Default returns the compiled baseline configuration.
func Default() *Config {
	return &Config{
		Controller: ControllerConfig{
			Host:            "127.0.0.1",
			Port:            7002,
			DialTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			ReconnectDelay:  5 * time.Second,
			BackoffPolicy:   BackoffConstant,
			BackoffMaxDelay: 60 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Telemetry: TelemetryConfig{
			QueueCapacity:     10,
			ReplayCapacity:    50,
			HeartbeatInterval: 30 * time.Second,
			ClientIdleTimeout: 60 * time.Second,
		},
		Auth: AuthConfig{
			Enabled: false,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Audit: AuditConfig{
			Dir:        "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 90,
		},
	}
}
