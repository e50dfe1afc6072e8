// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Durations are configured in milliseconds and read through accessors.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"runtime"
	"time"

	"golang.org/x/mod/semver"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// AppVersion is the server's semantic version, stamped on new rooms.
	AppVersion string `koanf:"app_version"`

	// StoreDriver selects the room store: memory or sqlite.
	StoreDriver string `koanf:"store_driver"`
	SQLitePath  string `koanf:"sqlite_path"`

	// AuthSecret signs and verifies identity and host session tokens (HS256).
	AuthSecret       string `koanf:"auth_secret"`
	AuthIssuer       string `koanf:"auth_issuer"`
	HostSessionTTLMS int    `koanf:"host_session_ttl_ms"`

	// NotifyQueueSize bounds the room-change notification queue.
	NotifyQueueSize int `koanf:"notify_queue_size"`

	// NotifyWorkers sets the number of notification dispatch workers.
	NotifyWorkers int `koanf:"notify_workers"`

	// DedupeSize bounds the remembered request ids.
	DedupeSize int `koanf:"dedupe_size"`

	// RateLimitPerSec and RateLimitBurst bound commands per room.
	RateLimitPerSec float64 `koanf:"rate_limit_per_sec"`
	RateLimitBurst  int     `koanf:"rate_limit_burst"`

	// LockTimeoutMS bounds the wait for a room lock.
	LockTimeoutMS int `koanf:"lock_timeout_ms"`

	// HostGraceMS is how long a host may be offline before the seat is claimable.
	HostGraceMS int `koanf:"host_grace_ms"`

	// ActivityWindowMS is the last-seen recency used when presence is missing.
	ActivityWindowMS int `koanf:"activity_window_ms"`

	// TouchIntervalMS throttles last-seen writes per participant.
	TouchIntervalMS int `koanf:"touch_interval_ms"`

	// DealMin and DealMax are the default dealt value range.
	DealMin int `koanf:"deal_min"`
	DealMax int `koanf:"deal_max"`

	// OTelEndpoint enables OTLP/HTTP trace export when set.
	OTelEndpoint string `koanf:"otel_endpoint"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             ":9080",
		AppVersion:       "v1.0.0",
		StoreDriver:      StoreMemory,
		SQLitePath:       "roomsync.db",
		AuthIssuer:       "roomsync",
		HostSessionTTLMS: 10 * 60 * 1000,
		NotifyQueueSize:  10_000,
		NotifyWorkers:    runtime.NumCPU(),
		DedupeSize:       100_000,
		RateLimitPerSec:  20,
		RateLimitBurst:   40,
		LockTimeoutMS:    2_000,
		HostGraceMS:      8_000,
		ActivityWindowMS: 30_000,
		TouchIntervalMS:  15_000,
		DealMin:          1,
		DealMax:          100,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.StoreDriver != StoreMemory && c.StoreDriver != StoreSQLite:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	case c.StoreDriver == StoreSQLite && c.SQLitePath == "":
		return fmt.Errorf("%w: sqlite_path is required for the sqlite store", ErrInvalidConfig)
	case c.AuthSecret == "":
		return fmt.Errorf("%w: auth_secret must not be empty", ErrInvalidConfig)
	case !semver.IsValid(c.AppVersion):
		return fmt.Errorf("%w: app_version %q is not a semantic version", ErrInvalidConfig, c.AppVersion)
	case c.DealMin > c.DealMax:
		return fmt.Errorf("%w: deal_min %d exceeds deal_max %d", ErrInvalidConfig, c.DealMin, c.DealMax)
	case c.NotifyQueueSize <= 0 || c.NotifyWorkers <= 0:
		return fmt.Errorf("%w: notify_queue_size and notify_workers must be positive", ErrInvalidConfig)
	case c.RateLimitPerSec <= 0 || c.RateLimitBurst <= 0:
		return fmt.Errorf("%w: rate limits must be positive", ErrInvalidConfig)
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// LockTimeout returns LockTimeoutMS as a duration.
func (c *Config) LockTimeout() time.Duration { return ms(c.LockTimeoutMS) }

// HostGrace returns HostGraceMS as a duration.
func (c *Config) HostGrace() time.Duration { return ms(c.HostGraceMS) }

// ActivityWindow returns ActivityWindowMS as a duration.
func (c *Config) ActivityWindow() time.Duration { return ms(c.ActivityWindowMS) }

// TouchInterval returns TouchIntervalMS as a duration.
func (c *Config) TouchInterval() time.Duration { return ms(c.TouchIntervalMS) }

// HostSessionTTL returns HostSessionTTLMS as a duration.
func (c *Config) HostSessionTTL() time.Duration { return ms(c.HostSessionTTLMS) }
