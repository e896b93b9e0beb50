// Package config loads dispatchd configuration from environment
// variables. Parsing and defaulting live in Load; Validate reports
// everything wrong at once so operators fix a deployment in one pass.
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all configuration for the dispatchd service.
// Values are loaded from environment variables.
type Config struct {
	DatabaseURL    string `json:"database_url"`
	MigrationsPath string `json:"migrations_path"`
	RedisAddr      string `json:"redis_addr,omitempty"`
	HTTPAddr       string `json:"http_addr"`

	CalendarBaseURL string `json:"calendar_base_url"`
	TicketBaseURL   string `json:"ticket_base_url"`

	CalendarTimeout    time.Duration `json:"-"`
	CalendarTimeoutStr string        `json:"calendar_timeout"`
	TicketTimeout      time.Duration `json:"-"`
	TicketTimeoutStr   string        `json:"ticket_timeout"`

	// BufferMinutes is the minimum margin between a technician's
	// booked windows.
	BufferMinutes int `json:"buffer_minutes"`

	DefaultDuration    time.Duration `json:"-"`
	DefaultDurationStr string        `json:"default_duration"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`

	ReconcileEnabled     bool          `json:"reconcile_enabled"`
	ReconcileInterval    time.Duration `json:"-"`
	ReconcileIntervalStr string        `json:"reconcile_interval"`
	ReconcileBatchSize   int           `json:"reconcile_batch_size"`

	// ReconcileStuckAfter is the age at which an awaiting schedule is
	// surfaced as stuck.
	ReconcileStuckAfter    time.Duration `json:"-"`
	ReconcileStuckAfterStr string        `json:"reconcile_stuck_after"`

	// ReconcileCron pins passes to a cron cadence instead of the fixed
	// interval. Empty means interval mode.
	ReconcileCron         string `json:"reconcile_cron,omitempty"`
	ReconcileCronTimezone string `json:"reconcile_cron_timezone,omitempty"`

	BusBufferSize int `json:"bus_buffer_size"`

	// LeaseTTL bounds how long a crashed reconciler blocks a schedule.
	// Requires REDIS_ADDR; without Redis, schedules are not leased.
	LeaseTTL    time.Duration `json:"-"`
	LeaseTTLStr string        `json:"lease_ttl"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	LeaderElectionEnabled bool `json:"leader_election_enabled"`

	// LeaderLockKey: all instances sharing the same database must use
	// the same key.
	LeaderLockKey int64 `json:"leader_lock_key"`

	LeaderRetryInterval        time.Duration `json:"-"`
	LeaderRetryIntervalStr     string        `json:"leader_retry_interval"`
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		MigrationsPath:             os.Getenv("MIGRATIONS_PATH"),
		RedisAddr:                  os.Getenv("REDIS_ADDR"),
		HTTPAddr:                   os.Getenv("HTTP_ADDR"),
		CalendarBaseURL:            os.Getenv("CALENDAR_BASE_URL"),
		TicketBaseURL:              os.Getenv("TICKET_BASE_URL"),
		CalendarTimeoutStr:         os.Getenv("CALENDAR_TIMEOUT"),
		TicketTimeoutStr:           os.Getenv("TICKET_TIMEOUT"),
		DefaultDurationStr:         os.Getenv("DEFAULT_DURATION"),
		DBConnMaxLifetimeStr:       os.Getenv("DB_CONN_MAX_LIFETIME"),
		HTTPShutdownTimeoutStr:     os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		MetricsEnabled:             os.Getenv("METRICS_ENABLED") != "false",
		MetricsPath:                os.Getenv("METRICS_PATH"),
		ReconcileEnabled:           os.Getenv("RECONCILE_ENABLED") != "false",
		ReconcileIntervalStr:       os.Getenv("RECONCILE_INTERVAL"),
		ReconcileStuckAfterStr:     os.Getenv("RECONCILE_STUCK_AFTER"),
		ReconcileCron:              os.Getenv("RECONCILE_CRON"),
		ReconcileCronTimezone:      os.Getenv("RECONCILE_CRON_TIMEZONE"),
		LeaseTTLStr:                os.Getenv("LEASE_TTL"),
		CircuitBreakerCooldownStr:  os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
		LeaderElectionEnabled:      os.Getenv("LEADER_ELECTION_ENABLED") == "true",
		LeaderRetryIntervalStr:     os.Getenv("LEADER_RETRY_INTERVAL"),
		LeaderHeartbeatIntervalStr: os.Getenv("LEADER_HEARTBEAT_INTERVAL"),
	}

	if bufStr := os.Getenv("BUFFER_MINUTES"); bufStr != "" {
		if n, err := parseInt(bufStr); err == nil {
			cfg.BufferMinutes = n
		} else {
			log.Warn().Str("value", bufStr).Msg("config: invalid BUFFER_MINUTES, using default 30")
		}
	}
	if cfg.BufferMinutes == 0 && os.Getenv("BUFFER_MINUTES") != "0" {
		cfg.BufferMinutes = 30
	}

	if batchStr := os.Getenv("RECONCILE_BATCH_SIZE"); batchStr != "" {
		if n, err := parseInt(batchStr); err == nil && n > 0 {
			cfg.ReconcileBatchSize = n
		} else {
			log.Warn().Str("value", batchStr).Msg("config: invalid RECONCILE_BATCH_SIZE, using default 100")
		}
	}
	if cfg.ReconcileBatchSize == 0 {
		cfg.ReconcileBatchSize = 100
	}

	if busStr := os.Getenv("BUS_BUFFER_SIZE"); busStr != "" {
		if n, err := parseInt(busStr); err == nil && n > 0 {
			cfg.BusBufferSize = n
		} else {
			log.Warn().Str("value", busStr).Msg("config: invalid BUS_BUFFER_SIZE, using default 100")
		}
	}
	if cfg.BusBufferSize == 0 {
		cfg.BusBufferSize = 100
	}

	if cbStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbStr != "" {
		if n, err := parseInt(cbStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Warn().Str("value", cbStr).Msg("config: invalid CIRCUIT_BREAKER_THRESHOLD, using default 5")
		}
	}
	if cfg.CircuitBreakerThreshold == 0 && os.Getenv("CIRCUIT_BREAKER_THRESHOLD") == "" {
		cfg.CircuitBreakerThreshold = 5
	}

	if lockKeyStr := os.Getenv("LEADER_LOCK_KEY"); lockKeyStr != "" {
		if n, err := parseInt(lockKeyStr); err == nil && n > 0 {
			cfg.LeaderLockKey = int64(n)
		} else {
			log.Warn().Str("value", lockKeyStr).Msg("config: invalid LEADER_LOCK_KEY, using default 915407")
		}
	}
	if cfg.LeaderLockKey == 0 {
		cfg.LeaderLockKey = 915407
	}

	if maxOpenStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpenStr != "" {
		if n, err := parseInt(maxOpenStr); err == nil && n > 0 {
			cfg.DBMaxOpenConns = n
		}
	}
	if cfg.DBMaxOpenConns == 0 {
		cfg.DBMaxOpenConns = 25
	}

	if maxIdleStr := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdleStr != "" {
		if n, err := parseInt(maxIdleStr); err == nil && n > 0 {
			cfg.DBMaxIdleConns = n
		}
	}
	if cfg.DBMaxIdleConns == 0 {
		cfg.DBMaxIdleConns = 5
	}

	// Support PaaS PORT as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.MigrationsPath == "" {
		cfg.MigrationsPath = "./migrations"
	}
	if cfg.CalendarTimeoutStr == "" {
		cfg.CalendarTimeoutStr = "10s"
	}
	if cfg.TicketTimeoutStr == "" {
		cfg.TicketTimeoutStr = "10s"
	}
	if cfg.DefaultDurationStr == "" {
		cfg.DefaultDurationStr = "2h"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.ReconcileIntervalStr == "" {
		cfg.ReconcileIntervalStr = "2m"
	}
	if cfg.ReconcileStuckAfterStr == "" {
		cfg.ReconcileStuckAfterStr = "24h"
	}
	if cfg.LeaseTTLStr == "" {
		cfg.LeaseTTLStr = "30s"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "2s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.CalendarTimeoutStr); err == nil {
		cfg.CalendarTimeout = d
	}
	if d, err := time.ParseDuration(cfg.TicketTimeoutStr); err == nil {
		cfg.TicketTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DefaultDurationStr); err == nil {
		cfg.DefaultDuration = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileIntervalStr); err == nil {
		cfg.ReconcileInterval = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileStuckAfterStr); err == nil {
		cfg.ReconcileStuckAfter = d
	}
	if d, err := time.ParseDuration(cfg.LeaseTTLStr); err == nil {
		cfg.LeaseTTL = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.LeaderRetryIntervalStr); err == nil {
		cfg.LeaderRetryInterval = d
	}
	if d, err := time.ParseDuration(cfg.LeaderHeartbeatIntervalStr); err == nil {
		cfg.LeaderHeartbeatInterval = d
	}

	return cfg
}

// Buffer returns the conflict buffer as a duration.
func (c Config) Buffer() time.Duration {
	return time.Duration(c.BufferMinutes) * time.Minute
}

// parseInt parses a string of decimal digits.
func parseInt(s string) (int, error) {
	if s == "" {
		return 0, os.ErrInvalid
	}
	var n int
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(ch-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL             string `json:"database_url"`
		MigrationsPath          string `json:"migrations_path"`
		RedisAddr               string `json:"redis_addr,omitempty"`
		HTTPAddr                string `json:"http_addr"`
		CalendarBaseURL         string `json:"calendar_base_url"`
		TicketBaseURL           string `json:"ticket_base_url"`
		CalendarTimeout         string `json:"calendar_timeout"`
		TicketTimeout           string `json:"ticket_timeout"`
		BufferMinutes           int    `json:"buffer_minutes"`
		DefaultDuration         string `json:"default_duration"`
		DBMaxOpenConns          int    `json:"db_max_open_conns"`
		DBMaxIdleConns          int    `json:"db_max_idle_conns"`
		DBConnMaxLifetime       string `json:"db_conn_max_lifetime"`
		HTTPShutdownTimeout     string `json:"http_shutdown_timeout"`
		MetricsEnabled          bool   `json:"metrics_enabled"`
		MetricsPath             string `json:"metrics_path"`
		ReconcileEnabled        bool   `json:"reconcile_enabled"`
		ReconcileInterval       string `json:"reconcile_interval"`
		ReconcileBatchSize      int    `json:"reconcile_batch_size"`
		ReconcileStuckAfter     string `json:"reconcile_stuck_after"`
		ReconcileCron           string `json:"reconcile_cron,omitempty"`
		ReconcileCronTimezone   string `json:"reconcile_cron_timezone,omitempty"`
		BusBufferSize           int    `json:"bus_buffer_size"`
		LeaseTTL                string `json:"lease_ttl"`
		CircuitBreakerThreshold int    `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown  string `json:"circuit_breaker_cooldown"`
		LeaderElectionEnabled   bool   `json:"leader_election_enabled"`
		LeaderLockKey           int64  `json:"leader_lock_key"`
		LeaderRetryInterval     string `json:"leader_retry_interval"`
		LeaderHeartbeatInterval string `json:"leader_heartbeat_interval"`
	}{
		DatabaseURL:             maskSecret(c.DatabaseURL),
		MigrationsPath:          c.MigrationsPath,
		RedisAddr:               c.RedisAddr,
		HTTPAddr:                c.HTTPAddr,
		CalendarBaseURL:         c.CalendarBaseURL,
		TicketBaseURL:           c.TicketBaseURL,
		CalendarTimeout:         c.CalendarTimeoutStr,
		TicketTimeout:           c.TicketTimeoutStr,
		BufferMinutes:           c.BufferMinutes,
		DefaultDuration:         c.DefaultDurationStr,
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
		DBConnMaxLifetime:       c.DBConnMaxLifetimeStr,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPath:             c.MetricsPath,
		ReconcileEnabled:        c.ReconcileEnabled,
		ReconcileInterval:       c.ReconcileIntervalStr,
		ReconcileBatchSize:      c.ReconcileBatchSize,
		ReconcileStuckAfter:     c.ReconcileStuckAfterStr,
		ReconcileCron:           c.ReconcileCron,
		ReconcileCronTimezone:   c.ReconcileCronTimezone,
		BusBufferSize:           c.BusBufferSize,
		LeaseTTL:                c.LeaseTTLStr,
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  c.CircuitBreakerCooldownStr,
		LeaderElectionEnabled:   c.LeaderElectionEnabled,
		LeaderLockKey:           c.LeaderLockKey,
		LeaderRetryInterval:     c.LeaderRetryIntervalStr,
		LeaderHeartbeatInterval: c.LeaderHeartbeatIntervalStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
