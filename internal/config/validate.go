package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/fieldops/dispatchd/internal/cron"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors listing every problem.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{Field: "DATABASE_URL", Message: "required"})
	}
	errs = appendURLError(errs, "CALENDAR_BASE_URL", cfg.CalendarBaseURL)
	errs = appendURLError(errs, "TICKET_BASE_URL", cfg.TicketBaseURL)

	durations := []struct {
		field string
		value string
	}{
		{"CALENDAR_TIMEOUT", cfg.CalendarTimeoutStr},
		{"TICKET_TIMEOUT", cfg.TicketTimeoutStr},
		{"DEFAULT_DURATION", cfg.DefaultDurationStr},
		{"RECONCILE_INTERVAL", cfg.ReconcileIntervalStr},
		{"RECONCILE_STUCK_AFTER", cfg.ReconcileStuckAfterStr},
		{"LEASE_TTL", cfg.LeaseTTLStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
		{"CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr},
		{"LEADER_RETRY_INTERVAL", cfg.LeaderRetryIntervalStr},
		{"LEADER_HEARTBEAT_INTERVAL", cfg.LeaderHeartbeatIntervalStr},
	}
	for _, item := range durations {
		if item.value == "" {
			continue
		}
		d, err := time.ParseDuration(item.value)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   item.field,
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{Field: item.field, Message: "must be positive"})
		}
	}

	if cfg.BufferMinutes < 0 {
		errs = append(errs, ValidationError{Field: "BUFFER_MINUTES", Message: "must not be negative"})
	}

	if cfg.ReconcileCron != "" {
		if _, err := cron.Parse(cfg.ReconcileCron, cfg.ReconcileCronTimezone); err != nil {
			errs = append(errs, ValidationError{
				Field:   "RECONCILE_CRON",
				Message: err.Error(),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func appendURLError(errs ValidationErrors, field, value string) ValidationErrors {
	if value == "" {
		return append(errs, ValidationError{Field: field, Message: "required"})
	}
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return append(errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid URL %q", value)})
	}
	return errs
}
