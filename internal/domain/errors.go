package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrScheduleNotFound is returned when a schedule id resolves to nothing.
var ErrScheduleNotFound = errors.New("schedule not found")

// ErrStaleWrite is returned when a conditional write loses an optimistic
// concurrency race. The caller must re-read and retry with fresh state.
var ErrStaleWrite = errors.New("stale write: schedule version has advanced")

// ValidationError reports malformed input. It is rejected before any
// write and never retried automatically.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// ConflictError reports a buffer violation at commit time. It names the
// colliding schedule and window so a dispatcher can resolve it without
// querying separately.
type ConflictError struct {
	TechnicianID   uuid.UUID
	TechnicianName string
	ScheduleID     uuid.UUID
	Window         Window
	Buffer         time.Duration
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: technician %s (%s) already booked %s-%s (schedule %s, buffer %s)",
		e.TechnicianName, e.TechnicianID,
		e.Window.Start.Format(time.RFC3339), e.Window.End.Format(time.RFC3339),
		e.ScheduleID, e.Buffer)
}

// InvalidStateError reports an operation attempted from a confirmation
// state that does not permit it. Always a caller error, never retried.
type InvalidStateError struct {
	Op    string
	State string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state: cannot %s from %s", e.Op, e.State)
}

// GatewayError wraps a transient failure talking to an external system.
// At commit time it aborts the transition; during reconciliation it is
// logged and retried on the next pass.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway: %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Temporary reports that the failure is transient and the operation may
// be retried. A gateway error is never interpreted as a decline.
func (e *GatewayError) Temporary() bool { return true }
