// Package calendar is the boundary to the external calendar system.
// It carries no business logic: create an event, add an attendee, read
// attendee responses, cancel an event. The external calendar is
// authoritative for attendee response facts only; schedule existence
// and intent always live in the schedule store.
package calendar

import (
	"context"

	"github.com/fieldops/dispatchd/internal/domain"
)

// Gateway is the contract the confirmation workflow requires from
// whatever calendar API is configured.
type Gateway interface {
	// CreateEvent creates an event and returns its opaque reference.
	CreateEvent(ctx context.Context, req domain.EventRequest) (string, error)

	// AddAttendee invites another party to an existing event.
	AddAttendee(ctx context.Context, eventRef string, attendee domain.Attendee) error

	// GetEvent returns the event's existence and attendee responses.
	// A deleted event is reported as Exists=false, not as an error.
	GetEvent(ctx context.Context, eventRef string) (domain.EventStatus, error)

	// CancelEvent deletes the event. Cancelling an already-deleted
	// event is treated as success.
	CancelEvent(ctx context.Context, eventRef string) error
}
