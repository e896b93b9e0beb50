package domain

import (
	"time"

	"github.com/google/uuid"
)

// Ticket is the slice of the external ticket record this service needs:
// a default appointment length, the customer to invite, and the address
// for the event body. The ticket system owns everything else.
type Ticket struct {
	ID uuid.UUID

	// EstimatedDuration is zero when the ticket carries no estimate.
	EstimatedDuration time.Duration

	CustomerContact Attendee
	ServiceAddress  string
}
