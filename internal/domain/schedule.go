package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConfirmationState tracks who has accepted the appointment. It is
// independent of WorkStatus, which tracks the work itself.
type ConfirmationState string

const (
	StateDraft           ConfirmationState = "draft"
	StatePendingTech     ConfirmationState = "pending_tech"
	StateTechAccepted    ConfirmationState = "tech_accepted"
	StatePendingCustomer ConfirmationState = "pending_customer"
	StateConfirmed       ConfirmationState = "confirmed"
	StateCancelled       ConfirmationState = "cancelled"
)

// WorkStatus is the operational lifecycle of the appointment's work.
type WorkStatus string

const (
	WorkScheduled  WorkStatus = "scheduled"
	WorkInProgress WorkStatus = "in_progress"
	WorkCompleted  WorkStatus = "completed"
	WorkCancelled  WorkStatus = "cancelled"
)

// ConfirmationMethod records how a schedule reached confirmed.
type ConfirmationMethod string

const (
	MethodCalendarAccept ConfirmationMethod = "calendar-accept"
	MethodManualOverride ConfirmationMethod = "manual-override"
)

// CancelReason distinguishes the cancellation paths.
type CancelReason string

const (
	CancelTechDeclined     CancelReason = "tech_declined"
	CancelCustomerDeclined CancelReason = "customer_declined"
	CancelEventDeleted     CancelReason = "event_deleted"
)

// Confirmation is present only once a schedule reaches confirmed.
type Confirmation struct {
	At     time.Time
	By     string
	Method ConfirmationMethod
}

// Schedule is the appointment record coordinated by this service.
// The underlying Ticket is owned by the ticket system and referenced only.
type Schedule struct {
	ID       uuid.UUID
	TicketID uuid.UUID

	TechnicianID    uuid.UUID
	TechnicianName  string
	TechnicianEmail string

	Window Window

	Status            WorkStatus
	ConfirmationState ConfirmationState

	// ExternalEventRef is the calendar event id in the external system.
	// Nil exactly while the schedule is a draft.
	ExternalEventRef *string

	Confirmation         *Confirmation
	CustomerInviteSentAt *time.Time
	CancelReason         CancelReason

	// Version is the optimistic concurrency token. Every successful
	// update bumps it; writers must present the version they read.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive reports whether the schedule's window counts toward the
// technician non-overlap invariant. Drafts and pending_tech schedules
// are tentative options and may overlap until the technician accepts.
func (s *Schedule) IsActive() bool {
	switch s.ConfirmationState {
	case StateTechAccepted, StatePendingCustomer, StateConfirmed:
		return true
	}
	return false
}

// AwaitingResponse reports whether the reconciler should poll the
// external calendar for this schedule.
func (s *Schedule) AwaitingResponse() bool {
	return s.ConfirmationState == StatePendingTech || s.ConfirmationState == StatePendingCustomer
}

// PendingParty returns the attendee whose response the schedule is
// waiting on, and false if it is not waiting on anyone.
func (s *Schedule) PendingParty() (AttendeeRole, bool) {
	switch s.ConfirmationState {
	case StatePendingTech:
		return RoleTechnician, true
	case StatePendingCustomer:
		return RoleCustomer, true
	}
	return "", false
}
