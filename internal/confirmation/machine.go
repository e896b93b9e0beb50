// Package confirmation encodes the appointment confirmation state
// machine: which transitions are allowed, and which external side
// effects each one carries.
//
// Rule applied uniformly at every transition that calls the calendar:
// no locally visible state change without a matching external system
// change. If the calendar call fails, the schedule keeps its prior
// state and the caller sees the error. Ticket notifications are
// downstream best-effort and never block a transition.
//
// The machine mutates schedules in memory only; persisting the result
// under the optimistic version token is the caller's job.
package confirmation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fieldops/dispatchd/internal/domain"
)

// EventGateway is the slice of the calendar gateway the machine drives.
type EventGateway interface {
	CreateEvent(ctx context.Context, req domain.EventRequest) (string, error)
	AddAttendee(ctx context.Context, eventRef string, attendee domain.Attendee) error
	CancelEvent(ctx context.Context, eventRef string) error
}

// TicketNotifier pushes schedule outcomes back to the ticket system.
type TicketNotifier interface {
	NotifyUnscheduled(ctx context.Context, ticketID uuid.UUID) error
	NotifyScheduleConfirmed(ctx context.Context, ticketID, scheduleID uuid.UUID) error
}

// Machine applies confirmation transitions and their side effects.
type Machine struct {
	gateway EventGateway
	tickets TicketNotifier
	clock   func() time.Time
}

// New creates a Machine. tickets may be nil to disable notifications.
func New(gateway EventGateway, tickets TicketNotifier) *Machine {
	return &Machine{
		gateway: gateway,
		tickets: tickets,
		clock:   time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (m *Machine) WithClock(clock func() time.Time) *Machine {
	m.clock = clock
	return m
}

// Commit drives draft -> pending_tech. It creates the external calendar
// event with the technician as required attendee and stores the event
// ref. When actor self-assigns (the committing dispatcher is the
// technician), the event is created without an invite, because an actor
// cannot be invited to their own event; the state still advances.
func (m *Machine) Commit(ctx context.Context, s *domain.Schedule, req domain.EventRequest, actor string) error {
	if s.ConfirmationState != domain.StateDraft {
		return &domain.InvalidStateError{Op: "commit", State: string(s.ConfirmationState)}
	}

	if m.selfAssigned(s, actor) {
		req.Attendees = withoutRole(req.Attendees, domain.RoleTechnician)
		log.Debug().
			Str("schedule_id", s.ID.String()).
			Str("actor", actor).
			Msg("confirmation: self-assigned commit, skipping technician invite")
	}

	ref, err := m.gateway.CreateEvent(ctx, req)
	if err != nil {
		return err
	}

	s.ExternalEventRef = &ref
	m.advance(s, domain.StatePendingTech)
	return nil
}

// TechAccepted drives pending_tech -> tech_accepted. No side effect
// beyond the state write; the machine never auto-advances past
// tech_accepted, so a human decides when the customer is contacted.
func (m *Machine) TechAccepted(ctx context.Context, s *domain.Schedule) error {
	if s.ConfirmationState != domain.StatePendingTech {
		return &domain.InvalidStateError{Op: "accept (technician)", State: string(s.ConfirmationState)}
	}
	m.advance(s, domain.StateTechAccepted)
	return nil
}

// TechDeclined drives pending_tech -> cancelled.
func (m *Machine) TechDeclined(ctx context.Context, s *domain.Schedule) error {
	if s.ConfirmationState != domain.StatePendingTech {
		return &domain.InvalidStateError{Op: "decline (technician)", State: string(s.ConfirmationState)}
	}
	return m.cancel(ctx, s, domain.CancelTechDeclined, true)
}

// SendCustomerInvite drives tech_accepted -> pending_customer, adding
// the customer to the external event. Always dispatcher-initiated.
func (m *Machine) SendCustomerInvite(ctx context.Context, s *domain.Schedule, customer domain.Attendee) error {
	if s.ConfirmationState != domain.StateTechAccepted {
		return &domain.InvalidStateError{Op: "send customer invite", State: string(s.ConfirmationState)}
	}
	if err := m.gateway.AddAttendee(ctx, *s.ExternalEventRef, customer); err != nil {
		return err
	}
	now := m.clock().UTC()
	s.CustomerInviteSentAt = &now
	m.advance(s, domain.StatePendingCustomer)
	return nil
}

// CustomerAccepted drives pending_customer -> confirmed via the
// calendar-accept path.
func (m *Machine) CustomerAccepted(ctx context.Context, s *domain.Schedule, by string) error {
	if s.ConfirmationState != domain.StatePendingCustomer {
		return &domain.InvalidStateError{Op: "accept (customer)", State: string(s.ConfirmationState)}
	}
	m.confirm(ctx, s, by, domain.MethodCalendarAccept)
	return nil
}

// CustomerDeclined drives pending_customer -> cancelled.
func (m *Machine) CustomerDeclined(ctx context.Context, s *domain.Schedule) error {
	if s.ConfirmationState != domain.StatePendingCustomer {
		return &domain.InvalidStateError{Op: "decline (customer)", State: string(s.ConfirmationState)}
	}
	return m.cancel(ctx, s, domain.CancelCustomerDeclined, true)
}

// ConfirmManually drives tech_accepted or pending_customer -> confirmed
// with the manual-override method, for confirmations obtained outside
// the calendar (phone, in person).
func (m *Machine) ConfirmManually(ctx context.Context, s *domain.Schedule, by string) error {
	switch s.ConfirmationState {
	case domain.StateTechAccepted, domain.StatePendingCustomer:
	default:
		return &domain.InvalidStateError{Op: "confirm manually", State: string(s.ConfirmationState)}
	}
	m.confirm(ctx, s, by, domain.MethodManualOverride)
	return nil
}

// EventDeleted drives pending_tech or pending_customer -> cancelled
// when the external event disappeared out-of-band. The event is already
// gone, so no cancel call is issued.
func (m *Machine) EventDeleted(ctx context.Context, s *domain.Schedule) error {
	if !s.AwaitingResponse() {
		return &domain.InvalidStateError{Op: "cancel (event deleted)", State: string(s.ConfirmationState)}
	}
	return m.cancel(ctx, s, domain.CancelEventDeleted, false)
}

// ResetToDraft returns any non-terminal-cancelled, non-draft schedule to
// draft, cancelling the external event and clearing everything the
// confirmation workflow set. It is the system's only undo; cancelled is
// permanently terminal.
func (m *Machine) ResetToDraft(ctx context.Context, s *domain.Schedule) error {
	switch s.ConfirmationState {
	case domain.StateDraft, domain.StateCancelled:
		return &domain.InvalidStateError{Op: "reset to draft", State: string(s.ConfirmationState)}
	}

	if s.ExternalEventRef != nil {
		if err := m.gateway.CancelEvent(ctx, *s.ExternalEventRef); err != nil {
			return err
		}
	}

	s.ExternalEventRef = nil
	s.Confirmation = nil
	s.CustomerInviteSentAt = nil
	s.CancelReason = ""
	s.Status = domain.WorkScheduled
	m.advance(s, domain.StateDraft)
	return nil
}

// Remove performs the external side effects of a hard delete:
// best-effort event cancellation plus returning the ticket to the
// unscheduled pool. Deleting the schedule row is the caller's job; the
// originating ticket is never touched beyond the notification.
func (m *Machine) Remove(ctx context.Context, s *domain.Schedule) {
	if s.ExternalEventRef != nil {
		if err := m.gateway.CancelEvent(ctx, *s.ExternalEventRef); err != nil {
			log.Warn().Err(err).
				Str("schedule_id", s.ID.String()).
				Msg("confirmation: best-effort event cancel failed on remove")
		}
	}
	m.notifyUnscheduled(ctx, s)
}

// ReleaseEvent best-effort cancels the external event and clears the
// ref. Used when a transition's local persist failed after the event
// was created, so a retried transition does not leave a second event
// behind.
func (m *Machine) ReleaseEvent(ctx context.Context, s *domain.Schedule) {
	if s.ExternalEventRef == nil {
		return
	}
	if err := m.gateway.CancelEvent(ctx, *s.ExternalEventRef); err != nil {
		log.Warn().Err(err).
			Str("schedule_id", s.ID.String()).
			Str("event_ref", *s.ExternalEventRef).
			Msg("confirmation: event release failed, event may be orphaned")
	}
	s.ExternalEventRef = nil
}

func (m *Machine) confirm(ctx context.Context, s *domain.Schedule, by string, method domain.ConfirmationMethod) {
	s.Confirmation = &domain.Confirmation{
		At:     m.clock().UTC(),
		By:     by,
		Method: method,
	}
	m.advance(s, domain.StateConfirmed)

	if m.tickets != nil {
		if err := m.tickets.NotifyScheduleConfirmed(ctx, s.TicketID, s.ID); err != nil {
			log.Warn().Err(err).
				Str("schedule_id", s.ID.String()).
				Str("ticket_id", s.TicketID.String()).
				Msg("confirmation: ticket confirmed notification failed")
		}
	}
}

func (m *Machine) cancel(ctx context.Context, s *domain.Schedule, reason domain.CancelReason, cancelEvent bool) error {
	if cancelEvent && s.ExternalEventRef != nil {
		if err := m.gateway.CancelEvent(ctx, *s.ExternalEventRef); err != nil {
			return err
		}
	}

	s.CancelReason = reason
	s.Status = domain.WorkCancelled
	m.advance(s, domain.StateCancelled)
	m.notifyUnscheduled(ctx, s)
	return nil
}

func (m *Machine) notifyUnscheduled(ctx context.Context, s *domain.Schedule) {
	if m.tickets == nil {
		return
	}
	if err := m.tickets.NotifyUnscheduled(ctx, s.TicketID); err != nil {
		log.Warn().Err(err).
			Str("schedule_id", s.ID.String()).
			Str("ticket_id", s.TicketID.String()).
			Msg("confirmation: ticket unscheduled notification failed")
	}
}

func (m *Machine) advance(s *domain.Schedule, to domain.ConfirmationState) {
	s.ConfirmationState = to
	s.UpdatedAt = m.clock().UTC()
}

func (m *Machine) selfAssigned(s *domain.Schedule, actor string) bool {
	return actor != "" && s.TechnicianEmail != "" && strings.EqualFold(actor, s.TechnicianEmail)
}

func withoutRole(attendees []domain.Attendee, role domain.AttendeeRole) []domain.Attendee {
	out := attendees[:0:0]
	for _, a := range attendees {
		if a.Role != role {
			out = append(out, a)
		}
	}
	return out
}
