// Package scheduler orchestrates dispatcher actions on schedules:
// drafting, moving, committing, inviting, confirming, resetting and
// removing. It owns window defaulting and the buffer conflict check;
// state transitions themselves are delegated to the confirmation
// machine, persistence to the schedule store.
//
// Every mutating operation takes the version the caller read and fails
// with domain.ErrStaleWrite when the stored version has advanced.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fieldops/dispatchd/internal/conflict"
	"github.com/fieldops/dispatchd/internal/confirmation"
	"github.com/fieldops/dispatchd/internal/domain"
)

// Store is the durable schedule storage the scheduler requires.
type Store interface {
	Insert(ctx context.Context, s domain.Schedule) error
	Get(ctx context.Context, id uuid.UUID) (domain.Schedule, error)
	// Update persists s if the stored version equals expectedVersion,
	// bumping the version. Returns domain.ErrStaleWrite otherwise.
	Update(ctx context.Context, s domain.Schedule, expectedVersion int64) (domain.Schedule, error)
	// Delete removes the row under the same version guard.
	Delete(ctx context.Context, id uuid.UUID, expectedVersion int64) error
	// ListActiveWindows returns the technician's windows in states
	// covered by the non-overlap invariant, excluding excludeID.
	ListActiveWindows(ctx context.Context, technicianID, excludeID uuid.UUID) ([]conflict.BusyWindow, error)
	ListForRange(ctx context.Context, technicianID *uuid.UUID, from, to time.Time) ([]domain.Schedule, error)
}

// TicketSource resolves ticket data for window defaulting and invites.
type TicketSource interface {
	GetTicket(ctx context.Context, ticketID uuid.UUID) (domain.Ticket, error)
}

// Config holds scheduler policy.
type Config struct {
	// Buffer is the minimum margin between a technician's booked windows.
	Buffer time.Duration

	// DefaultDuration is the window length when neither the dispatcher
	// nor the ticket supplies one.
	DefaultDuration time.Duration
}

// DefaultConfig returns the default scheduler policy.
func DefaultConfig() Config {
	return Config{
		Buffer:          30 * time.Minute,
		DefaultDuration: 2 * time.Hour,
	}
}

// Scheduler is the dispatcher-facing orchestration service.
type Scheduler struct {
	config  Config
	store   Store
	machine *confirmation.Machine
	tickets TicketSource
	clock   func() time.Time
}

func New(config Config, store Store, machine *confirmation.Machine, tickets TicketSource) *Scheduler {
	// Zero is a valid buffer (back-to-back bookings allowed); only a
	// negative value falls back to the default.
	if config.Buffer < 0 {
		config.Buffer = DefaultConfig().Buffer
	}
	if config.DefaultDuration <= 0 {
		config.DefaultDuration = DefaultConfig().DefaultDuration
	}
	return &Scheduler{
		config:  config,
		store:   store,
		machine: machine,
		tickets: tickets,
		clock:   time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// CreateDraftParams describes a new draft schedule. End and Duration
// are alternatives; when both are absent the window length falls back
// to the ticket's estimate, then to the configured default.
type CreateDraftParams struct {
	TicketID        uuid.UUID
	TechnicianID    uuid.UUID
	TechnicianName  string
	TechnicianEmail string
	Start           time.Time
	End             *time.Time
	Duration        *time.Duration
}

// CreateDraft validates and inserts a draft schedule. Drafts run no
// conflict check: they are tentative options and may overlap.
func (s *Scheduler) CreateDraft(ctx context.Context, params CreateDraftParams) (domain.Schedule, error) {
	if params.TicketID == uuid.Nil {
		return domain.Schedule{}, &domain.ValidationError{Field: "ticket_id", Message: "required"}
	}
	if params.TechnicianID == uuid.Nil {
		return domain.Schedule{}, &domain.ValidationError{Field: "technician_id", Message: "required"}
	}

	window, err := s.resolveWindow(ctx, params)
	if err != nil {
		return domain.Schedule{}, err
	}

	now := s.clock().UTC()
	sched := domain.Schedule{
		ID:                uuid.New(),
		TicketID:          params.TicketID,
		TechnicianID:      params.TechnicianID,
		TechnicianName:    params.TechnicianName,
		TechnicianEmail:   params.TechnicianEmail,
		Window:            window,
		Status:            domain.WorkScheduled,
		ConfirmationState: domain.StateDraft,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.store.Insert(ctx, sched); err != nil {
		return domain.Schedule{}, fmt.Errorf("insert draft: %w", err)
	}

	log.Info().
		Str("schedule_id", sched.ID.String()).
		Str("ticket_id", sched.TicketID.String()).
		Str("technician", sched.TechnicianName).
		Time("start", window.Start).
		Time("end", window.End).
		Msg("scheduler: draft created")
	return sched, nil
}

// MoveDraftParams is the new placement for a draft. Technician fields
// are optional; empty means keep the current assignment.
type MoveDraftParams struct {
	Window          domain.Window
	TechnicianID    uuid.UUID
	TechnicianName  string
	TechnicianEmail string
}

// MoveDraft updates a draft's window and optionally its technician.
// Only drafts are directly mutable; every other state must be reset to
// draft first.
func (s *Scheduler) MoveDraft(ctx context.Context, id uuid.UUID, version int64, params MoveDraftParams) (domain.Schedule, error) {
	sched, err := s.load(ctx, id, version)
	if err != nil {
		return domain.Schedule{}, err
	}
	if sched.ConfirmationState != domain.StateDraft {
		return domain.Schedule{}, &domain.InvalidStateError{Op: "move", State: string(sched.ConfirmationState)}
	}
	if err := params.Window.Validate(); err != nil {
		return domain.Schedule{}, err
	}

	sched.Window = params.Window
	if params.TechnicianID != uuid.Nil {
		sched.TechnicianID = params.TechnicianID
		sched.TechnicianName = params.TechnicianName
		sched.TechnicianEmail = params.TechnicianEmail
	}
	sched.UpdatedAt = s.clock().UTC()

	return s.update(ctx, sched, version)
}

// Commit runs the buffer conflict check against the technician's
// active windows and drives draft -> pending_tech, creating the
// external calendar event. actor is the committing dispatcher's email,
// used to detect self-assignment.
func (s *Scheduler) Commit(ctx context.Context, id uuid.UUID, version int64, actor string) (domain.Schedule, error) {
	sched, err := s.load(ctx, id, version)
	if err != nil {
		return domain.Schedule{}, err
	}
	if sched.ConfirmationState != domain.StateDraft {
		return domain.Schedule{}, &domain.InvalidStateError{Op: "commit", State: string(sched.ConfirmationState)}
	}

	busy, err := s.store.ListActiveWindows(ctx, sched.TechnicianID, sched.ID)
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("list active windows: %w", err)
	}
	if hit, ok := conflict.HasConflict(sched.Window, s.config.Buffer, busy); ok {
		return domain.Schedule{}, &domain.ConflictError{
			TechnicianID:   sched.TechnicianID,
			TechnicianName: sched.TechnicianName,
			ScheduleID:     hit.ScheduleID,
			Window:         hit.Window,
			Buffer:         s.config.Buffer,
		}
	}

	ticket, err := s.tickets.GetTicket(ctx, sched.TicketID)
	if err != nil {
		return domain.Schedule{}, err
	}

	if err := s.machine.Commit(ctx, &sched, s.buildEventRequest(sched, ticket), actor); err != nil {
		return domain.Schedule{}, err
	}

	updated, err := s.update(ctx, sched, version)
	if err != nil {
		// The row did not move, so the event just created must not
		// outlive this attempt or a retried commit creates a second one.
		s.machine.ReleaseEvent(ctx, &sched)
		return domain.Schedule{}, err
	}
	log.Info().
		Str("schedule_id", updated.ID.String()).
		Str("event_ref", *updated.ExternalEventRef).
		Msg("scheduler: committed, awaiting technician response")
	return updated, nil
}

// SendCustomerInvite drives tech_accepted -> pending_customer, adding
// the ticket's customer contact to the calendar event.
func (s *Scheduler) SendCustomerInvite(ctx context.Context, id uuid.UUID, version int64) (domain.Schedule, error) {
	sched, err := s.load(ctx, id, version)
	if err != nil {
		return domain.Schedule{}, err
	}

	ticket, err := s.tickets.GetTicket(ctx, sched.TicketID)
	if err != nil {
		return domain.Schedule{}, err
	}
	if ticket.CustomerContact.Email == "" {
		return domain.Schedule{}, &domain.ValidationError{Field: "customer_contact", Message: "ticket has no customer email"}
	}

	if err := s.machine.SendCustomerInvite(ctx, &sched, ticket.CustomerContact); err != nil {
		return domain.Schedule{}, err
	}
	updated, err := s.update(ctx, sched, version)
	if err != nil {
		// AddAttendee has no compensating removal; a retried invite
		// re-adds the same email to the same event.
		log.Warn().
			Str("schedule_id", sched.ID.String()).
			Msg("scheduler: customer invite sent but not persisted, retry required")
		return domain.Schedule{}, err
	}
	return updated, nil
}

// MarkConfirmedManually records a confirmation obtained outside the
// calendar (phone, in person).
func (s *Scheduler) MarkConfirmedManually(ctx context.Context, id uuid.UUID, version int64, by string) (domain.Schedule, error) {
	sched, err := s.load(ctx, id, version)
	if err != nil {
		return domain.Schedule{}, err
	}
	if err := s.machine.ConfirmManually(ctx, &sched, by); err != nil {
		return domain.Schedule{}, err
	}
	return s.update(ctx, sched, version)
}

// ResetToDraft is the only undo: it cancels the external event and
// returns the schedule to a mutable draft.
func (s *Scheduler) ResetToDraft(ctx context.Context, id uuid.UUID, version int64) (domain.Schedule, error) {
	sched, err := s.load(ctx, id, version)
	if err != nil {
		return domain.Schedule{}, err
	}
	if err := s.machine.ResetToDraft(ctx, &sched); err != nil {
		return domain.Schedule{}, err
	}
	updated, err := s.update(ctx, sched, version)
	if err != nil {
		return domain.Schedule{}, err
	}
	log.Info().Str("schedule_id", id.String()).Msg("scheduler: reset to draft")
	return updated, nil
}

// Remove hard-deletes the schedule, then best-effort cancels the
// external event and returns the ticket to the unscheduled pool. The
// ticket itself is never touched.
func (s *Scheduler) Remove(ctx context.Context, id uuid.UUID, version int64) error {
	sched, err := s.load(ctx, id, version)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id, version); err != nil {
		return err
	}
	s.machine.Remove(ctx, &sched)
	log.Info().Str("schedule_id", id.String()).Msg("scheduler: removed")
	return nil
}

// MarkInProgress records that the technician started the work. Requires
// an accepted appointment; confirmation state is otherwise untouched.
func (s *Scheduler) MarkInProgress(ctx context.Context, id uuid.UUID, version int64) (domain.Schedule, error) {
	sched, err := s.load(ctx, id, version)
	if err != nil {
		return domain.Schedule{}, err
	}
	if !sched.IsActive() {
		return domain.Schedule{}, &domain.InvalidStateError{Op: "start work", State: string(sched.ConfirmationState)}
	}
	if sched.Status != domain.WorkScheduled {
		return domain.Schedule{}, &domain.InvalidStateError{Op: "start work", State: string(sched.Status)}
	}
	sched.Status = domain.WorkInProgress
	sched.UpdatedAt = s.clock().UTC()
	return s.update(ctx, sched, version)
}

// MarkCompleted records that the work finished.
func (s *Scheduler) MarkCompleted(ctx context.Context, id uuid.UUID, version int64) (domain.Schedule, error) {
	sched, err := s.load(ctx, id, version)
	if err != nil {
		return domain.Schedule{}, err
	}
	if sched.Status != domain.WorkInProgress {
		return domain.Schedule{}, &domain.InvalidStateError{Op: "complete work", State: string(sched.Status)}
	}
	sched.Status = domain.WorkCompleted
	sched.UpdatedAt = s.clock().UTC()
	return s.update(ctx, sched, version)
}

// ListSchedulesForRange returns schedules whose windows intersect
// [from, to), optionally filtered by technician.
func (s *Scheduler) ListSchedulesForRange(ctx context.Context, technicianID *uuid.UUID, from, to time.Time) ([]domain.Schedule, error) {
	if !to.After(from) {
		return nil, &domain.ValidationError{Field: "range", Message: "to must be after from"}
	}
	return s.store.ListForRange(ctx, technicianID, from, to)
}

// Get returns a schedule by id.
func (s *Scheduler) Get(ctx context.Context, id uuid.UUID) (domain.Schedule, error) {
	return s.store.Get(ctx, id)
}

func (s *Scheduler) resolveWindow(ctx context.Context, params CreateDraftParams) (domain.Window, error) {
	window := domain.Window{Start: params.Start}

	switch {
	case params.End != nil:
		window.End = *params.End
	case params.Duration != nil:
		if *params.Duration <= 0 {
			return domain.Window{}, &domain.ValidationError{Field: "duration", Message: "must be positive"}
		}
		window.End = params.Start.Add(*params.Duration)
	default:
		// No explicit end or duration: fall back to the ticket's
		// estimate, then to the configured default.
		length := s.config.DefaultDuration
		ticket, err := s.tickets.GetTicket(ctx, params.TicketID)
		if err != nil {
			return domain.Window{}, err
		}
		if ticket.EstimatedDuration > 0 {
			length = ticket.EstimatedDuration
		}
		window.End = params.Start.Add(length)
	}

	if err := window.Validate(); err != nil {
		return domain.Window{}, err
	}
	return window, nil
}

func (s *Scheduler) buildEventRequest(sched domain.Schedule, ticket domain.Ticket) domain.EventRequest {
	body := fmt.Sprintf("Field service appointment for ticket %s.", sched.TicketID)
	if ticket.ServiceAddress != "" {
		body += "\nAddress: " + ticket.ServiceAddress
	}
	return domain.EventRequest{
		Subject:  fmt.Sprintf("Field service: %s", sched.TechnicianName),
		Body:     body,
		Location: ticket.ServiceAddress,
		Attendees: []domain.Attendee{{
			Name:  sched.TechnicianName,
			Email: sched.TechnicianEmail,
			Role:  domain.RoleTechnician,
		}},
		Window:    sched.Window,
		Tentative: true,
	}
}

// load fetches a schedule and rejects stale version tokens up front.
// The store's conditional update still guards the actual write.
func (s *Scheduler) load(ctx context.Context, id uuid.UUID, version int64) (domain.Schedule, error) {
	sched, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.Schedule{}, err
	}
	if sched.Version != version {
		return domain.Schedule{}, domain.ErrStaleWrite
	}
	return sched, nil
}

func (s *Scheduler) update(ctx context.Context, sched domain.Schedule, version int64) (domain.Schedule, error) {
	updated, err := s.store.Update(ctx, sched, version)
	if err != nil {
		return domain.Schedule{}, err
	}
	return updated, nil
}
