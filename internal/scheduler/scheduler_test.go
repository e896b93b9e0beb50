package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/dispatchd/internal/conflict"
	"github.com/fieldops/dispatchd/internal/confirmation"
	"github.com/fieldops/dispatchd/internal/domain"
)

// memStore is an in-memory Store with the same version-guard semantics
// as the Postgres implementation.
type memStore struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]domain.Schedule
	updateErr error
}

func newMemStore() *memStore {
	return &memStore{schedules: make(map[uuid.UUID]domain.Schedule)}
}

func (m *memStore) Insert(ctx context.Context, s domain.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID] = s
	return nil
}

func (m *memStore) Get(ctx context.Context, id uuid.UUID) (domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return domain.Schedule{}, domain.ErrScheduleNotFound
	}
	return s, nil
}

func (m *memStore) Update(ctx context.Context, s domain.Schedule, expectedVersion int64) (domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return domain.Schedule{}, m.updateErr
	}
	current, ok := m.schedules[s.ID]
	if !ok {
		return domain.Schedule{}, domain.ErrScheduleNotFound
	}
	if current.Version != expectedVersion {
		return domain.Schedule{}, domain.ErrStaleWrite
	}
	s.Version = expectedVersion + 1
	m.schedules[s.ID] = s
	return s, nil
}

func (m *memStore) Delete(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.schedules[id]
	if !ok {
		return domain.ErrScheduleNotFound
	}
	if current.Version != expectedVersion {
		return domain.ErrStaleWrite
	}
	delete(m.schedules, id)
	return nil
}

func (m *memStore) ListActiveWindows(ctx context.Context, technicianID, excludeID uuid.UUID) ([]conflict.BusyWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []conflict.BusyWindow
	for _, s := range m.schedules {
		if s.TechnicianID != technicianID || s.ID == excludeID || !s.IsActive() {
			continue
		}
		out = append(out, conflict.BusyWindow{
			ScheduleID:     s.ID,
			TechnicianID:   s.TechnicianID,
			TechnicianName: s.TechnicianName,
			Window:         s.Window,
		})
	}
	return out, nil
}

func (m *memStore) ListForRange(ctx context.Context, technicianID *uuid.UUID, from, to time.Time) ([]domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Schedule
	for _, s := range m.schedules {
		if technicianID != nil && s.TechnicianID != *technicianID {
			continue
		}
		if s.Window.Overlaps(domain.Window{Start: from, End: to}) {
			out = append(out, s)
		}
	}
	return out, nil
}

// put replaces a schedule directly, bypassing the version guard. Used
// to simulate reconciler-applied transitions.
func (m *memStore) put(s domain.Schedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID] = s
}

// memGateway is a minimal calendar gateway for machine wiring.
type memGateway struct {
	mu        sync.Mutex
	createErr error
	cancelled []string
	seq       int
}

func (g *memGateway) CreateEvent(ctx context.Context, req domain.EventRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return "", g.createErr
	}
	g.seq++
	return uuid.NewString(), nil
}

func (g *memGateway) AddAttendee(ctx context.Context, eventRef string, a domain.Attendee) error {
	return nil
}

func (g *memGateway) CancelEvent(ctx context.Context, eventRef string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, eventRef)
	return nil
}

type memTickets struct {
	ticket domain.Ticket
	err    error
}

func (t *memTickets) GetTicket(ctx context.Context, ticketID uuid.UUID) (domain.Ticket, error) {
	if t.err != nil {
		return domain.Ticket{}, t.err
	}
	ticket := t.ticket
	ticket.ID = ticketID
	return ticket, nil
}

type fixture struct {
	store   *memStore
	gateway *memGateway
	tickets *memTickets
	sched   *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	gateway := &memGateway{}
	tickets := &memTickets{ticket: domain.Ticket{
		CustomerContact: domain.Attendee{Name: "Dana Cho", Email: "dana@example.com", Role: domain.RoleCustomer},
		ServiceAddress:  "12 Elm St",
	}}
	machine := confirmation.New(gateway, nil)
	sched := New(Config{Buffer: 30 * time.Minute, DefaultDuration: 2 * time.Hour}, store, machine, tickets)
	return &fixture{store: store, gateway: gateway, tickets: tickets, sched: sched}
}

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return ts
}

func (f *fixture) draft(t *testing.T, techID uuid.UUID, start, end string) domain.Schedule {
	t.Helper()
	e := at(t, end)
	s, err := f.sched.CreateDraft(context.Background(), CreateDraftParams{
		TicketID:        uuid.New(),
		TechnicianID:    techID,
		TechnicianName:  "Pat Rivera",
		TechnicianEmail: "pat@fieldops.example",
		Start:           at(t, start),
		End:             &e,
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	return s
}

// TestCommit_Scenario1 commits a draft and verifies it waits for the
// technician with an external event attached.
func TestCommit_Scenario1(t *testing.T) {
	f := newFixture(t)
	techID := uuid.New()
	s := f.draft(t, techID, "2026-03-01T09:00:00Z", "2026-03-01T10:00:00Z")

	committed, err := f.sched.Commit(context.Background(), s.ID, s.Version, "dispatcher@fieldops.example")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if committed.ConfirmationState != domain.StatePendingTech {
		t.Errorf("state = %s, want pending_tech", committed.ConfirmationState)
	}
	if committed.ExternalEventRef == nil {
		t.Error("external event ref not set")
	}
	if committed.Version != s.Version+1 {
		t.Errorf("version = %d, want %d", committed.Version, s.Version+1)
	}
}

// TestCommit_Scenario2_TentativeOptionsMayOverlap verifies that a
// pending_tech schedule does not block committing an overlapping
// window for the same technician. Dispatchers deliberately hold
// multiple tentative options until one is accepted.
func TestCommit_Scenario2_TentativeOptionsMayOverlap(t *testing.T) {
	f := newFixture(t)
	techID := uuid.New()

	first := f.draft(t, techID, "2026-03-01T09:00:00Z", "2026-03-01T10:00:00Z")
	if _, err := f.sched.Commit(context.Background(), first.ID, first.Version, "dispatcher@fieldops.example"); err != nil {
		t.Fatalf("commit first: %v", err)
	}

	second := f.draft(t, techID, "2026-03-01T09:30:00Z", "2026-03-01T10:30:00Z")
	committed, err := f.sched.Commit(context.Background(), second.ID, second.Version, "dispatcher@fieldops.example")
	if err != nil {
		t.Fatalf("overlapping commit against pending_tech should succeed: %v", err)
	}
	if committed.ConfirmationState != domain.StatePendingTech {
		t.Errorf("state = %s", committed.ConfirmationState)
	}
}

// TestCommit_Scenario3_ConflictAfterAcceptance verifies the same
// overlap is rejected once the first schedule reaches tech_accepted,
// and that the error names the colliding booking.
func TestCommit_Scenario3_ConflictAfterAcceptance(t *testing.T) {
	f := newFixture(t)
	techID := uuid.New()

	first := f.draft(t, techID, "2026-03-01T09:00:00Z", "2026-03-01T10:00:00Z")
	committed, err := f.sched.Commit(context.Background(), first.ID, first.Version, "dispatcher@fieldops.example")
	if err != nil {
		t.Fatal(err)
	}
	committed.ConfirmationState = domain.StateTechAccepted
	f.store.put(committed)

	second := f.draft(t, techID, "2026-03-01T09:30:00Z", "2026-03-01T10:30:00Z")
	_, err = f.sched.Commit(context.Background(), second.ID, second.Version, "dispatcher@fieldops.example")

	var ce *domain.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConflictError, got %v", err)
	}
	if ce.ScheduleID != first.ID {
		t.Errorf("conflicting schedule = %s, want %s", ce.ScheduleID, first.ID)
	}
	if !ce.Window.Start.Equal(at(t, "2026-03-01T09:00:00Z")) {
		t.Errorf("conflicting window start = %v", ce.Window.Start)
	}
}

// TestCommit_BufferViolationWithoutDirectOverlap: windows that do not
// touch but sit inside the buffer margin still conflict.
func TestCommit_BufferViolationWithoutDirectOverlap(t *testing.T) {
	f := newFixture(t)
	techID := uuid.New()

	first := f.draft(t, techID, "2026-03-01T09:00:00Z", "2026-03-01T10:00:00Z")
	committed, err := f.sched.Commit(context.Background(), first.ID, first.Version, "dispatcher@fieldops.example")
	if err != nil {
		t.Fatal(err)
	}
	committed.ConfirmationState = domain.StateConfirmed
	f.store.put(committed)

	// 15 minutes after the first window ends, inside the 30m buffer.
	second := f.draft(t, techID, "2026-03-01T10:15:00Z", "2026-03-01T11:15:00Z")
	_, err = f.sched.Commit(context.Background(), second.ID, second.Version, "dispatcher@fieldops.example")
	var ce *domain.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConflictError, got %v", err)
	}
}

// TestCommit_PersistFailureReleasesEvent: when the version-guarded
// store write fails after the calendar event was created, the event is
// cancelled so a retried commit does not leave a second one behind.
func TestCommit_PersistFailureReleasesEvent(t *testing.T) {
	f := newFixture(t)
	techID := uuid.New()
	s := f.draft(t, techID, "2026-03-01T09:00:00Z", "2026-03-01T10:00:00Z")

	f.store.updateErr = domain.ErrStaleWrite
	_, err := f.sched.Commit(context.Background(), s.ID, s.Version, "dispatcher@fieldops.example")
	if !errors.Is(err, domain.ErrStaleWrite) {
		t.Fatalf("expected ErrStaleWrite, got %v", err)
	}
	if len(f.gateway.cancelled) != 1 {
		t.Fatalf("cancelled events = %d, want 1", len(f.gateway.cancelled))
	}

	// The stored row never moved: still a committable draft.
	f.store.updateErr = nil
	stored, err := f.store.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ConfirmationState != domain.StateDraft {
		t.Errorf("state = %s, want draft", stored.ConfirmationState)
	}
	committed, err := f.sched.Commit(context.Background(), s.ID, stored.Version, "dispatcher@fieldops.example")
	if err != nil {
		t.Fatalf("retried commit: %v", err)
	}
	if committed.ExternalEventRef == nil {
		t.Error("retried commit has no event ref")
	}
}

// TestCommit_ZeroBufferAllowsBackToBack: an explicit zero buffer is a
// supported policy, not an unset value. Back-to-back windows commit;
// direct overlap still conflicts.
func TestCommit_ZeroBufferAllowsBackToBack(t *testing.T) {
	f := newFixture(t)
	f.sched = New(Config{Buffer: 0, DefaultDuration: 2 * time.Hour}, f.store, confirmation.New(f.gateway, nil), f.tickets)
	techID := uuid.New()

	first := f.draft(t, techID, "2026-03-01T09:00:00Z", "2026-03-01T10:00:00Z")
	committed, err := f.sched.Commit(context.Background(), first.ID, first.Version, "dispatcher@fieldops.example")
	if err != nil {
		t.Fatal(err)
	}
	committed.ConfirmationState = domain.StateTechAccepted
	f.store.put(committed)

	second := f.draft(t, techID, "2026-03-01T10:00:00Z", "2026-03-01T11:00:00Z")
	if _, err := f.sched.Commit(context.Background(), second.ID, second.Version, "dispatcher@fieldops.example"); err != nil {
		t.Fatalf("back-to-back commit with zero buffer should succeed: %v", err)
	}

	third := f.draft(t, techID, "2026-03-01T09:30:00Z", "2026-03-01T10:30:00Z")
	_, err = f.sched.Commit(context.Background(), third.ID, third.Version, "dispatcher@fieldops.example")
	var ce *domain.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("direct overlap should still conflict, got %v", err)
	}
}

func TestCommit_OtherTechnicianDoesNotConflict(t *testing.T) {
	f := newFixture(t)

	first := f.draft(t, uuid.New(), "2026-03-01T09:00:00Z", "2026-03-01T10:00:00Z")
	committed, err := f.sched.Commit(context.Background(), first.ID, first.Version, "dispatcher@fieldops.example")
	if err != nil {
		t.Fatal(err)
	}
	committed.ConfirmationState = domain.StateConfirmed
	f.store.put(committed)

	second := f.draft(t, uuid.New(), "2026-03-01T09:00:00Z", "2026-03-01T10:00:00Z")
	if _, err := f.sched.Commit(context.Background(), second.ID, second.Version, "dispatcher@fieldops.example"); err != nil {
		t.Fatalf("different technician should not conflict: %v", err)
	}
}

// TestCommit_GatewayFailureKeepsDraft: a failed event creation aborts
// the transition and persists nothing.
func TestCommit_GatewayFailureKeepsDraft(t *testing.T) {
	f := newFixture(t)
	f.gateway.createErr = &domain.GatewayError{Op: "create event", Err: errors.New("unreachable")}

	s := f.draft(t, uuid.New(), "2026-03-01T09:00:00Z", "2026-03-01T10:00:00Z")
	if _, err := f.sched.Commit(context.Background(), s.ID, s.Version, "dispatcher@fieldops.example"); err == nil {
		t.Fatal("expected gateway error")
	}

	stored, err := f.store.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ConfirmationState != domain.StateDraft {
		t.Errorf("stored state = %s, want draft", stored.ConfirmationState)
	}
	if stored.ExternalEventRef != nil {
		t.Error("stored schedule has event ref after failed commit")
	}
	if stored.Version != s.Version {
		t.Errorf("version advanced to %d on failed commit", stored.Version)
	}
}

func TestCreateDraft_WindowDefaulting(t *testing.T) {
	start := at(t, "2026-03-01T09:00:00Z")

	t.Run("explicit duration", func(t *testing.T) {
		f := newFixture(t)
		d := 45 * time.Minute
		s, err := f.sched.CreateDraft(context.Background(), CreateDraftParams{
			TicketID:     uuid.New(),
			TechnicianID: uuid.New(),
			Start:        start,
			Duration:     &d,
		})
		if err != nil {
			t.Fatal(err)
		}
		if got := s.Window.Duration(); got != 45*time.Minute {
			t.Errorf("duration = %s", got)
		}
	})

	t.Run("ticket estimate", func(t *testing.T) {
		f := newFixture(t)
		f.tickets.ticket.EstimatedDuration = 90 * time.Minute
		s, err := f.sched.CreateDraft(context.Background(), CreateDraftParams{
			TicketID:     uuid.New(),
			TechnicianID: uuid.New(),
			Start:        start,
		})
		if err != nil {
			t.Fatal(err)
		}
		if got := s.Window.Duration(); got != 90*time.Minute {
			t.Errorf("duration = %s, want ticket estimate", got)
		}
	})

	t.Run("configured default", func(t *testing.T) {
		f := newFixture(t)
		s, err := f.sched.CreateDraft(context.Background(), CreateDraftParams{
			TicketID:     uuid.New(),
			TechnicianID: uuid.New(),
			Start:        start,
		})
		if err != nil {
			t.Fatal(err)
		}
		if got := s.Window.Duration(); got != 2*time.Hour {
			t.Errorf("duration = %s, want 2h default", got)
		}
	})

	t.Run("explicit end wins over duration", func(t *testing.T) {
		f := newFixture(t)
		end := at(t, "2026-03-01T09:30:00Z")
		d := 4 * time.Hour
		s, err := f.sched.CreateDraft(context.Background(), CreateDraftParams{
			TicketID:     uuid.New(),
			TechnicianID: uuid.New(),
			Start:        start,
			End:          &end,
			Duration:     &d,
		})
		if err != nil {
			t.Fatal(err)
		}
		if got := s.Window.Duration(); got != 30*time.Minute {
			t.Errorf("duration = %s, want explicit end", got)
		}
	})
}

func TestCreateDraft_Validation(t *testing.T) {
	f := newFixture(t)
	start := at(t, "2026-03-01T09:00:00Z")

	t.Run("missing ticket", func(t *testing.T) {
		_, err := f.sched.CreateDraft(context.Background(), CreateDraftParams{
			TechnicianID: uuid.New(),
			Start:        start,
		})
		var ve *domain.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected *ValidationError, got %v", err)
		}
	})

	t.Run("zero duration window", func(t *testing.T) {
		end := start
		_, err := f.sched.CreateDraft(context.Background(), CreateDraftParams{
			TicketID:     uuid.New(),
			TechnicianID: uuid.New(),
			Start:        start,
			End:          &end,
		})
		var ve *domain.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected *ValidationError, got %v", err)
		}
	})

	t.Run("midnight crossing window", func(t *testing.T) {
		late := at(t, "2026-03-01T23:30:00Z")
		end := at(t, "2026-03-02T01:00:00Z")
		_, err := f.sched.CreateDraft(context.Background(), CreateDraftParams{
			TicketID:     uuid.New(),
			TechnicianID: uuid.New(),
			Start:        late,
			End:          &end,
		})
		var ve *domain.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected *ValidationError, got %v", err)
		}
	})
}

func TestMoveDraft(t *testing.T) {
	f := newFixture(t)
	techID := uuid.New()
	s := f.draft(t, techID, "2026-03-01T09:00:00Z", "2026-03-01T10:00:00Z")

	moved, err := f.sched.MoveDraft(context.Background(), s.ID, s.Version, MoveDraftParams{
		Window: domain.Window{Start: at(t, "2026-03-01T13:00:00Z"), End: at(t, "2026-03-01T14:00:00Z")},
	})
	if err != nil {
		t.Fatalf("move draft: %v", err)
	}
	if !moved.Window.Start.Equal(at(t, "2026-03-01T13:00:00Z")) {
		t.Errorf("window start = %v", moved.Window.Start)
	}
	if moved.TechnicianID != techID {
		t.Error("technician changed without being requested")
	}
}

func TestMoveDraft_NonDraft(t *testing.T) {
	f := newFixture(t)
	s := f.draft(t, uuid.New(), "2026-03-01T09:00:00Z", "2026-03-01T10:00:00Z")
	committed, err := f.sched.Commit(context.Background(), s.ID, s.Version, "dispatcher@fieldops.example")
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.sched.MoveDraft(context.Background(), s.ID, committed.Version, MoveDraftParams{
		Window: domain.Window{Start: at(t, "2026-03-01T13:00:00Z"), End: at(t, "2026-03-01T14:00:00Z")},
	})
	var ise *domain.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected *InvalidStateError, got %v", err)
	}
}

func TestMutations_StaleVersion(t *testing.T) {
	f := newFixture(t)
	s := f.draft(t, uuid.New(), "2026-03-01T09:00:00Z", "2026-03-01T10:00:00Z")

	// A concurrent edit bumps the version.
	if _, err := f.sched.MoveDraft(context.Background(), s.ID, s.Version, MoveDraftParams{
		Window: domain.Window{Start: at(t, "2026-03-01T11:00:00Z"), End: at(t, "2026-03-01T12:00:00Z")},
	}); err != nil {
		t.Fatal(err)
	}

	_, err := f.sched.Commit(context.Background(), s.ID, s.Version, "dispatcher@fieldops.example")
	if !errors.Is(err, domain.ErrStaleWrite) {
		t.Fatalf("expected ErrStaleWrite, got %v", err)
	}
}

// TestResetToDraft_Scenario5 resets a pending_customer schedule and
// verifies the schedule is a mutable draft again.
func TestResetToDraft_Scenario5(t *testing.T) {
	f := newFixture(t)
	s := f.draft(t, uuid.New(), "2026-03-01T09:00:00Z", "2026-03-01T10:00:00Z")
	committed, err := f.sched.Commit(context.Background(), s.ID, s.Version, "dispatcher@fieldops.example")
	if err != nil {
		t.Fatal(err)
	}

	// Technician accepts (reconciler-applied in production).
	committed.ConfirmationState = domain.StateTechAccepted
	f.store.put(committed)

	invited, err := f.sched.SendCustomerInvite(context.Background(), s.ID, committed.Version)
	if err != nil {
		t.Fatalf("send customer invite: %v", err)
	}
	if invited.ConfirmationState != domain.StatePendingCustomer {
		t.Fatalf("state = %s", invited.ConfirmationState)
	}

	reset, err := f.sched.ResetToDraft(context.Background(), s.ID, invited.Version)
	if err != nil {
		t.Fatalf("reset to draft: %v", err)
	}
	if reset.ConfirmationState != domain.StateDraft {
		t.Errorf("state = %s, want draft", reset.ConfirmationState)
	}
	if reset.ExternalEventRef != nil {
		t.Error("external event ref not cleared")
	}
	if len(f.gateway.cancelled) != 1 {
		t.Errorf("cancel calls = %d, want 1", len(f.gateway.cancelled))
	}

	// Mutable again.
	if _, err := f.sched.MoveDraft(context.Background(), s.ID, reset.Version, MoveDraftParams{
		Window: domain.Window{Start: at(t, "2026-03-02T09:00:00Z"), End: at(t, "2026-03-02T10:00:00Z")},
	}); err != nil {
		t.Fatalf("move after reset: %v", err)
	}
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	s := f.draft(t, uuid.New(), "2026-03-01T09:00:00Z", "2026-03-01T10:00:00Z")
	committed, err := f.sched.Commit(context.Background(), s.ID, s.Version, "dispatcher@fieldops.example")
	if err != nil {
		t.Fatal(err)
	}

	if err := f.sched.Remove(context.Background(), s.ID, committed.Version); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := f.store.Get(context.Background(), s.ID); !errors.Is(err, domain.ErrScheduleNotFound) {
		t.Error("schedule row still present")
	}
	if len(f.gateway.cancelled) != 1 {
		t.Errorf("cancel calls = %d, want 1", len(f.gateway.cancelled))
	}
}

func TestMarkInProgress_RequiresAcceptedAppointment(t *testing.T) {
	f := newFixture(t)
	s := f.draft(t, uuid.New(), "2026-03-01T09:00:00Z", "2026-03-01T10:00:00Z")

	if _, err := f.sched.MarkInProgress(context.Background(), s.ID, s.Version); err == nil {
		t.Fatal("work started on a draft")
	}

	committed, err := f.sched.Commit(context.Background(), s.ID, s.Version, "dispatcher@fieldops.example")
	if err != nil {
		t.Fatal(err)
	}
	committed.ConfirmationState = domain.StateConfirmed
	f.store.put(committed)

	started, err := f.sched.MarkInProgress(context.Background(), s.ID, committed.Version)
	if err != nil {
		t.Fatalf("mark in progress: %v", err)
	}
	if started.Status != domain.WorkInProgress {
		t.Errorf("status = %s", started.Status)
	}

	done, err := f.sched.MarkCompleted(context.Background(), s.ID, started.Version)
	if err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if done.Status != domain.WorkCompleted {
		t.Errorf("status = %s", done.Status)
	}
}

func TestListSchedulesForRange_Validation(t *testing.T) {
	f := newFixture(t)
	from := at(t, "2026-03-01T00:00:00Z")
	_, err := f.sched.ListSchedulesForRange(context.Background(), nil, from, from)
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
}
