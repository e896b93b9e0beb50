package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fieldops/dispatchd/internal/conflict"
	"github.com/fieldops/dispatchd/internal/confirmation"
	"github.com/fieldops/dispatchd/internal/domain"
	"github.com/fieldops/dispatchd/internal/scheduler"
	"github.com/fieldops/dispatchd/internal/transport/channel"
)

type memStore struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]domain.Schedule
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

func (m *memStore) put(s domain.Schedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID] = s
}

type memGateway struct {
	mu        sync.Mutex
	createErr error
}

func (g *memGateway) CreateEvent(ctx context.Context, req domain.EventRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return "", g.createErr
	}
	return uuid.NewString(), nil
}

func (g *memGateway) AddAttendee(ctx context.Context, eventRef string, a domain.Attendee) error {
	return nil
}

func (g *memGateway) CancelEvent(ctx context.Context, eventRef string) error {
	return nil
}

type memTickets struct{}

func (memTickets) GetTicket(ctx context.Context, ticketID uuid.UUID) (domain.Ticket, error) {
	return domain.Ticket{
		ID:              ticketID,
		CustomerContact: domain.Attendee{Name: "Dana Cho", Email: "dana@example.com", Role: domain.RoleCustomer},
	}, nil
}

type fixture struct {
	store   *memStore
	gateway *memGateway
	bus     *channel.ReconcileBus
	router  *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newMemStore()
	gateway := &memGateway{}
	machine := confirmation.New(gateway, nil)
	sched := scheduler.New(scheduler.DefaultConfig(), store, machine, memTickets{})
	bus := channel.NewReconcileBus(4)

	router := gin.New()
	New(sched, bus, nil, nil).Register(router)
	return &fixture{store: store, gateway: gateway, bus: bus, router: router}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func (f *fixture) createDraft(t *testing.T, techID uuid.UUID, start, end string) ScheduleResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/schedules", CreateScheduleRequest{
		TicketID:        uuid.NewString(),
		TechnicianID:    techID.String(),
		TechnicianName:  "Pat Rivera",
		TechnicianEmail: "pat@fieldops.example",
		Start:           start,
		End:             end,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create draft: status %d body %s", rec.Code, rec.Body.String())
	}
	return decode[ScheduleResponse](t, rec)
}

func TestCreateSchedule(t *testing.T) {
	f := newFixture(t)
	resp := f.createDraft(t, uuid.New(), "2026-03-01T09:00:00Z", "2026-03-01T10:00:00Z")

	if resp.ConfirmationState != "draft" {
		t.Errorf("state = %s", resp.ConfirmationState)
	}
	if resp.Version != 1 {
		t.Errorf("version = %d", resp.Version)
	}
	if resp.ExternalEventRef != "" {
		t.Error("draft has an event ref")
	}
}

func TestCreateSchedule_BadBody(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/schedules", CreateScheduleRequest{
		TicketID:     "not-a-uuid",
		TechnicianID: uuid.NewString(),
		Start:        "2026-03-01T09:00:00Z",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCommitSchedule(t *testing.T) {
	f := newFixture(t)
	draft := f.createDraft(t, uuid.New(), "2026-03-01T09:00:00Z", "2026-03-01T10:00:00Z")

	rec := f.do(t, http.MethodPost, "/api/v1/schedules/"+draft.ID+"/commit",
		CommitScheduleRequest{Version: draft.Version, Actor: "dispatcher@fieldops.example"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	resp := decode[ScheduleResponse](t, rec)
	if resp.ConfirmationState != "pending_tech" {
		t.Errorf("state = %s", resp.ConfirmationState)
	}
	if resp.ExternalEventRef == "" {
		t.Error("no event ref after commit")
	}
}

func TestCommitSchedule_ConflictNamesCollision(t *testing.T) {
	f := newFixture(t)
	techID := uuid.New()

	first := f.createDraft(t, techID, "2026-03-01T09:00:00Z", "2026-03-01T10:00:00Z")
	rec := f.do(t, http.MethodPost, "/api/v1/schedules/"+first.ID+"/commit",
		CommitScheduleRequest{Version: first.Version, Actor: "dispatcher@fieldops.example"})
	if rec.Code != http.StatusOK {
		t.Fatal(rec.Body.String())
	}

	// Force the first schedule past the tentative stage.
	firstID := uuid.MustParse(first.ID)
	stored, _ := f.store.Get(context.Background(), firstID)
	stored.ConfirmationState = domain.StateTechAccepted
	f.store.put(stored)

	second := f.createDraft(t, techID, "2026-03-01T09:30:00Z", "2026-03-01T10:30:00Z")
	rec = f.do(t, http.MethodPost, "/api/v1/schedules/"+second.ID+"/commit",
		CommitScheduleRequest{Version: second.Version, Actor: "dispatcher@fieldops.example"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}

	resp := decode[ErrorResponse](t, rec)
	if resp.Conflict == nil {
		t.Fatal("conflict details missing")
	}
	if resp.Conflict.ScheduleID != first.ID {
		t.Errorf("conflict schedule = %s, want %s", resp.Conflict.ScheduleID, first.ID)
	}
	if resp.Conflict.BufferMinutes != 30 {
		t.Errorf("buffer = %d", resp.Conflict.BufferMinutes)
	}
}

func TestCommitSchedule_StaleVersion(t *testing.T) {
	f := newFixture(t)
	draft := f.createDraft(t, uuid.New(), "2026-03-01T09:00:00Z", "2026-03-01T10:00:00Z")

	rec := f.do(t, http.MethodPost, "/api/v1/schedules/"+draft.ID+"/commit",
		CommitScheduleRequest{Version: 42, Actor: "dispatcher@fieldops.example"})
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCommitSchedule_GatewayDown(t *testing.T) {
	f := newFixture(t)
	f.gateway.createErr = &domain.GatewayError{Op: "create event", Err: errors.New("unreachable")}
	draft := f.createDraft(t, uuid.New(), "2026-03-01T09:00:00Z", "2026-03-01T10:00:00Z")

	rec := f.do(t, http.MethodPost, "/api/v1/schedules/"+draft.ID+"/commit",
		CommitScheduleRequest{Version: draft.Version, Actor: "dispatcher@fieldops.example"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
}

func TestGetSchedule_NotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/schedules/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetSchedule_BadID(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/schedules/abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMoveSchedule_NonDraft(t *testing.T) {
	f := newFixture(t)
	draft := f.createDraft(t, uuid.New(), "2026-03-01T09:00:00Z", "2026-03-01T10:00:00Z")
	rec := f.do(t, http.MethodPost, "/api/v1/schedules/"+draft.ID+"/commit",
		CommitScheduleRequest{Version: draft.Version, Actor: "dispatcher@fieldops.example"})
	committed := decode[ScheduleResponse](t, rec)

	rec = f.do(t, http.MethodPut, "/api/v1/schedules/"+draft.ID, MoveScheduleRequest{
		Version: committed.Version,
		Start:   "2026-03-01T13:00:00Z",
		End:     "2026-03-01T14:00:00Z",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
}

func TestRemoveSchedule(t *testing.T) {
	f := newFixture(t)
	draft := f.createDraft(t, uuid.New(), "2026-03-01T09:00:00Z", "2026-03-01T10:00:00Z")

	rec := f.do(t, http.MethodDelete, "/api/v1/schedules/"+draft.ID, VersionRequest{Version: draft.Version})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/api/v1/schedules/"+draft.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatal("schedule still retrievable after delete")
	}
}

func TestListSchedules(t *testing.T) {
	f := newFixture(t)
	techID := uuid.New()
	f.createDraft(t, techID, "2026-03-01T09:00:00Z", "2026-03-01T10:00:00Z")
	f.createDraft(t, uuid.New(), "2026-03-01T11:00:00Z", "2026-03-01T12:00:00Z")

	rec := f.do(t, http.MethodGet,
		"/api/v1/schedules?from=2026-03-01T00:00:00Z&to=2026-03-02T00:00:00Z", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[ListSchedulesResponse](t, rec); len(got.Schedules) != 2 {
		t.Errorf("schedules = %d", len(got.Schedules))
	}

	rec = f.do(t, http.MethodGet,
		fmt.Sprintf("/api/v1/schedules?from=2026-03-01T00:00:00Z&to=2026-03-02T00:00:00Z&technician_id=%s", techID), nil)
	if got := decode[ListSchedulesResponse](t, rec); len(got.Schedules) != 1 {
		t.Errorf("filtered schedules = %d", len(got.Schedules))
	}
}

func TestReconcileSchedule_Queues(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()

	rec := f.do(t, http.MethodPost, "/api/v1/schedules/"+id.String()+"/reconcile", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}

	select {
	case req := <-f.bus.Channel():
		if req.ScheduleID != id {
			t.Errorf("queued %s, want %s", req.ScheduleID, id)
		}
	default:
		t.Fatal("nothing queued on the bus")
	}
}

func TestTechnicianDay(t *testing.T) {
	f := newFixture(t)
	techID := uuid.New()
	f.createDraft(t, techID, "2026-03-01T09:00:00Z", "2026-03-01T10:00:00Z")
	f.createDraft(t, techID, "2026-03-01T09:30:00Z", "2026-03-01T10:30:00Z")

	rec := f.do(t, http.MethodGet, "/api/v1/technicians/"+techID.String()+"/day?date=2026-03-01", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	resp := decode[DayViewResponse](t, rec)
	if len(resp.Blocks) != 2 {
		t.Fatalf("blocks = %d", len(resp.Blocks))
	}
	if resp.Blocks[0].Lane == resp.Blocks[1].Lane {
		t.Error("overlapping blocks share a lane")
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealth_Degraded(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := newMemStore()
	machine := confirmation.New(&memGateway{}, nil)
	sched := scheduler.New(scheduler.DefaultConfig(), store, machine, memTickets{})

	router := gin.New()
	New(sched, nil, nil, func(ctx context.Context) error {
		return errors.New("db down")
	}).Register(router)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}
