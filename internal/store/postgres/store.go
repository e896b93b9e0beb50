// Package postgres implements schedule storage on PostgreSQL. Writes
// are guarded by the schedule's version column: an UPDATE or DELETE
// carries the version the caller read in its WHERE clause, and zero
// affected rows with an existing row means a concurrent writer won.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fieldops/dispatchd/internal/conflict"
	"github.com/fieldops/dispatchd/internal/domain"
)

// Store implements scheduler.Store and reconciler.Store.
type Store struct {
	db *sqlx.DB
}

// New creates a Store on the given connection pool.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type scheduleRow struct {
	ID                   uuid.UUID      `db:"id"`
	TicketID             uuid.UUID      `db:"ticket_id"`
	TechnicianID         uuid.UUID      `db:"technician_id"`
	TechnicianName       string         `db:"technician_name"`
	TechnicianEmail      string         `db:"technician_email"`
	WindowStart          time.Time      `db:"window_start"`
	WindowEnd            time.Time      `db:"window_end"`
	Status               string         `db:"status"`
	ConfirmationState    string         `db:"confirmation_state"`
	ExternalEventRef     sql.NullString `db:"external_event_ref"`
	ConfirmedAt          sql.NullTime   `db:"confirmed_at"`
	ConfirmedBy          sql.NullString `db:"confirmed_by"`
	ConfirmationMethod   sql.NullString `db:"confirmation_method"`
	CustomerInviteSentAt sql.NullTime   `db:"customer_invite_sent_at"`
	CancelReason         sql.NullString `db:"cancel_reason"`
	Version              int64          `db:"version"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

func toRow(s domain.Schedule) scheduleRow {
	row := scheduleRow{
		ID:                s.ID,
		TicketID:          s.TicketID,
		TechnicianID:      s.TechnicianID,
		TechnicianName:    s.TechnicianName,
		TechnicianEmail:   s.TechnicianEmail,
		WindowStart:       s.Window.Start,
		WindowEnd:         s.Window.End,
		Status:            string(s.Status),
		ConfirmationState: string(s.ConfirmationState),
		Version:           s.Version,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
	if s.ExternalEventRef != nil {
		row.ExternalEventRef = sql.NullString{String: *s.ExternalEventRef, Valid: true}
	}
	if s.Confirmation != nil {
		row.ConfirmedAt = sql.NullTime{Time: s.Confirmation.At, Valid: true}
		row.ConfirmedBy = sql.NullString{String: s.Confirmation.By, Valid: true}
		row.ConfirmationMethod = sql.NullString{String: string(s.Confirmation.Method), Valid: true}
	}
	if s.CustomerInviteSentAt != nil {
		row.CustomerInviteSentAt = sql.NullTime{Time: *s.CustomerInviteSentAt, Valid: true}
	}
	if s.CancelReason != "" {
		row.CancelReason = sql.NullString{String: string(s.CancelReason), Valid: true}
	}
	return row
}

func fromRow(row scheduleRow) domain.Schedule {
	s := domain.Schedule{
		ID:                row.ID,
		TicketID:          row.TicketID,
		TechnicianID:      row.TechnicianID,
		TechnicianName:    row.TechnicianName,
		TechnicianEmail:   row.TechnicianEmail,
		Window:            domain.Window{Start: row.WindowStart.UTC(), End: row.WindowEnd.UTC()},
		Status:            domain.WorkStatus(row.Status),
		ConfirmationState: domain.ConfirmationState(row.ConfirmationState),
		Version:           row.Version,
		CreatedAt:         row.CreatedAt.UTC(),
		UpdatedAt:         row.UpdatedAt.UTC(),
	}
	if row.ExternalEventRef.Valid {
		ref := row.ExternalEventRef.String
		s.ExternalEventRef = &ref
	}
	if row.ConfirmedAt.Valid {
		s.Confirmation = &domain.Confirmation{
			At:     row.ConfirmedAt.Time.UTC(),
			By:     row.ConfirmedBy.String,
			Method: domain.ConfirmationMethod(row.ConfirmationMethod.String),
		}
	}
	if row.CustomerInviteSentAt.Valid {
		at := row.CustomerInviteSentAt.Time.UTC()
		s.CustomerInviteSentAt = &at
	}
	if row.CancelReason.Valid {
		s.CancelReason = domain.CancelReason(row.CancelReason.String)
	}
	return s
}

func (s *Store) Insert(ctx context.Context, sched domain.Schedule) error {
	row := toRow(sched)
	_, err := s.db.ExecContext(ctx, queryInsertSchedule,
		row.ID,
		row.TicketID,
		row.TechnicianID,
		row.TechnicianName,
		row.TechnicianEmail,
		row.WindowStart,
		row.WindowEnd,
		row.Status,
		row.ConfirmationState,
		row.ExternalEventRef,
		row.ConfirmedAt,
		row.ConfirmedBy,
		row.ConfirmationMethod,
		row.CustomerInviteSentAt,
		row.CancelReason,
		row.Version,
		row.CreatedAt,
		row.UpdatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (domain.Schedule, error) {
	var row scheduleRow
	if err := s.db.GetContext(ctx, &row, queryGetSchedule, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Schedule{}, domain.ErrScheduleNotFound
		}
		return domain.Schedule{}, err
	}
	return fromRow(row), nil
}

// Update writes the schedule if the stored version equals
// expectedVersion, bumping the version atomically.
func (s *Store) Update(ctx context.Context, sched domain.Schedule, expectedVersion int64) (domain.Schedule, error) {
	row := toRow(sched)
	result, err := s.db.ExecContext(ctx, queryUpdateSchedule,
		row.ID,
		expectedVersion,
		row.TicketID,
		row.TechnicianID,
		row.TechnicianName,
		row.TechnicianEmail,
		row.WindowStart,
		row.WindowEnd,
		row.Status,
		row.ConfirmationState,
		row.ExternalEventRef,
		row.ConfirmedAt,
		row.ConfirmedBy,
		row.ConfirmationMethod,
		row.CustomerInviteSentAt,
		row.CancelReason,
		row.UpdatedAt,
	)
	if err != nil {
		return domain.Schedule{}, err
	}
	if err := s.checkGuard(ctx, result, sched.ID); err != nil {
		return domain.Schedule{}, err
	}
	sched.Version = expectedVersion + 1
	return sched, nil
}

// Delete removes the row under the same version guard.
func (s *Store) Delete(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	result, err := s.db.ExecContext(ctx, queryDeleteSchedule, id, expectedVersion)
	if err != nil {
		return err
	}
	return s.checkGuard(ctx, result, id)
}

// checkGuard distinguishes a missing row from a lost version race when
// a conditional write touched nothing.
func (s *Store) checkGuard(ctx context.Context, result sql.Result, id uuid.UUID) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, queryScheduleExists, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrScheduleNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrStaleWrite
}

func (s *Store) ListActiveWindows(ctx context.Context, technicianID, excludeID uuid.UUID) ([]conflict.BusyWindow, error) {
	var rows []struct {
		ID             uuid.UUID `db:"id"`
		TechnicianID   uuid.UUID `db:"technician_id"`
		TechnicianName string    `db:"technician_name"`
		WindowStart    time.Time `db:"window_start"`
		WindowEnd      time.Time `db:"window_end"`
	}
	if err := s.db.SelectContext(ctx, &rows, queryListActiveWindows, technicianID, excludeID); err != nil {
		return nil, err
	}

	out := make([]conflict.BusyWindow, 0, len(rows))
	for _, r := range rows {
		out = append(out, conflict.BusyWindow{
			ScheduleID:     r.ID,
			TechnicianID:   r.TechnicianID,
			TechnicianName: r.TechnicianName,
			Window:         domain.Window{Start: r.WindowStart.UTC(), End: r.WindowEnd.UTC()},
		})
	}
	return out, nil
}

func (s *Store) ListAwaitingResponse(ctx context.Context, limit int) ([]domain.Schedule, error) {
	var rows []scheduleRow
	if err := s.db.SelectContext(ctx, &rows, queryListAwaitingResponse, limit); err != nil {
		return nil, err
	}
	return fromRows(rows), nil
}

func (s *Store) ListForRange(ctx context.Context, technicianID *uuid.UUID, from, to time.Time) ([]domain.Schedule, error) {
	var rows []scheduleRow
	var err error
	if technicianID != nil {
		err = s.db.SelectContext(ctx, &rows, queryListForRangeByTechnician, from, to, *technicianID)
	} else {
		err = s.db.SelectContext(ctx, &rows, queryListForRange, from, to)
	}
	if err != nil {
		return nil, err
	}
	return fromRows(rows), nil
}

func fromRows(rows []scheduleRow) []domain.Schedule {
	out := make([]domain.Schedule, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out
}
