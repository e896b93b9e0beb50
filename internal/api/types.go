package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/dispatchd/internal/dayview"
	"github.com/fieldops/dispatchd/internal/domain"
)

type CreateScheduleRequest struct {
	TicketID        string `json:"ticket_id"`
	TechnicianID    string `json:"technician_id"`
	TechnicianName  string `json:"technician_name"`
	TechnicianEmail string `json:"technician_email"`
	Start           string `json:"start"`
	End             string `json:"end,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
}

type MoveScheduleRequest struct {
	Version         int64  `json:"version"`
	Start           string `json:"start"`
	End             string `json:"end"`
	TechnicianID    string `json:"technician_id,omitempty"`
	TechnicianName  string `json:"technician_name,omitempty"`
	TechnicianEmail string `json:"technician_email,omitempty"`
}

type CommitScheduleRequest struct {
	Version int64  `json:"version"`
	Actor   string `json:"actor"`
}

type VersionRequest struct {
	Version int64 `json:"version"`
}

type ConfirmScheduleRequest struct {
	Version int64  `json:"version"`
	By      string `json:"by"`
}

type ScheduleResponse struct {
	ID                string `json:"id"`
	TicketID          string `json:"ticket_id"`
	TechnicianID      string `json:"technician_id"`
	TechnicianName    string `json:"technician_name"`
	TechnicianEmail   string `json:"technician_email"`
	Start             string `json:"start"`
	End               string `json:"end"`
	Status            string `json:"status"`
	ConfirmationState string `json:"confirmation_state"`
	ExternalEventRef  string `json:"external_event_ref,omitempty"`

	ConfirmedAt        string `json:"confirmed_at,omitempty"`
	ConfirmedBy        string `json:"confirmed_by,omitempty"`
	ConfirmationMethod string `json:"confirmation_method,omitempty"`

	CustomerInviteSentAt string `json:"customer_invite_sent_at,omitempty"`
	CancelReason         string `json:"cancel_reason,omitempty"`

	Version   int64  `json:"version"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type ListSchedulesResponse struct {
	Schedules []ScheduleResponse `json:"schedules"`
}

type ErrorResponse struct {
	Error    string            `json:"error"`
	Conflict *ConflictResponse `json:"conflict,omitempty"`
}

// ConflictResponse names the colliding booking so dispatchers can act
// on the rejection without a second lookup.
type ConflictResponse struct {
	ScheduleID     string `json:"schedule_id"`
	TechnicianID   string `json:"technician_id"`
	TechnicianName string `json:"technician_name"`
	Start          string `json:"start"`
	End            string `json:"end"`
	BufferMinutes  int    `json:"buffer_minutes"`
}

func toScheduleResponse(s domain.Schedule) ScheduleResponse {
	resp := ScheduleResponse{
		ID:                s.ID.String(),
		TicketID:          s.TicketID.String(),
		TechnicianID:      s.TechnicianID.String(),
		TechnicianName:    s.TechnicianName,
		TechnicianEmail:   s.TechnicianEmail,
		Start:             formatTime(s.Window.Start),
		End:               formatTime(s.Window.End),
		Status:            string(s.Status),
		ConfirmationState: string(s.ConfirmationState),
		CancelReason:      string(s.CancelReason),
		Version:           s.Version,
		CreatedAt:         formatTime(s.CreatedAt),
		UpdatedAt:         formatTime(s.UpdatedAt),
	}
	if s.ExternalEventRef != nil {
		resp.ExternalEventRef = *s.ExternalEventRef
	}
	if s.Confirmation != nil {
		resp.ConfirmedAt = formatTime(s.Confirmation.At)
		resp.ConfirmedBy = s.Confirmation.By
		resp.ConfirmationMethod = string(s.Confirmation.Method)
	}
	if s.CustomerInviteSentAt != nil {
		resp.CustomerInviteSentAt = formatTime(*s.CustomerInviteSentAt)
	}
	return resp
}

func toListResponse(schedules []domain.Schedule) ListSchedulesResponse {
	out := ListSchedulesResponse{Schedules: make([]ScheduleResponse, 0, len(schedules))}
	for _, s := range schedules {
		out.Schedules = append(out.Schedules, toScheduleResponse(s))
	}
	return out
}

type DayViewResponse struct {
	TechnicianID string         `json:"technician_id"`
	Date         string         `json:"date"`
	DayStart     string         `json:"day_start"`
	DayEnd       string         `json:"day_end"`
	Blocks       []DayViewBlock `json:"blocks"`
}

type DayViewBlock struct {
	ScheduleID        string  `json:"schedule_id"`
	TicketID          string  `json:"ticket_id"`
	Start             string  `json:"start"`
	End               string  `json:"end"`
	Status            string  `json:"status"`
	ConfirmationState string  `json:"confirmation_state"`
	Lane              int     `json:"lane"`
	LaneCount         int     `json:"lane_count"`
	OffsetPct         float64 `json:"offset_pct"`
	HeightPct         float64 `json:"height_pct"`
}

func toDayViewResponse(technicianID uuid.UUID, view dayview.Day) DayViewResponse {
	resp := DayViewResponse{
		TechnicianID: technicianID.String(),
		Date:         view.Date.Format("2006-01-02"),
		DayStart:     formatTime(view.Start),
		DayEnd:       formatTime(view.End),
		Blocks:       make([]DayViewBlock, 0, len(view.Blocks)),
	}
	for _, b := range view.Blocks {
		resp.Blocks = append(resp.Blocks, DayViewBlock{
			ScheduleID:        b.ScheduleID.String(),
			TicketID:          b.TicketID.String(),
			Start:             formatTime(b.Window.Start),
			End:               formatTime(b.Window.End),
			Status:            string(b.Status),
			ConfirmationState: string(b.ConfirmationState),
			Lane:              b.Lane,
			LaneCount:         b.LaneCount,
			OffsetPct:         b.OffsetPct,
			HeightPct:         b.HeightPct,
		})
	}
	return resp
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
