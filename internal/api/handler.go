// Package api exposes the dispatcher-facing HTTP surface. Handlers
// translate between JSON and the scheduler; domain errors map onto
// status codes in one place so every endpoint fails the same way.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fieldops/dispatchd/internal/dayview"
	"github.com/fieldops/dispatchd/internal/domain"
	"github.com/fieldops/dispatchd/internal/metrics"
	"github.com/fieldops/dispatchd/internal/scheduler"
	"github.com/fieldops/dispatchd/internal/transport/channel"
)

// MetricsSink receives API-observed outcomes. May be nil.
type MetricsSink interface {
	CommitOutcome(outcome string)
}

// Handler serves the schedule API.
type Handler struct {
	scheduler *scheduler.Scheduler
	bus       *channel.ReconcileBus
	metrics   MetricsSink
	ready     func(ctx context.Context) error
	dayview   dayview.Config
}

// New creates a Handler. bus and sink may be nil; ready reports
// dependency health for /healthz and may be nil.
func New(sched *scheduler.Scheduler, bus *channel.ReconcileBus, sink MetricsSink, ready func(ctx context.Context) error) *Handler {
	return &Handler{
		scheduler: sched,
		bus:       bus,
		metrics:   sink,
		ready:     ready,
		dayview:   dayview.DefaultConfig(),
	}
}

// Register mounts all routes on the engine.
func (h *Handler) Register(r *gin.Engine) {
	r.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool { return true },
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
	}))

	r.GET("/healthz", h.health)

	v1 := r.Group("/api/v1")
	v1.POST("/schedules", h.createSchedule)
	v1.GET("/schedules", h.listSchedules)
	v1.GET("/schedules/:id", h.getSchedule)
	v1.PUT("/schedules/:id", h.moveSchedule)
	v1.DELETE("/schedules/:id", h.removeSchedule)
	v1.POST("/schedules/:id/commit", h.commitSchedule)
	v1.POST("/schedules/:id/invite", h.inviteCustomer)
	v1.POST("/schedules/:id/confirm", h.confirmSchedule)
	v1.POST("/schedules/:id/reset", h.resetSchedule)
	v1.POST("/schedules/:id/start", h.startWork)
	v1.POST("/schedules/:id/complete", h.completeWork)
	v1.POST("/schedules/:id/reconcile", h.reconcileSchedule)
	v1.GET("/technicians/:id/day", h.technicianDay)
}

func (h *Handler) health(c *gin.Context) {
	if h.ready != nil {
		if err := h.ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) createSchedule(c *gin.Context) {
	var req CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	params := scheduler.CreateDraftParams{
		TechnicianName:  req.TechnicianName,
		TechnicianEmail: req.TechnicianEmail,
	}
	var err error
	if params.TicketID, err = uuid.Parse(req.TicketID); err != nil {
		badRequest(c, "ticket_id: invalid uuid")
		return
	}
	if params.TechnicianID, err = uuid.Parse(req.TechnicianID); err != nil {
		badRequest(c, "technician_id: invalid uuid")
		return
	}
	if params.Start, err = time.Parse(time.RFC3339, req.Start); err != nil {
		badRequest(c, "start: invalid RFC3339 timestamp")
		return
	}
	if req.End != "" {
		end, err := time.Parse(time.RFC3339, req.End)
		if err != nil {
			badRequest(c, "end: invalid RFC3339 timestamp")
			return
		}
		params.End = &end
	}
	if req.DurationMinutes > 0 {
		d := time.Duration(req.DurationMinutes) * time.Minute
		params.Duration = &d
	}

	sched, err := h.scheduler.CreateDraft(c.Request.Context(), params)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toScheduleResponse(sched))
}

func (h *Handler) getSchedule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	sched, err := h.scheduler.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toScheduleResponse(sched))
}

func (h *Handler) listSchedules(c *gin.Context) {
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		badRequest(c, "from: invalid RFC3339 timestamp")
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		badRequest(c, "to: invalid RFC3339 timestamp")
		return
	}

	var technicianID *uuid.UUID
	if raw := c.Query("technician_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			badRequest(c, "technician_id: invalid uuid")
			return
		}
		technicianID = &id
	}

	schedules, err := h.scheduler.ListSchedulesForRange(c.Request.Context(), technicianID, from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toListResponse(schedules))
}

func (h *Handler) moveSchedule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req MoveScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		badRequest(c, "start: invalid RFC3339 timestamp")
		return
	}
	end, err := time.Parse(time.RFC3339, req.End)
	if err != nil {
		badRequest(c, "end: invalid RFC3339 timestamp")
		return
	}

	params := scheduler.MoveDraftParams{
		Window:          domain.Window{Start: start, End: end},
		TechnicianName:  req.TechnicianName,
		TechnicianEmail: req.TechnicianEmail,
	}
	if req.TechnicianID != "" {
		techID, err := uuid.Parse(req.TechnicianID)
		if err != nil {
			badRequest(c, "technician_id: invalid uuid")
			return
		}
		params.TechnicianID = techID
	}

	sched, err := h.scheduler.MoveDraft(c.Request.Context(), id, req.Version, params)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toScheduleResponse(sched))
}

func (h *Handler) removeSchedule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req VersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if err := h.scheduler.Remove(c.Request.Context(), id, req.Version); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) commitSchedule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req CommitScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	sched, err := h.scheduler.Commit(c.Request.Context(), id, req.Version, req.Actor)
	h.recordCommit(err)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toScheduleResponse(sched))
}

func (h *Handler) recordCommit(err error) {
	if h.metrics == nil {
		return
	}
	var conflictErr *domain.ConflictError
	switch {
	case err == nil:
		h.metrics.CommitOutcome(metrics.OutcomeCommitted)
	case errors.As(err, &conflictErr):
		h.metrics.CommitOutcome(metrics.OutcomeConflict)
	case errors.Is(err, domain.ErrStaleWrite):
		h.metrics.CommitOutcome(metrics.OutcomeStale)
	default:
		h.metrics.CommitOutcome(metrics.OutcomeError)
	}
}

func (h *Handler) inviteCustomer(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req VersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	sched, err := h.scheduler.SendCustomerInvite(c.Request.Context(), id, req.Version)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toScheduleResponse(sched))
}

func (h *Handler) confirmSchedule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req ConfirmScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.By == "" {
		badRequest(c, "by: required")
		return
	}
	sched, err := h.scheduler.MarkConfirmedManually(c.Request.Context(), id, req.Version, req.By)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toScheduleResponse(sched))
}

func (h *Handler) resetSchedule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req VersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	sched, err := h.scheduler.ResetToDraft(c.Request.Context(), id, req.Version)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toScheduleResponse(sched))
}

func (h *Handler) startWork(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req VersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	sched, err := h.scheduler.MarkInProgress(c.Request.Context(), id, req.Version)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toScheduleResponse(sched))
}

func (h *Handler) completeWork(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req VersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	sched, err := h.scheduler.MarkCompleted(c.Request.Context(), id, req.Version)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toScheduleResponse(sched))
}

// reconcileSchedule queues an out-of-band response check. The check
// itself runs asynchronously on the reconciler.
func (h *Handler) reconcileSchedule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if h.bus == nil {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "reconciliation is disabled"})
		return
	}
	if !h.bus.TryEmit(domain.ReconcileRequest{ScheduleID: id, RequestedAt: time.Now().UTC()}) {
		log.Warn().Str("schedule_id", id.String()).Msg("api: reconcile bus full, request dropped")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "reconcile queue full, try again"})
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handler) technicianDay(c *gin.Context) {
	techID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "id: invalid uuid")
		return
	}
	date, err := time.Parse("2006-01-02", c.Query("date"))
	if err != nil {
		badRequest(c, "date: expected YYYY-MM-DD")
		return
	}

	from := date
	to := date.AddDate(0, 0, 1)
	schedules, err := h.scheduler.ListSchedulesForRange(c.Request.Context(), &techID, from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDayViewResponse(techID, dayview.Build(date, schedules, h.dayview)))
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "id: invalid uuid")
		return uuid.Nil, false
	}
	return id, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

// writeError maps domain errors onto status codes.
func writeError(c *gin.Context, err error) {
	var (
		validationErr *domain.ValidationError
		conflictErr   *domain.ConflictError
		stateErr      *domain.InvalidStateError
		gatewayErr    *domain.GatewayError
	)
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: validationErr.Error()})
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: conflictErr.Error(),
			Conflict: &ConflictResponse{
				ScheduleID:     conflictErr.ScheduleID.String(),
				TechnicianID:   conflictErr.TechnicianID.String(),
				TechnicianName: conflictErr.TechnicianName,
				Start:          formatTime(conflictErr.Window.Start),
				End:            formatTime(conflictErr.Window.End),
				BufferMinutes:  int(conflictErr.Buffer.Minutes()),
			},
		})
	case errors.As(err, &stateErr):
		c.JSON(http.StatusConflict, ErrorResponse{Error: stateErr.Error()})
	case errors.Is(err, domain.ErrStaleWrite):
		c.JSON(http.StatusPreconditionFailed, ErrorResponse{Error: "schedule was modified concurrently, reload and retry"})
	case errors.Is(err, domain.ErrScheduleNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "schedule not found"})
	case errors.As(err, &gatewayErr):
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: gatewayErr.Error()})
	default:
		log.Error().Err(err).Msg("api: unhandled error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
