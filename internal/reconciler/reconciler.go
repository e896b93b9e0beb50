// Package reconciler polls the calendar for attendee responses and
// applies the resulting confirmation transitions.
//
// Schedules in pending_tech and pending_customer are waiting on a
// response that arrives in the external calendar, not in this service.
// The reconciler periodically reads each awaiting schedule's event and
// advances the state machine: acceptance moves the schedule forward,
// decline cancels it, a deleted event cancels it without touching the
// calendar. Tentative and missing responses leave the schedule as is.
//
// Passes are idempotent. A schedule that already transitioned is no
// longer awaiting and drops out of the scan; a concurrent writer is
// detected by the store's version guard and the pass moves on.
package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fieldops/dispatchd/internal/confirmation"
	"github.com/fieldops/dispatchd/internal/cron"
	"github.com/fieldops/dispatchd/internal/domain"
)

// Store provides the awaiting schedules and persists transitions under
// the same version guard the scheduler uses.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (domain.Schedule, error)
	// ListAwaitingResponse returns schedules in pending_tech or
	// pending_customer, oldest update first.
	ListAwaitingResponse(ctx context.Context, limit int) ([]domain.Schedule, error)
	Update(ctx context.Context, s domain.Schedule, expectedVersion int64) (domain.Schedule, error)
}

// EventReader reads the current response state of a calendar event.
type EventReader interface {
	GetEvent(ctx context.Context, eventRef string) (domain.EventStatus, error)
}

// Lease serializes reconciliation of a single schedule across replicas
// and out-of-band triggers. May be nil when running single-instance.
type Lease interface {
	// Acquire returns false when another holder owns the schedule.
	Acquire(ctx context.Context, scheduleID uuid.UUID) (bool, error)
	Release(ctx context.Context, scheduleID uuid.UUID)
}

// Metrics receives pass outcomes. May be nil.
type Metrics interface {
	ObserveReconcilePass(duration time.Duration, checked, transitioned, failed int)
	SetStuckPending(count int)
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often a full pass runs.
	// Default: 2 minutes.
	Interval time.Duration

	// BatchSize is the maximum number of awaiting schedules per pass.
	// Default: 100.
	BatchSize int

	// StuckAfter is the age at which an awaiting schedule is reported
	// as stuck. The schedule is not transitioned, only surfaced.
	// Default: 24 hours.
	StuckAfter time.Duration
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:   2 * time.Minute,
		BatchSize:  100,
		StuckAfter: 24 * time.Hour,
	}
}

// PassStats summarizes one reconciliation pass.
type PassStats struct {
	Checked      int
	Transitioned int
	Failed       int
	Stuck        int
}

// Reconciler drives confirmation transitions from calendar responses.
type Reconciler struct {
	config  Config
	store   Store
	events  EventReader
	machine *confirmation.Machine
	lease   Lease
	metrics Metrics
	clock   func() time.Time
}

// New creates a Reconciler. lease and metrics may be nil.
func New(config Config, store Store, events EventReader, machine *confirmation.Machine, lease Lease, metrics Metrics) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.StuckAfter <= 0 {
		config.StuckAfter = DefaultConfig().StuckAfter
	}
	return &Reconciler{
		config:  config,
		store:   store,
		events:  events,
		machine: machine,
		lease:   lease,
		metrics: metrics,
		clock:   time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

// Run starts the periodic loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", r.config.Interval).
		Int("batch", r.config.BatchSize).
		Msg("reconciler: started")

	// Run immediately on startup, then on ticker.
	r.RunPass(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("reconciler: stopped")
			return
		case <-ticker.C:
			r.RunPass(ctx)
		}
	}
}

// RunCron runs passes on a cron cadence instead of a fixed interval.
// It blocks until ctx is cancelled.
func (r *Reconciler) RunCron(ctx context.Context, schedule cron.Schedule) {
	log.Info().Msg("reconciler: started (cron cadence)")
	for {
		next := schedule.Next(r.clock())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("reconciler: stopped")
			return
		case <-timer.C:
			r.RunPass(ctx)
		}
	}
}

// RunTriggers consumes out-of-band reconcile requests until ctx is
// cancelled or the channel closes.
func (r *Reconciler) RunTriggers(ctx context.Context, requests <-chan domain.ReconcileRequest) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-requests:
			if !ok {
				return
			}
			if err := r.ReconcileOne(ctx, req.ScheduleID); err != nil {
				log.Warn().Err(err).
					Str("schedule_id", req.ScheduleID.String()).
					Msg("reconciler: triggered check failed")
			}
		}
	}
}

// RunPass executes one reconciliation pass over all awaiting schedules.
func (r *Reconciler) RunPass(ctx context.Context) PassStats {
	started := r.clock()
	var stats PassStats

	awaiting, err := r.store.ListAwaitingResponse(ctx, r.config.BatchSize)
	if err != nil {
		// Store error: log and abort the pass. Will retry next tick.
		log.Error().Err(err).Msg("reconciler: failed to list awaiting schedules")
		return stats
	}

	stuckBefore := r.clock().UTC().Add(-r.config.StuckAfter)

	for _, sched := range awaiting {
		if ctx.Err() != nil {
			log.Warn().
				Int("processed", stats.Checked).
				Int("total", len(awaiting)).
				Msg("reconciler: pass interrupted")
			break
		}
		stats.Checked++

		if sched.UpdatedAt.Before(stuckBefore) {
			stats.Stuck++
			log.Warn().
				Str("schedule_id", sched.ID.String()).
				Str("state", string(sched.ConfirmationState)).
				Time("since", sched.UpdatedAt).
				Msg("reconciler: schedule awaiting response beyond threshold")
		}

		transitioned, err := r.checkLeased(ctx, sched)
		if err != nil {
			// Per-schedule failure never aborts the pass.
			stats.Failed++
			log.Warn().Err(err).
				Str("schedule_id", sched.ID.String()).
				Msg("reconciler: check failed")
			continue
		}
		if transitioned {
			stats.Transitioned++
		}
	}

	if r.metrics != nil {
		r.metrics.ObserveReconcilePass(r.clock().Sub(started), stats.Checked, stats.Transitioned, stats.Failed)
		r.metrics.SetStuckPending(stats.Stuck)
	}
	if stats.Transitioned > 0 || stats.Failed > 0 {
		log.Info().
			Int("checked", stats.Checked).
			Int("transitioned", stats.Transitioned).
			Int("failed", stats.Failed).
			Msg("reconciler: pass complete")
	}
	return stats
}

// ReconcileOne checks a single schedule immediately. Schedules not
// awaiting a response are left untouched.
func (r *Reconciler) ReconcileOne(ctx context.Context, id uuid.UUID) error {
	sched, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !sched.AwaitingResponse() {
		return nil
	}
	_, err = r.checkLeased(ctx, sched)
	return err
}

// checkLeased wraps check with the per-schedule lease when configured.
func (r *Reconciler) checkLeased(ctx context.Context, sched domain.Schedule) (bool, error) {
	if r.lease != nil {
		ok, err := r.lease.Acquire(ctx, sched.ID)
		if err != nil {
			return false, err
		}
		if !ok {
			// Another replica or trigger holds it.
			return false, nil
		}
		defer r.lease.Release(ctx, sched.ID)
	}
	return r.check(ctx, sched)
}

// check reads the schedule's calendar event and applies at most one
// transition. Returns whether a transition was persisted.
func (r *Reconciler) check(ctx context.Context, sched domain.Schedule) (bool, error) {
	if sched.ExternalEventRef == nil {
		return false, errors.New("awaiting schedule has no event ref")
	}

	status, err := r.events.GetEvent(ctx, *sched.ExternalEventRef)
	if err != nil {
		return false, err
	}

	if !status.Exists {
		if err := r.machine.EventDeleted(ctx, &sched); err != nil {
			return false, err
		}
		return r.persist(ctx, sched, "event deleted")
	}

	switch sched.ConfirmationState {
	case domain.StatePendingTech:
		switch status.ResponseFor(domain.RoleTechnician) {
		case domain.ResponseAccepted:
			if err := r.machine.TechAccepted(ctx, &sched); err != nil {
				return false, err
			}
			return r.persist(ctx, sched, "technician accepted")
		case domain.ResponseDeclined:
			if err := r.machine.TechDeclined(ctx, &sched); err != nil {
				return false, err
			}
			return r.persist(ctx, sched, "technician declined")
		}
	case domain.StatePendingCustomer:
		switch status.ResponseFor(domain.RoleCustomer) {
		case domain.ResponseAccepted:
			if err := r.machine.CustomerAccepted(ctx, &sched, "customer"); err != nil {
				return false, err
			}
			return r.persist(ctx, sched, "customer accepted")
		case domain.ResponseDeclined:
			if err := r.machine.CustomerDeclined(ctx, &sched); err != nil {
				return false, err
			}
			return r.persist(ctx, sched, "customer declined")
		}
	}

	// Tentative or no response yet.
	return false, nil
}

func (r *Reconciler) persist(ctx context.Context, sched domain.Schedule, cause string) (bool, error) {
	sched.UpdatedAt = r.clock().UTC()
	if _, err := r.store.Update(ctx, sched, sched.Version); err != nil {
		if errors.Is(err, domain.ErrStaleWrite) {
			// Concurrent edit won. The next pass sees the new state.
			log.Debug().
				Str("schedule_id", sched.ID.String()).
				Msg("reconciler: transition lost version race, skipping")
			return false, nil
		}
		return false, err
	}
	log.Info().
		Str("schedule_id", sched.ID.String()).
		Str("state", string(sched.ConfirmationState)).
		Str("cause", cause).
		Msg("reconciler: transition applied")
	return true, nil
}
