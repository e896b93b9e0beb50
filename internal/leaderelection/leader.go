// Package leaderelection provides Postgres advisory lock-based leader
// election. Only the leader runs the response reconciler, so a
// multi-replica deployment polls the calendar once, not per replica.
//
// A single session-scoped advisory lock determines the leader. The
// lock is held for the lifetime of a dedicated database connection;
// there is no renewal or TTL. If the connection dies, Postgres releases
// the lock server-side. The heartbeat ping exists solely to detect
// local connection death so the leader can stop its duties promptly.
package leaderelection

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog/log"
)

// MetricsSink receives leader election events. All methods must be
// non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string) // reason: "shutdown", "conn_lost"
}

// Elector manages leader election using a Postgres advisory lock.
type Elector struct {
	db                *sql.DB
	lockKey           int64
	retryInterval     time.Duration // follower: how often to attempt acquisition
	heartbeatInterval time.Duration // leader: how often to ping the dedicated connection
	onElected         func(ctx context.Context)
	onDemoted         func()
	metrics           MetricsSink
}

// New creates an Elector.
//
// onElected is called in a new goroutine when this instance acquires
// the lock; its context is cancelled when leadership is lost. It should
// start leader duties and return quickly. onDemoted is called
// synchronously on loss, must block until duties stop, and must be
// idempotent.
func New(db *sql.DB, lockKey int64, retryInterval, heartbeatInterval time.Duration, onElected func(ctx context.Context), onDemoted func()) *Elector {
	return &Elector{
		db:                db,
		lockKey:           lockKey,
		retryInterval:     retryInterval,
		heartbeatInterval: heartbeatInterval,
		onElected:         onElected,
		onDemoted:         onDemoted,
	}
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run starts the election loop. It blocks until ctx is cancelled.
func (e *Elector) Run(ctx context.Context) {
	log.Info().
		Int64("lock_key", e.lockKey).
		Dur("retry", e.retryInterval).
		Dur("heartbeat", e.heartbeatInterval).
		Msg("leader: election loop started")

	for {
		if ctx.Err() != nil {
			log.Info().Msg("leader: election loop stopped")
			return
		}

		reason := e.runOnce(ctx)

		if ctx.Err() != nil {
			log.Info().Msg("leader: election loop stopped")
			return
		}
		if reason != "" {
			log.Warn().Str("reason", reason).Msg("leader: lost leadership")
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("leader: election loop stopped")
			return
		case <-time.After(e.retryInterval):
		}
	}
}

// runOnce attempts to acquire the advisory lock and hold it. Returns
// the reason leadership was lost, or "" when the lock was not acquired.
func (e *Elector) runOnce(ctx context.Context) string {
	// Advisory locks are session-scoped; a dedicated connection is required.
	conn, err := e.db.Conn(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("leader: dedicated connection unavailable")
		return ""
	}
	defer conn.Close()

	var acquired bool
	err = conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", e.lockKey).Scan(&acquired)
	if err != nil {
		log.Warn().Err(err).Msg("leader: advisory lock query failed")
		return ""
	}
	if !acquired {
		log.Debug().Int64("lock_key", e.lockKey).Msg("leader: lock held elsewhere")
		return ""
	}

	log.Info().Int64("lock_key", e.lockKey).Msg("leader: acquired advisory lock")
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	leaderCtx, cancelLeader := context.WithCancel(ctx)
	go e.onElected(leaderCtx)

	reason := e.holdLock(ctx, conn)

	cancelLeader()
	e.onDemoted()

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}
	log.Info().Int64("lock_key", e.lockKey).Msg("leader: released advisory lock")
	return reason
}

// holdLock blocks while pinging the dedicated connection. The ping
// detects local connection death; it does not renew the lock.
func (e *Elector) holdLock(ctx context.Context, conn *sql.Conn) string {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "shutdown"
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return "shutdown"
				}
				log.Warn().Err(err).Msg("leader: dedicated connection ping failed")
				return "conn_lost"
			}
		}
	}
}
