package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or
// propagate errors.
type Sink interface {
	// Scheduler metrics
	CommitOutcome(outcome string)

	// Calendar gateway metrics
	GatewayRequest(op string, duration time.Duration, err error)
	CircuitOpened(endpoint string)

	// Reconciler metrics
	ObserveReconcilePass(duration time.Duration, checked, transitioned, failed int)
	SetStuckPending(count int)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Outcome constants for CommitOutcome.
const (
	OutcomeCommitted = "committed"
	OutcomeConflict  = "conflict"
	OutcomeStale     = "stale"
	OutcomeError     = "error"
)
