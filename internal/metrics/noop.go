package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) CommitOutcome(outcome string)                                            {}
func (n *NoopSink) GatewayRequest(op string, duration time.Duration, err error)             {}
func (n *NoopSink) CircuitOpened(endpoint string)                                           {}
func (n *NoopSink) ObserveReconcilePass(d time.Duration, checked, transitioned, failed int) {}
func (n *NoopSink) SetStuckPending(count int)                                               {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                       {}
func (n *NoopSink) LeaderAcquired()                                                         {}
func (n *NoopSink) LeaderLost(reason string)                                                {}
