package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Scheduler metrics
	commitOutcomesTotal *prometheus.CounterVec

	// Calendar gateway metrics
	gatewayRequestsTotal *prometheus.CounterVec
	gatewayDuration      prometheus.Histogram
	circuitOpenedTotal   *prometheus.CounterVec

	// Reconciler metrics
	reconcilePassesTotal     prometheus.Counter
	reconcilePassDuration    prometheus.Histogram
	reconcileCheckedTotal    prometheus.Counter
	reconcileTransitionTotal prometheus.Counter
	reconcileFailuresTotal   prometheus.Counter
	stuckPending             prometheus.Gauge

	// Leader election metrics
	leaderStatus        prometheus.Gauge
	leaderAcquiredTotal prometheus.Counter
	leaderLostTotal     *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// Metrics that fail to register keep working locally but are not scraped.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initGatewayMetrics(reg)
	s.initReconcilerMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.commitOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatchd_scheduler_commit_outcomes_total",
		Help: "Total number of commit attempts by outcome.",
	}, []string{"outcome"})

	s.register(reg, s.commitOutcomesTotal, "dispatchd_scheduler_commit_outcomes_total")
}

func (s *PrometheusSink) initGatewayMetrics(reg prometheus.Registerer) {
	s.gatewayRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatchd_calendar_requests_total",
		Help: "Total number of calendar gateway requests by operation and result.",
	}, []string{"op", "result"})

	s.gatewayDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatchd_calendar_request_duration_seconds",
		Help:    "Calendar gateway request latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	s.circuitOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatchd_calendar_circuit_opened_total",
		Help: "Total number of requests rejected while the circuit was open.",
	}, []string{"endpoint"})

	s.register(reg, s.gatewayRequestsTotal, "dispatchd_calendar_requests_total")
	s.register(reg, s.gatewayDuration, "dispatchd_calendar_request_duration_seconds")
	s.register(reg, s.circuitOpenedTotal, "dispatchd_calendar_circuit_opened_total")
}

func (s *PrometheusSink) initReconcilerMetrics(reg prometheus.Registerer) {
	s.reconcilePassesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatchd_reconciler_passes_total",
		Help: "Total number of reconciliation passes.",
	})
	s.reconcilePassDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatchd_reconciler_pass_duration_seconds",
		Help:    "Duration of each reconciliation pass in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})
	s.reconcileCheckedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatchd_reconciler_schedules_checked_total",
		Help: "Total number of awaiting schedules checked.",
	})
	s.reconcileTransitionTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatchd_reconciler_transitions_total",
		Help: "Total number of confirmation transitions applied from calendar responses.",
	})
	s.reconcileFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatchd_reconciler_check_failures_total",
		Help: "Total number of per-schedule check failures.",
	})
	s.stuckPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dispatchd_reconciler_stuck_pending",
		Help: "Number of schedules awaiting a response beyond the stuck threshold.",
	})

	s.register(reg, s.reconcilePassesTotal, "dispatchd_reconciler_passes_total")
	s.register(reg, s.reconcilePassDuration, "dispatchd_reconciler_pass_duration_seconds")
	s.register(reg, s.reconcileCheckedTotal, "dispatchd_reconciler_schedules_checked_total")
	s.register(reg, s.reconcileTransitionTotal, "dispatchd_reconciler_transitions_total")
	s.register(reg, s.reconcileFailuresTotal, "dispatchd_reconciler_check_failures_total")
	s.register(reg, s.stuckPending, "dispatchd_reconciler_stuck_pending")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dispatchd_leader_status",
		Help: "1 when this instance is the leader, 0 otherwise.",
	})
	s.leaderAcquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatchd_leader_acquired_total",
		Help: "Total number of leadership acquisitions.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatchd_leader_lost_total",
		Help: "Total number of leadership losses by reason.",
	}, []string{"reason"})

	s.register(reg, s.leaderStatus, "dispatchd_leader_status")
	s.register(reg, s.leaderAcquiredTotal, "dispatchd_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "dispatchd_leader_lost_total")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("metrics: registration failed")
	}
}

func (s *PrometheusSink) CommitOutcome(outcome string) {
	s.commitOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) GatewayRequest(op string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.gatewayRequestsTotal.WithLabelValues(op, result).Inc()
	s.gatewayDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) CircuitOpened(endpoint string) {
	s.circuitOpenedTotal.WithLabelValues(endpoint).Inc()
}

func (s *PrometheusSink) ObserveReconcilePass(duration time.Duration, checked, transitioned, failed int) {
	s.reconcilePassesTotal.Inc()
	s.reconcilePassDuration.Observe(duration.Seconds())
	s.reconcileCheckedTotal.Add(float64(checked))
	s.reconcileTransitionTotal.Add(float64(transitioned))
	s.reconcileFailuresTotal.Add(float64(failed))
}

func (s *PrometheusSink) SetStuckPending(count int) {
	s.stuckPending.Set(float64(count))
}

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
	} else {
		s.leaderStatus.Set(0)
	}
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquiredTotal.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}
