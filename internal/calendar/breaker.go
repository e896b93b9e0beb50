package calendar

import (
	"context"
	"time"

	"github.com/fieldops/dispatchd/internal/circuitbreaker"
	"github.com/fieldops/dispatchd/internal/domain"
)

const breakerEndpoint = "calendar"

// MetricsSink receives gateway request outcomes. All methods must be
// non-blocking and fire-and-forget.
type MetricsSink interface {
	GatewayRequest(op string, duration time.Duration, err error)
	CircuitOpened(endpoint string)
}

// BreakerGateway wraps a Gateway with a circuit breaker. While the
// circuit is open every call fails fast with a transient GatewayError,
// which the reconciler retries on a later pass.
type BreakerGateway struct {
	inner   Gateway
	breaker *circuitbreaker.CircuitBreaker
	metrics MetricsSink
}

func WithBreaker(inner Gateway, breaker *circuitbreaker.CircuitBreaker) *BreakerGateway {
	return &BreakerGateway{inner: inner, breaker: breaker}
}

// WithMetrics attaches a metrics sink. May be left unset.
func (g *BreakerGateway) WithMetrics(sink MetricsSink) *BreakerGateway {
	g.metrics = sink
	return g
}

func (g *BreakerGateway) CreateEvent(ctx context.Context, req domain.EventRequest) (string, error) {
	if err := g.allow("create event"); err != nil {
		return "", err
	}
	started := time.Now()
	ref, err := g.inner.CreateEvent(ctx, req)
	g.record("create event", started, err)
	return ref, err
}

func (g *BreakerGateway) AddAttendee(ctx context.Context, eventRef string, attendee domain.Attendee) error {
	if err := g.allow("add attendee"); err != nil {
		return err
	}
	started := time.Now()
	err := g.inner.AddAttendee(ctx, eventRef, attendee)
	g.record("add attendee", started, err)
	return err
}

func (g *BreakerGateway) GetEvent(ctx context.Context, eventRef string) (domain.EventStatus, error) {
	if err := g.allow("get event"); err != nil {
		return domain.EventStatus{}, err
	}
	started := time.Now()
	status, err := g.inner.GetEvent(ctx, eventRef)
	g.record("get event", started, err)
	return status, err
}

func (g *BreakerGateway) CancelEvent(ctx context.Context, eventRef string) error {
	if err := g.allow("cancel event"); err != nil {
		return err
	}
	started := time.Now()
	err := g.inner.CancelEvent(ctx, eventRef)
	g.record("cancel event", started, err)
	return err
}

func (g *BreakerGateway) allow(op string) error {
	if err := g.breaker.Allow(breakerEndpoint); err != nil {
		if g.metrics != nil {
			g.metrics.CircuitOpened(breakerEndpoint)
		}
		return &domain.GatewayError{Op: op, Err: err}
	}
	return nil
}

func (g *BreakerGateway) record(op string, started time.Time, err error) {
	if g.metrics != nil {
		g.metrics.GatewayRequest(op, time.Since(started), err)
	}
	if err != nil {
		g.breaker.RecordFailure(breakerEndpoint)
		return
	}
	g.breaker.RecordSuccess(breakerEndpoint)
}
