package calendar

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fieldops/dispatchd/internal/circuitbreaker"
	"github.com/fieldops/dispatchd/internal/domain"
)

type flakyGateway struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (g *flakyGateway) CreateEvent(ctx context.Context, req domain.EventRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	return "evt-1", nil
}

func (g *flakyGateway) AddAttendee(ctx context.Context, eventRef string, a domain.Attendee) error {
	return g.err
}

func (g *flakyGateway) GetEvent(ctx context.Context, eventRef string) (domain.EventStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return domain.EventStatus{}, g.err
	}
	return domain.EventStatus{Exists: true}, nil
}

func (g *flakyGateway) CancelEvent(ctx context.Context, eventRef string) error {
	return g.err
}

func TestBreakerGateway_FailsFastWhenOpen(t *testing.T) {
	inner := &flakyGateway{err: errors.New("connection refused")}
	g := WithBreaker(inner, circuitbreaker.New(2, time.Minute))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := g.GetEvent(ctx, "evt-1"); err == nil {
			t.Fatal("expected error")
		}
	}

	callsBefore := inner.calls
	_, err := g.GetEvent(ctx, "evt-1")
	var ge *domain.GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("expected *GatewayError, got %v", err)
	}
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("expected wrapped ErrCircuitOpen, got %v", err)
	}
	if inner.calls != callsBefore {
		t.Error("inner gateway called while circuit open")
	}
}

func TestBreakerGateway_SuccessKeepsCircuitClosed(t *testing.T) {
	inner := &flakyGateway{}
	g := WithBreaker(inner, circuitbreaker.New(1, time.Minute))

	for i := 0; i < 5; i++ {
		if _, err := g.CreateEvent(context.Background(), domain.EventRequest{}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
}
