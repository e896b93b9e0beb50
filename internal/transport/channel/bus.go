// Package channel provides the in-process bus carrying reconcile
// requests from the API to the reconciler.
package channel

import (
	"context"

	"github.com/fieldops/dispatchd/internal/domain"
)

type ReconcileBus struct {
	ch chan domain.ReconcileRequest
}

func NewReconcileBus(buffer int) *ReconcileBus {
	return &ReconcileBus{
		ch: make(chan domain.ReconcileRequest, buffer),
	}
}

// Emit blocks until the request is buffered or ctx is cancelled.
func (b *ReconcileBus) Emit(ctx context.Context, req domain.ReconcileRequest) error {
	select {
	case b.ch <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEmit buffers the request without blocking. Returns false when the
// buffer is full; the schedule is then picked up by the next periodic
// pass instead.
func (b *ReconcileBus) TryEmit(req domain.ReconcileRequest) bool {
	select {
	case b.ch <- req:
		return true
	default:
		return false
	}
}

func (b *ReconcileBus) Channel() <-chan domain.ReconcileRequest {
	return b.ch
}
