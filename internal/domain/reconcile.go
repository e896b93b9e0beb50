package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReconcileRequest asks the reconciler to check a single schedule's
// calendar responses out of band, ahead of the next periodic pass.
type ReconcileRequest struct {
	ScheduleID  uuid.UUID
	RequestedAt time.Time
}
