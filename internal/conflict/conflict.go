// Package conflict decides whether a proposed appointment window would
// double-book a technician once a travel/setup buffer is applied.
//
// The check is pure: callers fetch the technician's busy windows
// (schedules in tech_accepted, pending_customer, or confirmed, excluding
// the schedule being moved) and pass them in. Drafts and pending_tech
// schedules are tentative options and never appear in the input.
package conflict

import (
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/dispatchd/internal/domain"
)

// BusyWindow is one existing booked window for a technician.
type BusyWindow struct {
	ScheduleID     uuid.UUID
	TechnicianID   uuid.UUID
	TechnicianName string
	Window         domain.Window
}

// HasConflict expands the proposed window by buffer on both ends and
// tests standard interval overlap against each unexpanded existing
// window. Expanding only the proposed side catches "too close" cases on
// either side without double-counting the buffer. Returns the first
// colliding window found; the scan is linear, which is fine because a
// single technician's active window count is small.
func HasConflict(proposed domain.Window, buffer time.Duration, existing []BusyWindow) (BusyWindow, bool) {
	expanded := proposed.Expand(buffer)
	for _, busy := range existing {
		if expanded.Overlaps(busy.Window) {
			return busy, true
		}
	}
	return BusyWindow{}, false
}
