// Package dayview projects a technician's schedules onto a single-day
// timeline. Overlapping tentative options are packed into side-by-side
// lanes so a dispatcher UI can render them without its own layout pass.
package dayview

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/dispatchd/internal/domain"
)

// Block is one schedule placed on the day grid. Offset and Height are
// percentages of the visible day, Lane/LaneCount describe horizontal
// packing within an overlap group.
type Block struct {
	ScheduleID        uuid.UUID
	TicketID          uuid.UUID
	Window            domain.Window
	ConfirmationState domain.ConfirmationState
	Status            domain.WorkStatus

	Lane      int
	LaneCount int
	OffsetPct float64
	HeightPct float64
}

// Day is the rendered timeline for one technician and date.
type Day struct {
	Date   time.Time
	Start  time.Time
	End    time.Time
	Blocks []Block
}

// Config bounds the visible day.
type Config struct {
	// DayStart and DayEnd are offsets from midnight.
	DayStart time.Duration
	DayEnd   time.Duration
}

// DefaultConfig shows 06:00 through 20:00.
func DefaultConfig() Config {
	return Config{
		DayStart: 6 * time.Hour,
		DayEnd:   20 * time.Hour,
	}
}

// Build lays out the schedules intersecting the given date. date is
// truncated to midnight in its own location. Schedules outside the
// visible day are clamped to its edges.
func Build(date time.Time, schedules []domain.Schedule, config Config) Day {
	if config.DayEnd <= config.DayStart {
		config = DefaultConfig()
	}

	midnight := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	day := Day{
		Date:  midnight,
		Start: midnight.Add(config.DayStart),
		End:   midnight.Add(config.DayEnd),
	}
	visible := domain.Window{Start: day.Start, End: day.End}
	span := day.End.Sub(day.Start)

	var blocks []Block
	for _, s := range schedules {
		if !s.Window.Overlaps(visible) {
			continue
		}
		blocks = append(blocks, Block{
			ScheduleID:        s.ID,
			TicketID:          s.TicketID,
			Window:            s.Window,
			ConfirmationState: s.ConfirmationState,
			Status:            s.Status,
		})
	}

	sort.Slice(blocks, func(i, j int) bool {
		if !blocks[i].Window.Start.Equal(blocks[j].Window.Start) {
			return blocks[i].Window.Start.Before(blocks[j].Window.Start)
		}
		return blocks[i].Window.End.Before(blocks[j].Window.End)
	})

	assignLanes(blocks)

	for i := range blocks {
		start := clamp(blocks[i].Window.Start, day.Start, day.End)
		end := clamp(blocks[i].Window.End, day.Start, day.End)
		blocks[i].OffsetPct = pct(start.Sub(day.Start), span)
		blocks[i].HeightPct = pct(end.Sub(start), span)
	}

	day.Blocks = blocks
	return day
}

// assignLanes packs overlapping blocks into columns: each block takes
// the lowest lane free at its start, and every member of a connected
// overlap group reports the group's lane count.
func assignLanes(blocks []Block) {
	type lane struct {
		end time.Time
	}

	var lanes []lane
	groupStart := 0
	var groupEnd time.Time

	closeGroup := func(upto int) {
		width := len(lanes)
		for i := groupStart; i < upto; i++ {
			blocks[i].LaneCount = width
		}
		lanes = lanes[:0]
	}

	for i := range blocks {
		b := &blocks[i]
		if len(lanes) > 0 && !b.Window.Start.Before(groupEnd) {
			closeGroup(i)
			groupStart = i
		}

		placed := false
		for l := range lanes {
			if !b.Window.Start.Before(lanes[l].end) {
				lanes[l].end = b.Window.End
				b.Lane = l
				placed = true
				break
			}
		}
		if !placed {
			b.Lane = len(lanes)
			lanes = append(lanes, lane{end: b.Window.End})
		}

		if b.Window.End.After(groupEnd) {
			groupEnd = b.Window.End
		}
	}
	closeGroup(len(blocks))
}

func clamp(t, lo, hi time.Time) time.Time {
	if t.Before(lo) {
		return lo
	}
	if t.After(hi) {
		return hi
	}
	return t
}

func pct(d, span time.Duration) float64 {
	if span <= 0 {
		return 0
	}
	return float64(d) / float64(span) * 100
}
