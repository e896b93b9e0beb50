package domain

import "time"

// Window is a half-open [Start, End) appointment time range in UTC.
type Window struct {
	Start time.Time
	End   time.Time
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Overlaps reports whether two windows intersect.
func (w Window) Overlaps(other Window) bool {
	return w.Start.Before(other.End) && w.End.After(other.Start)
}

// Expand widens the window by margin on both ends.
func (w Window) Expand(margin time.Duration) Window {
	return Window{Start: w.Start.Add(-margin), End: w.End.Add(margin)}
}

// Validate rejects zero or negative duration windows and windows that
// cross midnight. An end falling exactly on the next midnight is allowed.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return &ValidationError{Field: "window", Message: "start and end are required"}
	}
	if !w.End.After(w.Start) {
		return &ValidationError{Field: "window", Message: "end must be after start"}
	}
	nextMidnight := time.Date(w.Start.Year(), w.Start.Month(), w.Start.Day(), 0, 0, 0, 0, w.Start.Location()).AddDate(0, 0, 1)
	if w.End.After(nextMidnight) {
		return &ValidationError{Field: "window", Message: "window must not cross midnight"}
	}
	return nil
}
