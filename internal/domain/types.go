package domain

import "time"

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Window is an inclusive validity range expressed in whole days.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow builds a window truncated to UTC days.
func NewWindow(start, end time.Time) Window {
	return Window{Start: Day(start), End: Day(end)}
}

// Intersects reports whether the two windows share at least one day.
func (w Window) Intersects(other Window) bool {
	return !w.Start.After(other.End) && !other.Start.After(w.End)
}

// Covers reports whether other lies entirely inside w.
func (w Window) Covers(other Window) bool {
	return !w.Start.After(other.Start) && !w.End.Before(other.End)
}

// Day truncates a timestamp to midnight UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
