package hierarchy

import (
	"fmt"
	"strings"
	"time"
)

// Frequency is the heartbeat of every series in the hierarchy.
type Frequency string

const (
	Hourly Frequency = "hour"
	Daily  Frequency = "day"
	Weekly Frequency = "week"
)

// ParseFrequency accepts hour/day/week and a few common spellings.
func ParseFrequency(s string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "day", "daily", "d":
		return Daily, nil
	case "hour", "hourly", "h":
		return Hourly, nil
	case "week", "weekly", "w":
		return Weekly, nil
	default:
		return "", fmt.Errorf("unsupported frequency %q", s)
	}
}

// Truncate snaps t onto the frequency grid. Weeks start on Monday.
func (f Frequency) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch f {
	case Hourly:
		return t.Truncate(time.Hour)
	case Weekly:
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(d.Weekday()) + 6) % 7
		return d.AddDate(0, 0, -offset)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// Next returns the grid point after t.
func (f Frequency) Next(t time.Time) time.Time {
	switch f {
	case Hourly:
		return t.Add(time.Hour)
	case Weekly:
		return t.AddDate(0, 0, 7)
	default:
		return t.AddDate(0, 0, 1)
	}
}

// Calendar generates the dense grid from start to end inclusive.
func Calendar(start, end time.Time, f Frequency) []time.Time {
	start, end = f.Truncate(start), f.Truncate(end)
	var grid []time.Time
	for t := start; !t.After(end); t = f.Next(t) {
		grid = append(grid, t)
	}
	return grid
}

// Horizon returns the n grid points following last.
func Horizon(last time.Time, f Frequency, n int) []time.Time {
	out := make([]time.Time, 0, n)
	t := f.Truncate(last)
	for i := 0; i < n; i++ {
		t = f.Next(t)
		out = append(out, t)
	}
	return out
}
