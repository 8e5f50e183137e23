// Package timewindow resolves the pair of comparable observation windows:
// the current window ending at a fixed local time-of-day and the baseline
// window at the same time-of-day a configured number of days earlier.
package timewindow

import (
	"time"

	"github.com/driftwatch/metric-sentinel/internal/models"
)

// minWidth is the floor applied to misconfigured window widths.
const minWidth = time.Minute

// Policy describes how the reference instant and the baseline offset are chosen.
type Policy struct {
	TargetHour   int
	TargetMinute int
	DaysBefore   int
	Width        time.Duration
	Location     *time.Location
}

// Resolve computes the (current, past) window pair for the given wall clock.
//
// The reference instant is today at TargetHour:TargetMinute in the policy
// location; when that is still ahead of now, yesterday's occurrence is used so
// the current window never requests future data. Both windows are returned in
// UTC. DaysBefore of zero degenerates to self-comparison, which downstream
// comparison treats as zero growth.
func Resolve(now time.Time, p Policy) models.WindowPair {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	width := p.Width
	if width < minWidth {
		width = minWidth
	}

	local := now.In(loc)
	reference := time.Date(local.Year(), local.Month(), local.Day(), p.TargetHour, p.TargetMinute, 0, 0, loc)
	if laterThan(p.TargetHour, p.TargetMinute, local.Hour(), local.Minute()) {
		reference = reference.AddDate(0, 0, -1)
	}

	pastReference := reference.AddDate(0, 0, -p.DaysBefore)

	return models.WindowPair{
		Current: models.TimeWindow{
			Start: reference.Add(-width).UTC(),
			End:   reference.UTC(),
		},
		Past: models.TimeWindow{
			Start: pastReference.Add(-width).UTC(),
			End:   pastReference.UTC(),
		},
	}
}

func laterThan(hour, minute, nowHour, nowMinute int) bool {
	if hour != nowHour {
		return hour > nowHour
	}
	return minute > nowMinute
}
