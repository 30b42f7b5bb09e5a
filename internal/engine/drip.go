package engine

import (
	"fmt"
	"time"

	"github.com/outflowhq/outflow/internal/domain"
)

// dripLocation loads the workflow's timezone, defaulting to UTC when the
// definition does not set one.
func dripLocation(def *domain.WorkflowDefinition) (*time.Location, error) {
	if def.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(def.Timezone)
}

func parseClockTime(value string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, fmt.Errorf("bad drip time %q: %w", value, err)
	}
	return t.Hour(), t.Minute(), nil
}

// withinDripWindow reports whether now falls inside the workflow's local
// [dripStartTime, dripEndTime] window. When it does not, the returned time
// is the next window open the enrollment should be deferred to. Workflows
// without a window always execute.
func withinDripWindow(def *domain.WorkflowDefinition, now time.Time) (bool, time.Time, error) {
	if def.DripStartTime == "" || def.DripEndTime == "" {
		return true, time.Time{}, nil
	}
	loc, err := dripLocation(def)
	if err != nil {
		return false, time.Time{}, err
	}
	startH, startM, err := parseClockTime(def.DripStartTime)
	if err != nil {
		return false, time.Time{}, err
	}
	endH, endM, err := parseClockTime(def.DripEndTime)
	if err != nil {
		return false, time.Time{}, err
	}

	local := now.In(loc)
	open := time.Date(local.Year(), local.Month(), local.Day(), startH, startM, 0, 0, loc)
	close := time.Date(local.Year(), local.Month(), local.Day(), endH, endM, 0, 0, loc)

	if local.Before(open) {
		return false, open, nil
	}
	if local.After(close) {
		return false, open.AddDate(0, 0, 1), nil
	}
	return true, time.Time{}, nil
}

// localMidnight is the daily-cap reset boundary: midnight in the
// workflow's own timezone.
func localMidnight(def *domain.WorkflowDefinition, now time.Time) (time.Time, error) {
	loc, err := dripLocation(def)
	if err != nil {
		return time.Time{}, err
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc), nil
}

// nextDayOpen is where an enrollment deferred by the daily cap lands: the
// next local midnight, clamped forward to the drip window open when the
// workflow has one.
func nextDayOpen(def *domain.WorkflowDefinition, now time.Time) (time.Time, error) {
	midnight, err := localMidnight(def, now)
	if err != nil {
		return time.Time{}, err
	}
	next := midnight.AddDate(0, 0, 1)
	if def.DripStartTime != "" {
		startH, startM, err := parseClockTime(def.DripStartTime)
		if err != nil {
			return time.Time{}, err
		}
		next = time.Date(next.Year(), next.Month(), next.Day(), startH, startM, 0, 0, next.Location())
	}
	return next, nil
}
