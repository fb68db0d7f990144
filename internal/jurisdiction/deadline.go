package jurisdiction

import (
	"context"
	"fmt"
	"time"

	"github.com/jonathan/conciliation-filer/internal/types"
)

// DefaultPrescriptionDays is the calendar-day window of Art. 518 LFT.
const DefaultPrescriptionDays = 60

// UrgentWithinDays marks a deadline urgent when this many days or fewer remain.
const UrgentWithinDays = 15

// PrescriptionPolicy maps a termination type to its prescription window in calendar days.
type PrescriptionPolicy map[types.TerminationType]int

// DefaultPrescriptionPolicy is uniform across termination types.
var DefaultPrescriptionPolicy = PrescriptionPolicy{
	types.TerminationDismissal:               DefaultPrescriptionDays,
	types.TerminationConstructiveResignation: DefaultPrescriptionDays,
	types.TerminationEmployerRescission:      DefaultPrescriptionDays,
}

// Days returns the window for tt, falling back to DefaultPrescriptionDays.
func (p PrescriptionPolicy) Days(tt types.TerminationType) int {
	if d, ok := p[tt]; ok && d > 0 {
		return d
	}
	return DefaultPrescriptionDays
}

// civilDate drops the clock and zone, keeping the calendar date as seen in t's location.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(civilDate(to).Sub(civilDate(from)).Hours() / 24)
}

// ComputeDeadline returns the prescription deadline of a termination as of today.
// Both dates are interpreted as civil dates in their own location.
func ComputeDeadline(policy PrescriptionPolicy, terminated time.Time, tt types.TerminationType, today time.Time) Deadline {
	days := policy.Days(tt)
	date := civilDate(terminated).AddDate(0, 0, days)
	remaining := daysBetween(today, date)
	return Deadline{
		Date:          date,
		Days:          days,
		RemainingDays: remaining,
		Urgent:        remaining > 0 && remaining <= UrgentWithinDays,
		Expired:       remaining <= 0,
	}
}

// holidayWindow is how many calendar days of the non-working calendar are fetched at a time.
const holidayWindow = 62

// AdvanceBusinessDays returns the date n business days after start, skipping
// weekends and the non-working days published by ref. With n == 0 it returns
// start itself when start is a business day, else the next business day.
func AdvanceBusinessDays(ctx context.Context, ref Reference, start time.Time, n int) (time.Time, error) {
	if n < 0 {
		return time.Time{}, fmt.Errorf("business day count must not be negative: %d", n)
	}
	cal := &holidayCalendar{ref: ref}
	day := civilDate(start)

	if n == 0 {
		for {
			ok, err := cal.isBusinessDay(ctx, day)
			if err != nil {
				return time.Time{}, err
			}
			if ok {
				return day, nil
			}
			day = day.AddDate(0, 0, 1)
		}
	}

	for n > 0 {
		day = day.AddDate(0, 0, 1)
		ok, err := cal.isBusinessDay(ctx, day)
		if err != nil {
			return time.Time{}, err
		}
		if ok {
			n--
		}
	}
	return day, nil
}

// IsBusinessDay reports whether day is neither a weekend nor a non-working day.
func IsBusinessDay(ctx context.Context, ref Reference, day time.Time) (bool, error) {
	cal := &holidayCalendar{ref: ref}
	return cal.isBusinessDay(ctx, civilDate(day))
}

// holidayCalendar caches the non-working days of a sliding window, extending it as iteration moves forward.
type holidayCalendar struct {
	ref      Reference
	from, to time.Time
	loaded   bool
	days     map[time.Time]struct{}
}

func (c *holidayCalendar) isBusinessDay(ctx context.Context, day time.Time) (bool, error) {
	switch day.Weekday() {
	case time.Saturday, time.Sunday:
		return false, nil
	}
	if err := c.cover(ctx, day); err != nil {
		return false, err
	}
	_, holiday := c.days[day]
	return !holiday, nil
}

func (c *holidayCalendar) cover(ctx context.Context, day time.Time) error {
	if c.loaded && !day.Before(c.from) && !day.After(c.to) {
		return nil
	}
	from := day
	to := day.AddDate(0, 0, holidayWindow)
	list, err := c.ref.NonWorkingDays(ctx, from, to)
	if err != nil {
		return &ReferenceError{Message: "failed to load non-working days", Cause: err}
	}
	if c.days == nil {
		c.days = make(map[time.Time]struct{})
	}
	for _, d := range list {
		c.days[civilDate(d)] = struct{}{}
	}
	c.from, c.to, c.loaded = from, to, true
	return nil
}
