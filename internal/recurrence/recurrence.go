// Package recurrence computes report periods and next run dates from a task's cadence.
// Every computation happens in UTC so results do not depend on the host timezone.
package recurrence

import (
	"strings"
	"time"

	"reportd/internal/models"
)

// Parse normalizes a recurrence label.
func Parse(raw string) (models.Recurrence, error) {
	r := models.Recurrence(strings.ToUpper(strings.TrimSpace(raw)))
	if !Valid(r) {
		return "", models.NewArgumentError("recurrence %q is not supported", raw)
	}
	return r, nil
}

// Valid reports whether r is a known recurrence unit.
func Valid(r models.Recurrence) bool {
	switch r {
	case models.RecurrenceDaily, models.RecurrenceWeekly, models.RecurrenceMonthly,
		models.RecurrenceQuarterly, models.RecurrenceBiennial, models.RecurrenceYearly:
		return true
	default:
		return false
	}
}

// CalcPeriod returns the full period immediately preceding anchor.
func CalcPeriod(anchor time.Time, r models.Recurrence) (models.Period, error) {
	if !Valid(r) {
		return models.Period{}, unsupported(r)
	}
	end := floor(anchor.UTC(), r)
	start := add(end, r, -1)
	return models.Period{Start: start, End: end}, nil
}

// CalcNextDate advances from by exactly one unit, at midnight UTC.
func CalcNextDate(from time.Time, r models.Recurrence) (time.Time, error) {
	if !Valid(r) {
		return time.Time{}, unsupported(r)
	}
	from = from.UTC()
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	return add(day, r, 1), nil
}

// CalcInterval returns the aggregation bucket size used by data fetchers.
// Buckets are finer than the period so histograms carry several points.
func CalcInterval(r models.Recurrence) (string, error) {
	switch r {
	case models.RecurrenceDaily:
		return "hour", nil
	case models.RecurrenceWeekly, models.RecurrenceMonthly:
		return "day", nil
	case models.RecurrenceQuarterly:
		return "week", nil
	case models.RecurrenceBiennial, models.RecurrenceYearly:
		return "month", nil
	default:
		return "", unsupported(r)
	}
}

// CalcFormat returns the Go time layout used to label chart axes.
func CalcFormat(r models.Recurrence) (string, error) {
	switch r {
	case models.RecurrenceDaily:
		return "15:04", nil
	case models.RecurrenceWeekly, models.RecurrenceMonthly, models.RecurrenceQuarterly:
		return "02/01", nil
	case models.RecurrenceBiennial, models.RecurrenceYearly:
		return "01/2006", nil
	default:
		return "", unsupported(r)
	}
}

func unsupported(r models.Recurrence) error {
	return models.NewArgumentError("recurrence %q is not supported", string(r))
}

// floor truncates t to the start of its natural unit boundary.
func floor(t time.Time, r models.Recurrence) time.Time {
	y, m, d := t.Date()
	switch r {
	case models.RecurrenceDaily:
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	case models.RecurrenceWeekly:
		// ISO weeks start on Monday.
		offset := (int(t.Weekday()) + 6) % 7
		return time.Date(y, m, d-offset, 0, 0, 0, 0, time.UTC)
	case models.RecurrenceMonthly:
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	case models.RecurrenceQuarterly:
		q := (int(m) - 1) / 3
		return time.Date(y, time.Month(q*3+1), 1, 0, 0, 0, 0, time.UTC)
	case models.RecurrenceBiennial:
		// Anchored on even years, whatever the parity of the anchor.
		return time.Date(y-mod(y, 2), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
}

// add moves t by n units, clamping to the end of month when the day overflows.
func add(t time.Time, r models.Recurrence, n int) time.Time {
	switch r {
	case models.RecurrenceDaily:
		return t.AddDate(0, 0, n)
	case models.RecurrenceWeekly:
		return t.AddDate(0, 0, 7*n)
	case models.RecurrenceMonthly:
		return addMonths(t, n)
	case models.RecurrenceQuarterly:
		return addMonths(t, 3*n)
	case models.RecurrenceBiennial:
		return addMonths(t, 24*n)
	default:
		return addMonths(t, 12*n)
	}
}

func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	if last := daysIn(first); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func mod(a, b int) int {
	return ((a % b) + b) % b
}
