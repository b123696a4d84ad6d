package contracts

import (
	"fmt"
	"time"
)

// Day truncates t to its calendar date in UTC
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsWeekday reports Monday..Friday
func IsWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

func epochDays(t time.Time) int {
	return int(Day(t).Unix() / 86400)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// PeriodIndex maps t to its ordinal on f's expected grid.
// Weekly periods are 7-day steps counted from anchor; weekend dates fold
// into the preceding Friday for daily series.
func PeriodIndex(f Frequency, anchor, t time.Time) int {
	switch f {
	case FrequencyDaily:
		// 1970-01-01 is a Thursday (Monday-based offset 3)
		d := epochDays(t) + 3
		week := floorDiv(d, 7)
		wd := d - week*7
		if wd > 4 {
			wd = 4
		}
		return week*5 + wd
	case FrequencyWeekly:
		return floorDiv(epochDays(t)-epochDays(anchor), 7)
	case FrequencyMonthly:
		y, m, _ := t.Date()
		return y*12 + int(m) - 1
	case FrequencyQuarterly:
		y, m, _ := t.Date()
		return y*4 + (int(m)-1)/3
	default:
		return epochDays(t)
	}
}

// PeriodTime is the representative timestamp of grid slot idx
// (the period end for monthly/quarterly, the step date otherwise)
func PeriodTime(f Frequency, anchor time.Time, idx int) time.Time {
	switch f {
	case FrequencyDaily:
		week := floorDiv(idx, 5)
		wd := idx - week*5
		return time.Unix(int64(week*7+wd-3)*86400, 0).UTC()
	case FrequencyWeekly:
		return Day(anchor).AddDate(0, 0, 7*idx)
	case FrequencyMonthly:
		y := floorDiv(idx, 12)
		m := idx - y*12 + 1
		return time.Date(y, time.Month(m)+1, 0, 0, 0, 0, 0, time.UTC)
	case FrequencyQuarterly:
		y := floorDiv(idx, 4)
		q := idx - y*4
		return time.Date(y, time.Month(q*3+4), 0, 0, 0, 0, 0, time.UTC)
	default:
		return time.Unix(int64(idx)*86400, 0).UTC()
	}
}

// PeriodEnd is the default release date of an observation stamped t
func PeriodEnd(f Frequency, t time.Time) time.Time {
	y, m, _ := t.Date()
	switch f {
	case FrequencyMonthly:
		return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC)
	case FrequencyQuarterly:
		qEnd := ((int(m)-1)/3)*3 + 4
		return time.Date(y, time.Month(qEnd), 0, 0, 0, 0, 0, time.UTC)
	default:
		return Day(t)
	}
}

// ExpectedPeriods counts grid slots between first and last inclusive
func ExpectedPeriods(f Frequency, first, last time.Time) int {
	if last.Before(first) {
		return 0
	}
	return PeriodIndex(f, first, last) - PeriodIndex(f, first, first) + 1
}

// DateRange is an inclusive [Start, End] date window
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateRange normalizes both ends to dates and validates order
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: Day(start), End: Day(end)}
	return r, r.Validate()
}

// Validate checks Start <= End and both set
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("date range requires start and end")
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("date range end %s before start %s",
			r.End.Format("2006-01-02"), r.Start.Format("2006-01-02"))
	}
	return nil
}

// Contains reports whether t's date lies within the range
func (r DateRange) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(r.Start) && !d.After(r.End)
}

// Key is a stable string form for cache keys and logs
func (r DateRange) Key() string {
	return r.Start.Format("20060102") + "-" + r.End.Format("20060102")
}
