package slots

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Date is a civil calendar date with no time zone attached.
type Date struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
	Day   int        `json:"day"`
}

// DateOf returns the calendar date of t as observed in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return Date{Year: y, Month: m, Day: d}
}

// Before reports whether d is strictly earlier than o.
func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

// IsZero reports whether d is unset.
func (d Date) IsZero() bool {
	return d == Date{}
}

// String renders the date as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Key returns the reservation service's calendar key for d.
func (d Date) Key() CalendarKey {
	return CalendarKey(fmt.Sprintf("%d_%d_%d", d.Day, int(d.Month), d.Year))
}

// CalendarKey is the locale-independent slotDate sent with a reservation,
// formatted day_month_year without zero padding (e.g. "7_3_2026").
type CalendarKey string

// ParseCalendarKey turns a key back into its date components.
func ParseCalendarKey(key string) (Date, error) {
	parts := strings.Split(strings.TrimSpace(key), "_")
	if len(parts) != 3 {
		return Date{}, fmt.Errorf("slots: malformed calendar key %q", key)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Date{}, fmt.Errorf("slots: malformed calendar key %q: %w", key, err)
		}
		nums[i] = n
	}
	d := Date{Year: nums[2], Month: time.Month(nums[1]), Day: nums[0]}
	if d.Month < time.January || d.Month > time.December || d.Day < 1 || d.Day > daysIn(d.Month, d.Year) {
		return Date{}, fmt.Errorf("slots: calendar key %q is not a real date", key)
	}
	return d, nil
}

func daysIn(m time.Month, year int) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
