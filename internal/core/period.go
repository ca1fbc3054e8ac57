package core

import (
	"fmt"
	"strconv"
	"time"
)

// Period identifies a calendar month. It is parsed once at the boundary and
// passed around as a value; the YYYY-MM string form only exists for storage
// keys and display.
type Period struct {
	Year  int
	Month time.Month
}

// PeriodOf returns the period containing the given instant, in UTC.
func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return Period{Year: t.Year(), Month: t.Month()}
}

// ParsePeriod accepts a string of the exact form YYYY-MM (month 01-12).
// Anything else (wrong length, missing hyphen, out-of-range month) is
// treated as absent and replaced by the month containing now. The ledger
// front end is conversational, so a malformed period is forgiven rather
// than rejected.
func ParsePeriod(raw string, now time.Time) Period {
	if len(raw) != 7 || raw[4] != '-' {
		return PeriodOf(now)
	}
	for i, r := range raw {
		if i == 4 {
			continue
		}
		if r < '0' || r > '9' {
			return PeriodOf(now)
		}
	}
	year, _ := strconv.Atoi(raw[:4])
	month, _ := strconv.Atoi(raw[5:])
	if month < 1 || month > 12 {
		return PeriodOf(now)
	}
	return Period{Year: year, Month: time.Month(month)}
}

// Bounds returns the half-open UTC range [start, end) covering the month.
// December rolls the end into January of the next year. A transaction
// timestamped exactly on a month boundary belongs to the later month.
func (p Period) Bounds() (start, end time.Time) {
	start = time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0)
	return start, end
}

// Key returns the YYYY-MM storage key.
func (p Period) Key() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

func (p Period) String() string {
	return p.Key()
}

// StartOfMonthUTC returns the first instant of the month containing t.
func StartOfMonthUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// StartOfDayUTC returns midnight UTC of the day containing t.
func StartOfDayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
