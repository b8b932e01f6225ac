// Package civil fixes the time zone policy left open by spec §9 Open
// Question 1: tradeDate, settlementDate, and businessDate are bare
// calendar dates interpreted as UTC calendar days. Every date value
// that flows through the engine is normalized with Date before it is
// compared, stored, or used as a map key.
package civil

import "time"

// Date truncates t to a UTC calendar day (midnight UTC), the
// canonical representation for tradeDate/settlementDate/businessDate
// throughout the engine.
func Date(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Equal reports whether a and b fall on the same UTC calendar day.
func Equal(a, b time.Time) bool {
	return Date(a).Equal(Date(b))
}

// Before reports whether a's calendar day is strictly before b's.
func Before(a, b time.Time) bool {
	return Date(a).Before(Date(b))
}

// After reports whether a's calendar day is strictly after b's.
func After(a, b time.Time) bool {
	return Date(a).After(Date(b))
}

// AddDays returns the date n calendar days after t (n may be negative).
func AddDays(t time.Time, n int) time.Time {
	return Date(t).AddDate(0, 0, n)
}

// Max returns the later of two dates.
func Max(a, b time.Time) time.Time {
	if After(a, b) {
		return Date(a)
	}
	return Date(b)
}

// Range returns every calendar day from start to end inclusive, in
// ascending order. Used by the ingestion coordinator to build the
// late-trade cascade list.
func Range(start, end time.Time) []time.Time {
	s, e := Date(start), Date(end)
	if s.After(e) {
		return nil
	}
	var days []time.Time
	for d := s; !d.After(e); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
