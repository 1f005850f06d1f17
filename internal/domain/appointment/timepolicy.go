package appointment

import (
	"fmt"
	"time"
)

const (
	// ClockLayout is the HH:MM:SS format every persisted or compared time
	// value uses.
	ClockLayout = "15:04:05"

	DefaultBufferMinutes = 30

	// BufferSeconds is the redundant second-delta guard the conflict query
	// ORs with the range check, so the rule holds even when driver-level
	// time-only comparisons misbehave near midnight.
	BufferSeconds = 1800

	WorkdayStart = "08:00:00"
	WorkdayEnd   = "16:30:00"
)

// ParseClock parses a zero-padded HH:MM:SS wall-clock string.
func ParseClock(s string) (time.Time, error) {
	t, err := time.Parse(ClockLayout, s)
	// time.Parse tolerates non-padded components; round-tripping through the
	// layout keeps only canonical HH:MM:SS, which the string comparisons in
	// this package depend on.
	if err != nil || t.Format(ClockLayout) != s {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}
	return t, nil
}

// AssertNotPastDate fails when the date's calendar day, with the time of day
// stripped, is before today.
func AssertNotPastDate(date time.Time) error {
	now := time.Now().In(date.Location())
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, date.Location())
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	if day.Before(today) {
		return ErrPastDate
	}
	return nil
}

// AssertWithinWorkingHours fails unless WorkdayStart <= clock <= WorkdayEnd,
// bounds inclusive.
func AssertWithinWorkingHours(clock string) error {
	if _, err := ParseClock(clock); err != nil {
		return err
	}
	// Zero-padded HH:MM:SS strings order lexicographically.
	if clock < WorkdayStart || clock > WorkdayEnd {
		return ErrOutsideWorkingHours
	}
	return nil
}

type BufferWindow struct {
	Start string
	End   string
}

// ComputeBufferWindow returns the clock strings bufferMinutes either side of
// clock. A window crossing midnight wraps instead of clamping; working hours
// keep such windows unreachable.
func ComputeBufferWindow(clock string, bufferMinutes int) (BufferWindow, error) {
	t, err := ParseClock(clock)
	if err != nil {
		return BufferWindow{}, err
	}
	d := time.Duration(bufferMinutes) * time.Minute
	return BufferWindow{
		Start: t.Add(-d).Format(ClockLayout),
		End:   t.Add(d).Format(ClockLayout),
	}, nil
}

// HasConflict reports whether two wall-clock times are strictly closer than
// bufferMinutes apart. Exactly bufferMinutes apart is not a conflict.
func HasConflict(timeA, timeB string, bufferMinutes int) (bool, error) {
	a, err := ParseClock(timeA)
	if err != nil {
		return false, err
	}
	b, err := ParseClock(timeB)
	if err != nil {
		return false, err
	}
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff < time.Duration(bufferMinutes)*time.Minute, nil
}
