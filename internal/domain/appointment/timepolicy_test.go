package appointment

import (
	"errors"
	"testing"
	"time"
)

func TestParseClock(t *testing.T) {
	if _, err := ParseClock("09:30:00"); err != nil {
		t.Fatalf("valid clock rejected: %v", err)
	}

	for _, bad := range []string{"9:30:00", "09:3:00", "09:30:5", "09:30", "25:00:00", "09:61:00", "morning", ""} {
		if _, err := ParseClock(bad); !errors.Is(err, ErrMalformedTime) {
			t.Errorf("ParseClock(%q) = %v, want ErrMalformedTime", bad, err)
		}
	}
}

func TestAssertNotPastDate(t *testing.T) {
	now := time.Now()
	yesterday := now.AddDate(0, 0, -1)
	tomorrow := now.AddDate(0, 0, 1)

	if err := AssertNotPastDate(yesterday); !errors.Is(err, ErrPastDate) {
		t.Errorf("yesterday: got %v, want ErrPastDate", err)
	}
	// Today passes even when the clock has already moved past midnight: only
	// the calendar day counts.
	if err := AssertNotPastDate(now); err != nil {
		t.Errorf("today: got %v, want nil", err)
	}
	if err := AssertNotPastDate(tomorrow); err != nil {
		t.Errorf("tomorrow: got %v, want nil", err)
	}
}

func TestAssertWithinWorkingHours(t *testing.T) {
	cases := []struct {
		clock string
		ok    bool
	}{
		{"08:00:00", true}, // lower bound inclusive
		{"16:30:00", true}, // upper bound inclusive
		{"12:00:00", true},
		{"07:59:59", false},
		{"16:30:01", false},
		{"00:00:00", false},
		{"23:59:59", false},
	}
	for _, tc := range cases {
		err := AssertWithinWorkingHours(tc.clock)
		if tc.ok && err != nil {
			t.Errorf("%s: got %v, want nil", tc.clock, err)
		}
		if !tc.ok && !errors.Is(err, ErrOutsideWorkingHours) {
			t.Errorf("%s: got %v, want ErrOutsideWorkingHours", tc.clock, err)
		}
	}

	if err := AssertWithinWorkingHours("noon"); !errors.Is(err, ErrMalformedTime) {
		t.Errorf("malformed clock: got %v, want ErrMalformedTime", err)
	}
}

func TestComputeBufferWindow(t *testing.T) {
	cases := []struct {
		clock      string
		start, end string
	}{
		{"10:00:00", "09:30:00", "10:30:00"},
		{"08:00:00", "07:30:00", "08:30:00"},
		{"16:30:00", "16:00:00", "17:00:00"},
		// Output stays zero-padded
		{"09:05:03", "08:35:03", "09:35:03"},
		// Windows wrap across midnight rather than clamping
		{"00:10:00", "23:40:00", "00:40:00"},
		{"23:50:00", "23:20:00", "00:20:00"},
	}
	for _, tc := range cases {
		win, err := ComputeBufferWindow(tc.clock, DefaultBufferMinutes)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.clock, err)
		}
		if win.Start != tc.start || win.End != tc.end {
			t.Errorf("%s: got [%s, %s], want [%s, %s]", tc.clock, win.Start, win.End, tc.start, tc.end)
		}
	}

	if _, err := ComputeBufferWindow("bad", DefaultBufferMinutes); !errors.Is(err, ErrMalformedTime) {
		t.Errorf("malformed clock: got %v, want ErrMalformedTime", err)
	}
}

func TestHasConflict(t *testing.T) {
	cases := []struct {
		a, b     string
		conflict bool
	}{
		{"10:00:00", "10:00:00", true},  // same slot
		{"10:00:00", "10:15:00", true},  // inside buffer
		{"10:00:00", "10:29:59", true},  // one second short of the buffer
		{"10:00:00", "10:30:00", false}, // exactly the buffer apart: free
		{"10:30:00", "10:00:00", false}, // symmetric
		{"10:00:00", "09:30:00", false},
		{"10:00:00", "11:00:00", false},
		{"10:00:00", "09:30:01", true},
	}
	for _, tc := range cases {
		got, err := HasConflict(tc.a, tc.b, DefaultBufferMinutes)
		if err != nil {
			t.Fatalf("HasConflict(%s, %s): %v", tc.a, tc.b, err)
		}
		if got != tc.conflict {
			t.Errorf("HasConflict(%s, %s) = %v, want %v", tc.a, tc.b, got, tc.conflict)
		}
	}

	if _, err := HasConflict("10:00:00", "later", DefaultBufferMinutes); !errors.Is(err, ErrMalformedTime) {
		t.Errorf("malformed clock: got %v, want ErrMalformedTime", err)
	}
}
