package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Weekday enumerates the seven scheduling days.
type Weekday string

const (
	Monday    Weekday = "MONDAY"
	Tuesday   Weekday = "TUESDAY"
	Wednesday Weekday = "WEDNESDAY"
	Thursday  Weekday = "THURSDAY"
	Friday    Weekday = "FRIDAY"
	Saturday  Weekday = "SATURDAY"
	Sunday    Weekday = "SUNDAY"
)

var weekdays = map[Weekday]struct{}{
	Monday: {}, Tuesday: {}, Wednesday: {}, Thursday: {}, Friday: {}, Saturday: {}, Sunday: {},
}

// ParseWeekday normalises and validates a day name.
func ParseWeekday(raw string) (Weekday, error) {
	day := Weekday(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := weekdays[day]; !ok {
		return "", fmt.Errorf("unknown weekday %q", raw)
	}
	return day, nil
}

// minutesPerDay bounds slot times; slots never span midnight.
const minutesPerDay = 24 * 60

// TimeSlot is a half-open [Start, End) interval within a single weekday.
// Start and End are minutes from midnight.
type TimeSlot struct {
	Day   Weekday `json:"day"`
	Start int     `json:"start_minute"`
	End   int     `json:"end_minute"`
}

// Validate checks the interval invariants.
func (s TimeSlot) Validate() error {
	if _, ok := weekdays[s.Day]; !ok {
		return fmt.Errorf("unknown weekday %q", s.Day)
	}
	if s.Start < 0 || s.End > minutesPerDay {
		return fmt.Errorf("slot must fall within a single day")
	}
	if s.Start >= s.End {
		return fmt.Errorf("slot start %s must be before end %s", FormatMinutes(s.Start), FormatMinutes(s.End))
	}
	return nil
}

// Overlaps reports whether two slots intersect. Half-open semantics: slots
// that only touch at a boundary do not overlap.
func (s TimeSlot) Overlaps(other TimeSlot) bool {
	if s.Day != other.Day {
		return false
	}
	return s.Start < other.End && other.Start < s.End
}

// Label renders the slot for display, e.g. "MONDAY 09:00-10:00".
func (s TimeSlot) Label() string {
	return fmt.Sprintf("%s %s-%s", s.Day, FormatMinutes(s.Start), FormatMinutes(s.End))
}

// ParseClock converts "HH:MM" into minutes from midnight.
func ParseClock(raw string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", raw)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 24 {
		return 0, fmt.Errorf("invalid hour in %q", raw)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", raw)
	}
	total := hour*60 + minute
	if total > minutesPerDay {
		return 0, fmt.Errorf("time %q beyond end of day", raw)
	}
	return total, nil
}

// FormatMinutes renders minutes from midnight as "HH:MM".
func FormatMinutes(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
