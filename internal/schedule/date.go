package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateFormat is the app-wide calendar date format (DD-MM-YYYY).
// ISO dates (YYYY-MM-DD) are accepted on input and normalized.
const (
	DateFormat    = "02-01-2006"
	isoDateFormat = "2006-01-02"
)

var (
	ErrBadDate     = errors.New("invalid date, expected DD-MM-YYYY")
	ErrBadTime     = errors.New("invalid time, expected HH:mm")
	ErrBadTimezone = errors.New("invalid timezone")
)

// NormalizeDate canonicalizes a calendar date string to DD-MM-YYYY.
// Slash and dot separators are tolerated.
func NormalizeDate(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, ".", "-")
	if s == "" {
		return "", ErrBadDate
	}
	for _, layout := range []string{DateFormat, isoDateFormat} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(DateFormat), nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrBadDate, raw)
}

// ParseDate returns midnight of the given date key in loc.
func ParseDate(key string, loc *time.Location) (time.Time, error) {
	norm, err := NormalizeDate(key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation(DateFormat, norm, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadDate, key)
	}
	return t, nil
}

// ParseClock validates an HH:mm time-of-day string.
func ParseClock(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadTime, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadTime, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadTime, s)
	}
	return h, m, nil
}

// DateAtClock combines a date key and an HH:mm clock into an instant in loc.
func DateAtClock(key, hhmm string, loc *time.Location) (time.Time, error) {
	day, err := ParseDate(key, loc)
	if err != nil {
		return time.Time{}, err
	}
	h, m, err := ParseClock(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, loc), nil
}

// ClockAt anchors an HH:mm clock to t's calendar date (in t's location).
func ClockAt(t time.Time, hhmm string) (time.Time, error) {
	h, m, err := ParseClock(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(t.Year(), t.Month(), t.Day(), h, m, 0, 0, t.Location()), nil
}

// DateKey formats t's calendar date (in t's location) as a date key.
func DateKey(t time.Time) string { return t.Format(DateFormat) }

// CompareDates orders two date keys chronologically.
// Malformed keys sort last so they surface at the end of override lists.
func CompareDates(a, b string) int {
	ta, errA := time.Parse(DateFormat, a)
	tb, errB := time.Parse(DateFormat, b)
	switch {
	case errA != nil && errB != nil:
		return 0
	case errA != nil:
		return 1
	case errB != nil:
		return -1
	case ta.Before(tb):
		return -1
	case ta.After(tb):
		return 1
	default:
		return 0
	}
}

// ISOWeekday returns 1 (Monday) .. 7 (Sunday) for t.
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// startOfNextDay returns midnight of the day after t, in t's location.
// Going through time.Date keeps DST transitions correct.
func startOfNextDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
}
