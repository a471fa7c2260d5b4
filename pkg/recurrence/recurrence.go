// Package recurrence computes when an annual occasion is next due.
package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when a caller leaves the send time or zone empty.
const (
	DefaultSendTime = "09:00"
	DefaultTimezone = "UTC"
)

var (
	ErrInvalidDate     = errors.New("invalid day-month")
	ErrInvalidTime     = errors.New("invalid send time")
	ErrInvalidTimezone = errors.New("invalid timezone")
)

// DayMonth is a parsed DD-MM value.
type DayMonth struct {
	Day   int
	Month time.Month
}

// ClockTime is a parsed HH:MM value.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseDayMonth parses a strict DD-MM string. 29-02 is accepted.
func ParseDayMonth(s string) (DayMonth, error) {
	d, m, ok := splitPair(s, '-')
	if !ok {
		return DayMonth{}, fmt.Errorf("%w: %q must be DD-MM", ErrInvalidDate, s)
	}
	if m < 1 || m > 12 {
		return DayMonth{}, fmt.Errorf("%w: month %d out of range", ErrInvalidDate, m)
	}
	// 2000 is a leap year, so this bounds Feb at 29.
	if d < 1 || d > daysIn(time.Month(m), 2000) {
		return DayMonth{}, fmt.Errorf("%w: day %d not valid for month %d", ErrInvalidDate, d, m)
	}
	return DayMonth{Day: d, Month: time.Month(m)}, nil
}

// ParseClockTime parses a strict HH:MM string; empty means DefaultSendTime.
func ParseClockTime(s string) (ClockTime, error) {
	if s == "" {
		s = DefaultSendTime
	}
	h, m, ok := splitPair(s, ':')
	if !ok || h > 23 || m > 59 {
		return ClockTime{}, fmt.Errorf("%w: %q must be HH:MM", ErrInvalidTime, s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

// LoadLocation resolves an IANA zone name; empty means DefaultTimezone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	return loc, nil
}

// Validate checks the three schedule inputs without computing anything.
func Validate(dayMonth, sendTime, timezone string) error {
	if _, err := ParseDayMonth(dayMonth); err != nil {
		return err
	}
	if _, err := ParseClockTime(sendTime); err != nil {
		return err
	}
	_, err := LoadLocation(timezone)
	return err
}

// NextSend returns the first occurrence of dayMonth at sendTime in timezone
// that is not before now. The current year (in that zone) is tried first,
// then the following one.
func NextSend(dayMonth, sendTime, timezone string, now time.Time) (time.Time, error) {
	dm, ct, loc, err := parseAll(dayMonth, sendTime, timezone)
	if err != nil {
		return time.Time{}, err
	}

	year := now.In(loc).Year()
	candidate := dm.at(year, ct, loc)
	if candidate.Before(now) {
		candidate = dm.at(year+1, ct, loc)
	}
	return candidate, nil
}

// After returns the next occurrence strictly after prior that is also not
// before now. It is used to roll a recurring entry forward once it fired.
func After(dayMonth, sendTime, timezone string, prior, now time.Time) (time.Time, error) {
	ref := now
	if !ref.After(prior) {
		ref = prior.Add(time.Minute)
	}
	return NextSend(dayMonth, sendTime, timezone, ref)
}

func parseAll(dayMonth, sendTime, timezone string) (DayMonth, ClockTime, *time.Location, error) {
	dm, err := ParseDayMonth(dayMonth)
	if err != nil {
		return DayMonth{}, ClockTime{}, nil, err
	}
	ct, err := ParseClockTime(sendTime)
	if err != nil {
		return DayMonth{}, ClockTime{}, nil, err
	}
	loc, err := LoadLocation(timezone)
	if err != nil {
		return DayMonth{}, ClockTime{}, nil, err
	}
	return dm, ct, loc, nil
}

// at builds the occurrence in a given year. Feb 29 falls back to Feb 28
// when the year has no leap day.
func (dm DayMonth) at(year int, ct ClockTime, loc *time.Location) time.Time {
	day := dm.Day
	if last := daysIn(dm.Month, year); day > last {
		day = last
	}
	return time.Date(year, dm.Month, day, ct.Hour, ct.Minute, 0, 0, loc)
}

func daysIn(m time.Month, year int) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func splitPair(s string, sep byte) (int, int, bool) {
	if len(s) != 5 || s[2] != sep {
		return 0, 0, false
	}
	a, err := strconv.Atoi(s[:2])
	if err != nil || strings.ContainsAny(s[:2], "+-") {
		return 0, 0, false
	}
	b, err := strconv.Atoi(s[3:])
	if err != nil || strings.ContainsAny(s[3:], "+-") {
		return 0, 0, false
	}
	return a, b, true
}
