// Package prayer holds the daily prayer schedule model: the five event kinds,
// civil dates and times of day, and the per-day schedule.
package prayer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrDuplicateKind = errors.New("duplicate prayer kind in day schedule")
	ErrUnknownKind   = errors.New("unknown prayer kind")
)

// Kind is one of the five daily prayers.
type Kind int

const (
	Fajr Kind = iota + 1
	Dhuhr
	Asr
	Maghrib
	Isha
)

// Kinds lists all kinds in day order.
var Kinds = []Kind{Fajr, Dhuhr, Asr, Maghrib, Isha}

var kindKeys = map[Kind]string{
	Fajr:    "fajr",
	Dhuhr:   "dhuhr",
	Asr:     "asr",
	Maghrib: "maghrib",
	Isha:    "isha",
}

// String returns the stable lowercase key ("fajr", ...).
func (k Kind) String() string {
	if s, ok := kindKeys[k]; ok {
		return s
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

func (k Kind) Valid() bool {
	_, ok := kindKeys[k]
	return ok
}

// ParseKind maps a key like "maghrib" (case-insensitive) to its Kind.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, key := range kindKeys {
		if key == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// TimeOfDay is a wall-clock time with minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// Date is a civil calendar date with no zone attached.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

// ParseDate parses "YYYY-MM-DD".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) String() string { return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day) }

func (d Date) IsZero() bool { return d == Date{} }

// At combines the date with a time of day in loc.
func (d Date) At(t TimeOfDay, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, t.Hour, t.Minute, 0, 0, loc)
}

// AddDays returns the date n days later (or earlier for negative n).
func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC))
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

// EventTime is one prayer of a day.
type EventTime struct {
	Kind Kind
	At   TimeOfDay
}

// DaySchedule is the ordered set of prayers for one date.
type DaySchedule struct {
	Date   Date
	Events []EventTime
}

// Validate enforces at most one event per kind.
func (d DaySchedule) Validate() error {
	seen := make(map[Kind]bool, len(d.Events))
	for _, ev := range d.Events {
		if !ev.Kind.Valid() {
			return fmt.Errorf("%s: %w: %d", d.Date, ErrUnknownKind, int(ev.Kind))
		}
		if seen[ev.Kind] {
			return fmt.Errorf("%s: %w: %s", d.Date, ErrDuplicateKind, ev.Kind)
		}
		seen[ev.Kind] = true
	}
	return nil
}

// Lookup returns the event time of kind k.
func (d DaySchedule) Lookup(k Kind) (TimeOfDay, bool) {
	for _, ev := range d.Events {
		if ev.Kind == k {
			return ev.At, true
		}
	}
	return TimeOfDay{}, false
}
