// Package timetable loads the daily prayer schedule from a CSV file.
//
// Expected header (column order is free, extra columns are ignored):
//
//	date,fajr,dhuhr,asr,maghrib,isha
//
// Dates are YYYY-MM-DD, times HH:MM in the deployment's timezone.
package timetable

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"namazbot/internal/prayer"
	logx "namazbot/pkg/logx"
)

var ErrMissingColumn = errors.New("missing column")

// Table maps a date to its schedule.
type Table map[prayer.Date]prayer.DaySchedule

// Parse reads a schedule CSV from r.
func Parse(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	dateCol, ok := cols["date"]
	if !ok {
		return nil, fmt.Errorf("%w: date", ErrMissingColumn)
	}
	kindCols := make([]int, len(prayer.Kinds))
	for i, k := range prayer.Kinds {
		c, ok := cols[k.String()]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, k)
		}
		kindCols[i] = c
	}

	t := Table{}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		day, err := parseRow(row, dateCol, kindCols)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if _, dup := t[day.Date]; dup {
			return nil, fmt.Errorf("line %d: duplicate date %s", line, day.Date)
		}
		t[day.Date] = day
	}
	return t, nil
}

func parseRow(row []string, dateCol int, kindCols []int) (prayer.DaySchedule, error) {
	field := func(i int) (string, error) {
		if i >= len(row) {
			return "", fmt.Errorf("expected at least %d fields, got %d", i+1, len(row))
		}
		return row[i], nil
	}
	raw, err := field(dateCol)
	if err != nil {
		return prayer.DaySchedule{}, err
	}
	date, err := prayer.ParseDate(raw)
	if err != nil {
		return prayer.DaySchedule{}, err
	}
	day := prayer.DaySchedule{Date: date, Events: make([]prayer.EventTime, 0, len(kindCols))}
	for i, k := range prayer.Kinds {
		raw, err := field(kindCols[i])
		if err != nil {
			return prayer.DaySchedule{}, err
		}
		at, err := prayer.ParseTimeOfDay(raw)
		if err != nil {
			return prayer.DaySchedule{}, fmt.Errorf("%s: %w", k, err)
		}
		day.Events = append(day.Events, prayer.EventTime{Kind: k, At: at})
	}
	return day, nil
}

// Load parses the CSV file at path.
func Load(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Source serves day schedules from a CSV file and can reload it in place.
// Safe for concurrent use.
type Source struct {
	path string
	log  logx.Logger

	mu       sync.RWMutex
	table    Table
	loadedAt time.Time
}

// Open loads path once. A missing or broken file is an error here; later
// reload failures keep the previous table.
func Open(path string, log logx.Logger) (*Source, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Source{path: path, log: log}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// FromTable wraps an in-memory table (tests, fixtures).
func FromTable(t Table) *Source {
	return &Source{table: t, log: logx.Nop(), loadedAt: time.Now()}
}

func (s *Source) Path() string { return s.path }

// Reload re-reads the file. On error the current table is kept.
func (s *Source) Reload() error {
	t, err := Load(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.table = t
	s.loadedAt = time.Now()
	s.mu.Unlock()
	s.log.Info("timetable loaded", logx.String("path", s.path), logx.Int("days", len(t)))
	return nil
}

// GetDaySchedule returns the schedule for date; ok is false when the file has
// no row for it.
func (s *Source) GetDaySchedule(date prayer.Date) (prayer.DaySchedule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	day, ok := s.table[date]
	if !ok {
		return prayer.DaySchedule{}, false
	}
	// Events slice is shared with the table; hand out a copy.
	day.Events = append([]prayer.EventTime(nil), day.Events...)
	return day, true
}

// Month returns every known day of the given month in date order.
func (s *Source) Month(year int, month time.Month) []prayer.DaySchedule {
	s.mu.RLock()
	out := make([]prayer.DaySchedule, 0, 31)
	for d, day := range s.table {
		if d.Year == year && d.Month == month {
			day.Events = append([]prayer.EventTime(nil), day.Events...)
			out = append(out, day)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Days reports how many dates are loaded.
func (s *Source) Days() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.table)
}
