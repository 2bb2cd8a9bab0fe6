package prayer

import (
	"errors"
	"testing"
	"time"
)

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()
	got, err := ParseTimeOfDay("06:10")
	if err != nil {
		t.Fatalf("ParseTimeOfDay error: %v", err)
	}
	if got.Hour != 6 || got.Minute != 10 {
		t.Fatalf("unexpected result: %v", got)
	}
	if got.String() != "06:10" {
		t.Fatalf("String = %q", got.String())
	}

	for _, bad := range []string{"24:00", "12:60", "1210", "ab:cd", ""} {
		if _, err := ParseTimeOfDay(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseKind(t *testing.T) {
	t.Parallel()
	for _, k := range Kinds {
		got, err := ParseKind(k.String())
		if err != nil {
			t.Fatalf("ParseKind(%q) error: %v", k, err)
		}
		if got != k {
			t.Fatalf("ParseKind(%q) = %v", k, got)
		}
	}
	if _, err := ParseKind(" Maghrib "); err != nil {
		t.Fatalf("expected case-insensitive match: %v", err)
	}
	if _, err := ParseKind("tahajjud"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("err = %v, want ErrUnknownKind", err)
	}
}

func TestDate(t *testing.T) {
	t.Parallel()
	d, err := ParseDate("2025-03-31")
	if err != nil {
		t.Fatalf("ParseDate error: %v", err)
	}
	if d.String() != "2025-03-31" {
		t.Fatalf("String = %q", d.String())
	}
	if next := d.AddDays(1); next != (Date{2025, time.April, 1}) {
		t.Fatalf("AddDays(1) = %v", next)
	}
	if !d.Before(d.AddDays(1)) || d.AddDays(1).Before(d) {
		t.Fatal("Before ordering broken")
	}

	loc := time.FixedZone("UTC+7", 7*3600)
	at := d.At(TimeOfDay{Hour: 19, Minute: 20}, loc)
	if at.Hour() != 19 || at.Location() != loc || DateOf(at) != d {
		t.Fatalf("At = %v", at)
	}
}

func TestDayScheduleValidate(t *testing.T) {
	t.Parallel()
	ok := DaySchedule{Events: []EventTime{{Kind: Fajr}, {Kind: Isha}}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	dup := DaySchedule{Events: []EventTime{{Kind: Asr}, {Kind: Asr}}}
	if err := dup.Validate(); !errors.Is(err, ErrDuplicateKind) {
		t.Fatalf("err = %v, want ErrDuplicateKind", err)
	}
	unknown := DaySchedule{Events: []EventTime{{Kind: Kind(42)}}}
	if err := unknown.Validate(); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("err = %v, want ErrUnknownKind", err)
	}
}
