package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"namazbot/internal/eventbus"
	"namazbot/internal/observability/metrics"
	"namazbot/internal/prayer"
	"namazbot/internal/reminder"
	rtsup "namazbot/internal/runtime/supervisor"
	"namazbot/internal/storage"
	"namazbot/internal/timetable"
	logx "namazbot/pkg/logx"
)

func day(d prayer.Date) prayer.DaySchedule {
	at := func(h, m int) prayer.TimeOfDay { return prayer.TimeOfDay{Hour: h, Minute: m} }
	return prayer.DaySchedule{Date: d, Events: []prayer.EventTime{
		{Kind: prayer.Fajr, At: at(5, 40)},
		{Kind: prayer.Dhuhr, At: at(12, 30)},
		{Kind: prayer.Asr, At: at(15, 10)},
		{Kind: prayer.Maghrib, At: at(19, 20)},
		{Kind: prayer.Isha, At: at(21, 0)},
	}}
}

var (
	today      = prayer.Date{Year: 2025, Month: time.March, Day: 3}
	twoDaysAgo = today.AddDays(-2)
)

func newScheduler(t *testing.T) *reminder.Scheduler {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, time.March, 3, 13, 0, 0, 0, time.UTC))
	s, err := reminder.New(reminder.Config{Offset: 5 * time.Minute, Timezone: "UTC"},
		reminder.DispatcherFunc(func(context.Context, reminder.Subscriber, prayer.Kind, time.Time) error { return nil }),
		reminder.WithClock(clock))
	if err != nil {
		t.Fatalf("reminder.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func TestScheduleAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	for _, id := range []int64{10, 20} {
		if _, err := store.AddSubscriber(ctx, storage.Subscriber{ChatID: id}); err != nil {
			t.Fatal(err)
		}
	}
	src := timetable.FromTable(timetable.Table{today: day(today), twoDaysAgo: day(twoDaysAgo)})
	sched := newScheduler(t)

	// Records from two days ago are all past due and get pruned by the rollover.
	if _, err := sched.Schedule(10, day(twoDaysAgo), sched.Now()); err != nil {
		t.Fatal(err)
	}

	r := NewRollover(store, src, sched, metrics.New(nil), logx.Nop())
	pending, err := r.ScheduleAll(ctx, today)
	if err != nil {
		t.Fatalf("ScheduleAll: %v", err)
	}
	// 13:00: asr, maghrib and isha are still ahead for both chats.
	if pending != 6 {
		t.Fatalf("pending = %d, want 6", pending)
	}
	for _, rec := range sched.Records(10) {
		if rec.Date != today {
			t.Fatalf("record for %s survived the prune", rec.Date)
		}
	}

	// Running again is idempotent.
	if pending, err = r.ScheduleAll(ctx, today); err != nil || pending != 6 {
		t.Fatalf("second run = %d, %v", pending, err)
	}
	if n := sched.Snapshot().Pending; n != 6 {
		t.Fatalf("scheduler pending = %d, want 6", n)
	}
}

func TestScheduleAllMissingDay(t *testing.T) {
	t.Parallel()
	r := NewRollover(storage.NewMemory(), timetable.FromTable(timetable.Table{}), newScheduler(t), nil, logx.Nop())
	if _, err := r.ScheduleAll(context.Background(), today); !errors.Is(err, ErrNoSchedule) {
		t.Fatalf("err = %v, want ErrNoSchedule", err)
	}
}

func TestScheduleAllRespectsStop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	for _, id := range []int64{10, 20} {
		if _, err := store.AddSubscriber(ctx, storage.Subscriber{ChatID: id}); err != nil {
			t.Fatal(err)
		}
	}
	sched := newScheduler(t)
	if _, err := sched.Schedule(20, day(today), sched.Now()); err != nil {
		t.Fatal(err)
	}
	// /stop ran after the store was listed but before 20 was rescheduled.
	sched.Cancel(20)

	r := NewRollover(store, timetable.FromTable(timetable.Table{today: day(today)}), sched, nil, logx.Nop())
	pending, err := r.ScheduleAll(ctx, today)
	if err != nil {
		t.Fatalf("ScheduleAll: %v", err)
	}
	if pending != 3 {
		t.Fatalf("pending = %d, want 3", pending)
	}
	for _, rec := range sched.Records(20) {
		if rec.State == reminder.Pending {
			t.Fatalf("stopped chat re-armed: %s", rec.Kind)
		}
	}
}

func TestRolloverStart(t *testing.T) {
	t.Parallel()
	r := NewRollover(storage.NewMemory(), timetable.FromTable(nil), newScheduler(t), nil, logx.Nop())
	if err := r.Start("not a cron", time.UTC); err == nil {
		t.Fatal("expected error for bad cron expression")
	}
	if err := r.Start("1 0 * * *", time.UTC); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start("1 0 * * *", time.UTC); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.Stop(ctx)
}

func TestDeliveryOf(t *testing.T) {
	t.Parallel()
	rec := reminder.Record{
		ID:         "r1",
		Subscriber: 42,
		Kind:       prayer.Maghrib,
		Date:       today,
		EventTime:  time.Date(2025, time.March, 3, 19, 20, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2025, time.March, 3, 19, 15, 0, 0, time.UTC),
	}
	tests := []struct {
		state reminder.State
		want  bool
	}{
		{reminder.Pending, false},
		{reminder.Fired, false},
		{reminder.Delivered, true},
		{reminder.Failed, true},
		{reminder.Skipped, false},
		{reminder.Cancelled, false},
	}
	for _, tt := range tests {
		r := rec
		r.State = tt.state
		d, ok := deliveryOf(eventbus.Event{Type: reminder.EventType(tt.state), Data: reminder.Event{Record: r}})
		if ok != tt.want {
			t.Fatalf("%s: ok = %v", tt.state, ok)
		}
		if ok && (d.ChatID != 42 || d.Kind != "maghrib" || d.Date != "2025-03-03" || d.State != tt.state.String() || !d.At.Equal(rec.UpdatedAt)) {
			t.Fatalf("%s: delivery = %+v", tt.state, d)
		}
	}
	if _, ok := deliveryOf(eventbus.Event{Type: "other", Data: "x"}); ok {
		t.Fatal("non-reminder event journaled")
	}
}

func TestJournalDeliveries(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	events := make(chan eventbus.Event, 4)
	for _, st := range []reminder.State{reminder.Pending, reminder.Delivered, reminder.Failed} {
		rec := reminder.Record{ID: st.String(), Subscriber: 1, Kind: prayer.Asr, Date: today, State: st}
		events <- eventbus.Event{Type: reminder.EventType(st), Data: reminder.Event{Record: rec}}
	}
	close(events)

	journalDeliveries(events, store, logx.Nop())

	if n := store.Deliveries(); n != 2 {
		t.Fatalf("deliveries = %d, want 2", n)
	}
}

func TestJournalWritesOutcomesAfterCancel(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	bus := eventbus.New()
	sup := rtsup.New(context.Background())
	j := startJournal(sup, bus, store, logx.Nop())

	// Shutdown cancels the app context before in-flight deliveries finish.
	sup.Cancel()
	rec := reminder.Record{ID: "late", Subscriber: 3, Kind: prayer.Isha, Date: today, State: reminder.Delivered}
	bus.Publish(eventbus.Event{Type: reminder.EventType(rec.State), Data: reminder.Event{Record: rec}})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := j.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := store.Deliveries(); n != 1 {
		t.Fatalf("deliveries = %d, want 1", n)
	}
	if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait: %v", err)
	}
}
