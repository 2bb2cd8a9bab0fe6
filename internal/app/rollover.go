package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"namazbot/internal/observability/metrics"
	"namazbot/internal/prayer"
	"namazbot/internal/reminder"
	"namazbot/internal/storage"
	logx "namazbot/pkg/logx"
)

var ErrNoSchedule = errors.New("no schedule for date")

// ReminderScheduler is the part of the reminder scheduler the rollover drives.
type ReminderScheduler interface {
	Refresh(sub reminder.Subscriber, day prayer.DaySchedule, now time.Time) ([]reminder.Record, error)
	Prune(before prayer.Date) int
	Now() time.Time
}

// DaySource looks up a day's prayer times.
type DaySource interface {
	GetDaySchedule(date prayer.Date) (prayer.DaySchedule, bool)
}

// Rollover arms every subscriber's reminders for a day. It runs once at
// startup and then daily from a cron entry.
type Rollover struct {
	store storage.Store
	days  DaySource
	sched ReminderScheduler
	col   *metrics.Collector
	log   logx.Logger

	mu sync.Mutex
	c  *cron.Cron
}

func NewRollover(store storage.Store, days DaySource, sched ReminderScheduler, col *metrics.Collector, log logx.Logger) *Rollover {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Rollover{store: store, days: days, sched: sched, col: col, log: log.With(logx.String("comp", "rollover"))}
}

// ScheduleAll schedules date for every stored subscriber and prunes records
// older than the day before date. It returns how many reminders are pending.
// A failure for one subscriber does not stop the others.
func (r *Rollover) ScheduleAll(ctx context.Context, date prayer.Date) (int, error) {
	pending, err := r.scheduleAll(ctx, date)
	if r.col != nil {
		r.col.Rollover(err)
	}
	return pending, err
}

func (r *Rollover) scheduleAll(ctx context.Context, date prayer.Date) (int, error) {
	subs, err := r.store.ListSubscribers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list subscribers: %w", err)
	}
	if r.col != nil {
		r.col.SetSubscribers(len(subs))
	}
	pruned := r.sched.Prune(date.AddDays(-1))

	day, ok := r.days.GetDaySchedule(date)
	if !ok {
		r.log.Warn("no prayer times for date; nothing scheduled", logx.String("date", date.String()), logx.Int("subscribers", len(subs)))
		return 0, fmt.Errorf("%w: %s", ErrNoSchedule, date)
	}

	now := r.sched.Now()
	pending := 0
	var errs []error
	for _, s := range subs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		// subs may be stale; Refresh skips chats cancelled since the listing.
		recs, err := r.sched.Refresh(reminder.Subscriber(s.ChatID), day, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", s.ChatID, err))
			continue
		}
		for _, rec := range recs {
			if rec.State == reminder.Pending {
				pending++
			}
		}
	}
	r.log.Info("day scheduled",
		logx.String("date", date.String()),
		logx.Int("subscribers", len(subs)),
		logx.Int("pending", pending),
		logx.Int("pruned", pruned),
	)
	return pending, errors.Join(errs...)
}

// Start registers the daily job; spec is a standard 5-field cron expression
// evaluated in loc. Start is idempotent.
func (r *Rollover) Start(spec string, loc *time.Location) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}
	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(strings.TrimSpace(spec), r.runJob); err != nil {
		return fmt.Errorf("rollover %q: %w", spec, err)
	}
	c.Start()
	r.c = c
	r.log.Info("rollover started", logx.String("spec", spec), logx.String("tz", loc.String()))
	return nil
}

func (r *Rollover) runJob() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	today := prayer.DateOf(r.sched.Now())
	if _, err := r.ScheduleAll(ctx, today); err != nil {
		r.log.Warn("rollover failed", logx.String("date", today.String()), logx.Err(err))
	}
}

// Stop removes the cron entry and waits for a running job until ctx is done.
func (r *Rollover) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}
