package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"namazbot/internal/eventbus"
	"namazbot/internal/prayer"
	logx "namazbot/pkg/logx"
)

// FireMoment combines date and time of day in loc, then subtracts offset.
func FireMoment(t prayer.TimeOfDay, date prayer.Date, loc *time.Location, offset time.Duration) time.Time {
	return date.At(t, loc).Add(-offset)
}

type key struct {
	sub  Subscriber
	kind prayer.Kind
	date prayer.Date
}

type entry struct {
	rec   Record
	timer clockwork.Timer
	// gen identifies the timer that may fire this entry; stale callbacks are ignored.
	gen uint64
}

type Option func(*Scheduler)

// WithClock replaces the real clock (tests use a fake one).
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithBus publishes every state transition on bus.
func WithBus(bus eventbus.Bus) Option {
	return func(s *Scheduler) {
		if bus != nil {
			s.bus = bus
		}
	}
}

// Scheduler owns the reminder records and their timers. Safe for concurrent use.
type Scheduler struct {
	mu sync.Mutex

	cfg        Config
	loc        *time.Location
	clock      clockwork.Clock
	log        logx.Logger
	bus        eventbus.Bus
	dispatcher Dispatcher

	entries map[key]*entry
	// revoked holds subscribers cancelled since their last Schedule.
	revoked map[Subscriber]bool
	gen     uint64
	stopped bool

	runCtx    context.Context
	runCancel context.CancelFunc
	inflight  sync.WaitGroup
}

// New validates cfg and returns a ready scheduler. Invalid configuration
// yields a *ConfigError.
func New(cfg Config, dispatcher Dispatcher, opts ...Option) (*Scheduler, error) {
	if cfg.Offset < 0 {
		return nil, &ConfigError{Field: "offset", Err: fmt.Errorf("must be >= 0, got %s", cfg.Offset)}
	}
	if cfg.DeliveryTimeout < 0 {
		return nil, &ConfigError{Field: "delivery_timeout", Err: fmt.Errorf("must be >= 0, got %s", cfg.DeliveryTimeout)}
	}
	tz := strings.TrimSpace(cfg.Timezone)
	if tz == "" {
		return nil, &ConfigError{Field: "timezone", Err: errors.New("required")}
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, &ConfigError{Field: "timezone", Err: err}
	}
	if dispatcher == nil {
		return nil, &ConfigError{Field: "dispatcher", Err: errors.New("required")}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:        cfg,
		loc:        loc,
		clock:      clockwork.NewRealClock(),
		log:        logx.Nop(),
		bus:        eventbus.Discard{},
		dispatcher: dispatcher,
		entries:    map[key]*entry{},
		revoked:    map[Subscriber]bool{},
		runCtx:     runCtx,
		runCancel:  cancel,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s, nil
}

func (s *Scheduler) Location() *time.Location { return s.loc }

func (s *Scheduler) Offset() time.Duration { return s.cfg.Offset }

// Now returns the clock's current time in the configured zone.
func (s *Scheduler) Now() time.Time { return s.clock.Now().In(s.loc) }

// Today returns the current calendar date in the configured zone.
func (s *Scheduler) Today() prayer.Date { return prayer.DateOf(s.Now()) }

// Schedule computes the reminders of day for sub relative to now and arms a
// timer for each one still in the future. It returns one record per event, in
// schedule order. Only a malformed day (duplicate kinds) or a stopped
// scheduler is an error; past-due and duplicate reminders are normal outcomes.
// Schedule also lifts a previous Cancel of sub.
func (s *Scheduler) Schedule(sub Subscriber, day prayer.DaySchedule, now time.Time) ([]Record, error) {
	return s.schedule(sub, day, now, true)
}

// Refresh is Schedule for bulk callers working from a subscriber list that may
// be stale: if sub was cancelled and not scheduled again since, it does
// nothing and returns no records.
func (s *Scheduler) Refresh(sub Subscriber, day prayer.DaySchedule, now time.Time) ([]Record, error) {
	return s.schedule(sub, day, now, false)
}

func (s *Scheduler) schedule(sub Subscriber, day prayer.DaySchedule, now time.Time, explicit bool) ([]Record, error) {
	if err := day.Validate(); err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(day.Events))
	changed := make([]Record, 0, len(day.Events))

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	if explicit {
		delete(s.revoked, sub)
	} else if s.revoked[sub] {
		s.mu.Unlock()
		s.log.Debug("refresh skipped for cancelled subscriber", logx.Int64("sub", int64(sub)))
		return nil, nil
	}
	for _, ev := range day.Events {
		eventAt := day.Date.At(ev.At, s.loc)
		fireAt := FireMoment(ev.At, day.Date, s.loc, s.cfg.Offset)
		k := key{sub: sub, kind: ev.Kind, date: day.Date}
		past := !fireAt.After(now)

		if cur, ok := s.entries[k]; ok {
			// Pending or in flight: never arm a second timer for the same reminder.
			// A terminal record is only replaced by a new pending one.
			if !cur.rec.State.Terminal() || past {
				s.log.Debug("reminder already scheduled",
					logx.Int64("sub", int64(sub)),
					logx.String("kind", ev.Kind.String()),
					logx.String("state", cur.rec.State.String()))
				out = append(out, cur.rec)
				continue
			}
		}

		nowClock := s.clock.Now()
		rec := Record{
			ID:         uuid.NewString(),
			Subscriber: sub,
			Kind:       ev.Kind,
			Date:       day.Date,
			EventTime:  eventAt,
			FireAt:     fireAt,
			CreatedAt:  nowClock,
			UpdatedAt:  nowClock,
		}
		e := &entry{rec: rec}
		if past {
			e.rec.State = Skipped
		} else {
			e.rec.State = Pending
			s.gen++
			e.gen = s.gen
			e.timer = s.arm(k, e.gen, fireAt)
		}
		s.entries[k] = e
		out = append(out, e.rec)
		changed = append(changed, e.rec)
	}
	s.mu.Unlock()

	for _, rec := range changed {
		if rec.State == Skipped {
			s.log.Info("reminder past due",
				logx.Int64("sub", int64(rec.Subscriber)),
				logx.String("kind", rec.Kind.String()),
				logx.Time("fire_at", rec.FireAt))
		} else {
			s.log.Info("reminder scheduled",
				logx.Int64("sub", int64(rec.Subscriber)),
				logx.String("kind", rec.Kind.String()),
				logx.Time("fire_at", rec.FireAt))
		}
		s.publish(rec)
	}
	return out, nil
}

// arm registers the timer for one entry. Call with s.mu held.
func (s *Scheduler) arm(k key, gen uint64, fireAt time.Time) clockwork.Timer {
	delay := fireAt.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	return s.clock.AfterFunc(delay, func() { s.fire(k, gen) })
}

// fire runs on the timer's own goroutine, so unrelated deliveries overlap freely.
func (s *Scheduler) fire(k key, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[k]
	if !ok || e.gen != gen || e.rec.State != Pending {
		// Cancelled, replaced or already handled.
		s.mu.Unlock()
		return
	}
	e.rec.State = Fired
	e.rec.UpdatedAt = s.clock.Now()
	e.timer = nil
	rec := e.rec
	ctx := s.runCtx
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	s.publish(rec)

	err := s.deliver(ctx, rec)

	s.mu.Lock()
	if err != nil {
		e.rec.State = Failed
		e.rec.Error = err.Error()
	} else {
		e.rec.State = Delivered
	}
	e.rec.UpdatedAt = s.clock.Now()
	rec = e.rec
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("reminder delivery failed",
			logx.Int64("sub", int64(rec.Subscriber)),
			logx.String("kind", rec.Kind.String()),
			logx.Err(err))
	} else {
		s.log.Info("reminder delivered",
			logx.Int64("sub", int64(rec.Subscriber)),
			logx.String("kind", rec.Kind.String()))
	}
	s.publish(rec)
}

func (s *Scheduler) deliver(ctx context.Context, rec Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatcher panic: %v", r)
		}
	}()
	if p, ok := s.dispatcher.(Pacer); ok {
		if err := p.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}
	if s.cfg.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
		defer cancel()
	}
	return s.dispatcher.Deliver(ctx, rec.Subscriber, rec.Kind, rec.EventTime)
}

// Cancel revokes every pending reminder of sub without delivering it and
// makes Refresh ignore sub until the next Schedule. It returns the number of
// cancelled records.
func (s *Scheduler) Cancel(sub Subscriber) int {
	s.mu.Lock()
	s.revoked[sub] = true
	s.mu.Unlock()
	return s.cancelWhere(func(k key) bool { return k.sub == sub })
}

// CancelAll revokes every pending reminder.
func (s *Scheduler) CancelAll() int {
	return s.cancelWhere(func(key) bool { return true })
}

func (s *Scheduler) cancelWhere(match func(k key) bool) int {
	s.mu.Lock()
	var cancelled []Record
	now := s.clock.Now()
	for k, e := range s.entries {
		if e.rec.State != Pending || !match(k) {
			continue
		}
		if e.timer != nil {
			_ = e.timer.Stop()
			e.timer = nil
		}
		e.rec.State = Cancelled
		e.rec.UpdatedAt = now
		cancelled = append(cancelled, e.rec)
	}
	s.mu.Unlock()

	for _, rec := range cancelled {
		s.publish(rec)
	}
	if len(cancelled) > 0 {
		s.log.Debug("reminders cancelled", logx.Int("count", len(cancelled)))
	}
	return len(cancelled)
}

// Records returns copies of sub's records ordered by fire-moment.
func (s *Scheduler) Records(sub Subscriber) []Record {
	s.mu.Lock()
	out := make([]Record, 0, 8)
	for k, e := range s.entries {
		if k.sub == sub {
			out = append(out, e.rec)
		}
	}
	s.mu.Unlock()
	sortRecords(out)
	return out
}

// All returns copies of every record ordered by fire-moment.
func (s *Scheduler) All() []Record {
	s.mu.Lock()
	out := make([]Record, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.rec)
	}
	s.mu.Unlock()
	sortRecords(out)
	return out
}

func sortRecords(rs []Record) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].FireAt.Equal(rs[j].FireAt) {
			return rs[i].FireAt.Before(rs[j].FireAt)
		}
		if rs[i].Subscriber != rs[j].Subscriber {
			return rs[i].Subscriber < rs[j].Subscriber
		}
		return rs[i].Kind < rs[j].Kind
	})
}

// Prune drops terminal records of dates before the given date and returns
// how many were removed. Pending and in-flight records are kept.
func (s *Scheduler) Prune(before prayer.Date) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if e.rec.State.Terminal() && k.date.Before(before) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Timezone: s.loc.String(), Offset: s.cfg.Offset, Counts: map[State]int{}}
	for _, e := range s.entries {
		snap.Counts[e.rec.State]++
	}
	snap.Pending = snap.Counts[Pending]
	return snap
}

// Stop cancels every pending reminder, rejects further scheduling and waits
// for in-flight deliveries until ctx is done; then it aborts them.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	n := s.CancelAll()
	s.log.Info("reminder scheduler stopping", logx.Int("cancelled", n))

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	defer s.runCancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) publish(rec Record) {
	s.bus.Publish(eventbus.Event{Type: EventType(rec.State), Time: rec.UpdatedAt, Data: Event{Record: rec}})
}
