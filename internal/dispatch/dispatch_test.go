package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"namazbot/internal/bot"
	"namazbot/internal/prayer"
	"namazbot/internal/reminder"
	kit "namazbot/internal/transport"
)

type sentMessage struct {
	to   kit.ChatTarget
	text string
	opt  *kit.SendOptions
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return kit.MessageRef{}, f.err
	}
	f.sent = append(f.sent, sentMessage{to: to, text: text, opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func TestDeliverRendersReminder(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	kb := bot.MainKeyboard()
	d, err := New(s, Options{Offset: 5 * time.Minute, Keyboard: kb})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	loc := time.FixedZone("TOMT", 7*3600)
	at := time.Date(2025, time.March, 3, 19, 20, 0, 0, loc)
	if err := d.Deliver(context.Background(), 42, prayer.Maghrib, at); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}

	if len(s.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(s.sent))
	}
	msg := s.sent[0]
	if msg.to.ChatID != 42 {
		t.Fatalf("chat = %d, want 42", msg.to.ChatID)
	}
	want := "До намаза <b>Магриб</b> осталось 5 минут! <i>Время намаза:</i> <b>19:20</b>"
	if msg.text != want {
		t.Fatalf("text = %q\nwant   %q", msg.text, want)
	}
	if msg.opt.ParseMode != "HTML" || msg.opt.Keyboard != kb {
		t.Fatalf("unexpected options: %+v", msg.opt)
	}
}

func TestDeliverPropagatesSendError(t *testing.T) {
	t.Parallel()
	boom := errors.New("forbidden: bot was blocked by the user")
	d, err := New(&fakeSender{err: boom}, Options{Offset: time.Minute})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	err = d.Deliver(context.Background(), 7, prayer.Fajr, time.Now())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped send error", err)
	}
	if !strings.Contains(err.Error(), "send to 7") {
		t.Fatalf("err = %v, want chat id in message", err)
	}
}

func TestWaitHonorsContextWhileRateLimited(t *testing.T) {
	t.Parallel()
	d, err := New(&fakeSender{}, Options{RatePerSec: 0.001})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	// First call consumes the single burst token.
	if err := d.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Wait(ctx); err == nil {
		t.Fatal("expected rate limit error once ctx expires")
	}
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestSharedFireMomentQueuesInsteadOfFailing(t *testing.T) {
	t.Parallel()
	const subs = 30
	s := &fakeSender{}
	// 20 msg/s with a 100ms delivery timeout: the last 10 reminders queue for
	// up to 500ms, well past the timeout.
	d, err := New(s, Options{RatePerSec: 20})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	clock := clockwork.NewFakeClockAt(time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC))
	sched, err := reminder.New(reminder.Config{Offset: 5 * time.Minute, Timezone: "UTC", DeliveryTimeout: 100 * time.Millisecond},
		d, reminder.WithClock(clock))
	if err != nil {
		t.Fatalf("reminder.New: %v", err)
	}
	t.Cleanup(func() { _ = sched.Stop(context.Background()) })

	day := prayer.DaySchedule{
		Date:   prayer.Date{Year: 2025, Month: time.March, Day: 3},
		Events: []prayer.EventTime{{Kind: prayer.Dhuhr, At: prayer.TimeOfDay{Hour: 12, Minute: 30}}},
	}
	for i := 1; i <= subs; i++ {
		if _, err := sched.Schedule(reminder.Subscriber(i), day, sched.Now()); err != nil {
			t.Fatalf("Schedule: %v", err)
		}
	}
	clock.Advance(25 * time.Minute)

	deadline := time.Now().Add(5 * time.Second)
	for {
		counts := sched.Snapshot().Counts
		delivered, failed := counts[reminder.Delivered], counts[reminder.Failed]
		if delivered+failed == subs {
			for _, rec := range sched.All() {
				if rec.State == reminder.Failed {
					t.Fatalf("failed = %d, first error: %s", failed, rec.Error)
				}
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out: %v", counts)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n := s.count(); n != subs {
		t.Fatalf("sent = %d, want %d", n, subs)
	}
}

func TestNewRejectsNilSender(t *testing.T) {
	t.Parallel()
	if _, err := New(nil, Options{}); err == nil {
		t.Fatal("expected error for nil sender")
	}
}
