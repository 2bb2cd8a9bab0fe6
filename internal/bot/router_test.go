package bot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"namazbot/internal/prayer"
	"namazbot/internal/reminder"
	"namazbot/internal/storage"
	"namazbot/internal/timetable"
	kit "namazbot/internal/transport"
	logx "namazbot/pkg/logx"
)

type sent struct {
	Chat    int64
	Text    string
	Photo   string
	Options *kit.SendOptions
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []sent
	ch   chan sent
}

func newFakeSender() *fakeSender { return &fakeSender{ch: make(chan sent, 16)} }

func (f *fakeSender) record(s sent) {
	f.mu.Lock()
	f.msgs = append(f.msgs, s)
	f.mu.Unlock()
	select {
	case f.ch <- s:
	default:
	}
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.record(sent{Chat: to.ChatID, Text: text, Options: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeSender) SendPhoto(_ context.Context, to kit.ChatTarget, path, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.record(sent{Chat: to.ChatID, Text: caption, Photo: path, Options: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 2}, nil
}

func (f *fakeSender) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.msgs...)
}

func (f *fakeSender) last(t *testing.T) sent {
	t.Helper()
	all := f.all()
	if len(all) == 0 {
		t.Fatal("nothing sent")
	}
	return all[len(all)-1]
}

var testDate = prayer.Date{Year: 2025, Month: time.March, Day: 3}

func testTable() timetable.Table {
	at := func(h, m int) prayer.TimeOfDay { return prayer.TimeOfDay{Hour: h, Minute: m} }
	return timetable.Table{
		testDate: {Date: testDate, Events: []prayer.EventTime{
			{Kind: prayer.Fajr, At: at(5, 40)},
			{Kind: prayer.Dhuhr, At: at(12, 30)},
			{Kind: prayer.Asr, At: at(15, 10)},
			{Kind: prayer.Maghrib, At: at(19, 20)},
			{Kind: prayer.Isha, At: at(21, 0)},
		}},
	}
}

type fixture struct {
	h      *Handlers
	sender *fakeSender
	store  *storage.Memory
	sched  *reminder.Scheduler
}

func newFixture(t *testing.T, opt Options) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, time.March, 3, 13, 0, 0, 0, time.UTC))
	sched, err := reminder.New(reminder.Config{Offset: 5 * time.Minute, Timezone: "UTC"},
		reminder.DispatcherFunc(func(context.Context, reminder.Subscriber, prayer.Kind, time.Time) error { return nil }),
		reminder.WithClock(clock))
	if err != nil {
		t.Fatalf("reminder.New: %v", err)
	}
	t.Cleanup(func() { _ = sched.Stop(context.Background()) })

	sender := newFakeSender()
	store := storage.NewMemory()
	h, err := NewHandlers(Deps{
		Sender:    sender,
		Photos:    sender,
		Store:     store,
		Scheduler: sched,
		Timetable: timetable.FromTable(testTable()),
		Log:       logx.Nop(),
	}, opt)
	if err != nil {
		t.Fatalf("NewHandlers: %v", err)
	}
	return &fixture{h: h, sender: sender, store: store, sched: sched}
}

func request(chat int64, text string) *Request {
	return &Request{
		Message: &kit.Message{ChatID: chat, FromID: chat, FromFirstName: "Али", FromUsername: "ali", Text: text},
		Chat:    kit.ChatTarget{ChatID: chat},
		Log:     logx.Nop(),
	}
}

func TestRouterMatch(t *testing.T) {
	t.Parallel()
	r := NewRouter(newFakeSender(), logx.Nop())
	noop := func(context.Context, *Request) error { return nil }
	r.Register(
		Route{Command: "today", Buttons: []string{ButtonToday}, Description: "d", Handle: noop},
		Route{Command: "/Stop", Handle: noop},
		Route{Command: "ignored"},
	)

	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"/today", "today", true},
		{"/today@namaz_bot", "today", true},
		{"  /TODAY extra", "today", true},
		{ButtonToday, "today", true},
		{"/stop", "/Stop", true},
		{"/ignored", "", false},
		{"today", "", false},
		{"/month", "", false},
	}
	for _, tt := range tests {
		rt, _, ok := r.match(tt.text)
		if ok != tt.ok || (ok && rt.Command != tt.want) {
			t.Errorf("match(%q) = %q,%v; want %q,%v", tt.text, rt.Command, ok, tt.want, tt.ok)
		}
	}
	if menu := r.Menu(); len(menu) != 1 || menu[0].Command != "today" {
		t.Fatalf("menu = %+v", menu)
	}
}

func TestDispatchLoopRoutesAndFallsBack(t *testing.T) {
	t.Parallel()
	sender := newFakeSender()
	r := NewRouter(sender, logx.Nop(), WithWorkers(2), WithFallback(func(ctx context.Context, req *Request) error {
		_, err := sender.SendText(ctx, req.Chat, "fallback", nil)
		return err
	}))
	r.Register(Route{Command: "ping", Handle: func(ctx context.Context, req *Request) error {
		_, err := sender.SendText(ctx, req.Chat, "pong "+strings.Join(req.Args, ","), nil)
		return err
	}})

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 4)
	done := make(chan error, 1)
	go func() { done <- r.DispatchLoop(ctx, updates) }()

	updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 7, Text: "/ping a b"}}
	updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 8, Text: "hello"}}

	got := map[int64]string{}
	for len(got) < 2 {
		select {
		case s := <-sender.ch:
			got[s.Chat] = s.Text
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %v", got)
		}
	}
	if got[7] != "pong a,b" || got[8] != "fallback" {
		t.Fatalf("got %v", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("DispatchLoop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("DispatchLoop did not stop")
	}
}

func TestMWPanicRecover(t *testing.T) {
	t.Parallel()
	h := Chain(func(context.Context, *Request) error { panic("boom") }, MWPanicRecover(), MWRequestLog())
	if err := h(context.Background(), request(1, "/x")); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v", err)
	}
}

func TestStartSubscribesAndSchedules(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{AdminChatID: 99})
	ctx := context.Background()

	if err := f.h.Start(ctx, request(42, "/start")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	subs, _ := f.store.ListSubscribers(ctx)
	if len(subs) != 1 || subs[0].ChatID != 42 || subs[0].FirstName != "Али" {
		t.Fatalf("subscribers = %+v", subs)
	}

	recs := f.sched.Records(42)
	states := map[prayer.Kind]reminder.State{}
	for _, r := range recs {
		states[r.Kind] = r.State
	}
	// 13:00 now: fajr and dhuhr are past, the rest pending.
	want := map[prayer.Kind]reminder.State{
		prayer.Fajr: reminder.Skipped, prayer.Dhuhr: reminder.Skipped,
		prayer.Asr: reminder.Pending, prayer.Maghrib: reminder.Pending, prayer.Isha: reminder.Pending,
	}
	for k, s := range want {
		if states[k] != s {
			t.Errorf("%s state = %s, want %s", k, states[k], s)
		}
	}

	msgs := f.sender.all()
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want welcome + admin", len(msgs))
	}
	if msgs[0].Chat != 42 || !strings.Contains(msgs[0].Text, "Бот активирован") || msgs[0].Options.Keyboard == nil {
		t.Fatalf("welcome = %+v", msgs[0])
	}
	if msgs[1].Chat != 99 || !strings.Contains(msgs[1].Text, "42") {
		t.Fatalf("admin notice = %+v", msgs[1])
	}

	// A repeated /start neither duplicates reminders nor pings the admin.
	if err := f.h.Start(ctx, request(42, "/start")); err != nil {
		t.Fatalf("Start again: %v", err)
	}
	if n := len(f.sched.Records(42)); n != 5 {
		t.Fatalf("records = %d, want 5", n)
	}
	if n := len(f.sender.all()); n != 3 {
		t.Fatalf("sent %d messages, want 3", n)
	}
}

func TestTodayAndNotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{Contact: "@admin"})
	ctx := context.Background()

	if err := f.h.Today(ctx, request(1, ButtonToday)); err != nil {
		t.Fatalf("Today: %v", err)
	}
	got := f.sender.last(t)
	for _, want := range []string{"3 марта 2025", "Магриб:</b> 19:20", "@admin"} {
		if !strings.Contains(got.Text, want) {
			t.Errorf("today text missing %q:\n%s", want, got.Text)
		}
	}

	empty := newFixture(t, Options{})
	empty.h.d.Timetable = timetable.FromTable(timetable.Table{})
	if err := empty.h.Today(ctx, request(1, "/today")); err != nil {
		t.Fatalf("Today: %v", err)
	}
	if got := empty.sender.last(t).Text; got != TextTodayNotFound {
		t.Fatalf("text = %q", got)
	}
}

func TestMonth(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("image", func(t *testing.T) {
		t.Parallel()
		img := filepath.Join(t.TempDir(), "month.jpg")
		if err := os.WriteFile(img, []byte("jpg"), 0o644); err != nil {
			t.Fatal(err)
		}
		f := newFixture(t, Options{MonthImage: img, Signature: "sig"})
		if err := f.h.Month(ctx, request(1, ButtonMonth)); err != nil {
			t.Fatalf("Month: %v", err)
		}
		got := f.sender.last(t)
		if got.Photo != img || !strings.Contains(got.Text, "Март 2025") || !strings.HasSuffix(got.Text, "sig") {
			t.Fatalf("photo = %+v", got)
		}
	})

	t.Run("missing image", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, Options{MonthImage: filepath.Join(t.TempDir(), "nope.jpg")})
		if err := f.h.Month(ctx, request(1, "/month")); err != nil {
			t.Fatalf("Month: %v", err)
		}
		if got := f.sender.last(t); got.Photo != "" || got.Text != TextMonthNotFound {
			t.Fatalf("got %+v", got)
		}
	})

	t.Run("text table", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, Options{})
		if err := f.h.Month(ctx, request(1, "/month")); err != nil {
			t.Fatalf("Month: %v", err)
		}
		got := f.sender.last(t)
		if got.Photo != "" || !strings.Contains(got.Text, "03.03 05:40 12:30 15:10 19:20 21:00") {
			t.Fatalf("got %q", got.Text)
		}
	})
}

func TestStop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	ctx := context.Background()

	if err := f.h.Stop(ctx, request(5, "/stop")); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := f.sender.last(t).Text; got != TextNotSubscribed {
		t.Fatalf("text = %q", got)
	}

	if err := f.h.Start(ctx, request(5, "/start")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.h.Stop(ctx, request(5, "/stop")); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := f.sender.last(t).Text; got != TextStopped {
		t.Fatalf("text = %q", got)
	}
	for _, r := range f.sched.Records(5) {
		if r.State == reminder.Pending {
			t.Fatalf("record %s still pending", r.Kind)
		}
	}
	if subs, _ := f.store.ListSubscribers(ctx); len(subs) != 0 {
		t.Fatalf("subscribers = %+v", subs)
	}
}

func TestNewHandlersRequiresDeps(t *testing.T) {
	t.Parallel()
	if _, err := NewHandlers(Deps{}, Options{}); err == nil {
		t.Fatal("expected error")
	}
}
