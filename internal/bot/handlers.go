package bot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"namazbot/internal/prayer"
	"namazbot/internal/reminder"
	"namazbot/internal/storage"
	kit "namazbot/internal/transport"
	logx "namazbot/pkg/logx"
	"namazbot/pkg/tgui"
)

// Scheduler is the part of the reminder scheduler the handlers use.
type Scheduler interface {
	Schedule(sub reminder.Subscriber, day prayer.DaySchedule, now time.Time) ([]reminder.Record, error)
	Cancel(sub reminder.Subscriber) int
	Now() time.Time
	Offset() time.Duration
}

// Timetable answers schedule lookups.
type Timetable interface {
	GetDaySchedule(date prayer.Date) (prayer.DaySchedule, bool)
	Month(year int, month time.Month) []prayer.DaySchedule
}

// PhotoSender uploads images; the Telegram adapter implements it.
type PhotoSender interface {
	SendPhoto(ctx context.Context, to kit.ChatTarget, path string, caption string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Options are the user-facing settings of the handlers.
type Options struct {
	AdminChatID int64
	MonthImage  string
	Contact     string
	Signature   string
}

// Deps wires the handlers.
type Deps struct {
	Sender    kit.Sender
	Photos    PhotoSender // optional; without it /month answers in text
	Store     storage.Store
	Scheduler Scheduler
	Timetable Timetable
	Log       logx.Logger
	// OnSubscribersChanged runs after a successful /start or /stop.
	OnSubscribersChanged func(ctx context.Context)
}

// Handlers implements the chat commands.
type Handlers struct {
	d        Deps
	keyboard *kit.Keyboard

	mu  sync.RWMutex
	opt Options
}

func NewHandlers(d Deps, opt Options) (*Handlers, error) {
	switch {
	case d.Sender == nil:
		return nil, errors.New("bot: sender is nil")
	case d.Store == nil:
		return nil, errors.New("bot: store is nil")
	case d.Scheduler == nil:
		return nil, errors.New("bot: scheduler is nil")
	case d.Timetable == nil:
		return nil, errors.New("bot: timetable is nil")
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Handlers{d: d, keyboard: MainKeyboard(), opt: opt}, nil
}

// SetOptions swaps the options; used on config reload.
func (h *Handlers) SetOptions(opt Options) {
	h.mu.Lock()
	h.opt = opt
	h.mu.Unlock()
}

func (h *Handlers) options() Options {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.opt
}

// Routes returns the command table.
func (h *Handlers) Routes() []Route {
	return []Route{
		{Command: "start", Description: "Включить уведомления", Timeout: 20 * time.Second, Handle: h.Start},
		{Command: "today", Buttons: []string{ButtonToday}, Description: "Расписание на сегодня", Timeout: 15 * time.Second, Handle: h.Today},
		{Command: "month", Buttons: []string{ButtonMonth}, Description: "Расписание на месяц", Timeout: 60 * time.Second, Handle: h.Month},
		{Command: "stop", Description: "Отключить уведомления", Timeout: 15 * time.Second, Handle: h.Stop},
	}
}

func (h *Handlers) reply(ctx context.Context, req *Request, text tgui.H) error {
	_, err := tgui.New().Keyboard(h.keyboard).HTML(text).Build().Send(ctx, h.d.Sender, req.Chat)
	return err
}

// Start subscribes the chat and arms today's reminders.
func (h *Handlers) Start(ctx context.Context, req *Request) error {
	m := req.Message
	created, err := h.d.Store.AddSubscriber(ctx, storage.Subscriber{
		ChatID:       m.ChatID,
		Username:     m.FromUsername,
		FirstName:    m.FromFirstName,
		SubscribedAt: h.d.Scheduler.Now(),
	})
	if err != nil {
		return fmt.Errorf("add subscriber: %w", err)
	}

	now := h.d.Scheduler.Now()
	today := prayer.DateOf(now)
	if day, ok := h.d.Timetable.GetDaySchedule(today); ok {
		if _, err := h.d.Scheduler.Schedule(reminder.Subscriber(m.ChatID), day, now); err != nil {
			req.Log.Warn("schedule today failed", logx.Err(err))
		}
	} else {
		req.Log.Warn("no schedule for today", logx.String("date", today.String()))
	}

	if err := h.reply(ctx, req, WelcomeText(h.d.Scheduler.Offset())); err != nil {
		return err
	}
	if created {
		req.Log.Info("subscriber added")
		if h.d.OnSubscribersChanged != nil {
			h.d.OnSubscribersChanged(ctx)
		}
		h.notifyAdmin(ctx, req)
	}
	return nil
}

func (h *Handlers) notifyAdmin(ctx context.Context, req *Request) {
	admin := h.options().AdminChatID
	if admin == 0 || admin == req.Message.ChatID {
		return
	}
	msg := tgui.New().HTML(AdminNewUserText(req.Message)).Build()
	if _, err := msg.Send(ctx, h.d.Sender, kit.ChatTarget{ChatID: admin}); err != nil {
		req.Log.Warn("admin notify failed", logx.Err(err))
	}
}

// Today sends the current day's schedule.
func (h *Handlers) Today(ctx context.Context, req *Request) error {
	today := prayer.DateOf(h.d.Scheduler.Now())
	day, ok := h.d.Timetable.GetDaySchedule(today)
	if !ok {
		return h.reply(ctx, req, tgui.Raw(TextTodayNotFound))
	}
	return h.reply(ctx, req, TodayText(day, h.options().Contact))
}

// Month sends the month image. Without a configured image it falls back to a
// text table; a configured but missing image yields the not-found text.
func (h *Handlers) Month(ctx context.Context, req *Request) error {
	opt := h.options()
	now := h.d.Scheduler.Now()
	year, month := now.Year(), now.Month()

	img := strings.TrimSpace(opt.MonthImage)
	if img == "" || h.d.Photos == nil {
		days := h.d.Timetable.Month(year, month)
		if len(days) == 0 {
			return h.reply(ctx, req, tgui.Esc(TextMonthNotFound))
		}
		return h.reply(ctx, req, MonthText(year, month, days))
	}

	if _, err := os.Stat(img); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			req.Log.Warn("month image missing", logx.String("path", img))
			return h.reply(ctx, req, tgui.Esc(TextMonthNotFound))
		}
		return fmt.Errorf("stat month image: %w", err)
	}
	_, err := h.d.Photos.SendPhoto(ctx, req.Chat, img, MonthCaption(year, month, opt.Signature), &kit.SendOptions{Keyboard: h.keyboard})
	return err
}

// Stop unsubscribes the chat and cancels its pending reminders.
func (h *Handlers) Stop(ctx context.Context, req *Request) error {
	removed, err := h.d.Store.RemoveSubscriber(ctx, req.Message.ChatID)
	if err != nil {
		return fmt.Errorf("remove subscriber: %w", err)
	}
	n := h.d.Scheduler.Cancel(reminder.Subscriber(req.Message.ChatID))
	if !removed && n == 0 {
		return h.reply(ctx, req, tgui.Esc(TextNotSubscribed))
	}
	req.Log.Info("subscriber removed", logx.Int("cancelled", n))
	if h.d.OnSubscribersChanged != nil {
		h.d.OnSubscribersChanged(ctx)
	}
	return h.reply(ctx, req, tgui.Esc(TextStopped))
}

// Unknown answers text that matches no command.
func (h *Handlers) Unknown(ctx context.Context, req *Request) error {
	return h.reply(ctx, req, tgui.Esc(TextUnknown))
}
