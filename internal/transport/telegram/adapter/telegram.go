package adapter

import (
	"context"
	"errors"
	"hash/fnv"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "namazbot/internal/runtime/supervisor"
	kit "namazbot/internal/transport"
	logx "namazbot/pkg/logx"
	"namazbot/pkg/tgui"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// Offline skips the getMe call on construction (tests, dry runs).
	Offline bool
}

// Adapter bridges telebot to the transport interfaces.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop and the drop reporter; created on Start.
	sup *rtsup.Supervisor

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop. Reported periodically to avoid log spam.
	droppedUpdates uint64

	menuMu   sync.Mutex
	menuHash uint64
}

var (
	_ kit.Adapter            = (*Adapter)(nil)
	_ kit.CommandMenuUpdater = (*Adapter)(nil)
)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: cfg.Offline,
		OnError: func(err error, c tele.Context) {
			log.Warn("telebot handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{cfg: cfg, log: log.With(logx.String("comp", "telegram")), bot: b}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)

	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		if up, ok := toUpdate(c.Message()); ok {
			a.sendUpdate(up)
		}
		return nil
	})
	return a, nil
}

func toUpdate(m *tele.Message) (kit.Update, bool) {
	if m == nil || m.Chat == nil {
		return kit.Update{}, false
	}
	msg := &kit.Message{ID: m.ID, ChatID: m.Chat.ID, Text: m.Text}
	if m.Sender != nil {
		msg.FromID = m.Sender.ID
		msg.FromUsername = m.Sender.Username
		msg.FromFirstName = m.Sender.FirstName
	}
	return kit.Update{Kind: kit.UpdateMessage, Message: msg}, true
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		// adapter errors should not take down the whole app.
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// telebot's Start blocks until Stop; restart it if it returns early.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()

	// Keep shutdown snappy even if getUpdates long-poll is still waiting.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) sendOptions(opt *kit.SendOptions) *tele.SendOptions {
	so := &tele.SendOptions{
		ParseMode:             tele.ParseMode(opt.ParseMode),
		DisableWebPagePreview: opt.DisablePreview,
	}
	if opt.Keyboard != nil {
		so.ReplyMarkup = replyMarkup(opt.Keyboard)
	}
	return so
}

func replyMarkup(kb *kit.Keyboard) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{ResizeKeyboard: kb.Resize}
	rows := make([]tele.Row, 0, len(kb.Rows))
	for _, labels := range kb.Rows {
		btns := make([]tele.Btn, 0, len(labels))
		for _, l := range labels {
			btns = append(btns, rm.Text(l))
		}
		rows = append(rows, rm.Row(btns...))
	}
	rm.Reply(rows...)
	return rm
}

// SendText sends text, split into several messages when it exceeds Telegram's
// limit. The keyboard is attached to the first chunk only.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range tgui.SplitLines(text, tgui.MaxMessageLen-96) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		so := a.sendOptions(opt)
		if i > 0 {
			so.ReplyMarkup = nil
		}
		msg, err := a.bot.Send(chat, chunk, so)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) SendPhoto(ctx context.Context, to kit.ChatTarget, path string, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	if _, err := os.Stat(path); err != nil {
		return kit.MessageRef{}, err
	}
	photo := &tele.Photo{File: tele.FromDisk(path), Caption: tgui.TruncRunes(caption, 1024)}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, photo, a.sendOptions(opt))
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

// UpdateMenuCommands sets the bot's command menu (setMyCommands).
// It only calls Telegram when the list changes.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	list := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(d))
		h.Write([]byte{0})
		list = append(list, tele.Command{Text: c.Command, Description: tgui.TruncRunes(d, 256)})
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(list); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}
