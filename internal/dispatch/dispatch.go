// Package dispatch delivers fired reminders to Telegram chats.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"namazbot/internal/bot"
	"namazbot/internal/prayer"
	"namazbot/internal/reminder"
	kit "namazbot/internal/transport"
	logx "namazbot/pkg/logx"
)

// DefaultRatePerSec stays under Telegram's ~30 msg/s global bot limit.
const DefaultRatePerSec = 25

type Options struct {
	// Offset is the lead time shown in the message text.
	Offset time.Duration
	// Keyboard is attached to every reminder; nil sends none.
	Keyboard *kit.Keyboard
	// RatePerSec limits outgoing messages; <= 0 uses DefaultRatePerSec.
	RatePerSec float64
	Log        logx.Logger
}

// Telegram implements reminder.Dispatcher on top of a transport Sender.
// Safe for concurrent use.
type Telegram struct {
	sender  kit.Sender
	offset  time.Duration
	kb      *kit.Keyboard
	limiter *rate.Limiter
	log     logx.Logger
}

var _ reminder.Dispatcher = (*Telegram)(nil)

func New(sender kit.Sender, opt Options) (*Telegram, error) {
	if sender == nil {
		return nil, errors.New("dispatch: nil sender")
	}
	rps := opt.RatePerSec
	if rps <= 0 {
		rps = DefaultRatePerSec
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Telegram{
		sender:  sender,
		offset:  opt.Offset,
		kb:      opt.Keyboard,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     log.With(logx.String("comp", "dispatch")),
	}, nil
}

var _ reminder.Pacer = (*Telegram)(nil)

// Wait blocks until the rate limiter admits one more message or ctx is done.
// The scheduler calls it before Deliver; Deliver itself does not throttle.
func (d *Telegram) Wait(ctx context.Context) error {
	return d.limiter.Wait(ctx)
}

// Deliver sends one reminder.
func (d *Telegram) Deliver(ctx context.Context, sub reminder.Subscriber, kind prayer.Kind, eventTime time.Time) error {
	text := bot.ReminderText(kind, d.offset, eventTime)
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, Keyboard: d.kb}
	ref, err := d.sender.SendText(ctx, kit.ChatTarget{ChatID: int64(sub)}, text.String(), opt)
	if err != nil {
		return fmt.Errorf("send to %d: %w", int64(sub), err)
	}
	d.log.Debug("reminder sent",
		logx.Int64("chat_id", ref.ChatID),
		logx.Int("message_id", ref.MessageID),
		logx.String("kind", kind.String()),
	)
	return nil
}
