package app

import (
	"context"
	"time"

	"namazbot/internal/eventbus"
	"namazbot/internal/reminder"
	rtsup "namazbot/internal/runtime/supervisor"
	"namazbot/internal/storage"
	logx "namazbot/pkg/logx"
)

// deliveryOf maps a reminder event to a journal entry. Only delivery
// outcomes are journaled; scheduling, skips and cancellations are not.
func deliveryOf(e eventbus.Event) (storage.Delivery, bool) {
	ev, ok := e.Data.(reminder.Event)
	if !ok {
		return storage.Delivery{}, false
	}
	rec := ev.Record
	if rec.State != reminder.Delivered && rec.State != reminder.Failed {
		return storage.Delivery{}, false
	}
	at := rec.UpdatedAt
	if at.IsZero() {
		at = e.Time
	}
	return storage.Delivery{
		At:        at,
		RecordID:  rec.ID,
		ChatID:    int64(rec.Subscriber),
		Kind:      rec.Kind.String(),
		Date:      rec.Date.String(),
		EventTime: rec.EventTime,
		State:     rec.State.String(),
		Error:     rec.Error,
	}, true
}

// journal persists delivery outcomes published on the bus. It keeps reading
// after the app context is cancelled, so outcomes of deliveries that finish
// during shutdown are still written; Close ends it.
type journal struct {
	unsub func()
	done  chan struct{}
}

func startJournal(sup *rtsup.Supervisor, bus eventbus.Bus, store storage.Store, log logx.Logger) *journal {
	events, unsub := bus.Subscribe(256)
	j := &journal{unsub: unsub, done: make(chan struct{})}
	sup.Go0("deliveries.journal", func(context.Context) {
		defer close(j.done)
		journalDeliveries(events, store, log)
	})
	return j
}

// Close unsubscribes and waits until buffered outcomes are written.
func (j *journal) Close(ctx context.Context) error {
	j.unsub()
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// journalDeliveries appends delivery outcomes to the store until the
// subscription closes.
func journalDeliveries(events <-chan eventbus.Event, store storage.Store, log logx.Logger) {
	for e := range events {
		d, ok := deliveryOf(e)
		if !ok {
			continue
		}
		wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := store.AppendDelivery(wctx, d)
		cancel()
		if err != nil {
			log.Warn("journal delivery failed",
				logx.String("record_id", d.RecordID),
				logx.Int64("chat_id", d.ChatID),
				logx.Err(err))
		}
	}
}
