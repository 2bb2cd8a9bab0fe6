package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed    = errors.New("storage closed")
	ErrBadChatID = errors.New("storage: chat id must be non-zero")
)

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Subscriber is a chat that receives reminders.
type Subscriber struct {
	ChatID       int64     `json:"chat_id"`
	Username     string    `json:"username,omitempty"`
	FirstName    string    `json:"first_name,omitempty"`
	SubscribedAt time.Time `json:"subscribed_at"`
}

// Delivery records the final outcome of one reminder.
// Keep it compact and schema-stable.
type Delivery struct {
	At        time.Time `json:"at"`
	RecordID  string    `json:"record_id"`
	ChatID    int64     `json:"chat_id"`
	Kind      string    `json:"kind"`
	Date      string    `json:"date"`
	EventTime time.Time `json:"event_time"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
}

// Store is the persistence API used by the app and the bot.
type Store interface {
	// AddSubscriber inserts or refreshes sub. created is false when the chat
	// was already subscribed.
	AddSubscriber(ctx context.Context, sub Subscriber) (created bool, err error)
	// RemoveSubscriber deletes the chat; removed is false when it was unknown.
	RemoveSubscriber(ctx context.Context, chatID int64) (removed bool, err error)
	// ListSubscribers returns every subscriber ordered by chat id.
	ListSubscribers(ctx context.Context) ([]Subscriber, error)
	AppendDelivery(ctx context.Context, d Delivery) error
	Close() error
}
