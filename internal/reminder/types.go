package reminder

import (
	"context"
	"errors"
	"time"

	"namazbot/internal/prayer"
)

var ErrStopped = errors.New("reminder scheduler stopped")

// Subscriber identifies who receives reminders (a Telegram chat id).
type Subscriber int64

type State int

const (
	Pending State = iota + 1
	Fired
	Delivered
	Failed
	Skipped
	Cancelled
)

var stateNames = map[State]string{
	Pending:   "pending",
	Fired:     "fired",
	Delivered: "delivered",
	Failed:    "failed",
	Skipped:   "skipped",
	Cancelled: "cancelled",
}

// States lists all states, in lifecycle order.
var States = []State{Pending, Fired, Delivered, Failed, Skipped, Cancelled}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == Delivered || s == Failed || s == Skipped || s == Cancelled
}

// Record is one computed reminder.
type Record struct {
	ID         string
	Subscriber Subscriber
	Kind       prayer.Kind
	Date       prayer.Date
	EventTime  time.Time // prayer start
	FireAt     time.Time // EventTime - offset
	State      State
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Dispatcher performs the actual delivery when a reminder fires.
// It must be safe for concurrent use across unrelated records.
type Dispatcher interface {
	Deliver(ctx context.Context, sub Subscriber, kind prayer.Kind, eventTime time.Time) error
}

// Pacer is implemented by dispatchers that throttle outgoing deliveries.
// The scheduler waits on it with its run context before the DeliveryTimeout
// starts, so queueing behind other reminders never fails a delivery.
type Pacer interface {
	Wait(ctx context.Context) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, sub Subscriber, kind prayer.Kind, eventTime time.Time) error

func (f DispatcherFunc) Deliver(ctx context.Context, sub Subscriber, kind prayer.Kind, eventTime time.Time) error {
	return f(ctx, sub, kind, eventTime)
}

// Config controls the scheduler.
type Config struct {
	// Offset is subtracted from each prayer time. Must be >= 0.
	Offset time.Duration
	// Timezone is the IANA zone the schedule's wall-clock times are in, e.g. "Asia/Tomsk".
	Timezone string
	// DeliveryTimeout bounds one Dispatcher call, not the Pacer wait before
	// it; 0 disables the bound.
	DeliveryTimeout time.Duration
}

// ConfigError reports an invalid scheduler configuration.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string { return "reminder config: " + e.Field + ": " + e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

// Event is the payload published on the event bus for every state transition.
type Event struct {
	Record Record
}

// EventPrefix prefixes event bus types, e.g. "reminder.delivered".
const EventPrefix = "reminder."

func EventType(s State) string { return EventPrefix + s.String() }

// Snapshot summarizes the record table.
type Snapshot struct {
	Timezone string
	Offset   time.Duration
	Counts   map[State]int
	Pending  int
}
