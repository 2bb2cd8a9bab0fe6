package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory keeps subscribers in a map. Deliveries are counted, not kept.
type Memory struct {
	mu         sync.Mutex
	subs       map[int64]Subscriber
	deliveries int
	closed     bool
}

func NewMemory() *Memory { return &Memory{subs: map[int64]Subscriber{}} }

func (m *Memory) AddSubscriber(_ context.Context, sub Subscriber) (bool, error) {
	if sub.ChatID == 0 {
		return false, ErrBadChatID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	old, exists := m.subs[sub.ChatID]
	sub = mergeSubscriber(old, sub, exists)
	m.subs[sub.ChatID] = sub
	return !exists, nil
}

func (m *Memory) RemoveSubscriber(_ context.Context, chatID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.subs[chatID]
	delete(m.subs, chatID)
	return ok, nil
}

func (m *Memory) ListSubscribers(context.Context) ([]Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return sortedSubscribers(m.subs), nil
}

func (m *Memory) AppendDelivery(context.Context, Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.deliveries++
	return nil
}

// Deliveries reports how many outcomes were appended.
func (m *Memory) Deliveries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deliveries
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// mergeSubscriber keeps the original subscription time on refresh.
func mergeSubscriber(old, sub Subscriber, exists bool) Subscriber {
	switch {
	case exists && !old.SubscribedAt.IsZero():
		sub.SubscribedAt = old.SubscribedAt
	case sub.SubscribedAt.IsZero():
		sub.SubscribedAt = time.Now().UTC()
	}
	return sub
}

func sortedSubscribers(m map[int64]Subscriber) []Subscriber {
	out := make([]Subscriber, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}
