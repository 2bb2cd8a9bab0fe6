package eventbus

import (
	"testing"
	"time"
)

func TestFanoutAndDrop(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(4)
	slow, unsubSlow := b.Subscribe(1)
	defer unsubSlow()

	b.Publish(Event{Type: "reminder.pending"})
	b.Publish(Event{Type: "reminder.delivered"})

	for _, want := range []string{"reminder.pending", "reminder.delivered"} {
		select {
		case e := <-a:
			if e.Type != want || e.Time.IsZero() {
				t.Fatalf("got %+v, want %s with time", e, want)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
	// The slow subscriber kept the first event and dropped the second.
	if e := <-slow; e.Type != "reminder.pending" {
		t.Fatalf("slow got %s", e.Type)
	}
	select {
	case e := <-slow:
		t.Fatalf("unexpected %s", e.Type)
	default:
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatal("channel open after unsubscribe")
	}
	b.Publish(Event{Type: "after"})
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	var b Bus = Discard{}
	b.Publish(Event{Type: "x"})
	ch, unsub := b.Subscribe(1)
	defer unsub()
	if _, ok := <-ch; ok {
		t.Fatal("discard channel should be closed")
	}
}
