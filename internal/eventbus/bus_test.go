package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Topic: "a", Data: 1})
	b.Publish(Event{Topic: "b", Data: 2})

	got := recv(t, ch)
	if got.Topic != "a" {
		t.Fatalf("Topic = %q, want a", got.Topic)
	}
	if got.Time.IsZero() {
		t.Fatal("Time not stamped on publish")
	}
	if got = recv(t, ch); got.Topic != "b" {
		t.Fatalf("Topic = %q, want b", got.Topic)
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	// Nobody reads; the second publish must not block.
	done := make(chan struct{})
	go func() {
		b.Publish(Event{Topic: "x"})
		b.Publish(Event{Topic: "y"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if got := recv(t, ch); got.Topic != "x" {
		t.Fatalf("Topic = %q, want x", got.Topic)
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected extra event %q", ev.Topic)
	default:
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	_ = ch
	unsub()
	unsub() // idempotent

	// Publishing after unsubscribe must not panic even though the channel
	// is closed.
	b.Publish(Event{Topic: "after"})
}

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}
