package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestSubscribeFiltersByType(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4, MatchesTracked)
	defer unsub()

	b.Publish(Event{Type: "log.line"})
	b.Publish(Event{Type: MatchesTracked, Data: 2})

	select {
	case e := <-ch:
		if e.Type != MatchesTracked {
			t.Fatalf("unexpected event %q", e.Type)
		}
		if e.Time.IsZero() {
			t.Fatal("expected publish time to be stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected extra event %q", e.Type)
	default:
	}
}

func TestPublishCoalescesWhenFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()
	for i := 0; i < 10; i++ {
		b.Publish(Event{Type: MatchesTracked})
	}
	if len(ch) != 1 {
		t.Fatalf("buffer len = %d, want 1", len(ch))
	}
	Drain(ch)
	if len(ch) != 0 {
		t.Fatal("Drain left events behind")
	}
}

func TestWaitAnyTimesOut(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()
	start := time.Now()
	if WaitAny(context.Background(), ch, 20*time.Millisecond) {
		t.Fatal("expected timeout")
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatal("returned too early")
	}
	b.Publish(Event{Type: ResultsRequested})
	if !WaitAny(context.Background(), ch, time.Second) {
		t.Fatal("expected wake")
	}
}

func TestUnsubscribeIsSafeDuringPublish(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	unsub()
	unsub()
	b.Publish(Event{Type: "log.line"})
}
