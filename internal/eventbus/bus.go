package eventbus

import (
	"context"
	"sync"
	"time"
)

// Topics published inside the bot.
const (
	// MatchesTracked fires when discovery or seeding inserted at least one new tracked match.
	MatchesTracked = "results.matches_tracked"
	// ResultsRequested fires when an operator asks for an immediate results drain.
	ResultsRequested = "results.requested"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events, so a full buffer coalesces repeats.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus with no goroutines of its own.
func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch    chan Event
	types map[string]struct{}
}

func (s *sub) wants(t string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*sub
	next uint64
}

// Publish sends under the read lock. Unsubscribe closes a channel only while
// holding the write lock, so a send never hits a closed channel.
func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
		}
	}
}

// Subscribe registers a buffered channel. With no types, every event is delivered.
func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	s := &sub{ch: make(chan Event, max(buffer, 1))}
	for _, t := range types {
		if s.types == nil {
			s.types = make(map[string]struct{}, len(types))
		}
		s.types[t] = struct{}{}
	}

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = s
	b.mu.Unlock()

	return s.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
}

// WaitAny blocks until an event arrives on ch, the timeout elapses, or ctx ends.
// It reports whether an event was received.
func WaitAny(ctx context.Context, ch <-chan Event, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case _, ok := <-ch:
		return ok
	case <-t.C:
		return false
	}
}

// Drain discards any buffered events without blocking.
func Drain(ch <-chan Event) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
