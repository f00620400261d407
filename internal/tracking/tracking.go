// Package tracking holds the tracked-match state machine.
//
// A match is discovered once, becomes due when NextAttemptAt passes, and after
// each attempt is rescheduled, removed, or marked failed. The transition
// functions are pure; persistence goes through Store.
package tracking

import (
	"context"
	"time"
)

const (
	DefaultRetryDelay   = 60 * time.Second
	DefaultFailureLimit = 3
	// DefaultDiscoveryGrace is how long a freshly discovered match waits before its first fetch.
	DefaultDiscoveryGrace = 60 * time.Second
)

// Match is one row of the global tracked-match table.
type Match struct {
	ID            string
	FirstSeenAt   time.Time
	NextAttemptAt time.Time
	Failures      int       // consecutive unexpected failures
	FailedAt      time.Time // zero until the failure limit is reached
}

// Failed reports whether the match hit the failure limit.
func (m Match) Failed() bool { return !m.FailedAt.IsZero() }

// Due reports whether the match should be attempted at now.
func (m Match) Due(now time.Time) bool {
	return !m.Failed() && !m.NextAttemptAt.After(now)
}

// Store persists tracked matches.
type Store interface {
	// TrackMatch inserts id if absent and reports whether a row was created.
	TrackMatch(ctx context.Context, id string, firstSeen, nextAttempt time.Time) (bool, error)
	// DueMatches lists non-failed matches with NextAttemptAt <= now, oldest first.
	DueMatches(ctx context.Context, now time.Time, limit int) ([]Match, error)
	TrackedMatch(ctx context.Context, id string) (Match, error)
	SaveMatch(ctx context.Context, m Match) error
	RemoveMatch(ctx context.Context, id string) error
}

// Policy decides how attempts move a match through its states.
type Policy struct {
	RetryDelay   time.Duration
	FailureLimit int
}

func (p Policy) withDefaults() Policy {
	if p.RetryDelay <= 0 {
		p.RetryDelay = DefaultRetryDelay
	}
	if p.FailureLimit <= 0 {
		p.FailureLimit = DefaultFailureLimit
	}
	return p
}

// NotReady handles an expected outcome (404, 429, 5xx after retries): the
// failure counter resets and the match is rescheduled. A positive hint
// replaces the default delay.
func (p Policy) NotReady(m Match, now time.Time, hint time.Duration) Match {
	p = p.withDefaults()
	m.Failures = 0
	delay := p.RetryDelay
	if hint > 0 {
		delay = hint
	}
	m.NextAttemptAt = now.Add(delay)
	return m
}

// Unexpected counts one unexpected outcome. It returns tripped=true when the
// limit is reached; the match then carries FailedAt and is never due again.
func (p Policy) Unexpected(m Match, now time.Time) (out Match, tripped bool) {
	p = p.withDefaults()
	m.Failures++
	if m.Failures >= p.FailureLimit {
		m.FailedAt = now
		return m, true
	}
	m.NextAttemptAt = now.Add(p.RetryDelay)
	return m, false
}

// Fetched resets the counter after a successful fetch.
func (p Policy) Fetched(m Match) Match {
	m.Failures = 0
	return m
}

// Retry reschedules after a partial delivery failure without touching the counter.
func (p Policy) Retry(m Match, now time.Time) Match {
	p = p.withDefaults()
	m.NextAttemptAt = now.Add(p.RetryDelay)
	return m
}
