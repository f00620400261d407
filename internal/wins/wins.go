// Package wins computes a player's win count under the guild's counting mode.
package wins

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/DeLoWaN/openfront-discord-bot/internal/openfront"
)

type Mode string

const (
	ModeTotal             Mode = "total"
	ModeSessionsSinceLink Mode = "sessions_since_link"
	ModeSessionsWithClan  Mode = "sessions_with_clan"

	DefaultMode = ModeSessionsWithClan
)

var Modes = []Mode{ModeTotal, ModeSessionsSinceLink, ModeSessionsWithClan}

func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Modes {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown counting mode %q", s)
}

// Source is the part of the upstream client the counters need.
type Source interface {
	Player(ctx context.Context, playerID string) (openfront.Player, error)
	Sessions(ctx context.Context, playerID string) ([]openfront.Session, error)
}

// Input describes the linked identity being counted.
type Input struct {
	PlayerID string
	LinkedAt time.Time
	ClanTags []string
}

// Result is the computed count plus the latest in-game username seen, if any.
type Result struct {
	Wins     int
	Username string
}

// Count computes wins for in under mode.
func Count(ctx context.Context, src Source, mode Mode, in Input) (Result, error) {
	switch mode {
	case ModeTotal:
		p, err := src.Player(ctx, in.PlayerID)
		if err != nil {
			return Result{}, err
		}
		// The profile carries no username; it stays unknown in this mode.
		return Result{Wins: Total(p)}, nil
	case ModeSessionsSinceLink, ModeSessionsWithClan, "":
		sessions, err := src.Sessions(ctx, in.PlayerID)
		if err != nil {
			return Result{}, err
		}
		res := Result{Username: LastUsername(sessions)}
		if mode == ModeSessionsSinceLink {
			res.Wins = SinceLink(sessions, in.LinkedAt)
		} else {
			res.Wins = WithClan(sessions, in.ClanTags)
		}
		return res, nil
	default:
		return Result{}, fmt.Errorf("unknown counting mode %q", mode)
	}
}

// Total sums the Medium public FFA and Team wins from the profile.
func Total(p openfront.Player) int {
	return p.MediumWins("Free For All") + p.MediumWins("Team")
}

// SinceLink counts won sessions that ended at or after linkedAt.
func SinceLink(sessions []openfront.Session, linkedAt time.Time) int {
	n := 0
	for _, s := range sessions {
		end, ok := s.EndTime()
		if !ok || end.Before(linkedAt) {
			continue
		}
		if s.HasWon {
			n++
		}
	}
	return n
}

// WithClan counts won sessions played under a clan tag. With tags configured,
// only those tags count.
func WithClan(sessions []openfront.Session, tags []string) int {
	allowed := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			allowed[t] = struct{}{}
		}
	}
	n := 0
	for _, s := range sessions {
		tag := s.Tag()
		if tag == "" {
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[tag]; !ok {
				continue
			}
		}
		if s.HasWon {
			n++
		}
	}
	return n
}

// LastUsername returns the username of the most recently ended session.
func LastUsername(sessions []openfront.Session) string {
	var best time.Time
	name := ""
	for _, s := range sessions {
		end, ok := s.EndTime()
		if !ok {
			if name == "" {
				name = s.Username
			}
			continue
		}
		if end.After(best) {
			best, name = end, s.Username
		}
	}
	return name
}
