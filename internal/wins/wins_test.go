package wins

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DeLoWaN/openfront-discord-bot/internal/openfront"
)

func tag(s string) *string { return &s }

var sessions = []openfront.Session{
	{Username: "alice", ClanTag: tag("un"), HasWon: true, GameEnd: "2025-01-01T10:00:00Z"},
	{Username: "[UN] alice", HasWon: true, GameEnd: "2025-01-03T10:00:00Z"},
	{Username: "alice2", ClanTag: tag("XX"), HasWon: true, GameEnd: "2025-01-02T10:00:00Z"},
	{Username: "alice", HasWon: true, GameEnd: "2025-01-04T10:00:00Z"},
	{Username: "alice", ClanTag: tag("UN"), HasWon: false, GameEnd: "2025-01-02T12:00:00Z"},
}

func TestWithClan(t *testing.T) {
	if got := WithClan(sessions, nil); got != 3 {
		t.Fatalf("any tag = %d, want 3", got)
	}
	if got := WithClan(sessions, []string{"un"}); got != 2 {
		t.Fatalf("UN only = %d, want 2", got)
	}
}

func TestSinceLink(t *testing.T) {
	linked := time.Date(2025, 1, 2, 11, 0, 0, 0, time.UTC)
	if got := SinceLink(sessions, linked); got != 2 {
		t.Fatalf("since link = %d, want 2", got)
	}
}

func TestLastUsername(t *testing.T) {
	if got := LastUsername(sessions); got != "alice" {
		t.Fatalf("LastUsername = %q", got)
	}
	if got := LastUsername(nil); got != "" {
		t.Fatalf("empty LastUsername = %q", got)
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode(" Total "); err != nil || m != ModeTotal {
		t.Fatalf("ParseMode = %q, %v", m, err)
	}
	if _, err := ParseMode("everything"); err == nil {
		t.Fatal("expected error")
	}
}

type fakeSource struct {
	player      openfront.Player
	sessions    []openfront.Session
	sessionsErr error
}

func (f fakeSource) Player(ctx context.Context, id string) (openfront.Player, error) {
	return f.player, nil
}

func (f fakeSource) Sessions(ctx context.Context, id string) ([]openfront.Session, error) {
	return f.sessions, f.sessionsErr
}

func TestCountPropagatesUpstreamError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Count(context.Background(), fakeSource{sessionsErr: boom}, ModeSessionsWithClan, Input{PlayerID: "p"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestCountTotalSkipsSessions(t *testing.T) {
	res, err := Count(context.Background(), fakeSource{sessionsErr: errors.New("down")}, ModeTotal, Input{PlayerID: "p"})
	if err != nil || res.Wins != 0 || res.Username != "" {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}
