package openfront

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL, LobbiesURL: srv.URL + "/lobbies"}, logx.Nop())
	c.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return c
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"stats":{"Public":{"Free For All":{"Medium":{"wins":"4"}},"Team":{"Medium":{"wins":3}}}}}`)
	}))
	p, err := c.Player(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Player: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
	if got := p.MediumWins("Free For All") + p.MediumWins("Team"); got != 7 {
		t.Fatalf("wins = %d, want 7", got)
	}
}

func TestGetGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	_, err := c.Game(context.Background(), "g1")
	if StatusOf(err) != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %v", err)
	}
	if calls.Load() != 5 {
		t.Fatalf("calls = %d, want 5", calls.Load())
	}
}

func TestNotFoundSurfacesImmediately(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	_, err := c.Game(context.Background(), "g1")
	if !IsNotFound(err) || calls.Load() != 1 {
		t.Fatalf("err=%v calls=%d", err, calls.Load())
	}
}

func TestRateLimitCarriesRetryAfter(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	_, err := c.PublicLobbies(context.Background())
	if !IsRateLimited(err) || RetryAfterHint(err) != 7*time.Second {
		t.Fatalf("err=%v hint=%s", err, RetryAfterHint(err))
	}
	if calls.Load() != 1 {
		t.Fatalf("429 must not be retried internally, calls=%d", calls.Load())
	}
}

func TestGameInvalidPayload(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `["not","an","object"]`)
	}))
	if _, err := c.Game(context.Background(), "g1"); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestSessionsFollowsPages(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"data":[{"gameId":"b","username":"[UN] bob","hasWon":false}]}`)
			return
		}
		fmt.Fprint(w, `{"data":[{"gameId":"a","username":"bob","clanTag":"un","hasWon":true,"gameEnd":"2025-01-01T10:00:00Z"}],"next":"/public/player/p1/sessions?page=2"}`)
	}))
	sessions, err := c.Sessions(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("sessions = %+v", sessions)
	}
	if sessions[0].Tag() != "UN" || sessions[1].Tag() != "UN" {
		t.Fatalf("tags = %q %q", sessions[0].Tag(), sessions[1].Tag())
	}
	if end, ok := sessions[0].EndTime(); !ok || end.Hour() != 10 {
		t.Fatalf("EndTime = %v %v", end, ok)
	}
}

func TestPublicGamesPagesByContentRange(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if r.URL.Query().Get("type") != "Public" {
			t.Errorf("type = %q", r.URL.Query().Get("type"))
		}
		switch offset {
		case 0:
			w.Header().Set("Content-Range", "games 0-1/3")
			fmt.Fprint(w, `[{"game":"g1"},{"game":"g2"}]`)
		case 2:
			w.Header().Set("Content-Range", "games 2-2/3")
			fmt.Fprint(w, `[{"gameId":"g3"}]`)
		default:
			t.Errorf("unexpected offset %d", offset)
			fmt.Fprint(w, `[]`)
		}
	}))
	refs, err := c.PublicGames(context.Background(), time.Now().Add(-2*time.Hour), time.Now())
	if err != nil {
		t.Fatalf("PublicGames: %v", err)
	}
	if len(refs) != 3 || refs[2].ID(GameIDKeys...) != "g3" {
		t.Fatalf("refs = %+v", refs)
	}
}

func TestPublicLobbiesWrapped(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"lobbies":[{"gameID":"x1","id":"ignored"},{"id":"x2"},{"name":"no id"}]}`)
	}))
	refs, err := c.PublicLobbies(context.Background())
	if err != nil {
		t.Fatalf("PublicLobbies: %v", err)
	}
	if len(refs) != 3 || refs[0].ID(LobbyIDKeys...) != "x1" || refs[1].ID(LobbyIDKeys...) != "x2" || refs[2].ID(LobbyIDKeys...) != "" {
		t.Fatalf("refs = %+v", refs)
	}
}

func TestScalar(t *testing.T) {
	var g Game
	if err := decodeObject([]byte(`{"info":{"playerTeams":"Duos","numTeams":4,"winner":["team","Red","c1"],"players":[{"clientID":"c1"}]}}`), &g); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if g.Info.PlayerTeams != "Duos" {
		t.Fatalf("playerTeams = %q", g.Info.PlayerTeams)
	}
	if n, ok := g.Info.NumTeams.Int(); !ok || n != 4 {
		t.Fatalf("numTeams = %v %v", n, ok)
	}
	if w := g.Info.WinnerEntries(); len(w) != 3 || w[2] != "c1" {
		t.Fatalf("winner = %v", w)
	}
}
