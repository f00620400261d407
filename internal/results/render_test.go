package results

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/DeLoWaN/openfront-discord-bot/internal/openfront"
)

func mustGame(t *testing.T, js string) openfront.Game {
	t.Helper()
	var g openfront.Game
	if err := json.Unmarshal([]byte(js), &g); err != nil {
		t.Fatalf("decode game: %v", err)
	}
	return g
}

const teamGame = `{"info":{
	"config":{"gameMode":"Team","gameMap":"World","maxPlayers":8,"playerTeams":"Duos"},
	"players":[
		{"clientID":"a","username":"[ABC]Alice","clanTag":"ABC"},
		{"clientID":"b","username":"[ABC]Bob","clanTag":"abc"},
		{"clientID":"c","username":"Carl","clanTag":"XYZ"},
		{"clientID":"d","username":"Dan"}
	],
	"winner":["team","Red","a"],
	"start":1700000000000,"end":1700003723000}}`

const ffaGame = `{"info":{
	"gameMode":"Free For All",
	"config":{"gameMap":"Europe"},
	"players":[
		{"clientID":"a","username":"Alice","clanTag":"ABC"},
		{"clientID":"b","username":"Bob","clanTag":"XYZ"},
		{"clientID":"c","username":"Cy","clanTag":"XYZ"},
		{"clientID":"d","username":"Di","clanTag":"ABC"}
	],
	"winner":["player","a"],
	"duration":65}}`

func TestRenderTeamGame(t *testing.T) {
	a, ok := Render("m1", mustGame(t, teamGame), []string{"abc"}, map[string][]string{"[ABC]Alice": {"42"}})
	if !ok {
		t.Fatal("expected an announcement")
	}
	e := a.Embed
	if e.Title != "🏆 Victory for ABC!" {
		t.Fatalf("title = %q", e.Title)
	}
	wantDesc := "Map: **World**\nMode: **4 teams of 2 players (Duos)**\nFinished: <t:1700003723:F> (1h 2m 3s)\nReplay: https://openfront.io/#join=m1"
	if e.Description != wantDesc {
		t.Fatalf("description = %q", e.Description)
	}
	if got := e.Fields[0].Value; got != "🎉 <@42>\n🎉 [ABC]Bob - 💀 *died early*" {
		t.Fatalf("winners = %q", got)
	}
	if got := e.Fields[1].Value; got != "⚔️ XYZ: 1 player (Carl)" {
		t.Fatalf("opponents = %q", got)
	}
	if len(a.WinningTags) != 1 || a.WinningTags[0] != "ABC" {
		t.Fatalf("tags = %v", a.WinningTags)
	}
	if !a.GameStart.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("start = %v", a.GameStart)
	}
}

func TestRenderTeamGameCountsOtherTeammates(t *testing.T) {
	g := mustGame(t, `{"info":{
		"config":{"gameMode":"Team","maxPlayers":12,"playerTeams":3},
		"players":[{"clientID":"a","username":"A","clanTag":"ABC"},{"clientID":"x","username":"X"}],
		"winner":["team","Red","a","x"]}}`)
	a, ok := Render("m", g, []string{"ABC"}, nil)
	if !ok {
		t.Fatal("expected an announcement")
	}
	if got := a.Embed.Fields[0].Value; got != "🎉 A\n*+3 other players*" {
		t.Fatalf("winners = %q", got)
	}
	if want := "Mode: **3 teams of 4 players**"; !strings.Contains(a.Embed.Description, want) {
		t.Fatalf("description = %q", a.Embed.Description)
	}
	if !strings.Contains(a.Embed.Description, "Finished: unknown (unknown duration)") {
		t.Fatalf("description = %q", a.Embed.Description)
	}
}

func TestRenderFFA(t *testing.T) {
	a, ok := Render("m2", mustGame(t, ffaGame), []string{"ABC", "XYZ"}, nil)
	if !ok {
		t.Fatal("expected an announcement")
	}
	if got := a.Embed.Fields[0].Value; got != "🎉 Alice" {
		t.Fatalf("winners = %q", got)
	}
	if got := a.Embed.Fields[1].Value; got != "⚔️ XYZ: 2 players (Bob, Cy)" {
		t.Fatalf("opponents = %q", got)
	}
	if !strings.Contains(a.Embed.Description, "Mode: **Free For All**") || !strings.Contains(a.Embed.Description, "Finished: unknown (1m 5s)") {
		t.Fatalf("description = %q", a.Embed.Description)
	}
}

func TestRenderSkipsWithoutConfiguredWinner(t *testing.T) {
	if _, ok := Render("m", mustGame(t, ffaGame), []string{"XYZ"}, nil); ok {
		t.Fatal("winner tag is not configured")
	}
	if _, ok := Render("m", mustGame(t, ffaGame), nil, nil); ok {
		t.Fatal("no tags configured")
	}
	if _, ok := Render("m", mustGame(t, `{"info":{"players":[{"clientID":"a","clanTag":"ABC"}],"winner":["z"]}}`), []string{"ABC"}, nil); ok {
		t.Fatal("winner does not match a player")
	}
}

func TestModeTextUnknownTeamSize(t *testing.T) {
	m := readMode(mustGame(t, `{"info":{"config":{"gameMode":"Team","playerTeams":"4"}}}`).Info)
	if got := m.text(); got != "Unknown mode" {
		t.Fatalf("text = %q", got)
	}
	m = readMode(mustGame(t, `{"info":{"config":{"gameMode":"Team","playerTeams":"Trios"}}}`).Info)
	if got := m.text(); got != "Team (Trios)" {
		t.Fatalf("text = %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[time.Duration]string{
		0:                  "0s",
		-5 * time.Second:   "0s",
		time.Hour:          "1h",
		3661 * time.Second: "1h 1m 1s",
		125 * time.Second:  "2m 5s",
	}
	for d, want := range cases {
		if got := FormatDuration(d); got != want {
			t.Fatalf("FormatDuration(%v) = %q, want %q", d, got, want)
		}
	}
}
