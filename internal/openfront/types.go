package openfront

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FlexInt accepts a JSON number, a numeric string or null.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = FlexInt(n)
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexInt(n)
	return nil
}

// Scalar keeps the text form of a value that the API sends as either a number or a string.
type Scalar string

func (s *Scalar) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || string(b) == "null":
		*s = ""
	case b[0] == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = Scalar(strings.TrimSpace(v))
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*s = Scalar(n.String())
	}
	return nil
}

func (s Scalar) String() string { return string(s) }

// Int returns the value when it is a plain non-negative integer.
func (s Scalar) Int() (int, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(string(s), 64)
	if err != nil || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// Player is the profile returned by /public/player/{id}.
type Player struct {
	Stats struct {
		Public map[string]map[string]struct {
			Wins FlexInt `json:"wins"`
		} `json:"Public"`
	} `json:"stats"`
}

// MediumWins returns the "Medium" difficulty win count for a public game type.
func (p Player) MediumWins(gameType string) int {
	return int(p.Stats.Public[gameType]["Medium"].Wins)
}

// Session is one game a player took part in.
type Session struct {
	GameID    string  `json:"gameId"`
	Username  string  `json:"username"`
	ClanTag   *string `json:"clanTag"`
	HasWon    bool    `json:"hasWon"`
	GameStart string  `json:"gameStart"`
	GameEnd   string  `json:"gameEnd"`
}

var reUsernameTag = regexp.MustCompile(`\[([A-Za-z0-9]+)\]`)

// Tag returns the uppercased clan tag, falling back to a [TAG] prefix in the username.
func (s Session) Tag() string {
	if s.ClanTag != nil {
		return strings.ToUpper(strings.TrimSpace(*s.ClanTag))
	}
	if m := reUsernameTag.FindStringSubmatch(s.Username); len(m) == 2 {
		return strings.ToUpper(m[1])
	}
	return ""
}

// EndTime parses GameEnd. ok is false when missing or malformed.
func (s Session) EndTime() (time.Time, bool) { return parseTime(s.GameEnd) }

func parseTime(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Game is the payload of /public/game/{id}.
type Game struct {
	Info GameInfo `json:"info"`
}

type GameInfo struct {
	Config struct {
		GameMode    string  `json:"gameMode"`
		GameMap     string  `json:"gameMap"`
		MaxPlayers  FlexInt `json:"maxPlayers"`
		NumTeams    Scalar  `json:"numTeams"`
		PlayerTeams Scalar  `json:"playerTeams"`
	} `json:"config"`
	GameMode         string          `json:"gameMode"`
	Players          []GamePlayer    `json:"players"`
	Winner           json.RawMessage `json:"winner"`
	NumTeams         Scalar          `json:"numTeams"`
	PlayerTeams      Scalar          `json:"playerTeams"`
	TotalPlayerCount FlexInt         `json:"totalPlayerCount"`
	Duration         *float64        `json:"duration"`
	Start            *float64        `json:"start"` // unix millis
	End              *float64        `json:"end"`   // unix millis
}

type GamePlayer struct {
	ClientID Scalar `json:"clientID"`
	Username string `json:"username"`
	ClanTag  string `json:"clanTag"`
}

// GameRef is one entry of a listing (public lobbies or finished public games).
type GameRef map[string]any

// ID returns the first populated key from keys.
func (r GameRef) ID(keys ...string) string {
	for _, k := range keys {
		switch v := r[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			if v != 0 {
				return strconv.FormatFloat(v, 'f', -1, 64)
			}
		}
	}
	return ""
}

// Key priority used to pull a match id out of listings.
var (
	LobbyIDKeys = []string{"gameID", "gameId", "game", "id"}
	GameIDKeys  = []string{"game", "gameId", "gameID", "id"}
)

// WinnerEntries returns the stringified entries of info.winner, or nil when it is not a list.
func (g GameInfo) WinnerEntries() []string {
	var raw []Scalar
	if len(g.Winner) == 0 || json.Unmarshal(g.Winner, &raw) != nil {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if v != "" {
			out = append(out, string(v))
		}
	}
	return out
}
