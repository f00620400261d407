package results

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/DeLoWaN/openfront-discord-bot/internal/openfront"
	"github.com/DeLoWaN/openfront-discord-bot/internal/transport"
)

const (
	colorGreen = 0x2ecc71
	replayURL  = "https://openfront.io/#join="
)

var namedTeamSizes = map[string]int{"duos": 2, "trios": 3, "quads": 4}

// Announcement is a rendered result post for one guild.
type Announcement struct {
	Embed       transport.Embed
	WinningTags []string // configured tags among the winners, sorted
	GameStart   time.Time
}

// Render builds the announcement of match for a guild whose configured clan
// tags are tags. names maps a last known game username to the linked member
// ids. It reports false when the guild has nothing to announce.
func Render(matchID string, g openfront.Game, tags []string, names map[string][]string) (Announcement, bool) {
	configured := map[string]struct{}{}
	for _, t := range tags {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			configured[t] = struct{}{}
		}
	}
	if len(configured) == 0 {
		return Announcement{}, false
	}
	info := g.Info
	m := readMode(info)

	winners := winnerIDs(info)
	if len(winners) == 0 {
		return Announcement{}, false
	}
	allTags := map[string]struct{}{}
	for _, p := range info.Players {
		if _, won := winners[p.ClientID.String()]; won && p.ClanTag != "" {
			allTags[strings.ToUpper(p.ClanTag)] = struct{}{}
		}
	}
	var winning []string
	for t := range allTags {
		if _, ok := configured[t]; ok {
			winning = append(winning, t)
		}
	}
	if len(winning) == 0 {
		return Announcement{}, false
	}
	sort.Strings(winning)
	winningSet := make(map[string]struct{}, len(winning))
	for _, t := range winning {
		winningSet[t] = struct{}{}
	}

	display := func(username string) string {
		if username == "" {
			username = "Unknown"
		}
		if ids := names[username]; len(ids) == 1 {
			return "<@" + ids[0] + ">"
		}
		return username
	}

	var lines []string
	opponents := map[string][]string{}
	if m.ffa {
		for _, p := range info.Players {
			if p.ClientID == "" {
				continue
			}
			name := display(p.Username)
			if _, won := winners[p.ClientID.String()]; won {
				lines = append(lines, "🎉 "+name)
				continue
			}
			if p.ClanTag == "" {
				continue
			}
			tag := strings.ToUpper(p.ClanTag)
			if _, ok := allTags[tag]; !ok {
				opponents[tag] = append(opponents[tag], name)
			}
		}
	} else {
		tagged := 0
		for _, p := range info.Players {
			if p.ClanTag == "" {
				continue
			}
			tag := strings.ToUpper(p.ClanTag)
			name := display(p.Username)
			if _, ok := winningSet[tag]; ok {
				tagged++
				line := "🎉 " + name
				if _, won := winners[p.ClientID.String()]; !won {
					line += " - 💀 *died early*"
				}
				lines = append(lines, line)
			} else if _, ok := allTags[tag]; !ok {
				opponents[tag] = append(opponents[tag], name)
			}
		}
		if size, ok := m.perTeam(); ok && tagged > 0 {
			if others := int(size) - tagged; others > 0 {
				lines = append(lines, fmt.Sprintf("*+%d other %s*", others, plural(others, "player")))
			}
		}
	}

	start, end := gameTimes(info)
	finished := "Finished: unknown"
	if !end.IsZero() {
		finished = fmt.Sprintf("Finished: <t:%d:F>", end.Unix())
	}
	duration := "unknown duration"
	switch {
	case info.Duration != nil:
		duration = FormatDuration(time.Duration(int64(*info.Duration)) * time.Second)
	case !start.IsZero() && !end.IsZero():
		duration = FormatDuration(end.Sub(start))
	}
	mapName := info.Config.GameMap
	if mapName == "" {
		mapName = "Unknown"
	}

	winnersValue := "Unknown"
	if len(lines) > 0 {
		winnersValue = strings.Join(lines, "\n")
	}
	opponentsValue := "None"
	if ol := opponentLines(opponents); len(ol) > 0 {
		opponentsValue = strings.Join(ol, "\n")
	}

	return Announcement{
		Embed: transport.Embed{
			Title: fmt.Sprintf("🏆 Victory for %s!", strings.Join(winning, ", ")),
			Description: fmt.Sprintf("Map: **%s**\nMode: **%s**\n%s (%s)\nReplay: %s%s",
				mapName, m.text(), finished, duration, replayURL, matchID),
			Color: colorGreen,
			Fields: []transport.EmbedField{
				{Name: "Winners", Value: winnersValue},
				{Name: "Opponents", Value: opponentsValue},
			},
		},
		WinningTags: winning,
		GameStart:   start,
	}, true
}

// winnerIDs returns the info.winner entries that name a player client id.
func winnerIDs(info openfront.GameInfo) map[string]struct{} {
	players := map[string]struct{}{}
	for _, p := range info.Players {
		if p.ClientID != "" {
			players[p.ClientID.String()] = struct{}{}
		}
	}
	out := map[string]struct{}{}
	for _, id := range info.WinnerEntries() {
		if _, ok := players[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

type mode struct {
	label       string
	ffa         bool
	numTeams    string
	playerTeams string
	total       int
}

func readMode(info openfront.GameInfo) mode {
	m := mode{label: info.Config.GameMode}
	if m.label == "" {
		m.label = info.GameMode
	}
	if m.label == "" {
		m.label = "Unknown mode"
	}
	m.ffa = strings.EqualFold(strings.TrimSpace(m.label), "free for all")
	m.numTeams = firstNonEmpty(info.NumTeams.String(), info.Config.NumTeams.String())
	m.playerTeams = firstNonEmpty(info.PlayerTeams.String(), info.Config.PlayerTeams.String())
	m.total = int(info.TotalPlayerCount)
	if m.total == 0 {
		m.total = int(info.Config.MaxPlayers)
	}
	if m.numTeams == "" && m.playerTeams != "" {
		if isDigits(m.playerTeams) {
			m.numTeams = m.playerTeams
		} else if size, ok := namedTeamSizes[strings.ToLower(m.playerTeams)]; ok && m.total > 0 && m.total%size == 0 {
			m.numTeams = strconv.Itoa(m.total / size)
		}
	}
	return m
}

// perTeam is the team size implied by playerTeams: a team count divides the
// player total, a named size (Duos, Trios, Quads) is used as is.
func (m mode) perTeam() (float64, bool) {
	if m.playerTeams == "" {
		return 0, false
	}
	if size, ok := namedTeamSizes[strings.ToLower(m.playerTeams)]; ok {
		return float64(size), true
	}
	n, err := strconv.ParseFloat(m.playerTeams, 64)
	if err != nil || n == 0 || m.total == 0 {
		return 0, false
	}
	return float64(m.total) / n, true
}

func (m mode) text() string {
	if !m.ffa && m.numTeams != "" && m.playerTeams != "" {
		size, ok := m.perTeam()
		if !ok {
			return "Unknown mode"
		}
		s := strconv.FormatFloat(size, 'f', -1, 64)
		if size == math.Trunc(size) {
			s = strconv.Itoa(int(size))
		}
		out := fmt.Sprintf("%s teams of %s players", m.numTeams, s)
		if !isDigits(m.playerTeams) {
			out += " (" + m.playerTeams + ")"
		}
		return out
	}
	if !m.ffa && m.playerTeams != "" && !isDigits(m.playerTeams) {
		return m.label + " (" + m.playerTeams + ")"
	}
	return m.label
}

func opponentLines(groups map[string][]string) []string {
	tags := make([]string, 0, len(groups))
	for t := range groups {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool {
		a, b := len(groups[tags[i]]), len(groups[tags[j]])
		if a != b {
			return a > b
		}
		return tags[i] < tags[j]
	})
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		names := groups[t]
		out = append(out, fmt.Sprintf("⚔️ %s: %d %s (%s)", t, len(names), plural(len(names), "player"), strings.Join(names, ", ")))
	}
	return out
}

// gameTimes converts info.start and info.end (unix millis).
func gameTimes(info openfront.GameInfo) (start, end time.Time) {
	if info.Start != nil {
		start = time.UnixMilli(int64(*info.Start)).UTC()
	}
	if info.End != nil {
		end = time.UnixMilli(int64(*info.End)).UTC()
	}
	return start, end
}

// FormatDuration renders d as "1h 2m 3s", omitting zero parts.
func FormatDuration(d time.Duration) string {
	total := max(int64(d/time.Second), 0)
	h, m, s := total/3600, total%3600/60, total%60
	var parts []string
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	if s > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", s))
	}
	return strings.Join(parts, " ")
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
