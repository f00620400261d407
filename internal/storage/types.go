package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: not found")
	// ErrThresholdRoleInUse is returned when a role is already bound to a different win floor.
	ErrThresholdRoleInUse = errors.New("storage: role already used by another threshold")
)

// Config carries SQLite tuning shared by the central and tenant stores.
type Config struct {
	BusyTimeout time.Duration // 0 means 5s
}

type GuildEntry struct {
	GuildID      string
	DatabasePath string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Settings is the singleton per-guild settings row.
type Settings struct {
	CountingMode     string
	BackoffUntil     time.Time // zero when not in backoff
	LastSyncAt       time.Time
	RolesEnabled     bool
	ResultsEnabled   bool
	ResultsChannelID string
}

// User is a linked Discord member.
type User struct {
	DiscordUserID         string
	PlayerID              string
	LinkedAt              time.Time
	LastWinCount          int
	LastRoleID            string
	LastUsername          string
	LastOpenFrontUsername string
	Consecutive404        int
	Disabled              bool
	LastErrorReason       string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Threshold struct {
	ID       int64
	Wins     int
	RoleID   string
	RoleName string
}

type PostedMatch struct {
	MatchID     string
	GameStart   time.Time
	PostedAt    time.Time
	WinningTags []string
}

type AuditEntry struct {
	ID        int64
	ActorID   string
	Action    string
	Payload   string // JSON, empty when none
	CreatedAt time.Time
}
