package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

type UpdateKind string

const (
	// UpdateReady arrives once per session; GuildIDs lists every guild the bot is in.
	UpdateReady       UpdateKind = "ready"
	UpdateGuildJoined UpdateKind = "guild_joined"
	UpdateGuildLeft   UpdateKind = "guild_left"
	UpdateCommand     UpdateKind = "command"
)

type Update struct {
	Kind     UpdateKind
	GuildIDs []string
	Guild    *Guild
	Command  *Command
}

type Guild struct {
	ID    string
	Name  string
	Roles []Role
}

type Role struct {
	ID          string
	Name        string
	Permissions int64
}

type Member struct {
	ID          string
	Username    string
	DisplayName string
	RoleIDs     []string
	Permissions int64 // effective permissions when known (interactions)
}

// HasRole reports whether the member holds roleID.
func (m Member) HasRole(roleID string) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// Label is a log-friendly "name (id)".
func (m Member) Label() string {
	name := m.DisplayName
	if name == "" {
		name = m.Username
	}
	if name == "" {
		return m.ID
	}
	return name + " (" + m.ID + ")"
}

type Channel struct {
	ID      string
	GuildID string
	Name    string
}

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
}

// Command is one slash-command invocation.
type Command struct {
	Name      string
	GuildID   string
	ChannelID string
	Invoker   Member
	Options   map[string]any    // string, int64 or bool; user/role/channel options carry the id
	Names     map[string]string // resolved display names, keyed by user/role/channel id
	Reply     Responder
}

func (c *Command) String(name string) (string, bool) {
	switch v := c.Options[name].(type) {
	case string:
		return v, v != ""
	case int64:
		return strconv.FormatInt(v, 10), true
	}
	return "", false
}

func (c *Command) Int(name string) (int64, bool) {
	switch v := c.Options[name].(type) {
	case int64:
		return v, true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func (c *Command) Bool(name string) (bool, bool) {
	v, ok := c.Options[name].(bool)
	return v, ok
}

// Responder answers one interaction.
type Responder interface {
	// Respond sends the initial reply.
	Respond(ctx context.Context, text string, ephemeral bool) error
	// Defer acknowledges now; the answer follows via Followup.
	Defer(ctx context.Context, ephemeral bool) error
	Followup(ctx context.Context, text string, ephemeral bool) error
}

type OptionType int

const (
	OptionString OptionType = iota + 1
	OptionInt
	OptionBool
	OptionUser
	OptionRole
	OptionChannel
)

type OptionSpec struct {
	Name        string
	Description string
	Type        OptionType
	Required    bool
	Choices     []string
}

type CommandSpec struct {
	Name        string
	Description string
	Options     []OptionSpec
	// Admin hides the command from members without Manage Server by default.
	Admin bool
}

// Adapter is the chat-platform capability the bot depends on.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	Member(ctx context.Context, guildID, userID string) (Member, error)
	AddRole(ctx context.Context, guildID, userID, roleID, reason string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error
	GuildRoles(ctx context.Context, guildID string) ([]Role, error)
	Channel(ctx context.Context, channelID string) (Channel, error)
	SendEmbed(ctx context.Context, channelID string, e Embed) error
	SendLog(ctx context.Context, channelID, text string) error
	RegisterCommands(ctx context.Context, guildID string, specs []CommandSpec) error
	LeaveGuild(ctx context.Context, guildID string) error
}

// ErrNotFound is returned when a guild, member, role or channel does not exist.
var ErrNotFound = errors.New("transport: not found")

// RateLimitError signals a platform 429.
type RateLimitError struct {
	RetryAfter time.Duration
	Op         string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("transport: rate limited on %s (retry after %s)", e.Op, e.RetryAfter)
}

// AsRateLimit returns the rate-limit error in err's chain.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	ok := errors.As(err, &rl)
	return rl, ok
}

// Permission bits honored by the bot.
const (
	PermissionAdministrator int64 = 1 << 3
	PermissionManageGuild   int64 = 1 << 5
)

// IsAdminPermission reports whether perms include Administrator or Manage Server.
func IsAdminPermission(perms int64) bool {
	return perms&(PermissionAdministrator|PermissionManageGuild) != 0
}
