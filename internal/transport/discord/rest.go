package discord

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/DeLoWaN/openfront-discord-bot/internal/transport"
	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

const maxMessageLen = 2000

// Discord JSON error codes for missing entities.
var unknownEntityCodes = map[int]struct{}{
	discordgo.ErrCodeUnknownChannel: {},
	discordgo.ErrCodeUnknownGuild:   {},
	discordgo.ErrCodeUnknownMember:  {},
	discordgo.ErrCodeUnknownRole:    {},
	discordgo.ErrCodeUnknownUser:    {},
}

// mapErr converts discordgo errors into transport errors.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) {
		out := &transport.RateLimitError{Op: op}
		if rl.RateLimit != nil && rl.TooManyRequests != nil {
			out.RetryAfter = rl.RetryAfter
		}
		return out
	}
	if errors.Is(err, discordgo.ErrStateNotFound) {
		return fmt.Errorf("%s: %w", op, transport.ErrNotFound)
	}
	var re *discordgo.RESTError
	if errors.As(err, &re) {
		if re.Message != nil {
			if _, ok := unknownEntityCodes[re.Message.Code]; ok {
				return fmt.Errorf("%s: %w", op, transport.ErrNotFound)
			}
		}
		if re.Response != nil {
			switch re.Response.StatusCode {
			case http.StatusNotFound:
				return fmt.Errorf("%s: %w", op, transport.ErrNotFound)
			case http.StatusTooManyRequests:
				return &transport.RateLimitError{Op: op}
			}
		}
	}
	return fmt.Errorf("discord %s: %w", op, err)
}

func (a *Adapter) Member(ctx context.Context, guildID, userID string) (transport.Member, error) {
	if m, err := a.s.State.Member(guildID, userID); err == nil && m != nil {
		return toMember(m), nil
	}
	m, err := a.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return transport.Member{}, mapErr("member", err)
	}
	return toMember(m), nil
}

func (a *Adapter) AddRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return mapErr("add role", a.s.GuildMemberRoleAdd(guildID, userID, roleID, requestOpts(ctx, reason)...))
}

func (a *Adapter) RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return mapErr("remove role", a.s.GuildMemberRoleRemove(guildID, userID, roleID, requestOpts(ctx, reason)...))
}

func requestOpts(ctx context.Context, reason string) []discordgo.RequestOption {
	opts := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if reason != "" {
		opts = append(opts, discordgo.WithAuditLogReason(reason))
	}
	return opts
}

func (a *Adapter) GuildRoles(ctx context.Context, guildID string) ([]transport.Role, error) {
	var roles []*discordgo.Role
	if g, err := a.s.State.Guild(guildID); err == nil && g != nil && len(g.Roles) > 0 {
		roles = g.Roles
	} else {
		roles, err = a.s.GuildRoles(guildID, discordgo.WithContext(ctx))
		if err != nil {
			return nil, mapErr("guild roles", err)
		}
	}
	out := make([]transport.Role, 0, len(roles))
	for _, r := range roles {
		out = append(out, transport.Role{ID: r.ID, Name: r.Name, Permissions: r.Permissions})
	}
	return out, nil
}

func (a *Adapter) Channel(ctx context.Context, channelID string) (transport.Channel, error) {
	if c, err := a.s.State.Channel(channelID); err == nil && c != nil {
		return transport.Channel{ID: c.ID, GuildID: c.GuildID, Name: c.Name}, nil
	}
	c, err := a.s.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return transport.Channel{}, mapErr("channel", err)
	}
	return transport.Channel{ID: c.ID, GuildID: c.GuildID, Name: c.Name}, nil
}

func (a *Adapter) SendEmbed(ctx context.Context, channelID string, e transport.Embed) error {
	_, err := a.s.ChannelMessageSendEmbed(channelID, toEmbed(e), discordgo.WithContext(ctx))
	return mapErr("send embed", err)
}

// SendLog posts plain text, truncated to the message limit.
func (a *Adapter) SendLog(ctx context.Context, channelID, text string) error {
	_, err := a.s.ChannelMessageSend(channelID, truncate(text, maxMessageLen), discordgo.WithContext(ctx))
	return mapErr("send log", err)
}

func (a *Adapter) LeaveGuild(ctx context.Context, guildID string) error {
	return mapErr("leave guild", a.s.GuildLeave(guildID, discordgo.WithContext(ctx)))
}

// RegisterCommands overwrites the guild's slash commands. It only performs a
// network call when the command set changed since the last success.
func (a *Adapter) RegisterCommands(ctx context.Context, guildID string, specs []transport.CommandSpec) error {
	cmds := toApplicationCommands(specs)
	sum := hashCommands(cmds)

	a.cmdMu.Lock()
	defer a.cmdMu.Unlock()
	if a.cmdHashes[guildID] == sum {
		return nil
	}
	if a.s.State == nil || a.s.State.User == nil {
		return errors.New("discord: session not ready")
	}
	if _, err := a.s.ApplicationCommandBulkOverwrite(a.s.State.User.ID, guildID, cmds, discordgo.WithContext(ctx)); err != nil {
		return mapErr("register commands", err)
	}
	a.cmdHashes[guildID] = sum
	a.log.Info("application commands synced", logx.String("guild", guildID), logx.Int("count", len(cmds)))
	return nil
}

func hashCommands(cmds []*discordgo.ApplicationCommand) uint64 {
	h := fnv.New64a()
	for _, c := range cmds {
		h.Write([]byte(c.Name))
		h.Write([]byte{0})
		h.Write([]byte(c.Description))
		h.Write([]byte{0})
		for _, o := range c.Options {
			fmt.Fprintf(h, "%s:%d:%t\x00", o.Name, o.Type, o.Required)
		}
	}
	return h.Sum64()
}

func toApplicationCommands(specs []transport.CommandSpec) []*discordgo.ApplicationCommand {
	adminPerms := int64(discordgo.PermissionManageServer)
	dm := false
	out := make([]*discordgo.ApplicationCommand, 0, len(specs))
	for _, sp := range specs {
		c := &discordgo.ApplicationCommand{Name: sp.Name, Description: sp.Description, DMPermission: &dm}
		if sp.Admin {
			c.DefaultMemberPermissions = &adminPerms
		}
		for _, o := range sp.Options {
			opt := &discordgo.ApplicationCommandOption{
				Type:        optionType(o.Type),
				Name:        o.Name,
				Description: o.Description,
				Required:    o.Required,
			}
			for _, ch := range o.Choices {
				opt.Choices = append(opt.Choices, &discordgo.ApplicationCommandOptionChoice{Name: ch, Value: ch})
			}
			c.Options = append(c.Options, opt)
		}
		out = append(out, c)
	}
	return out
}

func optionType(t transport.OptionType) discordgo.ApplicationCommandOptionType {
	switch t {
	case transport.OptionInt:
		return discordgo.ApplicationCommandOptionInteger
	case transport.OptionBool:
		return discordgo.ApplicationCommandOptionBoolean
	case transport.OptionUser:
		return discordgo.ApplicationCommandOptionUser
	case transport.OptionRole:
		return discordgo.ApplicationCommandOptionRole
	case transport.OptionChannel:
		return discordgo.ApplicationCommandOptionChannel
	default:
		return discordgo.ApplicationCommandOptionString
	}
}

func toEmbed(e transport.Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{Title: e.Title, Description: e.Description, Color: e.Color}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: truncate(f.Value, 1024), Inline: f.Inline})
	}
	return out
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
