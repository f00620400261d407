package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/DeLoWaN/openfront-discord-bot/internal/transport"
)

func commandFromInteraction(i *discordgo.Interaction) *transport.Command {
	cmd := &transport.Command{
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
		Options:   map[string]any{},
		Names:     map[string]string{},
	}
	if i.Member != nil {
		cmd.Invoker = toMember(i.Member)
		if i.Member.User == nil && i.User != nil {
			cmd.Invoker.ID, cmd.Invoker.Username = i.User.ID, i.User.Username
		}
	} else if i.User != nil {
		cmd.Invoker = transport.Member{ID: i.User.ID, Username: i.User.Username, DisplayName: i.User.Username}
	}

	data := i.ApplicationCommandData()
	cmd.Name = data.Name
	for _, o := range data.Options {
		if o == nil {
			continue
		}
		if v, ok := optionValue(o); ok {
			cmd.Options[o.Name] = v
		}
	}
	if r := data.Resolved; r != nil {
		for id, u := range r.Users {
			if u != nil {
				cmd.Names[id] = u.Username
			}
		}
		for id, m := range r.Members {
			if m != nil && m.Nick != "" {
				cmd.Names[id] = m.Nick
			}
		}
		for id, role := range r.Roles {
			if role != nil {
				cmd.Names[id] = role.Name
			}
		}
		for id, ch := range r.Channels {
			if ch != nil {
				cmd.Names[id] = ch.Name
			}
		}
	}
	return cmd
}

// optionValue normalizes option payloads: integers arrive as JSON numbers.
func optionValue(o *discordgo.ApplicationCommandInteractionDataOption) (any, bool) {
	switch o.Type {
	case discordgo.ApplicationCommandOptionInteger:
		switch v := o.Value.(type) {
		case float64:
			return int64(v), true
		case int64:
			return v, true
		case int:
			return int64(v), true
		}
	case discordgo.ApplicationCommandOptionBoolean:
		v, ok := o.Value.(bool)
		return v, ok
	case discordgo.ApplicationCommandOptionUser,
		discordgo.ApplicationCommandOptionRole,
		discordgo.ApplicationCommandOptionChannel,
		discordgo.ApplicationCommandOptionMentionable,
		discordgo.ApplicationCommandOptionString:
		switch v := o.Value.(type) {
		case string:
			return v, true
		case nil:
			return nil, false
		default:
			return fmt.Sprint(v), true
		}
	}
	return nil, false
}

type responder struct {
	s *discordgo.Session
	i *discordgo.Interaction
}

func flags(ephemeral bool) discordgo.MessageFlags {
	if ephemeral {
		return discordgo.MessageFlagsEphemeral
	}
	return 0
}

func (r *responder) Respond(ctx context.Context, text string, ephemeral bool) error {
	err := r.s.InteractionRespond(r.i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: truncate(text, maxMessageLen), Flags: flags(ephemeral)},
	}, discordgo.WithContext(ctx))
	return mapErr("respond", err)
}

func (r *responder) Defer(ctx context.Context, ephemeral bool) error {
	err := r.s.InteractionRespond(r.i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flags(ephemeral)},
	}, discordgo.WithContext(ctx))
	return mapErr("defer", err)
}

func (r *responder) Followup(ctx context.Context, text string, ephemeral bool) error {
	_, err := r.s.FollowupMessageCreate(r.i, true, &discordgo.WebhookParams{
		Content: truncate(text, maxMessageLen),
		Flags:   flags(ephemeral),
	}, discordgo.WithContext(ctx))
	return mapErr("followup", err)
}
