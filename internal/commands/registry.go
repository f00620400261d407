package commands

import (
	"time"

	"github.com/DeLoWaN/openfront-discord-bot/internal/transport"
	"github.com/DeLoWaN/openfront-discord-bot/internal/wins"
)

const auditPageSize = 20

func opt(name, desc string, t transport.OptionType, required bool) transport.OptionSpec {
	return transport.OptionSpec{Name: name, Description: desc, Type: t, Required: required}
}

func modeChoices() []string {
	out := make([]string, 0, len(wins.Modes))
	for _, m := range wins.Modes {
		out = append(out, string(m))
	}
	return out
}

func (m *Manager) registry() []Command {
	admin := func(name, desc string, h HandlerFunc, opts ...transport.OptionSpec) Command {
		return Command{
			Spec:   transport.CommandSpec{Name: name, Description: desc, Options: opts, Admin: true},
			Access: AccessAdmin,
			Handle: h,
		}
	}
	everyone := func(name, desc string, h HandlerFunc, opts ...transport.OptionSpec) Command {
		return Command{
			Spec:   transport.CommandSpec{Name: name, Description: desc, Options: opts},
			Access: AccessEveryone,
			Handle: h,
		}
	}
	slow := func(c Command) Command {
		c.Defer = true
		c.Timeout = 10 * time.Minute
		return c
	}

	mode := opt("mode", "total | sessions_since_link | sessions_with_clan", transport.OptionString, true)
	mode.Choices = modeChoices()

	return []Command{
		slow(everyone("link", "Link your Discord user to an OpenFront player ID", m.link,
			opt("player_id", "Your OpenFront player ID", transport.OptionString, true))),
		everyone("unlink", "Remove your link", m.unlink),
		everyone("status", "Show link status", m.status,
			opt("user", "(Admin only) check another user", transport.OptionUser, false)),
		everyone("roles", "List role thresholds", m.roles),
		everyone("clans_list", "List clan tags", m.clansList),

		slow(admin("sync", "Trigger immediate sync (optionally for a single user)", m.sync,
			opt("user", "Optional user; if omitted, sync all linked users", transport.OptionUser, false))),
		admin("set_mode", "Set counting mode", m.setMode, mode),
		admin("get_mode", "Show current counting mode", m.getMode),
		admin("roles_add", "Add or update a threshold role", m.rolesAdd,
			opt("wins", "Minimum wins", transport.OptionInt, true),
			opt("role", "Role to grant", transport.OptionRole, true)),
		admin("roles_remove", "Remove a threshold role", m.rolesRemove,
			opt("wins", "Threshold wins", transport.OptionInt, false),
			opt("role", "Threshold role", transport.OptionRole, false)),
		admin("clan_tag_add", "Add a clan tag", m.clanTagAdd,
			opt("tag", "Clan tag", transport.OptionString, true)),
		admin("clan_tag_remove", "Remove a clan tag", m.clanTagRemove,
			opt("tag", "Clan tag", transport.OptionString, true)),
		admin("post_game_results_start", "Start posting clan game results", m.resultsStart),
		admin("post_game_results_stop", "Stop posting clan game results", m.resultsStop),
		admin("post_game_results_channel", "Set the channel for game results posts", m.resultsChannel,
			opt("channel", "Results channel", transport.OptionChannel, true)),
		slow(admin("post_game_results_test", "Seed recent finished games for results testing", m.resultsTest)),
		slow(admin("link_override", "Admin override link", m.linkOverride,
			opt("user", "Member to link", transport.OptionUser, true),
			opt("player_id", "OpenFront player ID", transport.OptionString, true))),
		admin("audit", "Show recent audit events", m.auditList,
			opt("page", "Page number", transport.OptionInt, false)),
		admin("admin_role_add", "Add an admin role for this guild", m.adminRoleAdd,
			opt("role", "Role", transport.OptionRole, true)),
		admin("admin_role_remove", "Remove an admin role for this guild", m.adminRoleRemove,
			opt("role", "Role", transport.OptionRole, true)),
		admin("admin_roles", "List admin roles for this guild", m.adminRoles),
		admin("guild_remove", "Remove this guild from the bot and delete its data", m.guildRemove,
			opt("confirm", "Set to true to confirm deletion", transport.OptionBool, false)),
	}
}
