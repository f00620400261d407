package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/DeLoWaN/openfront-discord-bot/internal/eventbus"
	"github.com/DeLoWaN/openfront-discord-bot/internal/storage"
	"github.com/DeLoWaN/openfront-discord-bot/internal/transport"
	"github.com/DeLoWaN/openfront-discord-bot/internal/wins"
	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

func (m *Manager) sync(ctx context.Context, req *Request) error {
	if userID, ok := req.Cmd.String("user"); ok {
		member, err := m.deps.Platform.Member(ctx, req.Cmd.GuildID, userID)
		if errors.Is(err, transport.ErrNotFound) {
			return req.Reply(ctx, "Member not found in this guild.")
		}
		if err != nil {
			return fmt.Errorf("lookup member: %w", err)
		}
		msg, err := m.deps.Syncer.SyncMember(ctx, req.Tenant, member)
		if err != nil && msg == "" {
			return err
		}
		audit(ctx, req, "sync_user", map[string]any{"user": userID})
		return req.Reply(ctx, msg)
	}
	msg, err := m.deps.Syncer.Pass(ctx, req.Tenant, true)
	if err != nil && msg == "" {
		return err
	}
	audit(ctx, req, "sync", map[string]any{"scope": "all"})
	return req.Reply(ctx, msg)
}

func (m *Manager) setMode(ctx context.Context, req *Request) error {
	raw, _ := req.Cmd.String("mode")
	mode, err := wins.ParseMode(raw)
	if err != nil {
		return req.Reply(ctx, "Invalid mode. Choose one of "+strings.Join(modeChoices(), " | ")+".")
	}
	if err := req.Tenant.Store.SetCountingMode(ctx, string(mode)); err != nil {
		return err
	}
	req.Logger.Info("counting mode updated", logx.String("mode", string(mode)))
	audit(ctx, req, "set_mode", map[string]any{"mode": mode})
	return req.Reply(ctx, "Counting mode set to "+string(mode))
}

func (m *Manager) getMode(ctx context.Context, req *Request) error {
	s, err := req.Tenant.Store.Settings(ctx)
	if err != nil {
		return err
	}
	return req.Reply(ctx, "Current counting mode: "+s.CountingMode)
}

func (m *Manager) rolesAdd(ctx context.Context, req *Request) error {
	n, _ := req.Cmd.Int("wins")
	roleID, _ := req.Cmd.String("role")
	if n < 0 {
		return req.Reply(ctx, "Wins must be zero or more.")
	}
	if roleID == "" {
		return req.Reply(ctx, "Provide a role.")
	}
	err := req.Tenant.Store.UpsertThreshold(ctx, int(n), roleID, req.Cmd.Names[roleID])
	if errors.Is(err, storage.ErrThresholdRoleInUse) {
		return req.Reply(ctx, fmt.Sprintf("Role <@&%s> is already used by another threshold. Remove it first.", roleID))
	}
	if err != nil {
		return err
	}
	m.refresh(ctx, req)
	req.Logger.Info("role threshold saved", logx.Int64("wins", n), logx.String("role", roleID))
	audit(ctx, req, "roles_add", map[string]any{"wins": n, "role_id": roleID})
	return req.Reply(ctx, fmt.Sprintf("Saved threshold: %d wins -> <@&%s>", n, roleID))
}

func (m *Manager) rolesRemove(ctx context.Context, req *Request) error {
	var winsPtr *int
	if n, ok := req.Cmd.Int("wins"); ok {
		v := int(n)
		winsPtr = &v
	}
	roleID, _ := req.Cmd.String("role")
	if winsPtr == nil && roleID == "" {
		return req.Reply(ctx, "Provide wins or role to remove.")
	}
	deleted, err := req.Tenant.Store.RemoveThresholds(ctx, winsPtr, roleID)
	if err != nil {
		return err
	}
	m.refresh(ctx, req)
	req.Logger.Info("role thresholds removed", logx.Int64("deleted", deleted))
	payload := map[string]any{"wins": winsPtr, "role": nil}
	if roleID != "" {
		payload["role"] = roleID
	}
	audit(ctx, req, "roles_remove", payload)
	return req.Reply(ctx, fmt.Sprintf("Removed %d role threshold(s).", deleted))
}

func (m *Manager) clanTagAdd(ctx context.Context, req *Request) error {
	raw, _ := req.Cmd.String("tag")
	tag := strings.ToUpper(strings.TrimSpace(raw))
	if tag == "" {
		return req.Reply(ctx, "Provide a clan tag.")
	}
	if _, err := req.Tenant.Store.AddClanTag(ctx, tag); err != nil {
		return err
	}
	req.Logger.Info("clan tag added", logx.String("tag", tag))
	audit(ctx, req, "clan_tag_add", map[string]any{"tag": tag})
	return req.Reply(ctx, fmt.Sprintf("Clan tag '%s' added", tag))
}

func (m *Manager) clanTagRemove(ctx context.Context, req *Request) error {
	raw, _ := req.Cmd.String("tag")
	tag := strings.ToUpper(strings.TrimSpace(raw))
	removed, err := req.Tenant.Store.RemoveClanTag(ctx, tag)
	if err != nil {
		return err
	}
	n := 0
	if removed {
		n = 1
	}
	audit(ctx, req, "clan_tag_remove", map[string]any{"tag": tag})
	return req.Reply(ctx, fmt.Sprintf("Removed %d clan tag(s) matching '%s'", n, tag))
}

func (m *Manager) resultsStart(ctx context.Context, req *Request) error {
	st := req.Tenant.Store
	if err := st.SetResultsEnabled(ctx, true); err != nil {
		return err
	}
	s, err := st.Settings(ctx)
	if err != nil {
		return err
	}
	audit(ctx, req, "results_start", map[string]any{})
	msg := "Game results posting enabled."
	if s.ResultsChannelID == "" {
		msg += " Set a channel with /post_game_results_channel."
	} else {
		m.wakeResults(req.Cmd.GuildID)
	}
	return req.Reply(ctx, msg)
}

func (m *Manager) resultsStop(ctx context.Context, req *Request) error {
	if err := req.Tenant.Store.SetResultsEnabled(ctx, false); err != nil {
		return err
	}
	audit(ctx, req, "results_stop", map[string]any{})
	return req.Reply(ctx, "Game results posting disabled.")
}

func (m *Manager) resultsChannel(ctx context.Context, req *Request) error {
	channelID, _ := req.Cmd.String("channel")
	ch, err := m.deps.Platform.Channel(ctx, channelID)
	if errors.Is(err, transport.ErrNotFound) || (err == nil && ch.GuildID != "" && ch.GuildID != req.Cmd.GuildID) {
		return req.Reply(ctx, "Channel not found in this guild.")
	}
	if err != nil {
		return fmt.Errorf("resolve channel: %w", err)
	}
	st := req.Tenant.Store
	if err := st.SetResultsChannel(ctx, ch.ID); err != nil {
		return err
	}
	audit(ctx, req, "results_channel", map[string]any{"channel_id": ch.ID})
	if s, err := st.Settings(ctx); err == nil && s.ResultsEnabled {
		m.wakeResults(req.Cmd.GuildID)
	}
	return req.Reply(ctx, fmt.Sprintf("Results will be posted in <#%s>.", ch.ID))
}

func (m *Manager) resultsTest(ctx context.Context, req *Request) error {
	added, err := m.deps.Results.Seed(ctx)
	if err != nil {
		return fmt.Errorf("seed recent games: %w", err)
	}
	audit(ctx, req, "results_test", map[string]any{"added": added})
	lines := []string{fmt.Sprintf("Seeded %d game(s) for results processing.", added)}
	summary, err := m.deps.Results.DrainFor(ctx, req.Cmd.GuildID)
	if err != nil {
		req.Logger.Warn("results drain after seed", logx.Err(err))
	}
	if summary != "" {
		lines = append(lines, summary)
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (m *Manager) linkOverride(ctx context.Context, req *Request) error {
	userID, _ := req.Cmd.String("user")
	playerID, _ := req.Cmd.String("player_id")
	playerID = strings.TrimSpace(playerID)
	if userID == "" || playerID == "" {
		return req.Reply(ctx, "Provide a user and a player ID.")
	}
	st := req.Tenant.Store
	if err := st.LinkUser(ctx, userID, playerID, req.Now); err != nil {
		return fmt.Errorf("link override: %w", err)
	}
	name := req.Cmd.Names[userID]
	if u, err := st.User(ctx, userID); err == nil {
		u.LastUsername = name
		if m.deps.Source != nil {
			if sessions, err := m.deps.Source.Sessions(ctx, playerID); err == nil {
				u.LastOpenFrontUsername = wins.LastUsername(sessions)
			} else {
				req.Logger.Warn("fetch sessions for override failed", logx.Err(err))
			}
		}
		if err := st.SaveUser(ctx, u); err != nil {
			req.Logger.Warn("save override details failed", logx.Err(err))
		}
	}
	req.Logger.Info("link override", logx.String("target", userID), logx.String("player", playerID))
	audit(ctx, req, "link_override", map[string]any{"user": userID, "player_id": playerID})
	if name == "" {
		name = "<@" + userID + ">"
	}
	return req.Reply(ctx, fmt.Sprintf("Linked %s to %s", name, playerID))
}

func (m *Manager) auditList(ctx context.Context, req *Request) error {
	page := int64(1)
	if n, ok := req.Cmd.Int("page"); ok {
		page = max(n, 1)
	}
	rows, total, err := req.Tenant.Store.AuditPage(ctx, int(page), auditPageSize)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return req.Reply(ctx, "No audit entries")
	}
	lines := make([]string, 0, len(rows)+1)
	for _, e := range rows {
		payload := e.Payload
		if payload == "" {
			payload = "{}"
		}
		lines = append(lines, fmt.Sprintf("%d: actor=<@%s> action=%s payload=%s", e.ID, e.ActorID, e.Action, payload))
	}
	pages := (total + auditPageSize - 1) / auditPageSize
	lines = append(lines, fmt.Sprintf("Page %d/%d", page, pages))
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (m *Manager) adminRoleAdd(ctx context.Context, req *Request) error {
	roleID, _ := req.Cmd.String("role")
	if _, err := req.Tenant.Store.AddAdminRole(ctx, roleID); err != nil {
		return err
	}
	m.refresh(ctx, req)
	req.Logger.Info("admin role added", logx.String("role", roleID))
	audit(ctx, req, "admin_role_add", map[string]any{"role_id": roleID})
	return req.Reply(ctx, fmt.Sprintf("Added admin permission to role <@&%s>", roleID))
}

func (m *Manager) adminRoleRemove(ctx context.Context, req *Request) error {
	roleID, _ := req.Cmd.String("role")
	if _, err := req.Tenant.Store.RemoveAdminRole(ctx, roleID); err != nil {
		return err
	}
	m.refresh(ctx, req)
	req.Logger.Info("admin role removed", logx.String("role", roleID))
	audit(ctx, req, "admin_role_remove", map[string]any{"role_id": roleID})
	return req.Reply(ctx, fmt.Sprintf("Removed admin permissions from role <@&%s>", roleID))
}

func (m *Manager) adminRoles(ctx context.Context, req *Request) error {
	ids, err := req.Tenant.Store.AdminRoles(ctx)
	if err != nil {
		return err
	}
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		lines = append(lines, "<@&"+id+">")
	}
	return req.Reply(ctx, listOr(lines, "\n", "No admin roles configured."))
}

func (m *Manager) guildRemove(ctx context.Context, req *Request) error {
	if ok, _ := req.Cmd.Bool("confirm"); !ok {
		return req.Reply(ctx, "This will delete all data for this guild. Re-run with confirm=true to proceed.")
	}
	if err := req.Reply(ctx, "Removing guild data..."); err != nil {
		req.Logger.Warn("reply failed", logx.Err(err))
	}
	guildID := req.Cmd.GuildID
	if err := m.deps.Tenants.Remove(ctx, guildID); err != nil {
		return fmt.Errorf("remove guild data: %w", err)
	}
	req.Logger.Info("guild data removed by admin")
	if err := m.deps.Platform.LeaveGuild(ctx, guildID); err != nil {
		req.Logger.Warn("leave guild failed", logx.Err(err))
	}
	return nil
}

// refresh reloads the guild's cached thresholds and admin roles.
func (m *Manager) refresh(ctx context.Context, req *Request) {
	if err := req.Tenant.Refresh(ctx); err != nil {
		req.Logger.Warn("refresh guild cache failed", logx.Err(err))
	}
}

func (m *Manager) wakeResults(guildID string) {
	if m.deps.Bus == nil {
		return
	}
	m.deps.Bus.Publish(eventbus.Event{Type: eventbus.ResultsRequested, Time: m.now(), Data: guildID})
}
