package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DeLoWaN/openfront-discord-bot/internal/storage"
	"github.com/DeLoWaN/openfront-discord-bot/internal/wins"
	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

var modeLabels = map[string]string{
	string(wins.ModeTotal):             "Total wins",
	string(wins.ModeSessionsSinceLink): "Wins since you linked",
	string(wins.ModeSessionsWithClan):  "Wins in sessions with clan tags",
}

const timeLayout = "2006-01-02 15:04 UTC"

func (m *Manager) link(ctx context.Context, req *Request) error {
	playerID, _ := req.Cmd.String("player_id")
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return req.Reply(ctx, "Provide your OpenFront player ID.")
	}
	invoker := req.Cmd.Invoker
	st := req.Tenant.Store
	req.Logger.Info("link request", logx.String("player", playerID))
	if err := st.LinkUser(ctx, invoker.ID, playerID, req.Now); err != nil {
		return fmt.Errorf("link: %w", err)
	}
	audit(ctx, req, "link", map[string]any{"player_id": playerID})

	_, syncErr := m.deps.Syncer.SyncMember(ctx, req.Tenant, invoker)
	if syncErr != nil {
		req.Logger.Warn("immediate sync after link failed", logx.Err(syncErr))
	}
	username := "unknown"
	u, err := st.User(ctx, invoker.ID)
	if err == nil && u.LastOpenFrontUsername != "" {
		username = u.LastOpenFrontUsername
	}
	lines := []string{fmt.Sprintf("Linked to player `%s`. Last OpenFront username: `%s`", playerID, username)}
	if syncErr == nil && err == nil {
		lines = append(lines, fmt.Sprintf("Current wins: `%d` (roles refreshed)", u.LastWinCount))
	} else {
		lines = append(lines, "Could not fetch wins immediately; will update on next sync.")
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (m *Manager) unlink(ctx context.Context, req *Request) error {
	removed, err := req.Tenant.Store.UnlinkUser(ctx, req.Cmd.Invoker.ID)
	if err != nil {
		return fmt.Errorf("unlink: %w", err)
	}
	if !removed {
		return req.Reply(ctx, "Not linked.")
	}
	audit(ctx, req, "unlink", map[string]any{})
	return req.Reply(ctx, "Unlinked.")
}

func (m *Manager) status(ctx context.Context, req *Request) error {
	target := req.Cmd.Invoker.ID
	if other, ok := req.Cmd.String("user"); ok && other != target {
		if !IsAdmin(req.Tenant, req.Cmd.Invoker) {
			return req.Reply(ctx, "Admins only: you need admin permissions to check another user.")
		}
		target = other
	}
	st := req.Tenant.Store
	u, err := st.User(ctx, target)
	if errors.Is(err, storage.ErrNotFound) {
		return req.Reply(ctx, "Not linked.")
	}
	if err != nil {
		return err
	}
	if u.Disabled {
		return req.Reply(ctx, "Sync disabled for this user (player not found after multiple attempts). Please re-link.")
	}
	settings, err := st.Settings(ctx)
	if err != nil {
		return err
	}

	roleLine := "Last role: none"
	if u.LastRoleID != "" {
		roleLine = fmt.Sprintf("Last role: <@&%s>", u.LastRoleID)
	}
	tagsLine := ""
	if settings.CountingMode == string(wins.ModeSessionsWithClan) {
		tags, err := st.ClanTags(ctx)
		if err != nil {
			return err
		}
		tagsLine = " (tags: " + listOr(tags, ", ", "none") + ")"
	}
	label, ok := modeLabels[settings.CountingMode]
	if !ok {
		label = settings.CountingMode
	}
	username := u.LastOpenFrontUsername
	if username == "" {
		username = "unknown"
	}
	msg := strings.Join([]string{
		fmt.Sprintf("Player ID: `%s`", u.PlayerID),
		"Linked: " + formatTime(u.LinkedAt, "unknown"),
		fmt.Sprintf("Last wins: %d", u.LastWinCount),
		fmt.Sprintf("Last OpenFront username: `%s`", username),
		"Counting mode: " + label + tagsLine,
		roleLine,
		"Last sync: " + formatTime(settings.LastSyncAt, "never"),
	}, "\n")
	return req.Reply(ctx, msg)
}

func (m *Manager) roles(ctx context.Context, req *Request) error {
	rows, err := req.Tenant.Store.Thresholds(ctx)
	if err != nil {
		return err
	}
	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("%d wins: <@&%s>", r.Wins, r.RoleID))
	}
	return req.Reply(ctx, listOr(lines, "\n", "No roles configured"))
}

func (m *Manager) clansList(ctx context.Context, req *Request) error {
	tags, err := req.Tenant.Store.ClanTags(ctx)
	if err != nil {
		return err
	}
	return req.Reply(ctx, listOr(tags, ", ", "No clan tags configured."))
}

func listOr(items []string, sep, empty string) string {
	if len(items) == 0 {
		return empty
	}
	return strings.Join(items, sep)
}

func formatTime(t time.Time, zero string) string {
	if t.IsZero() {
		return zero
	}
	return t.UTC().Format(timeLayout)
}
