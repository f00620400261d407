package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/DeLoWaN/openfront-discord-bot/internal/badge"
	"github.com/DeLoWaN/openfront-discord-bot/internal/openfront"
	"github.com/DeLoWaN/openfront-discord-bot/internal/storage"
	"github.com/DeLoWaN/openfront-discord-bot/internal/tenant"
	"github.com/DeLoWaN/openfront-discord-bot/internal/transport"
	"github.com/DeLoWaN/openfront-discord-bot/internal/wins"
	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

const reasonNotFound = "404:player_not_found"

// User-facing replies of the single-member sync.
const (
	MsgNotLinked = "User not linked."
	MsgDisabled  = "Sync disabled for this user (player not found). Ask them to re-link."
)

// Pass syncs every linked member of the guild and returns a summary line.
// Disabled identities are only retried when manual is set. A pass already in
// progress yields ErrBusy instead of waiting.
func (s *Service) Pass(ctx context.Context, c *tenant.Context, manual bool) (string, error) {
	if c == nil {
		return "Guild unavailable", nil
	}
	if !c.TryLockSync() {
		return "Sync already running", ErrBusy
	}
	defer c.UnlockSync()

	log := s.log.With(logx.String("guild", c.GuildID), logx.String("pass", uuid.NewString()))
	settings, err := c.Store.Settings(ctx)
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}
	if until := settings.BackoffUntil; !until.IsZero() && until.After(s.now()) {
		log.Warn("skipping sync; guild in backoff", logx.Time("until", until))
		return "In backoff until " + until.UTC().Format(time.RFC3339), nil
	}

	thresholds := c.Thresholds()
	s.warnMissingRoles(ctx, c.GuildID, thresholds, log)

	in, err := s.inputs(ctx, c, settings)
	if err != nil {
		return "", err
	}
	users, err := c.Store.Users(ctx)
	if err != nil {
		return "", fmt.Errorf("load users: %w", err)
	}

	var processed, failures, disabled int
	upstreamTrouble := false
	for _, u := range users {
		if ctx.Err() != nil {
			break
		}
		if u.Disabled && !manual {
			disabled++
			continue
		}
		member, err := s.members.Member(ctx, c.GuildID, u.DiscordUserID)
		if errors.Is(err, transport.ErrNotFound) {
			log.Warn("linked user not in guild; skipping", logx.String("user", u.DiscordUserID))
			continue
		}
		if err != nil {
			failures++
			log.Warn("member lookup failed", logx.String("user", u.DiscordUserID), logx.Err(err))
			continue
		}

		prevRole := u.LastRoleID
		res, err := wins.Count(ctx, s.src, in.mode, wins.Input{PlayerID: u.PlayerID, LinkedAt: u.LinkedAt, ClanTags: in.tags})
		if err != nil {
			failures++
			if openfront.IsNotFound(err) {
				u.Consecutive404++
				u.LastErrorReason = reasonNotFound
				if u.Consecutive404 >= s.cfg.DisableAfter {
					u.Disabled = true
					disabled++
					log.Warn("user disabled after repeated player not found", logx.String("member", member.Label()), logx.Int("count", u.Consecutive404))
				}
			} else {
				upstreamTrouble = true
				u.LastErrorReason = err.Error()
			}
			if serr := c.Store.SaveUser(ctx, u); serr != nil {
				log.Error("save user failed", logx.String("user", u.DiscordUserID), logx.Err(serr))
			}
			log.Warn("failed syncing user", logx.String("member", member.Label()), logx.String("player", u.PlayerID), logx.Err(err))
			continue
		}

		roleID, err := s.applyBadge(ctx, c.GuildID, member, thresholds, res.Wins, settings.RolesEnabled)
		if err != nil {
			failures++
			log.Warn("badge update failed", logx.String("member", member.Label()), logx.Err(err))
			continue
		}
		markSynced(&u, member, res, roleID)
		if err := c.Store.SaveUser(ctx, u); err != nil {
			failures++
			log.Error("save user failed", logx.String("user", u.DiscordUserID), logx.Err(err))
			continue
		}
		log.Debug("user synced",
			logx.String("member", member.Label()),
			logx.String("mode", string(in.mode)),
			logx.Int("wins", res.Wins),
			logx.String("role", roleID),
			logx.Bool("changed", roleID != prevRole),
		)
		processed++
	}

	var backoff time.Time
	if upstreamTrouble {
		backoff = s.now().Add(s.cfg.Backoff)
		log.Warn("possible upstream rate limiting; backing off guild", logx.Time("until", backoff))
	}
	// A canceled pass still records its outcome.
	if err := c.Store.SetSyncOutcome(context.WithoutCancel(ctx), backoff, s.now()); err != nil {
		return "", fmt.Errorf("save sync outcome: %w", err)
	}
	summary := fmt.Sprintf("Processed %d users, failures: %d, disabled: %d", processed, failures, disabled)
	log.Info("guild sync finished", logx.String("summary", summary), logx.Bool("manual", manual))
	return summary, nil
}

// SyncMember refreshes one linked member on demand.
func (s *Service) SyncMember(ctx context.Context, c *tenant.Context, member transport.Member) (string, error) {
	if !c.TryLockSync() {
		return "Sync already running", ErrBusy
	}
	defer c.UnlockSync()

	u, err := c.Store.User(ctx, member.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return MsgNotLinked, nil
	}
	if err != nil {
		return "", err
	}
	if u.Disabled {
		return MsgDisabled, nil
	}
	settings, err := c.Store.Settings(ctx)
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}
	in, err := s.inputs(ctx, c, settings)
	if err != nil {
		return "", err
	}
	res, err := wins.Count(ctx, s.src, in.mode, wins.Input{PlayerID: u.PlayerID, LinkedAt: u.LinkedAt, ClanTags: in.tags})
	if err != nil {
		return "", fmt.Errorf("count wins: %w", err)
	}
	roleID, err := s.applyBadge(ctx, c.GuildID, member, c.Thresholds(), res.Wins, settings.RolesEnabled)
	if err != nil {
		return "", fmt.Errorf("update badge: %w", err)
	}
	markSynced(&u, member, res, roleID)
	if err := c.Store.SaveUser(ctx, u); err != nil {
		return "", err
	}
	s.log.Info("member synced", logx.String("guild", c.GuildID), logx.String("member", member.Label()), logx.Int("wins", res.Wins))
	return fmt.Sprintf("Synced %s: %d wins", displayName(member), res.Wins), nil
}

type passInputs struct {
	mode wins.Mode
	tags []string
}

func (s *Service) inputs(ctx context.Context, c *tenant.Context, settings storage.Settings) (passInputs, error) {
	mode, err := wins.ParseMode(settings.CountingMode)
	if err != nil {
		s.log.Warn("unknown counting mode; using default", logx.String("guild", c.GuildID), logx.String("mode", settings.CountingMode))
		mode = wins.DefaultMode
	}
	tags, err := c.Store.ClanTags(ctx)
	if err != nil {
		return passInputs{}, fmt.Errorf("load clan tags: %w", err)
	}
	return passInputs{mode: mode, tags: tags}, nil
}

// applyBadge returns the target role. With roles disabled the target is
// computed but nothing is sent to the platform.
func (s *Service) applyBadge(ctx context.Context, guildID string, m transport.Member, thresholds []badge.Threshold, n int, enabled bool) (string, error) {
	if !enabled || s.badges == nil {
		t, _ := badge.Select(thresholds, n)
		return t.RoleID, nil
	}
	res, err := s.badges.Submit(ctx, badge.Job{GuildID: guildID, Member: m, Thresholds: thresholds, Wins: n})
	return res.RoleID, err
}

func (s *Service) warnMissingRoles(ctx context.Context, guildID string, thresholds []badge.Threshold, log logx.Logger) {
	if len(thresholds) == 0 {
		return
	}
	roles, err := s.members.GuildRoles(ctx, guildID)
	if err != nil {
		log.Debug("guild roles unavailable", logx.Err(err))
		return
	}
	have := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		have[r.ID] = struct{}{}
	}
	for _, t := range thresholds {
		if _, ok := have[t.RoleID]; !ok {
			log.Warn("configured threshold role missing from guild", logx.String("role", t.RoleID), logx.Int("wins", t.Wins))
		}
	}
}

func markSynced(u *storage.User, m transport.Member, res wins.Result, roleID string) {
	u.LastWinCount = res.Wins
	u.Consecutive404 = 0
	u.Disabled = false
	u.LastErrorReason = ""
	if res.Username != "" {
		u.LastOpenFrontUsername = res.Username
	}
	u.LastRoleID = roleID
	u.LastUsername = displayName(m)
}

func displayName(m transport.Member) string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Username
}
