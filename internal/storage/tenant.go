package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

// TenantPath returns the per-guild database file under dir.
func TenantPath(dir, guildID string) string {
	return filepath.Join(dir, fmt.Sprintf("guild_%s.db", guildID))
}

// Tenant is one guild's store.
type Tenant struct {
	db   *sql.DB
	path string
	log  logx.Logger
}

func OpenTenant(path string, cfg Config, log logx.Logger) (*Tenant, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	db, err := openDB(path, cfg, "tenant.sql")
	if err != nil {
		return nil, err
	}
	return &Tenant{db: db, path: path, log: log}, nil
}

func (t *Tenant) Path() string { return t.path }

func (t *Tenant) Close() error {
	if t == nil || t.db == nil {
		return nil
	}
	return t.db.Close()
}

// Settings

func (t *Tenant) Settings(ctx context.Context) (Settings, error) {
	var s Settings
	var backoff, lastSync sql.NullInt64
	var channel sql.NullString
	var roles, results int
	err := t.db.QueryRowContext(ctx,
		`SELECT counting_mode, backoff_until, last_sync_at, roles_enabled, results_enabled, results_channel_id
		 FROM settings WHERE id = 1`,
	).Scan(&s.CountingMode, &backoff, &lastSync, &roles, &results, &channel)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{}, ErrNotFound
	}
	if err != nil {
		return Settings{}, err
	}
	s.BackoffUntil, s.LastSyncAt = fromMillis(backoff), fromMillis(lastSync)
	s.RolesEnabled, s.ResultsEnabled = roles != 0, results != 0
	s.ResultsChannelID = channel.String
	return s, nil
}

func (t *Tenant) updateSettings(ctx context.Context, set string, args ...any) error {
	_, err := t.db.ExecContext(ctx, `UPDATE settings SET `+set+` WHERE id = 1`, args...)
	return err
}

func (t *Tenant) SetCountingMode(ctx context.Context, mode string) error {
	return t.updateSettings(ctx, `counting_mode = ?`, mode)
}

func (t *Tenant) SetRolesEnabled(ctx context.Context, enabled bool) error {
	return t.updateSettings(ctx, `roles_enabled = ?`, boolInt(enabled))
}

func (t *Tenant) SetResultsEnabled(ctx context.Context, enabled bool) error {
	return t.updateSettings(ctx, `results_enabled = ?`, boolInt(enabled))
}

func (t *Tenant) SetResultsChannel(ctx context.Context, channelID string) error {
	return t.updateSettings(ctx, `results_channel_id = ?`, nullStr(channelID))
}

// SetSyncOutcome stores the pass result. A zero backoffUntil clears the backoff.
func (t *Tenant) SetSyncOutcome(ctx context.Context, backoffUntil, syncedAt time.Time) error {
	return t.updateSettings(ctx, `backoff_until = ?, last_sync_at = ?`, nullMillis(backoffUntil), nullMillis(syncedAt))
}

// Users

const userColumns = `discord_user_id, player_id, linked_at, last_win_count, last_role_id, last_username,
	last_openfront_username, consecutive_404, disabled, last_error_reason, created_at, updated_at`

// LinkUser binds userID to playerID, replacing any previous link and its sync state.
func (t *Tenant) LinkUser(ctx context.Context, userID, playerID string, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	ms := at.UnixMilli()
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO users(discord_user_id, player_id, linked_at, created_at, updated_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(discord_user_id) DO UPDATE SET
		   player_id = excluded.player_id, linked_at = excluded.linked_at, last_win_count = 0,
		   last_role_id = NULL, last_openfront_username = NULL, consecutive_404 = 0, disabled = 0,
		   last_error_reason = NULL, updated_at = excluded.updated_at`,
		userID, playerID, ms, ms, ms,
	)
	return err
}

func (t *Tenant) User(ctx context.Context, userID string) (User, error) {
	u, err := scanUser(t.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE discord_user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (t *Tenant) Users(ctx context.Context) ([]User, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY linked_at, discord_user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// SaveUser writes the sync-owned fields of u.
func (t *Tenant) SaveUser(ctx context.Context, u User) error {
	_, err := t.db.ExecContext(ctx,
		`UPDATE users SET last_win_count = ?, last_role_id = ?, last_username = ?, last_openfront_username = ?,
		   consecutive_404 = ?, disabled = ?, last_error_reason = ?, updated_at = ?
		 WHERE discord_user_id = ?`,
		u.LastWinCount, nullStr(u.LastRoleID), nullStr(u.LastUsername), nullStr(u.LastOpenFrontUsername),
		u.Consecutive404, boolInt(u.Disabled), nullStr(u.LastErrorReason), time.Now().UnixMilli(),
		u.DiscordUserID,
	)
	return err
}

func (t *Tenant) UnlinkUser(ctx context.Context, userID string) (bool, error) {
	res, err := t.db.ExecContext(ctx, `DELETE FROM users WHERE discord_user_id = ?`, userID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UsernameIndex maps a last known game username to the linked Discord ids carrying it.
func (t *Tenant) UsernameIndex(ctx context.Context) (map[string][]string, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT discord_user_id, last_openfront_username FROM users WHERE last_openfront_username IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string][]string{}
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		key := strings.TrimSpace(name)
		if key == "" {
			continue
		}
		out[key] = append(out[key], id)
	}
	return out, rows.Err()
}

func scanUser(r rowScanner) (User, error) {
	var u User
	var linked, created, updated int64
	var roleID, username, ofName, reason sql.NullString
	var disabled int
	if err := r.Scan(&u.DiscordUserID, &u.PlayerID, &linked, &u.LastWinCount, &roleID, &username,
		&ofName, &u.Consecutive404, &disabled, &reason, &created, &updated); err != nil {
		return User{}, err
	}
	u.LinkedAt, u.CreatedAt, u.UpdatedAt = time.UnixMilli(linked), time.UnixMilli(created), time.UnixMilli(updated)
	u.LastRoleID, u.LastUsername, u.LastOpenFrontUsername = roleID.String, username.String, ofName.String
	u.Disabled, u.LastErrorReason = disabled != 0, reason.String
	return u, nil
}

// Role thresholds

func (t *Tenant) Thresholds(ctx context.Context) ([]Threshold, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT id, wins, role_id, role_name FROM role_thresholds ORDER BY wins`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Threshold
	for rows.Next() {
		var th Threshold
		if err := rows.Scan(&th.ID, &th.Wins, &th.RoleID, &th.RoleName); err != nil {
			return nil, err
		}
		out = append(out, th)
	}
	return out, rows.Err()
}

// UpsertThreshold binds roleID to the wins floor, replacing the role on an
// existing floor. It fails with ErrThresholdRoleInUse when roleID already
// belongs to a different floor.
func (t *Tenant) UpsertThreshold(ctx context.Context, wins int, roleID, roleName string) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	err = tx.QueryRowContext(ctx, `SELECT wins FROM role_thresholds WHERE role_id = ?`, roleID).Scan(&existing)
	switch {
	case err == nil && existing != wins:
		return ErrThresholdRoleInUse
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO role_thresholds(wins, role_id, role_name) VALUES(?,?,?)
		 ON CONFLICT(wins) DO UPDATE SET role_id = excluded.role_id, role_name = excluded.role_name`,
		wins, roleID, roleName,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveThresholds deletes thresholds matching wins and/or roleID. With both
// given, a row must match both.
func (t *Tenant) RemoveThresholds(ctx context.Context, wins *int, roleID string) (int64, error) {
	var conds []string
	var args []any
	if wins != nil {
		conds = append(conds, "wins = ?")
		args = append(args, *wins)
	}
	if roleID != "" {
		conds = append(conds, "role_id = ?")
		args = append(args, roleID)
	}
	if len(conds) == 0 {
		return 0, nil
	}
	res, err := t.db.ExecContext(ctx, `DELETE FROM role_thresholds WHERE `+strings.Join(conds, " AND "), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Clan tags

func (t *Tenant) ClanTags(ctx context.Context) ([]string, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT tag_text FROM clan_tags ORDER BY tag_text`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		out = append(out, tag)
	}
	return out, rows.Err()
}

// AddClanTag stores tag uppercased and reports whether it was new.
func (t *Tenant) AddClanTag(ctx context.Context, tag string) (bool, error) {
	tag = strings.ToUpper(strings.TrimSpace(tag))
	if tag == "" {
		return false, errors.New("clan tag is empty")
	}
	res, err := t.db.ExecContext(ctx, `INSERT OR IGNORE INTO clan_tags(tag_text) VALUES(?)`, tag)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (t *Tenant) RemoveClanTag(ctx context.Context, tag string) (bool, error) {
	tag = strings.ToUpper(strings.TrimSpace(tag))
	res, err := t.db.ExecContext(ctx, `DELETE FROM clan_tags WHERE tag_text = ?`, tag)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Posted matches

func (t *Tenant) IsPosted(ctx context.Context, matchID string) (bool, error) {
	var one int
	err := t.db.QueryRowContext(ctx, `SELECT 1 FROM posted_matches WHERE match_id = ?`, matchID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (t *Tenant) RecordPosted(ctx context.Context, p PostedMatch) error {
	if p.PostedAt.IsZero() {
		p.PostedAt = time.Now()
	}
	tags := p.WinningTags
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	_, err = t.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO posted_matches(match_id, game_start, posted_at, winning_tags) VALUES(?,?,?,?)`,
		p.MatchID, nullMillis(p.GameStart), p.PostedAt.UnixMilli(), string(b),
	)
	return err
}

func (t *Tenant) PostedMatch(ctx context.Context, matchID string) (PostedMatch, error) {
	var p PostedMatch
	var start sql.NullInt64
	var posted int64
	var tags string
	err := t.db.QueryRowContext(ctx,
		`SELECT match_id, game_start, posted_at, winning_tags FROM posted_matches WHERE match_id = ?`, matchID,
	).Scan(&p.MatchID, &start, &posted, &tags)
	if errors.Is(err, sql.ErrNoRows) {
		return PostedMatch{}, ErrNotFound
	}
	if err != nil {
		return PostedMatch{}, err
	}
	p.GameStart, p.PostedAt = fromMillis(start), time.UnixMilli(posted)
	if err := json.Unmarshal([]byte(tags), &p.WinningTags); err != nil {
		return PostedMatch{}, fmt.Errorf("decode winning_tags: %w", err)
	}
	return p, nil
}

func (t *Tenant) PrunePosted(ctx context.Context, before time.Time) (int64, error) {
	res, err := t.db.ExecContext(ctx, `DELETE FROM posted_matches WHERE posted_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Audit

// AppendAudit records an admin action. payload is JSON-encoded when non-nil.
func (t *Tenant) AppendAudit(ctx context.Context, actorID, action string, payload any) error {
	var raw any
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = string(b)
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO audit(actor_discord_id, action, payload, created_at) VALUES(?,?,?,?)`,
		actorID, action, raw, time.Now().UnixMilli(),
	)
	return err
}

// AuditPage returns one page (1-based), newest first, and the total row count.
func (t *Tenant) AuditPage(ctx context.Context, page, size int) ([]AuditEntry, int, error) {
	page, size = max(page, 1), max(size, 1)
	var total int
	if err := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, actor_discord_id, action, payload, created_at FROM audit
		 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		size, (page-1)*size,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var payload sql.NullString
		var created int64
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &payload, &created); err != nil {
			return nil, 0, err
		}
		e.Payload, e.CreatedAt = payload.String, time.UnixMilli(created)
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (t *Tenant) PruneAudit(ctx context.Context, before time.Time) (int64, error) {
	res, err := t.db.ExecContext(ctx, `DELETE FROM audit WHERE created_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Admin roles

func (t *Tenant) AdminRoles(ctx context.Context) ([]string, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT role_id FROM admin_roles ORDER BY role_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SeedAdminRoles inserts ids that are not present yet.
func (t *Tenant) SeedAdminRoles(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			continue
		}
		if _, err := t.AddAdminRole(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tenant) AddAdminRole(ctx context.Context, roleID string) (bool, error) {
	res, err := t.db.ExecContext(ctx, `INSERT OR IGNORE INTO admin_roles(role_id) VALUES(?)`, roleID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (t *Tenant) RemoveAdminRole(ctx context.Context, roleID string) (bool, error) {
	res, err := t.db.ExecContext(ctx, `DELETE FROM admin_roles WHERE role_id = ?`, roleID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
