package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/DeLoWaN/openfront-discord-bot/internal/tracking"
	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

// Central is the process-wide store: guild registry and tracked matches.
type Central struct {
	db  *sql.DB
	log logx.Logger
}

var _ tracking.Store = (*Central)(nil)

func OpenCentral(path string, cfg Config, log logx.Logger) (*Central, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	db, err := openDB(path, cfg, "central.sql")
	if err != nil {
		return nil, err
	}
	log.Debug("central store opened", logx.String("path", path))
	return &Central{db: db, log: log}, nil
}

func (c *Central) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// RegisterGuild upserts the registry entry for guildID.
func (c *Central) RegisterGuild(ctx context.Context, guildID, dbPath string) error {
	now := time.Now().UnixMilli()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO guild_entries(guild_id, database_path, created_at, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(guild_id) DO UPDATE SET database_path=excluded.database_path, updated_at=excluded.updated_at`,
		guildID, dbPath, now, now,
	)
	return err
}

func (c *Central) GuildEntry(ctx context.Context, guildID string) (GuildEntry, error) {
	var e GuildEntry
	var created, updated int64
	err := c.db.QueryRowContext(ctx,
		`SELECT guild_id, database_path, created_at, updated_at FROM guild_entries WHERE guild_id = ?`, guildID,
	).Scan(&e.GuildID, &e.DatabasePath, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return GuildEntry{}, ErrNotFound
	}
	if err != nil {
		return GuildEntry{}, err
	}
	e.CreatedAt, e.UpdatedAt = time.UnixMilli(created), time.UnixMilli(updated)
	return e, nil
}

func (c *Central) ListGuilds(ctx context.Context) ([]GuildEntry, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT guild_id, database_path, created_at, updated_at FROM guild_entries ORDER BY guild_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []GuildEntry
	for rows.Next() {
		var e GuildEntry
		var created, updated int64
		if err := rows.Scan(&e.GuildID, &e.DatabasePath, &created, &updated); err != nil {
			return nil, err
		}
		e.CreatedAt, e.UpdatedAt = time.UnixMilli(created), time.UnixMilli(updated)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (c *Central) RemoveGuild(ctx context.Context, guildID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM guild_entries WHERE guild_id = ?`, guildID)
	return err
}

func (c *Central) TrackMatch(ctx context.Context, id string, firstSeen, nextAttempt time.Time) (bool, error) {
	res, err := c.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO tracked_matches(match_id, first_seen_at, next_attempt_at) VALUES(?,?,?)`,
		id, firstSeen.UnixMilli(), nextAttempt.UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *Central) DueMatches(ctx context.Context, now time.Time, limit int) ([]tracking.Match, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT match_id, first_seen_at, next_attempt_at, consecutive_unexpected_failures, failed_at
		 FROM tracked_matches
		 WHERE failed_at IS NULL AND next_attempt_at <= ?
		 ORDER BY next_attempt_at, match_id
		 LIMIT ?`,
		now.UnixMilli(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []tracking.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (c *Central) TrackedMatch(ctx context.Context, id string) (tracking.Match, error) {
	m, err := scanMatch(c.db.QueryRowContext(ctx,
		`SELECT match_id, first_seen_at, next_attempt_at, consecutive_unexpected_failures, failed_at
		 FROM tracked_matches WHERE match_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return tracking.Match{}, ErrNotFound
	}
	return m, err
}

func (c *Central) SaveMatch(ctx context.Context, m tracking.Match) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE tracked_matches SET next_attempt_at = ?, consecutive_unexpected_failures = ?, failed_at = ?
		 WHERE match_id = ?`,
		m.NextAttemptAt.UnixMilli(), m.Failures, nullMillis(m.FailedAt), m.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *Central) RemoveMatch(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM tracked_matches WHERE match_id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(r rowScanner) (tracking.Match, error) {
	var m tracking.Match
	var first, next int64
	var failed sql.NullInt64
	if err := r.Scan(&m.ID, &first, &next, &m.Failures, &failed); err != nil {
		return tracking.Match{}, err
	}
	m.FirstSeenAt, m.NextAttemptAt, m.FailedAt = time.UnixMilli(first), time.UnixMilli(next), fromMillis(failed)
	return m, nil
}
