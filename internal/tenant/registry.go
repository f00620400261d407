// Package tenant owns the per-guild contexts.
//
// Registry mutations (Register, Remove, Prune) happen on the lifecycle
// goroutine; workers only read through Get and List.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/DeLoWaN/openfront-discord-bot/internal/badge"
	"github.com/DeLoWaN/openfront-discord-bot/internal/storage"
	"github.com/DeLoWaN/openfront-discord-bot/internal/transport"
	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

// Context is one active guild.
type Context struct {
	GuildID string
	Store   *storage.Tenant

	syncMu sync.Mutex

	mu         sync.RWMutex
	adminRoles map[string]struct{}
	thresholds []badge.Threshold
}

// TryLockSync claims the guild's sync pass. It never blocks.
func (c *Context) TryLockSync() bool { return c.syncMu.TryLock() }
func (c *Context) UnlockSync()       { c.syncMu.Unlock() }

// IsAdminRole reports whether any of roleIDs is a cached admin role.
func (c *Context) IsAdminRole(roleIDs []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range roleIDs {
		if _, ok := c.adminRoles[id]; ok {
			return true
		}
	}
	return false
}

// Thresholds returns the cached role thresholds.
func (c *Context) Thresholds() []badge.Threshold {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]badge.Threshold(nil), c.thresholds...)
}

// Refresh reloads the admin-role and threshold caches from the store.
func (c *Context) Refresh(ctx context.Context) error {
	roles, err := c.Store.AdminRoles(ctx)
	if err != nil {
		return fmt.Errorf("load admin roles: %w", err)
	}
	rows, err := c.Store.Thresholds(ctx)
	if err != nil {
		return fmt.Errorf("load thresholds: %w", err)
	}
	admin := make(map[string]struct{}, len(roles))
	for _, id := range roles {
		admin[id] = struct{}{}
	}
	ths := make([]badge.Threshold, 0, len(rows))
	for _, r := range rows {
		ths = append(ths, badge.Threshold{Wins: r.Wins, RoleID: r.RoleID})
	}
	c.mu.Lock()
	c.adminRoles, c.thresholds = admin, ths
	c.mu.Unlock()
	return nil
}

type Config struct {
	DataDir string
	Storage storage.Config
}

type Registry struct {
	cfg     Config
	central *storage.Central
	log     logx.Logger

	mu   sync.RWMutex
	ctxs map[string]*Context

	// OnRegister runs after a guild becomes active (used to queue its first sync).
	OnRegister func(guildID string)
}

func NewRegistry(cfg Config, central *storage.Central, log logx.Logger) *Registry {
	if cfg.DataDir == "" {
		cfg.DataDir = "guild_data"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{cfg: cfg, central: central, log: log.With(logx.String("comp", "tenant")), ctxs: map[string]*Context{}}
}

// AdminRoleIDs returns the roles carrying Administrator or Manage Server.
func AdminRoleIDs(roles []transport.Role) []string {
	var out []string
	for _, r := range roles {
		if transport.IsAdminPermission(r.Permissions) {
			out = append(out, r.ID)
		}
	}
	return out
}

// Register returns the guild's context, opening its store on first use.
func (r *Registry) Register(ctx context.Context, g transport.Guild) (*Context, error) {
	if c, ok := r.Get(g.ID); ok {
		return c, nil
	}

	path := storage.TenantPath(r.cfg.DataDir, g.ID)
	if e, err := r.central.GuildEntry(ctx, g.ID); err == nil && e.DatabasePath != "" {
		path = e.DatabasePath
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	st, err := storage.OpenTenant(path, r.cfg.Storage, r.log)
	if err != nil {
		return nil, fmt.Errorf("open guild %s store: %w", g.ID, err)
	}
	if err := st.SeedAdminRoles(ctx, AdminRoleIDs(g.Roles)); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("seed admin roles: %w", err)
	}
	c := &Context{GuildID: g.ID, Store: st}
	if err := c.Refresh(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	if err := r.central.RegisterGuild(ctx, g.ID, path); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("register guild %s: %w", g.ID, err)
	}

	r.mu.Lock()
	r.ctxs[g.ID] = c
	r.mu.Unlock()
	r.log.Info("guild registered", logx.String("guild", g.ID), logx.String("name", g.Name), logx.String("db", path))

	if r.OnRegister != nil {
		r.OnRegister(g.ID)
	}
	return c, nil
}

// Remove tears down the guild: closes and deletes its store and drops the
// central entry. It is safe to call for unknown guilds.
func (r *Registry) Remove(ctx context.Context, guildID string) error {
	r.mu.Lock()
	c, ok := r.ctxs[guildID]
	delete(r.ctxs, guildID)
	r.mu.Unlock()

	path := ""
	if ok {
		path = c.Store.Path()
		if err := c.Store.Close(); err != nil {
			r.log.Warn("close guild store failed", logx.String("guild", guildID), logx.Err(err))
		}
	} else if e, err := r.central.GuildEntry(ctx, guildID); err == nil {
		path = e.DatabasePath
	}
	if path != "" {
		removeDBFiles(path, r.log)
	}
	if err := r.central.RemoveGuild(ctx, guildID); err != nil {
		return fmt.Errorf("remove guild %s: %w", guildID, err)
	}
	r.log.Info("guild removed", logx.String("guild", guildID))
	return nil
}

func removeDBFiles(path string, log logx.Logger) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("delete guild db failed", logx.String("path", p), logx.Err(err))
		}
	}
}

// Prune removes every known guild not listed in active.
func (r *Registry) Prune(ctx context.Context, active []string) (int, error) {
	keep := make(map[string]struct{}, len(active))
	for _, id := range active {
		keep[id] = struct{}{}
	}
	entries, err := r.central.ListGuilds(ctx)
	if err != nil {
		return 0, err
	}
	stale := map[string]struct{}{}
	for _, e := range entries {
		if _, ok := keep[e.GuildID]; !ok {
			stale[e.GuildID] = struct{}{}
		}
	}
	for _, id := range r.IDs() {
		if _, ok := keep[id]; !ok {
			stale[id] = struct{}{}
		}
	}
	n := 0
	for id := range stale {
		if err := r.Remove(ctx, id); err != nil {
			r.log.Warn("prune guild failed", logx.String("guild", id), logx.Err(err))
			continue
		}
		n++
	}
	return n, nil
}

func (r *Registry) Get(guildID string) (*Context, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.ctxs[guildID]
	return c, ok
}

// IDs lists active guild ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.ctxs))
	for id := range r.ctxs {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// List returns active contexts ordered by guild id.
func (r *Registry) List() []*Context {
	ids := r.IDs()
	out := make([]*Context, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.Get(id); ok {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ctxs)
}

// PruneRetention deletes audit rows older than auditAge and posted-match
// records older than postedAge in every guild.
func (r *Registry) PruneRetention(ctx context.Context, now time.Time, auditAge, postedAge time.Duration) error {
	var errs []error
	for _, c := range r.List() {
		audits, err := c.Store.PruneAudit(ctx, now.Add(-auditAge))
		if err != nil {
			errs = append(errs, fmt.Errorf("guild %s audit: %w", c.GuildID, err))
		}
		posted, err := c.Store.PrunePosted(ctx, now.Add(-postedAge))
		if err != nil {
			errs = append(errs, fmt.Errorf("guild %s posted: %w", c.GuildID, err))
		}
		if audits > 0 || posted > 0 {
			r.log.Debug("retention pruned", logx.String("guild", c.GuildID), logx.Int64("audit", audits), logx.Int64("posted", posted))
		}
	}
	return errors.Join(errs...)
}

// Close closes every store without deleting anything.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.ctxs {
		if err := c.Store.Close(); err != nil {
			r.log.Warn("close guild store failed", logx.String("guild", id), logx.Err(err))
		}
	}
	r.ctxs = map[string]*Context{}
}
