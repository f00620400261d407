// Package results discovers public matches, waits for them to finish and
// announces clan victories once per guild.
//
// Discover inserts lobby ids into the tracked-match table. Work loops drain
// due matches under one processing lock; the lock is never waited on, a busy
// drain is skipped instead.
package results

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DeLoWaN/openfront-discord-bot/internal/eventbus"
	"github.com/DeLoWaN/openfront-discord-bot/internal/openfront"
	"github.com/DeLoWaN/openfront-discord-bot/internal/storage"
	"github.com/DeLoWaN/openfront-discord-bot/internal/tenant"
	"github.com/DeLoWaN/openfront-discord-bot/internal/tracking"
	"github.com/DeLoWaN/openfront-discord-bot/internal/transport"
	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

const (
	DefaultLobbyPoll  = 2 * time.Second
	DefaultBatchLimit = 25
	DefaultWorkers    = 2

	busyPoll     = 500 * time.Millisecond
	idleWait     = time.Second
	seedLookback = 2 * time.Hour
)

// ErrBusy is returned by DrainFor when another drain holds the processing lock.
var ErrBusy = errors.New("results poll already running")

type Config struct {
	Workers    int
	LobbyPoll  time.Duration
	BatchLimit int
	// Grace delays the first fetch of a discovered match.
	Grace  time.Duration
	Policy tracking.Policy
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.LobbyPoll <= 0 {
		c.LobbyPoll = DefaultLobbyPoll
	}
	c.LobbyPoll = max(c.LobbyPoll, time.Second)
	if c.BatchLimit <= 0 {
		c.BatchLimit = DefaultBatchLimit
	}
	if c.Grace <= 0 {
		c.Grace = tracking.DefaultDiscoveryGrace
	}
	return c
}

// Upstream is the part of the stats client the pipeline needs.
type Upstream interface {
	Game(ctx context.Context, gameID string) (openfront.Game, error)
	PublicLobbies(ctx context.Context) ([]openfront.GameRef, error)
	PublicGames(ctx context.Context, start, end time.Time) ([]openfront.GameRef, error)
}

// Poster resolves channels and sends announcements.
type Poster interface {
	Channel(ctx context.Context, channelID string) (transport.Channel, error)
	SendEmbed(ctx context.Context, channelID string, e transport.Embed) error
}

type Tenants interface {
	Get(guildID string) (*tenant.Context, bool)
	List() []*tenant.Context
}

type Deps struct {
	Tenants  Tenants
	Store    tracking.Store
	Upstream Upstream
	Poster   Poster
	Bus      eventbus.Bus
}

type Service struct {
	cfg      Config
	tenants  Tenants
	store    tracking.Store
	upstream Upstream
	poster   Poster
	bus      eventbus.Bus
	log      logx.Logger

	processing sync.Mutex

	// swapped in tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	bus := deps.Bus
	if bus == nil {
		bus = eventbus.New()
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		tenants:  deps.Tenants,
		store:    deps.Store,
		upstream: deps.Upstream,
		poster:   deps.Poster,
		bus:      bus,
		log:      log.With(logx.String("comp", "results")),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func (s *Service) Workers() int { return s.cfg.Workers }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Work is one results worker. It returns when ctx ends.
func (s *Service) Work(ctx context.Context) error {
	wake, unsub := s.bus.Subscribe(1, eventbus.MatchesTracked, eventbus.ResultsRequested)
	defer unsub()
	for ctx.Err() == nil {
		if !s.processing.TryLock() {
			if err := s.sleep(ctx, busyPoll); err != nil {
				return nil
			}
			continue
		}
		st, err := s.drain(ctx, "")
		s.processing.Unlock()
		if err != nil && ctx.Err() == nil {
			s.log.Warn("results drain failed", logx.Err(err))
		}
		if st.processed == 0 {
			eventbus.WaitAny(ctx, wake, idleWait)
			eventbus.Drain(wake)
		}
	}
	return nil
}

// DrainFor runs one drain on demand and reports the counts for guildID only.
func (s *Service) DrainFor(ctx context.Context, guildID string) (string, error) {
	c, ok := s.tenants.Get(guildID)
	if !ok {
		return "Guild unavailable", nil
	}
	settings, err := c.Store.Settings(ctx)
	if err != nil {
		return "", err
	}
	if !settings.ResultsEnabled {
		return "Results disabled", nil
	}
	if settings.ResultsChannelID == "" {
		return "Results channel not set", nil
	}
	if !s.processing.TryLock() {
		return "Results poll already running", ErrBusy
	}
	defer s.processing.Unlock()
	st, err := s.drain(ctx, guildID)
	if err != nil {
		return "", err
	}
	summary := fmt.Sprintf("Posted %d games, failures: %d", st.posted, st.failures)
	s.log.Info("results poll", logx.String("guild", guildID), logx.String("summary", summary))
	return summary, nil
}

type drainStats struct {
	posted    int
	failures  int
	processed int
}

// drain processes one batch of due matches. The caller holds the processing lock.
// Counts are kept for summaryGuild only; empty means no summary.
func (s *Service) drain(ctx context.Context, summaryGuild string) (drainStats, error) {
	due, err := s.store.DueMatches(ctx, s.now(), s.cfg.BatchLimit)
	if err != nil {
		return drainStats{}, fmt.Errorf("list due matches: %w", err)
	}
	var st drainStats
	for _, m := range due {
		if ctx.Err() != nil {
			break
		}
		posted, failures := s.process(ctx, m, summaryGuild)
		st.posted += posted
		st.failures += failures
		st.processed++
	}
	return st, nil
}

func expectedStatus(status int) bool {
	switch status {
	case 404, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// process makes one attempt at m and moves it to its next state.
func (s *Service) process(ctx context.Context, m tracking.Match, summaryGuild string) (posted, failures int) {
	now := s.now()
	policy := s.cfg.Policy
	log := s.log.With(logx.String("match", m.ID))

	guilds := s.tenants.List()
	if len(guilds) == 0 {
		s.save(ctx, policy.Retry(m, now), log)
		return 0, 0
	}

	game, err := s.upstream.Game(ctx, m.ID)
	if err != nil {
		if summaryGuild != "" {
			failures = 1
		}
		if errors.Is(err, openfront.ErrInvalidPayload) {
			log.Warn("match payload invalid; dropping", logx.Err(err))
			s.remove(ctx, m.ID, log)
			return 0, 0
		}
		status := openfront.StatusOf(err)
		if status != 0 && !expectedStatus(status) {
			next, tripped := policy.Unexpected(m, now)
			s.save(ctx, next, log)
			if tripped {
				log.Warn("match fetch failed; giving up after repeated unexpected errors",
					logx.Int("status", status), logx.Int("failures", next.Failures), logx.Err(err))
				return 0, failures
			}
		} else {
			var hint time.Duration
			if openfront.IsRateLimited(err) {
				if ra := openfront.RetryAfterHint(err); ra > 0 {
					hint = max(ra, time.Second)
				}
			}
			s.save(ctx, policy.NotReady(m, now, hint), log)
		}
		if status != 404 {
			log.Warn("match fetch failed", logx.Int("status", status), logx.Err(err))
		}
		return 0, failures
	}
	m = policy.Fetched(m)

	retry := false
	for _, c := range guilds {
		ok, failed := s.postGuild(ctx, c, m.ID, game, log)
		if summaryGuild == "" || c.GuildID == summaryGuild {
			if ok {
				posted++
			}
			if failed {
				failures++
			}
		}
		retry = retry || failed
	}
	if retry {
		s.save(ctx, policy.Retry(m, now), log)
		return posted, failures
	}
	s.remove(ctx, m.ID, log)
	log.Info("match reconciled; tracking removed")
	return posted, failures
}

// postGuild announces the match in one guild. failed means the attempt must be retried.
func (s *Service) postGuild(ctx context.Context, c *tenant.Context, matchID string, game openfront.Game, log logx.Logger) (posted, failed bool) {
	log = log.With(logx.String("guild", c.GuildID))
	settings, err := c.Store.Settings(ctx)
	if err != nil {
		log.Warn("load settings failed", logx.Err(err))
		return false, true
	}
	if !settings.ResultsEnabled || settings.ResultsChannelID == "" {
		return false, false
	}
	if _, err := s.poster.Channel(ctx, settings.ResultsChannelID); err != nil {
		log.Warn("results channel not found", logx.String("channel", settings.ResultsChannelID), logx.Err(err))
		return false, false
	}
	done, err := c.Store.IsPosted(ctx, matchID)
	if err != nil {
		log.Warn("dedupe lookup failed", logx.Err(err))
		return false, true
	}
	if done {
		return false, false
	}
	tags, err := c.Store.ClanTags(ctx)
	if err != nil {
		log.Warn("load clan tags failed", logx.Err(err))
		return false, true
	}
	if len(tags) == 0 {
		return false, false
	}
	names, err := c.Store.UsernameIndex(ctx)
	if err != nil {
		log.Warn("load username index failed", logx.Err(err))
		return false, true
	}
	a, ok := Render(matchID, game, tags, names)
	if !ok {
		return false, false
	}
	if err := s.poster.SendEmbed(ctx, settings.ResultsChannelID, a.Embed); err != nil {
		log.Warn("failed posting results", logx.Err(err))
		return false, true
	}
	rec := storage.PostedMatch{MatchID: matchID, GameStart: a.GameStart, PostedAt: s.now(), WinningTags: a.WinningTags}
	if err := c.Store.RecordPosted(ctx, rec); err != nil {
		// The message is out; a retry may post it again.
		log.Error("record posted match failed", logx.Err(err))
		return true, true
	}
	log.Info("results posted", logx.Any("tags", a.WinningTags))
	return true, false
}

func (s *Service) save(ctx context.Context, m tracking.Match, log logx.Logger) {
	if err := s.store.SaveMatch(ctx, m); err != nil {
		log.Warn("save tracked match failed", logx.Err(err))
	}
}

func (s *Service) remove(ctx context.Context, id string, log logx.Logger) {
	if err := s.store.RemoveMatch(ctx, id); err != nil {
		log.Warn("remove tracked match failed", logx.Err(err))
	}
}
