// Package syncer recomputes wins for every linked member and moves them onto
// the matching badge role. The periodic loop feeds guild ids into the shared
// work queue; queue workers run one pass per guild.
package syncer

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/DeLoWaN/openfront-discord-bot/internal/badge"
	"github.com/DeLoWaN/openfront-discord-bot/internal/task/engine"
	"github.com/DeLoWaN/openfront-discord-bot/internal/tenant"
	"github.com/DeLoWaN/openfront-discord-bot/internal/transport"
	"github.com/DeLoWaN/openfront-discord-bot/internal/wins"
	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

const (
	DefaultInterval     = 24 * time.Hour
	DefaultBackoff      = 5 * time.Minute
	DefaultDisableAfter = 3

	maxCycleJitter = 300 * time.Second
	minCycleSleep  = 5 * time.Second
)

// ErrBusy is returned when a pass for the guild is already in progress.
var ErrBusy = errors.New("sync already running")

type Config struct {
	Interval time.Duration
	// Backoff is how long a guild rests after an upstream failure other than not-found.
	Backoff time.Duration
	// DisableAfter consecutive not-found lookups disable the identity.
	DisableAfter int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.DisableAfter <= 0 {
		c.DisableAfter = DefaultDisableAfter
	}
	return c
}

// Tenants is the read side of the tenant registry.
type Tenants interface {
	Get(guildID string) (*tenant.Context, bool)
	IDs() []string
}

// Members resolves guild members and roles on the chat platform.
type Members interface {
	Member(ctx context.Context, guildID, userID string) (transport.Member, error)
	GuildRoles(ctx context.Context, guildID string) ([]transport.Role, error)
}

// Badges applies role jobs; *badge.Queue implements it.
type Badges interface {
	Submit(ctx context.Context, job badge.Job) (badge.Result, error)
}

// Queue is the sync work queue; *engine.Service implements it.
type Queue interface {
	Enqueue(t engine.Task) (string, error)
	EnqueueWait(ctx context.Context, t engine.Task) (string, error)
}

type Deps struct {
	Tenants Tenants
	Source  wins.Source
	Members Members
	Badges  Badges
	Queue   Queue
}

type Service struct {
	cfg     Config
	tenants Tenants
	src     wins.Source
	members Members
	badges  Badges
	queue   Queue
	log     logx.Logger

	// swapped in tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rng   *rand.Rand
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg.withDefaults(),
		tenants: deps.Tenants,
		src:     deps.Source,
		members: deps.Members,
		badges:  deps.Badges,
		queue:   deps.Queue,
		log:     log.With(logx.String("comp", "sync")),
		now:     time.Now,
		sleep:   sleepCtx,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Request queues a pass for guildID without blocking.
func (s *Service) Request(guildID string) {
	if _, err := s.queue.Enqueue(s.task(guildID)); err != nil {
		s.log.Warn("sync request not queued", logx.String("guild", guildID), logx.Err(err))
	}
}

func (s *Service) task(guildID string) engine.Task {
	return engine.Task{
		Name: "sync:" + guildID,
		Run:  func(ctx context.Context) error { return s.runQueued(ctx, guildID) },
	}
}

func (s *Service) runQueued(ctx context.Context, guildID string) error {
	c, ok := s.tenants.Get(guildID)
	if !ok {
		s.log.Debug("queued sync for removed guild dropped", logx.String("guild", guildID))
		return nil
	}
	_, err := s.Pass(ctx, c, false)
	if errors.Is(err, ErrBusy) {
		return nil
	}
	return err
}

// Run is the periodic scheduler. Guilds are queued when they register, so
// the first cycle only sleeps.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("sync scheduler started", logx.Duration("interval", s.cfg.Interval))
	first := true
	for {
		if !first {
			if err := s.cycle(ctx); err != nil {
				return nil
			}
		}
		first = false
		if err := s.sleep(ctx, cycleSleep(s.cfg.Interval, s.rng)); err != nil {
			return nil
		}
	}
}

func (s *Service) cycle(ctx context.Context) error {
	ids := s.tenants.IDs()
	s.rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	s.log.Debug("sync cycle", logx.Int("guilds", len(ids)))
	for _, id := range ids {
		if _, err := s.queue.EnqueueWait(ctx, s.task(id)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("sync enqueue failed", logx.String("guild", id), logx.Err(err))
		}
		if err := s.sleep(ctx, stagger(s.cfg.Interval, s.rng)); err != nil {
			return err
		}
	}
	return nil
}

// cycleSleep is base ± min(10% of base, 300s), never below 5s.
func cycleSleep(base time.Duration, rng *rand.Rand) time.Duration {
	j := min(base/10, maxCycleJitter)
	d := base
	if j > 0 {
		d += time.Duration(rng.Int63n(int64(2*j)+1)) - j
	}
	return max(d, minCycleSleep)
}

// stagger spreads enqueues by up to 1% of base (at least 1s).
func stagger(base time.Duration, rng *rand.Rand) time.Duration {
	limit := max(base/100, time.Second)
	return time.Duration(rng.Int63n(int64(limit)))
}
