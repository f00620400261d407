// Package commands implements the guild slash commands.
package commands

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DeLoWaN/openfront-discord-bot/internal/eventbus"
	"github.com/DeLoWaN/openfront-discord-bot/internal/tenant"
	"github.com/DeLoWaN/openfront-discord-bot/internal/transport"
	"github.com/DeLoWaN/openfront-discord-bot/internal/wins"
	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

const (
	defaultWorkers  = 4
	defaultQueueCap = 256
	defaultTimeout  = 2 * time.Minute
)

// Replies shared by several handlers.
const (
	MsgGuildOnly     = "Commands must be used inside a guild."
	MsgUnregistered  = "This guild is not registered. Re-invite the bot to initialize it."
	MsgNoPermission  = "You do not have permission to use this command."
	MsgBusy          = "Busy, try again in a moment."
	msgCommandFailed = "Command failed: "
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdmin
)

type HandlerFunc func(ctx context.Context, req *Request) error

// Command binds a slash command definition to its handler.
type Command struct {
	Spec   transport.CommandSpec
	Access Access
	// Defer acknowledges the interaction before Handle runs; used by slow commands.
	Defer   bool
	Timeout time.Duration
	Handle  HandlerFunc
}

// Request is one invocation while it is being handled.
type Request struct {
	Cmd    *transport.Command
	Tenant *tenant.Context
	ReqID  string
	Logger logx.Logger
	Now    time.Time

	mu       sync.Mutex
	deferred bool
	replied  bool
}

// Defer acknowledges the interaction; later replies go out as followups.
func (r *Request) Defer(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deferred || r.replied || r.Cmd.Reply == nil {
		return nil
	}
	r.deferred = true
	return r.Cmd.Reply.Defer(ctx, true)
}

// Reply answers the invoker privately.
func (r *Request) Reply(ctx context.Context, text string) error {
	r.mu.Lock()
	deferred, replied := r.deferred, r.replied
	r.replied = true
	r.mu.Unlock()
	if r.Cmd.Reply == nil {
		return nil
	}
	if deferred || replied {
		return r.Cmd.Reply.Followup(ctx, text, true)
	}
	return r.Cmd.Reply.Respond(ctx, text, true)
}

// Tenants is the part of the tenant registry the handlers use.
type Tenants interface {
	Get(guildID string) (*tenant.Context, bool)
	Remove(ctx context.Context, guildID string) error
}

type Syncer interface {
	Pass(ctx context.Context, c *tenant.Context, manual bool) (string, error)
	SyncMember(ctx context.Context, c *tenant.Context, member transport.Member) (string, error)
}

type Results interface {
	DrainFor(ctx context.Context, guildID string) (string, error)
	Seed(ctx context.Context) (int, error)
}

// Platform is the chat capability the handlers call directly.
type Platform interface {
	Member(ctx context.Context, guildID, userID string) (transport.Member, error)
	Channel(ctx context.Context, channelID string) (transport.Channel, error)
	LeaveGuild(ctx context.Context, guildID string) error
}

type Publisher interface {
	Publish(e eventbus.Event)
}

type Deps struct {
	Tenants  Tenants
	Syncer   Syncer
	Results  Results
	Platform Platform
	Source   wins.Source
	Bus      Publisher
}

type Config struct {
	Workers  int
	QueueCap int
	Timeout  time.Duration
}

type Manager struct {
	cfg  Config
	deps Deps
	log  logx.Logger
	now  func() time.Time

	cmds  map[string]Command
	order []string
	jobs  chan func(context.Context)
}

func New(cfg Config, deps Deps, log logx.Logger) *Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = defaultQueueCap
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{
		cfg:  cfg,
		deps: deps,
		log:  log.With(logx.String("comp", "commands")),
		now:  time.Now,
		cmds: map[string]Command{},
		jobs: make(chan func(context.Context), cfg.QueueCap),
	}
	for _, c := range m.registry() {
		m.cmds[c.Spec.Name] = c
		m.order = append(m.order, c.Spec.Name)
	}
	return m
}

// Specs returns every command definition in registration order.
func (m *Manager) Specs() []transport.CommandSpec {
	out := make([]transport.CommandSpec, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.cmds[name].Spec)
	}
	return out
}

// Run executes dispatched commands on a bounded worker pool until ctx ends.
func (m *Manager) Run(ctx context.Context) error {
	m.log.Info("command dispatcher started", logx.Int("workers", m.cfg.Workers), logx.Int("job_queue_cap", cap(m.jobs)))
	var wg sync.WaitGroup
	wg.Add(m.cfg.Workers)
	for i := 0; i < m.cfg.Workers; i++ {
		idx := i
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-m.jobs:
					m.runJob(ctx, idx, job)
				}
			}
		}()
	}
	wg.Wait()
	m.log.Info("command dispatcher stopped")
	return nil
}

func (m *Manager) runJob(ctx context.Context, worker int, job func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command worker", logx.Int("worker", worker), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	job(ctx)
}

// Dispatch resolves and queues one invocation. Rejections (outside a guild,
// unknown guild, missing permission, full queue) are answered at once.
func (m *Manager) Dispatch(ctx context.Context, cmd *transport.Command) {
	if cmd == nil {
		return
	}
	log := m.log.With(
		logx.String("cmd", cmd.Name),
		logx.String("guild", cmd.GuildID),
		logx.String("user", cmd.Invoker.Label()),
	)
	log.Info("slash command", logx.Any("options", cmd.Options))

	c, ok := m.cmds[cmd.Name]
	if !ok {
		log.Warn("unknown command")
		return
	}
	if cmd.GuildID == "" {
		m.reject(ctx, cmd, MsgGuildOnly, log)
		return
	}
	tc, ok := m.deps.Tenants.Get(cmd.GuildID)
	if !ok {
		m.reject(ctx, cmd, MsgUnregistered, log)
		return
	}
	if c.Access == AccessAdmin && !IsAdmin(tc, cmd.Invoker) {
		m.reject(ctx, cmd, MsgNoPermission, log)
		return
	}

	rid := uuid.NewString()
	req := &Request{Cmd: cmd, Tenant: tc, ReqID: rid, Logger: log.With(logx.String("rid", rid)), Now: m.now()}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = m.cfg.Timeout
	}
	final := Chain(
		c.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWErrorReply(),
		MWTimeout(timeout),
	)
	if c.Defer {
		final = Chain(final, MWDefer())
	}

	select {
	case m.jobs <- func(root context.Context) { _ = final(root, req) }:
	default:
		m.reject(ctx, cmd, MsgBusy, log)
	}
}

func (m *Manager) reject(ctx context.Context, cmd *transport.Command, text string, log logx.Logger) {
	log.Info("command rejected", logx.String("reason", text))
	if cmd.Reply == nil {
		return
	}
	if err := cmd.Reply.Respond(ctx, text, true); err != nil {
		log.Warn("reply failed", logx.Err(err))
	}
}

// IsAdmin reports whether the member may use admin commands in the guild.
func IsAdmin(c *tenant.Context, m transport.Member) bool {
	if transport.IsAdminPermission(m.Permissions) {
		return true
	}
	return c != nil && c.IsAdminRole(m.RoleIDs)
}

// audit records a mutating admin action; failures are logged only.
func audit(ctx context.Context, req *Request, action string, payload any) {
	if err := req.Tenant.Store.AppendAudit(context.WithoutCancel(ctx), req.Cmd.Invoker.ID, action, payload); err != nil {
		req.Logger.Warn("audit write failed", logx.String("action", action), logx.Err(err))
	}
}
