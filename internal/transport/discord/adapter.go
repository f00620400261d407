// Package discord implements transport.Adapter on top of discordgo.
package discord

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/DeLoWaN/openfront-discord-bot/internal/transport"
	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

type Config struct {
	Token string
}

type Adapter struct {
	cfg Config
	log logx.Logger
	s   *discordgo.Session

	runMu    sync.Mutex
	running  bool
	out      chan<- transport.Update
	removers []func()
	runWG    sync.WaitGroup
	stopCh   chan struct{}
	done     <-chan struct{}

	// droppedUpdates counts commands dropped because the consumer was slower than the gateway.
	droppedUpdates uint64

	cmdMu     sync.Mutex
	cmdHashes map[string]uint64
}

var _ transport.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s, err := discordgo.New("Bot " + strings.TrimSpace(cfg.Token))
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
	// Rate limits surface to callers, which own their backoff.
	s.ShouldRetryOnRateLimit = false
	return &Adapter{cfg: cfg, log: log.With(logx.String("comp", "discord")), s: s, cmdHashes: map[string]uint64{}}, nil
}

// Start opens the gateway and forwards lifecycle events and slash commands to out.
func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.out = out
	a.stopCh = make(chan struct{})
	a.done = ctx.Done()
	a.removers = []func(){
		a.s.AddHandler(a.onReady),
		a.s.AddHandler(a.onGuildCreate),
		a.s.AddHandler(a.onGuildDelete),
		a.s.AddHandler(a.onInteraction),
	}
	if err := a.s.Open(); err != nil {
		a.removeHandlers()
		a.stopCh = nil
		return err
	}
	a.running = true

	// Periodic summary for dropped updates (avoid noisy per-update logs).
	a.runWG.Add(1)
	go func(stop <-chan struct{}) {
		defer a.runWG.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				a.flushDropped(cap(out))
				return
			case <-stop:
				a.flushDropped(cap(out))
				return
			case <-ticker.C:
				a.flushDropped(cap(out))
			}
		}
	}(a.stopCh)

	a.log.Info("gateway connected")
	return nil
}

func (a *Adapter) flushDropped(capacity int) {
	if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
		a.log.Warn("slash commands dropped (update channel full)", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
}

func (a *Adapter) removeHandlers() {
	for _, rm := range a.removers {
		rm()
	}
	a.removers = nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	stop := a.stopCh
	a.stopCh = nil
	a.removeHandlers()
	a.runMu.Unlock()

	if !wasRunning {
		a.log.Debug("discord stop called but not running")
		return nil
	}
	close(stop)
	err := a.s.Close()

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.log.Info("gateway closed")
	case <-ctx.Done():
		a.log.Warn("discord stop cancelled", logx.Err(ctx.Err()))
		return ctx.Err()
	}
	return err
}

// emit forwards up to the consumer. Membership updates (ready, join, leave)
// wait for room until the adapter stops; losing one would leave a guild
// unregistered or its store behind. Commands are dropped when the buffer is
// full, since Discord expires an unanswered interaction anyway.
func (a *Adapter) emit(up transport.Update) {
	a.runMu.Lock()
	out, stop, done := a.out, a.stopCh, a.done
	a.runMu.Unlock()
	if out == nil {
		return
	}
	if up.Kind == transport.UpdateCommand {
		select {
		case out <- up:
		default:
			atomic.AddUint64(&a.droppedUpdates, 1)
		}
		return
	}
	if stop == nil {
		return
	}
	select {
	case out <- up:
	case <-stop:
		a.log.Warn("membership update discarded at shutdown", logx.String("kind", string(up.Kind)))
	case <-done:
	}
}

func (a *Adapter) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	ids := make([]string, 0, len(r.Guilds))
	for _, g := range r.Guilds {
		ids = append(ids, g.ID)
	}
	name := ""
	if r.User != nil {
		name = r.User.Username
	}
	a.log.Info("session ready", logx.String("user", name), logx.Int("guilds", len(ids)))
	a.emit(transport.Update{Kind: transport.UpdateReady, GuildIDs: ids})
}

func (a *Adapter) onGuildCreate(_ *discordgo.Session, e *discordgo.GuildCreate) {
	if e.Guild == nil || e.Unavailable {
		return
	}
	g := toGuild(e.Guild)
	a.emit(transport.Update{Kind: transport.UpdateGuildJoined, Guild: &g})
}

func (a *Adapter) onGuildDelete(_ *discordgo.Session, e *discordgo.GuildDelete) {
	// Unavailable means an outage, not a removal.
	if e.Guild == nil || e.Unavailable {
		return
	}
	a.emit(transport.Update{Kind: transport.UpdateGuildLeft, Guild: &transport.Guild{ID: e.ID, Name: e.Name}})
}

func (a *Adapter) onInteraction(_ *discordgo.Session, e *discordgo.InteractionCreate) {
	if e.Interaction == nil || e.Type != discordgo.InteractionApplicationCommand {
		return
	}
	cmd := commandFromInteraction(e.Interaction)
	cmd.Reply = &responder{s: a.s, i: e.Interaction}
	a.emit(transport.Update{Kind: transport.UpdateCommand, Command: cmd})
}

func toGuild(g *discordgo.Guild) transport.Guild {
	out := transport.Guild{ID: g.ID, Name: g.Name, Roles: make([]transport.Role, 0, len(g.Roles))}
	for _, r := range g.Roles {
		if r != nil {
			out.Roles = append(out.Roles, transport.Role{ID: r.ID, Name: r.Name, Permissions: r.Permissions})
		}
	}
	return out
}

func toMember(m *discordgo.Member) transport.Member {
	out := transport.Member{RoleIDs: append([]string(nil), m.Roles...), DisplayName: m.Nick, Permissions: m.Permissions}
	if m.User != nil {
		out.ID, out.Username = m.User.ID, m.User.Username
	}
	if out.DisplayName == "" {
		out.DisplayName = out.Username
	}
	return out
}
