package app

import (
	"context"
	"time"

	"github.com/DeLoWaN/openfront-discord-bot/internal/tenant"
	"github.com/DeLoWaN/openfront-discord-bot/internal/transport"
	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

const lifecycleStepTimeout = 30 * time.Second

type commandRegistrar interface {
	RegisterCommands(ctx context.Context, guildID string, specs []transport.CommandSpec) error
}

type syncRequester interface {
	Request(guildID string)
}

type dispatcher interface {
	Specs() []transport.CommandSpec
	Dispatch(ctx context.Context, cmd *transport.Command)
}

// lifecycle applies gateway membership changes to the tenant registry in
// arrival order from a single loop.
type lifecycle struct {
	tenants  *tenant.Registry
	platform commandRegistrar
	syncer   syncRequester
	cmds     dispatcher
	log      logx.Logger
}

func (l *lifecycle) run(ctx context.Context, updates <-chan transport.Update) error {
	l.log.Info("update loop started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			l.handle(ctx, up)
		}
	}
}

func (l *lifecycle) handle(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateReady:
		l.ready(ctx, up.GuildIDs)
	case transport.UpdateGuildJoined:
		if up.Guild != nil {
			l.join(ctx, *up.Guild)
		}
	case transport.UpdateGuildLeft:
		if up.Guild != nil {
			l.leave(ctx, up.Guild.ID)
		}
	case transport.UpdateCommand:
		l.cmds.Dispatch(ctx, up.Command)
	default:
		l.log.Debug("update ignored", logx.String("kind", string(up.Kind)))
	}
}

// ready drops guilds the session no longer belongs to and re-queues the ones
// that survived a reconnect. New guilds arrive as joins right after.
func (l *lifecycle) ready(ctx context.Context, active []string) {
	cctx, cancel := context.WithTimeout(ctx, lifecycleStepTimeout)
	defer cancel()
	n, err := l.tenants.Prune(cctx, active)
	if err != nil {
		l.log.Warn("guild prune failed", logx.Err(err))
	} else if n > 0 {
		l.log.Info("pruned departed guilds", logx.Int("removed", n))
	}
	for _, id := range l.tenants.IDs() {
		l.syncer.Request(id)
	}
	l.log.Info("guild bootstrap", logx.Int("session_guilds", len(active)), logx.Int("active", l.tenants.Len()))
}

func (l *lifecycle) join(ctx context.Context, g transport.Guild) {
	log := l.log.With(logx.String("guild", g.ID))
	cctx, cancel := context.WithTimeout(ctx, lifecycleStepTimeout)
	defer cancel()
	if _, err := l.tenants.Register(cctx, g); err != nil {
		log.Error("guild register failed", logx.Err(err))
		return
	}
	if err := l.platform.RegisterCommands(cctx, g.ID, l.cmds.Specs()); err != nil {
		log.Warn("command registration failed", logx.Err(err))
	}
}

func (l *lifecycle) leave(ctx context.Context, guildID string) {
	cctx, cancel := context.WithTimeout(ctx, lifecycleStepTimeout)
	defer cancel()
	if err := l.tenants.Remove(cctx, guildID); err != nil {
		l.log.Warn("guild removal failed", logx.String("guild", guildID), logx.Err(err))
	}
}
