package app

import (
	"context"
	"strings"

	"github.com/DeLoWaN/openfront-discord-bot/internal/config"
	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

// startConfigReload applies logging changes live. Everything else is
// reported and waits for a restart.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				newCfg = latest(sub, newCfg)
				if newCfg == nil {
					continue
				}
				applyReload(a.log, a.logs, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

// latest coalesces bursts and keeps only the newest config.
func latest(sub <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-sub:
			if !ok {
				return cur
			}
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

type logApplier interface {
	Apply(cfg logx.Config)
}

func applyReload(log logx.Logger, logs logApplier, oldCfg, newCfg *config.Config) []string {
	changes := config.SummarizeChange(oldCfg, newCfg)
	logs.Apply(newCfg.LogConfig())
	if len(changes) == 0 {
		log.Info("config reloaded (no changes)")
		return nil
	}
	restart := false
	for _, ch := range changes {
		if strings.HasSuffix(ch, "(restart required)") {
			restart = true
		}
	}
	log.Info("config reloaded", logx.String("changed", strings.Join(changes, "; ")))
	if restart {
		log.Warn("some changes take effect after a restart")
	}
	return changes
}
