package config

import (
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

const (
	debounceDelay   = 250 * time.Millisecond
	validateTimeout = 5 * time.Second
	rewatchMin      = 250 * time.Millisecond
	rewatchMax      = 5 * time.Second
)

// Watch reloads the file on change until ctx ends. The directory is watched
// so editors that replace the file by rename are still seen. A broken
// watcher is recreated with backoff.
func (m *Manager) Watch(ctx context.Context) error {
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	d := &debouncer{delay: debounceDelay, fn: func() { m.reload(ctx) }}
	defer d.stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	backoff := rewatchMin
	for ctx.Err() == nil {
		healthy, err := m.watchDir(ctx, dir, file, d)
		if ctx.Err() != nil {
			return nil
		}
		if healthy {
			backoff = rewatchMin
		}
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		backoff = min(backoff*2, rewatchMax)
		m.log.Warn("config watcher stopped; restarting", logx.String("dir", dir), logx.Duration("backoff", wait), logx.Err(err))
		if !sleepCtx(ctx, wait) {
			return nil
		}
	}
	return nil
}

// watchDir runs one fsnotify watcher. healthy reports whether it got as far
// as delivering events.
func (m *Manager) watchDir(ctx context.Context, dir, file string, d *debouncer) (healthy bool, err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false, err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return false, err
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	const ops = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case ev, ok := <-w.Events:
			if !ok {
				return true, nil
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) && ev.Op&ops != 0 {
				m.log.Debug("config change detected", logx.String("op", ev.Op.String()))
				d.trigger()
			}
		case werr, ok := <-w.Errors:
			if !ok {
				return true, nil
			}
			if werr == nil {
				continue
			}
			msg := strings.ToLower(werr.Error())
			switch {
			case strings.Contains(msg, "overflow"):
				// events were lost; reread once
				m.log.Warn("config watch overflow; forcing reload", logx.Err(werr))
				d.trigger()
			case strings.Contains(msg, "closed"):
				return true, werr
			default:
				m.log.Warn("config watch error", logx.Err(werr))
			}
		}
	}
}

// debouncer runs fn once events have been quiet for delay.
type debouncer struct {
	delay time.Duration
	fn    func()

	mu sync.Mutex
	t  *time.Timer
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
	d.t = time.AfterFunc(d.delay, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
