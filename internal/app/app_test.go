package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/DeLoWaN/openfront-discord-bot/internal/config"
	"github.com/DeLoWaN/openfront-discord-bot/internal/storage"
	"github.com/DeLoWaN/openfront-discord-bot/internal/tenant"
	"github.com/DeLoWaN/openfront-discord-bot/internal/transport"
	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

type fakeRegistrar struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (f *fakeRegistrar) RegisterCommands(_ context.Context, guildID string, specs []transport.CommandSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[guildID] += len(specs)
	return f.err
}

type fakeRequester struct{ ids []string }

func (f *fakeRequester) Request(id string) { f.ids = append(f.ids, id) }

type fakeDispatcher struct{ got []*transport.Command }

func (f *fakeDispatcher) Specs() []transport.CommandSpec {
	return []transport.CommandSpec{{Name: "link"}, {Name: "status"}}
}

func (f *fakeDispatcher) Dispatch(_ context.Context, cmd *transport.Command) {
	f.got = append(f.got, cmd)
}

func newLifecycle(t *testing.T) (*lifecycle, *fakeRegistrar, *fakeRequester, *fakeDispatcher, *storage.Central) {
	t.Helper()
	dir := t.TempDir()
	central, err := storage.OpenCentral(filepath.Join(dir, "central.db"), storage.Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("OpenCentral: %v", err)
	}
	reg := tenant.NewRegistry(tenant.Config{DataDir: filepath.Join(dir, "guild_data")}, central, logx.Nop())
	t.Cleanup(func() {
		reg.Close()
		_ = central.Close()
	})
	req := &fakeRequester{}
	reg.OnRegister = req.Request
	plat := &fakeRegistrar{}
	disp := &fakeDispatcher{}
	return &lifecycle{tenants: reg, platform: plat, syncer: req, cmds: disp, log: logx.Nop()}, plat, req, disp, central
}

func TestJoinRegistersGuildAndCommands(t *testing.T) {
	l, plat, req, _, _ := newLifecycle(t)
	ctx := context.Background()

	l.handle(ctx, transport.Update{Kind: transport.UpdateGuildJoined, Guild: &transport.Guild{ID: "g1", Name: "One"}})

	if _, ok := l.tenants.Get("g1"); !ok {
		t.Fatal("guild not registered")
	}
	if plat.calls["g1"] != 2 {
		t.Fatalf("registered %d commands, want 2", plat.calls["g1"])
	}
	if len(req.ids) != 1 || req.ids[0] != "g1" {
		t.Fatalf("sync requests = %v", req.ids)
	}
}

func TestJoinSurvivesCommandRegistrationFailure(t *testing.T) {
	l, plat, _, _, _ := newLifecycle(t)
	plat.err = fmt.Errorf("discord: boom")

	l.handle(context.Background(), transport.Update{Kind: transport.UpdateGuildJoined, Guild: &transport.Guild{ID: "g1"}})

	if _, ok := l.tenants.Get("g1"); !ok {
		t.Fatal("guild should stay registered when command registration fails")
	}
}

func TestReadyPrunesDepartedAndRequeues(t *testing.T) {
	l, _, req, _, central := newLifecycle(t)
	ctx := context.Background()
	for _, id := range []string{"g1", "g2"} {
		l.handle(ctx, transport.Update{Kind: transport.UpdateGuildJoined, Guild: &transport.Guild{ID: id}})
	}
	c2, _ := l.tenants.Get("g2")
	path := c2.Store.Path()
	req.ids = nil

	l.handle(ctx, transport.Update{Kind: transport.UpdateReady, GuildIDs: []string{"g1"}})

	if _, ok := l.tenants.Get("g2"); ok {
		t.Fatal("g2 should be pruned")
	}
	if _, err := central.GuildEntry(ctx, "g2"); err == nil {
		t.Fatal("central entry for g2 should be gone")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("g2 database still on disk: %v", err)
	}
	if len(req.ids) != 1 || req.ids[0] != "g1" {
		t.Fatalf("sync requests after ready = %v, want [g1]", req.ids)
	}
}

func TestLeaveRemovesGuild(t *testing.T) {
	l, _, _, _, central := newLifecycle(t)
	ctx := context.Background()
	l.handle(ctx, transport.Update{Kind: transport.UpdateGuildJoined, Guild: &transport.Guild{ID: "g1"}})

	l.handle(ctx, transport.Update{Kind: transport.UpdateGuildLeft, Guild: &transport.Guild{ID: "g1"}})

	if l.tenants.Len() != 0 {
		t.Fatalf("registry len = %d", l.tenants.Len())
	}
	if _, err := central.GuildEntry(ctx, "g1"); err == nil {
		t.Fatal("central entry should be gone")
	}
}

func TestCommandsAreDispatched(t *testing.T) {
	l, _, _, disp, _ := newLifecycle(t)
	cmd := &transport.Command{Name: "status", GuildID: "g1"}

	l.handle(context.Background(), transport.Update{Kind: transport.UpdateCommand, Command: cmd})

	if len(disp.got) != 1 || disp.got[0] != cmd {
		t.Fatalf("dispatched = %v", disp.got)
	}
}

func TestRunDrainsUntilClosed(t *testing.T) {
	l, _, _, _, _ := newLifecycle(t)
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan transport.Update, 1)
	updates <- transport.Update{Kind: transport.UpdateGuildJoined, Guild: &transport.Guild{ID: "g1"}}
	done := make(chan error, 1)
	go func() { done <- l.run(ctx, updates) }()
	close(updates)
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	cancel()
	if _, ok := l.tenants.Get("g1"); !ok {
		t.Fatal("queued update was not handled before close")
	}
}

type fakeLogs struct{ applied []logx.Config }

func (f *fakeLogs) Apply(cfg logx.Config) { f.applied = append(f.applied, cfg) }

func TestApplyReloadUpdatesLogging(t *testing.T) {
	logs := &fakeLogs{}
	oldCfg := &config.Config{Token: "a", LogLevel: "INFO"}
	newCfg := &config.Config{Token: "a", LogLevel: "DEBUG", CentralDatabasePath: "other.db"}

	changes := applyReload(logx.Nop(), logs, oldCfg, newCfg)

	if len(logs.applied) != 1 || logs.applied[0].Level != "DEBUG" {
		t.Fatalf("applied = %+v", logs.applied)
	}
	joined := strings.Join(changes, "\n")
	if !strings.Contains(joined, "log_level") || !strings.Contains(joined, "central_database_path") {
		t.Fatalf("changes = %v", changes)
	}
}

func TestLatestKeepsNewest(t *testing.T) {
	sub := make(chan *config.Config, 3)
	a, b := &config.Config{LogLevel: "INFO"}, &config.Config{LogLevel: "DEBUG"}
	sub <- a
	sub <- b
	if got := latest(sub, &config.Config{}); got != b {
		t.Fatalf("latest = %+v, want newest", got)
	}
}

func TestNewAppWiresFromConfig(t *testing.T) {
	t.Setenv(config.TokenEnvKey, "")
	dir := t.TempDir()
	body := fmt.Sprintf(`{
  "token": "test-token",
  "log_level": "ERROR",
  "central_database_path": %q,
  "guild_data_dir": %q,
  "sync_workers": 5,
  "results_workers": 1
}`, filepath.Join(dir, "central.db"), filepath.Join(dir, "guild_data"))
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer func() {
		_ = a.central.Close()
		_ = a.logs.Close()
	}()

	if a.res.SyncWorkers != 5 || a.results.Workers() != 1 {
		t.Fatalf("workers sync=%d results=%d", a.res.SyncWorkers, a.results.Workers())
	}
	found := false
	for _, s := range a.sched.Schedules() {
		if s.Name == "retention" {
			found = true
		}
	}
	if !found {
		t.Fatal("retention job not scheduled")
	}
	if len(a.cmdm.Specs()) == 0 {
		t.Fatal("no slash commands")
	}
	if err := a.Stop(context.Background(), StopUnknown); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}
}
