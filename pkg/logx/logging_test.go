package logx

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingSender struct {
	mu    sync.Mutex
	lines []string
	ch    []string
}

func (r *recordingSender) SendLog(_ context.Context, channelID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ch = append(r.ch, channelID)
	r.lines = append(r.lines, text)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lines)
}

func TestFormatLogLineSortsFields(t *testing.T) {
	got := formatLogLine([]byte(`{"level":"warn","message":"sync failed","time":"x","guild":"42","err":"boom"}`))
	if !strings.HasPrefix(got, "```\n[WARN] sync failed") {
		t.Fatalf("unexpected prefix: %q", got)
	}
	if strings.Index(got, "err=boom") > strings.Index(got, "guild=42") {
		t.Fatalf("fields not sorted: %q", got)
	}
	if strings.Contains(got, "time=") {
		t.Fatalf("time should be omitted: %q", got)
	}
}

func TestFormatLogLineTruncates(t *testing.T) {
	long := strings.Repeat("a", 5000)
	got := formatLogLine([]byte(`{"level":"error","message":"` + long + `"}`))
	if len(got) > 2000 {
		t.Fatalf("line too long: %d", len(got))
	}
}

func TestDiscordSinkRespectsMinLevel(t *testing.T) {
	svc, log := New(Config{
		Level:   "debug",
		Console: false,
		Discord: DiscordConfig{Enabled: true, ChannelID: "123", MinLevel: "warn", RatePerSec: 50},
	})
	t.Cleanup(func() { _ = svc.Close() })

	rec := &recordingSender{}
	svc.SetSender(rec)

	log.Info("ignored")
	log.Warn("delivered", String("k", "v"))

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	// Give a late info line a chance to show up if filtering were broken.
	time.Sleep(50 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %v", len(rec.lines), rec.lines)
	}
	if rec.ch[0] != "123" || !strings.Contains(rec.lines[0], "delivered") {
		t.Fatalf("unexpected delivery: %v %v", rec.ch, rec.lines)
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.With(String("a", "b")).Info("no panic")
}

func TestApplySwapsLevelForLiveLoggers(t *testing.T) {
	svc, log := New(Config{Level: "INFO"})
	t.Cleanup(func() { _ = svc.Close() })
	child := log.With(String("comp", "x"))
	if child.Enabled(LevelDebug) {
		t.Fatal("debug should be off at INFO")
	}
	svc.Apply(Config{Level: "DEBUG"})
	if !child.Enabled(LevelDebug) {
		t.Fatal("derived logger did not follow Apply")
	}
}

func TestParseLevelAcceptsConfigNames(t *testing.T) {
	cases := map[string]Level{"warning": LevelWarn, "CRITICAL": LevelError, "": LevelInfo, "bogus": LevelInfo}
	for in, want := range cases {
		if got := parseLevel(in, LevelInfo); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
