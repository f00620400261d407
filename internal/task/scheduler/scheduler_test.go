package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

func TestToCron(t *testing.T) {
	cases := map[string]string{
		"0 4 * * *":   "0 4 * * *",
		"@daily":      "@daily",
		"6h":          "@every 6h0m0s",
		"02:30":       "@every 2h30m0s",
		" @every 1s ": "@every 1s",
	}
	for in, want := range cases {
		got, err := ToCron(in)
		if err != nil {
			t.Fatalf("ToCron(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ToCron(%q) = %q, want %q", in, got, want)
		}
	}
	for _, bad := range []string{"", "soon", "00:00", "1:75"} {
		if _, err := ToCron(bad); err == nil {
			t.Fatalf("ToCron(%q) expected error", bad)
		}
	}
}

func TestAddRejectsDuplicatesAndBadSpecs(t *testing.T) {
	s := New(Config{}, logx.Nop())
	noop := func(ctx context.Context) error { return nil }
	if err := s.Add("retention", "0 4 * * *", 0, noop); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("retention", "@hourly", 0, noop); err == nil {
		t.Fatal("expected duplicate error")
	}
	if err := s.Add("broken", "61 * * * *", 0, noop); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestIntervalJobRuns(t *testing.T) {
	s := New(Config{Timezone: "UTC"}, logx.Nop())
	var runs atomic.Int32
	if err := s.Add("tick", "@every 1s", time.Second, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("logged, not fatal")
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	infos := s.Schedules()
	if len(infos) != 1 || infos[0].Next.IsZero() {
		t.Fatalf("Schedules = %+v", infos)
	}
	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Fatal("job never ran")
	}
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if info := s.Schedules()[0]; info.Runs > 0 && info.LastErr == "logged, not fatal" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run stats not recorded: %+v", s.Schedules())
}

func TestSchedulesReportNextBeforeStart(t *testing.T) {
	s := New(Config{Timezone: "UTC"}, logx.Nop())
	if err := s.Add("retention", "0 4 * * *", 0, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("Add: %v", err)
	}
	next := s.Schedules()[0].Next.UTC()
	if next.Hour() != 4 || next.Minute() != 0 {
		t.Fatalf("Next = %s, want 04:00 UTC", next)
	}
}
