package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAMLAppliesDefaults(t *testing.T) {
	t.Setenv(TokenEnvKey, "")
	path := writeFile(t, "config.yml", "token: abc\nlog_level: debug\nsync_interval: 1h\n")

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	r, err := cfg.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.Token != "abc" || r.LogLevel != "DEBUG" {
		t.Fatalf("unexpected token/level: %q %q", r.Token, r.LogLevel)
	}
	if r.SyncInterval != time.Hour {
		t.Fatalf("SyncInterval = %v, want 1h", r.SyncInterval)
	}
	if r.SyncWorkers != 3 || r.ResultsWorkers != 2 || r.ResultsBatchLimit != 25 || r.ResultsFailureLimit != 3 {
		t.Fatalf("unexpected pool defaults: %+v", r)
	}
	if r.ResultsLobbyPoll != 2*time.Second || r.ResultsRetryDelay != time.Minute {
		t.Fatalf("unexpected results timings: %v %v", r.ResultsLobbyPoll, r.ResultsRetryDelay)
	}
	if r.CentralDatabasePath != "central.db" || r.GuildDataDir != "guild_data" {
		t.Fatalf("unexpected paths: %q %q", r.CentralDatabasePath, r.GuildDataDir)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	t.Setenv(TokenEnvKey, "")
	path := writeFile(t, "config.yml", "token: abc\nsync_intervall: 1h\n")
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestParseRequiresToken(t *testing.T) {
	t.Setenv(TokenEnvKey, "")
	path := writeFile(t, "config.json", `{"log_level":"INFO"}`)
	_, err := NewManager(path).Parse()
	if err == nil || !strings.Contains(err.Error(), "token") {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestTokenEnvOverride(t *testing.T) {
	t.Setenv(TokenEnvKey, "from-env")
	path := writeFile(t, "config.yml", "log_level: info\n")
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Token != "from-env" {
		t.Fatalf("Token = %q, want from-env", cfg.Token)
	}
}

func TestLegacySyncIntervalHours(t *testing.T) {
	cfg := &Config{Token: "x", SyncIntervalHours: 2}
	r, err := cfg.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.SyncInterval != 2*time.Hour {
		t.Fatalf("SyncInterval = %v, want 2h", r.SyncInterval)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	cfg := &Config{Token: "x", LogLevel: "verbose"}
	if _, err := cfg.Resolve(); err == nil {
		t.Fatal("expected invalid log level error")
	}
}

func TestSummarizeChangeFlagsRestart(t *testing.T) {
	a := &Config{Token: "x", LogLevel: "INFO", SyncInterval: "1h"}
	b := &Config{Token: "x", LogLevel: "DEBUG", SyncInterval: "2h"}
	lines := SummarizeChange(a, b)
	if len(lines) != 2 {
		t.Fatalf("expected 2 changes, got %v", lines)
	}
	if strings.Contains(lines[0], "restart") {
		t.Fatalf("log level should apply live: %q", lines[0])
	}
	if !strings.Contains(lines[1], "restart required") {
		t.Fatalf("sync interval should require restart: %q", lines[1])
	}
}
