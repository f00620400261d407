package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var validLevels = map[string]struct{}{
	"CRITICAL": {}, "ERROR": {}, "WARNING": {}, "WARN": {}, "INFO": {}, "DEBUG": {},
}

// Resolved holds typed configuration values with defaults applied.
type Resolved struct {
	Token    string
	LogLevel string

	CentralDatabasePath string
	GuildDataDir        string

	SyncInterval  time.Duration
	SyncWorkers   int
	SyncQueueSize int

	ResultsWorkers      int
	ResultsLobbyPoll    time.Duration
	ResultsRetryDelay   time.Duration
	ResultsBatchLimit   int
	ResultsFailureLimit int

	OpenFrontBaseURL     string
	OpenFrontLobbiesURL  string
	OpenFrontUserAgent   string
	OpenFrontRatePerSec  float64
	OpenFrontBurst       int
	OpenFrontMaxAttempts int
	OpenFrontTimeout     time.Duration

	AuditRetention    time.Duration
	PostedRetention   time.Duration
	RetentionSchedule string
	RetentionTimezone string

	BusyTimeout time.Duration
}

// Resolve validates c and returns typed values.
func (c *Config) Resolve() (Resolved, error) {
	if c == nil {
		return Resolved{}, errors.New("config is nil")
	}
	var (
		r   Resolved
		err error
	)

	r.Token = strings.TrimSpace(c.Token)
	if r.Token == "" {
		return Resolved{}, errors.New("config missing 'token'")
	}

	r.LogLevel = strings.ToUpper(strings.TrimSpace(c.LogLevel))
	if r.LogLevel == "" {
		r.LogLevel = "INFO"
	}
	if _, ok := validLevels[r.LogLevel]; !ok {
		return Resolved{}, fmt.Errorf("invalid log_level %q", c.LogLevel)
	}

	r.CentralDatabasePath = strOr(c.CentralDatabasePath, "central.db")
	r.GuildDataDir = strOr(c.GuildDataDir, "guild_data")

	defSync := 24 * time.Hour
	if c.SyncIntervalHours > 0 {
		defSync = time.Duration(c.SyncIntervalHours * float64(time.Hour))
	}
	if r.SyncInterval, err = ParseDurationOrDefault("sync_interval", c.SyncInterval, defSync); err != nil {
		return Resolved{}, err
	}
	r.SyncWorkers = intOr(c.SyncWorkers, 3)
	r.SyncQueueSize = intOr(c.SyncQueueSize, 1024)

	r.ResultsWorkers = intOr(c.ResultsWorkers, 2)
	if r.ResultsLobbyPoll, err = ParseDurationOrDefault("results_lobby_poll", c.ResultsLobbyPoll, 2*time.Second); err != nil {
		return Resolved{}, err
	}
	if r.ResultsRetryDelay, err = ParseDurationOrDefault("results_retry_delay", c.ResultsRetryDelay, 60*time.Second); err != nil {
		return Resolved{}, err
	}
	r.ResultsBatchLimit = intOr(c.ResultsBatchLimit, 25)
	r.ResultsFailureLimit = intOr(c.ResultsFailureLimit, 3)

	of := c.OpenFront
	r.OpenFrontBaseURL = strings.TrimRight(strOr(of.BaseURL, "https://api.openfront.io"), "/")
	r.OpenFrontLobbiesURL = strOr(of.LobbiesURL, "https://openfront.io/api/public_lobbies")
	r.OpenFrontUserAgent = strOr(of.UserAgent, "openfront-discord-bot")
	r.OpenFrontRatePerSec = of.RatePerSec
	if r.OpenFrontRatePerSec <= 0 {
		r.OpenFrontRatePerSec = 4
	}
	r.OpenFrontBurst = intOr(of.Burst, 4)
	r.OpenFrontMaxAttempts = intOr(of.MaxAttempts, 5)
	if r.OpenFrontTimeout, err = ParseDurationOrDefault("openfront.timeout", of.Timeout, 15*time.Second); err != nil {
		return Resolved{}, err
	}

	if r.AuditRetention, err = ParseDurationOrDefault("retention.audit", c.Retention.Audit, 90*24*time.Hour); err != nil {
		return Resolved{}, err
	}
	if r.PostedRetention, err = ParseDurationOrDefault("retention.posted_matches", c.Retention.PostedMatches, 7*24*time.Hour); err != nil {
		return Resolved{}, err
	}
	r.RetentionSchedule = strOr(c.Retention.Schedule, "0 4 * * *")
	r.RetentionTimezone = strings.TrimSpace(c.Retention.Timezone)

	if r.BusyTimeout, err = ParseDurationOrDefault("storage.busy_timeout", c.Storage.BusyTimeout, 5*time.Second); err != nil {
		return Resolved{}, err
	}
	return r, nil
}

func strOr(v, def string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return def
}

func intOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
