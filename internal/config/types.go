package config

// Config is the on-disk configuration (YAML or JSON).
//
// All durations are Go duration strings (e.g. "2s", "60s", "24h").
// Use Resolve to obtain typed values with defaults applied.
type Config struct {
	Token    string        `json:"token"`
	LogLevel string        `json:"log_level,omitempty"`
	Logging  LoggingConfig `json:"logging,omitempty"`

	CentralDatabasePath string `json:"central_database_path,omitempty"`
	GuildDataDir        string `json:"guild_data_dir,omitempty"`

	// SyncInterval is the base interval between sync cycles.
	// SyncIntervalHours is accepted for older configs.
	SyncInterval      string  `json:"sync_interval,omitempty"`
	SyncIntervalHours float64 `json:"sync_interval_hours,omitempty"`
	SyncWorkers       int     `json:"sync_workers,omitempty"`
	SyncQueueSize     int     `json:"sync_queue_size,omitempty"`

	ResultsWorkers      int    `json:"results_workers,omitempty"`
	ResultsLobbyPoll    string `json:"results_lobby_poll,omitempty"`
	ResultsRetryDelay   string `json:"results_retry_delay,omitempty"`
	ResultsBatchLimit   int    `json:"results_batch_limit,omitempty"`
	ResultsFailureLimit int    `json:"results_failure_limit,omitempty"`

	OpenFront OpenFrontConfig `json:"openfront,omitempty"`
	Retention RetentionConfig `json:"retention,omitempty"`
	Storage   StorageConfig   `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Console *bool          `json:"console,omitempty"`
	File    LoggingFile    `json:"file,omitempty"`
	Discord LoggingDiscord `json:"discord,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// LoggingDiscord mirrors log lines at or above MinLevel into a channel.
type LoggingDiscord struct {
	Enabled    bool   `json:"enabled"`
	ChannelID  string `json:"channel_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// OpenFrontConfig tunes the upstream stats client.
//
// Defaults:
//   - base_url: "https://api.openfront.io"
//   - lobbies_url: "https://openfront.io/api/public_lobbies"
//   - rate_per_sec: 4, burst: 4
//   - max_attempts: 5
//   - timeout: "15s"
type OpenFrontConfig struct {
	BaseURL     string  `json:"base_url,omitempty"`
	LobbiesURL  string  `json:"lobbies_url,omitempty"`
	UserAgent   string  `json:"user_agent,omitempty"`
	RatePerSec  float64 `json:"rate_per_sec,omitempty"`
	Burst       int     `json:"burst,omitempty"`
	MaxAttempts int     `json:"max_attempts,omitempty"`
	Timeout     string  `json:"timeout,omitempty"`
}

// RetentionConfig controls the housekeeping prune job.
type RetentionConfig struct {
	Audit         string `json:"audit,omitempty"`
	PostedMatches string `json:"posted_matches,omitempty"`
	// Schedule is a cron spec (5-field or descriptor such as "@daily").
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type StorageConfig struct {
	BusyTimeout string `json:"busy_timeout,omitempty"`
}
