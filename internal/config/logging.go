package config

import (
	"fmt"

	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

// LogConfig maps the logging section onto the logx service config.
// Console output defaults to on.
func (c *Config) LogConfig() logx.Config {
	if c == nil {
		return logx.Config{Level: "INFO", Console: true}
	}
	console := true
	if c.Logging.Console != nil {
		console = *c.Logging.Console
	}
	level := c.LogLevel
	if level == "" {
		level = "INFO"
	}
	return logx.Config{
		Level:   level,
		Console: console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
		Discord: logx.DiscordConfig{
			Enabled:    c.Logging.Discord.Enabled,
			ChannelID:  c.Logging.Discord.ChannelID,
			MinLevel:   c.Logging.Discord.MinLevel,
			RatePerSec: c.Logging.Discord.RatePerSec,
		},
	}
}

// SummarizeChange lists the keys that differ between two configs.
// Changes that only take effect after a restart are flagged.
func SummarizeChange(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	add := func(key string, a, b any, live bool) {
		if fmt.Sprint(a) == fmt.Sprint(b) {
			return
		}
		line := fmt.Sprintf("%s: %v -> %v", key, a, b)
		if !live {
			line += " (restart required)"
		}
		out = append(out, line)
	}
	if oldCfg.Token != newCfg.Token {
		out = append(out, "token: changed (restart required)")
	}
	add("log_level", oldCfg.LogLevel, newCfg.LogLevel, true)
	add("logging.file", oldCfg.Logging.File, newCfg.Logging.File, true)
	add("logging.discord", oldCfg.Logging.Discord, newCfg.Logging.Discord, true)
	add("central_database_path", oldCfg.CentralDatabasePath, newCfg.CentralDatabasePath, false)
	add("guild_data_dir", oldCfg.GuildDataDir, newCfg.GuildDataDir, false)
	add("sync_interval", oldCfg.SyncInterval, newCfg.SyncInterval, false)
	add("sync_workers", oldCfg.SyncWorkers, newCfg.SyncWorkers, false)
	add("results_workers", oldCfg.ResultsWorkers, newCfg.ResultsWorkers, false)
	add("results_lobby_poll", oldCfg.ResultsLobbyPoll, newCfg.ResultsLobbyPoll, false)
	add("results_retry_delay", oldCfg.ResultsRetryDelay, newCfg.ResultsRetryDelay, false)
	add("openfront", oldCfg.OpenFront, newCfg.OpenFront, false)
	add("retention", oldCfg.Retention, newCfg.Retention, false)
	return out
}
