package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	discordQueueSize   = 256
	discordSendTimeout = 10 * time.Second
	// Discord rejects messages over 2000 characters.
	discordMaxLine  = 1890
	discordMaxField = 400
)

// DiscordConfig mirrors lines at or above MinLevel (default WARN) into a
// guild text channel.
type DiscordConfig struct {
	Enabled    bool
	ChannelID  string
	MinLevel   string
	RatePerSec int
}

// Sender delivers a rendered log line to a chat channel.
type Sender interface {
	SendLog(ctx context.Context, channelID, text string) error
}

type logLine struct {
	channelID string
	text      string
}

// discordSink is a zerolog.LevelWriter. Lines over the rate limit or beyond
// a full queue are dropped so logging never waits on the network.
type discordSink struct {
	mu        sync.Mutex
	sender    Sender
	channelID string
	minLevel  zerolog.Level
	limiter   *rate.Limiter

	queue     chan logLine
	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func newDiscordSink() *discordSink {
	return &discordSink{
		minLevel: zerolog.WarnLevel,
		limiter:  rate.NewLimiter(1, 1),
		queue:    make(chan logLine, discordQueueSize),
	}
}

func (d *discordSink) configure(cfg DiscordConfig) {
	rps := max(1, cfg.RatePerSec)
	d.mu.Lock()
	d.channelID = strings.TrimSpace(cfg.ChannelID)
	d.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	d.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	d.mu.Unlock()
	if cfg.Enabled {
		d.start()
	}
}

func (d *discordSink) setSender(s Sender) {
	d.mu.Lock()
	d.sender = s
	d.mu.Unlock()
}

func (d *discordSink) currentSender() Sender {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sender
}

func (d *discordSink) start() {
	d.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		d.mu.Lock()
		d.cancel, d.done = cancel, make(chan struct{})
		done := d.done
		d.mu.Unlock()
		go d.run(ctx, done)
	})
}

func (d *discordSink) stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (d *discordSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-d.queue:
			sender := d.currentSender()
			if sender == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, discordSendTimeout)
			_ = sender.SendLog(sctx, line.channelID, line.text)
			cancel()
		}
	}
}

func (d *discordSink) Write(p []byte) (int, error) {
	return d.WriteLevel(zerolog.InfoLevel, p)
}

func (d *discordSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	d.mu.Lock()
	channelID, minLevel, lim, ready := d.channelID, d.minLevel, d.limiter, d.sender != nil
	d.mu.Unlock()
	if !ready || channelID == "" || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	if text := formatLogLine(p); text != "" {
		select {
		case d.queue <- logLine{channelID: channelID, text: text}:
		default:
		}
	}
	return len(p), nil
}

// formatLogLine renders a zerolog JSON line as a code block with the level,
// the message and the remaining fields sorted by key.
func formatLogLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(p), &m); err != nil {
		return clip(strings.TrimSpace(string(p)), discordMaxLine)
	}
	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)
	delete(m, "time")
	delete(m, "level")
	delete(m, "message")

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("```\n")
	if lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	b.WriteString(msg)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s=%s", k, clip(fmt.Sprint(m[k]), discordMaxField))
	}
	return clip(b.String(), discordMaxLine) + "\n```"
}

func clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
