// Package openfront is the client for the OpenFront public API.
//
// Transient failures (transport errors and 5xx) are retried internally with
// exponential backoff. 404, 429 and any other status surface immediately as
// *StatusError so callers apply their own policy.
package openfront

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

const (
	DefaultBaseURL    = "https://api.openfront.io"
	DefaultLobbiesURL = "https://openfront.io/api/public_lobbies"

	publicGamesPageSize = 1000
	maxBodyBytes        = 8 << 20
)

type Config struct {
	BaseURL     string
	LobbiesURL  string
	UserAgent   string
	RatePerSec  float64
	Burst       int
	MaxAttempts int
	Timeout     time.Duration
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger

	mu  sync.Mutex
	rng *rand.Rand

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, log logx.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.LobbiesURL == "" {
		cfg.LobbiesURL = DefaultLobbiesURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "openfront-discord-bot"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		log:     log.With(logx.String("comp", "openfront")),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	c.mu.Lock()
	j := time.Duration(c.rng.Int63n(int64(time.Second)))
	c.mu.Unlock()
	return time.Second<<attempt + j
}

// get fetches rawURL and returns the body and headers of a 2xx response.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, http.Header, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			d := c.backoff(attempt - 1)
			c.log.Debug("retrying request", logx.String("url", rawURL), logx.Int("attempt", attempt+1), logx.Duration("delay", d), logx.Err(lastErr))
			if err := c.sleep(ctx, d); err != nil {
				return nil, nil, err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}

		body, hdr, err := c.once(ctx, rawURL)
		if err == nil {
			return body, hdr, nil
		}
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Transient() {
			return nil, nil, err
		}
		lastErr = err
	}
	c.log.Warn("request failed after retries", logx.String("url", rawURL), logx.Int("attempts", c.cfg.MaxAttempts), logx.Err(lastErr))
	return nil, nil, lastErr
}

func (c *Client) once(ctx context.Context, rawURL string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		se := &StatusError{Status: resp.StatusCode, URL: rawURL}
		if resp.StatusCode == http.StatusTooManyRequests {
			se.RetryAfter = parseRetryAfter(resp.Header)
		}
		return nil, nil, se
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, err
	}
	return body, resp.Header, nil
}

func decodeObject(body []byte, v any) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return ErrInvalidPayload
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// Player fetches a player profile.
func (c *Client) Player(ctx context.Context, playerID string) (Player, error) {
	body, _, err := c.get(ctx, c.cfg.BaseURL+"/public/player/"+url.PathEscape(playerID))
	if err != nil {
		return Player{}, err
	}
	var p Player
	return p, decodeObject(body, &p)
}

// Sessions fetches every session of a player, following {data, next} pages.
func (c *Client) Sessions(ctx context.Context, playerID string) ([]Session, error) {
	next := c.cfg.BaseURL + "/public/player/" + url.PathEscape(playerID) + "/sessions"
	var out []Session
	for pages := 0; next != "" && pages < 100; pages++ {
		body, _, err := c.get(ctx, next)
		if err != nil {
			return nil, err
		}
		body = bytes.TrimSpace(body)
		switch {
		case len(body) > 0 && body[0] == '[':
			var list []Session
			if err := json.Unmarshal(body, &list); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
			}
			return append(out, list...), nil
		case len(body) > 0 && body[0] == '{':
			var page struct {
				Data []Session `json:"data"`
				Next string    `json:"next"`
			}
			if err := json.Unmarshal(body, &page); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
			}
			out = append(out, page.Data...)
			next = c.resolve(page.Next)
		default:
			return out, nil
		}
	}
	return out, nil
}

func (c *Client) resolve(next string) string {
	next = strings.TrimSpace(next)
	if next == "" || strings.HasPrefix(next, "http://") || strings.HasPrefix(next, "https://") {
		return next
	}
	if !strings.HasPrefix(next, "/") {
		next = "/" + next
	}
	return c.cfg.BaseURL + next
}

// Game fetches a finished game's record.
func (c *Client) Game(ctx context.Context, gameID string) (Game, error) {
	body, _, err := c.get(ctx, c.cfg.BaseURL+"/public/game/"+url.PathEscape(gameID))
	if err != nil {
		return Game{}, err
	}
	var g Game
	return g, decodeObject(body, &g)
}

// PublicLobbies lists open public lobbies. The payload is a list or {"lobbies": [...]}.
func (c *Client) PublicLobbies(ctx context.Context) ([]GameRef, error) {
	body, _, err := c.get(ctx, c.cfg.LobbiesURL)
	if err != nil {
		return nil, err
	}
	return decodeRefs(body, "lobbies")
}

func decodeRefs(body []byte, key string) ([]GameRef, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, ErrInvalidPayload
	}
	var raw []json.RawMessage
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	case '{':
		var wrapped map[string]json.RawMessage
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if v, ok := wrapped[key]; ok {
			_ = json.Unmarshal(v, &raw)
		}
	default:
		return nil, ErrInvalidPayload
	}
	out := make([]GameRef, 0, len(raw))
	for _, r := range raw {
		var ref GameRef
		if json.Unmarshal(r, &ref) == nil && ref != nil {
			out = append(out, ref)
		}
	}
	return out, nil
}

var reContentRange = regexp.MustCompile(`(\d+)-(\d+)/(\d+|\*)`)

// PublicGames lists public games that ended between start and end.
func (c *Client) PublicGames(ctx context.Context, start, end time.Time) ([]GameRef, error) {
	var out []GameRef
	for offset := 0; ; {
		q := url.Values{}
		q.Set("start", start.UTC().Format(time.RFC3339))
		q.Set("end", end.UTC().Format(time.RFC3339))
		q.Set("type", "Public")
		q.Set("limit", strconv.Itoa(publicGamesPageSize))
		q.Set("offset", strconv.Itoa(offset))
		body, hdr, err := c.get(ctx, c.cfg.BaseURL+"/public/games?"+q.Encode())
		if err != nil {
			return nil, err
		}
		page, err := decodeRefs(body, "data")
		if err != nil {
			return nil, err
		}
		out = append(out, page...)

		m := reContentRange.FindStringSubmatch(hdr.Get("Content-Range"))
		if len(m) != 4 || m[3] == "*" || len(page) == 0 {
			return out, nil
		}
		last, _ := strconv.Atoi(m[2])
		total, _ := strconv.Atoi(m[3])
		if last+1 >= total {
			return out, nil
		}
		offset = last + 1
	}
}
