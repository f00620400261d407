package results

import (
	"context"
	"time"

	"github.com/DeLoWaN/openfront-discord-bot/internal/eventbus"
	"github.com/DeLoWaN/openfront-discord-bot/internal/openfront"
	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

// Discover polls the public lobby feed and tracks every new match id.
func (s *Service) Discover(ctx context.Context) error {
	interval := s.cfg.LobbyPoll
	s.log.Info("lobby discovery started", logx.Duration("interval", interval))
	for ctx.Err() == nil {
		delay := interval
		lobbies, err := s.upstream.PublicLobbies(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			if openfront.IsRateLimited(err) {
				delay = max(delay, openfront.RetryAfterHint(err))
				s.log.Warn("lobby poll rate limited; backing off", logx.Duration("delay", delay))
			} else {
				s.log.Warn("lobby poll failed", logx.Err(err))
			}
		default:
			now := s.now()
			if _, err := s.track(ctx, lobbies, openfront.LobbyIDKeys, now, now.Add(s.cfg.Grace)); err != nil {
				s.log.Warn("lobby tracking failed", logx.Err(err))
			}
		}
		if err := s.sleep(ctx, delay); err != nil {
			return nil
		}
	}
	return nil
}

// Seed tracks public games that finished in the last two hours so they are
// processed at once. It returns how many were new.
func (s *Service) Seed(ctx context.Context) (int, error) {
	now := s.now()
	games, err := s.upstream.PublicGames(ctx, now.Add(-seedLookback), now)
	if err != nil {
		s.log.Warn("results seed failed", logx.Err(err))
		return 0, err
	}
	return s.track(ctx, games, openfront.GameIDKeys, now, now)
}

func (s *Service) track(ctx context.Context, refs []openfront.GameRef, keys []string, now, next time.Time) (int, error) {
	added := 0
	for _, ref := range refs {
		id := ref.ID(keys...)
		if id == "" {
			continue
		}
		created, err := s.store.TrackMatch(ctx, id, now, next)
		if err != nil {
			return added, err
		}
		if created {
			s.log.Info("tracking new match", logx.String("match", id))
			added++
		}
	}
	if added > 0 {
		s.bus.Publish(eventbus.Event{Type: eventbus.MatchesTracked, Time: now, Data: added})
	}
	return added, nil
}
