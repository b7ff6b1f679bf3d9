package analytics

import (
	"context"
	"time"

	"tradepulse/internal/cache"
	"tradepulse/internal/models"
)

// Source reads a user's ledger.
type Source interface {
	TradesForUser(ctx context.Context, userID string) ([]models.Trade, error)
	ExecutionsForUser(ctx context.Context, userID string) ([]models.Execution, error)
}

// Service serves cached summaries.
type Service struct {
	source Source
	cache  *cache.Cache
	now    func() time.Time
}

// NewService creates a summary service. cache may be nil.
func NewService(source Source, c *cache.Cache) *Service {
	return &Service{source: source, cache: c, now: time.Now}
}

// Summary returns the dashboard summary for userID.
func (s *Service) Summary(ctx context.Context, userID, rangeParam, tz string) (Summary, error) {
	r, err := ParseRange(rangeParam)
	if err != nil {
		return Summary{}, err
	}
	loc, err := ParseZone(tz)
	if err != nil {
		return Summary{}, err
	}

	// Resolve the key before the reads; an Invalidate during the load orphans the entry.
	key := s.cache.Key(userID, "summary|"+string(r)+"|"+loc.String())
	if v, ok := s.cache.Get(key); ok {
		if summary, ok := v.(Summary); ok {
			return summary, nil
		}
	}

	trades, err := s.source.TradesForUser(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	executions, err := s.source.ExecutionsForUser(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	events := append(EventsFromTrades(trades), EventsFromExecutions(executions)...)

	summary := Summarize(events, r, loc, s.now())
	s.cache.Set(key, summary)
	return summary, nil
}

// Invalidate drops cached summaries of userID.
func (s *Service) Invalidate(userID string) {
	s.cache.Invalidate(userID)
}
