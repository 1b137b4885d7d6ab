package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sitebill/sitebill/internal/platform/cache"
)

// Service computes dashboard statistics.
type Service struct {
	repo   Repository
	cache  *cache.JSONCache
	group  singleflight.Group
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires the service. A nil cache computes on every call.
func NewService(repo Repository, c *cache.JSONCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: c, logger: logger, now: time.Now}
}

type loadError struct{ err error }

func (e loadError) Error() string { return e.err.Error() }
func (e loadError) Unwrap() error { return e.err }

// Stats returns cached statistics, computing them at most once per cache
// version across concurrent callers.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	key, err := s.cache.BuildKey(ctx, "stats")
	if err != nil {
		s.logger.Warn("dashboard cache unavailable", slog.Any("error", err))
		return s.load(ctx)
	}

	ch := s.group.DoChan(key, func() (any, error) {
		var out Stats
		err := s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
			stats, err := s.load(ctx)
			if err != nil {
				return nil, loadError{err}
			}
			return stats, nil
		})
		return out, err
	})

	select {
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case res := <-ch:
		if res.Err == nil {
			return res.Val.(Stats), nil
		}
		var le loadError
		if errors.As(res.Err, &le) {
			return Stats{}, le.err
		}
		s.logger.Warn("dashboard cache unavailable", slog.Any("error", res.Err))
		return s.load(ctx)
	}
}

// Invalidate drops cached statistics.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

func (s *Service) load(ctx context.Context) (Stats, error) {
	var (
		stats Stats
		daily []DailyTotal
	)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		avg, err := s.repo.AverageBuildingProgress(ctx)
		stats.AverageProgress = avg
		return err
	})
	g.Go(func() error {
		totals, err := s.repo.InvoiceTotals(ctx)
		stats.Totals = totals
		return err
	})
	g.Go(func() error {
		counts, err := s.repo.Counts(ctx)
		stats.Counts = counts
		return err
	})
	g.Go(func() error {
		breakdown, err := s.repo.ProjectStatus(ctx)
		stats.ProjectStatus = breakdown
		return err
	})
	g.Go(func() error {
		var err error
		daily, err = s.repo.DailyTotals(ctx, TrendDays)
		return err
	})
	g.Go(func() error {
		latest, err := s.repo.LatestInvoices(ctx, LatestLimit)
		stats.LatestInvoices = latest
		return err
	})

	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	now := s.now().UTC()
	SortStatus(stats.ProjectStatus)
	if stats.ProjectStatus == nil {
		stats.ProjectStatus = []StatusCount{}
	}
	if stats.LatestInvoices == nil {
		stats.LatestInvoices = []RecentInvoice{}
	}
	stats.RevenueTrend = BuildTrend(daily, now)
	stats.GeneratedAt = now
	return stats, nil
}
