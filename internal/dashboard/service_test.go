package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sitebill/sitebill/internal/masterdata"
	"github.com/sitebill/sitebill/internal/platform/cache"
)

type memoryRepo struct {
	loads atomic.Int32
	err   error
}

func (m *memoryRepo) AverageBuildingProgress(ctx context.Context) (float64, error) {
	m.loads.Add(1)
	return 62.5, m.err
}

func (m *memoryRepo) InvoiceTotals(ctx context.Context) (InvoiceTotals, error) {
	return InvoiceTotals{
		PendingAmount:   decimal.RequireFromString("1300"),
		PendingInvoices: 2,
		Revenue:         decimal.RequireFromString("800"),
	}, nil
}

func (m *memoryRepo) Counts(ctx context.Context) (Counts, error) {
	return Counts{Projects: 3, ActiveProjects: 2, Areas: 1, Companies: 2, Invoices: 3}, nil
}

func (m *memoryRepo) ProjectStatus(ctx context.Context) ([]StatusCount, error) {
	return []StatusCount{
		{Status: masterdata.ProjectCompleted, Count: 1},
		{Status: masterdata.ProjectActive, Count: 2},
	}, nil
}

func (m *memoryRepo) DailyTotals(ctx context.Context, days int) ([]DailyTotal, error) {
	return []DailyTotal{{Day: time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC), Amount: decimal.NewFromInt(800)}}, nil
}

func (m *memoryRepo) LatestInvoices(ctx context.Context, limit int) ([]RecentInvoice, error) {
	return []RecentInvoice{{ID: 1, Number: "INV-202403-0001", Status: "paid", Amount: decimal.NewFromInt(800)}}, nil
}

func newTestService(t *testing.T) (*Service, *memoryRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	repo := &memoryRepo{}
	svc := NewService(repo, cache.NewJSONCache(client, "dashboard", time.Minute), slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC) }
	return svc, repo, mr
}

func TestStatsComputesFigures(t *testing.T) {
	svc, _, _ := newTestService(t)
	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)

	require.Equal(t, 62.5, stats.AverageProgress)
	require.Equal(t, "1300", stats.Totals.PendingAmount.String())
	require.Equal(t, "800", stats.Totals.Revenue.String())
	require.Equal(t, 2, stats.Counts.ActiveProjects)
	require.Equal(t, masterdata.ProjectActive, stats.ProjectStatus[0].Status)
	require.Len(t, stats.RevenueTrend, 1)
	require.Equal(t, "2024-03-05", stats.RevenueTrend[0].Date)
	require.Len(t, stats.LatestInvoices, 1)
}

func TestStatsAreCachedUntilInvalidated(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Stats(ctx)
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), repo.loads.Load())

	require.NoError(t, svc.Invalidate(ctx))
	_, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(2), repo.loads.Load())
}

func TestStatsPropagatesLoadErrors(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.err = errors.New("db down")
	_, err := svc.Stats(context.Background())
	require.ErrorContains(t, err, "db down")
}

func TestStatsFallsBackWhenCacheIsDown(t *testing.T) {
	svc, repo, mr := newTestService(t)
	mr.Close()
	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 62.5, stats.AverageProgress)
	require.Equal(t, int32(1), repo.loads.Load())
}

func TestHandlerServesStats(t *testing.T) {
	svc, _, _ := newTestService(t)
	r := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, 62.5, body["average_progress"])
	require.Contains(t, body, "revenue_trend")
}
