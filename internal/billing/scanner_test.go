package billing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sitebill/sitebill/internal/shared"
)

func snapshot(id int64, building, price, qty string, current, invoiced float64) ServiceSnapshot {
	return ServiceSnapshot{
		ServiceID:            id,
		BuildingID:           1,
		BuildingCode:         building,
		Description:          "work",
		UnitPrice:            decimal.RequireFromString(price),
		Quantity:             decimal.RequireFromString(qty),
		CurrentProgress:      current,
		LastInvoicedProgress: invoiced,
	}
}

func TestBuildScanComputesUnbilledAmount(t *testing.T) {
	scan, err := BuildScan(ProjectRef{ID: 7, CompanyID: 3}, []ServiceSnapshot{
		snapshot(1, "A", "1000", "2", 45, 20),
	})
	require.NoError(t, err)
	require.Len(t, scan.Candidates, 1)
	require.Equal(t, "500", scan.Candidates[0].Amount.String())
	require.Equal(t, "500", scan.Total.String())
}

func TestBuildScanExcludesFullyBilledServices(t *testing.T) {
	scan, err := BuildScan(ProjectRef{ID: 7}, []ServiceSnapshot{
		snapshot(1, "A", "999999", "1000", 60, 60),
		snapshot(2, "A", "0", "5", 80, 10),
		snapshot(3, "A", "10", "0", 80, 10),
	})
	require.NoError(t, err)
	require.Empty(t, scan.Candidates)
	require.True(t, scan.Total.IsZero())
}

func TestBuildScanOrdersByBuildingThenService(t *testing.T) {
	scan, err := BuildScan(ProjectRef{ID: 7}, []ServiceSnapshot{
		snapshot(9, "B", "10", "1", 50, 0),
		snapshot(4, "A", "10", "1", 50, 0),
		snapshot(2, "B", "10", "1", 50, 0),
	})
	require.NoError(t, err)
	var ids []int64
	for _, c := range scan.Candidates {
		ids = append(ids, c.ServiceID)
	}
	require.Equal(t, []int64{4, 2, 9}, ids)
}

func TestBuildScanRoundsEachCandidate(t *testing.T) {
	// 10.005 and 0.005 round half away from zero.
	scan, err := BuildScan(ProjectRef{ID: 7}, []ServiceSnapshot{
		snapshot(1, "A", "100.05", "1", 10, 0),
		snapshot(2, "A", "0.5", "1", 1, 0),
	})
	require.NoError(t, err)
	require.Equal(t, "10.01", scan.Candidates[0].Amount.String())
	require.Equal(t, "0.01", scan.Candidates[1].Amount.String())
	require.Equal(t, "10.02", scan.Total.String())
}

func TestBuildScanRejectsInvalidSnapshot(t *testing.T) {
	_, err := BuildScan(ProjectRef{ID: 7}, []ServiceSnapshot{snapshot(1, "A", "-1", "1", 50, 0)})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestScannerIsIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProject(1, 10)
	repo.addService(1, "A", "1000", "2", 45, 20)
	repo.addService(1, "B", "300", "1", 100, 0)

	first, err := NewScanner(repo).Scan(context.Background(), 1)
	require.NoError(t, err)
	second, err := NewScanner(repo).Scan(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, "800", first.Total.String())
}

func TestScannerUnknownProject(t *testing.T) {
	_, err := NewScanner(newMemoryRepo()).Scan(context.Background(), 404)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestBuildScanSkipsSubCentDeltaUntilItAccumulates(t *testing.T) {
	// 0.04 * 1 * 10% = 0.004 rounds to 0.00.
	scan, err := BuildScan(ProjectRef{ID: 7}, []ServiceSnapshot{snapshot(1, "A", "0.04", "1", 20, 10)})
	require.NoError(t, err)
	require.Empty(t, scan.Candidates)
	require.True(t, scan.Total.IsZero())

	// With the watermark still at 10, further progress makes the carried value billable.
	scan, err = BuildScan(ProjectRef{ID: 7}, []ServiceSnapshot{snapshot(1, "A", "0.04", "1", 25, 10)})
	require.NoError(t, err)
	require.Len(t, scan.Candidates, 1)
	require.Equal(t, "0.01", scan.Candidates[0].Amount.String())
	require.Equal(t, 10.0, scan.Candidates[0].LastInvoicedProgress)
}
