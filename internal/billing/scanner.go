package billing

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/sitebill/sitebill/internal/earnedvalue"
)

// Scanner computes a project's unbilled position from a ScanSource.
type Scanner struct {
	source ScanSource
}

// NewScanner binds a scanner to source.
func NewScanner(source ScanSource) Scanner {
	return Scanner{source: source}
}

// Scan returns the project's candidates ordered by building code then
// service id, with the total of their rounded amounts. It performs no writes.
func (s Scanner) Scan(ctx context.Context, projectID int64) (Scan, error) {
	project, err := s.source.GetProject(ctx, projectID)
	if err != nil {
		return Scan{}, err
	}
	services, err := s.source.ListProjectServices(ctx, projectID)
	if err != nil {
		return Scan{}, err
	}
	return BuildScan(project, services)
}

// BuildScan is the pure part of Scan.
func BuildScan(project ProjectRef, services []ServiceSnapshot) (Scan, error) {
	out := Scan{Project: project, Candidates: []Candidate{}, Total: decimal.Zero}
	for _, svc := range services {
		amount, err := earnedvalue.UnbilledAmount(svc.UnitPrice, svc.Quantity, svc.CurrentProgress, svc.LastInvoicedProgress)
		if err != nil {
			return Scan{}, fmt.Errorf("service %d: %w", svc.ServiceID, err)
		}
		// A delta worth less than half a cent rounds to zero and is skipped; the
		// watermark stays put so the value is billed once it accumulates.
		amount = earnedvalue.RoundCurrency(amount)
		if !amount.IsPositive() {
			continue
		}
		out.Candidates = append(out.Candidates, Candidate{ServiceSnapshot: svc, Amount: amount})
		out.Total = out.Total.Add(amount)
	}
	sort.SliceStable(out.Candidates, func(i, j int) bool {
		a, b := out.Candidates[i], out.Candidates[j]
		if a.BuildingCode != b.BuildingCode {
			return a.BuildingCode < b.BuildingCode
		}
		return a.ServiceID < b.ServiceID
	})
	return out, nil
}
