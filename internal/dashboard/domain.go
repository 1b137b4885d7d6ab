// Package dashboard aggregates portfolio figures for the landing page.
package dashboard

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sitebill/sitebill/internal/masterdata"
)

// TrendDays caps the revenue trend window.
const TrendDays = 30

// LatestLimit bounds the recent invoice list.
const LatestLimit = 5

// Counts holds entity totals.
type Counts struct {
	Projects       int `json:"projects"`
	ActiveProjects int `json:"active_projects"`
	Areas          int `json:"areas"`
	Companies      int `json:"companies"`
	Invoices       int `json:"invoices"`
}

// InvoiceTotals summarises invoice amounts by payment state.
type InvoiceTotals struct {
	PendingAmount   decimal.Decimal `json:"pending_amount"`
	PendingInvoices int             `json:"pending_invoices"`
	Revenue         decimal.Decimal `json:"total_revenue"`
}

// StatusCount is one slice of the project status breakdown.
type StatusCount struct {
	Status masterdata.ProjectStatus `json:"status"`
	Count  int                      `json:"count"`
}

// DailyTotal is the invoiced amount of one calendar day.
type DailyTotal struct {
	Day    time.Time
	Amount decimal.Decimal
}

// TrendPoint is a day on the revenue chart.
type TrendPoint struct {
	Date    string          `json:"date"`
	Revenue decimal.Decimal `json:"revenue"`
}

// RecentInvoice is a row of the latest invoices list.
type RecentInvoice struct {
	ID          int64           `json:"id"`
	Number      string          `json:"invoice_number"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	CompanyName string          `json:"company_name"`
	ProjectName string          `json:"project_name"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Stats is the dashboard payload.
type Stats struct {
	AverageProgress float64         `json:"average_progress"`
	Totals          InvoiceTotals   `json:"totals"`
	Counts          Counts          `json:"counts"`
	ProjectStatus   []StatusCount   `json:"project_status"`
	RevenueTrend    []TrendPoint    `json:"revenue_trend"`
	LatestInvoices  []RecentInvoice `json:"latest_invoices"`
	GeneratedAt     time.Time       `json:"generated_at"`
}

// Repository provides the dashboard reads.
type Repository interface {
	AverageBuildingProgress(ctx context.Context) (float64, error)
	InvoiceTotals(ctx context.Context) (InvoiceTotals, error)
	Counts(ctx context.Context) (Counts, error)
	ProjectStatus(ctx context.Context) ([]StatusCount, error)
	DailyTotals(ctx context.Context, days int) ([]DailyTotal, error)
	LatestInvoices(ctx context.Context, limit int) ([]RecentInvoice, error)
}
