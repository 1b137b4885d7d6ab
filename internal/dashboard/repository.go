package dashboard

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sitebill/sitebill/internal/masterdata"
	"github.com/sitebill/sitebill/internal/platform/db"
)

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a pgx backed dashboard repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) AverageBuildingProgress(ctx context.Context) (float64, error) {
	var avg float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(AVG(total_progress), 0)::float8 FROM buildings`).Scan(&avg)
	if err != nil {
		return 0, db.ClassifyError(err)
	}
	return avg, nil
}

func (r *repository) InvoiceTotals(ctx context.Context) (InvoiceTotals, error) {
	var (
		t             InvoiceTotals
		pending, paid string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount) FILTER (WHERE status IN ('draft', 'sent')), 0)::text,
		       COUNT(*) FILTER (WHERE status IN ('draft', 'sent')),
		       COALESCE(SUM(amount) FILTER (WHERE status = 'paid'), 0)::text
		FROM invoices`).Scan(&pending, &t.PendingInvoices, &paid)
	if err != nil {
		return InvoiceTotals{}, db.ClassifyError(err)
	}
	if t.PendingAmount, err = decimal.NewFromString(pending); err != nil {
		return InvoiceTotals{}, fmt.Errorf("pending amount: %w", err)
	}
	if t.Revenue, err = decimal.NewFromString(paid); err != nil {
		return InvoiceTotals{}, fmt.Errorf("revenue: %w", err)
	}
	return t, nil
}

func (r *repository) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := r.pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM projects),
		       (SELECT COUNT(*) FROM projects WHERE status = 'active'),
		       (SELECT COUNT(*) FROM areas),
		       (SELECT COUNT(*) FROM companies),
		       (SELECT COUNT(*) FROM invoices)`).
		Scan(&c.Projects, &c.ActiveProjects, &c.Areas, &c.Companies, &c.Invoices)
	if err != nil {
		return Counts{}, db.ClassifyError(err)
	}
	return c, nil
}

func (r *repository) ProjectStatus(ctx context.Context) ([]StatusCount, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM projects GROUP BY status`)
	if err != nil {
		return nil, db.ClassifyError(err)
	}
	defer rows.Close()
	var out []StatusCount
	for rows.Next() {
		var (
			status string
			sc     StatusCount
		)
		if err := rows.Scan(&status, &sc.Count); err != nil {
			return nil, err
		}
		sc.Status = masterdata.ProjectStatus(status)
		out = append(out, sc)
	}
	return out, rows.Err()
}

// DailyTotals returns per-day invoice sums for the days window ending at the
// most recent invoice.
func (r *repository) DailyTotals(ctx context.Context, days int) ([]DailyTotal, error) {
	rows, err := r.pool.Query(ctx, `
		WITH latest AS (SELECT MAX(created_at AT TIME ZONE 'UTC')::date AS day FROM invoices)
		SELECT (i.created_at AT TIME ZONE 'UTC')::date AS day, SUM(i.amount)::text
		FROM invoices i, latest
		WHERE (i.created_at AT TIME ZONE 'UTC')::date > latest.day - $1::int
		GROUP BY 1
		ORDER BY 1`, days)
	if err != nil {
		return nil, db.ClassifyError(err)
	}
	defer rows.Close()
	var out []DailyTotal
	for rows.Next() {
		var (
			d      DailyTotal
			amount string
		)
		if err := rows.Scan(&d.Day, &amount); err != nil {
			return nil, err
		}
		if d.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("daily total: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *repository) LatestInvoices(ctx context.Context, limit int) ([]RecentInvoice, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT i.id, i.invoice_number, i.status, i.amount::text, c.name, p.name, i.created_at
		FROM invoices i
		JOIN companies c ON c.id = i.company_id
		JOIN projects p ON p.id = i.project_id
		ORDER BY i.created_at DESC, i.id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, db.ClassifyError(err)
	}
	defer rows.Close()
	var out []RecentInvoice
	for rows.Next() {
		var (
			inv    RecentInvoice
			amount string
		)
		if err := rows.Scan(&inv.ID, &inv.Number, &inv.Status, &amount, &inv.CompanyName, &inv.ProjectName, &inv.CreatedAt); err != nil {
			return nil, err
		}
		if inv.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("invoice amount: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}
