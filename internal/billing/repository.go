package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitebill/sitebill/internal/masterdata"
	"github.com/sitebill/sitebill/internal/platform/db"
	"github.com/sitebill/sitebill/internal/shared"
)

// querier is satisfied by both pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// repository implements Repository using pgxpool.
type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new billing repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

var invoiceSort = map[string]string{
	"created_at":     "created_at",
	"invoice_number": "invoice_number",
	"amount":         "amount",
	"status":         "status",
}

func missing(entity string, id int64, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", entity, id, shared.ErrNotFound)
	}
	return db.ClassifyError(err)
}

func getProject(ctx context.Context, q querier, id int64, lock string) (ProjectRef, error) {
	var p ProjectRef
	err := q.QueryRow(ctx, `SELECT id, company_id, name FROM projects WHERE id = $1`+lock, id).
		Scan(&p.ID, &p.CompanyID, &p.Name)
	if err != nil {
		return ProjectRef{}, missing("project", id, err)
	}
	return p, nil
}

func listProjectServices(ctx context.Context, q querier, projectID int64, lock string) ([]ServiceSnapshot, error) {
	rows, err := q.Query(ctx, `
		SELECT s.id, b.id, b.building_code, s.description, s.unit_price::text, s.quantity::text,
		       s.current_progress::float8, s.last_invoiced_progress::float8
		FROM services s
		JOIN buildings b ON b.id = s.building_id
		WHERE b.project_id = $1
		ORDER BY b.building_code, s.id`+lock, projectID)
	if err != nil {
		return nil, db.ClassifyError(err)
	}
	defer rows.Close()

	var out []ServiceSnapshot
	for rows.Next() {
		var s ServiceSnapshot
		if err := rows.Scan(&s.ServiceID, &s.BuildingID, &s.BuildingCode, &s.Description, &s.UnitPrice, &s.Quantity,
			&s.CurrentProgress, &s.LastInvoicedProgress); err != nil {
			return nil, db.ClassifyError(err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, db.ClassifyError(err)
	}
	return out, nil
}

const invoiceColumns = `id, company_id, project_id, invoice_number, amount::text, status,
	COALESCE(created_by, '00000000-0000-0000-0000-000000000000'::uuid), created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var (
		inv    Invoice
		status string
	)
	err := row.Scan(&inv.ID, &inv.CompanyID, &inv.ProjectID, &inv.Number, &inv.Amount, &status,
		&inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	inv.Status = Status(status)
	return inv, err
}

const itemColumns = `id, invoice_id, service_id, building_code, service_description,
	previous_percentage::float8, current_percentage::float8, unit_price::text, quantity::text, amount_due::text`

func scanItem(row pgx.Row) (InvoiceItem, error) {
	var it InvoiceItem
	err := row.Scan(&it.ID, &it.InvoiceID, &it.ServiceID, &it.BuildingCode, &it.ServiceDescription,
		&it.PreviousPercentage, &it.CurrentPercentage, &it.UnitPrice, &it.Quantity, &it.AmountDue)
	return it, err
}

func listItems(ctx context.Context, q querier, invoiceID int64) ([]InvoiceItem, error) {
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM invoice_items WHERE invoice_id = $1 ORDER BY building_code, id`, invoiceID)
	if err != nil {
		return nil, db.ClassifyError(err)
	}
	defer rows.Close()

	var out []InvoiceItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, db.ClassifyError(err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, db.ClassifyError(err)
	}
	return out, nil
}

func (r *repository) GetProject(ctx context.Context, id int64) (ProjectRef, error) {
	return getProject(ctx, r.pool, id, "")
}

func (r *repository) ListProjectServices(ctx context.Context, projectID int64) ([]ServiceSnapshot, error) {
	return listProjectServices(ctx, r.pool, projectID, "")
}

func (r *repository) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, int, error) {
	var (
		where string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		where += fmt.Sprintf(cond, len(args))
	}
	if filter.Search != "" {
		add("invoice_number ILIKE $%d", "%"+filter.Search+"%")
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.CompanyID > 0 {
		add("company_id = $%d", filter.CompanyID)
	}
	if filter.ProjectID > 0 {
		add("project_id = $%d", filter.ProjectID)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.ClassifyError(err)
	}
	query := fmt.Sprintf(`SELECT %s FROM invoices%s ORDER BY %s, id DESC LIMIT $%d OFFSET $%d`,
		invoiceColumns, where, filter.OrderBy(invoiceSort, "created_at"), len(args)+1, len(args)+2)
	rows, err := r.pool.Query(ctx, query, append(args, filter.Limit(), filter.Offset())...)
	if err != nil {
		return nil, 0, db.ClassifyError(err)
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, db.ClassifyError(err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, db.ClassifyError(err)
	}
	return out, total, nil
}

func (r *repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if err != nil {
		return Invoice{}, missing("invoice", id, err)
	}
	inv.Items, err = listItems(ctx, r.pool, id)
	if err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

// UpdateStatus moves an invoice from one status to another. A concurrent
// change of status makes it fail with ErrConflict.
func (r *repository) UpdateStatus(ctx context.Context, id int64, from, to Status) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx,
		`UPDATE invoices SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2 RETURNING `+invoiceColumns,
		id, string(from), string(to)))
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, db.ClassifyError(err)
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invoices WHERE id = $1)`, id).Scan(&exists); err != nil {
		return Invoice{}, err
	}
	if !exists {
		return Invoice{}, fmt.Errorf("invoice %d: %w", id, shared.ErrNotFound)
	}
	return Invoice{}, fmt.Errorf("%w: invoice %d is no longer %s", shared.ErrConflict, id, from)
}

func (r *repository) GetDocument(ctx context.Context, id int64) (Document, error) {
	inv, err := r.GetInvoice(ctx, id)
	if err != nil {
		return Document{}, err
	}
	doc := Document{Invoice: inv}

	c := &doc.Company
	err = r.pool.QueryRow(ctx,
		`SELECT id, name, tax_number, email, phone, contact_person_name, created_at, updated_at FROM companies WHERE id = $1`,
		inv.CompanyID,
	).Scan(&c.ID, &c.Name, &c.TaxNumber, &c.Email, &c.Phone, &c.ContactPersonName, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Document{}, missing("company", inv.CompanyID, err)
	}

	p := &doc.Project
	var status string
	err = r.pool.QueryRow(ctx,
		`SELECT id, name, area_id, company_id, status, created_at, updated_at FROM projects WHERE id = $1`,
		inv.ProjectID,
	).Scan(&p.ID, &p.Name, &p.AreaID, &p.CompanyID, &status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Document{}, missing("project", inv.ProjectID, err)
	}
	p.Status = masterdata.ProjectStatus(status)

	if p.AreaID != nil {
		var a masterdata.Area
		err = r.pool.QueryRow(ctx, `SELECT id, name, city, created_at, updated_at FROM areas WHERE id = $1`, *p.AreaID).
			Scan(&a.ID, &a.Name, &a.City, &a.CreatedAt, &a.UpdatedAt)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return Document{}, err
		}
		if err == nil {
			doc.Area = &a
		}
	}

	doc.Buildings = buildingCodes(inv.Items)
	return doc, nil
}

// buildingCodes lists the distinct building codes of items in order.
func buildingCodes(items []InvoiceItem) []string {
	seen := make(map[string]struct{}, len(items))
	out := []string{}
	for _, it := range items {
		if _, ok := seen[it.BuildingCode]; ok {
			continue
		}
		seen[it.BuildingCode] = struct{}{}
		out = append(out, it.BuildingCode)
	}
	return out
}

// txRepository implements TxRepository.
type txRepository struct {
	tx pgx.Tx
}

// GetProject locks the project row for the rest of the transaction.
func (t *txRepository) GetProject(ctx context.Context, id int64) (ProjectRef, error) {
	return getProject(ctx, t.tx, id, " FOR UPDATE")
}

// ListProjectServices locks the project's service rows.
func (t *txRepository) ListProjectServices(ctx context.Context, projectID int64) ([]ServiceSnapshot, error) {
	return listProjectServices(ctx, t.tx, projectID, " FOR UPDATE OF s")
}

func (t *txRepository) ClaimRequestKey(ctx context.Context, key string) error {
	return shared.ClaimIdempotencyKey(ctx, t.tx, key, "billing.generate")
}

// NextSequence increments the prefix counter. The row lock taken by the
// upsert serialises concurrent generators until commit.
func (t *txRepository) NextSequence(ctx context.Context, prefix string) (int64, error) {
	var next int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO invoice_sequences (prefix, last_value) VALUES ($1, 1)
		ON CONFLICT (prefix) DO UPDATE SET last_value = invoice_sequences.last_value + 1
		RETURNING last_value`, prefix).Scan(&next)
	if err != nil {
		return 0, db.ClassifyError(err)
	}
	return next, nil
}

func (t *txRepository) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	var createdBy *uuid.UUID
	if inv.CreatedBy != uuid.Nil {
		createdBy = &inv.CreatedBy
	}
	created, err := scanInvoice(t.tx.QueryRow(ctx, `
		INSERT INTO invoices (company_id, project_id, invoice_number, amount, status, created_by)
		VALUES ($1, $2, $3, $4::text::numeric, $5, $6)
		RETURNING `+invoiceColumns,
		inv.CompanyID, inv.ProjectID, inv.Number, inv.Amount.String(), string(inv.Status), createdBy))
	if err != nil {
		return Invoice{}, db.ClassifyError(err)
	}
	return created, nil
}

func (t *txRepository) InsertItems(ctx context.Context, invoiceID int64, items []InvoiceItem) ([]InvoiceItem, error) {
	out := make([]InvoiceItem, 0, len(items))
	for _, it := range items {
		created, err := scanItem(t.tx.QueryRow(ctx, `
			INSERT INTO invoice_items (invoice_id, service_id, building_code, service_description,
				previous_percentage, current_percentage, unit_price, quantity, amount_due)
			VALUES ($1, $2, $3, $4, $5, $6, $7::text::numeric, $8::text::numeric, $9::text::numeric)
			RETURNING `+itemColumns,
			invoiceID, it.ServiceID, it.BuildingCode, it.ServiceDescription,
			it.PreviousPercentage, it.CurrentPercentage,
			it.UnitPrice.String(), it.Quantity.String(), it.AmountDue.String()))
		if err != nil {
			return nil, db.ClassifyError(err)
		}
		out = append(out, created)
	}
	return out, nil
}

// AdvanceWatermark sets last_invoiced_progress to the billed progress, but
// only while the row still holds the values the scan saw.
func (t *txRepository) AdvanceWatermark(ctx context.Context, serviceID int64, expected, to float64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE services SET last_invoiced_progress = $2, updated_at = NOW()
		WHERE id = $1 AND last_invoiced_progress = $3 AND current_progress = $2`,
		serviceID, to, expected)
	if err != nil {
		return db.ClassifyError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: service %d changed while invoicing", shared.ErrConflict, serviceID)
	}
	return nil
}
