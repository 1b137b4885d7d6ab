package boq

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitebill/sitebill/internal/platform/db"
	"github.com/sitebill/sitebill/internal/shared"
)

// repository implements Repository using pgxpool.
type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// txRepository implements TxRepository.
type txRepository struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const serviceColumns = `id, building_id, description, unit_price::text, quantity::text,
	current_progress::float8, last_invoiced_progress::float8, created_at, updated_at`

func scanService(row pgx.Row) (ServiceLine, error) {
	var s ServiceLine
	err := row.Scan(&s.ID, &s.BuildingID, &s.Description, &s.UnitPrice, &s.Quantity,
		&s.CurrentProgress, &s.LastInvoicedProgress, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func missing(entity string, id int64, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", entity, id, shared.ErrNotFound)
	}
	return db.ClassifyError(err)
}

func (r *repository) GetBuilding(ctx context.Context, id int64) (BuildingRef, error) {
	var b BuildingRef
	err := r.pool.QueryRow(ctx,
		`SELECT id, project_id, building_code, total_progress::float8 FROM buildings WHERE id = $1`, id,
	).Scan(&b.ID, &b.ProjectID, &b.BuildingCode, &b.TotalProgress)
	if err != nil {
		return BuildingRef{}, missing("building", id, err)
	}
	return b, nil
}

func (r *repository) GetService(ctx context.Context, id int64) (ServiceLine, error) {
	s, err := scanService(r.pool.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, id))
	if err != nil {
		return ServiceLine{}, missing("service", id, err)
	}
	return s, nil
}

func (r *repository) ListServices(ctx context.Context, buildingID int64) ([]ServiceLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+serviceColumns+` FROM services WHERE building_id = $1 ORDER BY id`, buildingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ServiceLine
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LockBuilding takes a row lock so recomputes of one building are serialised.
func (t *txRepository) LockBuilding(ctx context.Context, id int64) error {
	var locked int64
	err := t.tx.QueryRow(ctx, `SELECT id FROM buildings WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		return missing("building", id, err)
	}
	return nil
}

func (t *txRepository) GetServiceForUpdate(ctx context.Context, id int64) (ServiceLine, error) {
	s, err := scanService(t.tx.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return ServiceLine{}, missing("service", id, err)
	}
	return s, nil
}

func (t *txRepository) InsertService(ctx context.Context, buildingID int64, in ServiceInput) (ServiceLine, error) {
	s, err := scanService(t.tx.QueryRow(ctx,
		`INSERT INTO services (building_id, description, unit_price, quantity)
		 VALUES ($1, $2, $3::text::numeric, $4::text::numeric)
		 RETURNING `+serviceColumns,
		buildingID, in.Description, in.UnitPrice.String(), in.Quantity.String()))
	return s, db.ClassifyError(err)
}

func (t *txRepository) UpdateServiceDetails(ctx context.Context, id int64, in ServiceInput) (ServiceLine, error) {
	s, err := scanService(t.tx.QueryRow(ctx,
		`UPDATE services SET description = $1, unit_price = $2::text::numeric, quantity = $3::text::numeric, updated_at = NOW()
		 WHERE id = $4 RETURNING `+serviceColumns,
		in.Description, in.UnitPrice.String(), in.Quantity.String(), id))
	if err != nil {
		return ServiceLine{}, missing("service", id, err)
	}
	return s, nil
}

func (t *txRepository) DeleteService(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM services WHERE id = $1`, id)
	if err != nil {
		return db.ClassifyError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("service %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (t *txRepository) SetCurrentProgress(ctx context.Context, id int64, progress float64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE services SET current_progress = $1, updated_at = NOW() WHERE id = $2`, progress, id)
	if err != nil {
		return db.ClassifyError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("service %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (t *txRepository) ListCurrentProgress(ctx context.Context, buildingID int64) ([]float64, error) {
	rows, err := t.tx.Query(ctx, `SELECT current_progress::float8 FROM services WHERE building_id = $1`, buildingID)
	if err != nil {
		return nil, db.ClassifyError(err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var p float64
		if err := rows.Scan(&p); err != nil {
			return nil, db.ClassifyError(err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, db.ClassifyError(err)
	}
	return out, nil
}

func (t *txRepository) SetBuildingProgress(ctx context.Context, buildingID int64, progress float64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE buildings SET total_progress = $1, updated_at = NOW() WHERE id = $2`, progress, buildingID)
	return db.ClassifyError(err)
}
