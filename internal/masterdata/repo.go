package masterdata

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitebill/sitebill/internal/platform/db"
	"github.com/sitebill/sitebill/internal/shared"
)

// repo implements Repository on PostgreSQL.
type repo struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new master data repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repo{pool: pool}
}

var (
	areaSort    = map[string]string{"name": "name", "city": "city", "created_at": "created_at"}
	companySort = map[string]string{"name": "name", "created_at": "created_at"}
	projectSort = map[string]string{"name": "name", "status": "status", "created_at": "created_at"}
)

func notFound(entity string, id int64, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", entity, id, shared.ErrNotFound)
	}
	return db.ClassifyError(err)
}

func expectOne(entity string, id int64, affected int64) error {
	if affected == 0 {
		return fmt.Errorf("%s %d: %w", entity, id, shared.ErrNotFound)
	}
	return nil
}

// Area operations

const areaColumns = `id, name, city, created_at, updated_at`

func scanArea(row pgx.Row) (Area, error) {
	var a Area
	err := row.Scan(&a.ID, &a.Name, &a.City, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *repo) ListAreas(ctx context.Context, params shared.ListParams) ([]Area, int, error) {
	where, args := searchClause(params.Search, "name", "city")
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM areas`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + areaColumns + ` FROM areas` + where +
		` ORDER BY ` + params.OrderBy(areaSort, "name") + pageClause(len(args))
	rows, err := r.pool.Query(ctx, query, append(args, params.Limit(), params.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var areas []Area
	for rows.Next() {
		a, err := scanArea(rows)
		if err != nil {
			return nil, 0, err
		}
		areas = append(areas, a)
	}
	return areas, total, rows.Err()
}

func (r *repo) GetArea(ctx context.Context, id int64) (Area, error) {
	a, err := scanArea(r.pool.QueryRow(ctx, `SELECT `+areaColumns+` FROM areas WHERE id = $1`, id))
	if err != nil {
		return Area{}, notFound("area", id, err)
	}
	return a, nil
}

func (r *repo) CreateArea(ctx context.Context, in AreaInput) (Area, error) {
	a, err := scanArea(r.pool.QueryRow(ctx,
		`INSERT INTO areas (name, city) VALUES ($1, $2) RETURNING `+areaColumns, in.Name, in.City))
	return a, db.ClassifyError(err)
}

func (r *repo) UpdateArea(ctx context.Context, id int64, in AreaInput) (Area, error) {
	a, err := scanArea(r.pool.QueryRow(ctx,
		`UPDATE areas SET name = $1, city = $2, updated_at = NOW() WHERE id = $3 RETURNING `+areaColumns, in.Name, in.City, id))
	if err != nil {
		return Area{}, notFound("area", id, err)
	}
	return a, nil
}

func (r *repo) DeleteArea(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM areas WHERE id = $1`, id)
	if err != nil {
		return db.ClassifyError(err)
	}
	return expectOne("area", id, tag.RowsAffected())
}

// Company operations

const companyColumns = `id, name, tax_number, email, phone, contact_person_name, created_at, updated_at`

func scanCompany(row pgx.Row) (Company, error) {
	var c Company
	err := row.Scan(&c.ID, &c.Name, &c.TaxNumber, &c.Email, &c.Phone, &c.ContactPersonName, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (r *repo) ListCompanies(ctx context.Context, params shared.ListParams) ([]Company, int, error) {
	where, args := searchClause(params.Search, "name", "tax_number", "contact_person_name")
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM companies`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + companyColumns + ` FROM companies` + where +
		` ORDER BY ` + params.OrderBy(companySort, "name") + pageClause(len(args))
	rows, err := r.pool.Query(ctx, query, append(args, params.Limit(), params.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var companies []Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, 0, err
		}
		companies = append(companies, c)
	}
	return companies, total, rows.Err()
}

func (r *repo) GetCompany(ctx context.Context, id int64) (Company, error) {
	c, err := scanCompany(r.pool.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, id))
	if err != nil {
		return Company{}, notFound("company", id, err)
	}
	return c, nil
}

func (r *repo) CreateCompany(ctx context.Context, in CompanyInput) (Company, error) {
	c, err := scanCompany(r.pool.QueryRow(ctx,
		`INSERT INTO companies (name, tax_number, email, phone, contact_person_name)
		 VALUES ($1, $2, $3, $4, $5) RETURNING `+companyColumns,
		in.Name, in.TaxNumber, in.Email, in.Phone, in.ContactPersonName))
	return c, db.ClassifyError(err)
}

func (r *repo) UpdateCompany(ctx context.Context, id int64, in CompanyInput) (Company, error) {
	c, err := scanCompany(r.pool.QueryRow(ctx,
		`UPDATE companies SET name = $1, tax_number = $2, email = $3, phone = $4, contact_person_name = $5, updated_at = NOW()
		 WHERE id = $6 RETURNING `+companyColumns,
		in.Name, in.TaxNumber, in.Email, in.Phone, in.ContactPersonName, id))
	if err != nil {
		return Company{}, notFound("company", id, err)
	}
	return c, nil
}

func (r *repo) DeleteCompany(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM companies WHERE id = $1`, id)
	if err != nil {
		return db.ClassifyError(err)
	}
	return expectOne("company", id, tag.RowsAffected())
}

// Project operations

const projectColumns = `id, name, area_id, company_id, status, created_at, updated_at`

func scanProject(row pgx.Row) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.Name, &p.AreaID, &p.CompanyID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *repo) ListProjects(ctx context.Context, filter ProjectFilter) ([]Project, int, error) {
	where, args := searchClause(filter.Search, "name")
	add := func(cond string, v any) {
		args = append(args, v)
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		where += fmt.Sprintf(cond, len(args))
	}
	if filter.CompanyID > 0 {
		add("company_id = $%d", filter.CompanyID)
	}
	if filter.AreaID > 0 {
		add("area_id = $%d", filter.AreaID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM projects`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + projectColumns + ` FROM projects` + where +
		` ORDER BY ` + filter.OrderBy(projectSort, "name") + pageClause(len(args))
	rows, err := r.pool.Query(ctx, query, append(args, filter.Limit(), filter.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, 0, err
		}
		projects = append(projects, p)
	}
	return projects, total, rows.Err()
}

func (r *repo) GetProject(ctx context.Context, id int64) (Project, error) {
	p, err := scanProject(r.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	if err != nil {
		return Project{}, notFound("project", id, err)
	}
	return p, nil
}

func (r *repo) CreateProject(ctx context.Context, in ProjectInput) (Project, error) {
	p, err := scanProject(r.pool.QueryRow(ctx,
		`INSERT INTO projects (name, area_id, company_id, status) VALUES ($1, $2, $3, $4) RETURNING `+projectColumns,
		in.Name, in.AreaID, in.CompanyID, string(in.Status)))
	return p, db.ClassifyError(err)
}

func (r *repo) UpdateProject(ctx context.Context, id int64, in ProjectInput) (Project, error) {
	p, err := scanProject(r.pool.QueryRow(ctx,
		`UPDATE projects SET name = $1, area_id = $2, company_id = $3, status = $4, updated_at = NOW()
		 WHERE id = $5 RETURNING `+projectColumns,
		in.Name, in.AreaID, in.CompanyID, string(in.Status), id))
	if err != nil {
		return Project{}, notFound("project", id, err)
	}
	return p, nil
}

func (r *repo) DeleteProject(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return db.ClassifyError(err)
	}
	return expectOne("project", id, tag.RowsAffected())
}

// Building operations

const buildingColumns = `id, project_id, building_code, total_progress::float8, created_at, updated_at`

func scanBuilding(row pgx.Row) (Building, error) {
	var b Building
	err := row.Scan(&b.ID, &b.ProjectID, &b.BuildingCode, &b.TotalProgress, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (r *repo) ListBuildings(ctx context.Context, projectID int64) ([]Building, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+buildingColumns+` FROM buildings WHERE project_id = $1 ORDER BY building_code`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buildings []Building
	for rows.Next() {
		b, err := scanBuilding(rows)
		if err != nil {
			return nil, err
		}
		buildings = append(buildings, b)
	}
	return buildings, rows.Err()
}

func (r *repo) GetBuilding(ctx context.Context, id int64) (Building, error) {
	b, err := scanBuilding(r.pool.QueryRow(ctx, `SELECT `+buildingColumns+` FROM buildings WHERE id = $1`, id))
	if err != nil {
		return Building{}, notFound("building", id, err)
	}
	return b, nil
}

func (r *repo) CreateBuilding(ctx context.Context, projectID int64, in BuildingInput) (Building, error) {
	b, err := scanBuilding(r.pool.QueryRow(ctx,
		`INSERT INTO buildings (project_id, building_code) VALUES ($1, $2) RETURNING `+buildingColumns,
		projectID, in.BuildingCode))
	return b, db.ClassifyError(err)
}

func (r *repo) UpdateBuilding(ctx context.Context, id int64, in BuildingInput) (Building, error) {
	b, err := scanBuilding(r.pool.QueryRow(ctx,
		`UPDATE buildings SET building_code = $1, updated_at = NOW() WHERE id = $2 RETURNING `+buildingColumns,
		in.BuildingCode, id))
	if err != nil {
		return Building{}, notFound("building", id, err)
	}
	return b, nil
}

func (r *repo) DeleteBuilding(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM buildings WHERE id = $1`, id)
	if err != nil {
		return db.ClassifyError(err)
	}
	return expectOne("building", id, tag.RowsAffected())
}

// searchClause builds an ILIKE filter over columns using placeholder $1.
func searchClause(search string, columns ...string) (string, []any) {
	if search == "" {
		return "", nil
	}
	conds := make([]string, len(columns))
	for i, c := range columns {
		conds[i] = c + " ILIKE $1"
	}
	return " WHERE (" + strings.Join(conds, " OR ") + ")", []any{"%" + search + "%"}
}

// pageClause appends LIMIT/OFFSET placeholders after n filter arguments.
func pageClause(n int) string {
	return " LIMIT $" + strconv.Itoa(n+1) + " OFFSET $" + strconv.Itoa(n+2)
}
