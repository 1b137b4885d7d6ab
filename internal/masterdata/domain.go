package masterdata

import (
	"context"
	"time"

	"github.com/sitebill/sitebill/internal/shared"
)

// ProjectStatus enumerates project lifecycle states.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
	ProjectOnHold    ProjectStatus = "on_hold"
)

// Valid reports whether s is a known status.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectActive, ProjectCompleted, ProjectOnHold:
		return true
	}
	return false
}

// Area is a geographic grouping of projects.
type Area struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	City      *string   `json:"city,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Company is a client organization.
type Company struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	TaxNumber         *string   `json:"tax_number,omitempty"`
	Email             *string   `json:"email,omitempty"`
	Phone             *string   `json:"phone,omitempty"`
	ContactPersonName *string   `json:"contact_person_name,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Project is a construction engagement owned by a company.
type Project struct {
	ID        int64         `json:"id"`
	Name      string        `json:"name"`
	AreaID    *int64        `json:"area_id,omitempty"`
	CompanyID int64         `json:"company_id"`
	Status    ProjectStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Building is a structure within a project. TotalProgress is maintained by
// the BOQ service and is never written through this package.
type Building struct {
	ID            int64     `json:"id"`
	ProjectID     int64     `json:"project_id"`
	BuildingCode  string    `json:"building_code"`
	TotalProgress float64   `json:"total_progress"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AreaInput carries writable area fields.
type AreaInput struct {
	Name string  `json:"name" validate:"required,max=200"`
	City *string `json:"city" validate:"omitempty,max=200"`
}

// CompanyInput carries writable company fields.
type CompanyInput struct {
	Name              string  `json:"name" validate:"required,max=200"`
	TaxNumber         *string `json:"tax_number" validate:"omitempty,max=64"`
	Email             *string `json:"email" validate:"omitempty,email"`
	Phone             *string `json:"phone" validate:"omitempty,max=32"`
	ContactPersonName *string `json:"contact_person_name" validate:"omitempty,max=200"`
}

// ProjectInput carries writable project fields.
type ProjectInput struct {
	Name      string        `json:"name" validate:"required,max=200"`
	AreaID    *int64        `json:"area_id" validate:"omitempty,gt=0"`
	CompanyID int64         `json:"company_id" validate:"required,gt=0"`
	Status    ProjectStatus `json:"status" validate:"omitempty,oneof=active completed on_hold"`
}

// BuildingInput carries writable building fields.
type BuildingInput struct {
	BuildingCode string `json:"building_code" validate:"required,max=64"`
}

// ProjectFilter narrows project listings.
type ProjectFilter struct {
	shared.ListParams
	CompanyID int64
	AreaID    int64
	Status    ProjectStatus
}

// Repository defines persistence for master data.
type Repository interface {
	ListAreas(ctx context.Context, params shared.ListParams) ([]Area, int, error)
	GetArea(ctx context.Context, id int64) (Area, error)
	CreateArea(ctx context.Context, in AreaInput) (Area, error)
	UpdateArea(ctx context.Context, id int64, in AreaInput) (Area, error)
	DeleteArea(ctx context.Context, id int64) error

	ListCompanies(ctx context.Context, params shared.ListParams) ([]Company, int, error)
	GetCompany(ctx context.Context, id int64) (Company, error)
	CreateCompany(ctx context.Context, in CompanyInput) (Company, error)
	UpdateCompany(ctx context.Context, id int64, in CompanyInput) (Company, error)
	DeleteCompany(ctx context.Context, id int64) error

	ListProjects(ctx context.Context, filter ProjectFilter) ([]Project, int, error)
	GetProject(ctx context.Context, id int64) (Project, error)
	CreateProject(ctx context.Context, in ProjectInput) (Project, error)
	UpdateProject(ctx context.Context, id int64, in ProjectInput) (Project, error)
	DeleteProject(ctx context.Context, id int64) error

	ListBuildings(ctx context.Context, projectID int64) ([]Building, error)
	GetBuilding(ctx context.Context, id int64) (Building, error)
	CreateBuilding(ctx context.Context, projectID int64, in BuildingInput) (Building, error)
	UpdateBuilding(ctx context.Context, id int64, in BuildingInput) (Building, error)
	DeleteBuilding(ctx context.Context, id int64) error
}
