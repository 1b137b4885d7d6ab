// Package boq manages the bill of quantities: priced service lines per
// building and their completion tracking.
package boq

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ServiceLine is one priced line of work under a building.
type ServiceLine struct {
	ID                   int64           `json:"id"`
	BuildingID           int64           `json:"building_id"`
	Description          string          `json:"description"`
	UnitPrice            decimal.Decimal `json:"unit_price"`
	Quantity             decimal.Decimal `json:"quantity"`
	CurrentProgress      float64         `json:"current_progress"`
	LastInvoicedProgress float64         `json:"last_invoiced_progress"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// ServiceInput carries the writable fields of a service line. Progress and
// the billing watermark are not part of it.
type ServiceInput struct {
	Description string          `json:"description" validate:"required,max=500"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// ProgressUpdate sets a service's completion percentage.
type ProgressUpdate struct {
	ServiceID int64   `json:"service_id" validate:"required,gt=0"`
	Progress  float64 `json:"progress"`
}

// BuildingRef is the part of a building the BOQ needs.
type BuildingRef struct {
	ID            int64   `json:"id"`
	ProjectID     int64   `json:"project_id"`
	BuildingCode  string  `json:"building_code"`
	TotalProgress float64 `json:"total_progress"`
}

// Line is a service line annotated with its computed values.
type Line struct {
	ServiceLine
	ContractValue decimal.Decimal `json:"contract_value"`
	EarnedToDate  decimal.Decimal `json:"earned_to_date"`
	Unbilled      decimal.Decimal `json:"unbilled"`
}

// BuildingBOQ is the priced view of one building.
type BuildingBOQ struct {
	Building      BuildingRef     `json:"building"`
	Lines         []Line          `json:"lines"`
	ContractValue decimal.Decimal `json:"contract_value"`
	EarnedToDate  decimal.Decimal `json:"earned_to_date"`
	Unbilled      decimal.Decimal `json:"unbilled"`
}

// Repository defines read access and the transactional entry point.
type Repository interface {
	GetBuilding(ctx context.Context, id int64) (BuildingRef, error)
	GetService(ctx context.Context, id int64) (ServiceLine, error)
	ListServices(ctx context.Context, buildingID int64) ([]ServiceLine, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional writes. It deliberately has no way to
// change last_invoiced_progress; only the billing transaction moves it.
type TxRepository interface {
	LockBuilding(ctx context.Context, id int64) error
	GetServiceForUpdate(ctx context.Context, id int64) (ServiceLine, error)
	InsertService(ctx context.Context, buildingID int64, in ServiceInput) (ServiceLine, error)
	UpdateServiceDetails(ctx context.Context, id int64, in ServiceInput) (ServiceLine, error)
	DeleteService(ctx context.Context, id int64) error
	SetCurrentProgress(ctx context.Context, id int64, progress float64) error
	ListCurrentProgress(ctx context.Context, buildingID int64) ([]float64, error)
	SetBuildingProgress(ctx context.Context, buildingID int64, progress float64) error
}
