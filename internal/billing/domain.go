// Package billing turns unbilled progress into invoices.
//
// A project's unbilled value is the sum over its services of the value
// earned between last_invoiced_progress and current_progress. Generating an
// invoice freezes that value into line items and moves each watermark up to
// the progress that was billed, in one transaction.
package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sitebill/sitebill/internal/masterdata"
	"github.com/sitebill/sitebill/internal/shared"
)

// ErrNothingToInvoice is returned when a project has no unbilled progress.
var ErrNothingToInvoice = errors.New("billing: nothing to invoice")

// Invoice is a billed snapshot of a project's progress.
type Invoice struct {
	ID        int64           `json:"id"`
	CompanyID int64           `json:"company_id"`
	ProjectID int64           `json:"project_id"`
	Number    string          `json:"invoice_number"`
	Amount    decimal.Decimal `json:"amount"`
	Status    Status          `json:"status"`
	CreatedBy uuid.UUID       `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Items     []InvoiceItem   `json:"items,omitempty"`
}

// InvoiceItem freezes one service's billed progress. ServiceID is nil once
// the service has been deleted.
type InvoiceItem struct {
	ID                 int64           `json:"id"`
	InvoiceID          int64           `json:"invoice_id"`
	ServiceID          *int64          `json:"service_id"`
	BuildingCode       string          `json:"building_code"`
	ServiceDescription string          `json:"service_description"`
	PreviousPercentage float64         `json:"previous_percentage"`
	CurrentPercentage  float64         `json:"current_percentage"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	Quantity           decimal.Decimal `json:"quantity"`
	AmountDue          decimal.Decimal `json:"amount_due"`
}

// ProjectRef identifies the project and its billed company.
type ProjectRef struct {
	ID        int64  `json:"id"`
	CompanyID int64  `json:"company_id"`
	Name      string `json:"name"`
}

// ServiceSnapshot is a service as read for billing, with its building code.
type ServiceSnapshot struct {
	ServiceID            int64           `json:"service_id"`
	BuildingID           int64           `json:"building_id"`
	BuildingCode         string          `json:"building_code"`
	Description          string          `json:"description"`
	UnitPrice            decimal.Decimal `json:"unit_price"`
	Quantity             decimal.Decimal `json:"quantity"`
	CurrentProgress      float64         `json:"current_progress"`
	LastInvoicedProgress float64         `json:"last_invoiced_progress"`
}

// Candidate is a service with a positive unbilled amount, already rounded
// to currency precision.
type Candidate struct {
	ServiceSnapshot
	Amount decimal.Decimal `json:"amount"`
}

// Scan is the unbilled position of one project.
type Scan struct {
	Project    ProjectRef      `json:"project"`
	Candidates []Candidate     `json:"candidates"`
	Total      decimal.Decimal `json:"total"`
}

// GenerateRequest asks for an invoice over a project's unbilled progress.
type GenerateRequest struct {
	ProjectID      int64
	IdempotencyKey string
	Actor          uuid.UUID
}

// ListFilter narrows invoice listings.
type ListFilter struct {
	shared.ListParams
	Status    Status
	CompanyID int64
	ProjectID int64
}

// StatusChange is the body of a status transition request.
type StatusChange struct {
	Status string `json:"status" validate:"required"`
}

// Document gathers everything printed on an invoice.
type Document struct {
	Invoice   Invoice            `json:"invoice"`
	Company   masterdata.Company `json:"company"`
	Project   masterdata.Project `json:"project"`
	Area      *masterdata.Area   `json:"area,omitempty"`
	Buildings []string           `json:"buildings"`
}

// ScanSource provides the reads the scanner needs. The pool repository
// serves previews; the transaction repository locks what it returns.
type ScanSource interface {
	GetProject(ctx context.Context, id int64) (ProjectRef, error)
	ListProjectServices(ctx context.Context, projectID int64) ([]ServiceSnapshot, error)
}

// SequenceStore hands out durable per-prefix counter values.
type SequenceStore interface {
	NextSequence(ctx context.Context, prefix string) (int64, error)
}

// Repository defines invoice reads and the transactional entry point.
type Repository interface {
	ScanSource
	ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, int, error)
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	UpdateStatus(ctx context.Context, id int64, from, to Status) (Invoice, error)
	GetDocument(ctx context.Context, id int64) (Document, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the writes of invoice generation. GetProject and
// ListProjectServices take row locks.
type TxRepository interface {
	ScanSource
	SequenceStore
	ClaimRequestKey(ctx context.Context, key string) error
	InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	InsertItems(ctx context.Context, invoiceID int64, items []InvoiceItem) ([]InvoiceItem, error)
	AdvanceWatermark(ctx context.Context, serviceID int64, expected, to float64) error
}
