package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sitebill/sitebill/internal/notify"
	"github.com/sitebill/sitebill/internal/shared"
)

// AuditPort records completed billing actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ArchiveQueue schedules the PDF archive of a new invoice.
type ArchiveQueue interface {
	EnqueueInvoiceArchive(ctx context.Context, invoiceID int64) error
}

// DocumentRenderer turns an invoice document into PDF bytes.
type DocumentRenderer interface {
	Render(ctx context.Context, doc Document) ([]byte, error)
}

// CacheInvalidator drops cached figures derived from invoices.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// Options carries the optional collaborators of Service.
type Options struct {
	Locker    *shared.Locker
	Sequencer *Sequencer
	Audit     AuditPort
	Notifier  notify.Sink
	Archive   ArchiveQueue
	Renderer  DocumentRenderer
	Cache     CacheInvalidator
	Metrics   *Metrics
	Logger    *slog.Logger
}

// Service orchestrates scanning, generation and invoice queries.
type Service struct {
	repo      Repository
	locker    *shared.Locker
	sequencer *Sequencer
	audit     AuditPort
	notifier  notify.Sink
	archive   ArchiveQueue
	renderer  DocumentRenderer
	cache     CacheInvalidator
	metrics   *Metrics
	logger    *slog.Logger
	validate  *validator.Validate
}

// NewService constructs the billing service.
func NewService(repo Repository, opts Options) *Service {
	if opts.Sequencer == nil {
		opts.Sequencer = NewSequencer(DefaultInvoicePrefix)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		locker:    opts.Locker,
		sequencer: opts.Sequencer,
		audit:     opts.Audit,
		notifier:  opts.Notifier,
		archive:   opts.Archive,
		renderer:  opts.Renderer,
		cache:     opts.Cache,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		validate:  validator.New(),
	}
}

func checkID(entity string, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: invalid %s ID", shared.ErrValidation, entity)
	}
	return nil
}

// PreviewUnbilled scans a project without writing anything.
func (s *Service) PreviewUnbilled(ctx context.Context, projectID int64) (Scan, error) {
	if err := checkID("project", projectID); err != nil {
		return Scan{}, err
	}
	return NewScanner(s.repo).Scan(ctx, projectID)
}

// GenerateInvoice bills all unbilled progress of a project. Either the
// invoice, its items and every watermark advance are committed together, or
// nothing is.
func (s *Service) GenerateInvoice(ctx context.Context, req GenerateRequest) (Invoice, error) {
	start := time.Now()
	inv, err := s.generate(ctx, req)
	s.metrics.ObserveGeneration(err, inv.Amount, time.Since(start))
	if err != nil {
		s.notifyFailure(ctx, req, err)
		return Invoice{}, err
	}
	s.afterGenerate(ctx, req, inv)
	return inv, nil
}

func (s *Service) generate(ctx context.Context, req GenerateRequest) (Invoice, error) {
	if err := checkID("project", req.ProjectID); err != nil {
		return Invoice{}, err
	}

	lock, err := s.locker.Acquire(ctx, shared.ProjectInvoiceLockKey(req.ProjectID))
	switch {
	case errors.Is(err, shared.ErrLockHeld):
		return Invoice{}, fmt.Errorf("project %d: invoice generation in progress: %w", req.ProjectID, err)
	case err != nil:
		// Row locks inside the transaction still serialise generators.
		s.logger.Warn("invoice lock unavailable", slog.Int64("project_id", req.ProjectID), slog.Any("error", err))
	default:
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("release invoice lock", slog.Int64("project_id", req.ProjectID), slog.Any("error", err))
			}
		}()
	}

	var created Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if req.IdempotencyKey != "" {
			if err := tx.ClaimRequestKey(ctx, req.IdempotencyKey); err != nil {
				return err
			}
		}

		scan, err := NewScanner(tx).Scan(ctx, req.ProjectID)
		if err != nil {
			return err
		}
		if len(scan.Candidates) == 0 {
			return fmt.Errorf("project %d: %w", req.ProjectID, ErrNothingToInvoice)
		}

		number, err := s.sequencer.Next(ctx, tx)
		if err != nil {
			return err
		}
		inv, err := tx.InsertInvoice(ctx, Invoice{
			CompanyID: scan.Project.CompanyID,
			ProjectID: scan.Project.ID,
			Number:    number,
			Amount:    scan.Total,
			Status:    StatusDraft,
			CreatedBy: req.Actor,
		})
		if err != nil {
			return err
		}

		inv.Items, err = tx.InsertItems(ctx, inv.ID, itemsFromScan(scan))
		if err != nil {
			return err
		}

		for _, c := range scan.Candidates {
			if err := tx.AdvanceWatermark(ctx, c.ServiceID, c.LastInvoicedProgress, c.CurrentProgress); err != nil {
				return err
			}
		}
		created = inv
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	return created, nil
}

func itemsFromScan(scan Scan) []InvoiceItem {
	items := make([]InvoiceItem, 0, len(scan.Candidates))
	for _, c := range scan.Candidates {
		serviceID := c.ServiceID
		items = append(items, InvoiceItem{
			ServiceID:          &serviceID,
			BuildingCode:       c.BuildingCode,
			ServiceDescription: c.Description,
			PreviousPercentage: c.LastInvoicedProgress,
			CurrentPercentage:  c.CurrentProgress,
			UnitPrice:          c.UnitPrice,
			Quantity:           c.Quantity,
			AmountDue:          c.Amount,
		})
	}
	return items
}

// afterGenerate runs best-effort side effects. None of them can undo or fail
// the committed invoice.
func (s *Service) afterGenerate(ctx context.Context, req GenerateRequest, inv Invoice) {
	logger := s.logger.With(slog.Int64("invoice_id", inv.ID), slog.String("invoice_number", inv.Number))
	logger.Info("invoice generated",
		slog.Int64("project_id", inv.ProjectID),
		slog.String("amount", inv.Amount.StringFixed(2)),
		slog.Int("items", len(inv.Items)),
	)

	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  req.Actor,
			Action:   "invoice.generate",
			Entity:   "invoice",
			EntityID: strconv.FormatInt(inv.ID, 10),
			Meta: map[string]any{
				"project_id":     inv.ProjectID,
				"invoice_number": inv.Number,
				"amount":         inv.Amount.StringFixed(2),
				"items":          len(inv.Items),
			},
		})
		if err != nil {
			logger.Warn("audit invoice generation", slog.Any("error", err))
		}
	}

	s.send(ctx, notify.Notification{
		UserID:   req.Actor,
		Title:    "Invoice generated",
		Message:  fmt.Sprintf("Invoice %s for %s was created with %d items.", inv.Number, inv.Amount.StringFixed(2), len(inv.Items)),
		Severity: notify.SeveritySuccess,
		Link:     fmt.Sprintf("/invoices/%d", inv.ID),
	})

	if s.archive != nil {
		if err := s.archive.EnqueueInvoiceArchive(ctx, inv.ID); err != nil {
			logger.Warn("enqueue invoice archive", slog.Any("error", err))
		}
	}
	s.invalidate(ctx)
}

func (s *Service) notifyFailure(ctx context.Context, req GenerateRequest, err error) {
	n := notify.Notification{
		UserID:   req.Actor,
		Title:    "Invoice generation failed",
		Message:  err.Error(),
		Severity: notify.SeverityError,
		Link:     fmt.Sprintf("/projects/%d", req.ProjectID),
	}
	switch {
	case errors.Is(err, ErrNothingToInvoice):
		n.Title = "Nothing to invoice"
		n.Message = "The project has no unbilled progress."
		n.Severity = notify.SeverityWarning
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrNotFound):
		return
	case errors.Is(err, shared.ErrConflict):
		n.Message = "Another invoice is being generated for this project. Retry shortly."
		n.Severity = notify.SeverityWarning
	default:
		s.logger.Error("invoice generation failed", slog.Int64("project_id", req.ProjectID), slog.Any("error", err))
	}
	s.send(ctx, n)
}

func (s *Service) send(ctx context.Context, n notify.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		s.logger.Warn("send notification", slog.String("title", n.Title), slog.Any("error", err))
	}
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("invalidate dashboard cache", slog.Any("error", err))
	}
}

// ListInvoices returns a page of invoices without items.
func (s *Service) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, int, error) {
	return s.repo.ListInvoices(ctx, filter)
}

// GetInvoice returns an invoice with its items.
func (s *Service) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	if err := checkID("invoice", id); err != nil {
		return Invoice{}, err
	}
	return s.repo.GetInvoice(ctx, id)
}

// ChangeStatus moves an invoice along its lifecycle.
func (s *Service) ChangeStatus(ctx context.Context, id int64, change StatusChange) (Invoice, error) {
	if err := checkID("invoice", id); err != nil {
		return Invoice{}, err
	}
	if err := s.validate.Struct(change); err != nil {
		return Invoice{}, err
	}
	target, err := ParseStatus(change.Status)
	if err != nil {
		return Invoice{}, err
	}
	current, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	if err := ValidateTransition(current.Status, target); err != nil {
		return Invoice{}, err
	}
	updated, err := s.repo.UpdateStatus(ctx, id, current.Status, target)
	if err != nil {
		return Invoice{}, err
	}
	s.metrics.ObserveTransition(target)

	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  shared.ActorFromContext(ctx),
			Action:   "invoice.status",
			Entity:   "invoice",
			EntityID: strconv.FormatInt(id, 10),
			Meta:     map[string]any{"from": string(current.Status), "to": string(target)},
		})
		if err != nil {
			s.logger.Warn("audit invoice status", slog.Int64("invoice_id", id), slog.Any("error", err))
		}
	}
	s.invalidate(ctx)
	updated.Items = current.Items
	return updated, nil
}

// Document returns the printable snapshot of an invoice.
func (s *Service) Document(ctx context.Context, id int64) (Document, error) {
	if err := checkID("invoice", id); err != nil {
		return Document{}, err
	}
	return s.repo.GetDocument(ctx, id)
}

// RenderDocument renders an invoice to PDF through the configured renderer.
func (s *Service) RenderDocument(ctx context.Context, id int64) (Document, []byte, error) {
	if s.renderer == nil {
		return Document{}, nil, errors.New("billing: document renderer not configured")
	}
	doc, err := s.Document(ctx, id)
	if err != nil {
		return Document{}, nil, err
	}
	pdf, err := s.renderer.Render(ctx, doc)
	if err != nil {
		return Document{}, nil, fmt.Errorf("render invoice %s: %w", doc.Invoice.Number, err)
	}
	return doc, pdf, nil
}
