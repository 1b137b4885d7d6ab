package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/sitebill/sitebill/internal/billing"
	jobmetrics "github.com/sitebill/sitebill/internal/jobs"
	"github.com/sitebill/sitebill/internal/shared"
)

// DocumentRenderer produces the PDF of an invoice.
type DocumentRenderer interface {
	RenderDocument(ctx context.Context, id int64) (billing.Document, []byte, error)
}

// DocumentArchive stores rendered invoice PDFs.
type DocumentArchive interface {
	Store(ctx context.Context, inv billing.Invoice, pdf []byte) (string, error)
}

// ArchiveJob renders invoices and writes them to the archive.
type ArchiveJob struct {
	Invoices DocumentRenderer
	Archive  DocumentArchive
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// Handle processes TaskInvoiceArchive tasks.
func (j *ArchiveJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Invoices == nil || j.Archive == nil {
		return errors.New("archive job: not configured")
	}
	var payload InvoiceArchivePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.InvoiceID <= 0 {
		return fmt.Errorf("decode archive payload: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskInvoiceArchive)
	defer func() { err = tracker.End(err) }()

	log := logger(j.Logger).With(slog.Int64("invoice_id", payload.InvoiceID))
	doc, pdf, err := j.Invoices.RenderDocument(ctx, payload.InvoiceID)
	if errors.Is(err, shared.ErrNotFound) {
		log.Warn("archive skipped, invoice missing")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}
	location, err := j.Archive.Store(ctx, doc.Invoice, pdf)
	if err != nil {
		return err
	}
	j.Metrics.AddArchivedBytes(len(pdf))
	log.Info("invoice archived",
		slog.String("invoice_number", doc.Invoice.Number),
		slog.String("location", location),
		slog.Int("bytes", len(pdf)),
	)
	return nil
}
