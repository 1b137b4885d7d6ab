// Package storage archives rendered invoice documents in object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sitebill/sitebill/internal/billing"
)

// PDFContentType is the content type stored with archived invoices.
const PDFContentType = "application/pdf"

// DefaultLinkTTL bounds how long a presigned download link stays valid.
const DefaultLinkTTL = 15 * time.Minute

// ErrEmptyDocument is returned when there are no bytes to archive.
var ErrEmptyDocument = errors.New("storage: empty document")

// ObjectStore is the subset of an object store the archive needs.
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Archiver stores invoice PDFs under a stable key per invoice number.
type Archiver struct {
	store ObjectStore
	ttl   time.Duration
}

// NewArchiver wires an archiver. A zero ttl uses DefaultLinkTTL.
func NewArchiver(store ObjectStore, ttl time.Duration) *Archiver {
	if ttl <= 0 {
		ttl = DefaultLinkTTL
	}
	return &Archiver{store: store, ttl: ttl}
}

// InvoiceKey returns the object key of an invoice document.
func InvoiceKey(inv billing.Invoice) string {
	number := strings.ReplaceAll(strings.TrimSpace(inv.Number), "/", "-")
	return fmt.Sprintf("invoices/%d/%d/%s.pdf", inv.CompanyID, inv.ProjectID, number)
}

// Store uploads the PDF and returns its location.
func (a *Archiver) Store(ctx context.Context, inv billing.Invoice, pdf []byte) (string, error) {
	if len(pdf) == 0 {
		return "", ErrEmptyDocument
	}
	if strings.TrimSpace(inv.Number) == "" {
		return "", fmt.Errorf("storage: invoice %d has no number", inv.ID)
	}
	loc, err := a.store.Upload(ctx, InvoiceKey(inv), PDFContentType, bytes.NewReader(pdf))
	if err != nil {
		return "", fmt.Errorf("archive invoice %s: %w", inv.Number, err)
	}
	return loc, nil
}

// Link returns a time-limited download URL for an archived invoice.
func (a *Archiver) Link(ctx context.Context, inv billing.Invoice) (string, time.Duration, error) {
	url, err := a.store.PresignGet(ctx, InvoiceKey(inv), a.ttl)
	if err != nil {
		return "", 0, fmt.Errorf("presign invoice %s: %w", inv.Number, err)
	}
	return url, a.ttl, nil
}
