package report

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sitebill/sitebill/internal/billing"
	"github.com/sitebill/sitebill/internal/platform/httpx"
)

// DocumentSource loads the data behind an invoice document.
type DocumentSource interface {
	Document(ctx context.Context, id int64) (billing.Document, error)
}

// Pinger reports whether the PDF backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ArchiveLinker issues download links for archived invoice PDFs.
type ArchiveLinker interface {
	Link(ctx context.Context, inv billing.Invoice) (string, time.Duration, error)
}

// Handler serves report diagnostics and HTML previews of invoice documents.
type Handler struct {
	pinger   Pinger
	docs     DocumentSource
	renderer *InvoiceRenderer
	archive  ArchiveLinker
	logger   *slog.Logger
}

// NewHandler creates a report handler.
func NewHandler(pinger Pinger, docs DocumentSource, renderer *InvoiceRenderer, logger *slog.Logger) *Handler {
	return &Handler{pinger: pinger, docs: docs, renderer: renderer, logger: logger}
}

// WithArchive enables archive download links.
func (h *Handler) WithArchive(a ArchiveLinker) *Handler {
	h.archive = a
	return h
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/reports/ping", h.ping)
	r.Get("/reports/invoices/{id}/preview", h.preview)
	if h.archive != nil {
		r.Get("/reports/invoices/{id}/archive", h.archiveLink)
	}
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	if err := h.pinger.Ping(r.Context()); err != nil {
		h.logger.Warn("gotenberg ping failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "pdf backend unreachable")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.docs.Document(r.Context(), id)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, r, "load invoice document", err)
		return
	}
	html, err := h.renderer.HTML(doc)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, r, "render invoice preview", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(html))
}

type archiveLink struct {
	URL       string `json:"url"`
	ExpiresIn int    `json:"expires_in"`
}

func (h *Handler) archiveLink(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.docs.Document(r.Context(), id)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, r, "load invoice document", err)
		return
	}
	url, ttl, err := h.archive.Link(r.Context(), doc.Invoice)
	if err != nil {
		httpx.LogAndRespond(h.logger, w, r, "presign invoice archive", err)
		return
	}
	httpx.JSON(w, http.StatusOK, archiveLink{URL: url, ExpiresIn: int(ttl.Seconds())})
}
