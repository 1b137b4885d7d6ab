package billing

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sitebill/sitebill/internal/platform/httpx"
	"github.com/sitebill/sitebill/internal/shared"
)

// Handler exposes billing over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a billing handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

type invoiceList struct {
	Data       []Invoice         `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/projects/{id}/unbilled", h.previewUnbilled)
	r.Post("/projects/{id}/invoices", h.generateInvoice)

	r.Get("/invoices", h.listInvoices)
	r.Get("/invoices/export.xlsx", h.exportRegister)
	r.Get("/invoices/{id}", h.getInvoice)
	r.Get("/invoices/{id}/document", h.document)
	r.Post("/invoices/{id}/status", h.changeStatus)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if errors.Is(err, ErrNothingToInvoice) {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Nothing To Invoice", err.Error())
		return
	}
	httpx.LogAndRespond(h.logger, w, r, msg, err)
}

func (h *Handler) previewUnbilled(w http.ResponseWriter, r *http.Request) {
	projectID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	scan, err := h.service.PreviewUnbilled(r.Context(), projectID)
	if err != nil {
		h.fail(w, r, "preview unbilled failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, scan)
}

func (h *Handler) generateInvoice(w http.ResponseWriter, r *http.Request) {
	projectID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.GenerateInvoice(r.Context(), GenerateRequest{
		ProjectID:      projectID,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(shared.IdempotencyHeader)),
		Actor:          shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, "generate invoice failed", err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/invoices/%d", inv.ID))
	httpx.JSON(w, http.StatusCreated, inv)
}

func filterFromRequest(r *http.Request) (ListFilter, error) {
	q := r.URL.Query()
	filter := ListFilter{ListParams: shared.ListParamsFromQuery(q)}
	if raw := q.Get("status"); raw != "" {
		st, err := ParseStatus(raw)
		if err != nil {
			return ListFilter{}, err
		}
		filter.Status = st
	}
	filter.CompanyID, _ = strconv.ParseInt(q.Get("company_id"), 10, 64)
	filter.ProjectID, _ = strconv.ParseInt(q.Get("project_id"), 10, 64)
	return filter, nil
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromRequest(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	invoices, total, err := h.service.ListInvoices(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list invoices failed", err)
		return
	}
	if invoices == nil {
		invoices = []Invoice{}
	}
	httpx.JSON(w, http.StatusOK, invoiceList{
		Data:       invoices,
		Pagination: shared.NewPagination(filter.Page, filter.Limit(), total),
	})
}

func (h *Handler) exportRegister(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromRequest(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	data, err := h.service.ExportRegister(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "export invoices failed", err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="invoices.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get invoice failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

// document returns the PDF, or the JSON snapshot when format=json.
func (h *Handler) document(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "json" {
		doc, err := h.service.Document(r.Context(), id)
		if err != nil {
			h.fail(w, r, "invoice document failed", err)
			return
		}
		httpx.JSON(w, http.StatusOK, doc)
		return
	}
	doc, pdf, err := h.service.RenderDocument(r.Context(), id)
	if err != nil {
		h.fail(w, r, "render invoice failed", err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s.pdf"`, doc.Invoice.Number))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var change StatusChange
	if err := httpx.DecodeJSON(r, &change); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.ChangeStatus(r.Context(), id, change)
	if err != nil {
		h.fail(w, r, "change invoice status failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}
