package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/sitebill/sitebill/internal/shared"
)

type stubRenderer struct{}

func (stubRenderer) Render(ctx context.Context, doc Document) ([]byte, error) {
	return []byte("%PDF-1.7 " + doc.Invoice.Number), nil
}

func newTestRouter(t *testing.T) (http.Handler, fixture) {
	t.Helper()
	f := newFixture(t)
	f.svc.renderer = stubRenderer{}
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc)
	r := chi.NewRouter()
	r.Use(shared.ActorMiddleware)
	h.MountRoutes(r)
	return r, f
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerGenerateFlow(t *testing.T) {
	router, f := newTestRouter(t)
	f.repo.addProject(1, 10)
	f.repo.addService(1, "A", "1000", "2", 45, 20)
	f.repo.addService(1, "B", "300", "1", 100, 0)
	actor := uuid.New()

	rr := do(t, router, http.MethodGet, "/projects/1/unbilled", "", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var scan Scan
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &scan))
	require.Len(t, scan.Candidates, 2)
	require.Equal(t, "800", scan.Total.String())

	rr = do(t, router, http.MethodPost, "/projects/1/invoices", "", map[string]string{
		shared.ActorHeader:       actor.String(),
		shared.IdempotencyHeader: "key-1",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var inv Invoice
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &inv))
	require.Equal(t, actor, inv.CreatedBy)
	require.Equal(t, "/invoices/"+jsonInt(inv.ID), rr.Header().Get("Location"))

	rr = do(t, router, http.MethodPost, "/projects/1/invoices", "", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(t, router, http.MethodGet, "/invoices/"+jsonInt(inv.ID), "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"invoice_number":"INV-202403-0001"`)

	rr = do(t, router, http.MethodPost, "/invoices/"+jsonInt(inv.ID)+"/status", `{"status":"pending"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"status":"sent"`)

	rr = do(t, router, http.MethodPost, "/invoices/"+jsonInt(inv.ID)+"/status", `{"status":"draft"}`, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodGet, "/invoices?status=sent", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list invoiceList
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	require.Equal(t, 1, list.Pagination.Total)

	rr = do(t, router, http.MethodGet, "/invoices/"+jsonInt(inv.ID)+"/document", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/pdf", rr.Header().Get("Content-Type"))
	require.True(t, bytes.HasPrefix(rr.Body.Bytes(), []byte("%PDF")))

	rr = do(t, router, http.MethodGet, "/invoices/"+jsonInt(inv.ID)+"/document?format=json", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"buildings":["A","B"]`)
}

func TestHandlerErrors(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := do(t, router, http.MethodPost, "/projects/77/invoices", "", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, router, http.MethodGet, "/invoices?status=lost", "", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodPost, "/invoices/1/status", `{}`, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodGet, "/invoices/x", "", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerExportRegister(t *testing.T) {
	router, f := newTestRouter(t)
	f.repo.addProject(1, 10)
	f.repo.addService(1, "A", "1000", "2", 45, 20)
	_, err := f.svc.GenerateInvoice(context.Background(), GenerateRequest{ProjectID: 1})
	require.NoError(t, err)

	rr := do(t, router, http.MethodGet, "/invoices/export.xlsx", "", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	book, err := excelize.OpenReader(bytes.NewReader(rr.Body.Bytes()))
	require.NoError(t, err)
	defer func() { _ = book.Close() }()
	rows, err := book.GetRows(registerSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "Invoice Number", rows[0][0])
	require.Equal(t, "INV-202403-0001", rows[1][0])
	require.Equal(t, "Total", rows[2][3])
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
