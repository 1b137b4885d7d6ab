package report

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sitebill/sitebill/internal/billing"
	"github.com/sitebill/sitebill/internal/masterdata"
	"github.com/sitebill/sitebill/internal/shared"
)

func sampleDocument() billing.Document {
	tax := "TX-991"
	serviceID := int64(3)
	return billing.Document{
		Invoice: billing.Invoice{
			ID:        12,
			Number:    "INV-202403-0001",
			Amount:    decimal.RequireFromString("1500"),
			Status:    billing.StatusDraft,
			CreatedAt: time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC),
			UpdatedAt: time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC),
			Items: []billing.InvoiceItem{{
				ServiceID:          &serviceID,
				BuildingCode:       "B-01",
				ServiceDescription: "Concrete <slab>",
				PreviousPercentage: 20,
				CurrentPercentage:  45,
				UnitPrice:          decimal.RequireFromString("3000"),
				Quantity:           decimal.RequireFromString("2"),
				AmountDue:          decimal.RequireFromString("1500"),
			}},
		},
		Company:   masterdata.Company{ID: 1, Name: "Acme Builders", TaxNumber: &tax},
		Project:   masterdata.Project{ID: 7, Name: "Harbour Towers"},
		Area:      &masterdata.Area{ID: 2, Name: "North"},
		Buildings: []string{"B-01"},
	}
}

type fakePDF struct {
	html string
	err  error
}

func (f *fakePDF) RenderHTML(ctx context.Context, html string) ([]byte, error) {
	f.html = html
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.7"), nil
}

func TestInvoiceRendererHTML(t *testing.T) {
	r, err := NewInvoiceRenderer(&fakePDF{}, "usd")
	require.NoError(t, err)

	html, err := r.HTML(sampleDocument())
	require.NoError(t, err)
	require.Contains(t, html, "INV-202403-0001")
	require.Contains(t, html, "Acme Builders")
	require.Contains(t, html, "TX-991")
	require.Contains(t, html, "Harbour Towers")
	require.Contains(t, html, "North")
	require.Contains(t, html, "USD 1,500.00")
	require.Contains(t, html, "USD 6,000.00")
	require.Contains(t, html, "20.00%")
	require.Contains(t, html, "45.00%")
	require.Contains(t, html, "05 Mar 2024")
	require.Contains(t, html, "Draft")
	require.Contains(t, html, "Concrete &lt;slab&gt;")
}

func TestInvoiceRendererEmptyItems(t *testing.T) {
	r, err := NewInvoiceRenderer(&fakePDF{}, "")
	require.NoError(t, err)
	doc := sampleDocument()
	doc.Invoice.Items = nil
	doc.Area = nil
	doc.Company.TaxNumber = nil

	html, err := r.HTML(doc)
	require.NoError(t, err)
	require.Contains(t, html, "No services are attached")
	require.Contains(t, html, "Tax number: -")
}

func TestInvoiceRendererRender(t *testing.T) {
	pdf := &fakePDF{}
	r, err := NewInvoiceRenderer(pdf, "EUR")
	require.NoError(t, err)

	out, err := r.Render(context.Background(), sampleDocument())
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.7", string(out))
	require.Contains(t, pdf.html, "EUR 1,500.00")

	pdf.err = errors.New("gotenberg down")
	_, err = r.Render(context.Background(), sampleDocument())
	require.ErrorContains(t, err, "gotenberg down")
}

func TestNewInvoiceRendererValidation(t *testing.T) {
	_, err := NewInvoiceRenderer(nil, "USD")
	require.Error(t, err)
	_, err = NewInvoiceRenderer(&fakePDF{}, "dollars")
	require.Error(t, err)
}

func TestClientRenderHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/forms/chromium/convert/html", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "8.27", r.FormValue("paperWidth"))
		f, hdr, err := r.FormFile("files")
		require.NoError(t, err)
		require.Equal(t, "index.html", hdr.Filename)
		body, _ := io.ReadAll(f)
		require.Equal(t, "<p>hi</p>", string(body))
		_, _ = w.Write([]byte("%PDF"))
	}))
	defer srv.Close()

	out, err := NewClient(srv.URL+"/", time.Second).RenderHTML(context.Background(), "<p>hi</p>")
	require.NoError(t, err)
	require.Equal(t, "%PDF", string(out))
}

func TestClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "chromium crashed", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0)
	_, err := c.RenderHTML(context.Background(), "<p/>")
	require.ErrorContains(t, err, "status 503")
	require.ErrorContains(t, err, "chromium crashed")
	require.Error(t, c.Ping(context.Background()))
}

type docSource map[int64]billing.Document

func (d docSource) Document(ctx context.Context, id int64) (billing.Document, error) {
	doc, ok := d[id]
	if !ok {
		return billing.Document{}, shared.ErrNotFound
	}
	return doc, nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHandlerPreviewAndPing(t *testing.T) {
	renderer, err := NewInvoiceRenderer(&fakePDF{}, "USD")
	require.NoError(t, err)
	healthy := true
	h := NewHandler(pingFunc(func(ctx context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("down")
	}), docSource{12: sampleDocument()}, renderer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.MountRoutes(r)

	get := func(path string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr
	}

	rr := get("/reports/invoices/12/preview")
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/html"))
	require.Contains(t, rr.Body.String(), "INV-202403-0001")

	require.Equal(t, http.StatusNotFound, get("/reports/invoices/99/preview").Code)
	require.Equal(t, http.StatusBadRequest, get("/reports/invoices/abc/preview").Code)

	require.Equal(t, http.StatusOK, get("/reports/ping").Code)
	healthy = false
	require.Equal(t, http.StatusServiceUnavailable, get("/reports/ping").Code)
}

type fakeLinker struct{}

func (fakeLinker) Link(ctx context.Context, inv billing.Invoice) (string, time.Duration, error) {
	return "https://s3.local/" + inv.Number + ".pdf?sig=1", 15 * time.Minute, nil
}

func TestHandlerArchiveLink(t *testing.T) {
	renderer, err := NewInvoiceRenderer(&fakePDF{}, "USD")
	require.NoError(t, err)
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	ping := pingFunc(func(ctx context.Context) error { return nil })

	r := chi.NewRouter()
	NewHandler(ping, docSource{12: sampleDocument()}, renderer, quiet).WithArchive(fakeLinker{}).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/reports/invoices/12/archive", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"url":"https://s3.local/INV-202403-0001.pdf?sig=1","expires_in":900}`, rr.Body.String())

	r = chi.NewRouter()
	NewHandler(ping, docSource{}, renderer, quiet).MountRoutes(r)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/reports/invoices/12/archive", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}
