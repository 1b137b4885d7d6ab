package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/sitebill/sitebill/internal/billing"
	"github.com/sitebill/sitebill/web"
)

// DefaultCurrency is used when no currency code is configured.
const DefaultCurrency = "USD"

// PDFClient exposes the subset of the Gotenberg client used by the renderer.
type PDFClient interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// InvoiceRenderer turns billing documents into PDFs via html/template and Gotenberg.
type InvoiceRenderer struct {
	tpl    *template.Template
	client PDFClient
}

// NewInvoiceRenderer parses the invoice template and binds the currency used
// for money columns.
func NewInvoiceRenderer(client PDFClient, currencyCode string) (*InvoiceRenderer, error) {
	if client == nil {
		return nil, fmt.Errorf("invoice renderer: pdf client required")
	}
	currencyCode = strings.ToUpper(strings.TrimSpace(currencyCode))
	if currencyCode == "" {
		currencyCode = DefaultCurrency
	}
	unit, err := currency.ParseISO(currencyCode)
	if err != nil {
		return nil, fmt.Errorf("invoice renderer: currency %q: %w", currencyCode, err)
	}
	tpl, err := template.New("invoice.html").
		Funcs(invoiceFuncs(unit, message.NewPrinter(language.English))).
		ParseFS(web.Templates, "templates/reports/invoice.html")
	if err != nil {
		return nil, err
	}
	return &InvoiceRenderer{tpl: tpl, client: client}, nil
}

func invoiceFuncs(unit currency.Unit, p *message.Printer) template.FuncMap {
	title := cases.Title(language.English)
	return template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return t.Format("02 Jan 2006")
		},
		"formatMoney": func(v decimal.Decimal) string {
			return p.Sprintf("%s %v", unit, number.Decimal(v.Round(2).InexactFloat64(), number.Scale(2)))
		},
		"formatPercent": func(v float64) string {
			return p.Sprintf("%v%%", number.Decimal(v, number.Scale(2)))
		},
		"lineValue": func(price, qty decimal.Decimal) decimal.Decimal {
			return price.Mul(qty)
		},
		"statusLabel": func(s billing.Status) string {
			return title.String(string(s))
		},
		"orDash": func(v *string) string {
			if v == nil || strings.TrimSpace(*v) == "" {
				return "-"
			}
			return *v
		},
		"join": func(v []string) string {
			return strings.Join(v, ", ")
		},
	}
}

// HTML executes the invoice template without converting it.
func (r *InvoiceRenderer) HTML(doc billing.Document) (string, error) {
	if r == nil || r.tpl == nil {
		return "", fmt.Errorf("invoice renderer not initialised")
	}
	buf := &bytes.Buffer{}
	if err := r.tpl.Execute(buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Render executes the template and converts the HTML to PDF bytes.
func (r *InvoiceRenderer) Render(ctx context.Context, doc billing.Document) ([]byte, error) {
	html, err := r.HTML(doc)
	if err != nil {
		return nil, err
	}
	return r.client.RenderHTML(ctx, html)
}

var _ billing.DocumentRenderer = (*InvoiceRenderer)(nil)
