package billing

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/sitebill/sitebill/internal/shared"
)

const (
	registerSheet = "Invoices"
	// maxExportRows caps a register export.
	maxExportRows = 10000
)

var registerHeader = []any{"Invoice Number", "Project ID", "Company ID", "Status", "Amount", "Created At"}

// ExportRegister writes the invoices matching filter to an XLSX workbook.
// Pagination in filter is ignored; rows are fetched page by page.
func (s *Service) ExportRegister(ctx context.Context, filter ListFilter) ([]byte, error) {
	filter.Page = 1
	filter.PerPage = shared.MaxPerPage
	var invoices []Invoice
	for len(invoices) < maxExportRows {
		page, total, err := s.repo.ListInvoices(ctx, filter)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, page...)
		if len(page) == 0 || len(invoices) >= total {
			break
		}
		filter.Page++
	}
	if len(invoices) > maxExportRows {
		invoices = invoices[:maxExportRows]
	}
	return BuildRegister(invoices)
}

// BuildRegister renders invoices as a single-sheet workbook with a total row.
func BuildRegister(invoices []Invoice) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), registerSheet); err != nil {
		return nil, err
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#E0E7EF"}},
	})
	if err != nil {
		return nil, err
	}
	moneyStyle, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return nil, err
	}

	if err := f.SetSheetRow(registerSheet, "A1", &registerHeader); err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(registerSheet, "A1", "F1", headerStyle); err != nil {
		return nil, err
	}

	for i, inv := range invoices {
		amount, _ := inv.Amount.Float64()
		row := []any{inv.Number, inv.ProjectID, inv.CompanyID, string(inv.Status), amount, inv.CreatedAt.UTC().Format("2006-01-02 15:04")}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(registerSheet, cell, &row); err != nil {
			return nil, err
		}
	}

	totalRow := len(invoices) + 2
	if err := f.SetCellValue(registerSheet, fmt.Sprintf("D%d", totalRow), "Total"); err != nil {
		return nil, err
	}
	if len(invoices) > 0 {
		if err := f.SetCellFormula(registerSheet, fmt.Sprintf("E%d", totalRow), fmt.Sprintf("SUM(E2:E%d)", totalRow-1)); err != nil {
			return nil, err
		}
	} else if err := f.SetCellValue(registerSheet, fmt.Sprintf("E%d", totalRow), 0); err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(registerSheet, "E2", fmt.Sprintf("E%d", totalRow), moneyStyle); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(registerSheet, "A", "A", 20); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(registerSheet, "F", "F", 18); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
