package http

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	quote "serramenti/internal/quote/domain"
)

// BuildQuotePDF renders a one page PDF for a quote.
func BuildQuotePDF(q *quote.Quote) ([]byte, error) {
	calc := q.Calculation
	places := calc.Places()
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "B", 14)
	pdf.AddPage()

	pdf.Cell(0, 8, tr(fmt.Sprintf("Preventivo %s", q.DisplayNumber())))
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Status: %s", q.Status))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Created: %s", q.CreatedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	if !q.FinalizedAt.IsZero() {
		pdf.Cell(0, 6, fmt.Sprintf("Finalized: %s", q.FinalizedAt.Format(time.RFC3339)))
		pdf.Ln(5)
	}
	if q.ClientRef != "" {
		pdf.Cell(0, 6, tr(fmt.Sprintf("Client: %s", q.ClientRef)))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Frame: %s  %d x %d mm", calc.FrameID, calc.Width, calc.Height))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Area: %s m2  Perimeter: %s m", calc.Area.StringFixed(3), calc.Perimeter.StringFixed(3)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Rate table: %s v%d", calc.RateTableID, calc.RateTableVersion))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(70, 6, "Item", "1", 0, "L", false, 0, "")
	pdf.CellFormat(30, 6, "Basis", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Unit rate", "1", 0, "R", false, 0, "")
	pdf.CellFormat(25, 6, "Qty", "1", 0, "R", false, 0, "")
	pdf.CellFormat(30, 6, "Total", "1", 0, "R", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, item := range calc.LineItems {
		label := item.Label
		if label == "" {
			label = item.Code
		}
		pdf.CellFormat(70, 6, tr(label), "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, string(item.Basis), "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, unitRateText(item.UnitRate, places), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, item.Quantity.StringFixed(3), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, item.LineTotal.StringFixed(places), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	pdf.Ln(4)
	pdf.Cell(0, 6, fmt.Sprintf("Subtotal: %s", calc.Subtotal.StringFixed(places)))
	pdf.Ln(5)
	if !calc.RoundingDelta.IsZero() {
		pdf.Cell(0, 6, fmt.Sprintf("Rounding: %s", calc.RoundingDelta.String()))
		pdf.Ln(5)
	}
	pdf.SetFont("Arial", "B", 11)
	pdf.Cell(0, 6, fmt.Sprintf("Total (%s): %s", calc.Currency, calc.Total.StringFixed(places)))
	pdf.Ln(8)
	if q.Note != "" {
		pdf.SetFont("Arial", "", 9)
		pdf.MultiCell(0, 5, tr(q.Note), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildQuoteXLSX renders a summary and a line item sheet for a quote.
func BuildQuoteXLSX(q *quote.Quote) ([]byte, error) {
	calc := q.Calculation
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	itemsSheet := "items"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(itemsSheet); err != nil {
		return nil, err
	}

	summary := [][2]any{
		{"Quote", q.DisplayNumber()},
		{"Status", string(q.Status)},
		{"Client", q.ClientRef},
		{"Frame", calc.FrameID},
		{"Width (mm)", calc.Width},
		{"Height (mm)", calc.Height},
		{"Area (m2)", calc.Area.InexactFloat64()},
		{"Perimeter (m)", calc.Perimeter.InexactFloat64()},
		{"Rate table", fmt.Sprintf("%s v%d", calc.RateTableID, calc.RateTableVersion)},
		{"Subtotal", calc.Subtotal.String()},
		{"Rounding", calc.RoundingDelta.String()},
		{"Total", calc.Total.StringFixed(calc.Places())},
		{"Currency", calc.Currency},
		{"Snapshot", q.SnapshotHash},
	}
	_ = f.SetCellValue(summarySheet, "A1", "Preventivo")
	for i, row := range summary {
		line := i + 3
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", line), row[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", line), row[1])
	}

	_ = f.SetCellValue(itemsSheet, "A1", "Kind")
	_ = f.SetCellValue(itemsSheet, "B1", "Code")
	_ = f.SetCellValue(itemsSheet, "C1", "Label")
	_ = f.SetCellValue(itemsSheet, "D1", "Basis")
	_ = f.SetCellValue(itemsSheet, "E1", "Unit rate")
	_ = f.SetCellValue(itemsSheet, "F1", "Quantity")
	_ = f.SetCellValue(itemsSheet, "G1", "Line total")
	for i, item := range calc.LineItems {
		row := i + 2
		_ = f.SetCellValue(itemsSheet, fmt.Sprintf("A%d", row), string(item.Kind))
		_ = f.SetCellValue(itemsSheet, fmt.Sprintf("B%d", row), item.Code)
		_ = f.SetCellValue(itemsSheet, fmt.Sprintf("C%d", row), item.Label)
		_ = f.SetCellValue(itemsSheet, fmt.Sprintf("D%d", row), string(item.Basis))
		_ = f.SetCellValue(itemsSheet, fmt.Sprintf("E%d", row), item.UnitRate.String())
		_ = f.SetCellValue(itemsSheet, fmt.Sprintf("F%d", row), item.Quantity.String())
		_ = f.SetCellValue(itemsSheet, fmt.Sprintf("G%d", row), item.LineTotal.String())
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// unitRateText shows a rate with at least the currency precision and never
// fewer places than the rate was declared with.
func unitRateText(rate decimal.Decimal, places int32) string {
	if declared := -rate.Exponent(); declared > places {
		places = declared
	}
	return rate.StringFixed(places)
}
