package batch

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"
)

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, report Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// WriteXLSX writes a "lines" sheet with one row per configuration and a
// "totals" sheet per currency.
func WriteXLSX(w io.Writer, report Report) error {
	f := excelize.NewFile()
	defer f.Close()
	linesSheet := "lines"
	totalsSheet := "totals"
	if err := f.SetSheetName("Sheet1", linesSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(totalsSheet); err != nil {
		return err
	}

	header := []any{"Line", "Ref", "Frame", "Width", "Height", "Rate table", "Currency", "Total", "Warnings", "Error", "Message"}
	if err := f.SetSheetRow(linesSheet, "A1", &header); err != nil {
		return err
	}
	for i, line := range report.Lines {
		res := line.Result
		row := []any{line.Line, line.Ref, line.Request.FrameID, line.Request.Width, line.Request.Height}
		if res.Success {
			row = append(row, res.RateTableID, res.Currency, res.Total.StringFixed(res.Places()), len(res.Warnings), "", "")
		} else {
			kind, msg := "", ""
			if res.Error != nil {
				kind, msg = string(res.Error.Kind), res.Error.Message
			}
			row = append(row, "", "", "", 0, kind, msg)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(linesSheet, cell, &row); err != nil {
			return err
		}
	}

	currencies := make([]string, 0, len(report.Totals))
	for currency := range report.Totals {
		currencies = append(currencies, currency)
	}
	sort.Strings(currencies)
	_ = f.SetCellValue(totalsSheet, "A1", "Currency")
	_ = f.SetCellValue(totalsSheet, "B1", "Total")
	for i, currency := range currencies {
		_ = f.SetCellValue(totalsSheet, fmt.Sprintf("A%d", i+2), currency)
		_ = f.SetCellValue(totalsSheet, fmt.Sprintf("B%d", i+2), report.Totals[currency].StringFixed(2))
	}
	next := len(currencies) + 3
	_ = f.SetCellValue(totalsSheet, fmt.Sprintf("A%d", next), "Priced")
	_ = f.SetCellValue(totalsSheet, fmt.Sprintf("B%d", next), report.Priced)
	_ = f.SetCellValue(totalsSheet, fmt.Sprintf("A%d", next+1), "Failed")
	_ = f.SetCellValue(totalsSheet, fmt.Sprintf("B%d", next+1), report.Failed)

	_, err := f.WriteTo(w)
	return err
}
