// Package batch prices a CSV of configurations in one pass and renders the
// outcome as a JSON or XLSX report.
package batch

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pricing "serramenti/internal/pricing/domain"
)

// Required CSV columns. materials and rate_table are optional.
var requiredColumns = []string{"ref", "frame_id", "width", "height"}

// Row is one configuration read from the input.
type Row struct {
	Line    int                        `json:"line"`
	Ref     string                     `json:"ref"`
	Request pricing.CalculationRequest `json:"request"`
}

// Calculator prices a request.
type Calculator interface {
	Calculate(req pricing.CalculationRequest) pricing.CalculationResult
}

// Line pairs a row with its calculation.
type Line struct {
	Row
	Result pricing.CalculationResult `json:"result"`
}

// Report is the outcome of a batch.
type Report struct {
	GeneratedAt time.Time                  `json:"generatedAt"`
	Lines       []Line                     `json:"lines"`
	Priced      int                        `json:"priced"`
	Failed      int                        `json:"failed"`
	Totals      map[string]decimal.Decimal `json:"totals"`
}

// ParseCSV reads rows from a headed CSV. Materials are written as
// "category=option" pairs separated by ';', with an optional "*qty" suffix,
// e.g. "glass=triple;handle=steel*2".
func ParseCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("batch: empty input")
		}
		return nil, fmt.Errorf("batch: read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("batch: missing column %q", col)
		}
	}

	var rows []Row
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("batch: line %d: %w", line, err)
		}
		row, err := parseRecord(line, record, index)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRecord(line int, record []string, index map[string]int) (Row, error) {
	field := func(name string) string {
		i, ok := index[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	width, err := strconv.Atoi(field("width"))
	if err != nil {
		return Row{}, fmt.Errorf("batch: line %d: width: %w", line, err)
	}
	height, err := strconv.Atoi(field("height"))
	if err != nil {
		return Row{}, fmt.Errorf("batch: line %d: height: %w", line, err)
	}
	materials, err := ParseMaterials(field("materials"))
	if err != nil {
		return Row{}, fmt.Errorf("batch: line %d: %w", line, err)
	}
	return Row{
		Line: line,
		Ref:  field("ref"),
		Request: pricing.CalculationRequest{
			FrameID:     field("frame_id"),
			Width:       width,
			Height:      height,
			Materials:   materials,
			RateTableID: field("rate_table"),
		},
	}, nil
}

// ParseMaterials parses "category=option[*qty]" pairs separated by ';'.
func ParseMaterials(value string) (pricing.MaterialsSelection, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	out := make(pricing.MaterialsSelection)
	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		category, option, ok := strings.Cut(part, "=")
		category = strings.TrimSpace(category)
		if !ok || category == "" {
			return nil, fmt.Errorf("materials: %q is not category=option", part)
		}
		sel := pricing.Selection{OptionID: strings.TrimSpace(option)}
		if id, qty, hasQty := strings.Cut(sel.OptionID, "*"); hasQty {
			n, err := strconv.Atoi(strings.TrimSpace(qty))
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("materials: bad quantity in %q", part)
			}
			sel.OptionID = strings.TrimSpace(id)
			sel.Quantity = n
		}
		if _, dup := out[category]; dup {
			return nil, fmt.Errorf("materials: category %q repeated", category)
		}
		out[category] = sel
	}
	return out, nil
}

// Run prices every row. A failed row is reported, it does not stop the batch.
func Run(calc Calculator, rows []Row, now time.Time) Report {
	report := Report{
		GeneratedAt: now.UTC(),
		Lines:       make([]Line, 0, len(rows)),
		Totals:      make(map[string]decimal.Decimal),
	}
	for _, row := range rows {
		result := calc.Calculate(row.Request)
		report.Lines = append(report.Lines, Line{Row: row, Result: result})
		if !result.Success {
			report.Failed++
			continue
		}
		report.Priced++
		report.Totals[result.Currency] = report.Totals[result.Currency].Add(result.Total)
	}
	return report
}
