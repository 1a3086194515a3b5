package pricing

import (
	"sort"

	"github.com/shopspring/decimal"

	catalog "serramenti/internal/catalog/domain"
)

// LineKind groups line items.
type LineKind string

const (
	LineFrame      LineKind = "frame"
	LinePanel      LineKind = "panel"
	LineMaterial   LineKind = "material"
	LineAdjustment LineKind = "adjustment"
)

// Selection is the chosen option of a material category.
type Selection struct {
	OptionID string `json:"optionId"`
	Quantity int    `json:"quantity,omitempty"`
}

// Pieces returns the selection count, one when unset. Negative quantities are
// rejected by the calculator before pricing.
func (s Selection) Pieces() int {
	if s.Quantity == 0 {
		return 1
	}
	return s.Quantity
}

// MaterialsSelection maps a material category to its selection.
type MaterialsSelection map[string]Selection

// Categories returns the selection keys sorted, the pricing order.
func (m MaterialsSelection) Categories() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CalculationRequest is the input of a calculation.
type CalculationRequest struct {
	FrameID     string             `json:"frameId"`
	Width       int                `json:"width"`
	Height      int                `json:"height"`
	Materials   MaterialsSelection `json:"materials,omitempty"`
	RateTableID string             `json:"rateTableId,omitempty"`
}

// LineItem is one priced row.
type LineItem struct {
	Kind      LineKind        `json:"kind"`
	Code      string          `json:"code"`
	Label     string          `json:"label"`
	Basis     Basis           `json:"basis"`
	UnitRate  decimal.Decimal `json:"unitRate"`
	Quantity  decimal.Decimal `json:"quantity"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

// NewLineItem prices a rate against a quantity.
func NewLineItem(kind LineKind, code string, rate Rate, quantity decimal.Decimal) LineItem {
	total := rate.UnitRate.Mul(quantity)
	if rate.Basis == BasisFlat {
		quantity = decimal.NewFromInt(1)
		total = rate.UnitRate
	}
	return LineItem{
		Kind:      kind,
		Code:      code,
		Label:     rate.Label,
		Basis:     rate.Basis,
		UnitRate:  rate.UnitRate,
		Quantity:  quantity,
		LineTotal: total,
	}
}

// Warning reports a dimension that was clamped into the frame envelope.
type Warning struct {
	Side      catalog.Side `json:"side"`
	Requested int          `json:"requested"`
	Applied   int          `json:"applied"`
	Limit     string       `json:"limit"`
}

// CalculationResult is the outcome of a calculation. On failure only Error is
// set; line items are never returned for a rejected configuration.
type CalculationResult struct {
	Success          bool            `json:"success"`
	Error            *Error          `json:"error,omitempty"`
	FrameID          string          `json:"frameId,omitempty"`
	Width            int             `json:"width,omitempty"`
	Height           int             `json:"height,omitempty"`
	Area             decimal.Decimal `json:"area"`
	Perimeter        decimal.Decimal `json:"perimeter"`
	RateTableID      string          `json:"rateTableId,omitempty"`
	RateTableVersion int             `json:"rateTableVersion,omitempty"`
	Currency         string          `json:"currency,omitempty"`
	Precision        *int32          `json:"precision,omitempty"`
	LineItems        []LineItem      `json:"lineItems,omitempty"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	Adjustments      decimal.Decimal `json:"adjustments"`
	RoundingDelta    decimal.Decimal `json:"roundingDelta"`
	Total            decimal.Decimal `json:"total"`
	Warnings         []Warning       `json:"warnings,omitempty"`
}

// Places returns the decimal places the total was rounded to. Results stored
// before the precision was recorded report DefaultPrecision.
func (r CalculationResult) Places() int32 {
	if r.Precision == nil {
		return DefaultPrecision
	}
	return *r.Precision
}

// Failed builds a failed result.
func Failed(err *Error) CalculationResult {
	return CalculationResult{Success: false, Error: err}
}

// Err returns the failure as an error, nil on success.
func (r CalculationResult) Err() error {
	if r.Success {
		return nil
	}
	if r.Error == nil {
		return NewError(KindInvalidState, "", "calculation has no outcome")
	}
	return r.Error
}

// LineTotal sums every line item.
func (r CalculationResult) LineTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range r.LineItems {
		sum = sum.Add(item.LineTotal)
	}
	return sum
}

// Consistent reports whether Total equals the line items plus the rounding delta.
func (r CalculationResult) Consistent() bool {
	return r.LineTotal().Add(r.RoundingDelta).Equal(r.Total)
}
