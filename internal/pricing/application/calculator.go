package application

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	pricing "serramenti/internal/pricing/domain"
)

// RateTableSource resolves rate tables from a read-only snapshot.
type RateTableSource interface {
	Lookup(id string) (pricing.RateTable, bool)
	Default() (pricing.RateTable, bool)
}

// Calculator prices configurations. It holds no mutable state and is safe
// for concurrent use.
type Calculator struct {
	validator *Validator
	tables    RateTableSource
}

// NewCalculator constructs a calculator.
func NewCalculator(frames FrameLookup, tables RateTableSource) (*Calculator, error) {
	validator, err := NewValidator(frames)
	if err != nil {
		return nil, err
	}
	if tables == nil {
		return nil, errors.New("calculator: nil rate table source")
	}
	return &Calculator{validator: validator, tables: tables}, nil
}

// Validator returns the validator used by the calculator.
func (c *Calculator) Validator() *Validator {
	return c.validator
}

// Calculate prices a configuration. Failures are reported in the result.
func (c *Calculator) Calculate(req pricing.CalculationRequest) pricing.CalculationResult {
	frame, measures, verr := c.validator.validate(req.FrameID, req.Width, req.Height)
	if verr != nil {
		return pricing.Failed(verr)
	}

	table, terr := c.resolveTable(req.RateTableID)
	if terr != nil {
		return pricing.Failed(terr)
	}

	geometry := measures.Geometry
	frameRate, rateKey, ok := table.FrameRate(frame.Category, frame.OpeningType)
	if !ok {
		return pricing.Failed(pricing.NewError(pricing.KindRateTableNotFound, rateKey,
			"rate table %s has no rate for %s", table.ID, rateKey))
	}
	items := []pricing.LineItem{
		pricing.NewLineItem(pricing.LineFrame, rateKey, frameRate, geometry.Quantity(frameRate.Basis, 1)),
	}
	if table.PanelRate != nil && frame.PanelCount() > 1 {
		items = append(items, pricing.NewLineItem(pricing.LinePanel, "panels", *table.PanelRate,
			geometry.Quantity(table.PanelRate.Basis, frame.PanelCount())))
	}

	var unknown []string
	for _, category := range req.Materials.Categories() {
		sel := req.Materials[category]
		if strings.TrimSpace(sel.OptionID) == "" {
			return pricing.Failed(pricing.NewError(pricing.KindMissingParameter, "materials."+category,
				"material category %s has no option", category))
		}
		if sel.Quantity < 0 {
			return pricing.Failed(pricing.NewError(pricing.KindInvalidDimension, "materials."+category,
				"material category %s has negative quantity %d", category, sel.Quantity))
		}
		rate, ok := table.Material(sel.OptionID)
		if !ok {
			unknown = append(unknown, sel.OptionID)
			continue
		}
		items = append(items, pricing.NewLineItem(pricing.LineMaterial, category+":"+sel.OptionID, rate,
			geometry.Quantity(rate.Basis, sel.Pieces())))
	}
	if len(unknown) > 0 {
		return pricing.Failed(pricing.NewError(pricing.KindUnknownMaterial, strings.Join(unknown, ","),
			"rate table %s does not price %s", table.ID, strings.Join(unknown, ", ")))
	}

	subtotal := sum(items)
	adjustments := decimal.Zero
	if table.MinimumOrder.IsPositive() && subtotal.LessThan(table.MinimumOrder) {
		surcharge := table.MinimumOrder.Sub(subtotal)
		items = append(items, pricing.LineItem{
			Kind:      pricing.LineAdjustment,
			Code:      "minimum-order",
			Label:     "Minimum order surcharge",
			Basis:     pricing.BasisFlat,
			UnitRate:  surcharge,
			Quantity:  decimal.NewFromInt(1),
			LineTotal: surcharge,
		})
		adjustments = surcharge
	}

	gross := subtotal.Add(adjustments)
	places := table.EffectivePrecision()
	total := gross.Round(places)

	return pricing.CalculationResult{
		Success:          true,
		FrameID:          frame.ID,
		Width:            geometry.Width,
		Height:           geometry.Height,
		Area:             geometry.Area,
		Perimeter:        geometry.Perimeter,
		RateTableID:      table.ID,
		RateTableVersion: table.Version,
		Currency:         table.Currency,
		Precision:        pricing.Places(places),
		LineItems:        items,
		Subtotal:         subtotal,
		Adjustments:      adjustments,
		RoundingDelta:    total.Sub(gross),
		Total:            total,
		Warnings:         measures.Warnings,
	}
}

func (c *Calculator) resolveTable(id string) (pricing.RateTable, *pricing.Error) {
	if id != "" {
		table, ok := c.tables.Lookup(id)
		if !ok {
			return pricing.RateTable{}, pricing.NewError(pricing.KindRateTableNotFound, id, "rate table does not exist")
		}
		return table, nil
	}
	table, ok := c.tables.Default()
	if !ok {
		return pricing.RateTable{}, pricing.NewError(pricing.KindRateTableNotFound, "", "no default rate table is active")
	}
	return table, nil
}

func sum(items []pricing.LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal)
	}
	return total
}
