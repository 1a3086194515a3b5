package application

import (
	"encoding/json"
	"errors"
	"testing"

	pricing "serramenti/internal/pricing/domain"
)

func newTestCalculator(t *testing.T, tables ...pricing.RateTable) *Calculator {
	t.Helper()
	if len(tables) == 0 {
		tables = []pricing.RateTable{tableV1()}
	}
	calc, err := NewCalculator(testCatalog(t), tableSet(t, tables...))
	if err != nil {
		t.Fatalf("calculator: %v", err)
	}
	return calc
}

func fullRequest() pricing.CalculationRequest {
	return pricing.CalculationRequest{
		FrameID: "basic-window",
		Width:   1000,
		Height:  1400,
		Materials: pricing.MaterialsSelection{
			"vetro":       {OptionID: "vetro-basso-emissivo"},
			"guarnizione": {OptionID: "guarnizione-epdm"},
			"accessori":   {OptionID: "maniglia-cromo", Quantity: 2},
			"posa":        {OptionID: "posa"},
		},
	}
}

func TestCalculateItemizesAndRounds(t *testing.T) {
	calc := newTestCalculator(t)
	res := calc.Calculate(fullRequest())
	if !res.Success {
		t.Fatalf("calculate failed: %v", res.Error)
	}

	wantCodes := []string{
		"window|hinged",
		"accessori:maniglia-cromo",
		"guarnizione:guarnizione-epdm",
		"posa:posa",
		"vetro:vetro-basso-emissivo",
	}
	wantTotals := []string{"252.7", "37.8", "14.88", "95", "87.2662"}
	if len(res.LineItems) != len(wantCodes) {
		t.Fatalf("expected %d line items, got %d", len(wantCodes), len(res.LineItems))
	}
	for i, item := range res.LineItems {
		if item.Code != wantCodes[i] {
			t.Fatalf("line %d code %s, want %s", i, item.Code, wantCodes[i])
		}
		if !item.LineTotal.Equal(d(wantTotals[i])) {
			t.Fatalf("line %d total %s, want %s", i, item.LineTotal, wantTotals[i])
		}
		if item.LineTotal.IsNegative() {
			t.Fatalf("negative line total on %s", item.Code)
		}
	}
	if !res.Subtotal.Equal(d("487.6462")) {
		t.Fatalf("subtotal %s", res.Subtotal)
	}
	if !res.Total.Equal(d("487.65")) {
		t.Fatalf("total %s", res.Total)
	}
	if !res.RoundingDelta.Equal(d("0.0038")) {
		t.Fatalf("rounding delta %s", res.RoundingDelta)
	}
	if !res.Consistent() {
		t.Fatalf("total not consistent with line items")
	}
	if res.RateTableID != "listino-2026" || res.Currency != "EUR" {
		t.Fatalf("rate table not recorded: %s %s", res.RateTableID, res.Currency)
	}
}

func TestCalculateIsDeterministic(t *testing.T) {
	calc := newTestCalculator(t)
	first, err := json.Marshal(calc.Calculate(fullRequest()))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := json.Marshal(calc.Calculate(fullRequest()))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(again) != string(first) {
			t.Fatalf("run %d differs:\n%s\n%s", i, first, again)
		}
	}
}

func TestCalculateMinimumOrderSurcharge(t *testing.T) {
	calc := newTestCalculator(t)
	res := calc.Calculate(pricing.CalculationRequest{FrameID: "basic-window", Width: 400, Height: 400})
	if !res.Success {
		t.Fatalf("calculate: %v", res.Error)
	}
	last := res.LineItems[len(res.LineItems)-1]
	if last.Kind != pricing.LineAdjustment || !last.LineTotal.Equal(d("121.12")) {
		t.Fatalf("expected explicit surcharge line, got %+v", last)
	}
	if !res.Subtotal.Equal(d("28.88")) || !res.Adjustments.Equal(d("121.12")) || !res.Total.Equal(d("150")) {
		t.Fatalf("unexpected totals: subtotal %s adjustments %s total %s", res.Subtotal, res.Adjustments, res.Total)
	}
	if !res.Consistent() {
		t.Fatalf("total not consistent")
	}
}

func TestCalculatePanelDivisions(t *testing.T) {
	calc := newTestCalculator(t)
	res := calc.Calculate(pricing.CalculationRequest{FrameID: "two-leaf-window", Width: 1200, Height: 1400})
	if !res.Success {
		t.Fatalf("calculate: %v", res.Error)
	}
	if len(res.LineItems) != 2 || res.LineItems[1].Kind != pricing.LinePanel {
		t.Fatalf("expected frame and panel lines, got %+v", res.LineItems)
	}
	if !res.LineItems[1].Quantity.Equal(d("2")) || !res.Total.Equal(d("393.24")) {
		t.Fatalf("panel pricing mismatch: qty %s total %s", res.LineItems[1].Quantity, res.Total)
	}
}

func TestCalculateRoundsHalfUp(t *testing.T) {
	table := pricing.RateTable{
		ID:       "half",
		Currency: "EUR",
		FrameRates: map[string]pricing.Rate{
			"window|*": {Label: "Telaio", Basis: pricing.BasisFlat, UnitRate: d("10.005")},
		},
	}
	calc := newTestCalculator(t, table)
	res := calc.Calculate(pricing.CalculationRequest{FrameID: "basic-window", Width: 1000, Height: 1000})
	if !res.Success {
		t.Fatalf("calculate: %v", res.Error)
	}
	if !res.Total.Equal(d("10.01")) || !res.RoundingDelta.Equal(d("0.005")) {
		t.Fatalf("expected half-up rounding, got total %s delta %s", res.Total, res.RoundingDelta)
	}
	if res.Places() != pricing.DefaultPrecision {
		t.Fatalf("expected default precision, got %d", res.Places())
	}
}

func TestCalculateRoundsToWholeUnits(t *testing.T) {
	table := pricing.RateTable{
		ID:        "whole",
		Currency:  "EUR",
		Precision: pricing.Places(0),
		FrameRates: map[string]pricing.Rate{
			"window|*": {Label: "Telaio", Basis: pricing.BasisPerArea, UnitRate: d("100.7")},
		},
	}
	calc := newTestCalculator(t, table)
	res := calc.Calculate(pricing.CalculationRequest{FrameID: "basic-window", Width: 1000, Height: 1000})
	if !res.Success {
		t.Fatalf("calculate: %v", res.Error)
	}
	if !res.Total.Equal(d("101")) || !res.RoundingDelta.Equal(d("0.3")) {
		t.Fatalf("expected whole unit total, got total %s delta %s", res.Total, res.RoundingDelta)
	}
	if res.Places() != 0 || !res.Consistent() {
		t.Fatalf("expected precision 0 and a consistent total, got %d", res.Places())
	}
}

func TestCalculateClampsBeforePricing(t *testing.T) {
	calc := newTestCalculator(t)
	res := calc.Calculate(pricing.CalculationRequest{FrameID: "basic-window", Width: 3000, Height: 1400})
	if !res.Success {
		t.Fatalf("calculate: %v", res.Error)
	}
	if res.Width != 2000 || len(res.Warnings) != 1 {
		t.Fatalf("expected clamped width with warning, got %d %+v", res.Width, res.Warnings)
	}
	if !res.Area.Equal(d("2.8")) || !res.LineItems[0].Quantity.Equal(d("2.8")) {
		t.Fatalf("frame line not priced on clamped area")
	}
}

func TestCalculateFailures(t *testing.T) {
	calc := newTestCalculator(t)
	cases := []struct {
		name string
		req  pricing.CalculationRequest
		want error
		ref  string
	}{
		{"missing frame", pricing.CalculationRequest{Width: 1000, Height: 1000}, pricing.ErrMissingParameter, "frameId"},
		{"zero width", pricing.CalculationRequest{FrameID: "basic-window", Width: 0, Height: 1400}, pricing.ErrInvalidDimension, "width"},
		{"unknown frame", pricing.CalculationRequest{FrameID: "nope", Width: 1000, Height: 1000}, pricing.ErrFrameNotFound, "nope"},
		{"unknown table", pricing.CalculationRequest{FrameID: "basic-window", Width: 1000, Height: 1000, RateTableID: "old"}, pricing.ErrRateTableNotFound, "old"},
		{"no frame rate", pricing.CalculationRequest{FrameID: "skylight", Width: 1000, Height: 1000}, pricing.ErrRateTableNotFound, "skylight|fixed"},
		{
			"unknown material",
			pricing.CalculationRequest{FrameID: "basic-window", Width: 1000, Height: 1400, Materials: pricing.MaterialsSelection{
				"vetro":     {OptionID: "vetro-blindato"},
				"accessori": {OptionID: "maniglia-cromo"},
			}},
			pricing.ErrUnknownMaterial,
			"vetro-blindato",
		},
		{
			"empty option",
			pricing.CalculationRequest{FrameID: "basic-window", Width: 1000, Height: 1400, Materials: pricing.MaterialsSelection{"vetro": {}}},
			pricing.ErrMissingParameter,
			"materials.vetro",
		},
		{
			"negative quantity",
			pricing.CalculationRequest{FrameID: "basic-window", Width: 1000, Height: 1400, Materials: pricing.MaterialsSelection{
				"accessori": {OptionID: "maniglia-cromo", Quantity: -2},
			}},
			pricing.ErrInvalidDimension,
			"materials.accessori",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := calc.Calculate(tc.req)
			if res.Success {
				t.Fatalf("expected failure")
			}
			if len(res.LineItems) != 0 {
				t.Fatalf("failed result must not carry line items")
			}
			if !errors.Is(res.Err(), tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, res.Err())
			}
			if res.Error.Ref != tc.ref {
				t.Fatalf("expected ref %q, got %q", tc.ref, res.Error.Ref)
			}
		})
	}
}

func TestCalculateNoDefaultTable(t *testing.T) {
	a := tableV1()
	a.Default = false
	b := tableV1()
	b.ID = "listino-2025"
	b.Default = false
	calc := newTestCalculator(t, a, b)
	res := calc.Calculate(pricing.CalculationRequest{FrameID: "basic-window", Width: 1000, Height: 1000})
	if !errors.Is(res.Err(), pricing.ErrRateTableNotFound) {
		t.Fatalf("expected rate table not found, got %v", res.Err())
	}
	res = calc.Calculate(pricing.CalculationRequest{FrameID: "basic-window", Width: 1000, Height: 1000, RateTableID: "listino-2025"})
	if !res.Success {
		t.Fatalf("explicit table should resolve: %v", res.Error)
	}
}

func TestCalculateDoesNotMutateInputs(t *testing.T) {
	table := tableV1()
	calc := newTestCalculator(t, table)
	before := table.Materials["posa"].UnitRate.String()
	_ = calc.Calculate(pricing.CalculationRequest{FrameID: "basic-window", Width: 1000, Height: 1400, Materials: pricing.MaterialsSelection{"x": {OptionID: "missing"}}})
	_ = calc.Calculate(fullRequest())
	set := calc.tables.(*pricing.RateTableSet)
	after, _ := set.Lookup("listino-2026")
	if after.Materials["posa"].UnitRate.String() != before || len(after.Materials) != 4 {
		t.Fatalf("rate table mutated")
	}
	if _, ok := testCatalog(t).Lookup("basic-window"); !ok {
		t.Fatalf("catalog lost frame")
	}
}
