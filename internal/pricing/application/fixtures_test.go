package application

import (
	"testing"

	"github.com/shopspring/decimal"

	catalog "serramenti/internal/catalog/domain"
	pricing "serramenti/internal/pricing/domain"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.NewCatalog(
		catalog.FrameDefinition{
			ID:          "basic-window",
			Name:        "Finestra 1 anta",
			Category:    "window",
			OpeningType: "hinged",
			Sides: map[catalog.Side]catalog.Bounds{
				catalog.SideWidth:  {Minimum: 400, Maximum: 2000},
				catalog.SideHeight: {Minimum: 400, Maximum: 2200},
			},
		},
		catalog.FrameDefinition{
			ID:          "two-leaf-window",
			Name:        "Finestra 2 ante",
			Category:    "window",
			OpeningType: "hinged",
			PanelDivisions: []catalog.PanelDivision{
				{Label: "sx", Opening: "hinged", Proportion: 0.5},
				{Label: "dx", Opening: "hinged", Proportion: 0.5},
			},
			Sides: map[catalog.Side]catalog.Bounds{
				catalog.SideWidth:  {Minimum: 800, Maximum: 2400},
				catalog.SideHeight: {Minimum: 600, Maximum: 2400},
			},
		},
		catalog.FrameDefinition{
			ID:          "narrow-door",
			Name:        "Porta stretta",
			Category:    "door",
			OpeningType: "hinged",
			Sides: map[catalog.Side]catalog.Bounds{
				catalog.SideWidth:  {Minimum: 600, Maximum: 900},
				catalog.SideHeight: {Minimum: 1800, Maximum: 2400},
			},
		},
		catalog.FrameDefinition{
			ID:          "skylight",
			Name:        "Lucernario",
			Category:    "skylight",
			OpeningType: "fixed",
			Sides: map[catalog.Side]catalog.Bounds{
				catalog.SideWidth:  {Minimum: 300, Maximum: 1200},
				catalog.SideHeight: {Minimum: 300, Maximum: 1200},
			},
		},
	)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return c
}

func d(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func tableV1() pricing.RateTable {
	panel := pricing.Rate{Label: "Anta aggiuntiva", Basis: pricing.BasisPerPiece, UnitRate: d("45")}
	return pricing.RateTable{
		ID:           "listino-2026",
		Version:      1,
		Name:         "Listino 2026",
		Currency:     "EUR",
		Precision:    pricing.Places(2),
		MinimumOrder: d("150"),
		Default:      true,
		FrameRates: map[string]pricing.Rate{
			"window|hinged": {Label: "Telaio PVC battente", Basis: pricing.BasisPerArea, UnitRate: d("180.50")},
			"door|*":        {Label: "Telaio porta", Basis: pricing.BasisPerArea, UnitRate: d("320")},
		},
		PanelRate: &panel,
		Materials: map[string]pricing.Rate{
			"vetro-basso-emissivo": {Label: "Vetro basso emissivo", Basis: pricing.BasisPerArea, UnitRate: d("62.333")},
			"guarnizione-epdm":     {Label: "Guarnizione EPDM", Basis: pricing.BasisPerPerimeter, UnitRate: d("3.10")},
			"maniglia-cromo":       {Label: "Maniglia cromo", Basis: pricing.BasisPerPiece, UnitRate: d("18.90")},
			"posa":                 {Label: "Posa in opera", Basis: pricing.BasisFlat, UnitRate: d("95")},
		},
	}
}

func tableSet(t *testing.T, tables ...pricing.RateTable) *pricing.RateTableSet {
	t.Helper()
	set, err := pricing.NewRateTableSet(tables...)
	if err != nil {
		t.Fatalf("rate tables: %v", err)
	}
	return set
}
