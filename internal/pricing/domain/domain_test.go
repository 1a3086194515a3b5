package pricing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNewGeometry(t *testing.T) {
	g := NewGeometry(1000, 1400)
	if !g.Area.Equal(decimal.RequireFromString("1.4")) {
		t.Fatalf("area mismatch: %s", g.Area)
	}
	if !g.Perimeter.Equal(decimal.RequireFromString("4.8")) {
		t.Fatalf("perimeter mismatch: %s", g.Perimeter)
	}
}

func TestGeometryInvariantAcrossSizes(t *testing.T) {
	for w := 1; w <= 3001; w += 250 {
		for h := 7; h <= 2707; h += 300 {
			g := NewGeometry(w, h)
			wantArea := decimal.NewFromInt(int64(w * h)).Div(decimal.NewFromInt(1_000_000))
			wantPerimeter := decimal.NewFromInt(int64(2 * (w + h))).Div(decimal.NewFromInt(1000))
			if !g.Area.Equal(wantArea) || !g.Perimeter.Equal(wantPerimeter) {
				t.Fatalf("geometry mismatch for %dx%d: %s %s", w, h, g.Area, g.Perimeter)
			}
		}
	}
}

func TestNewLineItemFlatIgnoresQuantity(t *testing.T) {
	rate := Rate{Label: "Posa", Basis: BasisFlat, UnitRate: decimal.NewFromInt(90)}
	item := NewLineItem(LineMaterial, "posa", rate, decimal.NewFromInt(7))
	if !item.LineTotal.Equal(decimal.NewFromInt(90)) || !item.Quantity.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("flat item mismatch: %+v", item)
	}
}

func TestRateTableFrameRateWildcard(t *testing.T) {
	table := RateTable{
		ID:       "t",
		Currency: "EUR",
		FrameRates: map[string]Rate{
			"window|hinged": {Basis: BasisPerArea, UnitRate: decimal.NewFromInt(200)},
			"door|*":        {Basis: BasisPerArea, UnitRate: decimal.NewFromInt(350)},
		},
	}
	if _, key, ok := table.FrameRate("window", "hinged"); !ok || key != "window|hinged" {
		t.Fatalf("exact key not resolved")
	}
	if _, key, ok := table.FrameRate("door", "sliding"); !ok || key != "door|*" {
		t.Fatalf("wildcard not resolved")
	}
	if _, _, ok := table.FrameRate("window", "sliding"); ok {
		t.Fatalf("unexpected rate for window|sliding")
	}
}

func TestRateTableSetDefault(t *testing.T) {
	a := RateTable{ID: "a", Currency: "EUR"}
	b := RateTable{ID: "b", Currency: "EUR", Default: true}
	set, err := NewRateTableSet(a, b)
	if err != nil {
		t.Fatalf("new set: %v", err)
	}
	def, ok := set.Default()
	if !ok || def.ID != "b" {
		t.Fatalf("expected default b, got %+v", def)
	}

	single, err := NewRateTableSet(a)
	if err != nil {
		t.Fatalf("new set: %v", err)
	}
	if def, ok := single.Default(); !ok || def.ID != "a" {
		t.Fatalf("single table should be default")
	}

	if _, err := NewRateTableSet(b, RateTable{ID: "c", Currency: "EUR", Default: true}); err == nil {
		t.Fatalf("expected error for two defaults")
	}
}

func TestRateTableValidateRejectsNegativeRate(t *testing.T) {
	table := RateTable{
		ID:        "neg",
		Currency:  "EUR",
		Materials: map[string]Rate{"x": {Basis: BasisPerPiece, UnitRate: decimal.NewFromInt(-1)}},
	}
	if err := table.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewError(KindUnknownMaterial, "vetro-x", "material not in table"))
	if !errors.Is(err, ErrUnknownMaterial) {
		t.Fatalf("expected unknown material sentinel")
	}
	if errors.Is(err, ErrFrameNotFound) {
		t.Fatalf("unexpected frame not found match")
	}
	if KindOf(err) != KindUnknownMaterial {
		t.Fatalf("kind mismatch: %s", KindOf(err))
	}

	cause := errors.New("connection reset")
	pe := PersistenceError("insert quote", cause)
	if !errors.Is(pe, ErrPersistenceFailure) || !errors.Is(pe, cause) {
		t.Fatalf("persistence error should match sentinel and cause")
	}
}

func TestParseBasis(t *testing.T) {
	cases := map[string]Basis{
		"m2":                 BasisPerArea,
		"per-unit-perimeter": BasisPerPerimeter,
		"pz":                 BasisPerPiece,
		"flat":               BasisFlat,
	}
	for in, want := range cases {
		got, err := ParseBasis(in)
		if err != nil || got != want {
			t.Fatalf("parse %q: got %q err %v", in, got, err)
		}
	}
	if _, err := ParseBasis("per-hour"); err == nil {
		t.Fatalf("expected error")
	}
}
