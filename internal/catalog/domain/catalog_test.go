package catalog

import (
	"errors"
	"testing"
)

func basicWindow() FrameDefinition {
	return FrameDefinition{
		ID:          "basic-window",
		Name:        "Finestra 1 anta",
		Category:    "window",
		OpeningType: "hinged",
		Sides: map[Side]Bounds{
			SideWidth:  {Minimum: 400, Maximum: 2000},
			SideHeight: {Minimum: 400, Maximum: 2200},
		},
	}
}

func TestNewCatalogLookup(t *testing.T) {
	c, err := NewCatalog(basicWindow())
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	frame, ok := c.Lookup("basic-window")
	if !ok {
		t.Fatalf("expected frame")
	}
	if key := RateKey(frame.Category, frame.OpeningType); key != "window|hinged" {
		t.Fatalf("unexpected rate key %s", key)
	}
	if _, ok := c.Lookup("missing"); ok {
		t.Fatalf("expected not found")
	}
}

func TestLookupReturnsCopy(t *testing.T) {
	c, err := NewCatalog(basicWindow())
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	frame, _ := c.Lookup("basic-window")
	frame.Sides[SideWidth] = Bounds{Minimum: 1, Maximum: 2}
	again, _ := c.Lookup("basic-window")
	if again.Sides[SideWidth].Maximum != 2000 {
		t.Fatalf("catalog mutated through lookup result")
	}
}

func TestNewCatalogRejectsInvalidFrames(t *testing.T) {
	noHeight := basicWindow()
	noHeight.ID = "no-height"
	noHeight.Sides = map[Side]Bounds{SideWidth: {Minimum: 400, Maximum: 800}}

	inverted := basicWindow()
	inverted.ID = "inverted"
	inverted.Sides = map[Side]Bounds{
		SideWidth:  {Minimum: 900, Maximum: 800},
		SideHeight: {Minimum: 400, Maximum: 800},
	}

	cases := []struct {
		name   string
		frames []FrameDefinition
		want   error
	}{
		{"missing side", []FrameDefinition{noHeight}, ErrMissingSide},
		{"min greater than max", []FrameDefinition{inverted}, ErrInvalidBounds},
		{"duplicate", []FrameDefinition{basicWindow(), basicWindow()}, ErrDuplicateFrame},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCatalog(tc.frames...)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestBoundsClamp(t *testing.T) {
	b := Bounds{Minimum: 400, Maximum: 2000}
	if v, changed := b.Clamp(3000); v != 2000 || !changed {
		t.Fatalf("clamp high: %d %v", v, changed)
	}
	if v, changed := b.Clamp(100); v != 400 || !changed {
		t.Fatalf("clamp low: %d %v", v, changed)
	}
	if v, changed := b.Clamp(1000); v != 1000 || changed {
		t.Fatalf("clamp inside: %d %v", v, changed)
	}
}

func TestParseSide(t *testing.T) {
	if ParseSide("base") != SideWidth || ParseSide(" Height ") != SideHeight {
		t.Fatalf("side aliases not normalized")
	}
}
