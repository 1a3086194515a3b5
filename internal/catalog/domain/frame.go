package catalog

import (
	"fmt"
	"strings"
)

// Side identifies a measurable side of a frame.
type Side string

const (
	// SideWidth is the horizontal opening ("base").
	SideWidth Side = "width"
	// SideHeight is the vertical opening.
	SideHeight Side = "height"
)

// RequiredSides must be present on every frame.
var RequiredSides = []Side{SideWidth, SideHeight}

// ParseSide normalizes side identifiers, accepting "base" as width.
func ParseSide(value string) Side {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "base", "width", "larghezza":
		return SideWidth
	case "height", "altezza":
		return SideHeight
	default:
		return Side(strings.ToLower(strings.TrimSpace(value)))
	}
}

// Bounds is an inclusive millimetre range.
type Bounds struct {
	Minimum int `json:"minimum" yaml:"minimum"`
	Maximum int `json:"maximum" yaml:"maximum"`
}

// Clamp returns value forced into the range and whether it changed.
func (b Bounds) Clamp(value int) (int, bool) {
	if value < b.Minimum {
		return b.Minimum, true
	}
	if value > b.Maximum {
		return b.Maximum, true
	}
	return value, false
}

// PanelDivision is one sub-panel of a frame.
type PanelDivision struct {
	Label      string  `json:"label" yaml:"label"`
	Opening    string  `json:"opening,omitempty" yaml:"opening"`
	Proportion float64 `json:"proportion" yaml:"proportion"`
}

// FrameDefinition describes a frame archetype. Values are immutable once
// they are part of a Catalog.
type FrameDefinition struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	OpeningType    string          `json:"openingType"`
	PanelDivisions []PanelDivision `json:"panelDivisions"`
	Sides          map[Side]Bounds `json:"sides"`
}

// Bounds returns the bounds of a side.
func (f FrameDefinition) Bounds(side Side) (Bounds, bool) {
	b, ok := f.Sides[side]
	return b, ok
}

// PanelCount returns the number of panels, at least one.
func (f FrameDefinition) PanelCount() int {
	if len(f.PanelDivisions) == 0 {
		return 1
	}
	return len(f.PanelDivisions)
}

// RateKey is the rate table key of a frame body of category and opening type.
func RateKey(category, openingType string) string {
	return category + "|" + openingType
}

// Validate checks that a frame definition is well formed.
func (f FrameDefinition) Validate() error {
	if strings.TrimSpace(f.ID) == "" {
		return ErrEmptyFrameID
	}
	if f.Category == "" || f.OpeningType == "" {
		return fmt.Errorf("%w: %s", ErrMissingClassification, f.ID)
	}
	for _, side := range RequiredSides {
		if _, ok := f.Sides[side]; !ok {
			return fmt.Errorf("%w: %s.%s", ErrMissingSide, f.ID, side)
		}
	}
	for side, b := range f.Sides {
		if b.Minimum <= 0 || b.Minimum > b.Maximum {
			return fmt.Errorf("%w: %s.%s [%d,%d]", ErrInvalidBounds, f.ID, side, b.Minimum, b.Maximum)
		}
	}
	for i, panel := range f.PanelDivisions {
		if panel.Proportion <= 0 {
			return fmt.Errorf("%w: %s panel %d", ErrInvalidPanel, f.ID, i)
		}
	}
	return nil
}

func (f FrameDefinition) clone() FrameDefinition {
	out := f
	if f.PanelDivisions != nil {
		out.PanelDivisions = append([]PanelDivision(nil), f.PanelDivisions...)
	}
	out.Sides = make(map[Side]Bounds, len(f.Sides))
	for k, v := range f.Sides {
		out.Sides[k] = v
	}
	return out
}
