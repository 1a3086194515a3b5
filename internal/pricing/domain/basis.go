package pricing

import (
	"fmt"
	"strings"
)

// Basis is the unit a rate is charged against.
type Basis string

const (
	BasisFlat         Basis = "flat"
	BasisPerArea      Basis = "per-area"
	BasisPerPerimeter Basis = "per-perimeter"
	BasisPerPiece     Basis = "per-piece"
)

// ParseBasis accepts the canonical names plus the common unit aliases.
func ParseBasis(value string) (Basis, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "flat", "forfait":
		return BasisFlat, nil
	case "per-area", "per-unit-area", "m2", "sqm":
		return BasisPerArea, nil
	case "per-perimeter", "per-unit-perimeter", "ml", "m":
		return BasisPerPerimeter, nil
	case "per-piece", "piece", "pz", "unit":
		return BasisPerPiece, nil
	default:
		return "", fmt.Errorf("pricing: unknown basis %q", value)
	}
}

// Unit is the display unit of measure.
func (b Basis) Unit() string {
	switch b {
	case BasisPerArea:
		return "m2"
	case BasisPerPerimeter:
		return "m"
	case BasisPerPiece:
		return "pz"
	default:
		return ""
	}
}
