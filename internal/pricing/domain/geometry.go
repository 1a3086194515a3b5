package pricing

import "github.com/shopspring/decimal"

var thousand = decimal.NewFromInt(1000)

// Geometry holds millimetre inputs and the quantities derived from them.
type Geometry struct {
	Width     int             `json:"width"`
	Height    int             `json:"height"`
	Area      decimal.Decimal `json:"area"`
	Perimeter decimal.Decimal `json:"perimeter"`
}

// NewGeometry derives area (m2) and perimeter (m) from width and height in mm.
func NewGeometry(width, height int) Geometry {
	w := decimal.NewFromInt(int64(width))
	h := decimal.NewFromInt(int64(height))
	return Geometry{
		Width:     width,
		Height:    height,
		Area:      w.Div(thousand).Mul(h.Div(thousand)),
		Perimeter: w.Add(h).Mul(decimal.NewFromInt(2)).Div(thousand),
	}
}

// Quantity returns the quantity a basis is charged against.
func (g Geometry) Quantity(basis Basis, pieces int) decimal.Decimal {
	switch basis {
	case BasisPerArea:
		return g.Area
	case BasisPerPerimeter:
		return g.Perimeter
	case BasisPerPiece:
		return decimal.NewFromInt(int64(pieces))
	default:
		return decimal.NewFromInt(1)
	}
}
