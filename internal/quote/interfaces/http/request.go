package http

import (
	"bytes"
	"encoding/json"

	pricing "serramenti/internal/pricing/domain"
)

// dimension is a millimetre value as sent by a client. It remembers whether
// the field was present and keeps the raw text when it is not a whole number.
type dimension struct {
	present bool
	value   int
	raw     string
	valid   bool
}

func (d *dimension) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = dimension{}
		return nil
	}
	*d = dimension{present: true, raw: string(data)}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	n, ok := v.(json.Number)
	if !ok {
		return nil
	}
	i, err := n.Int64()
	if err != nil || int64(int(i)) != i {
		return nil
	}
	d.value, d.valid = int(i), true
	return nil
}

func (d dimension) resolve(field string) (int, *pricing.Error) {
	switch {
	case !d.present:
		return 0, pricing.NewError(pricing.KindMissingParameter, field, "%s is required", field)
	case !d.valid:
		return 0, pricing.NewError(pricing.KindInvalidDimension, field,
			"%s must be a whole number of millimetres, got %s", field, d.raw)
	}
	return d.value, nil
}

type measuresBody struct {
	FrameID string    `json:"frameId"`
	Width   dimension `json:"width"`
	Height  dimension `json:"height"`
}

func (b measuresBody) measures() (string, int, int, *pricing.Error) {
	if b.FrameID == "" {
		return "", 0, 0, pricing.NewError(pricing.KindMissingParameter, "frameId", "frameId is required")
	}
	width, err := b.Width.resolve("width")
	if err != nil {
		return "", 0, 0, err
	}
	height, err := b.Height.resolve("height")
	if err != nil {
		return "", 0, 0, err
	}
	return b.FrameID, width, height, nil
}

type calculationBody struct {
	measuresBody
	Materials   pricing.MaterialsSelection `json:"materials,omitempty"`
	RateTableID string                     `json:"rateTableId,omitempty"`
}

func (b calculationBody) request() (pricing.CalculationRequest, *pricing.Error) {
	frameID, width, height, err := b.measures()
	if err != nil {
		return pricing.CalculationRequest{}, err
	}
	return pricing.CalculationRequest{
		FrameID:     frameID,
		Width:       width,
		Height:      height,
		Materials:   b.Materials,
		RateTableID: b.RateTableID,
	}, nil
}
