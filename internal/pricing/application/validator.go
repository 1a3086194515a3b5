package application

import (
	"errors"
	"strings"

	catalog "serramenti/internal/catalog/domain"
	pricing "serramenti/internal/pricing/domain"
)

// FrameLookup resolves frame definitions.
type FrameLookup interface {
	Lookup(frameID string) (catalog.FrameDefinition, bool)
}

// Measures are validated dimensions with derived geometry.
type Measures struct {
	FrameID string `json:"frameId"`
	pricing.Geometry
	Warnings []pricing.Warning `json:"warnings,omitempty"`
}

// Clamped reports whether any dimension was changed.
func (m Measures) Clamped() bool {
	return len(m.Warnings) > 0
}

// Validator clamps dimensions into the envelope of a frame.
type Validator struct {
	frames FrameLookup
}

// NewValidator constructs a validator.
func NewValidator(frames FrameLookup) (*Validator, error) {
	if frames == nil {
		return nil, errors.New("validator: nil frame lookup")
	}
	return &Validator{frames: frames}, nil
}

// Validate checks dimensions against a frame. Non-positive dimensions are
// rejected before the frame is resolved; out-of-range values are clamped and
// reported as warnings.
func (v *Validator) Validate(frameID string, width, height int) (Measures, error) {
	_, measures, err := v.validate(frameID, width, height)
	if err != nil {
		return Measures{}, err
	}
	return measures, nil
}

func (v *Validator) validate(frameID string, width, height int) (catalog.FrameDefinition, Measures, *pricing.Error) {
	if strings.TrimSpace(frameID) == "" {
		return catalog.FrameDefinition{}, Measures{}, pricing.NewError(pricing.KindMissingParameter, "frameId", "frame id is required")
	}
	if err := checkDimensions(width, height); err != nil {
		return catalog.FrameDefinition{}, Measures{}, err
	}
	frame, ok := v.frames.Lookup(frameID)
	if !ok {
		return catalog.FrameDefinition{}, Measures{}, pricing.NewError(pricing.KindFrameNotFound, frameID, "frame is not in the catalog")
	}
	return frame, Clamp(frame, width, height), nil
}

// Clamp forces dimensions into the frame bounds. Callers must reject
// non-positive dimensions first.
func Clamp(frame catalog.FrameDefinition, width, height int) Measures {
	var warnings []pricing.Warning
	clampSide := func(side catalog.Side, value int) int {
		bounds, ok := frame.Bounds(side)
		if !ok {
			return value
		}
		applied, changed := bounds.Clamp(value)
		if changed {
			limit := "maximum"
			if value < bounds.Minimum {
				limit = "minimum"
			}
			warnings = append(warnings, pricing.Warning{Side: side, Requested: value, Applied: applied, Limit: limit})
		}
		return applied
	}
	w := clampSide(catalog.SideWidth, width)
	h := clampSide(catalog.SideHeight, height)
	return Measures{
		FrameID:  frame.ID,
		Geometry: pricing.NewGeometry(w, h),
		Warnings: warnings,
	}
}

func checkDimensions(width, height int) *pricing.Error {
	if width <= 0 {
		return pricing.NewError(pricing.KindInvalidDimension, "width", "width must be a positive number of millimetres, got %d", width)
	}
	if height <= 0 {
		return pricing.NewError(pricing.KindInvalidDimension, "height", "height must be a positive number of millimetres, got %d", height)
	}
	return nil
}
