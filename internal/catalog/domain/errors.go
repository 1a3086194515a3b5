package catalog

import "errors"

var (
	// ErrEmptyFrameID is returned when a frame has no id.
	ErrEmptyFrameID = errors.New("catalog: empty frame id")
	// ErrDuplicateFrame is returned when two frames share an id.
	ErrDuplicateFrame = errors.New("catalog: duplicate frame id")
	// ErrMissingSide is returned when a required side has no bounds.
	ErrMissingSide = errors.New("catalog: missing side bounds")
	// ErrInvalidBounds is returned when minimum/maximum are not 0 < min <= max.
	ErrInvalidBounds = errors.New("catalog: invalid side bounds")
	// ErrInvalidPanel is returned for panel divisions with a non-positive proportion.
	ErrInvalidPanel = errors.New("catalog: invalid panel division")
	// ErrMissingClassification is returned when category or opening type is empty.
	ErrMissingClassification = errors.New("catalog: missing category or opening type")
)
