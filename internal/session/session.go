package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	pricingapp "serramenti/internal/pricing/application"
	pricing "serramenti/internal/pricing/domain"
)

const (
	DefaultWidth  = 1000
	DefaultHeight = 1400
)

// State is the persistence state of a session.
type State string

const (
	StateClean State = "clean"
	StateDirty State = "dirty"
)

// View is the derived, always current projection of a session.
type View struct {
	FrameID       string                     `json:"frameId"`
	Width         int                        `json:"width"`
	Height        int                        `json:"height"`
	Area          decimal.Decimal            `json:"area"`
	Perimeter     decimal.Decimal            `json:"perimeter"`
	Materials     pricing.MaterialsSelection `json:"materials,omitempty"`
	IsDirty       bool                       `json:"isDirty"`
	LastSaved     time.Time                  `json:"lastSaved,omitempty"`
	Warnings      []pricing.Warning          `json:"warnings,omitempty"`
	LastSaveError string                     `json:"lastSaveError,omitempty"`
	DraftID       string                     `json:"draftId,omitempty"`
}

// State reports clean or dirty.
func (v View) State() State {
	if v.IsDirty {
		return StateDirty
	}
	return StateClean
}

// Snapshot is the configuration captured for a save.
type Snapshot struct {
	Request pricing.CalculationRequest
	DraftID string
	version uint64
	resets  uint64
}

// Session holds the configuration being edited. It is safe for concurrent use.
type Session struct {
	frames pricingapp.FrameLookup

	mu          sync.Mutex
	frameID     string
	width       int
	height      int
	materials   pricing.MaterialsSelection
	rateTableID string
	dirty       bool
	lastSaved   time.Time
	warnings    []pricing.Warning
	lastSaveErr error
	draftID     string
	version     uint64
	resets      uint64
	onChange    func(reset bool)
}

// New creates a session with default measures and no frame.
func New(frames pricingapp.FrameLookup) (*Session, error) {
	if frames == nil {
		return nil, errors.New("session: nil frame lookup")
	}
	return &Session{
		frames: frames,
		width:  DefaultWidth,
		height: DefaultHeight,
	}, nil
}

// SetFrame selects a frame and re-validates the current measures against it.
// Measures outside the new bounds are clamped and reported as warnings.
func (s *Session) SetFrame(frameID string) error {
	frameID = strings.TrimSpace(frameID)
	if frameID == "" {
		return pricing.NewError(pricing.KindMissingParameter, "frameId", "frame id is required")
	}
	frame, ok := s.frames.Lookup(frameID)
	if !ok {
		return pricing.NewError(pricing.KindFrameNotFound, frameID, "frame is not in the catalog")
	}

	s.mu.Lock()
	measures := pricingapp.Clamp(frame, s.width, s.height)
	s.frameID = frame.ID
	s.width = measures.Width
	s.height = measures.Height
	s.warnings = measures.Warnings
	s.touchLocked()
	s.mu.Unlock()

	s.notify(false)
	return nil
}

// SetMeasures updates width and height. Non-positive values are rejected and
// leave the session untouched.
func (s *Session) SetMeasures(width, height int) error {
	if width <= 0 {
		return pricing.NewError(pricing.KindInvalidDimension, "width", "width must be a positive number of millimetres, got %d", width)
	}
	if height <= 0 {
		return pricing.NewError(pricing.KindInvalidDimension, "height", "height must be a positive number of millimetres, got %d", height)
	}

	s.mu.Lock()
	s.warnings = nil
	if s.frameID != "" {
		if frame, ok := s.frames.Lookup(s.frameID); ok {
			measures := pricingapp.Clamp(frame, width, height)
			width, height = measures.Width, measures.Height
			s.warnings = measures.Warnings
		}
	}
	s.width = width
	s.height = height
	s.touchLocked()
	s.mu.Unlock()

	s.notify(false)
	return nil
}

// SetMaterials replaces the materials selection.
func (s *Session) SetMaterials(selection pricing.MaterialsSelection) {
	s.mu.Lock()
	s.materials = copySelection(selection)
	s.touchLocked()
	s.mu.Unlock()

	s.notify(false)
}

// SetRateTable pins a rate table; empty uses the default one.
func (s *Session) SetRateTable(id string) {
	s.mu.Lock()
	s.rateTableID = strings.TrimSpace(id)
	s.touchLocked()
	s.mu.Unlock()

	s.notify(false)
}

// MarkClean records a successful save at the given time.
func (s *Session) MarkClean(at time.Time) {
	s.mu.Lock()
	s.dirty = false
	s.lastSaved = at
	s.lastSaveErr = nil
	s.mu.Unlock()
}

// Reset restores the default configuration in the clean state.
func (s *Session) Reset() {
	s.mu.Lock()
	s.frameID = ""
	s.width = DefaultWidth
	s.height = DefaultHeight
	s.materials = nil
	s.rateTableID = ""
	s.dirty = false
	s.lastSaved = time.Time{}
	s.warnings = nil
	s.lastSaveErr = nil
	s.draftID = ""
	s.version++
	s.resets++
	s.mu.Unlock()

	s.notify(true)
}

// View returns the current projection with geometry derived from the
// latest measures.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	geometry := pricing.NewGeometry(s.width, s.height)
	view := View{
		FrameID:   s.frameID,
		Width:     s.width,
		Height:    s.height,
		Area:      geometry.Area,
		Perimeter: geometry.Perimeter,
		Materials: copySelection(s.materials),
		IsDirty:   s.dirty,
		LastSaved: s.lastSaved,
		DraftID:   s.draftID,
	}
	if len(s.warnings) > 0 {
		view.Warnings = append([]pricing.Warning(nil), s.warnings...)
	}
	if s.lastSaveErr != nil {
		view.LastSaveError = s.lastSaveErr.Error()
	}
	return view
}

// Snapshot captures the configuration for a save.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Request: pricing.CalculationRequest{
			FrameID:     s.frameID,
			Width:       s.width,
			Height:      s.height,
			Materials:   copySelection(s.materials),
			RateTableID: s.rateTableID,
		},
		DraftID: s.draftID,
		version: s.version,
		resets:  s.resets,
	}
}

// completeSave applies a save result taken from snap. It reports false when
// the session changed after the snapshot; only a newly created draft id is
// kept then, so the next save replaces that draft.
func (s *Session) completeSave(snap Snapshot, draftID string, at time.Time, saveErr error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.version != s.version {
		if saveErr == nil {
			s.adoptDraftLocked(snap, draftID)
		}
		return false
	}
	if saveErr != nil {
		s.lastSaveErr = saveErr
		return true
	}
	if draftID != "" {
		s.draftID = draftID
	}
	s.dirty = false
	s.lastSaved = at
	s.lastSaveErr = nil
	return true
}

// adoptDraft records the draft created by a superseded save.
func (s *Session) adoptDraft(snap Snapshot, draftID string) {
	s.mu.Lock()
	s.adoptDraftLocked(snap, draftID)
	s.mu.Unlock()
}

func (s *Session) adoptDraftLocked(snap Snapshot, draftID string) {
	if draftID == "" || s.draftID != "" || snap.resets != s.resets {
		return
	}
	s.draftID = draftID
}

func (s *Session) setOnChange(fn func(reset bool)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Session) touchLocked() {
	s.dirty = true
	s.version++
}

func (s *Session) notify(reset bool) {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(reset)
	}
}

func copySelection(in pricing.MaterialsSelection) pricing.MaterialsSelection {
	if len(in) == 0 {
		return nil
	}
	out := make(pricing.MaterialsSelection, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
