package pricing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	catalog "serramenti/internal/catalog/domain"
)

// DefaultPrecision is the currency precision used when a table declares none.
const DefaultPrecision int32 = 2

// MaxPrecision bounds the decimal places a table may declare.
const MaxPrecision int32 = 6

// WildcardOpening matches any opening type of a category.
const WildcardOpening = "*"

// Rate is a unit price with its basis.
type Rate struct {
	Label    string          `json:"label"`
	Basis    Basis           `json:"basis"`
	UnitRate decimal.Decimal `json:"unitRate"`
}

// RateTable is a versioned price list. Tables are immutable once loaded.
type RateTable struct {
	ID           string          `json:"id"`
	Version      int             `json:"version"`
	Name         string          `json:"name"`
	Currency     string          `json:"currency"`
	// Precision is the number of decimal places of the total. Nil means
	// DefaultPrecision; zero prices in whole currency units.
	Precision    *int32          `json:"precision,omitempty"`
	MinimumOrder decimal.Decimal `json:"minimumOrder"`
	Default      bool            `json:"default"`
	// FrameRates is keyed by "category|openingType" or "category|*".
	FrameRates map[string]Rate `json:"frameRates"`
	// PanelRate, when set, charges each panel of a multi-panel frame.
	PanelRate *Rate           `json:"panelRate,omitempty"`
	Materials map[string]Rate `json:"materials"`
}

// FrameRate resolves the body rate for a category and opening type.
func (t RateTable) FrameRate(category, openingType string) (Rate, string, bool) {
	key := catalog.RateKey(category, openingType)
	if r, ok := t.FrameRates[key]; ok {
		return r, key, true
	}
	wildcard := catalog.RateKey(category, WildcardOpening)
	if r, ok := t.FrameRates[wildcard]; ok {
		return r, wildcard, true
	}
	return Rate{}, key, false
}

// Material resolves a material rate by option id.
func (t RateTable) Material(optionID string) (Rate, bool) {
	r, ok := t.Materials[optionID]
	return r, ok
}

// EffectivePrecision returns the rounding precision of the table.
func (t RateTable) EffectivePrecision() int32 {
	if t.Precision == nil {
		return DefaultPrecision
	}
	return *t.Precision
}

// Places returns a pointer to n, for declaring a table precision.
func Places(n int32) *int32 {
	return &n
}

// Validate checks that the table can price deterministically.
func (t RateTable) Validate() error {
	if t.ID == "" {
		return errors.New("rate table: empty id")
	}
	if t.Currency == "" {
		return fmt.Errorf("rate table %s: empty currency", t.ID)
	}
	if t.Precision != nil && (*t.Precision < 0 || *t.Precision > MaxPrecision) {
		return fmt.Errorf("rate table %s: precision %d outside 0..%d", t.ID, *t.Precision, MaxPrecision)
	}
	if t.MinimumOrder.IsNegative() {
		return fmt.Errorf("rate table %s: negative minimum order", t.ID)
	}
	check := func(kind, key string, r Rate) error {
		if r.UnitRate.IsNegative() {
			return fmt.Errorf("rate table %s: negative %s rate %s", t.ID, kind, key)
		}
		switch r.Basis {
		case BasisFlat, BasisPerArea, BasisPerPerimeter, BasisPerPiece:
			return nil
		default:
			return fmt.Errorf("rate table %s: %s rate %s has invalid basis %q", t.ID, kind, key, r.Basis)
		}
	}
	for key, r := range t.FrameRates {
		if err := check("frame", key, r); err != nil {
			return err
		}
	}
	for key, r := range t.Materials {
		if err := check("material", key, r); err != nil {
			return err
		}
	}
	if t.PanelRate != nil {
		if err := check("panel", "panel", *t.PanelRate); err != nil {
			return err
		}
	}
	return nil
}

// RateTableSet is an immutable snapshot of rate tables.
type RateTableSet struct {
	tables    map[string]RateTable
	defaultID string
}

// NewRateTableSet validates tables and picks the default one. When no table
// is flagged default and there is exactly one table, that table is the default.
func NewRateTableSet(tables ...RateTable) (*RateTableSet, error) {
	set := &RateTableSet{tables: make(map[string]RateTable, len(tables))}
	for _, t := range tables {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, exists := set.tables[t.ID]; exists {
			return nil, fmt.Errorf("rate table %s: duplicate id", t.ID)
		}
		if t.Default {
			if set.defaultID != "" {
				return nil, fmt.Errorf("rate table %s: second default (already %s)", t.ID, set.defaultID)
			}
			set.defaultID = t.ID
		}
		set.tables[t.ID] = t
	}
	if set.defaultID == "" && len(tables) == 1 {
		set.defaultID = tables[0].ID
	}
	return set, nil
}

// Lookup returns a table by id.
func (s *RateTableSet) Lookup(id string) (RateTable, bool) {
	if s == nil {
		return RateTable{}, false
	}
	t, ok := s.tables[id]
	return t, ok
}

// Default returns the default active table.
func (s *RateTableSet) Default() (RateTable, bool) {
	if s == nil || s.defaultID == "" {
		return RateTable{}, false
	}
	return s.Lookup(s.defaultID)
}

// IDs returns the table ids sorted.
func (s *RateTableSet) IDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.tables))
	for id := range s.tables {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
