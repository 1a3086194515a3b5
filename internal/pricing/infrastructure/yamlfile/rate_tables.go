package yamlfile

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	pricing "serramenti/internal/pricing/domain"
)

type rateFile struct {
	RateTables []tableDoc `yaml:"rate_tables"`
}

type tableDoc struct {
	ID           string             `yaml:"id"`
	Version      int                `yaml:"version"`
	Name         string             `yaml:"name"`
	Currency     string             `yaml:"currency"`
	Precision    *int32             `yaml:"precision"`
	MinimumOrder string             `yaml:"minimum_order"`
	Default      bool               `yaml:"default"`
	Frames       map[string]rateDoc `yaml:"frames"`
	Panel        *rateDoc           `yaml:"panel"`
	Materials    map[string]rateDoc `yaml:"materials"`
}

type rateDoc struct {
	Label    string `yaml:"label"`
	Basis    string `yaml:"basis"`
	UnitRate string `yaml:"unit_rate"`
}

// Loader reads rate tables from a yaml file. It is re-read on every Load so
// edits are picked up by a reload.
type Loader struct {
	path string
}

// NewLoader constructs a file loader.
func NewLoader(path string) (*Loader, error) {
	if path == "" {
		return nil, errors.New("rate table loader: empty path")
	}
	return &Loader{path: path}, nil
}

// Load reads and decodes the file.
func (l *Loader) Load(_ context.Context) ([]pricing.RateTable, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("rate table loader: read %s: %w", l.path, err)
	}
	return ParseRateTables(data)
}

// ParseRateTables decodes rate tables yaml. Amounts are kept as decimal text.
func ParseRateTables(data []byte) ([]pricing.RateTable, error) {
	var file rateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("rate table loader: decode: %w", err)
	}
	tables := make([]pricing.RateTable, 0, len(file.RateTables))
	for _, doc := range file.RateTables {
		table := pricing.RateTable{
			ID:         doc.ID,
			Version:    doc.Version,
			Name:       doc.Name,
			Currency:   doc.Currency,
			Precision:  doc.Precision,
			Default:    doc.Default,
			FrameRates: make(map[string]pricing.Rate, len(doc.Frames)),
			Materials:  make(map[string]pricing.Rate, len(doc.Materials)),
		}
		if doc.MinimumOrder != "" {
			min, err := decimal.NewFromString(doc.MinimumOrder)
			if err != nil {
				return nil, fmt.Errorf("rate table %s: minimum_order: %w", doc.ID, err)
			}
			table.MinimumOrder = min
		}
		for key, r := range doc.Frames {
			rate, err := r.toRate(key)
			if err != nil {
				return nil, fmt.Errorf("rate table %s: frame %s: %w", doc.ID, key, err)
			}
			table.FrameRates[key] = rate
		}
		for key, r := range doc.Materials {
			rate, err := r.toRate(key)
			if err != nil {
				return nil, fmt.Errorf("rate table %s: material %s: %w", doc.ID, key, err)
			}
			table.Materials[key] = rate
		}
		if doc.Panel != nil {
			rate, err := doc.Panel.toRate("panel")
			if err != nil {
				return nil, fmt.Errorf("rate table %s: panel: %w", doc.ID, err)
			}
			table.PanelRate = &rate
		}
		tables = append(tables, table)
	}
	return tables, nil
}

func (r rateDoc) toRate(fallbackLabel string) (pricing.Rate, error) {
	basis, err := pricing.ParseBasis(r.Basis)
	if err != nil {
		return pricing.Rate{}, err
	}
	amount, err := decimal.NewFromString(r.UnitRate)
	if err != nil {
		return pricing.Rate{}, fmt.Errorf("unit_rate %q: %w", r.UnitRate, err)
	}
	label := r.Label
	if label == "" {
		label = fallbackLabel
	}
	return pricing.Rate{Label: label, Basis: basis, UnitRate: amount}, nil
}
