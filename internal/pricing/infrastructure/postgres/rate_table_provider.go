package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	pricing "serramenti/internal/pricing/domain"
)

const (
	defaultRateTablesTable  = "rate_tables"
	defaultRateEntriesTable = "rate_table_entries"

	entryKindFrame    = "frame"
	entryKindPanel    = "panel"
	entryKindMaterial = "material"
)

// RateTableProvider loads active rate tables from postgres.
type RateTableProvider struct {
	db           *sql.DB
	tablesTable  string
	entriesTable string
}

// RateTableOption configures the provider.
type RateTableOption func(*RateTableProvider)

// WithRateTablesTable overrides the header table name.
func WithRateTablesTable(table string) RateTableOption {
	return func(p *RateTableProvider) {
		if table != "" {
			p.tablesTable = table
		}
	}
}

// WithRateEntriesTable overrides the entries table name.
func WithRateEntriesTable(table string) RateTableOption {
	return func(p *RateTableProvider) {
		if table != "" {
			p.entriesTable = table
		}
	}
}

// NewRateTableProvider constructs a provider.
func NewRateTableProvider(db *sql.DB, opts ...RateTableOption) *RateTableProvider {
	p := &RateTableProvider{
		db:           db,
		tablesTable:  defaultRateTablesTable,
		entriesTable: defaultRateEntriesTable,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Load reads every active table with its entries.
func (p *RateTableProvider) Load(ctx context.Context) ([]pricing.RateTable, error) {
	if p == nil || p.db == nil {
		return nil, errors.New("rate table provider: nil db")
	}
	tables, order, err := p.loadHeaders(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.loadEntries(ctx, tables); err != nil {
		return nil, err
	}
	out := make([]pricing.RateTable, 0, len(order))
	for _, id := range order {
		out = append(out, *tables[id])
	}
	return out, nil
}

func (p *RateTableProvider) loadHeaders(ctx context.Context) (map[string]*pricing.RateTable, []string, error) {
	query := fmt.Sprintf(`
SELECT id, version, name, currency, precision, minimum_order::text, is_default
FROM %s
WHERE active = TRUE
ORDER BY id`, p.tablesTable)

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	tables := make(map[string]*pricing.RateTable)
	var order []string
	for rows.Next() {
		var (
			t         pricing.RateTable
			minimum   decimal.Decimal
			precision int32
		)
		if err := rows.Scan(&t.ID, &t.Version, &t.Name, &t.Currency, &precision, &minimum, &t.Default); err != nil {
			return nil, nil, err
		}
		t.Precision = pricing.Places(precision)
		t.MinimumOrder = minimum
		t.FrameRates = make(map[string]pricing.Rate)
		t.Materials = make(map[string]pricing.Rate)
		tables[t.ID] = &t
		order = append(order, t.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return tables, order, nil
}

func (p *RateTableProvider) loadEntries(ctx context.Context, tables map[string]*pricing.RateTable) error {
	query := fmt.Sprintf(`
SELECT e.table_id, e.kind, e.key, e.label, e.basis, e.unit_rate::text
FROM %s e
JOIN %s t ON t.id = e.table_id
WHERE t.active = TRUE
ORDER BY e.table_id, e.kind, e.key`, p.entriesTable, p.tablesTable)

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tableID, kind, key, label, basisText string
			unitRate                             decimal.Decimal
		)
		if err := rows.Scan(&tableID, &kind, &key, &label, &basisText, &unitRate); err != nil {
			return err
		}
		table, ok := tables[tableID]
		if !ok {
			continue
		}
		basis, err := pricing.ParseBasis(basisText)
		if err != nil {
			return fmt.Errorf("rate table %s entry %s: %w", tableID, key, err)
		}
		rate := pricing.Rate{Label: label, Basis: basis, UnitRate: unitRate}
		switch kind {
		case entryKindFrame:
			table.FrameRates[key] = rate
		case entryKindMaterial:
			table.Materials[key] = rate
		case entryKindPanel:
			r := rate
			table.PanelRate = &r
		default:
			return fmt.Errorf("rate table %s entry %s: unknown kind %q", tableID, key, kind)
		}
	}
	return rows.Err()
}
