package application

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"serramenti/internal/observability/metrics"
	pricing "serramenti/internal/pricing/domain"
)

// RateTableLoader reads rate tables from their backing store.
type RateTableLoader interface {
	Load(ctx context.Context) ([]pricing.RateTable, error)
}

// SnapshotStore holds the snapshot served to calculators.
type SnapshotStore interface {
	Replace(set *pricing.RateTableSet)
}

// RateTableService refreshes the rate table snapshot.
type RateTableService struct {
	loader RateTableLoader
	store  SnapshotStore
	logger zerolog.Logger
}

// NewRateTableService constructs the service.
func NewRateTableService(loader RateTableLoader, store SnapshotStore, logger zerolog.Logger) (*RateTableService, error) {
	if loader == nil {
		return nil, errors.New("rate table service: nil loader")
	}
	if store == nil {
		return nil, errors.New("rate table service: nil store")
	}
	return &RateTableService{loader: loader, store: store, logger: logger}, nil
}

// Reload loads all tables and swaps the snapshot. A failed load keeps the
// snapshot currently served.
func (s *RateTableService) Reload(ctx context.Context) (*pricing.RateTableSet, error) {
	tables, err := s.loader.Load(ctx)
	if err != nil {
		metrics.ObserveRateTableReload(metrics.ResultError, nil)
		return nil, err
	}
	set, err := pricing.NewRateTableSet(tables...)
	if err != nil {
		metrics.ObserveRateTableReload(metrics.ResultError, nil)
		return nil, err
	}
	s.store.Replace(set)

	versions := make(map[string]int, len(tables))
	for _, t := range tables {
		versions[t.ID] = t.Version
	}
	metrics.ObserveRateTableReload(metrics.ResultSuccess, versions)
	s.logger.Info().Strs("tables", set.IDs()).Msg("rate tables loaded")
	return set, nil
}
