package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"serramenti/internal/observability/metrics"
	"serramenti/migrations"
	pricing "serramenti/internal/pricing/domain"
	quote "serramenti/internal/quote/domain"
)

func openTestDB(t *testing.T) *QuoteRepository {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "quotes.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Up(db, migrations.DialectSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewQuoteRepository(db)
}

func sampleQuote(id, owner string) *quote.Quote {
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	return &quote.Quote{
		ID:      id,
		OwnerID: owner,
		Status:  quote.StatusDraft,
		Calculation: pricing.CalculationResult{
			Success:     true,
			FrameID:     "basic-window",
			Width:       1000,
			Height:      1400,
			RateTableID: "listino-2026",
			Currency:    "EUR",
			Total:       decimal.RequireFromString("487.65"),
			LineItems: []pricing.LineItem{{
				Kind:      pricing.LineFrame,
				Code:      "window|hinged",
				Basis:     pricing.BasisPerArea,
				UnitRate:  decimal.RequireFromString("180.5"),
				Quantity:  decimal.RequireFromString("1.4"),
				LineTotal: decimal.RequireFromString("252.7"),
			}},
		},
		ClientRef: "rossi",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateNextNumbersPerOwner(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		n, err := repo.CreateNext(ctx, sampleQuote(id, "owner-1"))
		if err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
		if n != int64(i+1) {
			t.Fatalf("expected number %d, got %d", i+1, n)
		}
	}
	n, err := repo.CreateNext(ctx, sampleQuote("d", "owner-2"))
	if err != nil || n != 1 {
		t.Fatalf("second owner should start at 1: %d %v", n, err)
	}

	list, err := repo.List(ctx, "owner-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].Number != 3 {
		t.Fatalf("unexpected list order %+v", list)
	}
}

func TestCreateNextRefusesOverwriteWithoutGap(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()
	if _, err := repo.CreateNext(ctx, sampleQuote("same", "owner-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.CreateNext(ctx, sampleQuote("same", "owner-1")); !errors.Is(err, quote.ErrDuplicateID) {
		t.Fatalf("expected duplicate id, got %v", err)
	}
	n, err := repo.CreateNext(ctx, sampleQuote("next", "owner-1"))
	if err != nil {
		t.Fatalf("create next: %v", err)
	}
	if n != 2 {
		t.Fatalf("failed insert left a gap: got number %d", n)
	}
}

func TestRoundTripAndFinalize(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()
	q := sampleQuote("rt", "owner-1")
	if _, err := repo.CreateNext(ctx, q); err != nil {
		t.Fatalf("create: %v", err)
	}
	hash, err := quote.ComputeSnapshotHash(q)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	loaded, err := repo.GetByID(ctx, "owner-1", "rt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !loaded.Calculation.Total.Equal(q.Calculation.Total) || loaded.ClientRef != "rossi" || !loaded.CreatedAt.Equal(q.CreatedAt) {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}

	at := q.CreatedAt.Add(time.Hour)
	if err := repo.MarkFinalized(ctx, "owner-1", "rt", loaded.Revision, hash, at); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	final, _ := repo.GetByID(ctx, "owner-1", "rt")
	if err := quote.VerifySnapshot(final); err != nil {
		t.Fatalf("snapshot should verify after storage round trip: %v", err)
	}
	if err := repo.ReplaceDraft(ctx, q); !errors.Is(err, quote.ErrNotDraft) {
		t.Fatalf("expected not draft, got %v", err)
	}
	if _, err := repo.GetByID(ctx, "owner-2", "rt"); !errors.Is(err, quote.ErrQuoteNotFound) {
		t.Fatalf("other owner must not see the quote: %v", err)
	}
}

func TestFinalizeRejectsReplacedRevision(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()
	q := sampleQuote("rev", "owner-1")
	if _, err := repo.CreateNext(ctx, q); err != nil {
		t.Fatalf("create: %v", err)
	}
	if q.Revision != 1 {
		t.Fatalf("expected revision 1 after create, got %d", q.Revision)
	}
	q.Note = "changed"
	if err := repo.ReplaceDraft(ctx, q); err != nil {
		t.Fatalf("replace: %v", err)
	}
	loaded, err := repo.GetByID(ctx, "owner-1", "rev")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Revision != 2 {
		t.Fatalf("expected revision 2 after replace, got %d", loaded.Revision)
	}

	at := q.CreatedAt.Add(time.Minute)
	if err := repo.MarkFinalized(ctx, "owner-1", "rev", 1, "stale", at); !errors.Is(err, quote.ErrDraftChanged) {
		t.Fatalf("expected draft changed, got %v", err)
	}
	still, _ := repo.GetByID(ctx, "owner-1", "rev")
	if !still.IsDraft() || still.SnapshotHash != "" {
		t.Fatalf("stale finalize must leave the draft untouched: %+v", still)
	}
	if err := repo.MarkFinalized(ctx, "owner-1", "rev", 2, "fresh", at); err != nil {
		t.Fatalf("finalize current revision: %v", err)
	}
}

func TestRepositoryCallsAreTimed(t *testing.T) {
	metrics.Init(nil, zerolog.Nop())
	repo := openTestDB(t)
	ctx := context.Background()

	created := metrics.StorageQueryCount("sqlite.create_next", metrics.ResultSuccess)
	missing := metrics.StorageQueryCount("sqlite.get", metrics.ResultRejected)

	if _, err := repo.CreateNext(ctx, sampleQuote("timed", "owner-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.GetByID(ctx, "owner-1", "absent"); !errors.Is(err, quote.ErrQuoteNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if got := metrics.StorageQueryCount("sqlite.create_next", metrics.ResultSuccess); got != created+1 {
		t.Fatalf("create_next samples: want %d, got %d", created+1, got)
	}
	if got := metrics.StorageQueryCount("sqlite.get", metrics.ResultRejected); got != missing+1 {
		t.Fatalf("rejected get samples: want %d, got %d", missing+1, got)
	}
}
