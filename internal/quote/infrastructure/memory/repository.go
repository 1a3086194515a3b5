package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	quote "serramenti/internal/quote/domain"
)

// QuoteRepository is an in-memory quote store.
type QuoteRepository struct {
	mu       sync.RWMutex
	data     map[string]*quote.Quote
	counters map[string]int64
}

// NewQuoteRepository constructs a repository.
func NewQuoteRepository() *QuoteRepository {
	return &QuoteRepository{
		data:     make(map[string]*quote.Quote),
		counters: make(map[string]int64),
	}
}

// CreateNext assigns the next owner number and stores the quote.
func (r *QuoteRepository) CreateNext(ctx context.Context, q *quote.Quote) (int64, error) {
	_ = ctx
	if q == nil {
		return 0, quote.ErrNilQuote
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.data[q.ID]; exists {
		return 0, quote.ErrDuplicateID
	}
	number := r.counters[q.OwnerID] + 1
	r.counters[q.OwnerID] = number
	q.Number = number
	q.Revision = 1
	r.data[q.ID] = q.Clone()
	return number, nil
}

// ReplaceDraft overwrites the mutable fields of a draft.
func (r *QuoteRepository) ReplaceDraft(ctx context.Context, q *quote.Quote) error {
	_ = ctx
	if q == nil {
		return quote.ErrNilQuote
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.data[q.ID]
	if !ok || stored.OwnerID != q.OwnerID {
		return quote.ErrQuoteNotFound
	}
	if stored.Status != quote.StatusDraft {
		return quote.ErrNotDraft
	}
	next := stored.Clone()
	next.Calculation = q.Clone().Calculation
	next.ClientRef = q.ClientRef
	next.Note = q.Note
	next.UpdatedAt = q.UpdatedAt
	next.Revision = stored.Revision + 1
	r.data[q.ID] = next
	return nil
}

// GetByID loads a quote of an owner.
func (r *QuoteRepository) GetByID(ctx context.Context, ownerID, id string) (*quote.Quote, error) {
	_ = ctx
	r.mu.RLock()
	stored := r.data[id]
	r.mu.RUnlock()
	if stored == nil || stored.OwnerID != ownerID {
		return nil, quote.ErrQuoteNotFound
	}
	return stored.Clone(), nil
}

// List returns the owner's quotes, highest number first.
func (r *QuoteRepository) List(ctx context.Context, ownerID string, limit int) ([]quote.Quote, error) {
	_ = ctx
	r.mu.RLock()
	var out []quote.Quote
	for _, q := range r.data {
		if q.OwnerID == ownerID {
			out = append(out, *q.Clone())
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkFinalized freezes a draft that is still at revision.
func (r *QuoteRepository) MarkFinalized(ctx context.Context, ownerID, id string, revision int64, hash string, at time.Time) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.data[id]
	if !ok || stored.OwnerID != ownerID {
		return quote.ErrQuoteNotFound
	}
	if stored.Status != quote.StatusDraft {
		return quote.ErrNotDraft
	}
	if stored.Revision != revision {
		return quote.ErrDraftChanged
	}
	stored.Status = quote.StatusFinalized
	stored.SnapshotHash = hash
	stored.FinalizedAt = at
	stored.UpdatedAt = at
	return nil
}
