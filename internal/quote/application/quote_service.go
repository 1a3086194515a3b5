package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"serramenti/internal/observability/metrics"
	pricing "serramenti/internal/pricing/domain"
	quote "serramenti/internal/quote/domain"
)

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

const finalizeAttempts = 3

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Publisher publishes domain events.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// SaveRequest carries the owner and optional metadata of a save. DraftID,
// when set, replaces that draft instead of creating a new quote.
type SaveRequest struct {
	OwnerID   string
	ClientRef string
	Note      string
	DraftID   string
}

// Receipt identifies the stored quote.
type Receipt struct {
	QuoteID       string         `json:"quoteId"`
	QuoteNumber   int64          `json:"quoteNumber"`
	DisplayNumber string         `json:"displayNumber"`
	Mode          quote.SaveMode `json:"mode"`
}

// QuoteService turns successful calculations into numbered quotes.
type QuoteService struct {
	repo      quote.Repository
	clock     Clock
	newID     func() string
	publisher Publisher
	logger    zerolog.Logger
}

// Option configures the service.
type Option func(*QuoteService)

// WithClock overrides the clock.
func WithClock(clock Clock) Option {
	return func(s *QuoteService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithIDGenerator overrides quote id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *QuoteService) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithPublisher sets the event publisher.
func WithPublisher(p Publisher) Option {
	return func(s *QuoteService) {
		s.publisher = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *QuoteService) {
		s.logger = logger
	}
}

// NewQuoteService constructs a service.
func NewQuoteService(repo quote.Repository, opts ...Option) (*QuoteService, error) {
	if repo == nil {
		return nil, errors.New("quote service: nil repo")
	}
	s := &QuoteService{
		repo:   repo,
		clock:  systemClock{},
		newID:  uuid.NewString,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Save stores a successful calculation. Every call without DraftID creates a
// new quote with the next number of the owner; identical payloads are not
// deduplicated.
func (s *QuoteService) Save(ctx context.Context, calc pricing.CalculationResult, req SaveRequest) (Receipt, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	mode := quote.SaveCreated
	if req.DraftID != "" {
		mode = quote.SaveReplaced
	}
	defer func() {
		metrics.ObserveQuoteSave(string(mode), result, time.Since(start))
	}()

	if !calc.Success {
		result = metrics.ResultError
		return Receipt{}, pricing.NewError(pricing.KindInvalidState, "", "cannot save a failed calculation")
	}
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		result = metrics.ResultError
		return Receipt{}, pricing.NewError(pricing.KindMissingParameter, "ownerId", "owner id is required")
	}

	var (
		q   *quote.Quote
		err error
	)
	if mode == quote.SaveReplaced {
		q, err = s.replaceDraft(ctx, ownerID, calc, req)
	} else {
		q, err = s.create(ctx, ownerID, calc, req)
	}
	if err != nil {
		result = metrics.ResultError
		return Receipt{}, err
	}

	s.publish(ctx, quote.QuoteSaved{
		QuoteID:    q.ID,
		OwnerID:    q.OwnerID,
		Number:     q.Number,
		Mode:       mode,
		FrameID:    q.Calculation.FrameID,
		Total:      q.Calculation.Total,
		Currency:   q.Calculation.Currency,
		OccurredAt: q.UpdatedAt,
	})
	return Receipt{QuoteID: q.ID, QuoteNumber: q.Number, DisplayNumber: q.DisplayNumber(), Mode: mode}, nil
}

func (s *QuoteService) create(ctx context.Context, ownerID string, calc pricing.CalculationResult, req SaveRequest) (*quote.Quote, error) {
	now := s.clock.Now()
	q := (&quote.Quote{
		ID:          s.newID(),
		OwnerID:     ownerID,
		Status:      quote.StatusDraft,
		Calculation: calc,
		ClientRef:   req.ClientRef,
		Note:        req.Note,
		CreatedAt:   now,
		UpdatedAt:   now,
	}).Clone()
	if _, err := s.repo.CreateNext(ctx, q); err != nil {
		return nil, pricing.PersistenceError("create quote", err)
	}
	return q, nil
}

func (s *QuoteService) replaceDraft(ctx context.Context, ownerID string, calc pricing.CalculationResult, req SaveRequest) (*quote.Quote, error) {
	existing, err := s.repo.GetByID(ctx, ownerID, req.DraftID)
	if err != nil {
		return nil, s.classify("load draft", req.DraftID, err)
	}
	if !existing.IsDraft() {
		return nil, finalizedError(req.DraftID)
	}
	existing.Calculation = calc
	existing.ClientRef = req.ClientRef
	existing.Note = req.Note
	existing.UpdatedAt = s.clock.Now()
	if err := s.repo.ReplaceDraft(ctx, existing.Clone()); err != nil {
		return nil, s.classify("replace draft", req.DraftID, err)
	}
	existing.Revision++
	return existing, nil
}

// Finalize makes a draft immutable and stores its snapshot hash. Finalizing
// an already finalized quote returns it unchanged. The hash is frozen only
// for the revision it was computed from; a draft replaced meanwhile is
// reloaded and hashed again, up to finalizeAttempts times, before the call
// fails with ErrDraftChanged.
func (s *QuoteService) Finalize(ctx context.Context, ownerID, id string) (*quote.Quote, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveQuoteFinalize(result, time.Since(start))
	}()

	for attempt := 1; ; attempt++ {
		q, err := s.repo.GetByID(ctx, ownerID, id)
		if err != nil {
			result = metrics.ResultError
			return nil, s.classify("load quote", id, err)
		}
		if q.Status == quote.StatusFinalized {
			return q, nil
		}
		hash, err := quote.ComputeSnapshotHash(q)
		if err != nil {
			result = metrics.ResultError
			return nil, err
		}
		now := s.clock.Now()
		err = s.repo.MarkFinalized(ctx, ownerID, id, q.Revision, hash, now)
		switch {
		case err == nil:
		case errors.Is(err, quote.ErrDraftChanged) && attempt < finalizeAttempts:
			s.logger.Debug().Str("quote_id", id).Int("attempt", attempt).Msg("draft changed while finalizing, retrying")
			continue
		case errors.Is(err, quote.ErrNotDraft):
			final, err := s.repo.GetByID(ctx, ownerID, id)
			if err != nil {
				result = metrics.ResultError
				return nil, s.classify("load quote", id, err)
			}
			return final, nil
		default:
			result = metrics.ResultError
			return nil, s.classify("finalize quote", id, err)
		}

		q.Status = quote.StatusFinalized
		q.SnapshotHash = hash
		q.FinalizedAt = now
		q.UpdatedAt = now

		s.publish(ctx, quote.QuoteFinalized{
			QuoteID:      q.ID,
			OwnerID:      q.OwnerID,
			Number:       q.Number,
			SnapshotHash: hash,
			Total:        q.Calculation.Total,
			Currency:     q.Calculation.Currency,
			OccurredAt:   now,
		})
		return q, nil
	}
}

// Get returns a quote of the owner. Finalized quotes are checked against
// their snapshot hash.
func (s *QuoteService) Get(ctx context.Context, ownerID, id string) (*quote.Quote, error) {
	q, err := s.repo.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, s.classify("load quote", id, err)
	}
	if err := quote.VerifySnapshot(q); err != nil {
		s.logger.Error().Err(err).Str("quote_id", id).Msg("stored quote does not match snapshot")
		return nil, err
	}
	return q, nil
}

// List returns the owner's quotes, newest number first.
func (s *QuoteService) List(ctx context.Context, ownerID string, limit int) ([]quote.Quote, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, pricing.NewError(pricing.KindMissingParameter, "ownerId", "owner id is required")
	}
	quotes, err := s.repo.List(ctx, ownerID, limit)
	if err != nil {
		return nil, pricing.PersistenceError("list quotes", err)
	}
	return quotes, nil
}

func (s *QuoteService) classify(op, id string, err error) error {
	switch {
	case errors.Is(err, quote.ErrQuoteNotFound):
		return fmt.Errorf("%w: %s", quote.ErrQuoteNotFound, id)
	case errors.Is(err, quote.ErrNotDraft):
		return finalizedError(id)
	case errors.Is(err, quote.ErrDraftChanged):
		return fmt.Errorf("%w: %s", quote.ErrDraftChanged, id)
	default:
		return pricing.PersistenceError(op, err)
	}
}

func (s *QuoteService) publish(ctx context.Context, event any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Msg("quote event delivery failed")
	}
}

func finalizedError(id string) error {
	return pricing.NewError(pricing.KindInvalidState, id, "quote is finalized; corrections must be saved as a new quote")
}
