package session

import (
	"context"
	"errors"

	pricing "serramenti/internal/pricing/domain"
	quoteapp "serramenti/internal/quote/application"
)

// Calculator prices a request.
type Calculator interface {
	Calculate(req pricing.CalculationRequest) pricing.CalculationResult
}

// QuoteStore stores calculations as quotes.
type QuoteStore interface {
	Save(ctx context.Context, calc pricing.CalculationResult, req quoteapp.SaveRequest) (quoteapp.Receipt, error)
}

// QuoteSaver prices a snapshot and stores it as the session's draft quote.
// The first save creates the draft, later saves replace it.
type QuoteSaver struct {
	calc    Calculator
	quotes  QuoteStore
	ownerID string
}

// NewQuoteSaver constructs a saver acting on behalf of ownerID.
func NewQuoteSaver(calc Calculator, quotes QuoteStore, ownerID string) (*QuoteSaver, error) {
	if calc == nil {
		return nil, errors.New("quote saver: nil calculator")
	}
	if quotes == nil {
		return nil, errors.New("quote saver: nil quote store")
	}
	return &QuoteSaver{calc: calc, quotes: quotes, ownerID: ownerID}, nil
}

// SaveDraft implements Saver.
func (q *QuoteSaver) SaveDraft(ctx context.Context, snap Snapshot) (string, error) {
	result := q.calc.Calculate(snap.Request)
	if !result.Success {
		return "", result.Err()
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	receipt, err := q.quotes.Save(ctx, result, quoteapp.SaveRequest{
		OwnerID: q.ownerID,
		DraftID: snap.DraftID,
	})
	if err != nil {
		return "", err
	}
	return receipt.QuoteID, nil
}
