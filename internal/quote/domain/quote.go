package quote

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	pricing "serramenti/internal/pricing/domain"
)

// Status is the lifecycle state of a quote.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusFinalized Status = "finalized"
)

// Quote is a numbered, persisted calculation.
type Quote struct {
	ID           string                    `json:"id"`
	OwnerID      string                    `json:"ownerId"`
	Number       int64                     `json:"number"`
	Status       Status                    `json:"status"`
	Calculation  pricing.CalculationResult `json:"calculation"`
	ClientRef    string                    `json:"clientRef,omitempty"`
	Note         string                    `json:"note,omitempty"`
	SnapshotHash string                    `json:"snapshotHash,omitempty"`
	Revision     int64                     `json:"revision"`
	CreatedAt    time.Time                 `json:"createdAt"`
	UpdatedAt    time.Time                 `json:"updatedAt"`
	FinalizedAt  time.Time                 `json:"finalizedAt,omitempty"`
}

// DisplayNumber is the human-facing number, e.g. "P-2026-000042".
func (q *Quote) DisplayNumber() string {
	if q == nil {
		return ""
	}
	return fmt.Sprintf("P-%d-%06d", q.CreatedAt.Year(), q.Number)
}

// IsDraft reports whether the quote can still be replaced.
func (q *Quote) IsDraft() bool {
	return q != nil && q.Status == StatusDraft
}

// Clone returns a deep copy.
func (q *Quote) Clone() *Quote {
	if q == nil {
		return nil
	}
	out := *q
	calc := q.Calculation
	if calc.LineItems != nil {
		calc.LineItems = append([]pricing.LineItem(nil), calc.LineItems...)
	}
	if calc.Warnings != nil {
		calc.Warnings = append([]pricing.Warning(nil), calc.Warnings...)
	}
	if calc.Error != nil {
		e := *calc.Error
		calc.Error = &e
	}
	out.Calculation = calc
	return &out
}

// EncodeCalculation serializes the calculation snapshot stored with a quote.
func EncodeCalculation(calc pricing.CalculationResult) ([]byte, error) {
	return json.Marshal(calc)
}

// DecodeCalculation restores a stored calculation snapshot.
func DecodeCalculation(data []byte) (pricing.CalculationResult, error) {
	var calc pricing.CalculationResult
	if err := json.Unmarshal(data, &calc); err != nil {
		return pricing.CalculationResult{}, err
	}
	return calc, nil
}

// ComputeSnapshotHash hashes the immutable content of a quote.
func ComputeSnapshotHash(q *Quote) (string, error) {
	if q == nil {
		return "", ErrNilQuote
	}
	payload := struct {
		ID          string                    `json:"id"`
		OwnerID     string                    `json:"ownerId"`
		Number      int64                     `json:"number"`
		ClientRef   string                    `json:"clientRef"`
		Note        string                    `json:"note"`
		Calculation pricing.CalculationResult `json:"calculation"`
	}{
		ID:          q.ID,
		OwnerID:     q.OwnerID,
		Number:      q.Number,
		ClientRef:   q.ClientRef,
		Note:        q.Note,
		Calculation: q.Calculation,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifySnapshot checks a finalized quote against its stored hash.
func VerifySnapshot(q *Quote) error {
	if q == nil {
		return ErrNilQuote
	}
	if q.Status != StatusFinalized {
		return nil
	}
	hash, err := ComputeSnapshotHash(q)
	if err != nil {
		return err
	}
	if hash != q.SnapshotHash {
		return ErrSnapshotMismatch
	}
	return nil
}
