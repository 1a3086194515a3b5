package quote

import "errors"

var (
	// ErrQuoteNotFound is returned when a quote does not exist for the owner.
	ErrQuoteNotFound = errors.New("quote: not found")
	// ErrNilQuote is returned when persisting a nil quote.
	ErrNilQuote = errors.New("quote: nil quote")
	// ErrDuplicateID is returned when an insert would overwrite an existing quote.
	ErrDuplicateID = errors.New("quote: id already exists")
	// ErrNotDraft is returned when a finalized quote is modified.
	ErrNotDraft = errors.New("quote: not a draft")
	// ErrDraftChanged is returned when a draft was replaced while being finalized.
	ErrDraftChanged = errors.New("quote: draft changed concurrently")
	// ErrNumberConflict is returned when a concurrent save took the same number.
	ErrNumberConflict = errors.New("quote: number already allocated")
	// ErrSnapshotMismatch is returned when a finalized quote no longer matches its hash.
	ErrSnapshotMismatch = errors.New("quote: snapshot hash mismatch")
)

// IsRejection reports whether err is a refusal by the store for a domain
// reason rather than a storage fault.
func IsRejection(err error) bool {
	for _, target := range []error{ErrQuoteNotFound, ErrNotDraft, ErrDraftChanged, ErrDuplicateID, ErrNumberConflict} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
