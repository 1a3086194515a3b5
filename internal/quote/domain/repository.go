package quote

import (
	"context"
	"time"
)

// Repository persists quotes.
//
// CreateNext allocates the next number of the owner and inserts the quote in
// one atomic step; a failure leaves neither the quote nor a number gap. It
// must refuse to overwrite an existing id with ErrDuplicateID.
//
// ReplaceDraft overwrites the calculation, client ref and note of a draft.
// Concurrent replaces of the same draft are not coordinated: the last write
// wins. Every replace bumps the stored Revision.
//
// MarkFinalized freezes the draft only while its stored Revision still equals
// revision; a draft replaced in between yields ErrDraftChanged.
type Repository interface {
	CreateNext(ctx context.Context, q *Quote) (int64, error)
	ReplaceDraft(ctx context.Context, q *Quote) error
	GetByID(ctx context.Context, ownerID, id string) (*Quote, error)
	List(ctx context.Context, ownerID string, limit int) ([]Quote, error)
	MarkFinalized(ctx context.Context, ownerID, id string, revision int64, hash string, at time.Time) error
}
