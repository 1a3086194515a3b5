package quote

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaveMode tells whether a save created a quote or replaced a draft.
type SaveMode string

const (
	SaveCreated  SaveMode = "create"
	SaveReplaced SaveMode = "draft"
)

// QuoteSaved is published after a quote is stored.
type QuoteSaved struct {
	QuoteID    string
	OwnerID    string
	Number     int64
	Mode       SaveMode
	FrameID    string
	Total      decimal.Decimal
	Currency   string
	OccurredAt time.Time
}

// QuoteFinalized is published after a quote becomes immutable.
type QuoteFinalized struct {
	QuoteID      string
	OwnerID      string
	Number       int64
	SnapshotHash string
	Total        decimal.Decimal
	Currency     string
	OccurredAt   time.Time
}
