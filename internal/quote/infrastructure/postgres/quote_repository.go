package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"serramenti/internal/observability/metrics"
	quote "serramenti/internal/quote/domain"
)

const (
	uniqueViolation = "23505"

	quotesPrimaryKey     = "quotes_pkey"
	quotesOwnerNumberKey = "quotes_owner_number_key"
)

// QuoteRepository persists quotes in postgres.
type QuoteRepository struct {
	db *sql.DB
}

// NewQuoteRepository constructs a repository.
func NewQuoteRepository(db *sql.DB) *QuoteRepository {
	return &QuoteRepository{db: db}
}

// CreateNext bumps the owner counter and inserts the quote in one transaction.
// The counter row lock serializes concurrent saves of the same owner.
func (r *QuoteRepository) CreateNext(ctx context.Context, q *quote.Quote) (_ int64, err error) {
	start := time.Now()
	defer func() { observe("postgres.create_next", start, err) }()
	if r == nil || r.db == nil {
		return 0, errors.New("quote repo: nil db")
	}
	if q == nil {
		return 0, quote.ErrNilQuote
	}
	calc, err := quote.EncodeCalculation(q.Calculation)
	if err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	var number int64
	err = tx.QueryRowContext(ctx, `
INSERT INTO quote_counters (owner_id, last_number)
VALUES ($1, 1)
ON CONFLICT (owner_id) DO UPDATE SET last_number = quote_counters.last_number + 1
RETURNING last_number`, q.OwnerID).Scan(&number)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO quotes (
	id, owner_id, number, status, frame_id, rate_table_id, rate_table_version,
	total, currency, calculation, client_ref, note, snapshot_hash, revision, created_at, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,1,$14,$15
)`,
		q.ID, q.OwnerID, number, q.Status, q.Calculation.FrameID, q.Calculation.RateTableID, q.Calculation.RateTableVersion,
		q.Calculation.Total, q.Calculation.Currency, string(calc), nullString(q.ClientRef), nullString(q.Note),
		nullString(q.SnapshotHash), q.CreatedAt, q.UpdatedAt,
	)
	if err != nil {
		_ = tx.Rollback()
		return 0, mapInsertError(err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	q.Number = number
	q.Revision = 1
	return number, nil
}

// ReplaceDraft overwrites a draft; finalized rows are left untouched.
func (r *QuoteRepository) ReplaceDraft(ctx context.Context, q *quote.Quote) (err error) {
	start := time.Now()
	defer func() { observe("postgres.replace_draft", start, err) }()
	if r == nil || r.db == nil {
		return errors.New("quote repo: nil db")
	}
	if q == nil {
		return quote.ErrNilQuote
	}
	calc, err := quote.EncodeCalculation(q.Calculation)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE quotes
SET frame_id = $1, rate_table_id = $2, rate_table_version = $3, total = $4, currency = $5,
	calculation = $6, client_ref = $7, note = $8, updated_at = $9, revision = revision + 1
WHERE id = $10 AND owner_id = $11 AND status = 'draft'`,
		q.Calculation.FrameID, q.Calculation.RateTableID, q.Calculation.RateTableVersion, q.Calculation.Total,
		q.Calculation.Currency, string(calc), nullString(q.ClientRef), nullString(q.Note), q.UpdatedAt,
		q.ID, q.OwnerID,
	)
	if err != nil {
		return err
	}
	return r.explainNoRows(ctx, res, q.OwnerID, q.ID)
}

// GetByID fetches a quote of an owner.
func (r *QuoteRepository) GetByID(ctx context.Context, ownerID, id string) (_ *quote.Quote, err error) {
	start := time.Now()
	defer func() { observe("postgres.get", start, err) }()
	if r == nil || r.db == nil {
		return nil, errors.New("quote repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, owner_id, number, status, calculation, client_ref, note, snapshot_hash, revision,
	created_at, updated_at, finalized_at
FROM quotes
WHERE id = $1 AND owner_id = $2
LIMIT 1`, id, ownerID)
	q, err := scanQuote(row)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, quote.ErrQuoteNotFound
	}
	return q, nil
}

// List returns the owner's quotes, highest number first.
func (r *QuoteRepository) List(ctx context.Context, ownerID string, limit int) (_ []quote.Quote, err error) {
	start := time.Now()
	defer func() { observe("postgres.list", start, err) }()
	if r == nil || r.db == nil {
		return nil, errors.New("quote repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, owner_id, number, status, calculation, client_ref, note, snapshot_hash, revision,
	created_at, updated_at, finalized_at
FROM quotes
WHERE owner_id = $1
ORDER BY number DESC
LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []quote.Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		if q != nil {
			result = append(result, *q)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkFinalized marks a draft as finalized if it is still at revision.
func (r *QuoteRepository) MarkFinalized(ctx context.Context, ownerID, id string, revision int64, hash string, at time.Time) (err error) {
	start := time.Now()
	defer func() { observe("postgres.mark_finalized", start, err) }()
	if r == nil || r.db == nil {
		return errors.New("quote repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE quotes
SET status = 'finalized', snapshot_hash = $1, finalized_at = $2, updated_at = $2
WHERE id = $3 AND owner_id = $4 AND status = 'draft' AND revision = $5`, hash, at, id, ownerID, revision)
	if err != nil {
		return err
	}
	return r.explainNoRows(ctx, res, ownerID, id)
}

func (r *QuoteRepository) explainNoRows(ctx context.Context, res sql.Result, ownerID, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var status string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM quotes WHERE id = $1 AND owner_id = $2`, id, ownerID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return quote.ErrQuoteNotFound
	}
	if err != nil {
		return err
	}
	if quote.Status(status) == quote.StatusDraft {
		return quote.ErrDraftChanged
	}
	return quote.ErrNotDraft
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuote(row rowScanner) (*quote.Quote, error) {
	var (
		q           quote.Quote
		calc        []byte
		clientRef   sql.NullString
		note        sql.NullString
		snapshot    sql.NullString
		finalizedAt sql.NullTime
	)
	err := row.Scan(
		&q.ID,
		&q.OwnerID,
		&q.Number,
		&q.Status,
		&calc,
		&clientRef,
		&note,
		&snapshot,
		&q.Revision,
		&q.CreatedAt,
		&q.UpdatedAt,
		&finalizedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	q.Calculation, err = quote.DecodeCalculation(calc)
	if err != nil {
		return nil, err
	}
	q.ClientRef = clientRef.String
	q.Note = note.String
	q.SnapshotHash = snapshot.String
	if finalizedAt.Valid {
		q.FinalizedAt = finalizedAt.Time.UTC()
	}
	q.CreatedAt = q.CreatedAt.UTC()
	q.UpdatedAt = q.UpdatedAt.UTC()
	return &q, nil
}

func mapInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case quotesPrimaryKey:
			return quote.ErrDuplicateID
		case quotesOwnerNumberKey:
			return quote.ErrNumberConflict
		}
	}
	return err
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func observe(op string, start time.Time, err error) {
	result := metrics.ResultSuccess
	switch {
	case err == nil:
	case quote.IsRejection(err):
		result = metrics.ResultRejected
	default:
		result = metrics.ResultError
	}
	metrics.ObserveStorageQuery(op, result, time.Since(start))
}
