package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"serramenti/internal/observability/metrics"
	quote "serramenti/internal/quote/domain"
)

const timeLayout = time.RFC3339Nano

// QuoteRepository persists quotes in SQLite.
type QuoteRepository struct {
	db *sql.DB
}

// NewQuoteRepository constructs a repository.
func NewQuoteRepository(db *sql.DB) *QuoteRepository {
	return &QuoteRepository{db: db}
}

// CreateNext bumps the owner counter and inserts the quote in one transaction.
func (r *QuoteRepository) CreateNext(ctx context.Context, q *quote.Quote) (_ int64, err error) {
	start := time.Now()
	defer func() { observe("sqlite.create_next", start, err) }()
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
VALUES (?, 1)
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
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,1,?,?)`,
		q.ID, q.OwnerID, number, string(q.Status), q.Calculation.FrameID, q.Calculation.RateTableID,
		q.Calculation.RateTableVersion, q.Calculation.Total.String(), q.Calculation.Currency, string(calc),
		nullString(q.ClientRef), nullString(q.Note), nullString(q.SnapshotHash),
		formatTime(q.CreatedAt), formatTime(q.UpdatedAt),
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
	defer func() { observe("sqlite.replace_draft", start, err) }()
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
SET frame_id = ?, rate_table_id = ?, rate_table_version = ?, total = ?, currency = ?,
	calculation = ?, client_ref = ?, note = ?, updated_at = ?, revision = revision + 1
WHERE id = ? AND owner_id = ? AND status = 'draft'`,
		q.Calculation.FrameID, q.Calculation.RateTableID, q.Calculation.RateTableVersion,
		q.Calculation.Total.String(), q.Calculation.Currency, string(calc),
		nullString(q.ClientRef), nullString(q.Note), formatTime(q.UpdatedAt),
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
	defer func() { observe("sqlite.get", start, err) }()
	if r == nil || r.db == nil {
		return nil, errors.New("quote repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, owner_id, number, status, calculation, client_ref, note, snapshot_hash, revision,
	created_at, updated_at, finalized_at
FROM quotes
WHERE id = ? AND owner_id = ?
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
	defer func() { observe("sqlite.list", start, err) }()
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
WHERE owner_id = ?
ORDER BY number DESC
LIMIT ?`, ownerID, limit)
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
	return result, rows.Err()
}

// MarkFinalized marks a draft as finalized if it is still at revision.
func (r *QuoteRepository) MarkFinalized(ctx context.Context, ownerID, id string, revision int64, hash string, at time.Time) (err error) {
	start := time.Now()
	defer func() { observe("sqlite.mark_finalized", start, err) }()
	if r == nil || r.db == nil {
		return errors.New("quote repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE quotes
SET status = 'finalized', snapshot_hash = ?, finalized_at = ?, updated_at = ?
WHERE id = ? AND owner_id = ? AND status = 'draft' AND revision = ?`,
		hash, formatTime(at), formatTime(at), id, ownerID, revision)
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
	err = r.db.QueryRowContext(ctx, `SELECT status FROM quotes WHERE id = ? AND owner_id = ?`, id, ownerID).Scan(&status)
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
		q                    quote.Quote
		status, calc         string
		clientRef, note      sql.NullString
		snapshot, finalized  sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&q.ID, &q.OwnerID, &q.Number, &status, &calc, &clientRef, &note, &snapshot, &q.Revision,
		&createdAt, &updatedAt, &finalized)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	q.Status = quote.Status(status)
	if q.Calculation, err = quote.DecodeCalculation([]byte(calc)); err != nil {
		return nil, err
	}
	q.ClientRef = clientRef.String
	q.Note = note.String
	q.SnapshotHash = snapshot.String
	if q.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if q.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if finalized.Valid {
		if q.FinalizedAt, err = parseTime(finalized.String); err != nil {
			return nil, err
		}
	}
	return &q, nil
}

func mapInsertError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed: quotes.id"):
		return quote.ErrDuplicateID
	case strings.Contains(msg, "UNIQUE constraint failed: quotes.owner_id, quotes.number"):
		return quote.ErrNumberConflict
	}
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
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
