// Package sqlstore keeps the event outbox, consumer idempotency marks and
// dead letters in postgres or sqlite.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"time"

	"serramenti/internal/eventing"
)

// Dialects.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// sqlite stores times as fixed width text so they sort chronologically.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

var placeholderRE = regexp.MustCompile(`\$\d+`)

// Store implements the outbox, processed and dead letter stores.
type Store struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

// New constructs a store for the dialect.
func New(db *sql.DB, dialect string) *Store {
	if dialect != DialectSQLite {
		dialect = DialectPostgres
	}
	return &Store{db: db, dialect: dialect, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) query(q string) string {
	if s.dialect == DialectSQLite {
		return placeholderRE.ReplaceAllString(q, "?")
	}
	return q
}

func (s *Store) timeArg(t time.Time) any {
	if s.dialect == DialectSQLite {
		return t.UTC().Format(sqliteTime)
	}
	return t.UTC()
}

func (s *Store) check() error {
	if s == nil || s.db == nil {
		return errors.New("event store: nil db")
	}
	return nil
}

// Insert writes an envelope to the outbox. Inserting the same event id twice
// keeps the first record.
func (s *Store) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	outboxID := eventing.NewEventID()
	_, err = s.db.ExecContext(ctx, s.query(`
INSERT INTO event_outbox (id, event_id, event_type, payload, status, attempts, created_at)
VALUES ($1, $2, $3, $4, 'pending', 0, $5)
ON CONFLICT (event_id) DO NOTHING`),
		outboxID, env.EventID, env.EventType, string(payload), s.timeArg(s.now()))
	if err != nil {
		return "", err
	}
	return outboxID, nil
}

// ListPending returns pending and failed records with attempts left, oldest
// first.
func (s *Store) ListPending(ctx context.Context, limit, maxAttempts int) ([]eventing.OutboxRecord, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.query(`
SELECT id, attempts, payload
FROM event_outbox
WHERE status IN ('pending', 'failed') AND attempts < $1
ORDER BY created_at ASC
LIMIT $2`), maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []eventing.OutboxRecord
	for rows.Next() {
		var (
			record  eventing.OutboxRecord
			payload string
		)
		if err := rows.Scan(&record.ID, &record.Attempts, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &record.Envelope); err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	return result, rows.Err()
}

// MarkSent marks an outbox record as delivered.
func (s *Store) MarkSent(ctx context.Context, id string) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.query(`
UPDATE event_outbox SET status = 'sent', sent_at = $1 WHERE id = $2`), s.timeArg(s.now()), id)
	return err
}

// MarkFailed records a failed attempt.
func (s *Store) MarkFailed(ctx context.Context, id string, cause error) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.query(`
UPDATE event_outbox SET status = 'failed', attempts = attempts + 1, last_error = $1 WHERE id = $2`),
		errText(cause), id)
	return err
}

// MarkDead stops retrying a record.
func (s *Store) MarkDead(ctx context.Context, id string) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.query(`
UPDATE event_outbox SET status = 'dead', attempts = attempts + 1 WHERE id = $1`), id)
	return err
}

// RecordFailure stores a dead letter.
func (s *Store) RecordFailure(ctx context.Context, env eventing.Envelope, cause error) error {
	if err := s.check(); err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.query(`
INSERT INTO dead_letter_events (id, event_id, event_type, payload, error, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`),
		eventing.NewEventID(), env.EventID, env.EventType, string(payload), errText(cause), s.timeArg(s.now()))
	return err
}

// HasProcessed reports whether the consumer already handled the event.
func (s *Store) HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRowContext(ctx, s.query(`
SELECT 1 FROM processed_events WHERE event_id = $1 AND consumer = $2`), eventID, consumerName).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// MarkProcessed records that the consumer handled the event.
func (s *Store) MarkProcessed(ctx context.Context, eventID, consumerName string) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.query(`
INSERT INTO processed_events (event_id, consumer, processed_at)
VALUES ($1, $2, $3)
ON CONFLICT (event_id, consumer) DO NOTHING`), eventID, consumerName, s.timeArg(s.now()))
	return err
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
