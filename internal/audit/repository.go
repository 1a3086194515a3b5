package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Placeholder styles of the supported SQL drivers.
const (
	PlaceholderDollar   = "dollar"
	PlaceholderQuestion = "question"
)

// Repository writes audit logs.
type Repository struct {
	db          *sql.DB
	placeholder string
}

// NewRepository constructs an audit repository.
func NewRepository(db *sql.DB, placeholder string) *Repository {
	if db == nil {
		return nil
	}
	if placeholder == "" {
		placeholder = PlaceholderDollar
	}
	return &Repository{db: db, placeholder: placeholder}
}

// Log writes an audit entry.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	entry = normalize(entry)

	query := `
INSERT INTO audit_logs (
	id, owner_id, actor, role, action, resource_type, resource_id,
	metadata, payload_digest, ip, user_agent, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)`
	var createdAt any = entry.CreatedAt
	if r.placeholder == PlaceholderQuestion {
		query = `
INSERT INTO audit_logs (
	id, owner_id, actor, role, action, resource_type, resource_id,
	metadata, payload_digest, ip, user_agent, created_at
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`
		createdAt = entry.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.OwnerID, entry.Actor, entry.Role, entry.Action, entry.ResourceType, entry.ResourceID,
		string(entry.Metadata), entry.PayloadDigest, entry.IP, entry.UserAgent, createdAt)
	return err
}
